package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/wrench/pkg/audit"
	"github.com/platinummonkey/wrench/pkg/contextkeys"
	"github.com/platinummonkey/wrench/pkg/directory"
	"github.com/platinummonkey/wrench/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/wrench/pkg/rbac")

// Engine is the permission engine: catalog lookups, resolution, impact
// analysis and the audited write path for profiles and custom roles.
type Engine struct {
	catalog   *Catalog
	store     Store
	directory directory.Directory
	cache     *EffectiveCache
	metrics   *observability.Metrics
	logger    *observability.Logger
	now       func() time.Time
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithCache enables the effective permission set cache
func WithCache(c *EffectiveCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// WithMetrics records operation metrics
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger
func WithLogger(l *observability.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over the given catalog, store and directory
func NewEngine(catalog *Catalog, store Store, dir directory.Directory, opts ...EngineOption) *Engine {
	e := &Engine{
		catalog:   catalog,
		store:     store,
		directory: dir,
		logger:    observability.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's permission catalog
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Store returns the backing store
func (e *Engine) Store() Store {
	return e.store
}

// Directory returns the user directory
func (e *Engine) Directory() directory.Directory {
	return e.directory
}

// start opens a span and returns the function that closes it and records
// the operation outcome
func (e *Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "rbac."+op, trace.WithAttributes(attrs...))
	begin := time.Now()
	return ctx, func(err error) {
		e.metrics.ObserveOperation(op, begin, err)
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				e.metrics.RecordConflict()
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// actorFor prefers the explicit actor and falls back to the context
func actorFor(ctx context.Context, actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = contextkeys.GetActor(ctx)
	}
	if actor == "" {
		return "", &ValidationError{Problems: []FieldError{{Field: "actor", Reason: "is required"}}}
	}
	return actor, nil
}

// ListCatalog returns every system role
func (e *Engine) ListCatalog() []SystemRole {
	return e.catalog.All()
}

// GetProfile returns a stored profile
func (e *Engine) GetProfile(ctx context.Context, id string) (*Profile, error) {
	return e.store.GetProfile(ctx, id)
}

// ListProfiles returns every profile ordered by name
func (e *Engine) ListProfiles(ctx context.Context) ([]*Profile, error) {
	return e.store.ListProfiles(ctx)
}

func (e *Engine) customRoleIndex(ctx context.Context) (map[string]*CustomRole, error) {
	roles, err := e.store.ListCustomRoles(ctx)
	if err != nil {
		return nil, err
	}
	return CustomRoleIndex(roles), nil
}

// ResolveEffective returns the effective permission set of a profile. It
// fails only when the profile does not exist; dangling references are
// reported on the set.
func (e *Engine) ResolveEffective(ctx context.Context, profileID string) (set *EffectivePermissionSet, err error) {
	ctx, done := e.start(ctx, "resolve_effective", attribute.String("profile.id", profileID))
	defer func() { done(err) }()

	p, err := e.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return e.resolve(ctx, p)
}

func (e *Engine) resolve(ctx context.Context, p *Profile) (*EffectivePermissionSet, error) {
	var generation int64
	if e.cache != nil {
		gen, err := e.store.CustomRoleGeneration(ctx)
		if err != nil {
			return nil, err
		}
		generation = gen
		if set, ok := e.cache.Get(ctx, p.ID, p.Version, generation); ok {
			return set, nil
		}
	}

	idx, err := e.customRoleIndex(ctx)
	if err != nil {
		return nil, err
	}
	set := Resolve(p, e.catalog, idx)

	if set.HasDangling() {
		byKind := map[string]int{}
		for _, ref := range set.Dangling {
			byKind[ref.Kind]++
		}
		for kind, n := range byKind {
			e.metrics.RecordDangling(kind, n)
		}
		e.logger.WithFields(map[string]interface{}{
			"profile_id": p.ID,
			"dangling":   len(set.Dangling),
		}).Warn("profile has dangling references")
	}

	if e.cache != nil {
		e.cache.Put(ctx, set, generation)
	}
	return set, nil
}

// ResolveUser resolves the profile held by a user. A user without a profile
// gets an empty set, which denies everything.
func (e *Engine) ResolveUser(ctx context.Context, userID string) (*EffectivePermissionSet, error) {
	u, err := e.directory.GetUser(ctx, userID)
	if errors.Is(err, directory.ErrUserNotFound) {
		return nil, &NotFoundError{Kind: KindUser, ID: userID}
	}
	if err != nil {
		return nil, err
	}
	if u.ProfileID == "" {
		return &EffectivePermissionSet{
			SystemRoleIDs: []string{},
			ModuleAccess:  map[Module]Tier{},
			SidebarAccess: map[ItemKey]PermissionFlags{},
		}, nil
	}
	return e.ResolveEffective(ctx, u.ProfileID)
}

// AnalyzeImpact diffs draft against the stored profile and lists the users
// holding it. It never mutates state and does not validate the draft.
func (e *Engine) AnalyzeImpact(ctx context.Context, profileID string, draft ProfileDraft) (impact *Impact, err error) {
	ctx, done := e.start(ctx, "analyze_impact", attribute.String("profile.id", profileID))
	defer func() { done(err) }()

	current, err := e.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	users, err := e.directory.ListUsersByProfile(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by profile: %w", err)
	}
	return AnalyzeImpact(current, draft.ApplyTo(current), users), nil
}

// profileSnapshot is the serialized before/after value of an audit entry
type profileSnapshot struct {
	Name               string                      `json:"name"`
	Status             RoleStatus                  `json:"status"`
	Roles              []string                    `json:"roles"`
	CustomRoleIDs      []string                    `json:"custom_role_ids"`
	ModulePermissions  map[Module]Tier             `json:"module_permissions"`
	SidebarPermissions map[ItemKey]PermissionFlags `json:"sidebar_permissions"`
}

func snapshot(p *Profile) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(profileSnapshot{
		Name:               p.Name,
		Status:             p.Status,
		Roles:              p.Roles,
		CustomRoleIDs:      p.CustomRoleIDs,
		ModulePermissions:  p.ModulePermissions,
		SidebarPermissions: p.SidebarPermissions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile snapshot: %w", err)
	}
	return data, nil
}

func (e *Engine) auditRecord(action audit.ActionType, before, after *Profile, actor string, affected int, at time.Time) (AuditRecord, error) {
	target := after
	if target == nil {
		target = before
	}
	oldValue, err := snapshot(before)
	if err != nil {
		return AuditRecord{}, err
	}
	newValue, err := snapshot(after)
	if err != nil {
		return AuditRecord{}, err
	}
	return AuditRecord{
		Entry: &audit.Entry{
			ProfileID:          target.ID,
			ChangedBy:          actor,
			ChangedAt:          at,
			Action:             action,
			OldValue:           oldValue,
			NewValue:           newValue,
			AffectedUsersCount: affected,
		},
		Event: &audit.Event{
			ID:                 uuid.New().String(),
			ActionType:         action,
			PerformedBy:        actor,
			TargetID:           target.ID,
			TargetName:         target.Name,
			AffectedUsersCount: affected,
			CreatedAt:          at,
		},
	}, nil
}

// updateAction tags a committed change: role changes are profile updates,
// changes confined to module tiers or sidebar flags are permission changes
func updateAction(impact *Impact) audit.ActionType {
	if !impact.RolesChanged() && impact.PermissionsChanged() {
		return audit.ActionPermissionChanged
	}
	return audit.ActionProfileUpdated
}

// UpdateProfile validates and commits a profile change. The profile row,
// its audit entry and the log event are written atomically; a stale
// ExpectedVersion fails with *ConflictError and nothing is written.
func (e *Engine) UpdateProfile(ctx context.Context, req ProfileChangeRequest) (updated *Profile, impact *Impact, err error) {
	ctx, done := e.start(ctx, "update_profile",
		attribute.String("profile.id", req.ProfileID),
		attribute.Int64("profile.expected_version", req.ExpectedVersion),
	)
	defer func() { done(err) }()

	actor, err := actorFor(ctx, req.Actor)
	if err != nil {
		return nil, nil, err
	}

	current, err := e.store.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, nil, err
	}
	if current.Version != req.ExpectedVersion {
		return nil, nil, &ConflictError{Kind: KindProfile, ID: current.ID, Expected: req.ExpectedVersion, Actual: current.Version}
	}

	idx, err := e.customRoleIndex(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := ValidateDraft(req.Draft, e.catalog, idx, current); err != nil {
		return nil, nil, err
	}

	now := e.now().UTC()
	next := req.Draft.ApplyTo(current)
	next.UpdatedAt = now

	users, err := e.directory.ListUsersByProfile(ctx, current.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list users by profile: %w", err)
	}
	impact = AnalyzeImpact(current, next, users)

	rec, err := e.auditRecord(updateAction(impact), current, next, actor, impact.AffectedUsersCount(), now)
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.UpdateProfile(ctx, next, req.ExpectedVersion, rec); err != nil {
		return nil, nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"profile_id":     next.ID,
		"version":        next.Version,
		"actor":          actor,
		"action":         string(rec.Event.ActionType),
		"affected_users": impact.AffectedUsersCount(),
	}).Info("profile updated")

	return next, impact, nil
}

// CreateProfile validates and stores a new active profile
func (e *Engine) CreateProfile(ctx context.Context, draft ProfileDraft, actor string) (created *Profile, err error) {
	ctx, done := e.start(ctx, "create_profile")
	defer func() { done(err) }()

	actor, err = actorFor(ctx, actor)
	if err != nil {
		return nil, err
	}

	idx, err := e.customRoleIndex(ctx)
	if err != nil {
		return nil, err
	}
	if err := ValidateDraft(draft, e.catalog, idx, nil); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	p := draft.ApplyTo(&Profile{
		ID:        uuid.New().String(),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})

	rec, err := e.auditRecord(audit.ActionProfileCreated, nil, p, actor, 0, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateProfile(ctx, p, rec); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"profile_id": p.ID,
		"actor":      actor,
	}).Info("profile created")
	return p, nil
}

// DeleteProfile removes a profile nobody holds. Profiles still assigned to
// users are refused; retire them with SetProfileStatus instead.
func (e *Engine) DeleteProfile(ctx context.Context, id string, expectedVersion int64, actor string) (err error) {
	ctx, done := e.start(ctx, "delete_profile", attribute.String("profile.id", id))
	defer func() { done(err) }()

	actor, err = actorFor(ctx, actor)
	if err != nil {
		return err
	}

	current, err := e.store.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return &ConflictError{Kind: KindProfile, ID: id, Expected: expectedVersion, Actual: current.Version}
	}

	users, err := e.directory.ListUsersByProfile(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list users by profile: %w", err)
	}
	if len(users) > 0 {
		return profileInUse(len(users))
	}

	rec, err := e.auditRecord(audit.ActionProfileDeleted, current, nil, actor, 0, e.now().UTC())
	if err != nil {
		return err
	}
	if err := e.store.DeleteProfile(ctx, id, expectedVersion, rec); err != nil {
		return err
	}

	e.logger.WithFields(map[string]interface{}{
		"profile_id": id,
		"actor":      actor,
	}).Info("profile deleted")
	return nil
}

// SetProfileStatus retires or reactivates a profile
func (e *Engine) SetProfileStatus(ctx context.Context, id string, expectedVersion int64, status RoleStatus, actor string) (updated *Profile, err error) {
	ctx, done := e.start(ctx, "set_profile_status", attribute.String("profile.id", id))
	defer func() { done(err) }()

	actor, err = actorFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, &ValidationError{Problems: []FieldError{{Field: "status", Reason: "must be active or inactive"}}}
	}

	current, err := e.store.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, &ConflictError{Kind: KindProfile, ID: id, Expected: expectedVersion, Actual: current.Version}
	}

	now := e.now().UTC()
	next := current.Clone()
	next.Status = status
	next.UpdatedAt = now

	users, err := e.directory.ListUsersByProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by profile: %w", err)
	}

	rec, err := e.auditRecord(audit.ActionProfileUpdated, current, next, actor, len(users), now)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateProfile(ctx, next, expectedVersion, rec); err != nil {
		return nil, err
	}
	return next, nil
}

// AssignUser moves a user to profileID, or clears the assignment when
// profileID is empty, then refreshes users_count of both profiles.
func (e *Engine) AssignUser(ctx context.Context, userID, profileID, actor string) (user *directory.User, err error) {
	ctx, done := e.start(ctx, "assign_user",
		attribute.String("user.id", userID),
		attribute.String("profile.id", profileID),
	)
	defer func() { done(err) }()

	actor, err = actorFor(ctx, actor)
	if err != nil {
		return nil, err
	}

	if profileID != "" {
		p, err := e.store.GetProfile(ctx, profileID)
		if err != nil {
			return nil, err
		}
		if p.Status != StatusActive {
			return nil, &ValidationError{Problems: []FieldError{{Field: "profile_id", Reason: "profile is inactive and cannot be assigned"}}}
		}
	}

	previous, err := e.directory.AssignProfile(ctx, userID, profileID)
	if errors.Is(err, directory.ErrUserNotFound) {
		return nil, &NotFoundError{Kind: KindUser, ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to assign profile: %w", err)
	}

	if err := e.refreshUsersCounts(ctx, previous, profileID); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"user_id":          userID,
		"profile_id":       profileID,
		"previous_profile": previous,
		"actor":            actor,
	}).Info("user profile assigned")

	return e.directory.GetUser(ctx, userID)
}

func (e *Engine) refreshUsersCounts(ctx context.Context, profileIDs ...string) error {
	counts, err := e.directory.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	update := make(map[string]int)
	for _, id := range profileIDs {
		if id != "" {
			update[id] = counts.ByProfile[id]
		}
	}
	return e.store.SetUsersCounts(ctx, update)
}

// RecountUsers rebuilds users_count of every profile from the directory
func (e *Engine) RecountUsers(ctx context.Context) error {
	profiles, err := e.store.ListProfiles(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return e.refreshUsersCounts(ctx, ids...)
}

// ListCustomRoles returns every custom role ordered by name
func (e *Engine) ListCustomRoles(ctx context.Context) ([]*CustomRole, error) {
	return e.store.ListCustomRoles(ctx)
}

// GetCustomRole returns one custom role
func (e *Engine) GetCustomRole(ctx context.Context, id string) (*CustomRole, error) {
	return e.store.GetCustomRole(ctx, id)
}

// customRoleReach sums users_count over the profiles referencing crID
func (e *Engine) customRoleReach(ctx context.Context, crID string) (int, error) {
	profiles, err := e.store.ListProfiles(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range profiles {
		for _, id := range p.CustomRoleIDs {
			if id == crID {
				total += p.UsersCount
				break
			}
		}
	}
	return total, nil
}

func roleEvent(action audit.ActionType, cr *CustomRole, actor string, affected int, at time.Time) *audit.Event {
	return &audit.Event{
		ID:                 uuid.New().String(),
		ActionType:         action,
		PerformedBy:        actor,
		TargetID:           cr.ID,
		TargetName:         cr.Name,
		AffectedUsersCount: affected,
		CreatedAt:          at,
	}
}

// CreateCustomRole validates and stores a new custom role
func (e *Engine) CreateCustomRole(ctx context.Context, in CustomRoleInput, actor string) (created *CustomRole, err error) {
	ctx, done := e.start(ctx, "create_custom_role")
	defer func() { done(err) }()

	actor, err = actorFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := ValidateCustomRole(in, e.catalog); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = StatusActive
	}
	now := e.now().UTC()
	cr := &CustomRole{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		SystemRoleIDs: dedupe(in.SystemRoleIDs),
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
		CreatedBy:     actor,
	}

	if err := e.store.CreateCustomRole(ctx, cr, roleEvent(audit.ActionRoleCreated, cr, actor, 0, now)); err != nil {
		return nil, err
	}
	return cr, nil
}

// UpdateCustomRole replaces the definition of a custom role. Every profile
// referencing it picks up the change on its next resolution.
func (e *Engine) UpdateCustomRole(ctx context.Context, id string, expectedVersion int64, in CustomRoleInput, actor string) (updated *CustomRole, err error) {
	ctx, done := e.start(ctx, "update_custom_role", attribute.String("custom_role.id", id))
	defer func() { done(err) }()

	actor, err = actorFor(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := ValidateCustomRole(in, e.catalog); err != nil {
		return nil, err
	}

	current, err := e.store.GetCustomRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, &ConflictError{Kind: KindCustomRole, ID: id, Expected: expectedVersion, Actual: current.Version}
	}

	next := current.Clone()
	next.Name = strings.TrimSpace(in.Name)
	next.Description = in.Description
	next.SystemRoleIDs = dedupe(in.SystemRoleIDs)
	if in.Status != "" {
		next.Status = in.Status
	}
	next.UpdatedAt = e.now().UTC()

	reach, err := e.customRoleReach(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateCustomRole(ctx, next, expectedVersion, roleEvent(audit.ActionRoleUpdated, next, actor, reach, next.UpdatedAt)); err != nil {
		return nil, err
	}
	return next, nil
}

// DeleteCustomRole removes a custom role. Profiles that still reference it
// keep the id; the resolver reports it as dangling from then on.
func (e *Engine) DeleteCustomRole(ctx context.Context, id string, actor string) (err error) {
	ctx, done := e.start(ctx, "delete_custom_role", attribute.String("custom_role.id", id))
	defer func() { done(err) }()

	actor, err = actorFor(ctx, actor)
	if err != nil {
		return err
	}

	current, err := e.store.GetCustomRole(ctx, id)
	if err != nil {
		return err
	}
	reach, err := e.customRoleReach(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteCustomRole(ctx, id, roleEvent(audit.ActionRoleDeleted, current, actor, reach, e.now().UTC())); err != nil {
		return err
	}

	if reach > 0 {
		e.logger.WithFields(map[string]interface{}{
			"custom_role_id": id,
			"reach":          reach,
		}).Warn("deleted custom role is still referenced by profiles")
	}
	return nil
}
