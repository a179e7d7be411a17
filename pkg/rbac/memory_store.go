package rbac

import (
	"context"
	"sort"
	"sync"

	"github.com/platinummonkey/wrench/pkg/audit"
)

// MemoryStore keeps profiles and custom roles in process. Audit records go
// to the wrapped audit.MemoryStore under the same lock, which gives the
// all-or-nothing commit the SQL store gets from its transaction.
type MemoryStore struct {
	mu          sync.RWMutex
	profiles    map[string]*Profile
	customRoles map[string]*CustomRole
	generation  int64
	audit       *audit.MemoryStore
}

// NewMemoryStore creates an empty store writing its trail to auditStore
func NewMemoryStore(auditStore *audit.MemoryStore) *MemoryStore {
	return &MemoryStore{
		profiles:    make(map[string]*Profile),
		customRoles: make(map[string]*CustomRole),
		audit:       auditStore,
	}
}

func (s *MemoryStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindProfile, ID: id}
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CreateProfile(ctx context.Context, p *Profile, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[p.ID]; exists {
		return &ConflictError{Kind: KindProfile, ID: p.ID, Expected: 0, Actual: s.profiles[p.ID].Version}
	}
	if err := s.audit.Append(rec.Entry, rec.Event); err != nil {
		return err
	}

	p.Version = 1
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, p *Profile, expectedVersion int64, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.profiles[p.ID]
	if !ok {
		return &NotFoundError{Kind: KindProfile, ID: p.ID}
	}
	if current.Version != expectedVersion {
		return &ConflictError{Kind: KindProfile, ID: p.ID, Expected: expectedVersion, Actual: current.Version}
	}
	if err := s.audit.Append(rec.Entry, rec.Event); err != nil {
		return err
	}

	// users_count is owned by SetUsersCounts
	p.UsersCount = current.UsersCount
	p.Version = expectedVersion + 1
	s.profiles[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) DeleteProfile(ctx context.Context, id string, expectedVersion int64, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.profiles[id]
	if !ok {
		return &NotFoundError{Kind: KindProfile, ID: id}
	}
	if current.Version != expectedVersion {
		return &ConflictError{Kind: KindProfile, ID: id, Expected: expectedVersion, Actual: current.Version}
	}
	if err := s.audit.Append(rec.Entry, rec.Event); err != nil {
		return err
	}

	delete(s.profiles, id)
	return nil
}

func (s *MemoryStore) SetUsersCounts(ctx context.Context, counts map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, n := range counts {
		if p, ok := s.profiles[id]; ok {
			p.UsersCount = n
		}
	}
	return nil
}

func (s *MemoryStore) GetCustomRole(ctx context.Context, id string) (*CustomRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cr, ok := s.customRoles[id]
	if !ok {
		return nil, &NotFoundError{Kind: KindCustomRole, ID: id}
	}
	return cr.Clone(), nil
}

func (s *MemoryStore) ListCustomRoles(ctx context.Context) ([]*CustomRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*CustomRole, 0, len(s.customRoles))
	for _, cr := range s.customRoles {
		out = append(out, cr.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) CreateCustomRole(ctx context.Context, cr *CustomRole, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.customRoles[cr.ID]; ok {
		return &ConflictError{Kind: KindCustomRole, ID: cr.ID, Expected: 0, Actual: existing.Version}
	}
	if err := s.audit.Append(nil, event); err != nil {
		return err
	}

	cr.Version = 1
	s.customRoles[cr.ID] = cr.Clone()
	s.generation++
	return nil
}

func (s *MemoryStore) UpdateCustomRole(ctx context.Context, cr *CustomRole, expectedVersion int64, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.customRoles[cr.ID]
	if !ok {
		return &NotFoundError{Kind: KindCustomRole, ID: cr.ID}
	}
	if current.Version != expectedVersion {
		return &ConflictError{Kind: KindCustomRole, ID: cr.ID, Expected: expectedVersion, Actual: current.Version}
	}
	if err := s.audit.Append(nil, event); err != nil {
		return err
	}

	cr.Version = expectedVersion + 1
	s.customRoles[cr.ID] = cr.Clone()
	s.generation++
	return nil
}

func (s *MemoryStore) DeleteCustomRole(ctx context.Context, id string, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customRoles[id]; !ok {
		return &NotFoundError{Kind: KindCustomRole, ID: id}
	}
	if err := s.audit.Append(nil, event); err != nil {
		return err
	}

	delete(s.customRoles, id)
	s.generation++
	return nil
}

func (s *MemoryStore) CustomRoleGeneration(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation, nil
}
