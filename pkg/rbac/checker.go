package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Checker answers access questions for a user
type Checker interface {
	// CheckPermission checks one sidebar action for a user
	CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error)

	// HasSystemRole reports whether the user's profile grants a system role
	HasSystemRole(ctx context.Context, userID, systemRoleID string) (bool, error)
}

// PermissionCheck is a single access question
type PermissionCheck struct {
	UserID string  `json:"user_id"`
	Item   ItemKey `json:"item"`
	Action Action  `json:"action"`
}

// PermissionCheckResult is the answer to a PermissionCheck
type PermissionCheckResult struct {
	Allowed        bool      `json:"allowed"`
	Reason         string    `json:"reason"`
	ProfileID      string    `json:"profile_id,omitempty"`
	ProfileVersion int64     `json:"profile_version,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// PermissionChecker resolves user → profile → effective set through the
// engine, so it shares the effective-set cache
type PermissionChecker struct {
	engine *Engine
}

// NewPermissionChecker creates a new permission checker
func NewPermissionChecker(engine *Engine) *PermissionChecker {
	return &PermissionChecker{engine: engine}
}

// CheckPermission checks if a user may perform action on a sidebar item.
// Unknown users are denied rather than reported as errors.
func (pc *PermissionChecker) CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	result := &PermissionCheckResult{CheckedAt: pc.engine.now().UTC()}

	if _, ok := check.Item.Module(); !ok {
		result.Reason = fmt.Sprintf("unknown sidebar item %q", check.Item)
		return result, nil
	}

	set, err := pc.engine.ResolveUser(ctx, check.UserID)
	if errors.Is(err, ErrNotFound) {
		result.Reason = err.Error()
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user permissions: %w", err)
	}

	result.ProfileID = set.ProfileID
	result.ProfileVersion = set.ProfileVersion
	if set.ProfileID == "" {
		result.Reason = "user has no profile"
		return result, nil
	}

	result.Allowed = set.Allows(check.Item, check.Action)
	if result.Allowed {
		result.Reason = fmt.Sprintf("granted by profile %s", set.ProfileID)
		return result, nil
	}

	m, _ := check.Item.Module()
	switch tier := set.TierFor(m); tier {
	case TierBlocked:
		result.Reason = fmt.Sprintf("module %s is blocked", m)
	case TierViewOnly:
		if check.Action != ActionView {
			result.Reason = fmt.Sprintf("module %s is view only", m)
			break
		}
		fallthrough
	default:
		result.Reason = fmt.Sprintf("%s not granted on %s", check.Action, check.Item)
	}
	return result, nil
}

// HasSystemRole reports whether the user's effective set contains the role
func (pc *PermissionChecker) HasSystemRole(ctx context.Context, userID, systemRoleID string) (bool, error) {
	set, err := pc.engine.ResolveUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to resolve user permissions: %w", err)
	}
	return set.Has(systemRoleID), nil
}
