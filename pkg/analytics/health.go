package analytics

import (
	"math"

	"github.com/platinummonkey/wrench/pkg/rbac"
)

// Band classifies a complexity score
type Band string

const (
	BandSimple Band = "simple"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// BandFor maps a score onto its band: ≤30 simple, ≤60 medium, above high
func BandFor(score float64) Band {
	switch {
	case score <= 30:
		return BandSimple
	case score <= 60:
		return BandMedium
	default:
		return BandHigh
	}
}

// Complexity is the scored breadth of one profile
type Complexity struct {
	Score float64 `json:"score"`
	Band  Band    `json:"band"`
}

// Scorer rates how broad and hard to manage a profile is, 0-100
type Scorer interface {
	Score(p *rbac.Profile) Complexity
}

// WeightedScorer scores a profile as a weighted count of its direct roles
// and custom roles, capped at Cap
type WeightedScorer struct {
	RoleWeight       float64
	CustomRoleWeight float64
	Cap              float64
}

// DefaultScorer weighs a direct role 2 and a custom role 5, capped at 100
func DefaultScorer() WeightedScorer {
	return WeightedScorer{RoleWeight: 2, CustomRoleWeight: 5, Cap: 100}
}

func (s WeightedScorer) Score(p *rbac.Profile) Complexity {
	raw := s.RoleWeight*float64(len(p.Roles)) + s.CustomRoleWeight*float64(len(p.CustomRoleIDs))
	capped := s.Cap
	if capped <= 0 {
		capped = 100
	}
	score := math.Min(math.Max(raw, 0), capped)
	score = math.Round(score*10) / 10
	return Complexity{Score: score, Band: BandFor(score)}
}

// Recommendation is one actionable suggestion of a report
type Recommendation struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Target   string `json:"target,omitempty"`
	Message  string `json:"message"`
}

const (
	RecommendSplitProfile     = "split_profile"
	RecommendRemoveUnused     = "remove_unused_permissions"
	RecommendReviewRarelyUsed = "review_rarely_used"
	RecommendFixDangling      = "fix_dangling_reference"
	RecommendAssignUsers      = "assign_unassigned_users"
	RecommendRetireProfile    = "retire_empty_profile"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// generateRecommendations derives suggestions from the finished sections
func generateRecommendations(r *Report) []Recommendation {
	recs := []Recommendation{}

	for _, p := range r.Profiles {
		if p.Complexity.Band == BandHigh {
			recs = append(recs, Recommendation{
				Kind:     RecommendSplitProfile,
				Severity: SeverityWarning,
				Target:   p.ProfileID,
				Message:  "Profile " + p.Name + " is highly complex; consider splitting it into smaller, focused profiles.",
			})
		}
		if len(p.Dangling) > 0 {
			recs = append(recs, Recommendation{
				Kind:     RecommendFixDangling,
				Severity: SeverityCritical,
				Target:   p.ProfileID,
				Message:  "Profile " + p.Name + " references deleted roles; remove them so its grants match what administrators see.",
			})
		}
		if p.UsersCount == 0 && p.Status == rbac.StatusActive {
			recs = append(recs, Recommendation{
				Kind:     RecommendRetireProfile,
				Severity: SeverityInfo,
				Target:   p.ProfileID,
				Message:  "Profile " + p.Name + " has no users; retire it if it is no longer needed.",
			})
		}
	}

	if n := len(r.Permissions.Unused); n > 0 {
		recs = append(recs, Recommendation{
			Kind:     RecommendRemoveUnused,
			Severity: SeverityInfo,
			Message:  pluralize(n, "permission is", "permissions are") + " not granted by any profile.",
		})
	}
	if n := len(r.Permissions.RarelyUsed); n > 0 {
		recs = append(recs, Recommendation{
			Kind:     RecommendReviewRarelyUsed,
			Severity: SeverityInfo,
			Message:  pluralize(n, "permission reaches", "permissions reach") + " very few users; review whether they are still needed.",
		})
	}

	if unassigned := r.Usage.TotalUsers - r.Usage.UsersWithProfile; unassigned > 0 {
		recs = append(recs, Recommendation{
			Kind:     RecommendAssignUsers,
			Severity: SeverityWarning,
			Message:  pluralize(unassigned, "user has", "users have") + " no profile and cannot access anything.",
		})
	}

	return recs
}
