package directory

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned when a user id does not exist
var ErrUserNotFound = errors.New("user not found")

// User is a shop user. ProfileID is single-valued: a user holds at most one
// profile, so summing users_count across profiles never double counts.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`
}

// Counts summarizes profile coverage across the directory
type Counts struct {
	Total       int            `json:"total"`
	WithProfile int            `json:"with_profile"`
	ByProfile   map[string]int `json:"by_profile"`
}

// Directory is the user collaborator of the permission engine
type Directory interface {
	// ListUsersByProfile returns the users currently holding profileID
	ListUsersByProfile(ctx context.Context, profileID string) ([]User, error)

	GetUser(ctx context.Context, userID string) (*User, error)

	CountUsers(ctx context.Context) (*Counts, error)

	// AssignProfile sets the profile of a user and returns the previous one.
	// An empty profileID clears the assignment.
	AssignProfile(ctx context.Context, userID, profileID string) (previous string, err error)
}
