package directory

import (
	"context"
	"sort"
	"sync"
)

// MemoryDirectory is an in-process Directory used by tests and the
// in-memory server mode
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory creates a directory seeded with users
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put inserts or replaces a user
func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

func (d *MemoryDirectory) ListUsersByProfile(ctx context.Context, profileID string) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := []User{}
	for _, u := range d.users {
		if u.ProfileID == profileID {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (d *MemoryDirectory) GetUser(ctx context.Context, userID string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (d *MemoryDirectory) CountUsers(ctx context.Context) (*Counts, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := &Counts{Total: len(d.users), ByProfile: make(map[string]int)}
	for _, u := range d.users {
		if u.ProfileID == "" {
			continue
		}
		counts.ByProfile[u.ProfileID]++
		counts.WithProfile++
	}
	return counts, nil
}

func (d *MemoryDirectory) AssignProfile(ctx context.Context, userID, profileID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	previous := u.ProfileID
	u.ProfileID = profileID
	d.users[userID] = u
	return previous, nil
}
