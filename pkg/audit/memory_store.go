package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process audit trail
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*Entry
	events  []*Event
}

// NewMemoryStore creates an empty in-memory audit store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]*Entry)}
}

// Append records an optional profile entry and an event together. Both
// are checked before either is stored.
func (s *MemoryStore) Append(entry *Entry, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if !event.ActionType.Valid() {
		return fmt.Errorf("unknown action type %q", event.ActionType)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry != nil {
		stored := copyEntry(entry)
		stored.Sequence = int64(len(s.entries[entry.ProfileID]) + 1)
		s.entries[entry.ProfileID] = append(s.entries[entry.ProfileID], stored)
		entry.Sequence = stored.Sequence
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	ev := *event
	s.events = append(s.events, &ev)
	return nil
}

func (s *MemoryStore) Entries(ctx context.Context, profileID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries[profileID]))
	for _, e := range s.entries[profileID] {
		out = append(out, copyEntry(e))
	}
	return out, nil
}

func (s *MemoryStore) Events(ctx context.Context, filter EventFilter) ([]*Event, error) {
	s.mu.RLock()
	matched := make([]*Event, 0)
	for _, e := range s.events {
		if filter.matches(e) {
			ev := *e
			matched = append(matched, &ev)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Event{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) Stats(ctx context.Context, since, until *time.Time) (*Stats, error) {
	events, err := s.Events(ctx, EventFilter{Since: since, Until: until})
	if err != nil {
		return nil, err
	}
	return summarize(events, since, until), nil
}

func (s *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var purged int64
	for _, e := range s.events {
		if e.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return purged, nil
}

func copyEntry(e *Entry) *Entry {
	c := *e
	c.OldValue = append([]byte(nil), e.OldValue...)
	c.NewValue = append([]byte(nil), e.NewValue...)
	return &c
}
