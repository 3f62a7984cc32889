package events

import (
	"context"
	"sort"
	"sync"
)

// MemorySource serves events from memory
type MemorySource struct {
	mu     sync.RWMutex
	events []Event
	reads  []Query
}

// NewMemorySource creates a source holding the given events
func NewMemorySource(events ...Event) *MemorySource {
	s := &MemorySource{}
	s.Add(events...)
	return s
}

// Add appends events
func (s *MemorySource) Add(events ...Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

// Read implements Source
func (s *MemorySource) Read(ctx context.Context, q Query) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.reads = append(s.reads, q)
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if e.Timestamp.Before(q.Start) || !e.Timestamp.Before(q.End) {
			continue
		}
		if !q.matchesUser(e.UserID) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Reads returns every query served so far
func (s *MemorySource) Reads() []Query {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Query(nil), s.reads...)
}
