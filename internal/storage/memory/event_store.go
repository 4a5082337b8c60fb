// Package memory provides an in-memory event store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/crisiswatch/crisis-collector/internal/crisis"
)

// EventStore keeps events in insertion order behind a RWMutex.
type EventStore struct {
	mu     sync.RWMutex
	events []crisis.Event
	ids    map[string]struct{}
}

// NewEventStore constructs an EventStore.
func NewEventStore() *EventStore {
	return &EventStore{ids: make(map[string]struct{})}
}

// InsertMany stores the batch and returns how many events were new.
// Events whose ID is already stored are skipped.
func (s *EventStore) InsertMany(_ context.Context, events []crisis.Event) (int, error) {
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, ev := range events {
		if _, dup := s.ids[ev.ID]; dup {
			continue
		}
		s.ids[ev.ID] = struct{}{}
		s.events = append(s.events, cloneEvent(ev))
		inserted++
	}
	return inserted, nil
}

// Query returns the events matching filter, sorted and paginated.
func (s *EventStore) Query(_ context.Context, filter crisis.EventFilter) ([]crisis.Event, error) {
	f, err := filter.Normalize()
	if err != nil {
		return nil, fmt.Errorf("normalize filter: %w", err)
	}

	s.mu.RLock()
	matched := make([]crisis.Event, 0, len(s.events))
	for _, ev := range s.events {
		if f.Matches(ev) {
			matched = append(matched, cloneEvent(ev))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		c := compare(matched[i], matched[j], f.SortField)
		if f.SortOrder == crisis.SortAsc {
			return c < 0
		}
		return c > 0
	})

	if f.Offset >= len(matched) {
		return []crisis.Event{}, nil
	}
	end := f.Offset + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[f.Offset:end], nil
}

// Len reports how many events are stored.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// compare orders by field, then by ID, matching the Postgres ORDER BY.
func compare(a, b crisis.Event, field string) int {
	var c int
	switch field {
	case crisis.SortUrgency:
		c = a.Urgency.Rank() - b.Urgency.Rank()
	case crisis.SortEventType:
		c = strings.Compare(string(a.EventType), string(b.EventType))
	case crisis.SortTitle:
		c = strings.Compare(a.Title, b.Title)
	default:
		c = a.CreatedAt.Compare(b.CreatedAt)
	}
	if c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func cloneEvent(ev crisis.Event) crisis.Event {
	ev.Sources = append([]crisis.Source(nil), ev.Sources...)
	return ev
}
