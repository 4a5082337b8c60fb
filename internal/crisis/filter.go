package crisis

import (
	"fmt"
	"strings"
	"time"
)

// Sortable fields accepted by EventFilter.SortField.
const (
	SortCreatedAt = "created_at"
	SortUrgency   = "urgency_level"
	SortEventType = "event_type"
	SortTitle     = "title"
)

// Sort orders.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// EventFilter narrows an event query. Zero values mean "any".
type EventFilter struct {
	EventType EventType
	Urgency   UrgencyLevel
	Status    Status
	From      time.Time
	To        time.Time
	Country   string
	SortField string
	SortOrder string
	Limit     int
	Offset    int
}

// Normalize fills defaults and rejects values a store cannot honor.
func (f EventFilter) Normalize() (EventFilter, error) {
	if f.EventType != "" && !f.EventType.Valid() {
		return f, fmt.Errorf("unknown event type %q", f.EventType)
	}
	if f.Urgency != "" && !f.Urgency.Valid() {
		return f, fmt.Errorf("unknown urgency level %q", f.Urgency)
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("unknown status %q", f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("date range end precedes start")
	}
	switch f.SortField {
	case "":
		f.SortField = SortCreatedAt
	case SortCreatedAt, SortUrgency, SortEventType, SortTitle:
	default:
		return f, fmt.Errorf("unsupported sort field %q", f.SortField)
	}
	f.SortOrder = strings.ToLower(f.SortOrder)
	switch f.SortOrder {
	case "":
		f.SortOrder = SortDesc
	case SortAsc, SortDesc:
	default:
		return f, fmt.Errorf("unsupported sort order %q", f.SortOrder)
	}
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f, nil
}

// Matches reports whether e passes every non-empty criterion in f.
func (f EventFilter) Matches(e Event) bool {
	switch {
	case f.EventType != "" && e.EventType != f.EventType:
		return false
	case f.Urgency != "" && e.Urgency != f.Urgency:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case f.Country != "" && !strings.EqualFold(e.Location.Country, f.Country):
		return false
	case !f.From.IsZero() && e.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && e.CreatedAt.After(f.To):
		return false
	default:
		return true
	}
}
