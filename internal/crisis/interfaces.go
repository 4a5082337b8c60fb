package crisis

import (
	"context"
	"time"
)

// Collector harvests events from one logical data source.
type Collector interface {
	// Name identifies the collector in logs and metrics.
	Name() string
	// ValidateCredentials is a cheap readiness check. It reports false instead of failing.
	ValidateCredentials(ctx context.Context) bool
	// Collect runs one harvest pass. A non-nil error reports a partial failure;
	// the returned events are still valid.
	Collect(ctx context.Context) ([]Event, error)
	// Cleanup releases held sessions. It is safe to call repeatedly or before first use.
	Cleanup(ctx context.Context) error
}

// EventStore persists event batches and serves queries over them.
type EventStore interface {
	InsertMany(ctx context.Context, events []Event) (int, error)
	Query(ctx context.Context, filter EventFilter) ([]Event, error)
}

// Fetcher returns the markup found at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Session is a Fetcher that owns network resources.
type Session interface {
	Fetcher
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces event IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Page is the result of a successful fetch.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Rendered   bool
}
