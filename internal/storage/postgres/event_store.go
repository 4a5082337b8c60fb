// Package postgres provides the Postgres-backed event store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crisiswatch/crisis-collector/internal/crisis"
)

const defaultTable = "crisis_events"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EventStoreConfig controls the Postgres connection pool used for event rows.
type EventStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by EventStore.
type Pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// EventStore writes and queries crisis events in Postgres.
type EventStore struct {
	pool  Pool
	table string
}

// NewEventStore connects a pool using cfg.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EventStore{pool: pool, table: table}, nil
}

// NewEventStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEventStoreWithPool(pool Pool, table string) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &EventStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the events table and its indexes when missing.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id                 TEXT PRIMARY KEY,
	title              TEXT NOT NULL,
	event_type         TEXT NOT NULL,
	urgency_level      TEXT NOT NULL,
	status             TEXT NOT NULL,
	country            TEXT NOT NULL,
	location           JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	impact             JSONB NOT NULL,
	humanitarian_needs JSONB NOT NULL,
	sources            JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at DESC);
CREATE INDEX IF NOT EXISTS %[1]s_event_type_idx ON %[1]s (event_type)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// InsertMany writes the batch in one transaction and returns how many rows were new.
// Rows whose id already exists are left untouched.
func (s *EventStore) InsertMany(ctx context.Context, events []crisis.Event) (int, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("event store is not configured")
	}
	if len(events) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(events))
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
		args, err := insertArgs(ev)
		if err != nil {
			return 0, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		rows = append(rows, args)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	title,
	event_type,
	urgency_level,
	status,
	country,
	location,
	created_at,
	impact,
	humanitarian_needs,
	sources
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (id) DO NOTHING`, s.table)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	inserted := 0
	for _, args := range rows {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, errors.Join(fmt.Errorf("insert event: %w", err), tx.Rollback(ctx))
		}
		inserted += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, nil
}

func insertArgs(ev crisis.Event) ([]any, error) {
	location, err := json.Marshal(ev.Location)
	if err != nil {
		return nil, fmt.Errorf("marshal location: %w", err)
	}
	impact, err := json.Marshal(ev.Impact)
	if err != nil {
		return nil, fmt.Errorf("marshal impact: %w", err)
	}
	needs, err := json.Marshal(ev.Needs)
	if err != nil {
		return nil, fmt.Errorf("marshal needs: %w", err)
	}
	sources, err := json.Marshal(ev.Sources)
	if err != nil {
		return nil, fmt.Errorf("marshal sources: %w", err)
	}
	return []any{
		ev.ID,
		ev.Title,
		string(ev.EventType),
		string(ev.Urgency),
		string(ev.Status),
		ev.Location.Country,
		location,
		ev.CreatedAt,
		impact,
		needs,
		sources,
	}, nil
}

// Query returns the events matching filter, sorted and paginated.
func (s *EventStore) Query(ctx context.Context, filter crisis.EventFilter) ([]crisis.Event, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("event store is not configured")
	}
	f, err := filter.Normalize()
	if err != nil {
		return nil, fmt.Errorf("normalize filter: %w", err)
	}
	query, args := buildSelect(s.table, f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []crisis.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

const selectColumns = `id, title, event_type, urgency_level, status, location, created_at, impact, humanitarian_needs, sources`

const urgencyRank = `CASE urgency_level WHEN 'critical' THEN 5 WHEN 'high' THEN 4 WHEN 'medium' THEN 3 WHEN 'low' THEN 2 WHEN 'monitoring' THEN 1 ELSE 0 END`

func buildSelect(table string, f crisis.EventFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.EventType != "" {
		add("event_type = $%d", string(f.EventType))
	}
	if f.Urgency != "" {
		add("urgency_level = $%d", string(f.Urgency))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Country != "" {
		add("lower(country) = lower($%d)", f.Country)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", selectColumns, table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	order := "DESC"
	if f.SortOrder == crisis.SortAsc {
		order = "ASC"
	}
	fmt.Fprintf(&b, " ORDER BY %s %s, id %s", sortExpr(f.SortField), order, order)
	args = append(args, f.Limit, f.Offset)
	fmt.Fprintf(&b, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return b.String(), args
}

func sortExpr(field string) string {
	switch field {
	case crisis.SortUrgency:
		return urgencyRank
	case crisis.SortEventType:
		return "event_type"
	case crisis.SortTitle:
		return "title"
	default:
		return "created_at"
	}
}

func scanEvent(rows pgx.Rows) (crisis.Event, error) {
	var (
		ev                               crisis.Event
		eventType, urgency, status       string
		location, impact, needs, sources []byte
	)
	if err := rows.Scan(&ev.ID, &ev.Title, &eventType, &urgency, &status, &location, &ev.CreatedAt, &impact, &needs, &sources); err != nil {
		return crisis.Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.EventType = crisis.EventType(eventType)
	ev.Urgency = crisis.UrgencyLevel(urgency)
	ev.Status = crisis.Status(status)
	for _, col := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"location", location, &ev.Location},
		{"impact", impact, &ev.Impact},
		{"humanitarian_needs", needs, &ev.Needs},
		{"sources", sources, &ev.Sources},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return crisis.Event{}, fmt.Errorf("decode %s for %s: %w", col.name, ev.ID, err)
		}
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}
