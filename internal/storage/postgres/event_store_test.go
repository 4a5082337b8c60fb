package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crisiswatch/crisis-collector/internal/crisis"
)

var eventColumns = []string{
	"id", "title", "event_type", "urgency_level", "status", "location",
	"created_at", "impact", "humanitarian_needs", "sources",
}

func sampleEvent(id string) crisis.Event {
	now := time.Unix(1700000000, 0).UTC()
	return crisis.Event{
		ID:        id,
		Title:     "Flood warning issued",
		EventType: crisis.EventTypeFlood,
		Urgency:   crisis.UrgencyMedium,
		Status:    crisis.StatusActive,
		Location:  crisis.Location{Country: crisis.UnknownCountry},
		CreatedAt: now,
		Sources: []crisis.Source{{
			Kind:      crisis.SourceKindNews,
			URL:       "https://news.example/a",
			Text:      "Flood warning issued",
			Timestamp: now,
		}},
	}
}

func newStore(t *testing.T) (*EventStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewEventStoreWithPool(mock, "crisis_events")
	require.NoError(t, err)
	return store, mock
}

func TestNewEventStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewEventStoreWithPool(mock, "events; DROP TABLE x")
	require.Error(t, err)
	_, err = NewEventStoreWithPool(nil, "")
	require.Error(t, err)

	store, err := NewEventStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, defaultTable, store.table)
}

func TestInsertManyWritesRowsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	first, second := sampleEvent("ev-1"), sampleEvent("ev-2")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crisis_events").
		WithArgs(
			first.ID,
			first.Title,
			"flood",
			"medium",
			"active",
			"unknown",
			[]byte(`{"country":"unknown"}`),
			first.CreatedAt,
			[]byte(`{}`),
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO crisis_events").
		WithArgs(second.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	n, err := store.InsertMany(context.Background(), []crisis.Event{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "conflicting ids are not counted")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertManyRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)

	diskFull := errors.New("disk full")
	anyRow := func(id string) []any {
		args := []any{id}
		for range 10 {
			args = append(args, pgxmock.AnyArg())
		}
		return args
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crisis_events").
		WithArgs(anyRow("ev-1")...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO crisis_events").
		WithArgs(anyRow("ev-2")...).
		WillReturnError(diskFull)
	mock.ExpectRollback()

	n, err := store.InsertMany(context.Background(), []crisis.Event{sampleEvent("ev-1"), sampleEvent("ev-2")})
	require.ErrorIs(t, err, diskFull)
	assert.Zero(t, n)
	require.NoError(t, mock.ExpectationsWereMet(), "the batch is rolled back, never committed")
}

func TestInsertManySkipsEmptyAndRejectsInvalid(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)

	n, err := store.InsertMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	bad := sampleEvent("ev-1")
	bad.Sources = nil
	_, err = store.InsertMany(context.Background(), []crisis.Event{bad})
	require.ErrorIs(t, err, crisis.ErrNoSources)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryBuildsFilteredSelect(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	ev := sampleEvent("ev-1")
	from := ev.CreatedAt.Add(-time.Hour)

	rows := pgxmock.NewRows(eventColumns).AddRow(
		ev.ID, ev.Title, "flood", "medium", "active",
		[]byte(`{"country":"unknown"}`), ev.CreatedAt, []byte(`{"casualties":3}`),
		[]byte(`{"shelter":true}`),
		[]byte(`[{"type":"news","url":"https://news.example/a","text":"Flood warning issued","timestamp":"2023-11-14T22:13:20Z"}]`),
	)
	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM crisis_events WHERE event_type = $1 AND lower(country) = lower($2) AND created_at >= $3 ORDER BY created_at ASC, id ASC LIMIT $4 OFFSET $5",
	)).
		WithArgs("flood", "Unknown", from, 10, 0).
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), crisis.EventFilter{
		EventType: crisis.EventTypeFlood,
		Country:   "Unknown",
		From:      from,
		SortOrder: "ASC",
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.Equal(t, crisis.EventTypeFlood, got[0].EventType)
	require.NotNil(t, got[0].Impact.Casualties)
	assert.Equal(t, 3, *got[0].Impact.Casualties)
	assert.True(t, got[0].Needs.Shelter)
	require.Len(t, got[0].Sources, 1)
	assert.Equal(t, "https://news.example/a", got[0].Sources[0].URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryUrgencySortUsesRank(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY " + urgencyRank + " DESC, id DESC LIMIT $1 OFFSET $2")).
		WithArgs(100, 0).
		WillReturnRows(pgxmock.NewRows(eventColumns))

	got, err := store.Query(context.Background(), crisis.EventFilter{SortField: crisis.SortUrgency})
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRejectsInvalidFilter(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	_, err := store.Query(context.Background(), crisis.EventFilter{SortField: "id; drop"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crisis_events").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
