package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crisiswatch/crisis-collector/internal/collector"
	"github.com/crisiswatch/crisis-collector/internal/crisis"
	"github.com/crisiswatch/crisis-collector/internal/storage/memory"
)

var now = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return now }

type fakeCollector struct {
	events []crisis.Event
	valid  bool
}

func (c *fakeCollector) Name() string                                    { return "fake" }
func (c *fakeCollector) ValidateCredentials(context.Context) bool        { return c.valid }
func (c *fakeCollector) Collect(context.Context) ([]crisis.Event, error) { return c.events, nil }
func (c *fakeCollector) Cleanup(context.Context) error                   { return nil }

func event(id string, typ crisis.EventType, at time.Time) crisis.Event {
	return crisis.Event{
		ID:        id,
		Title:     "title " + id,
		EventType: typ,
		Urgency:   crisis.UrgencyMedium,
		Status:    crisis.StatusActive,
		Location:  crisis.Location{Country: crisis.UnknownCountry},
		CreatedAt: at,
		Sources:   []crisis.Source{{Kind: crisis.SourceKindNews, Text: id, Timestamp: at}},
	}
}

type harness struct {
	server  *Server
	manager *collector.Manager
	store   *memory.EventStore
}

func newHarness(t *testing.T, opts Options, events ...crisis.Event) harness {
	t.Helper()
	store := memory.NewEventStore()
	mgr := collector.New(collector.Config{Interval: time.Hour, Store: store, Clock: fakeClock{}}, zap.NewNop(),
		&fakeCollector{events: events, valid: true})
	t.Cleanup(func() {
		mgr.Stop()
		_ = mgr.Wait(context.Background())
	})
	return harness{server: NewServer(mgr, store, opts, zap.NewNop()), manager: mgr, store: store}
}

func (h harness) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	rec := h.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	h.manager.InitializeAll(context.Background())
	rec = h.do(t, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fake":true`)

	unready := collector.New(collector.Config{}, zap.NewNop(), &fakeCollector{})
	unready.InitializeAll(context.Background())
	s := NewServer(unready, nil, Options{}, zap.NewNop())
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.do(t, http.MethodGet, "/healthz")
	rec := h.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRunCyclePersistsAndUpdatesStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, event("a", crisis.EventTypeFlood, now), event("b", crisis.EventTypeFire, now))

	rec := h.do(t, http.MethodPost, "/v1/collection/run")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[runResponse](t, rec)
	assert.Equal(t, 2, run.Collected)
	assert.Equal(t, 2, run.Inserted)

	rec = h.do(t, http.MethodGet, "/v1/collection/status")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, status["cumulative_count"])
	assert.Equal(t, now.Format(time.RFC3339), status["last_run"])
	assert.Equal(t, false, status["running"])
}

func TestStartAndStopLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, event("a", crisis.EventTypeFlood, now))

	rec := h.do(t, http.MethodPost, "/v1/collection/start")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started":true`)

	rec = h.do(t, http.MethodPost, "/v1/collection/start")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"started":false`)
	assert.True(t, h.manager.Status().Running, "the loop outlives the start request")

	rec = h.do(t, http.MethodPost, "/v1/collection/stop")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":false`)
	require.NoError(t, h.manager.Wait(context.Background()))
}

func TestListEventsAppliesFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	_, err := h.store.InsertMany(context.Background(), []crisis.Event{
		event("old-flood", crisis.EventTypeFlood, now.Add(-48*time.Hour)),
		event("new-flood", crisis.EventTypeFlood, now),
		event("fire", crisis.EventTypeFire, now),
	})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/v1/events?event_type=FLOOD&from="+now.Add(-time.Hour).Format(time.RFC3339))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[eventsResponse](t, rec)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "new-flood", body.Events[0].ID)
	assert.Equal(t, 100, body.Limit)

	rec = h.do(t, http.MethodGet, "/v1/events?sort=title&order=asc&limit=2&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode[eventsResponse](t, rec)
	require.Len(t, body.Events, 2)
	assert.Equal(t, "title new-flood", body.Events[0].Title)
	assert.Equal(t, "title old-flood", body.Events[1].Title)

	rec = h.do(t, http.MethodGet, "/v1/events?country=Atlantis")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events":[]`)
}

func TestListEventsDateOnlyUpperBoundCoversWholeDay(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	_, err := h.store.InsertMany(context.Background(), []crisis.Event{
		event("two-days-ago", crisis.EventTypeFlood, now.Add(-48*time.Hour)),
		event("this-morning", crisis.EventTypeFlood, now),
		event("tomorrow", crisis.EventTypeFlood, now.Add(24*time.Hour)),
	})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/v1/events?from=2026-04-02&to=2026-04-02")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[eventsResponse](t, rec)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "this-morning", body.Events[0].ID)

	rec = h.do(t, http.MethodGet, "/v1/events?to=2026-04-02")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[eventsResponse](t, rec).Count)
}

func TestListEventsRejectsBadParams(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	for _, target := range []string{
		"/v1/events?limit=-1",
		"/v1/events?offset=abc",
		"/v1/events?from=yesterday",
		"/v1/events?event_type=meteor",
		"/v1/events?sort=id",
		"/v1/events?from=2026-04-02&to=2026-04-01",
	} {
		rec := h.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

type brokenStore struct{}

func (brokenStore) InsertMany(context.Context, []crisis.Event) (int, error) { return 0, nil }
func (brokenStore) Query(context.Context, crisis.EventFilter) ([]crisis.Event, error) {
	return nil, errors.New("connection reset")
}

func TestListEventsStoreFailure(t *testing.T) {
	t.Parallel()

	mgr := collector.New(collector.Config{}, zap.NewNop())
	s := NewServer(mgr, brokenStore{}, Options{}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

type rejectingStore struct{ brokenStore }

func (rejectingStore) InsertMany(context.Context, []crisis.Event) (int, error) {
	return 0, errors.New(`password authentication failed for user "crisis"`)
}

func TestRunCycleFailureKeepsStoreErrorOutOfResponse(t *testing.T) {
	t.Parallel()

	mgr := collector.New(collector.Config{Store: rejectingStore{}, Clock: fakeClock{}}, zap.NewNop(),
		&fakeCollector{events: []crisis.Event{event("a", crisis.EventTypeFire, now)}, valid: true})
	s := NewServer(mgr, memory.NewEventStore(), Options{}, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/collection/run", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	run := decode[runResponse](t, rec)
	assert.Equal(t, 1, run.Collected)
	assert.Equal(t, "collection cycle failed", run.Error)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{APIKey: "s3cret"})
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/v1/collection/status").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/collection/status", strings.NewReader(""))
	req.Header.Set("X-API-Key", "s3cret")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
