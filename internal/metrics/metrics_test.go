package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(sourceFetchesTotal.WithLabelValues("news.example.org", FetchError))
	ObserveSourceFetch("https://news.example.org/world", FetchError)
	if got := testutil.ToFloat64(sourceFetchesTotal.WithLabelValues("news.example.org", FetchError)); got != before+1 {
		t.Fatalf("expected fetch counter to increase by 1, got %v -> %v", before, got)
	}

	beforeEvents := testutil.ToFloat64(eventsTotal.WithLabelValues("web", "flood"))
	ObserveEvent("web", "flood")
	ObserveEvent("web", "flood")
	if got := testutil.ToFloat64(eventsTotal.WithLabelValues("web", "flood")); got != beforeEvents+2 {
		t.Fatalf("expected event counter to increase by 2, got %v -> %v", beforeEvents, got)
	}

	SetLoopRunning(true)
	if got := testutil.ToFloat64(loopRunning); got != 1 {
		t.Fatalf("expected loop gauge 1, got %v", got)
	}
	SetLoopRunning(false)
	if got := testutil.ToFloat64(loopRunning); got != 0 {
		t.Fatalf("expected loop gauge 0, got %v", got)
	}

	ObserveCycle("ok", 2*time.Second)
	ObserveCandidate("https://news.example.org", CandidateRelevant)
	ObserveCollectorFailure("web")
	ObserveHTTPRequest(http.MethodGet, "/v1/events", http.StatusOK, 10*time.Millisecond)
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	ObserveCycle("ok", time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "crisis_collection_cycles_total") {
		t.Fatal("expected cycle counter in exposition output")
	}
}
