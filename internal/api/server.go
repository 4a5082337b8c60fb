package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crisiswatch/crisis-collector/internal/collector"
	"github.com/crisiswatch/crisis-collector/internal/crisis"
	"github.com/crisiswatch/crisis-collector/internal/logging"
	"github.com/crisiswatch/crisis-collector/internal/metrics"
	"github.com/crisiswatch/crisis-collector/internal/middleware"
)

// Controller is the part of the collection manager the API drives.
type Controller interface {
	StartLoop(ctx context.Context) bool
	Stop()
	Status() crisis.RunStatus
	Readiness() map[string]bool
	RunCycle(ctx context.Context) (collector.CycleResult, error)
}

// Options configures optional server behavior.
type Options struct {
	// APIKey, when non-empty, guards the /v1 routes.
	APIKey string
}

// Server wires HTTP handlers to the collection manager and the event store.
type Server struct {
	router  chi.Router
	control Controller
	events  crisis.EventStore
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(control Controller, events crisis.EventStore, opts Options, logger *zap.Logger) *Server {
	s := &Server{
		control: control,
		events:  events,
		logger:  logging.OrNop(logger).Named("api"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.Recover(s.logger))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(middleware.APIKey(opts.APIKey))
		}
		r.Route("/collection", func(r chi.Router) {
			r.Get("/status", s.getStatus)
			r.Post("/start", s.startLoop)
			r.Post("/stop", s.stopLoop)
			r.Post("/run", s.runCycle)
		})
		r.Get("/events", s.listEvents)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	readiness := s.control.Readiness()
	status := http.StatusOK
	for _, ok := range readiness {
		if !ok {
			status = http.StatusServiceUnavailable
			break
		}
	}
	s.writeJSON(w, status, map[string]any{"collectors": readiness})
}

type statusResponse struct {
	crisis.RunStatus
	Collectors map[string]bool `json:"collectors"`
}

func (s *Server) status() statusResponse {
	return statusResponse{RunStatus: s.control.Status(), Collectors: s.control.Readiness()}
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) startLoop(w http.ResponseWriter, r *http.Request) {
	// The loop must outlive the request that started it.
	started := s.control.StartLoop(context.WithoutCancel(r.Context()))
	code := http.StatusAccepted
	if !started {
		code = http.StatusOK
	}
	s.writeJSON(w, code, map[string]any{"started": started, "status": s.status()})
}

func (s *Server) stopLoop(w http.ResponseWriter, _ *http.Request) {
	s.control.Stop()
	s.writeJSON(w, http.StatusOK, map[string]any{"status": s.status()})
}

type runResponse struct {
	Collected  int    `json:"collected"`
	Inserted   int    `json:"inserted"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) runCycle(w http.ResponseWriter, r *http.Request) {
	res, err := s.control.RunCycle(r.Context())
	body := runResponse{
		Collected:  len(res.Events),
		Inserted:   res.Inserted,
		DurationMS: res.Duration.Milliseconds(),
	}
	if err != nil {
		s.logger.Error("manual collection cycle failed", zap.Error(err))
		body.Error = "collection cycle failed"
		s.writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	s.writeJSON(w, http.StatusOK, body)
}

type eventsResponse struct {
	Events []crisis.Event `json:"events"`
	Count  int            `json:"count"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event store is not configured")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err = filter.Normalize()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.events.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("event query failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, "event query failed")
		return
	}
	if events == nil {
		events = []crisis.Event{}
	}
	s.writeJSON(w, http.StatusOK, eventsResponse{
		Events: events,
		Count:  len(events),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func parseFilter(r *http.Request) (crisis.EventFilter, error) {
	q := r.URL.Query()
	f := crisis.EventFilter{
		EventType: crisis.EventType(strings.ToLower(q.Get("event_type"))),
		Urgency:   crisis.UrgencyLevel(strings.ToLower(q.Get("urgency"))),
		Status:    crisis.Status(strings.ToLower(q.Get("status"))),
		Country:   q.Get("country"),
		SortField: q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	var err error
	if f.From, err = parseTime(q.Get("from"), false); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTime(q.Get("to"), true); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		return f, fmt.Errorf("limit: %w", err)
	}
	if f.Offset, err = parseInt(q.Get("offset")); err != nil {
		return f, fmt.Errorf("offset: %w", err)
	}
	return f, nil
}

// parseTime accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 timestamp or YYYY-MM-DD, got %q", v)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t.UTC(), nil
}

func parseInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("expected a non-negative integer, got %q", v)
	}
	return n, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
