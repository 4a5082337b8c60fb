// Package collector owns the registered collectors and drives collection cycles.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crisiswatch/crisis-collector/internal/clock/system"
	"github.com/crisiswatch/crisis-collector/internal/crisis"
	"github.com/crisiswatch/crisis-collector/internal/logging"
	"github.com/crisiswatch/crisis-collector/internal/metrics"
)

const (
	// DefaultInterval separates consecutive cycles.
	DefaultInterval = 60 * time.Second
	// DefaultFallbackInterval is the wait after a failed cycle.
	DefaultFallbackInterval = 60 * time.Second
)

var tracer = otel.Tracer("github.com/crisiswatch/crisis-collector/internal/collector")

// Config controls cycle scheduling and persistence.
type Config struct {
	Interval         time.Duration
	FallbackInterval time.Duration
	// Store receives each cycle's events. Nil disables persistence.
	Store crisis.EventStore
	Clock crisis.Clock
}

// CycleResult summarizes one collection cycle.
type CycleResult struct {
	Events   []crisis.Event
	Inserted int
	Duration time.Duration
}

type loopHandle struct {
	stop chan struct{}
	done chan struct{}
}

// Manager runs collectors with per-collector failure isolation and schedules the
// periodic collection loop.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.Mutex
	collectors []crisis.Collector
	ready      map[string]bool
	loop       *loopHandle
	last       *loopHandle
	lastRun    time.Time
	cumulative int64

	// cycleMu keeps cycles from overlapping.
	cycleMu sync.Mutex
}

// New constructs a Manager with the given collectors registered in order.
func New(cfg Config, logger *zap.Logger, collectors ...crisis.Collector) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FallbackInterval <= 0 {
		cfg.FallbackInterval = DefaultFallbackInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("manager"),
		ready:  make(map[string]bool),
	}
	for _, c := range collectors {
		m.Register(c)
	}
	return m
}

// Register appends a collector. Nil collectors are ignored.
func (m *Manager) Register(c crisis.Collector) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collectors = append(m.collectors, c)
}

func (m *Manager) snapshot() []crisis.Collector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]crisis.Collector(nil), m.collectors...)
}

// Collectors returns the registered collector names in registration order.
func (m *Manager) Collectors() []string {
	collectors := m.snapshot()
	names := make([]string, 0, len(collectors))
	for _, c := range collectors {
		names = append(names, c.Name())
	}
	return names
}

// InitializeAll runs every collector's readiness check and reports whether all passed.
// A failing collector is logged and recorded; the rest are still checked.
func (m *Manager) InitializeAll(ctx context.Context) bool {
	allValid := true
	for _, c := range m.snapshot() {
		ok := m.validate(ctx, c)
		if !ok {
			allValid = false
			m.logger.Warn("collector failed readiness check", zap.String("collector", c.Name()))
		}
		m.mu.Lock()
		m.ready[c.Name()] = ok
		m.mu.Unlock()
	}
	return allValid
}

func (m *Manager) validate(ctx context.Context, c crisis.Collector) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("collector readiness check panicked",
				zap.String("collector", c.Name()), zap.Any("panic", r))
			ok = false
		}
	}()
	return c.ValidateCredentials(ctx)
}

// Readiness returns the outcome of the last InitializeAll per collector.
func (m *Manager) Readiness() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.ready))
	for k, v := range m.ready {
		out[k] = v
	}
	return out
}

// CollectAll runs every collector concurrently and merges their events.
// It never fails: a collector that errors or panics contributes what it returned, or nothing.
func (m *Manager) CollectAll(ctx context.Context) []crisis.Event {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	return m.collectAll(ctx)
}

func (m *Manager) collectAll(ctx context.Context) []crisis.Event {
	collectors := m.snapshot()
	results := make([][]crisis.Event, len(collectors))

	var wg sync.WaitGroup
	for i, c := range collectors {
		wg.Add(1)
		go func(i int, c crisis.Collector) {
			defer wg.Done()
			results[i] = m.collectOne(ctx, c)
		}(i, c)
	}
	wg.Wait()

	var events []crisis.Event
	for i, batch := range results {
		for _, ev := range batch {
			metrics.ObserveEvent(collectors[i].Name(), string(ev.EventType))
		}
		events = append(events, batch...)
	}

	m.mu.Lock()
	m.cumulative += int64(len(events))
	m.lastRun = m.cfg.Clock.Now()
	m.mu.Unlock()
	return events
}

func (m *Manager) collectOne(ctx context.Context, c crisis.Collector) (events []crisis.Event) {
	name := c.Name()
	ctx, span := tracer.Start(ctx, "collector.collect", trace.WithAttributes(attribute.String("collector", name)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("collector panicked", zap.String("collector", name), zap.Any("panic", r))
			metrics.ObserveCollectorFailure(name)
			span.SetStatus(codes.Error, "collector panicked")
			events = nil
		}
		span.SetAttributes(attribute.Int("events", len(events)))
	}()
	events, err := c.Collect(ctx)
	if err != nil {
		span.RecordError(err)
		m.logger.Error("collector reported failure",
			zap.String("collector", name),
			zap.Int("events", len(events)),
			zap.Error(err))
		metrics.ObserveCollectorFailure(name)
	}
	return events
}

// RunCycle collects from every collector and hands the events to the store.
// The returned error covers persistence only; the events are returned either way.
func (m *Manager) RunCycle(ctx context.Context) (CycleResult, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	return m.runCycle(ctx)
}

func (m *Manager) runCycle(ctx context.Context) (res CycleResult, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "collection.cycle")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collection cycle panicked: %v", r)
		}
		res.Duration = time.Since(start)
		span.SetAttributes(attribute.Int("events", len(res.Events)), attribute.Int("inserted", res.Inserted))
		result := metrics.CycleOK
		if err != nil {
			result = metrics.CycleError
			span.RecordError(err)
			span.SetStatus(codes.Error, "collection cycle failed")
		}
		metrics.ObserveCycle(result, res.Duration)
	}()

	res.Events = m.collectAll(ctx)
	if m.cfg.Store == nil || len(res.Events) == 0 {
		return res, nil
	}
	n, err := m.cfg.Store.InsertMany(ctx, res.Events)
	if err != nil {
		return res, fmt.Errorf("persist %d events: %w", len(res.Events), err)
	}
	res.Inserted = n
	return res, nil
}

// StartLoop starts the periodic collection loop. It reports false when a loop is
// already running. The loop lives until Stop is called or ctx is canceled.
func (m *Manager) StartLoop(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loop != nil {
		return false
	}
	h := &loopHandle{stop: make(chan struct{}), done: make(chan struct{})}
	m.loop = h
	m.last = h
	metrics.SetLoopRunning(true)
	go m.run(ctx, h)
	m.logger.Info("collection loop started", zap.Duration("interval", m.cfg.Interval))
	return true
}

// Stop signals the loop to exit. It does not wait and does not abort a cycle in
// flight, but no new cycle begins once Stop returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loop == nil {
		return
	}
	close(m.loop.stop)
	m.loop = nil
	metrics.SetLoopRunning(false)
	m.logger.Info("collection loop stopping")
}

// Wait blocks until the most recently started loop has exited.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	h := m.last
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for collection loop: %w", ctx.Err())
	}
}

// beginCycle takes the cycle lock and then decides, under the manager lock,
// whether h may start another cycle. On true the caller owns cycleMu.
func (m *Manager) beginCycle(ctx context.Context, h *loopHandle) bool {
	m.cycleMu.Lock()
	m.mu.Lock()
	defer m.mu.Unlock()
	stopped := ctx.Err() != nil
	select {
	case <-h.stop:
		stopped = true
	default:
	}
	if stopped {
		m.cycleMu.Unlock()
		return false
	}
	return true
}

func (m *Manager) run(ctx context.Context, h *loopHandle) {
	defer close(h.done)
	defer m.release(h)

	for {
		if !m.beginCycle(ctx, h) {
			return
		}
		wait := m.cfg.Interval
		res, err := m.runCycle(ctx)
		m.cycleMu.Unlock()
		if err != nil {
			m.logger.Error("collection cycle failed",
				zap.Error(err),
				zap.Int("events", len(res.Events)),
				zap.Duration("retry_in", m.cfg.FallbackInterval))
			wait = m.cfg.FallbackInterval
		} else {
			m.logger.Info("collection cycle finished",
				zap.Int("events", len(res.Events)),
				zap.Int("inserted", res.Inserted),
				zap.Duration("duration", res.Duration))
		}

		timer := time.NewTimer(wait)
		select {
		case <-h.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) release(h *loopHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loop == h {
		m.loop = nil
		metrics.SetLoopRunning(false)
	}
	m.logger.Info("collection loop exited")
}

// Status returns a snapshot of the loop state and run statistics.
func (m *Manager) Status() crisis.RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return crisis.RunStatus{
		Running:         m.loop != nil,
		LastRun:         m.lastRun,
		CumulativeCount: m.cumulative,
	}
}

// Cleanup stops the loop and releases every collector's resources. A collector
// that fails to clean up is logged and does not prevent the others.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.Stop()
	var errs []error
	for _, c := range m.snapshot() {
		if err := m.cleanupOne(ctx, c); err != nil {
			m.logger.Error("collector cleanup failed", zap.String("collector", c.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) cleanupOne(ctx context.Context, c crisis.Collector) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup panicked: %v", r)
		}
	}()
	return c.Cleanup(ctx)
}
