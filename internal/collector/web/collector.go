// Package web implements the collector that scrapes crisis news from configured sites.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/crisiswatch/crisis-collector/internal/crisis"
	"github.com/crisiswatch/crisis-collector/internal/logging"
	"github.com/crisiswatch/crisis-collector/internal/metrics"
)

// Name identifies this collector in logs and metrics.
const Name = "web"

// SessionFactory opens a fetch session. It is called lazily on first use.
type SessionFactory func() (crisis.Session, error)

var tracer = otel.Tracer("github.com/crisiswatch/crisis-collector/internal/collector/web")

// Limiter spaces out fetches against the same host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Promoter decides whether a static page should be fetched again through the renderer.
type Promoter interface {
	ShouldPromote(page crisis.Page) bool
}

// Config wires the collector's collaborators.
type Config struct {
	Sources []crisis.SourceConfig
	Filter  *crisis.RelevanceFilter
	IDs     crisis.IDGenerator
	Clock   crisis.Clock
	// Static opens the session used for static sources.
	Static SessionFactory
	// Rendered opens the session used for script-rendered sources. Nil disables them.
	Rendered SessionFactory
	// Limiter is optional.
	Limiter Limiter
	// Promoter is optional; static sources are only escalated when it is set and
	// Rendered is available.
	Promoter Promoter
}

// Collector fetches every configured source, keeps crisis-relevant articles and
// turns them into events.
type Collector struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[crisis.RenderMode]crisis.Session
}

// New constructs a Collector.
func New(cfg Config, logger *zap.Logger) *Collector {
	if cfg.Filter == nil {
		cfg.Filter = crisis.DefaultRelevanceFilter()
	}
	return &Collector{
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("web"),
		sessions: make(map[crisis.RenderMode]crisis.Session),
	}
}

// Name implements crisis.Collector.
func (c *Collector) Name() string {
	return Name
}

// ValidateCredentials checks the source catalog without touching the network.
// Web sources need no credentials, so readiness means every source is usable.
func (c *Collector) ValidateCredentials(_ context.Context) bool {
	if c.cfg.IDs == nil || c.cfg.Clock == nil || c.cfg.Static == nil {
		c.logger.Error("collector is missing collaborators")
		return false
	}
	valid := true
	for _, src := range c.cfg.Sources {
		if err := c.checkSource(src); err != nil {
			c.logger.Error("source is not usable", zap.String("source", src.Name), zap.Error(err))
			valid = false
		}
	}
	return valid
}

func (c *Collector) checkSource(src crisis.SourceConfig) error {
	u, err := url.Parse(src.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("origin %q is not an absolute http(s) URL", src.URL)
	}
	if src.ArticleSelector == "" || src.TitleSelector == "" || src.LinkSelector == "" {
		return errors.New("article, title and link selectors are required")
	}
	if src.Render == crisis.RenderScripted && c.cfg.Rendered == nil {
		return errors.New("source needs rendering but no renderer is configured")
	}
	return nil
}

// Collect scrapes all sources concurrently. Each source's events keep document order;
// sources are merged in catalog order. Source failures are logged and yield no events.
func (c *Collector) Collect(ctx context.Context) ([]crisis.Event, error) {
	results := make([][]crisis.Event, len(c.cfg.Sources))
	var wg sync.WaitGroup
	for i, src := range c.cfg.Sources {
		wg.Add(1)
		go func(i int, src crisis.SourceConfig) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					c.logger.Error("source scrape panicked", zap.String("source", src.Name), zap.Any("panic", rec))
				}
			}()
			results[i] = c.scrapeSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	var events []crisis.Event
	for _, r := range results {
		events = append(events, r...)
	}
	c.logger.Info("collected crisis events from web sources",
		zap.Int("events", len(events)),
		zap.Int("sources", len(c.cfg.Sources)),
	)
	if err := ctx.Err(); err != nil {
		return events, fmt.Errorf("web collection interrupted: %w", err)
	}
	return events, nil
}

// Cleanup closes any open sessions. It is idempotent.
func (c *Collector) Cleanup(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for mode, session := range c.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s session: %w", mode, err))
		}
		delete(c.sessions, mode)
	}
	return errors.Join(errs...)
}

func (c *Collector) session(mode crisis.RenderMode) (crisis.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[mode]; ok {
		return s, nil
	}
	factory := c.cfg.Static
	if mode == crisis.RenderScripted {
		factory = c.cfg.Rendered
	}
	if factory == nil {
		return nil, fmt.Errorf("no session configured for %s sources", mode)
	}
	s, err := factory()
	if err != nil {
		return nil, fmt.Errorf("open %s session: %w", mode, err)
	}
	c.sessions[mode] = s
	return s, nil
}

func (c *Collector) scrapeSource(ctx context.Context, src crisis.SourceConfig) []crisis.Event {
	page, ok := c.fetch(ctx, src, src.Render)
	if !ok {
		return nil
	}
	fetchedAt := c.cfg.Clock.Now()
	articles, ok := c.parse(src, page.Body)
	if !ok {
		return nil
	}

	if articles.Length() == 0 && c.shouldPromote(src, page) {
		c.logger.Info("static markup looks script-rendered, retrying with renderer", zap.String("source", src.Name))
		if rendered, ok := c.fetch(ctx, src, crisis.RenderScripted); ok {
			if again, ok := c.parse(src, rendered.Body); ok {
				articles = again
				fetchedAt = c.cfg.Clock.Now()
			}
		}
	}
	if articles.Length() == 0 {
		c.logger.Info("selector matched no articles",
			zap.String("source", src.Name),
			zap.String("selector", src.ArticleSelector),
		)
		return nil
	}

	var events []crisis.Event
	articles.Each(func(_ int, article *goquery.Selection) {
		if ev, ok := c.processArticle(src, article, fetchedAt); ok {
			events = append(events, ev)
		}
	})
	c.logger.Debug("source scraped",
		zap.String("source", src.Name),
		zap.Int("candidates", articles.Length()),
		zap.Int("events", len(events)),
	)
	return events
}

func (c *Collector) shouldPromote(src crisis.SourceConfig, page crisis.Page) bool {
	return src.Render == crisis.RenderStatic &&
		c.cfg.Promoter != nil &&
		c.cfg.Rendered != nil &&
		c.cfg.Promoter.ShouldPromote(page)
}

func (c *Collector) parse(src crisis.SourceConfig, markup []byte) (*goquery.Selection, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		c.logger.Error("parse markup failed", zap.String("source", src.Name), zap.Error(err))
		return nil, false
	}
	return doc.Find(src.ArticleSelector), true
}

// fetch reports false on failure. An empty body is not a failure.
func (c *Collector) fetch(ctx context.Context, src crisis.SourceConfig, mode crisis.RenderMode) (crisis.Page, bool) {
	ctx, span := tracer.Start(ctx, "source.fetch", trace.WithAttributes(
		attribute.String("source", src.Name),
		attribute.String("url", src.URL),
		attribute.String("render", string(mode)),
	))
	defer span.End()

	session, err := c.session(mode)
	if err != nil {
		metrics.ObserveSourceFetch(src.URL, metrics.FetchError)
		c.logger.Error("fetch session unavailable", zap.String("source", src.Name), zap.Error(err))
		return crisis.Page{}, false
	}
	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Wait(ctx, src.URL); err != nil {
			metrics.ObserveSourceFetch(src.URL, metrics.FetchError)
			c.logger.Error("fetch not attempted", zap.String("source", src.Name), zap.Error(err))
			return crisis.Page{}, false
		}
	}
	page, err := session.Fetch(ctx, src.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		metrics.ObserveSourceFetch(src.URL, metrics.FetchError)
		c.logger.Error("fetch failed",
			zap.String("source", src.Name),
			zap.String("url", src.URL),
			zap.String("render", string(mode)),
			zap.Error(err),
		)
		return crisis.Page{}, false
	}
	if len(bytes.TrimSpace(page.Body)) == 0 {
		metrics.ObserveSourceFetch(src.URL, metrics.FetchEmpty)
		c.logger.Info("source returned empty markup", zap.String("source", src.Name), zap.String("render", string(mode)))
		return page, true
	}
	span.SetAttributes(attribute.Int("bytes", len(page.Body)), attribute.Int("status_code", page.StatusCode))
	metrics.ObserveSourceFetch(src.URL, metrics.FetchOK)
	c.logger.Debug("fetched source",
		zap.String("source", src.Name),
		zap.Int("bytes", len(page.Body)),
		zap.Duration("duration", page.Duration),
	)
	return page, true
}

// processArticle turns one matched node into an event. A panic here skips only this article.
func (c *Collector) processArticle(
	src crisis.SourceConfig,
	article *goquery.Selection,
	fetchedAt time.Time,
) (ev crisis.Event, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveCandidate(src.URL, metrics.CandidateSkipped)
			c.logger.Error("article processing panicked", zap.String("source", src.Name), zap.Any("panic", rec))
			ev, ok = crisis.Event{}, false
		}
	}()

	cand, found := extractCandidate(src, article)
	if !found {
		metrics.ObserveCandidate(src.URL, metrics.CandidateSkipped)
		c.logger.Debug("article missing title or link", zap.String("source", src.Name))
		return crisis.Event{}, false
	}
	if !c.cfg.Filter.IsRelevant(combinedText(cand)) {
		metrics.ObserveCandidate(src.URL, metrics.CandidateIrrelevant)
		return crisis.Event{}, false
	}

	ev, err := c.buildEvent(cand, fetchedAt)
	if err != nil {
		metrics.ObserveCandidate(src.URL, metrics.CandidateSkipped)
		c.logger.Error("build event failed", zap.String("source", src.Name), zap.Error(err))
		return crisis.Event{}, false
	}
	metrics.ObserveCandidate(src.URL, metrics.CandidateRelevant)
	return ev, true
}

func (c *Collector) buildEvent(cand crisis.Candidate, fetchedAt time.Time) (crisis.Event, error) {
	id, err := c.cfg.IDs.NewID()
	if err != nil {
		return crisis.Event{}, fmt.Errorf("event id: %w", err)
	}
	return crisis.Event{
		ID:        id,
		Title:     cand.Title,
		EventType: crisis.Classify(cand.Title),
		Urgency:   crisis.UrgencyMedium,
		Status:    crisis.StatusActive,
		Location:  crisis.Location{Country: crisis.UnknownCountry},
		CreatedAt: fetchedAt,
		Sources: []crisis.Source{{
			Kind:      crisis.SourceKindNews,
			URL:       cand.Link,
			Text:      cand.Title,
			Timestamp: fetchedAt,
		}},
	}, nil
}

// extractCandidate reads title, link and snippet from an article node.
// It reports false when the title or link node is missing.
func extractCandidate(src crisis.SourceConfig, article *goquery.Selection) (crisis.Candidate, bool) {
	titleNode := article.Find(src.TitleSelector).First()
	linkNode := article.Find(src.LinkSelector).First()
	if titleNode.Length() == 0 || linkNode.Length() == 0 {
		return crisis.Candidate{}, false
	}
	href, _ := linkNode.Attr("href")
	cand := crisis.Candidate{
		Title: strings.TrimSpace(titleNode.Text()),
		Link:  NormalizeLink(src.URL, strings.TrimSpace(href)),
	}
	if src.SnippetSelector != "" {
		cand.Snippet = strings.TrimSpace(article.Find(src.SnippetSelector).First().Text())
	}
	return cand, true
}

func combinedText(cand crisis.Candidate) string {
	text := strings.ToLower(cand.Title)
	if cand.Snippet != "" {
		text += " " + strings.ToLower(cand.Snippet)
	}
	return text
}

// NormalizeLink rewrites a root-relative link against the origin's scheme and host.
// Scheme-relative links ("//host/path") take the origin's scheme. Anything else is returned unchanged.
func NormalizeLink(origin, link string) string {
	if !strings.HasPrefix(link, "/") {
		return link
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return link
	}
	if strings.HasPrefix(link, "//") {
		return u.Scheme + ":" + link
	}
	return u.Scheme + "://" + u.Host + link
}
