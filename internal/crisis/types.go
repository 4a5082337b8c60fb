// Package crisis defines the event model, keyword heuristics and contracts shared across the collector.
package crisis

import (
	"errors"
	"fmt"
	"time"
)

// EventType is the closed set of crisis categories an article can be classified into.
type EventType string

// Event type values.
const (
	EventTypeEarthquake            EventType = "earthquake"
	EventTypeFlood                 EventType = "flood"
	EventTypeFire                  EventType = "fire"
	EventTypeViolence              EventType = "violence"
	EventTypeDiseaseOutbreak       EventType = "disease_outbreak"
	EventTypeInfrastructureFailure EventType = "infrastructure_failure"
	EventTypeProtest               EventType = "protest"
	EventTypeIndustrialAccident    EventType = "industrial_accident"
	EventTypeOther                 EventType = "other"
)

// EventTypes lists every event type in classification priority order, ending with the catch-all.
var EventTypes = []EventType{
	EventTypeEarthquake,
	EventTypeFlood,
	EventTypeFire,
	EventTypeViolence,
	EventTypeDiseaseOutbreak,
	EventTypeInfrastructureFailure,
	EventTypeProtest,
	EventTypeIndustrialAccident,
	EventTypeOther,
}

// Valid reports whether t belongs to the closed enumeration.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// UrgencyLevel ranks how quickly an event needs attention.
type UrgencyLevel string

// Urgency values.
const (
	UrgencyCritical   UrgencyLevel = "critical"
	UrgencyHigh       UrgencyLevel = "high"
	UrgencyMedium     UrgencyLevel = "medium"
	UrgencyLow        UrgencyLevel = "low"
	UrgencyMonitoring UrgencyLevel = "monitoring"
)

// Valid reports whether u is a known urgency level.
func (u UrgencyLevel) Valid() bool {
	switch u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow, UrgencyMonitoring:
		return true
	default:
		return false
	}
}

// Rank orders urgency levels from least (monitoring) to most (critical) pressing.
// Unknown levels rank lowest.
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyCritical:
		return 5
	case UrgencyHigh:
		return 4
	case UrgencyMedium:
		return 3
	case UrgencyLow:
		return 2
	case UrgencyMonitoring:
		return 1
	default:
		return 0
	}
}

// Status is the lifecycle state of a crisis event.
type Status string

// Status values.
const (
	StatusActive     Status = "active"
	StatusResolved   Status = "resolved"
	StatusMonitoring Status = "monitoring"
	StatusArchived   Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusMonitoring, StatusArchived:
		return true
	default:
		return false
	}
}

// RenderMode selects how a source's markup is obtained.
type RenderMode string

// Render modes.
const (
	RenderStatic   RenderMode = "static"
	RenderScripted RenderMode = "rendered"
)

// UnknownCountry is the location placeholder used until a location is resolved.
const UnknownCountry = "unknown"

// SourceKindNews tags provenance entries harvested from news sites.
const SourceKindNews = "news"

// SourceConfig describes one monitored site.
type SourceConfig struct {
	Name            string     `json:"name" mapstructure:"name"`
	URL             string     `json:"url" mapstructure:"url"`
	ArticleSelector string     `json:"article_selector" mapstructure:"article_selector"`
	TitleSelector   string     `json:"title_selector" mapstructure:"title_selector"`
	LinkSelector    string     `json:"link_selector" mapstructure:"link_selector"`
	SnippetSelector string     `json:"snippet_selector,omitempty" mapstructure:"snippet_selector"`
	Render          RenderMode `json:"render" mapstructure:"render"`
}

// Candidate is an article extracted from a page before filtering.
type Candidate struct {
	Title   string
	Link    string
	Snippet string
}

// Location is where an event takes place. Only Country is required.
type Location struct {
	Country     string      `json:"country"`
	City        string      `json:"city,omitempty"`
	Region      string      `json:"region,omitempty"`
	Coordinates *[2]float64 `json:"coordinates,omitempty"`
	Address     string      `json:"address,omitempty"`
}

// ImpactAssessment summarizes casualties and damage. Nil counts are unknown.
type ImpactAssessment struct {
	Casualties           *int   `json:"casualties,omitempty"`
	Injuries             *int   `json:"injuries,omitempty"`
	DisplacedPeople      *int   `json:"displaced_people,omitempty"`
	AffectedPopulation   *int   `json:"affected_population,omitempty"`
	InfrastructureDamage string `json:"infrastructure_damage,omitempty"`
}

// HumanitarianNeeds flags the kinds of aid an event calls for.
type HumanitarianNeeds struct {
	MedicalAid           bool   `json:"medical_aid"`
	Shelter              bool   `json:"shelter"`
	FoodWater            bool   `json:"food_water"`
	RescueTeams          bool   `json:"rescue_teams"`
	Evacuation           bool   `json:"evacuation"`
	InfrastructureRepair bool   `json:"infrastructure_repair"`
	Details              string `json:"details,omitempty"`
}

// Source records where an event was observed.
type Source struct {
	Kind      string    `json:"type"`
	URL       string    `json:"url,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one detected crisis-related article. Events are not mutated after creation.
type Event struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	EventType EventType         `json:"event_type"`
	Urgency   UrgencyLevel      `json:"urgency_level"`
	Status    Status            `json:"status"`
	Location  Location          `json:"location"`
	CreatedAt time.Time         `json:"timestamp"`
	Impact    ImpactAssessment  `json:"impact"`
	Needs     HumanitarianNeeds `json:"humanitarian_needs"`
	Sources   []Source          `json:"sources"`
}

// ErrNoSources is returned when an event carries no provenance.
var ErrNoSources = errors.New("event has no sources")

// Validate checks the invariants every emitted event must hold.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("unknown event type %q", e.EventType)
	}
	if len(e.Sources) == 0 {
		return ErrNoSources
	}
	return nil
}

// RunStatus is a snapshot of the collection loop.
type RunStatus struct {
	Running         bool      `json:"running"`
	LastRun         time.Time `json:"last_run"`
	CumulativeCount int64     `json:"cumulative_count"`
}
