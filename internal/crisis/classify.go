package crisis

import "strings"

type keywordGroup struct {
	eventType EventType
	keywords  []string
}

// classifierGroups is checked top to bottom; the first group with a hit wins.
var classifierGroups = []keywordGroup{
	{EventTypeEarthquake, []string{"earthquake", "tsunami", "volcano", "seismic"}},
	{EventTypeFlood, []string{"flood", "hurricane", "storm", "tornado"}},
	{EventTypeFire, []string{"fire", "wildfire", "blaze"}},
	{EventTypeViolence, []string{"war", "conflict", "attack", "violence", "crisis"}},
	{EventTypeDiseaseOutbreak, []string{"epidemic", "pandemic", "outbreak", "disease", "infection"}},
	{EventTypeInfrastructureFailure, []string{"collapse", "infrastructure", "power outage", "blackout"}},
	{EventTypeProtest, []string{"protest", "demonstration", "riot"}},
	{EventTypeIndustrialAccident, []string{"accident", "explosion", "spill", "leak"}},
}

// Classify maps a title to an event type. Titles that match no group are EventTypeOther.
func Classify(title string) EventType {
	lower := strings.ToLower(title)
	for _, group := range classifierGroups {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.eventType
			}
		}
	}
	return EventTypeOther
}
