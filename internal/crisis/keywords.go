package crisis

// DefaultKeywords groups crisis indicators by category.
var DefaultKeywords = map[string][]string{
	"natural_disaster": {
		"earthquake", "flood", "hurricane", "tsunami", "tornado",
		"wildfire", "landslide", "volcanic eruption", "severe storm",
		"flash flood", "drought", "avalanche",
	},
	"human_conflict": {
		"bombing", "shooting", "explosion", "attack", "terrorism",
		"hostage", "riot", "armed conflict", "violence", "mass shooting",
		"civil unrest",
	},
	"health_crisis": {
		"outbreak", "epidemic", "pandemic", "mass casualty",
		"hospital emergency", "toxic spill", "disease outbreak",
		"public health emergency", "medical crisis",
	},
	"infrastructure": {
		"building collapse", "bridge collapse", "train derailment",
		"plane crash", "major accident", "infrastructure failure",
		"power outage", "gas leak", "structural failure",
	},
	"humanitarian": {
		"evacuation", "refugees", "humanitarian crisis",
		"emergency response", "disaster relief", "rescue operation",
		"missing people", "casualties", "stranded", "emergency shelter",
	},
}

// DefaultHashtags are tracked social tags; the leading '#' is stripped before matching.
var DefaultHashtags = []string{
	"#emergency", "#disaster", "#crisis", "#breaking",
	"#rescue", "#alert", "#emergency", "#breakingnews",
	"#disaster", "#SOS", "#urgenthelp", "#911", "#firstresponders",
	"#evacuation", "#relief", "#naturaldisaster",
}
