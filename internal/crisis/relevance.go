package crisis

import (
	"sort"
	"strings"
)

// RelevanceFilter decides whether text mentions a crisis by keyword substring match.
// It holds no mutable state and is safe for concurrent use.
type RelevanceFilter struct {
	keywords []string
}

// NewRelevanceFilter flattens the keyword groups and hashtags into one lowercased,
// deduplicated corpus.
func NewRelevanceFilter(groups map[string][]string, hashtags []string) *RelevanceFilter {
	seen := make(map[string]struct{})
	add := func(kw string) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			return
		}
		seen[kw] = struct{}{}
	}
	for _, group := range groups {
		for _, kw := range group {
			add(kw)
		}
	}
	for _, tag := range hashtags {
		add(strings.ReplaceAll(tag, "#", ""))
	}
	keywords := make([]string, 0, len(seen))
	for kw := range seen {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	return &RelevanceFilter{keywords: keywords}
}

// DefaultRelevanceFilter builds a filter over DefaultKeywords and DefaultHashtags.
func DefaultRelevanceFilter() *RelevanceFilter {
	return NewRelevanceFilter(DefaultKeywords, DefaultHashtags)
}

// Keywords returns a copy of the corpus in sorted order.
func (f *RelevanceFilter) Keywords() []string {
	return append([]string(nil), f.keywords...)
}

// IsRelevant reports whether any corpus keyword occurs in text, ignoring case.
func (f *RelevanceFilter) IsRelevant(text string) bool {
	_, ok := f.Match(text)
	return ok
}

// Match returns the first corpus keyword found in text.
func (f *RelevanceFilter) Match(text string) (string, bool) {
	if f == nil || text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}
