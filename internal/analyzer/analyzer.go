// ABOUTME: Keyword-based message analysis producing skill tags with confidence scores
// ABOUTME: Substring matching over lowercased text, phrases weighted above keywords

package analyzer

import (
	"log/slog"
	"math"
	"sort"
	"strings"
)

// DetectedTag is one skill category matched in a message
type DetectedTag struct {
	Name             string   `json:"tag_name"`
	Confidence       float64  `json:"confidence"`
	DetectedKeywords []string `json:"detected_keywords"`
	KeywordCount     int      `json:"keyword_count"`
	PhraseCount      int      `json:"phrase_count"`
}

// Analyzer detects skill categories in customer messages
type Analyzer struct {
	table  SkillTable
	logger *slog.Logger
}

// New creates an analyzer with the given skill table. A nil table
// falls back to the built-in vocabulary.
func New(table SkillTable) *Analyzer {
	if table == nil {
		table = DefaultSkillTable()
	}
	return &Analyzer{
		table:  table,
		logger: slog.Default().With("component", "analyzer"),
	}
}

// Analyze scans the message for each category's vocabulary and returns
// the categories whose confidence clears the inclusion floor, highest
// confidence first. Empty input yields no tags.
//
// Scoring per category: each keyword hit adds 0.1 (capped at 0.5 total),
// each phrase hit adds 0.3, three or more keyword hits add a 0.2 bonus,
// and the result is clamped to 1.0. Categories at or below 0.1 are
// dropped.
func (a *Analyzer) Analyze(message string) []DetectedTag {
	if message == "" {
		return nil
	}

	lower := strings.ToLower(message)
	var tags []DetectedTag

	for category, pattern := range a.table {
		var detected []string

		keywordMatches := 0
		for _, keyword := range pattern.Keywords {
			if strings.Contains(lower, keyword) {
				keywordMatches++
				detected = append(detected, keyword)
			}
		}

		phraseMatches := 0
		confidence := 0.0
		for _, phrase := range pattern.Phrases {
			if strings.Contains(lower, phrase) {
				phraseMatches++
				detected = append(detected, phrase)
				confidence += 0.3
			}
		}

		if keywordMatches > 0 {
			confidence += math.Min(float64(keywordMatches)*0.1, 0.5)
		}
		if keywordMatches >= 3 {
			confidence += 0.2
		}
		confidence = math.Min(confidence, 1.0)

		if confidence > 0.1 {
			tags = append(tags, DetectedTag{
				Name:             category,
				Confidence:       math.Round(confidence*1000) / 1000,
				DetectedKeywords: detected,
				KeywordCount:     keywordMatches,
				PhraseCount:      phraseMatches,
			})
		}
	}

	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Confidence != tags[j].Confidence {
			return tags[i].Confidence > tags[j].Confidence
		}
		return tags[i].Name < tags[j].Name
	})

	if len(tags) > 0 {
		a.logger.Debug("message analyzed",
			"categories", len(tags),
			"top", tags[0].Name,
			"confidence", tags[0].Confidence)
	}
	return tags
}

// TagNames returns just the category names from a detection result
func TagNames(tags []DetectedTag) []string {
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Name
	}
	return names
}
