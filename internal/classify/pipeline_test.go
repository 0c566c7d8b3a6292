// ABOUTME: Tests for the staged classification pipeline and handoff tag extraction
// ABOUTME: Uses stub stages to drive matched, no-match, and unavailable outcomes

package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/internal/analyzer"
	"github.com/relaydesk/switchboard/internal/store"
)

type stubStage struct {
	name string
	tags []analyzer.DetectedTag
	err  error
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Classify(context.Context, string) ([]analyzer.DetectedTag, error) {
	return s.tags, s.err
}

func TestPipeline_FirstMatchingStageWins(t *testing.T) {
	first := &stubStage{name: "first", tags: []analyzer.DetectedTag{{Name: "billing", Confidence: 0.8}}}
	second := &stubStage{name: "second", tags: []analyzer.DetectedTag{{Name: "sales", Confidence: 0.9}}}

	result := NewPipeline(first, second).Classify(context.Background(), "msg")
	assert.Equal(t, OutcomeMatched, result.Outcome)
	assert.Equal(t, "first", result.Stage)
	require.Len(t, result.Tags, 1)
	assert.Equal(t, "billing", result.Tags[0].Name)
}

func TestPipeline_FailedStageFallsThrough(t *testing.T) {
	broken := &stubStage{name: "llm", err: errors.New("api timeout")}
	keyword := &stubStage{name: "keyword", tags: []analyzer.DetectedTag{{Name: "technical", Confidence: 0.4}}}

	result := NewPipeline(broken, keyword).Classify(context.Background(), "msg")
	assert.Equal(t, OutcomeMatched, result.Outcome)
	assert.Equal(t, "keyword", result.Stage)
}

func TestPipeline_NoMatch(t *testing.T) {
	empty := &stubStage{name: "keyword"}
	result := NewPipeline(empty).Classify(context.Background(), "msg")
	assert.Equal(t, OutcomeNoMatch, result.Outcome)
	assert.Empty(t, result.Tags)
}

func TestPipeline_AllStagesFailing(t *testing.T) {
	a := &stubStage{name: "a", err: errors.New("down")}
	b := &stubStage{name: "b", err: errors.New("down")}
	result := NewPipeline(a, b).Classify(context.Background(), "msg")
	assert.Equal(t, OutcomeUnavailable, result.Outcome)
}

func TestKeywordStage(t *testing.T) {
	stage := NewKeywordStage(analyzer.New(nil))
	tags, err := stage.Classify(context.Background(), "I need a refund for this charge")
	require.NoError(t, err)
	assert.NotEmpty(t, tags)
}

func TestParseCategories(t *testing.T) {
	allowed := []string{"billing", "technical", "sales"}

	names, err := parseCategories(`["billing", "technical"]`, allowed)
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "technical"}, names)

	// Wrapping prose is tolerated, unknown and duplicate names dropped
	names, err = parseCategories(`Categories: ["Billing", "billing", "made_up"]`, allowed)
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, names)

	_, err = parseCategories(`no json here`, allowed)
	assert.Error(t, err)
}

func TestHandoffTags(t *testing.T) {
	tags := []*store.Tag{
		{Name: "billing", DisplayName: "Billing & Payments", Active: true, CreatedAt: time.Now()},
		{Name: "technical", DisplayName: "Technical Support", Active: true, CreatedAt: time.Now()},
		{Name: "retired", DisplayName: "Old Billing", Active: false, CreatedAt: time.Now()},
	}

	detected := HandoffTags(`{"intent": "billing"}`, tags)
	require.Len(t, detected, 1)
	assert.Equal(t, "billing", detected[0].Name)
	assert.InDelta(t, 0.8, detected[0].Confidence, 0.001)

	// category is the fallback field
	detected = HandoffTags(`{"category": "technical"}`, tags)
	require.Len(t, detected, 1)
	assert.Equal(t, "technical", detected[0].Name)

	// matches against display names too
	detected = HandoffTags(`{"intent": "payments"}`, tags)
	require.Len(t, detected, 1)
	assert.Equal(t, "billing", detected[0].Name)

	assert.Empty(t, HandoffTags(`{"intent": "unknown_topic"}`, tags))
	assert.Empty(t, HandoffTags(`not json`, tags))
	assert.Empty(t, HandoffTags("", tags))
}
