// ABOUTME: Staged classification pipeline: LLM first when configured, keyword fallback
// ABOUTME: A stage error moves to the next stage; outcomes distinguish no-match from unavailable

package classify

import (
	"context"
	"log/slog"

	"github.com/relaydesk/switchboard/internal/analyzer"
)

// Outcome says how classification concluded
type Outcome string

const (
	// OutcomeMatched means a stage produced at least one tag
	OutcomeMatched Outcome = "matched"

	// OutcomeNoMatch means every reachable stage ran and found nothing
	OutcomeNoMatch Outcome = "no_match"

	// OutcomeUnavailable means every stage failed outright
	OutcomeUnavailable Outcome = "unavailable"
)

// Result is the pipeline's answer for one message
type Result struct {
	Tags    []analyzer.DetectedTag
	Outcome Outcome
	Stage   string
}

// Stage is one classification strategy
type Stage interface {
	Name() string
	Classify(ctx context.Context, message string) ([]analyzer.DetectedTag, error)
}

// Pipeline runs stages in order until one produces tags
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// NewPipeline creates a pipeline over the given stages, tried in order
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{
		stages: stages,
		logger: slog.Default().With("component", "classify"),
	}
}

// Classify runs the message through the stages. The first stage that
// returns tags wins; a failing stage is skipped. With no stages
// succeeding at all the result is OutcomeUnavailable.
func (p *Pipeline) Classify(ctx context.Context, message string) Result {
	ran := 0
	for _, stage := range p.stages {
		tags, err := stage.Classify(ctx, message)
		if err != nil {
			p.logger.Warn("classification stage failed",
				"stage", stage.Name(), "error", err)
			continue
		}
		ran++
		if len(tags) > 0 {
			return Result{Tags: tags, Outcome: OutcomeMatched, Stage: stage.Name()}
		}
	}
	if ran == 0 {
		return Result{Outcome: OutcomeUnavailable}
	}
	return Result{Outcome: OutcomeNoMatch}
}

// KeywordStage adapts the keyword analyzer into a pipeline stage
type KeywordStage struct {
	analyzer *analyzer.Analyzer
}

// NewKeywordStage wraps an analyzer
func NewKeywordStage(a *analyzer.Analyzer) *KeywordStage {
	return &KeywordStage{analyzer: a}
}

func (s *KeywordStage) Name() string { return "keyword_analysis" }

func (s *KeywordStage) Classify(_ context.Context, message string) ([]analyzer.DetectedTag, error) {
	return s.analyzer.Analyze(message), nil
}
