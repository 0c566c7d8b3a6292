// ABOUTME: LLM classification stage backed by the Anthropic Messages API
// ABOUTME: Asks the model to pick categories and returns them at fixed confidence

package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	analyzerpkg "github.com/relaydesk/switchboard/internal/analyzer"
)

// llmConfidence is assigned to every LLM-detected category. The model
// sees the whole message, so its matches outrank single keyword hits.
const llmConfidence = 0.8

// llmTimeout bounds one classification call. Routing falls through to
// the keyword stage when the model is slow.
const llmTimeout = 10 * time.Second

const systemPrompt = `You classify customer support messages into skill categories.
Respond with a JSON array of category names from the allowed list, best match first.
Respond with [] if none apply. No prose.`

// LLMStage classifies messages with an Anthropic model
type LLMStage struct {
	client     anthropic.Client
	model      string
	categories []string
}

// LLMConfig configures the LLM stage
type LLMConfig struct {
	APIKey string
	Model  string
}

// NewLLMStage creates the stage. categories is the allowed category
// vocabulary, typically the skill table's keys.
func NewLLMStage(cfg LLMConfig, categories []string) *LLMStage {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	sorted := append([]string(nil), categories...)
	sort.Strings(sorted)
	return &LLMStage{
		client:     anthropic.NewClient(opts...),
		model:      cfg.Model,
		categories: sorted,
	}
}

func (s *LLMStage) Name() string { return "llm_analysis" }

func (s *LLMStage) Classify(ctx context.Context, message string) ([]analyzerpkg.DetectedTag, error) {
	if message == "" {
		return nil, nil
	}

	prompt := fmt.Sprintf("Allowed categories: %s\n\nMessage:\n%s",
		strings.Join(s.categories, ", "), message)

	ctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 256,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("messages api: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	names, err := parseCategories(text, s.categories)
	if err != nil {
		return nil, err
	}

	tags := make([]analyzerpkg.DetectedTag, 0, len(names))
	for _, name := range names {
		tags = append(tags, analyzerpkg.DetectedTag{
			Name:             name,
			Confidence:       llmConfidence,
			DetectedKeywords: []string{"llm_intent"},
		})
	}
	return tags, nil
}

// parseCategories extracts the JSON array from the model output and
// keeps only allowed categories, deduplicated in response order
func parseCategories(text string, allowed []string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	var names []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &names); err != nil {
		return nil, fmt.Errorf("parsing model output: %w", err)
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if allowedSet[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}
