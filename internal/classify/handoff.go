// ABOUTME: Extracts routing tags from chatbot handoff context payloads
// ABOUTME: Intent and category fields map onto tenant tags by loose name match

package classify

import (
	"encoding/json"
	"strings"

	"github.com/relaydesk/switchboard/internal/analyzer"
	"github.com/relaydesk/switchboard/internal/store"
)

// handoffConfidence reflects that the upstream bot already talked to
// the customer before handing off
const handoffConfidence = 0.8

// HandoffTags reads a conversation's handoff context JSON and maps the
// bot-provided intent or category onto a tenant tag. Unparseable
// context or no matching tag yields nothing; handoff data is advisory.
func HandoffTags(handoffContext string, tenantTags []*store.Tag) []analyzer.DetectedTag {
	if handoffContext == "" {
		return nil
	}

	var payload struct {
		Intent   string `json:"intent"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(handoffContext), &payload); err != nil {
		return nil
	}

	intent := payload.Intent
	if intent == "" {
		intent = payload.Category
	}
	if intent == "" {
		return nil
	}
	intent = strings.ToLower(intent)

	for _, tag := range tenantTags {
		if !tag.Active {
			continue
		}
		if strings.Contains(strings.ToLower(tag.Name), intent) ||
			strings.Contains(strings.ToLower(tag.DisplayName), intent) {
			return []analyzer.DetectedTag{{
				Name:             tag.Name,
				Confidence:       handoffConfidence,
				DetectedKeywords: []string{"chatbot_intent"},
			}}
		}
	}
	return nil
}
