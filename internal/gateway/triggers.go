// ABOUTME: Detects when a customer message is asking for a human agent
// ABOUTME: Plain substring matching over a fixed trigger phrase list

package gateway

import (
	"fmt"
	"strings"
)

var handoffTriggers = []string{
	"speak to human", "talk to agent", "customer service", "live chat",
	"human support", "real person", "not helpful", "doesn't understand",
	"frustrated", "can't help", "talk to someone",
}

// WantsHuman reports whether the message asks for a human agent, with
// the matched trigger as the reason
func WantsHuman(message string) (bool, string) {
	lower := strings.ToLower(message)
	for _, trigger := range handoffTriggers {
		if strings.Contains(lower, trigger) {
			return true, fmt.Sprintf("Customer requested: %s", trigger)
		}
	}
	return false, ""
}
