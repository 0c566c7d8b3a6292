// ABOUTME: Conversation context analysis: customer history, urgency, complexity, sentiment
// ABOUTME: History lookups are cached per customer with a short-lived LRU

package analyzer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/relaydesk/switchboard/internal/store"
)

const historyLookback = 5

var urgencyKeywords = []string{
	"urgent", "emergency", "asap", "immediately", "critical",
	"broken", "down", "not working", "stopped", "error",
	"frustrated", "angry", "disappointed", "terrible",
}

var technicalTerms = []string{
	"api", "integration", "webhook", "database", "server",
	"ssl", "certificate", "domain", "dns", "endpoint",
}

var positiveWords = []string{"good", "great", "excellent", "happy", "satisfied", "love", "perfect"}
var negativeWords = []string{"bad", "terrible", "awful", "hate", "frustrated", "angry", "disappointed"}

// CustomerHistory summarizes a customer's previous conversations
type CustomerHistory struct {
	IsNew                 bool     `json:"is_new"`
	PreviousConversations int      `json:"previous_conversations"`
	PreviousTags          []string `json:"previous_tags"`
	SatisfactionHistory   []int    `json:"satisfaction_history"`
	AvgSatisfaction       float64  `json:"avg_satisfaction"`
}

// Urgency describes how time-sensitive a conversation looks
type Urgency struct {
	Score      int      `json:"urgency_score"`
	Indicators []string `json:"indicators"`
	IsUrgent   bool     `json:"is_urgent"`
}

// ConversationContext carries everything the scorer needs beyond the
// detected tags themselves
type ConversationContext struct {
	History    CustomerHistory `json:"customer_history"`
	Urgency    Urgency         `json:"urgency_indicators"`
	Complexity int             `json:"complexity_score"`
	Sentiment  string          `json:"customer_sentiment"`
}

// ContextAnalyzer derives routing context from a conversation and the
// customer's history in the store
type ContextAnalyzer struct {
	store  store.Store
	cache  *expirable.LRU[string, CustomerHistory]
	logger *slog.Logger
}

// NewContextAnalyzer creates a context analyzer. History lookups are
// cached for cacheTTL (zero disables expiry-based eviction).
func NewContextAnalyzer(st store.Store, cacheTTL time.Duration) *ContextAnalyzer {
	return &ContextAnalyzer{
		store:  st,
		cache:  expirable.NewLRU[string, CustomerHistory](1024, nil, cacheTTL),
		logger: slog.Default().With("component", "analyzer"),
	}
}

// Analyze builds the full routing context for a conversation
func (c *ContextAnalyzer) Analyze(ctx context.Context, conv *store.Conversation) ConversationContext {
	return ConversationContext{
		History:    c.customerHistory(ctx, conv),
		Urgency:    DetectUrgency(conv.OriginalQuestion),
		Complexity: AssessComplexity(conv.OriginalQuestion),
		Sentiment:  AnalyzeSentiment(conv.OriginalQuestion),
	}
}

func (c *ContextAnalyzer) customerHistory(ctx context.Context, conv *store.Conversation) CustomerHistory {
	if conv.CustomerIdentifier == "" {
		return CustomerHistory{IsNew: true}
	}

	key := conv.TenantID + "/" + conv.CustomerIdentifier
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}

	convs, err := c.store.ListRecentConversations(ctx, conv.TenantID, conv.CustomerIdentifier, historyLookback+1)
	if err != nil {
		c.logger.Warn("customer history lookup failed", "error", err)
		return CustomerHistory{IsNew: true}
	}

	// Exclude the conversation being routed
	previous := make([]*store.Conversation, 0, len(convs))
	for _, prev := range convs {
		if prev.ID != conv.ID {
			previous = append(previous, prev)
		}
	}
	if len(previous) > historyLookback {
		previous = previous[:historyLookback]
	}
	if len(previous) == 0 {
		history := CustomerHistory{IsNew: true}
		c.cache.Add(key, history)
		return history
	}

	tagSet := make(map[string]bool)
	var scores []int
	for _, prev := range previous {
		if prev.CustomerSatisfaction > 0 {
			scores = append(scores, prev.CustomerSatisfaction)
		}
		tags, err := c.store.ListConversationTags(ctx, prev.ID)
		if err != nil {
			continue
		}
		for _, tag := range tags {
			tagSet[tag] = true
		}
	}

	history := CustomerHistory{
		IsNew:                 false,
		PreviousConversations: len(previous),
		SatisfactionHistory:   scores,
	}
	for tag := range tagSet {
		history.PreviousTags = append(history.PreviousTags, tag)
	}
	if len(scores) > 0 {
		sum := 0
		for _, s := range scores {
			sum += s
		}
		history.AvgSatisfaction = float64(sum) / float64(len(scores))
	}

	c.cache.Add(key, history)
	return history
}

// DetectUrgency counts urgency vocabulary in the message, capping the
// score at 5. Two or more hits mark the conversation urgent.
func DetectUrgency(message string) Urgency {
	var u Urgency
	if message == "" {
		return u
	}
	lower := strings.ToLower(message)
	for _, keyword := range urgencyKeywords {
		if strings.Contains(lower, keyword) {
			u.Score++
			u.Indicators = append(u.Indicators, keyword)
		}
	}
	u.IsUrgent = u.Score >= 2
	if u.Score > 5 {
		u.Score = 5
	}
	return u
}

// AssessComplexity rates the message on a 1-5 scale from its length
// and technical vocabulary
func AssessComplexity(message string) int {
	complexity := 1
	if message == "" {
		return complexity
	}

	if len(message) > 500 {
		complexity += 2
	} else if len(message) > 200 {
		complexity += 1
	}

	lower := strings.ToLower(message)
	techCount := 0
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			techCount++
		}
	}
	if techCount > 2 {
		techCount = 2
	}
	complexity += techCount

	if complexity > 5 {
		complexity = 5
	}
	return complexity
}

// AnalyzeSentiment does simple word-count sentiment: "positive",
// "negative", or "neutral"
func AnalyzeSentiment(message string) string {
	if message == "" {
		return "neutral"
	}
	lower := strings.ToLower(message)

	positive := 0
	for _, word := range positiveWords {
		if strings.Contains(lower, word) {
			positive++
		}
	}
	negative := 0
	for _, word := range negativeWords {
		if strings.Contains(lower, word) {
			negative++
		}
	}

	switch {
	case negative > positive:
		return "negative"
	case positive > negative:
		return "positive"
	default:
		return "neutral"
	}
}
