// ABOUTME: Tests for keyword-based message analysis and context derivation
// ABOUTME: Covers confidence scoring, ordering, urgency, complexity, sentiment, history

package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/internal/store"
)

func TestAnalyze_EmptyMessage(t *testing.T) {
	a := New(nil)
	assert.Empty(t, a.Analyze(""))
}

func TestAnalyze_NoMatches(t *testing.T) {
	a := New(nil)
	tags := a.Analyze("zzzz qqqq xxxx")
	assert.Empty(t, tags)
}

func TestAnalyze_BillingAndTechnical(t *testing.T) {
	a := New(nil)
	tags := a.Analyze("my credit card keeps declining and I see an error")

	names := TagNames(tags)
	assert.Contains(t, names, "billing")
	assert.Contains(t, names, "technical")

	// Confidence ordering is descending
	for i := 1; i < len(tags); i++ {
		assert.GreaterOrEqual(t, tags[i-1].Confidence, tags[i].Confidence)
	}
}

func TestAnalyze_PhraseWeighting(t *testing.T) {
	a := New(nil)

	keywordOnly := a.Analyze("refund")
	phrase := a.Analyze("I want to request a refund")

	var keywordConf, phraseConf float64
	for _, tag := range keywordOnly {
		if tag.Name == "refunds" {
			keywordConf = tag.Confidence
		}
	}
	for _, tag := range phrase {
		if tag.Name == "refunds" {
			phraseConf = tag.Confidence
			assert.Equal(t, 1, tag.PhraseCount)
		}
	}
	assert.Greater(t, phraseConf, keywordConf)
}

func TestAnalyze_MultiKeywordBonus(t *testing.T) {
	a := New(nil)
	tags := a.Analyze("the bill shows a charge and a fee I never approved, plus a payment on the wrong invoice")

	var billing *DetectedTag
	for i := range tags {
		if tags[i].Name == "billing" {
			billing = &tags[i]
		}
	}
	require.NotNil(t, billing)
	assert.GreaterOrEqual(t, billing.KeywordCount, 3)
	// 0.5 cap on keywords plus the >=3 bonus
	assert.GreaterOrEqual(t, billing.Confidence, 0.7)
	assert.LessOrEqual(t, billing.Confidence, 1.0)
}

func TestAnalyze_ConfidenceClamped(t *testing.T) {
	a := New(nil)
	tags := a.Analyze("billing issue payment problem refund request wrong charge " +
		"unexpected fee billing error bill charge payment invoice money cost price")
	for _, tag := range tags {
		assert.LessOrEqual(t, tag.Confidence, 1.0)
	}
}

func TestAnalyze_CustomTable(t *testing.T) {
	table := DefaultSkillTable().Merge(SkillTable{
		"shipping": {
			Keywords: []string{"package", "delivery", "tracking"},
			Phrases:  []string{"where is my order"},
		},
	})
	a := New(table)

	tags := a.Analyze("where is my order? the tracking shows no delivery")
	names := TagNames(tags)
	assert.Contains(t, names, "shipping")
}

func TestDetectUrgency(t *testing.T) {
	u := DetectUrgency("this is urgent, everything is broken and I am frustrated")
	assert.True(t, u.IsUrgent)
	assert.GreaterOrEqual(t, u.Score, 3)

	calm := DetectUrgency("just checking in about my plan")
	assert.False(t, calm.IsUrgent)
	assert.Equal(t, 0, calm.Score)
}

func TestDetectUrgency_ScoreCapped(t *testing.T) {
	u := DetectUrgency("urgent emergency asap immediately critical broken down error frustrated angry")
	assert.Equal(t, 5, u.Score)
}

func TestAssessComplexity(t *testing.T) {
	assert.Equal(t, 1, AssessComplexity("hi"))
	assert.Equal(t, 1, AssessComplexity(""))

	long := make([]byte, 0, 600)
	for len(long) < 550 {
		long = append(long, "the situation is complicated "...)
	}
	assert.Equal(t, 3, AssessComplexity(string(long)))

	technical := "our api integration via the webhook endpoint fails the ssl check"
	assert.Equal(t, 3, AssessComplexity(technical))
	assert.LessOrEqual(t, AssessComplexity(string(long)+technical), 5)
}

func TestAnalyzeSentiment(t *testing.T) {
	assert.Equal(t, "negative", AnalyzeSentiment("this is terrible, I am angry"))
	assert.Equal(t, "positive", AnalyzeSentiment("great service, I am happy"))
	assert.Equal(t, "neutral", AnalyzeSentiment("I have a question about my plan"))
	assert.Equal(t, "neutral", AnalyzeSentiment(""))
}

func TestContextAnalyzer_NewCustomer(t *testing.T) {
	st := store.NewMockStore()
	ca := NewContextAnalyzer(st, time.Minute)

	conv := &store.Conversation{
		ID:                 "conv-1",
		TenantID:           "acme",
		CustomerIdentifier: "cust-1",
		OriginalQuestion:   "need help with billing",
	}
	result := ca.Analyze(context.Background(), conv)
	assert.True(t, result.History.IsNew)
	assert.Equal(t, "neutral", result.Sentiment)
}

func TestContextAnalyzer_ReturningCustomer(t *testing.T) {
	st := store.NewMockStore()
	ctx := context.Background()

	prev := &store.Conversation{
		ID:                   "conv-old",
		TenantID:             "acme",
		CustomerIdentifier:   "cust-1",
		Status:               store.StatusClosed,
		CustomerSatisfaction: 4,
		CreatedAt:            time.Now().Add(-time.Hour),
	}
	require.NoError(t, st.CreateConversation(ctx, prev))
	require.NoError(t, st.SaveConversationTags(ctx, "conv-old", []string{"billing"}))

	ca := NewContextAnalyzer(st, time.Minute)
	conv := &store.Conversation{
		ID:                 "conv-new",
		TenantID:           "acme",
		CustomerIdentifier: "cust-1",
		OriginalQuestion:   "billed twice again",
	}
	result := ca.Analyze(ctx, conv)
	assert.False(t, result.History.IsNew)
	assert.Equal(t, 1, result.History.PreviousConversations)
	assert.Contains(t, result.History.PreviousTags, "billing")
	assert.InDelta(t, 4.0, result.History.AvgSatisfaction, 0.001)
}
