// ABOUTME: Tests for the weighted agent ranking math
// ABOUTME: Covers component weights, tie-breaking, pruning, and context adjustments

package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/internal/analyzer"
)

func neutralContext() analyzer.ConversationContext {
	return analyzer.ConversationContext{
		History:    analyzer.CustomerHistory{IsNew: true},
		Complexity: 1,
		Sentiment:  "neutral",
	}
}

func billingTag(confidence float64) DetectedTag {
	return DetectedTag{Name: "billing", Confidence: confidence, PriorityWeight: 1.0}
}

func specialist(id string) Candidate {
	return Candidate{
		AgentID:            id,
		DisplayName:        "Specialist " + id,
		CurrentLoad:        0,
		MaxCapacity:        3,
		TotalConversations: 50,
		AvgSatisfaction:    4.5,
		AvgResponseTime:    120,
		AcceptsOverflow:    true,
		Skills: []TagSkill{
			{Name: "billing", ProficiencyLevel: 5, SuccessRate: 0.9, AvgSatisfaction: 4.5, Available: true},
		},
	}
}

func generalist(id string) Candidate {
	return Candidate{
		AgentID:         id,
		DisplayName:     "Generalist " + id,
		CurrentLoad:     0,
		MaxCapacity:     3,
		AcceptsOverflow: true,
	}
}

func TestRank_SpecialistBeatsGeneralist(t *testing.T) {
	ranked := Rank(
		[]Candidate{generalist("gen-1"), specialist("spec-1")},
		[]DetectedTag{billingTag(0.8)},
		neutralContext(),
	)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "spec-1", ranked[0].AgentID)
	assert.Contains(t, ranked[0].MatchingTags, "billing")
}

func TestRank_TieBreaksOnAgentID(t *testing.T) {
	ranked := Rank(
		[]Candidate{specialist("bbb"), specialist("aaa")},
		[]DetectedTag{billingTag(0.8)},
		neutralContext(),
	)
	require.Len(t, ranked, 2)
	assert.Equal(t, ranked[0].TotalScore, ranked[1].TotalScore)
	assert.Equal(t, "aaa", ranked[0].AgentID)
}

func TestRank_OverflowFloorWithoutMatch(t *testing.T) {
	ranked := Rank(
		[]Candidate{generalist("gen-1")},
		[]DetectedTag{billingTag(0.8)},
		neutralContext(),
	)
	require.Len(t, ranked, 1)
	assert.InDelta(t, overflowTagScore, ranked[0].Breakdown.TagMatch, 0.001)
}

func TestRank_NonOverflowAgentScoresZeroTagMatch(t *testing.T) {
	agent := generalist("gen-1")
	agent.AcceptsOverflow = false
	ranked := Rank([]Candidate{agent}, []DetectedTag{billingTag(0.8)}, neutralContext())
	require.Len(t, ranked, 1)
	assert.Zero(t, ranked[0].Breakdown.TagMatch)
}

func TestRank_PrunesLowScoresWhenTopIsGood(t *testing.T) {
	weak := generalist("weak")
	weak.AcceptsOverflow = false
	weak.CurrentLoad = 3
	weak.MaxCapacity = 3

	ranked := Rank(
		[]Candidate{specialist("strong"), weak},
		[]DetectedTag{billingTag(0.9)},
		neutralContext(),
	)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "strong", ranked[0].AgentID)
	for _, agent := range ranked {
		assert.GreaterOrEqual(t, agent.TotalScore, lowScoreCutoff)
	}
}

func TestRank_KeepsWeakOptionsWhenNothingIsGood(t *testing.T) {
	weak := generalist("weak")
	weak.AcceptsOverflow = false
	weak.CurrentLoad = 3
	weak.MaxCapacity = 3

	ranked := Rank([]Candidate{weak}, []DetectedTag{billingTag(0.9)}, neutralContext())
	assert.Len(t, ranked, 1)
}

func TestRank_AvailabilityFavorsIdleAgent(t *testing.T) {
	idle := specialist("idle")
	busy := specialist("busy")
	busy.CurrentLoad = 2

	ranked := Rank([]Candidate{busy, idle}, []DetectedTag{billingTag(0.8)}, neutralContext())
	require.Len(t, ranked, 2)
	assert.Equal(t, "idle", ranked[0].AgentID)
	assert.Greater(t, ranked[0].Breakdown.Availability, ranked[1].Breakdown.Availability)
}

func TestRank_UrgencyBoostsHighPerformers(t *testing.T) {
	urgent := neutralContext()
	urgent.Urgency = analyzer.Urgency{Score: 3, IsUrgent: true}

	calm := Rank([]Candidate{specialist("a")}, []DetectedTag{billingTag(0.8)}, neutralContext())
	boosted := Rank([]Candidate{specialist("a")}, []DetectedTag{billingTag(0.8)}, urgent)
	require.Len(t, calm, 1)
	require.Len(t, boosted, 1)
	assert.InDelta(t, calm[0].TotalScore+0.1, boosted[0].TotalScore, 0.001)
	assert.Contains(t, boosted[0].Reasoning, "Prioritized for urgent issue")
}

func TestRank_ComplexityBoostNeedsTwoSpecializations(t *testing.T) {
	complexCtx := neutralContext()
	complexCtx.Complexity = 4

	single := specialist("single")
	multi := specialist("multi")
	multi.Skills = append(multi.Skills, TagSkill{
		Name: "technical", ProficiencyLevel: 4, SuccessRate: 0.8, AvgSatisfaction: 4.0, Available: true,
	})

	ranked := Rank([]Candidate{single, multi}, []DetectedTag{billingTag(0.8)}, complexCtx)
	require.Len(t, ranked, 2)
	assert.Equal(t, "multi", ranked[0].AgentID)
	assert.Contains(t, ranked[0].Reasoning, "Selected for complex issue handling")
}

func TestRank_CustomerHistoryMatch(t *testing.T) {
	returning := neutralContext()
	returning.History = analyzer.CustomerHistory{
		IsNew:        false,
		PreviousTags: []string{"billing"},
	}

	ranked := Rank([]Candidate{specialist("a"), generalist("b")},
		[]DetectedTag{billingTag(0.8)}, returning)
	require.Len(t, ranked, 2)
	assert.InDelta(t, 0.8, ranked[0].Breakdown.CustomerHistory, 0.001)
	assert.InDelta(t, 0.4, ranked[1].Breakdown.CustomerHistory, 0.001)
}

func TestRank_NewAgentGetsNeutralPerformance(t *testing.T) {
	fresh := generalist("fresh")
	ranked := Rank([]Candidate{fresh}, nil, neutralContext())
	require.Len(t, ranked, 1)
	assert.InDelta(t, 0.5, ranked[0].Breakdown.Performance, 0.001)
	assert.Contains(t, ranked[0].Reasoning, "New agent - no performance history")
}

func TestRank_HigherConfidenceNeverLowersScore(t *testing.T) {
	low := Rank([]Candidate{specialist("a")}, []DetectedTag{billingTag(0.3)}, neutralContext())
	high := Rank([]Candidate{specialist("a")}, []DetectedTag{billingTag(0.9)}, neutralContext())
	require.Len(t, low, 1)
	require.Len(t, high, 1)
	assert.GreaterOrEqual(t, high[0].TotalScore, low[0].TotalScore)
}

func TestRank_PartialCoverageScoresLower(t *testing.T) {
	tags := []DetectedTag{billingTag(0.8), {Name: "technical", Confidence: 0.8, PriorityWeight: 1.0}}

	full := specialist("full")
	full.Skills = append(full.Skills, TagSkill{
		Name: "technical", ProficiencyLevel: 5, SuccessRate: 0.9, AvgSatisfaction: 4.5, Available: true,
	})

	ranked := Rank([]Candidate{specialist("partial"), full}, tags, neutralContext())
	require.Len(t, ranked, 2)
	assert.Equal(t, "full", ranked[0].AgentID)
	assert.Greater(t, ranked[0].Breakdown.TagMatch, ranked[1].Breakdown.TagMatch)
}

func TestRank_UnavailableSkillIgnored(t *testing.T) {
	agent := specialist("a")
	agent.Skills[0].Available = false
	agent.AcceptsOverflow = false

	ranked := Rank([]Candidate{agent}, []DetectedTag{billingTag(0.8)}, neutralContext())
	require.Len(t, ranked, 1)
	assert.Zero(t, ranked[0].Breakdown.TagMatch)
	assert.Empty(t, ranked[0].MatchingTags)
}
