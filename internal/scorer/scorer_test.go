// ABOUTME: Tests for store-backed candidate assembly and decision auditing
// ABOUTME: Uses the in-memory store and a live registry

package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/internal/analyzer"
	"github.com/relaydesk/switchboard/internal/registry"
	"github.com/relaydesk/switchboard/internal/store"
)

func setupScorer(t *testing.T) (*Scorer, *store.MockStore, *registry.Registry) {
	t.Helper()
	st := store.NewMockStore()
	reg := registry.New(st)
	ctxAnalyzer := analyzer.NewContextAnalyzer(st, time.Minute)
	return New(st, reg, ctxAnalyzer), st, reg
}

func addOnlineAgent(t *testing.T, st *store.MockStore, reg *registry.Registry, agent *store.Agent) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, agent))
	_, err := reg.Login(ctx, agent)
	require.NoError(t, err)
}

func TestFindBestAgent_NoAgentsOnline(t *testing.T) {
	s, st, _ := setupScorer(t)
	conv := &store.Conversation{ID: "conv-1", TenantID: "acme", CustomerIdentifier: "cust-1"}
	require.NoError(t, st.CreateConversation(context.Background(), conv))

	_, err := s.FindBestAgent(context.Background(), conv, nil)
	assert.ErrorIs(t, err, ErrNoAgentsAvailable)
}

func TestFindBestAgent_PrefersSkillMatch(t *testing.T) {
	s, st, reg := setupScorer(t)
	ctx := context.Background()

	billing := &store.Agent{
		ID: "agent-billing", TenantID: "acme", Email: "b@test",
		DisplayName: "Billing Pro", MaxConcurrentChats: 3, AcceptsOverflow: true,
		TotalConversations: 40, AvgSatisfaction: 4.4, AvgResponseTime: 90,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	general := &store.Agent{
		ID: "agent-general", TenantID: "acme", Email: "g@test",
		DisplayName: "Generalist", MaxConcurrentChats: 3, AcceptsOverflow: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	addOnlineAgent(t, st, reg, billing)
	addOnlineAgent(t, st, reg, general)

	require.NoError(t, st.UpsertProficiency(ctx, &store.AgentTagProficiency{
		AgentID: "agent-billing", TagName: "billing",
		ProficiencyLevel: 5, TotalConversations: 30, SuccessfulResolutions: 27,
		AvgSatisfaction: 4.5, AvailableForTag: true,
	}))

	conv := &store.Conversation{
		ID: "conv-1", TenantID: "acme", CustomerIdentifier: "cust-1",
		OriginalQuestion: "billing issue with my payment",
	}
	require.NoError(t, st.CreateConversation(ctx, conv))

	tags := []DetectedTag{{Name: "billing", Confidence: 0.8, PriorityWeight: 1.0}}
	decision, err := s.FindBestAgent(ctx, conv, tags)
	require.NoError(t, err)
	assert.Equal(t, "agent-billing", decision.AgentID)
	assert.Equal(t, MethodSmartTags, decision.Method)
	assert.NotEmpty(t, decision.Reasoning)

	// The decision was audited
	decisions, err := st.ListRoutingDecisions(ctx, "acme", time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "agent-billing", decisions[0].AssignedAgentID)
	assert.Contains(t, decisions[0].DetectedTags, "billing")
}

func TestFindBestAgent_PerTagCapExcludesSkill(t *testing.T) {
	s, st, reg := setupScorer(t)
	ctx := context.Background()

	for _, id := range []string{"agent-capped", "agent-open"} {
		addOnlineAgent(t, st, reg, &store.Agent{
			ID: id, TenantID: "acme", Email: id + "@test",
			MaxConcurrentChats: 3, AcceptsOverflow: true,
			TotalConversations: 30, AvgSatisfaction: 4.2, AvgResponseTime: 120,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		})
	}
	require.NoError(t, st.UpsertProficiency(ctx, &store.AgentTagProficiency{
		AgentID: "agent-capped", TagName: "billing",
		ProficiencyLevel: 5, TotalConversations: 30, SuccessfulResolutions: 27,
		AvgSatisfaction: 4.5, MaxConcurrentForTag: 1, ActiveForTag: 1,
		AvailableForTag: true,
	}))
	require.NoError(t, st.UpsertProficiency(ctx, &store.AgentTagProficiency{
		AgentID: "agent-open", TagName: "billing",
		ProficiencyLevel: 5, TotalConversations: 30, SuccessfulResolutions: 27,
		AvgSatisfaction: 4.5, MaxConcurrentForTag: 1,
		AvailableForTag: true,
	}))

	conv := &store.Conversation{
		ID: "conv-1", TenantID: "acme", CustomerIdentifier: "cust-1",
		OriginalQuestion: "billing issue with my payment",
	}
	require.NoError(t, st.CreateConversation(ctx, conv))

	tags := []DetectedTag{{Name: "billing", Confidence: 0.8, PriorityWeight: 1.0}}
	decision, err := s.FindBestAgent(ctx, conv, tags)
	require.NoError(t, err)
	assert.Equal(t, "agent-open", decision.AgentID)

	// The capped agent is still a candidate, just without the tag match
	for _, ranked := range decision.Ranked {
		if ranked.AgentID == "agent-capped" {
			assert.NotContains(t, ranked.MatchingTags, "billing")
		}
	}
}

func TestFindBestAgent_AlternativesLimitedToTwo(t *testing.T) {
	s, st, reg := setupScorer(t)
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		addOnlineAgent(t, st, reg, &store.Agent{
			ID: id, TenantID: "acme", Email: id + "@test",
			MaxConcurrentChats: 3, AcceptsOverflow: true,
			TotalConversations: 10, AvgSatisfaction: 4.0,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		})
	}

	conv := &store.Conversation{ID: "conv-1", TenantID: "acme", CustomerIdentifier: "cust-1"}
	require.NoError(t, st.CreateConversation(ctx, conv))

	decision, err := s.FindBestAgent(ctx, conv, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(decision.Alternatives), 2)
}

func TestEnrichTags_AppliesPriorityWeights(t *testing.T) {
	s, st, _ := setupScorer(t)
	ctx := context.Background()

	require.NoError(t, st.CreateTag(ctx, &store.Tag{
		ID: "tag-1", TenantID: "acme", Name: "billing",
		PriorityWeight: 1.5, Active: true, CreatedAt: time.Now().UTC(),
	}))

	detected := []analyzer.DetectedTag{
		{Name: "billing", Confidence: 0.7},
		{Name: "technical", Confidence: 0.4},
	}
	enriched := s.EnrichTags(ctx, "acme", detected)
	require.Len(t, enriched, 2)
	assert.InDelta(t, 1.5, enriched[0].PriorityWeight, 0.001)
	assert.InDelta(t, 1.0, enriched[1].PriorityWeight, 0.001)
}

func TestFindBestAgent_SkipsFullAgents(t *testing.T) {
	s, st, reg := setupScorer(t)
	ctx := context.Background()

	busy := &store.Agent{
		ID: "busy", TenantID: "acme", Email: "busy@test",
		MaxConcurrentChats: 1, AcceptsOverflow: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	free := &store.Agent{
		ID: "free", TenantID: "acme", Email: "free@test",
		MaxConcurrentChats: 3, AcceptsOverflow: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	addOnlineAgent(t, st, reg, busy)
	addOnlineAgent(t, st, reg, free)
	require.NoError(t, reg.Reserve(ctx, "busy", 0))

	conv := &store.Conversation{ID: "conv-1", TenantID: "acme", CustomerIdentifier: "cust-1"}
	require.NoError(t, st.CreateConversation(ctx, conv))

	decision, err := s.FindBestAgent(ctx, conv, nil)
	require.NoError(t, err)
	assert.Equal(t, "free", decision.AgentID)
}
