// ABOUTME: Store-backed candidate assembly and routing decision audit
// ABOUTME: Builds candidates from live registry snapshots, ranks them, and logs the outcome

package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/switchboard/internal/analyzer"
	"github.com/relaydesk/switchboard/internal/registry"
	"github.com/relaydesk/switchboard/internal/store"
)

// ErrNoAgentsAvailable is returned when no online agent has free capacity
var ErrNoAgentsAvailable = errors.New("no agents available")

// Routing methods recorded in the audit trail
const (
	MethodSmartTags     = "smart_tags"
	MethodLoadBalancing = "fallback_load_balancing"
	MethodPreferred     = "preferred_agent"
)

// Decision is the outcome of one routing pass
type Decision struct {
	AgentID      string
	Confidence   float64
	Reasoning    []string
	DetectedTags []DetectedTag
	Method       string
	Ranked       []RankedAgent
	Alternatives []RankedAgent
}

// Scorer assembles candidates from the capacity registry and the store,
// ranks them for a conversation, and records the decision
type Scorer struct {
	store    store.Store
	registry *registry.Registry
	context  *analyzer.ContextAnalyzer
	logger   *slog.Logger
}

// New creates a scorer
func New(st store.Store, reg *registry.Registry, ctxAnalyzer *analyzer.ContextAnalyzer) *Scorer {
	return &Scorer{
		store:    st,
		registry: reg,
		context:  ctxAnalyzer,
		logger:   slog.Default().With("component", "scorer"),
	}
}

// EnrichTags attaches tenant priority weights to analyzer detections.
// Tags without a tenant record keep a neutral weight of 1.0.
func (s *Scorer) EnrichTags(ctx context.Context, tenantID string, detected []analyzer.DetectedTag) []DetectedTag {
	weights := make(map[string]float64)
	tags, err := s.store.ListTags(ctx, tenantID)
	if err != nil {
		s.logger.Warn("tag weight lookup failed", "tenant_id", tenantID, "error", err)
	} else {
		for _, tag := range tags {
			weights[tag.Name] = tag.PriorityWeight
		}
	}

	out := make([]DetectedTag, 0, len(detected))
	for _, tag := range detected {
		weight := 1.0
		if w, ok := weights[tag.Name]; ok && w > 0 {
			weight = w
		}
		out = append(out, DetectedTag{
			Name:           tag.Name,
			Confidence:     tag.Confidence,
			PriorityWeight: weight,
			Keywords:       tag.DetectedKeywords,
		})
	}
	return out
}

// FindBestAgent ranks the tenant's available agents for a conversation.
// Returns ErrNoAgentsAvailable when no one is online with capacity.
// When no agent scores, the least-loaded available agent is chosen as a
// load-balancing fallback.
func (s *Scorer) FindBestAgent(ctx context.Context, conv *store.Conversation, tags []DetectedTag) (*Decision, error) {
	available := s.registry.ListAvailable(conv.TenantID)
	if len(available) == 0 {
		return nil, ErrNoAgentsAvailable
	}

	candidates, err := s.buildCandidates(ctx, available)
	if err != nil {
		return nil, err
	}

	convCtx := s.context.Analyze(ctx, conv)
	ranked := Rank(candidates, tags, convCtx)

	var decision *Decision
	if len(ranked) == 0 {
		// Nothing scored: hand the conversation to the least busy agent
		least := available[0]
		for _, snap := range available[1:] {
			if snap.ActiveConversations < least.ActiveConversations {
				least = snap
			}
		}
		decision = &Decision{
			AgentID:      least.AgentID,
			Confidence:   0.3,
			Reasoning:    []string{"No specialized agents available", "Assigned to least busy agent"},
			DetectedTags: tags,
			Method:       MethodLoadBalancing,
		}
	} else {
		best := ranked[0]
		decision = &Decision{
			AgentID:      best.AgentID,
			Confidence:   best.TotalScore,
			Reasoning:    best.Reasoning,
			DetectedTags: tags,
			Method:       MethodSmartTags,
			Ranked:       ranked,
		}
		if len(ranked) > 1 {
			end := 3
			if end > len(ranked) {
				end = len(ranked)
			}
			decision.Alternatives = ranked[1:end]
		}
	}

	s.recordDecision(ctx, conv, decision)
	s.logger.Info("routing decision",
		"conversation_id", conv.ID,
		"agent_id", decision.AgentID,
		"confidence", decision.Confidence,
		"method", decision.Method,
		"candidates", len(candidates))
	return decision, nil
}

func (s *Scorer) buildCandidates(ctx context.Context, snaps []registry.Snapshot) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(snaps))
	for _, snap := range snaps {
		agent, err := s.store.GetAgent(ctx, snap.AgentID)
		if err != nil {
			s.logger.Warn("skipping candidate with missing profile",
				"agent_id", snap.AgentID, "error", err)
			continue
		}

		profs, err := s.store.ListProficiencies(ctx, snap.AgentID)
		if err != nil {
			return nil, err
		}

		skills := make([]TagSkill, 0, len(profs))
		for _, prof := range profs {
			// A skill at its per-tag concurrency cap doesn't count as a match
			available := prof.AvailableForTag &&
				(prof.MaxConcurrentForTag == 0 || prof.ActiveForTag < prof.MaxConcurrentForTag)
			skills = append(skills, TagSkill{
				Name:             prof.TagName,
				ProficiencyLevel: prof.ProficiencyLevel,
				SuccessRate:      prof.SuccessRate(),
				AvgSatisfaction:  prof.AvgSatisfaction,
				Available:        available,
			})
		}

		responseTime := agent.AvgResponseTime
		if responseTime == 0 {
			responseTime = 300 // assume five minutes without history
		}

		candidates = append(candidates, Candidate{
			AgentID:            snap.AgentID,
			DisplayName:        agent.DisplayName,
			CurrentLoad:        snap.ActiveConversations,
			MaxCapacity:        snap.MaxConcurrentChats,
			TotalConversations: agent.TotalConversations,
			AvgSatisfaction:    agent.AvgSatisfaction,
			AvgResponseTime:    responseTime,
			AcceptsOverflow:    agent.AcceptsOverflow,
			Skills:             skills,
		})
	}
	return candidates, nil
}

// recordDecision writes the audit row. Failures are logged, never
// surfaced: routing must not fail because the audit trail did.
func (s *Scorer) recordDecision(ctx context.Context, conv *store.Conversation, decision *Decision) {
	tagsJSON, _ := json.Marshal(decision.DetectedTags)
	candidatesJSON, _ := json.Marshal(decision.Ranked)

	breakdown := "{}"
	if len(decision.Ranked) > 0 {
		if b, err := json.Marshal(decision.Ranked[0].Breakdown); err == nil {
			breakdown = string(b)
		}
	}

	record := &store.RoutingDecision{
		ID:              uuid.New().String(),
		ConversationID:  conv.ID,
		TenantID:        conv.TenantID,
		AssignedAgentID: decision.AgentID,
		Method:          decision.Method,
		Confidence:      decision.Confidence,
		DetectedTags:    string(tagsJSON),
		Breakdown:       breakdown,
		Candidates:      string(candidatesJSON),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.SaveRoutingDecision(ctx, record); err != nil {
		s.logger.Warn("failed to record routing decision",
			"conversation_id", conv.ID, "error", err)
	}
}
