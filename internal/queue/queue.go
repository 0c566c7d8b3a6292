// ABOUTME: Per-tenant conversation queue with priority ordering and smart assignment
// ABOUTME: Positions stay contiguous from 1; capacity claims go through CAS reservation

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/switchboard/internal/registry"
	"github.com/relaydesk/switchboard/internal/scorer"
	"github.com/relaydesk/switchboard/internal/store"
)

var (
	// ErrAlreadyQueued is returned when the conversation already waits in the queue
	ErrAlreadyQueued = errors.New("conversation already queued")

	// ErrNotQueued is returned when an operation needs a waiting entry and none exists
	ErrNotQueued = errors.New("conversation is not queued")

	// ErrNoAssignment is returned when no agent could take the conversation
	ErrNoAssignment = errors.New("no agent could be assigned")
)

// Abandon reasons recorded on queue entries
const (
	ReasonCustomerLeft = "customer_left"
	ReasonTimeout      = "timeout"
)

// Config tunes queue behavior
type Config struct {
	// MinutesPerConversation is the assumed handling time used for
	// wait estimates
	MinutesPerConversation int

	// MaxWait is how long an entry may sit in the queue before the
	// sweeper abandons it
	MaxWait time.Duration

	// AssignRetries bounds how many ranked candidates one assignment
	// pass will try before giving up
	AssignRetries int
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		MinutesPerConversation: 5,
		MaxWait:                30 * time.Minute,
		AssignRetries:          3,
	}
}

// EnqueueResult reports where a conversation landed in the queue
type EnqueueResult struct {
	EntryID           string
	Position          int
	EstimatedWaitMins int
}

// AssignResult reports a successful assignment
type AssignResult struct {
	ConversationID string
	AgentID        string
	Method         string
	Confidence     float64
	Reasoning      []string
}

// Status is a tenant's queue overview
type Status struct {
	Waiting      int           `json:"waiting"`
	ActiveAgents int           `json:"active_agents"`
	Entries      []StatusEntry `json:"entries"`
	Agents       []AgentStatus `json:"agents"`
}

// AgentStatus is one online agent in a status report
type AgentStatus struct {
	AgentID             string `json:"agent_id"`
	ActiveConversations int    `json:"active_conversations"`
	MaxConcurrentChats  int    `json:"max_concurrent_chats"`
	IsAcceptingChats    bool   `json:"is_accepting_chats"`
}

// StatusEntry is one waiting conversation in a status report
type StatusEntry struct {
	ConversationID    string `json:"conversation_id"`
	Position          int    `json:"position"`
	Priority          int    `json:"priority"`
	WaitingSeconds    int    `json:"waiting_seconds"`
	EstimatedWaitMins int    `json:"estimated_wait_minutes"`
}

// Queue orders waiting conversations per tenant and drives assignment
// through the scorer and the capacity registry. All mutations of one
// tenant's queue serialize on a per-tenant mutex, so position math
// never interleaves.
type Queue struct {
	store    store.Store
	registry *registry.Registry
	scorer   *scorer.Scorer
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// New creates a queue
func New(st store.Store, reg *registry.Registry, sc *scorer.Scorer, cfg Config) *Queue {
	if cfg.MinutesPerConversation <= 0 {
		cfg.MinutesPerConversation = 5
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 30 * time.Minute
	}
	if cfg.AssignRetries <= 0 {
		cfg.AssignRetries = 3
	}
	return &Queue{
		store:    st,
		registry: reg,
		scorer:   sc,
		cfg:      cfg,
		logger:   slog.Default().With("component", "queue"),
		tenants:  make(map[string]*sync.Mutex),
	}
}

func (q *Queue) tenantLock(tenantID string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()
	lock, ok := q.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		q.tenants[tenantID] = lock
	}
	return lock
}

// Enqueue places a conversation at the back of its priority band.
// Duplicate waiting entries for the same conversation are rejected.
func (q *Queue) Enqueue(ctx context.Context, conv *store.Conversation, priority int, preferredAgentID string) (*EnqueueResult, error) {
	lock := q.tenantLock(conv.TenantID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	entry := &store.QueueEntry{
		ID:               uuid.New().String(),
		TenantID:         conv.TenantID,
		ConversationID:   conv.ID,
		Priority:         priority,
		PreferredAgentID: preferredAgentID,
		Status:           store.QueueStatusWaiting,
		QueuedAt:         now,
		Position:         1, // normalized below
	}
	if err := q.store.CreateQueueEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicateQueueEntry) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("creating queue entry: %w", err)
	}

	conv.Status = store.StatusQueued
	conv.Priority = priority
	conv.QueueEntryTime = &now
	if err := q.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	position, err := q.normalizePositions(ctx, conv.TenantID, entry.ID)
	if err != nil {
		return nil, err
	}

	q.logger.Info("conversation queued",
		"conversation_id", conv.ID, "tenant_id", conv.TenantID,
		"priority", priority, "position", position)
	return &EnqueueResult{
		EntryID:           entry.ID,
		Position:          position,
		EstimatedWaitMins: q.estimateWait(conv.TenantID, position),
	}, nil
}

// normalizePositions reorders a tenant's waiting entries by priority
// descending then arrival, renumbering from 1 with no gaps. Returns the
// position of entryID if given. Caller holds the tenant lock.
func (q *Queue) normalizePositions(ctx context.Context, tenantID, entryID string) (int, error) {
	entries, err := q.store.ListWaitingEntries(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("listing waiting entries: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].QueuedAt.Before(entries[j].QueuedAt)
	})

	changed := make(map[string]int)
	wanted := 0
	for i, entry := range entries {
		pos := i + 1
		if entry.Position != pos {
			changed[entry.ID] = pos
		}
		if entry.ID == entryID {
			wanted = pos
		}
	}
	if len(changed) > 0 {
		if err := q.store.UpdateQueuePositions(ctx, tenantID, changed); err != nil {
			return 0, fmt.Errorf("renumbering queue: %w", err)
		}
	}
	return wanted, nil
}

// estimateWait returns minutes until pickup: handling time per slot
// ahead, divided across accepting agents, floored at 1 and capped at 60
func (q *Queue) estimateWait(tenantID string, position int) int {
	base := position * q.cfg.MinutesPerConversation
	agents := 0
	for _, snap := range q.registry.ListOnline(tenantID) {
		if snap.IsAcceptingChats {
			agents++
		}
	}
	if agents > 0 {
		base = base / agents
		if base < 1 {
			base = 1
		}
	}
	if base > 60 {
		base = 60
	}
	return base
}

// TryAssign routes one queued conversation to an agent. The preferred
// agent, when set and able, bypasses scoring. Otherwise ranked
// candidates are tried in order; each capacity claim is a CAS, and a
// lost race moves on to the next candidate. Returns ErrNoAssignment
// when nobody could take it; the entry stays queued.
func (q *Queue) TryAssign(ctx context.Context, conversationID string, detectedTags []scorer.DetectedTag) (*AssignResult, error) {
	conv, err := q.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	lock := q.tenantLock(conv.TenantID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := q.store.GetWaitingEntryByConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotQueued
		}
		return nil, err
	}

	if entry.PreferredAgentID != "" {
		if result, err := q.claimAgent(ctx, conv, entry, entry.PreferredAgentID, store.AssignmentPreferred, 1.0, nil); err == nil {
			return result, nil
		}
		// Preferred agent unavailable, fall through to scoring
	}

	decision, err := q.scorer.FindBestAgent(ctx, conv, detectedTags)
	if err != nil {
		if errors.Is(err, scorer.ErrNoAgentsAvailable) {
			return nil, ErrNoAssignment
		}
		return nil, err
	}

	candidates := []scorer.RankedAgent{{AgentID: decision.AgentID, TotalScore: decision.Confidence, Reasoning: decision.Reasoning}}
	if len(decision.Ranked) > 0 {
		candidates = decision.Ranked
	}

	tried := 0
	for _, candidate := range candidates {
		if tried >= q.cfg.AssignRetries {
			break
		}
		tried++
		result, err := q.claimAgent(ctx, conv, entry, candidate.AgentID, store.AssignmentAuto, candidate.TotalScore, candidate.Reasoning)
		if err == nil {
			return result, nil
		}
		q.logger.Debug("candidate claim failed",
			"conversation_id", conversationID, "agent_id", candidate.AgentID, "error", err)
	}
	return nil, ErrNoAssignment
}

// AssignToAgent hands the conversation to a specific agent, e.g. one
// who picked it from the queue board
func (q *Queue) AssignToAgent(ctx context.Context, conversationID, agentID string) (*AssignResult, error) {
	conv, err := q.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	lock := q.tenantLock(conv.TenantID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := q.store.GetWaitingEntryByConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotQueued
		}
		return nil, err
	}
	return q.claimAgent(ctx, conv, entry, agentID, store.AssignmentManual, 1.0, nil)
}

// claimAgent reserves capacity on the agent and commits the
// assignment. Caller holds the tenant lock.
func (q *Queue) claimAgent(ctx context.Context, conv *store.Conversation, entry *store.QueueEntry, agentID, method string, confidence float64, reasoning []string) (*AssignResult, error) {
	snap, err := q.registry.Get(agentID)
	if err != nil {
		return nil, err
	}
	if err := q.registry.Reserve(ctx, agentID, snap.ActiveConversations); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry.Status = store.QueueStatusAssigned
	entry.AssignedAt = &now
	if err := q.store.UpdateQueueEntry(ctx, entry); err != nil {
		q.registry.Release(ctx, agentID)
		return nil, fmt.Errorf("updating queue entry: %w", err)
	}

	conv.Status = store.StatusAssigned
	conv.AssignedAgentID = agentID
	conv.AssignedAt = &now
	conv.AssignmentMethod = method
	if conv.QueueEntryTime != nil {
		conv.WaitTimeSeconds = int(now.Sub(*conv.QueueEntryTime).Seconds())
	}
	if err := q.store.UpdateConversation(ctx, conv); err != nil {
		q.registry.Release(ctx, agentID)
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	if _, err := q.normalizePositions(ctx, conv.TenantID, ""); err != nil {
		q.logger.Warn("renumber after assignment failed",
			"tenant_id", conv.TenantID, "error", err)
	}

	q.adjustTagLoad(ctx, agentID, conv.ID, 1)

	q.logger.Info("conversation assigned",
		"conversation_id", conv.ID, "agent_id", agentID,
		"method", method, "wait_seconds", conv.WaitTimeSeconds)
	return &AssignResult{
		ConversationID: conv.ID,
		AgentID:        agentID,
		Method:         method,
		Confidence:     confidence,
		Reasoning:      reasoning,
	}, nil
}

// adjustTagLoad moves the agent's per-tag active counters when a tagged
// conversation starts or ends with them. Failures only cost accuracy of
// the per-tag caps, so they are logged and swallowed.
func (q *Queue) adjustTagLoad(ctx context.Context, agentID, conversationID string, delta int) {
	tags, err := q.store.ListConversationTags(ctx, conversationID)
	if err != nil || len(tags) == 0 {
		return
	}
	tagged := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagged[tag] = true
	}

	profs, err := q.store.ListProficiencies(ctx, agentID)
	if err != nil {
		q.logger.Warn("per-tag load lookup failed", "agent_id", agentID, "error", err)
		return
	}
	for _, prof := range profs {
		if !tagged[prof.TagName] {
			continue
		}
		prof.ActiveForTag += delta
		if prof.ActiveForTag < 0 {
			prof.ActiveForTag = 0
		}
		if err := q.store.UpsertProficiency(ctx, prof); err != nil {
			q.logger.Warn("per-tag load update failed",
				"agent_id", agentID, "tag", prof.TagName, "error", err)
		}
	}
}

// Abandon removes a waiting conversation from the queue. Calling it on
// a conversation that is no longer waiting is a no-op, so customer
// disconnect and sweeper timeout can race safely.
func (q *Queue) Abandon(ctx context.Context, conversationID, reason string) error {
	conv, err := q.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	lock := q.tenantLock(conv.TenantID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := q.store.GetWaitingEntryByConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return q.abandonAssigned(ctx, conv, reason)
		}
		return err
	}

	now := time.Now().UTC()
	entry.Status = store.QueueStatusAbandoned
	entry.AbandonReason = reason
	entry.RemovedAt = &now
	if err := q.store.UpdateQueueEntry(ctx, entry); err != nil {
		return fmt.Errorf("updating queue entry: %w", err)
	}

	conv.Status = store.StatusAbandoned
	conv.ClosedAt = &now
	conv.ClosureReason = reason
	if err := q.store.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	if _, err := q.normalizePositions(ctx, conv.TenantID, ""); err != nil {
		return err
	}

	q.logger.Info("conversation abandoned",
		"conversation_id", conversationID, "reason", reason)
	return nil
}

// abandonAssigned handles a customer leaving after assignment but before
// the agent's first reply: the agent's slot is freed and the
// conversation is marked abandoned. Once the agent has responded, only a
// close ends the conversation. Caller holds the tenant lock.
func (q *Queue) abandonAssigned(ctx context.Context, conv *store.Conversation, reason string) error {
	if conv.Status != store.StatusAssigned || conv.AgentMessageCount > 0 {
		return nil
	}

	agentID := conv.AssignedAgentID
	now := time.Now().UTC()
	conv.Status = store.StatusAbandoned
	conv.ClosedAt = &now
	conv.ClosureReason = reason
	if err := q.store.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	if agentID != "" {
		q.registry.Release(ctx, agentID)
		q.adjustTagLoad(ctx, agentID, conv.ID, -1)
	}

	q.logger.Info("assigned conversation abandoned before first reply",
		"conversation_id", conv.ID, "agent_id", agentID, "reason", reason)
	return nil
}

// Requeue puts an assigned or active conversation back in the queue
// with elevated priority, releasing the previous agent's slot. Used
// when an agent logs out mid-conversation.
func (q *Queue) Requeue(ctx context.Context, conversationID string) (*EnqueueResult, error) {
	conv, err := q.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, fmt.Errorf("conversation %s is %s", conversationID, conv.Status)
	}

	if conv.AssignedAgentID != "" {
		q.registry.Release(ctx, conv.AssignedAgentID)
		q.adjustTagLoad(ctx, conv.AssignedAgentID, conv.ID, -1)
		conv.PreviousAgentID = conv.AssignedAgentID
		conv.AssignedAgentID = ""
		conv.AssignedAt = nil
	}

	priority := conv.Priority
	if priority < store.PriorityUrgent {
		priority++
	}
	conv.AssignmentMethod = store.AssignmentRequeue
	return q.Enqueue(ctx, conv, priority, "")
}

// TransferResult reports where a transfer ended up: with the target
// agent, or back in the queue when the target had no room
type TransferResult struct {
	Transferred bool
	Requeued    *EnqueueResult
}

// Transfer moves an active conversation from one agent to another. The
// target's slot is claimed before the source is released. A target with
// no capacity doesn't fail the transfer: the conversation is requeued at
// elevated priority instead, so the customer never loses their place.
func (q *Queue) Transfer(ctx context.Context, conversationID, toAgentID string) (*TransferResult, error) {
	conv, err := q.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.AssignedAgentID == "" {
		return nil, fmt.Errorf("conversation %s has no agent to transfer from", conversationID)
	}
	if conv.AssignedAgentID == toAgentID {
		return nil, fmt.Errorf("conversation %s is already with agent %s", conversationID, toAgentID)
	}

	lock := q.tenantLock(conv.TenantID)
	lock.Lock()

	snap, err := q.registry.Get(toAgentID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if err := q.registry.Reserve(ctx, toAgentID, snap.ActiveConversations); err != nil {
		lock.Unlock()
		if errors.Is(err, registry.ErrCapacityExhausted) || errors.Is(err, registry.ErrConcurrencyConflict) {
			// Requeue takes the tenant lock itself
			enqueued, reqErr := q.Requeue(ctx, conversationID)
			if reqErr != nil {
				return nil, fmt.Errorf("requeue after failed transfer: %w", reqErr)
			}
			q.logger.Info("transfer target full, conversation requeued",
				"conversation_id", conversationID, "to", toAgentID)
			return &TransferResult{Requeued: enqueued}, nil
		}
		return nil, err
	}
	defer lock.Unlock()

	fromAgentID := conv.AssignedAgentID
	now := time.Now().UTC()
	conv.PreviousAgentID = fromAgentID
	conv.AssignedAgentID = toAgentID
	conv.AssignedAt = &now
	conv.AssignmentMethod = store.AssignmentTransfer
	if err := q.store.UpdateConversation(ctx, conv); err != nil {
		q.registry.Release(ctx, toAgentID)
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	q.registry.Release(ctx, fromAgentID)
	q.adjustTagLoad(ctx, fromAgentID, conv.ID, -1)
	q.adjustTagLoad(ctx, toAgentID, conv.ID, 1)
	q.logger.Info("conversation transferred",
		"conversation_id", conversationID, "from", fromAgentID, "to", toAgentID)
	return &TransferResult{Transferred: true}, nil
}

// Close ends a conversation, frees the agent's slot, and folds the
// outcome into the agent's per-tag performance. satisfaction of 0
// means the customer didn't rate.
func (q *Queue) Close(ctx context.Context, conversationID, closedBy, reason string, satisfaction int) error {
	conv, err := q.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status.Terminal() {
		return nil
	}

	now := time.Now().UTC()
	conv.Status = store.StatusClosed
	conv.ClosedAt = &now
	conv.ClosedBy = closedBy
	conv.ClosureReason = reason
	if satisfaction > 0 {
		conv.CustomerSatisfaction = satisfaction
	}
	if err := q.store.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	if conv.AssignedAgentID != "" {
		q.registry.Release(ctx, conv.AssignedAgentID)
		q.adjustTagLoad(ctx, conv.AssignedAgentID, conv.ID, -1)
		if err := q.updatePerformance(ctx, conv, satisfaction, reason); err != nil {
			q.logger.Warn("performance update failed",
				"conversation_id", conversationID, "error", err)
		}
	}

	q.logger.Info("conversation closed",
		"conversation_id", conversationID, "closed_by", closedBy, "reason", reason)
	return nil
}

// updatePerformance rolls the finished conversation into the agent's
// aggregate and per-tag stats
func (q *Queue) updatePerformance(ctx context.Context, conv *store.Conversation, satisfaction int, reason string) error {
	agent, err := q.store.GetAgent(ctx, conv.AssignedAgentID)
	if err != nil {
		return err
	}

	agent.TotalConversations++
	if satisfaction > 0 {
		n := float64(agent.TotalConversations)
		agent.AvgSatisfaction = (agent.AvgSatisfaction*(n-1) + float64(satisfaction)) / n
	}
	if err := q.store.UpdateAgent(ctx, agent); err != nil {
		return err
	}

	tags, err := q.store.ListConversationTags(ctx, conv.ID)
	if err != nil || len(tags) == 0 {
		return err
	}

	profs, err := q.store.ListProficiencies(ctx, conv.AssignedAgentID)
	if err != nil {
		return err
	}
	byTag := make(map[string]*store.AgentTagProficiency, len(profs))
	for _, prof := range profs {
		byTag[prof.TagName] = prof
	}

	resolved := reason != ReasonCustomerLeft && reason != ReasonTimeout
	for _, tag := range tags {
		prof, ok := byTag[tag]
		if !ok {
			prof = &store.AgentTagProficiency{
				AgentID:          conv.AssignedAgentID,
				TagName:          tag,
				ProficiencyLevel: 3,
				AvailableForTag:  true,
			}
		}
		prof.TotalConversations++
		if resolved {
			prof.SuccessfulResolutions++
		}
		if satisfaction > 0 {
			n := float64(prof.TotalConversations)
			prof.AvgSatisfaction = (prof.AvgSatisfaction*(n-1) + float64(satisfaction)) / n
		}
		if err := q.store.UpsertProficiency(ctx, prof); err != nil {
			return err
		}
	}
	return nil
}

// ProcessQueue walks a tenant's waiting conversations in order and
// assigns as many as agents can take. Returns the assignments made.
func (q *Queue) ProcessQueue(ctx context.Context, tenantID string) []*AssignResult {
	entries, err := q.store.ListWaitingEntries(ctx, tenantID)
	if err != nil {
		q.logger.Error("queue scan failed", "tenant_id", tenantID, "error", err)
		return nil
	}

	var results []*AssignResult
	for _, entry := range entries {
		tags, err := q.storedTags(ctx, entry.ConversationID)
		if err != nil {
			continue
		}
		result, err := q.TryAssign(ctx, entry.ConversationID, tags)
		if err != nil {
			if errors.Is(err, ErrNoAssignment) {
				break // no capacity left; stop scanning
			}
			continue
		}
		results = append(results, result)
	}
	return results
}

// storedTags reconstructs scoring tags from the persisted detections
func (q *Queue) storedTags(ctx context.Context, conversationID string) ([]scorer.DetectedTag, error) {
	names, err := q.store.ListConversationTags(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	tags := make([]scorer.DetectedTag, 0, len(names))
	for _, name := range names {
		tags = append(tags, scorer.DetectedTag{Name: name, Confidence: 0.5, PriorityWeight: 1.0})
	}
	return tags, nil
}

// GetStatus reports the tenant's queue: waiting count, accepting
// agents, and per-entry positions with wait estimates
func (q *Queue) GetStatus(ctx context.Context, tenantID string) (*Status, error) {
	entries, err := q.store.ListWaitingEntries(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing waiting entries: %w", err)
	}

	online := q.registry.ListOnline(tenantID)
	accepting := 0
	agents := make([]AgentStatus, 0, len(online))
	for _, snap := range online {
		if snap.IsAcceptingChats {
			accepting++
		}
		agents = append(agents, AgentStatus{
			AgentID:             snap.AgentID,
			ActiveConversations: snap.ActiveConversations,
			MaxConcurrentChats:  snap.MaxConcurrentChats,
			IsAcceptingChats:    snap.IsAcceptingChats,
		})
	}

	status := &Status{
		Waiting:      len(entries),
		ActiveAgents: accepting,
		Agents:       agents,
	}
	now := time.Now().UTC()
	for _, entry := range entries {
		status.Entries = append(status.Entries, StatusEntry{
			ConversationID:    entry.ConversationID,
			Position:          entry.Position,
			Priority:          entry.Priority,
			WaitingSeconds:    int(now.Sub(entry.QueuedAt).Seconds()),
			EstimatedWaitMins: q.estimateWait(tenantID, entry.Position),
		})
	}
	return status, nil
}

// Position returns a conversation's current queue position and wait
// estimate, or ErrNotQueued
func (q *Queue) Position(ctx context.Context, conversationID string) (*EnqueueResult, error) {
	entry, err := q.store.GetWaitingEntryByConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotQueued
		}
		return nil, err
	}
	return &EnqueueResult{
		EntryID:           entry.ID,
		Position:          entry.Position,
		EstimatedWaitMins: q.estimateWait(entry.TenantID, entry.Position),
	}, nil
}
