// ABOUTME: In-memory agent capacity registry with compare-and-swap reservation
// ABOUTME: Tracks live sessions and concurrent chat load, persisting counters to the store

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/switchboard/internal/store"
)

var (
	// ErrNotLoggedIn is returned when an operation targets an agent
	// without a live session
	ErrNotLoggedIn = errors.New("agent is not logged in")

	// ErrCapacityExhausted is returned when a reservation would exceed
	// the agent's concurrent chat limit
	ErrCapacityExhausted = errors.New("agent capacity exhausted")

	// ErrConcurrencyConflict is returned when the agent's load changed
	// between snapshot and reservation
	ErrConcurrencyConflict = errors.New("agent load changed since snapshot")
)

// Snapshot is a point-in-time view of one agent's capacity
type Snapshot struct {
	AgentID             string
	TenantID            string
	SessionID           string
	ActiveConversations int
	MaxConcurrentChats  int
	IsAcceptingChats    bool
	AcceptsOverflow     bool
	LastActivity        time.Time
}

// HasCapacity reports whether the agent can take another conversation
func (s Snapshot) HasCapacity() bool {
	return s.IsAcceptingChats && s.ActiveConversations < s.MaxConcurrentChats
}

// CurrentLoad returns load as a fraction of capacity
func (s Snapshot) CurrentLoad() float64 {
	if s.MaxConcurrentChats <= 0 {
		return 1.0
	}
	return float64(s.ActiveConversations) / float64(s.MaxConcurrentChats)
}

type agentEntry struct {
	mu    sync.Mutex
	state Snapshot
}

// Registry tracks which agents are online and how many conversations
// each is handling. Reservations are compare-and-swap against the load
// observed at snapshot time, so two concurrent routing passes cannot
// both claim an agent's last slot.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agentEntry
	store  store.Store
	logger *slog.Logger
}

// New creates an empty registry backed by the given store
func New(st store.Store) *Registry {
	return &Registry{
		agents: make(map[string]*agentEntry),
		store:  st,
		logger: slog.Default().With("component", "registry"),
	}
}

// Restore loads live sessions from the store into the registry,
// typically at startup after a restart.
func (r *Registry) Restore(ctx context.Context, tenantID string) error {
	sessions, err := r.store.ListActiveSessions(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing active sessions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, session := range sessions {
		agent, err := r.store.GetAgent(ctx, session.AgentID)
		if err != nil {
			r.logger.Warn("skipping session with unknown agent",
				"agent_id", session.AgentID, "error", err)
			continue
		}
		r.agents[session.AgentID] = &agentEntry{state: Snapshot{
			AgentID:             session.AgentID,
			TenantID:            session.TenantID,
			SessionID:           session.ID,
			ActiveConversations: session.ActiveConversations,
			MaxConcurrentChats:  session.MaxConcurrentChats,
			IsAcceptingChats:    session.IsAcceptingChats,
			AcceptsOverflow:     agent.AcceptsOverflow,
			LastActivity:        session.LastActivity,
		}}
	}
	r.logger.Info("registry restored", "tenant_id", tenantID, "sessions", len(sessions))
	return nil
}

// Login registers an agent as online and creates a session record.
// If the agent already has a live session it is reused.
func (r *Registry) Login(ctx context.Context, agent *store.Agent) (*store.AgentSession, error) {
	if existing, err := r.store.GetActiveSession(ctx, agent.ID); err == nil {
		r.ensureEntry(agent, existing)
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking existing session: %w", err)
	}

	now := time.Now().UTC()
	session := &store.AgentSession{
		ID:                 uuid.New().String(),
		AgentID:            agent.ID,
		TenantID:           agent.TenantID,
		LoginAt:            now,
		LastActivity:       now,
		MaxConcurrentChats: agent.MaxConcurrentChats,
		IsAcceptingChats:   true,
	}
	if err := r.store.CreateAgentSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	r.ensureEntry(agent, session)
	r.logger.Info("agent logged in", "agent_id", agent.ID, "tenant_id", agent.TenantID,
		"max_concurrent", agent.MaxConcurrentChats)
	return session, nil
}

func (r *Registry) ensureEntry(agent *store.Agent, session *store.AgentSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agent.ID]; ok {
		return
	}
	r.agents[agent.ID] = &agentEntry{state: Snapshot{
		AgentID:             agent.ID,
		TenantID:            agent.TenantID,
		SessionID:           session.ID,
		ActiveConversations: session.ActiveConversations,
		MaxConcurrentChats:  session.MaxConcurrentChats,
		IsAcceptingChats:    session.IsAcceptingChats,
		AcceptsOverflow:     agent.AcceptsOverflow,
		LastActivity:        session.LastActivity,
	}}
}

// Logout removes the agent from the registry and closes the session.
// Returns the final snapshot so callers can requeue the agent's
// conversations.
func (r *Registry) Logout(ctx context.Context, agentID string) (Snapshot, error) {
	r.mu.Lock()
	entry, ok := r.agents[agentID]
	if ok {
		delete(r.agents, agentID)
	}
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrNotLoggedIn
	}

	entry.mu.Lock()
	snap := entry.state
	entry.mu.Unlock()

	session, err := r.store.GetActiveSession(ctx, agentID)
	if err == nil {
		now := time.Now().UTC()
		session.LogoutAt = &now
		session.ActiveConversations = 0
		if err := r.store.UpdateAgentSession(ctx, session); err != nil {
			r.logger.Warn("failed to persist logout", "agent_id", agentID, "error", err)
		}
	}

	r.logger.Info("agent logged out", "agent_id", agentID,
		"active_conversations", snap.ActiveConversations)
	return snap, nil
}

// Reserve claims one conversation slot on the agent. expectedLoad is
// the ActiveConversations value the caller observed; if the agent's
// load has since changed the reservation fails with
// ErrConcurrencyConflict so the caller can retry against a fresh
// snapshot. A full agent fails with ErrCapacityExhausted.
func (r *Registry) Reserve(ctx context.Context, agentID string, expectedLoad int) error {
	entry, err := r.entry(agentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.state.ActiveConversations != expectedLoad {
		return ErrConcurrencyConflict
	}
	if !entry.state.IsAcceptingChats || entry.state.ActiveConversations >= entry.state.MaxConcurrentChats {
		return ErrCapacityExhausted
	}

	entry.state.ActiveConversations++
	entry.state.LastActivity = time.Now().UTC()
	r.persist(ctx, entry.state)
	return nil
}

// Release frees one conversation slot on the agent. Releasing below
// zero is clamped; an unknown agent is a no-op since the session may
// already be gone.
func (r *Registry) Release(ctx context.Context, agentID string) {
	entry, err := r.entry(agentID)
	if err != nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state.ActiveConversations > 0 {
		entry.state.ActiveConversations--
	}
	entry.state.LastActivity = time.Now().UTC()
	r.persist(ctx, entry.state)
}

// SetAcceptingChats toggles whether the agent receives new assignments
func (r *Registry) SetAcceptingChats(ctx context.Context, agentID string, accepting bool) error {
	entry, err := r.entry(agentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.state.IsAcceptingChats = accepting
	entry.state.LastActivity = time.Now().UTC()
	r.persist(ctx, entry.state)
	return nil
}

// Touch records agent activity without changing load
func (r *Registry) Touch(agentID string) {
	entry, err := r.entry(agentID)
	if err != nil {
		return
	}
	entry.mu.Lock()
	entry.state.LastActivity = time.Now().UTC()
	entry.mu.Unlock()
}

// Get returns the agent's current snapshot
func (r *Registry) Get(agentID string) (Snapshot, error) {
	entry, err := r.entry(agentID)
	if err != nil {
		return Snapshot{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, nil
}

// ListOnline returns snapshots of all logged-in agents for a tenant,
// ordered by agent ID for deterministic iteration
func (r *Registry) ListOnline(tenantID string) []Snapshot {
	r.mu.RLock()
	entries := make([]*agentEntry, 0, len(r.agents))
	for _, entry := range r.agents {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	var snaps []Snapshot
	for _, entry := range entries {
		entry.mu.Lock()
		state := entry.state
		entry.mu.Unlock()
		if state.TenantID == tenantID {
			snaps = append(snaps, state)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].AgentID < snaps[j].AgentID })
	return snaps
}

// ListAvailable returns online agents with free capacity
func (r *Registry) ListAvailable(tenantID string) []Snapshot {
	online := r.ListOnline(tenantID)
	available := online[:0]
	for _, snap := range online {
		if snap.HasCapacity() {
			available = append(available, snap)
		}
	}
	return available
}

// OnlineCount returns how many agents are logged in for a tenant
func (r *Registry) OnlineCount(tenantID string) int {
	return len(r.ListOnline(tenantID))
}

func (r *Registry) entry(agentID string) (*agentEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.agents[agentID]
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return entry, nil
}

// persist writes the entry's counters through to the session record.
// Store failures are logged, not returned: the registry is the source
// of truth while the process is up.
func (r *Registry) persist(ctx context.Context, state Snapshot) {
	session, err := r.store.GetActiveSession(ctx, state.AgentID)
	if err != nil {
		return
	}
	session.ActiveConversations = state.ActiveConversations
	session.IsAcceptingChats = state.IsAcceptingChats
	session.LastActivity = state.LastActivity
	if err := r.store.UpdateAgentSession(ctx, session); err != nil {
		r.logger.Warn("failed to persist session counters",
			"agent_id", state.AgentID, "error", err)
	}
}
