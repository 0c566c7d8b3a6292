// ABOUTME: In-memory implementation of the Store interface for testing
// ABOUTME: Mirrors SQLiteStore semantics without touching disk

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store for tests
type MockStore struct {
	mu              sync.RWMutex
	conversations   map[string]*Conversation
	queueEntries    map[string]*QueueEntry
	agents          map[string]*Agent
	sessions        map[string]*AgentSession
	tags            map[string]*Tag
	proficiencies   map[string]*AgentTagProficiency // key agentID + "/" + tagName
	convTags        map[string][]string
	decisions       []*RoutingDecision
	messages        map[string][]*Message
}

// NewMockStore creates an empty in-memory store
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		queueEntries:  make(map[string]*QueueEntry),
		agents:        make(map[string]*Agent),
		sessions:      make(map[string]*AgentSession),
		tags:          make(map[string]*Tag),
		proficiencies: make(map[string]*AgentTagProficiency),
		convTags:      make(map[string][]string),
		messages:      make(map[string][]*Message),
	}
}

func (m *MockStore) Close() error { return nil }

func copyConv(c *Conversation) *Conversation {
	out := *c
	return &out
}

func copyEntry(e *QueueEntry) *QueueEntry {
	out := *e
	return &out
}

// --- conversations ---

func (m *MockStore) CreateConversation(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ID] = copyConv(conv)
	return nil
}

func (m *MockStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConv(conv), nil
}

func (m *MockStore) UpdateConversation(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[conv.ID]; !ok {
		return ErrNotFound
	}
	updated := copyConv(conv)
	updated.UpdatedAt = time.Now()
	m.conversations[conv.ID] = updated
	return nil
}

func (m *MockStore) FindActiveConversation(_ context.Context, tenantID, customerIdentifier string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Conversation
	for _, conv := range m.conversations {
		if conv.TenantID != tenantID || conv.CustomerIdentifier != customerIdentifier {
			continue
		}
		if conv.Status.Terminal() {
			continue
		}
		if best == nil || conv.CreatedAt.After(best.CreatedAt) {
			best = conv
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyConv(best), nil
}

func (m *MockStore) ListRecentConversations(_ context.Context, tenantID, customerIdentifier string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var convs []*Conversation
	for _, conv := range m.conversations {
		if conv.TenantID == tenantID && conv.CustomerIdentifier == customerIdentifier {
			convs = append(convs, copyConv(conv))
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (m *MockStore) ListConversationsByAgent(_ context.Context, agentID string, statuses []ConversationStatus) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[ConversationStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	var convs []*Conversation
	for _, conv := range m.conversations {
		if conv.AssignedAgentID == agentID && wanted[conv.Status] {
			convs = append(convs, copyConv(conv))
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})
	return convs, nil
}

// --- queue entries ---

func (m *MockStore) CreateQueueEntry(_ context.Context, entry *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.queueEntries {
		if existing.ConversationID == entry.ConversationID && existing.Status == QueueStatusWaiting {
			return ErrDuplicateQueueEntry
		}
	}
	m.queueEntries[entry.ID] = copyEntry(entry)
	return nil
}

func (m *MockStore) GetQueueEntry(_ context.Context, id string) (*QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.queueEntries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(entry), nil
}

func (m *MockStore) GetWaitingEntryByConversation(_ context.Context, conversationID string) (*QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, entry := range m.queueEntries {
		if entry.ConversationID == conversationID && entry.Status == QueueStatusWaiting {
			return copyEntry(entry), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) ListWaitingEntries(_ context.Context, tenantID string) ([]*QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []*QueueEntry
	for _, entry := range m.queueEntries {
		if entry.TenantID == tenantID && entry.Status == QueueStatusWaiting {
			entries = append(entries, copyEntry(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Position < entries[j].Position
	})
	return entries, nil
}

func (m *MockStore) UpdateQueueEntry(_ context.Context, entry *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queueEntries[entry.ID]; !ok {
		return ErrNotFound
	}
	m.queueEntries[entry.ID] = copyEntry(entry)
	return nil
}

func (m *MockStore) UpdateQueuePositions(_ context.Context, tenantID string, positions map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pos := range positions {
		entry, ok := m.queueEntries[id]
		if !ok || entry.TenantID != tenantID {
			continue
		}
		entry.Position = pos
	}
	return nil
}

func (m *MockStore) ListTenantsWithWaiting(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var tenants []string
	for _, entry := range m.queueEntries {
		if entry.Status == QueueStatusWaiting && !seen[entry.TenantID] {
			seen[entry.TenantID] = true
			tenants = append(tenants, entry.TenantID)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

// --- agents ---

func (m *MockStore) CreateAgent(_ context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *agent
	m.agents[agent.ID] = &out
	return nil
}

func (m *MockStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *agent
	return &out, nil
}

func (m *MockStore) GetAgentByEmail(_ context.Context, tenantID, email string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, agent := range m.agents {
		if agent.TenantID == tenantID && strings.EqualFold(agent.Email, email) {
			out := *agent
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) UpdateAgent(_ context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agent.ID]; !ok {
		return ErrNotFound
	}
	out := *agent
	out.UpdatedAt = time.Now()
	m.agents[agent.ID] = &out
	return nil
}

func (m *MockStore) ListAgents(_ context.Context, tenantID string) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var agents []*Agent
	for _, agent := range m.agents {
		if agent.TenantID == tenantID {
			out := *agent
			agents = append(agents, &out)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// --- agent sessions ---

func (m *MockStore) CreateAgentSession(_ context.Context, session *AgentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *session
	m.sessions[session.ID] = &out
	return nil
}

func (m *MockStore) GetActiveSession(_ context.Context, agentID string) (*AgentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *AgentSession
	for _, session := range m.sessions {
		if session.AgentID != agentID || session.LogoutAt != nil {
			continue
		}
		if best == nil || session.LoginAt.After(best.LoginAt) {
			best = session
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	out := *best
	return &out, nil
}

func (m *MockStore) UpdateAgentSession(_ context.Context, session *AgentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	out := *session
	m.sessions[session.ID] = &out
	return nil
}

func (m *MockStore) ListActiveSessions(_ context.Context, tenantID string) ([]*AgentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sessions []*AgentSession
	for _, session := range m.sessions {
		if session.TenantID == tenantID && session.LogoutAt == nil {
			out := *session
			sessions = append(sessions, &out)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LoginAt.Before(sessions[j].LoginAt)
	})
	return sessions, nil
}

// --- tags and proficiency ---

func (m *MockStore) CreateTag(_ context.Context, tag *Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *tag
	m.tags[tag.TenantID+"/"+tag.Name] = &out
	return nil
}

func (m *MockStore) ListTags(_ context.Context, tenantID string) ([]*Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tags []*Tag
	for _, tag := range m.tags {
		if tag.TenantID == tenantID && tag.Active {
			out := *tag
			tags = append(tags, &out)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (m *MockStore) UpsertProficiency(_ context.Context, prof *AgentTagProficiency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *prof
	out.UpdatedAt = time.Now()
	m.proficiencies[prof.AgentID+"/"+prof.TagName] = &out
	return nil
}

func (m *MockStore) ListProficiencies(_ context.Context, agentID string) ([]*AgentTagProficiency, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var profs []*AgentTagProficiency
	for _, prof := range m.proficiencies {
		if prof.AgentID == agentID {
			out := *prof
			profs = append(profs, &out)
		}
	}
	sort.Slice(profs, func(i, j int) bool { return profs[i].TagName < profs[j].TagName })
	return profs, nil
}

func (m *MockStore) ListConversationTags(_ context.Context, conversationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make([]string, len(m.convTags[conversationID]))
	copy(tags, m.convTags[conversationID])
	sort.Strings(tags)
	return tags, nil
}

func (m *MockStore) SaveConversationTags(_ context.Context, conversationID string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := make(map[string]bool)
	for _, t := range m.convTags[conversationID] {
		existing[t] = true
	}
	for _, t := range tags {
		if !existing[t] {
			m.convTags[conversationID] = append(m.convTags[conversationID], t)
			existing[t] = true
		}
	}
	return nil
}

// --- routing audit ---

func (m *MockStore) SaveRoutingDecision(_ context.Context, decision *RoutingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *decision
	m.decisions = append(m.decisions, &out)
	return nil
}

func (m *MockStore) ListRoutingDecisions(_ context.Context, tenantID string, since time.Time, limit int) ([]*RoutingDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var decisions []*RoutingDecision
	for _, d := range m.decisions {
		if d.TenantID == tenantID && !d.CreatedAt.Before(since) {
			out := *d
			decisions = append(decisions, &out)
		}
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt.After(decisions[j].CreatedAt)
	})
	if len(decisions) > limit {
		decisions = decisions[:limit]
	}
	return decisions, nil
}

// --- messages ---

func (m *MockStore) SaveMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &out)
	return nil
}

func (m *MockStore) ListMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 200
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		c := *msg
		out = append(out, &c)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
