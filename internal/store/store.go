// ABOUTME: Store interface and data types for switchboard persistence
// ABOUTME: Defines Conversation, QueueEntry, AgentSession structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateQueueEntry is returned when a conversation already has a waiting queue entry
var ErrDuplicateQueueEntry = errors.New("conversation already queued")

// ConversationStatus tracks a conversation through its lifecycle.
// Terminal states are Closed and Abandoned; a conversation is never deleted.
type ConversationStatus string

const (
	StatusQueued    ConversationStatus = "queued"
	StatusAssigned  ConversationStatus = "assigned"
	StatusActive    ConversationStatus = "active"
	StatusClosed    ConversationStatus = "closed"
	StatusAbandoned ConversationStatus = "abandoned"
)

// Terminal reports whether the status is an end state.
func (s ConversationStatus) Terminal() bool {
	return s == StatusClosed || s == StatusAbandoned
}

// Assignment methods recorded on conversations and routing decisions.
const (
	AssignmentAuto      = "auto"
	AssignmentManual    = "manual"
	AssignmentPreferred = "preferred"
	AssignmentTransfer  = "transfer"
	AssignmentRequeue   = "requeue"
)

// Priority levels for queue ordering. Higher sorts earlier.
const (
	PriorityNormal = 1
	PriorityHigh   = 2
	PriorityUrgent = 3
)

// Conversation is the unit of work routed to agents.
type Conversation struct {
	ID                 string
	TenantID           string
	CustomerIdentifier string
	CustomerName       string
	Status             ConversationStatus
	Priority           int

	// Handoff context from the bot layer
	OriginalQuestion string
	HandoffContext   string // JSON from the bot, opaque here

	// Assignment
	AssignedAgentID  string // empty when unassigned
	PreviousAgentID  string // set on transfer/requeue
	AssignedAt       *time.Time
	AssignmentMethod string

	// Timing and counters
	CreatedAt            time.Time
	QueueEntryTime       *time.Time
	WaitTimeSeconds      int
	MessageCount         int
	AgentMessageCount    int
	CustomerMessageCount int

	// Closure metadata
	ClosedAt             *time.Time
	ClosedBy             string // agent, customer, system, timeout
	ClosureReason        string
	CustomerSatisfaction int // 1-5, 0 when unrated

	UpdatedAt time.Time
}

// QueueStatus is the lifecycle of a queue entry.
type QueueStatus string

const (
	QueueStatusWaiting   QueueStatus = "waiting"
	QueueStatusAssigned  QueueStatus = "assigned"
	QueueStatusAbandoned QueueStatus = "abandoned"
)

// QueueEntry is a conversation's membership in its tenant's waiting list.
// Positions within a tenant's waiting set are contiguous integers from 1,
// ordered by (priority desc, arrival asc).
type QueueEntry struct {
	ID               string
	TenantID         string
	ConversationID   string // at most one non-terminal entry per conversation
	Position         int
	Priority         int
	PreferredAgentID string
	Status           QueueStatus
	AbandonReason    string
	QueuedAt         time.Time
	AssignedAt       *time.Time
	RemovedAt        *time.Time
}

// Agent is the persistent profile of a support agent, including the
// performance history the scorer reads.
type Agent struct {
	ID          string
	TenantID    string
	Email       string
	DisplayName string

	// Performance history, updated on conversation close
	TotalConversations int
	AvgSatisfaction    float64 // 1-5, 0 when no history
	AvgResponseTime    float64 // seconds, 0 when no history

	AcceptsOverflow    bool
	MaxConcurrentChats int
	PasswordHash       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AgentSession is the live capacity record for a logged-in agent.
// Created on login, terminated on logout.
type AgentSession struct {
	ID                  string
	AgentID             string
	TenantID            string
	LoginAt             time.Time
	LogoutAt            *time.Time
	LastActivity        time.Time
	ActiveConversations int
	MaxConcurrentChats  int
	IsAcceptingChats    bool
}

// Tag is a skill/topic label used to match conversations to agent expertise.
type Tag struct {
	ID             string
	TenantID       string
	Name           string
	DisplayName    string
	Category       string
	PriorityWeight float64 // scales tag match scores, 1.0 default
	Active         bool
	CreatedAt      time.Time
}

// AgentTagProficiency is an agent's performance record for one tag.
type AgentTagProficiency struct {
	AgentID               string
	TagName               string
	ProficiencyLevel      int // 1-5
	TotalConversations    int
	SuccessfulResolutions int
	AvgSatisfaction       float64 // 1-5, 0 when unknown
	MaxConcurrentForTag   int
	ActiveForTag          int
	AvailableForTag       bool
	UpdatedAt             time.Time
}

// SuccessRate returns the resolved fraction, 0 with no history.
func (p *AgentTagProficiency) SuccessRate() float64 {
	if p.TotalConversations == 0 {
		return 0
	}
	return float64(p.SuccessfulResolutions) / float64(p.TotalConversations)
}

// RoutingDecision is the immutable audit record of one scoring run.
type RoutingDecision struct {
	ID              string
	ConversationID  string
	TenantID        string
	AssignedAgentID string
	Method          string
	Confidence      float64
	DetectedTags    string // JSON
	Breakdown       string // JSON score breakdown of the winner
	Candidates      string // JSON summary of scored candidates
	CreatedAt       time.Time
}

// SenderType identifies the author side of a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// Message is a persisted chat message. The socket layer is best-effort;
// this record is the durability source of truth.
type Message struct {
	ID             string
	ConversationID string
	SenderType     SenderType
	SenderID       string
	SenderName     string
	Content        string
	Internal       bool // agent-only notes, never sent to the customer
	CreatedAt      time.Time
}

// Store defines persistence for conversations, queue entries, agents and
// routing audit records. All methods accept a context for cancellation.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	FindActiveConversation(ctx context.Context, tenantID, customerIdentifier string) (*Conversation, error)
	ListRecentConversations(ctx context.Context, tenantID, customerIdentifier string, limit int) ([]*Conversation, error)
	ListConversationsByAgent(ctx context.Context, agentID string, statuses []ConversationStatus) ([]*Conversation, error)

	// Queue entries
	CreateQueueEntry(ctx context.Context, entry *QueueEntry) error
	GetQueueEntry(ctx context.Context, id string) (*QueueEntry, error)
	GetWaitingEntryByConversation(ctx context.Context, conversationID string) (*QueueEntry, error)
	ListWaitingEntries(ctx context.Context, tenantID string) ([]*QueueEntry, error)
	UpdateQueueEntry(ctx context.Context, entry *QueueEntry) error
	// UpdateQueuePositions applies position changes for a tenant's waiting
	// entries atomically, keyed by entry ID.
	UpdateQueuePositions(ctx context.Context, tenantID string, positions map[string]int) error
	ListTenantsWithWaiting(ctx context.Context) ([]string, error)

	// Agents and sessions
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByEmail(ctx context.Context, tenantID, email string) (*Agent, error)
	UpdateAgent(ctx context.Context, agent *Agent) error
	ListAgents(ctx context.Context, tenantID string) ([]*Agent, error)

	CreateAgentSession(ctx context.Context, session *AgentSession) error
	GetActiveSession(ctx context.Context, agentID string) (*AgentSession, error)
	UpdateAgentSession(ctx context.Context, session *AgentSession) error
	ListActiveSessions(ctx context.Context, tenantID string) ([]*AgentSession, error)

	// Tags and proficiency
	CreateTag(ctx context.Context, tag *Tag) error
	ListTags(ctx context.Context, tenantID string) ([]*Tag, error)
	UpsertProficiency(ctx context.Context, prof *AgentTagProficiency) error
	ListProficiencies(ctx context.Context, agentID string) ([]*AgentTagProficiency, error)
	ListConversationTags(ctx context.Context, conversationID string) ([]string, error)
	SaveConversationTags(ctx context.Context, conversationID string, tags []string) error

	// Routing audit
	SaveRoutingDecision(ctx context.Context, decision *RoutingDecision) error
	ListRoutingDecisions(ctx context.Context, tenantID string, since time.Time, limit int) ([]*RoutingDecision, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
