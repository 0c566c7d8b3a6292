// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/queue/agent persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			customer_identifier TEXT NOT NULL,
			customer_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			original_question TEXT NOT NULL DEFAULT '',
			handoff_context TEXT NOT NULL DEFAULT '',
			assigned_agent_id TEXT NOT NULL DEFAULT '',
			previous_agent_id TEXT NOT NULL DEFAULT '',
			assigned_at DATETIME,
			assignment_method TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			queue_entry_time DATETIME,
			wait_time_seconds INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			agent_message_count INTEGER NOT NULL DEFAULT 0,
			customer_message_count INTEGER NOT NULL DEFAULT 0,
			closed_at DATETIME,
			closed_by TEXT NOT NULL DEFAULT '',
			closure_reason TEXT NOT NULL DEFAULT '',
			customer_satisfaction INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_tenant_customer
			ON conversations(tenant_id, customer_identifier);
		CREATE INDEX IF NOT EXISTS idx_conversations_agent
			ON conversations(assigned_agent_id, status);

		CREATE TABLE IF NOT EXISTS queue_entries (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			priority INTEGER NOT NULL DEFAULT 1,
			preferred_agent_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'waiting',
			abandon_reason TEXT NOT NULL DEFAULT '',
			queued_at DATETIME NOT NULL,
			assigned_at DATETIME,
			removed_at DATETIME,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_queue_entries_tenant_status
			ON queue_entries(tenant_id, status, position);
		CREATE INDEX IF NOT EXISTS idx_queue_entries_conversation
			ON queue_entries(conversation_id, status);

		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			email TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			total_conversations INTEGER NOT NULL DEFAULT 0,
			avg_satisfaction REAL NOT NULL DEFAULT 0,
			avg_response_time REAL NOT NULL DEFAULT 0,
			accepts_overflow INTEGER NOT NULL DEFAULT 1,
			max_concurrent_chats INTEGER NOT NULL DEFAULT 3,
			password_hash TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_tenant_email
			ON agents(tenant_id, email);

		CREATE TABLE IF NOT EXISTS agent_sessions (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			login_at DATETIME NOT NULL,
			logout_at DATETIME,
			last_activity DATETIME NOT NULL,
			active_conversations INTEGER NOT NULL DEFAULT 0,
			max_concurrent_chats INTEGER NOT NULL DEFAULT 3,
			is_accepting_chats INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (agent_id) REFERENCES agents(id)
		);

		CREATE INDEX IF NOT EXISTS idx_agent_sessions_agent
			ON agent_sessions(agent_id, logout_at);

		CREATE TABLE IF NOT EXISTS tags (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			priority_weight REAL NOT NULL DEFAULT 1.0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_tenant_name
			ON tags(tenant_id, name);

		CREATE TABLE IF NOT EXISTS agent_tag_proficiencies (
			agent_id TEXT NOT NULL,
			tag_name TEXT NOT NULL,
			proficiency_level INTEGER NOT NULL DEFAULT 3,
			total_conversations INTEGER NOT NULL DEFAULT 0,
			successful_resolutions INTEGER NOT NULL DEFAULT 0,
			avg_satisfaction REAL NOT NULL DEFAULT 0,
			max_concurrent_for_tag INTEGER NOT NULL DEFAULT 2,
			active_for_tag INTEGER NOT NULL DEFAULT 0,
			available_for_tag INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (agent_id, tag_name)
		);

		CREATE TABLE IF NOT EXISTS conversation_tags (
			conversation_id TEXT NOT NULL,
			tag_name TEXT NOT NULL,
			PRIMARY KEY (conversation_id, tag_name)
		);

		CREATE TABLE IF NOT EXISTS routing_decisions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			assigned_agent_id TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			detected_tags TEXT NOT NULL DEFAULT '[]',
			breakdown TEXT NOT NULL DEFAULT '{}',
			candidates TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_routing_decisions_tenant
			ON routing_decisions(tenant_id, created_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_type TEXT NOT NULL,
			sender_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			internal INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- time helpers ---

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// --- conversations ---

const conversationColumns = `id, tenant_id, customer_identifier, customer_name, status, priority,
	original_question, handoff_context, assigned_agent_id, previous_agent_id, assigned_at,
	assignment_method, created_at, queue_entry_time, wait_time_seconds, message_count,
	agent_message_count, customer_message_count, closed_at, closed_by, closure_reason,
	customer_satisfaction, updated_at`

// CreateConversation persists a new conversation
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.TenantID, conv.CustomerIdentifier, conv.CustomerName,
		string(conv.Status), conv.Priority, conv.OriginalQuestion, conv.HandoffContext,
		conv.AssignedAgentID, conv.PreviousAgentID, fmtTimePtr(conv.AssignedAt),
		conv.AssignmentMethod, fmtTime(conv.CreatedAt), fmtTimePtr(conv.QueueEntryTime),
		conv.WaitTimeSeconds, conv.MessageCount, conv.AgentMessageCount,
		conv.CustomerMessageCount, fmtTimePtr(conv.ClosedAt), conv.ClosedBy,
		conv.ClosureReason, conv.CustomerSatisfaction, fmtTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var conv Conversation
	var status string
	var assignedAt, queueEntryTime, closedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&conv.ID, &conv.TenantID, &conv.CustomerIdentifier, &conv.CustomerName,
		&status, &conv.Priority, &conv.OriginalQuestion, &conv.HandoffContext,
		&conv.AssignedAgentID, &conv.PreviousAgentID, &assignedAt,
		&conv.AssignmentMethod, &createdAt, &queueEntryTime, &conv.WaitTimeSeconds,
		&conv.MessageCount, &conv.AgentMessageCount, &conv.CustomerMessageCount,
		&closedAt, &conv.ClosedBy, &conv.ClosureReason, &conv.CustomerSatisfaction,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	conv.Status = ConversationStatus(status)
	conv.AssignedAt = parseTimePtr(assignedAt)
	conv.QueueEntryTime = parseTimePtr(queueEntryTime)
	conv.ClosedAt = parseTimePtr(closedAt)
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)
	return &conv, nil
}

// GetConversation retrieves a conversation by ID
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversation persists all mutable fields of a conversation
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	query := `UPDATE conversations SET
		status = ?, priority = ?, assigned_agent_id = ?, previous_agent_id = ?,
		assigned_at = ?, assignment_method = ?, queue_entry_time = ?, wait_time_seconds = ?,
		message_count = ?, agent_message_count = ?, customer_message_count = ?,
		closed_at = ?, closed_by = ?, closure_reason = ?, customer_satisfaction = ?,
		updated_at = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		string(conv.Status), conv.Priority, conv.AssignedAgentID, conv.PreviousAgentID,
		fmtTimePtr(conv.AssignedAt), conv.AssignmentMethod, fmtTimePtr(conv.QueueEntryTime),
		conv.WaitTimeSeconds, conv.MessageCount, conv.AgentMessageCount,
		conv.CustomerMessageCount, fmtTimePtr(conv.ClosedAt), conv.ClosedBy,
		conv.ClosureReason, conv.CustomerSatisfaction, fmtTime(time.Now()),
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActiveConversation returns the customer's non-terminal conversation, if any
func (s *SQLiteStore) FindActiveConversation(ctx context.Context, tenantID, customerIdentifier string) (*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE tenant_id = ? AND customer_identifier = ? AND status IN ('queued', 'assigned', 'active')
		ORDER BY created_at DESC LIMIT 1`
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, tenantID, customerIdentifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active conversation: %w", err)
	}
	return conv, nil
}

// ListRecentConversations returns the customer's most recent conversations, newest first
func (s *SQLiteStore) ListRecentConversations(ctx context.Context, tenantID, customerIdentifier string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE tenant_id = ? AND customer_identifier = ?
		ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, tenantID, customerIdentifier, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// ListConversationsByAgent returns an agent's conversations in the given statuses
func (s *SQLiteStore) ListConversationsByAgent(ctx context.Context, agentID string, statuses []ConversationStatus) ([]*Conversation, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]

	args := []any{agentID}
	for _, st := range statuses {
		args = append(args, string(st))
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE assigned_agent_id = ? AND status IN (` + placeholders + `)
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agent conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// --- queue entries ---

const queueEntryColumns = `id, tenant_id, conversation_id, position, priority,
	preferred_agent_id, status, abandon_reason, queued_at, assigned_at, removed_at`

// CreateQueueEntry persists a new queue entry. Returns ErrDuplicateQueueEntry
// if the conversation already has a waiting entry.
func (s *SQLiteStore) CreateQueueEntry(ctx context.Context, entry *QueueEntry) error {
	var existing int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE conversation_id = ? AND status = 'waiting'`,
		entry.ConversationID,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("checking existing queue entry: %w", err)
	}
	if existing > 0 {
		return ErrDuplicateQueueEntry
	}

	query := `INSERT INTO queue_entries (` + queueEntryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID, entry.TenantID, entry.ConversationID, entry.Position, entry.Priority,
		entry.PreferredAgentID, string(entry.Status), entry.AbandonReason,
		fmtTime(entry.QueuedAt), fmtTimePtr(entry.AssignedAt), fmtTimePtr(entry.RemovedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting queue entry: %w", err)
	}
	return nil
}

func scanQueueEntry(row interface{ Scan(...any) error }) (*QueueEntry, error) {
	var entry QueueEntry
	var status, queuedAt string
	var assignedAt, removedAt sql.NullString

	err := row.Scan(
		&entry.ID, &entry.TenantID, &entry.ConversationID, &entry.Position,
		&entry.Priority, &entry.PreferredAgentID, &status, &entry.AbandonReason,
		&queuedAt, &assignedAt, &removedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Status = QueueStatus(status)
	entry.QueuedAt = parseTime(queuedAt)
	entry.AssignedAt = parseTimePtr(assignedAt)
	entry.RemovedAt = parseTimePtr(removedAt)
	return &entry, nil
}

// GetQueueEntry retrieves a queue entry by ID
func (s *SQLiteStore) GetQueueEntry(ctx context.Context, id string) (*QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries WHERE id = ?`
	entry, err := scanQueueEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying queue entry: %w", err)
	}
	return entry, nil
}

// GetWaitingEntryByConversation returns the conversation's waiting entry
func (s *SQLiteStore) GetWaitingEntryByConversation(ctx context.Context, conversationID string) (*QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries
		WHERE conversation_id = ? AND status = 'waiting'`
	entry, err := scanQueueEntry(s.db.QueryRowContext(ctx, query, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying waiting entry: %w", err)
	}
	return entry, nil
}

// ListWaitingEntries returns a tenant's waiting entries ordered by position
func (s *SQLiteStore) ListWaitingEntries(ctx context.Context, tenantID string) ([]*QueueEntry, error) {
	query := `SELECT ` + queueEntryColumns + ` FROM queue_entries
		WHERE tenant_id = ? AND status = 'waiting'
		ORDER BY position ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying waiting entries: %w", err)
	}
	defer rows.Close()

	var entries []*QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateQueueEntry persists the mutable fields of a queue entry
func (s *SQLiteStore) UpdateQueueEntry(ctx context.Context, entry *QueueEntry) error {
	query := `UPDATE queue_entries SET
		position = ?, priority = ?, status = ?, abandon_reason = ?, assigned_at = ?, removed_at = ?
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query,
		entry.Position, entry.Priority, string(entry.Status), entry.AbandonReason,
		fmtTimePtr(entry.AssignedAt), fmtTimePtr(entry.RemovedAt), entry.ID,
	)
	if err != nil {
		return fmt.Errorf("updating queue entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateQueuePositions applies position changes atomically in one transaction
func (s *SQLiteStore) UpdateQueuePositions(ctx context.Context, tenantID string, positions map[string]int) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for id, pos := range positions {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_entries SET position = ? WHERE id = ? AND tenant_id = ?`,
			pos, id, tenantID,
		); err != nil {
			return fmt.Errorf("updating position for entry %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing position updates: %w", err)
	}
	return nil
}

// ListTenantsWithWaiting returns the tenants that currently have waiting entries
func (s *SQLiteStore) ListTenantsWithWaiting(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM queue_entries WHERE status = 'waiting'`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants with waiting entries: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// --- agents ---

const agentColumns = `id, tenant_id, email, display_name, total_conversations,
	avg_satisfaction, avg_response_time, accepts_overflow, max_concurrent_chats,
	password_hash, created_at, updated_at`

// CreateAgent persists a new agent profile
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	query := `INSERT INTO agents (` + agentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.TenantID, agent.Email, agent.DisplayName,
		agent.TotalConversations, agent.AvgSatisfaction, agent.AvgResponseTime,
		agent.AcceptsOverflow, agent.MaxConcurrentChats, agent.PasswordHash,
		fmtTime(agent.CreatedAt), fmtTime(agent.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

func scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	var agent Agent
	var createdAt, updatedAt string
	err := row.Scan(
		&agent.ID, &agent.TenantID, &agent.Email, &agent.DisplayName,
		&agent.TotalConversations, &agent.AvgSatisfaction, &agent.AvgResponseTime,
		&agent.AcceptsOverflow, &agent.MaxConcurrentChats, &agent.PasswordHash,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	agent.CreatedAt = parseTime(createdAt)
	agent.UpdatedAt = parseTime(updatedAt)
	return &agent, nil
}

// GetAgent retrieves an agent by ID
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = ?`
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return agent, nil
}

// GetAgentByEmail retrieves an agent by tenant and email
func (s *SQLiteStore) GetAgentByEmail(ctx context.Context, tenantID, email string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE tenant_id = ? AND email = ?`
	agent, err := scanAgent(s.db.QueryRowContext(ctx, query, tenantID, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent by email: %w", err)
	}
	return agent, nil
}

// UpdateAgent persists an agent's mutable fields
func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *Agent) error {
	query := `UPDATE agents SET
		display_name = ?, total_conversations = ?, avg_satisfaction = ?,
		avg_response_time = ?, accepts_overflow = ?, max_concurrent_chats = ?,
		password_hash = ?, updated_at = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		agent.DisplayName, agent.TotalConversations, agent.AvgSatisfaction,
		agent.AvgResponseTime, agent.AcceptsOverflow, agent.MaxConcurrentChats,
		agent.PasswordHash, fmtTime(time.Now()), agent.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgents returns all agents of a tenant
func (s *SQLiteStore) ListAgents(ctx context.Context, tenantID string) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE tenant_id = ? ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// --- agent sessions ---

const sessionColumns = `id, agent_id, tenant_id, login_at, logout_at, last_activity,
	active_conversations, max_concurrent_chats, is_accepting_chats`

// CreateAgentSession persists a new live session
func (s *SQLiteStore) CreateAgentSession(ctx context.Context, session *AgentSession) error {
	query := `INSERT INTO agent_sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.AgentID, session.TenantID, fmtTime(session.LoginAt),
		fmtTimePtr(session.LogoutAt), fmtTime(session.LastActivity),
		session.ActiveConversations, session.MaxConcurrentChats, session.IsAcceptingChats,
	)
	if err != nil {
		return fmt.Errorf("inserting agent session: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (*AgentSession, error) {
	var session AgentSession
	var loginAt, lastActivity string
	var logoutAt sql.NullString
	err := row.Scan(
		&session.ID, &session.AgentID, &session.TenantID, &loginAt, &logoutAt,
		&lastActivity, &session.ActiveConversations, &session.MaxConcurrentChats,
		&session.IsAcceptingChats,
	)
	if err != nil {
		return nil, err
	}
	session.LoginAt = parseTime(loginAt)
	session.LogoutAt = parseTimePtr(logoutAt)
	session.LastActivity = parseTime(lastActivity)
	return &session, nil
}

// GetActiveSession returns the agent's current session, if logged in
func (s *SQLiteStore) GetActiveSession(ctx context.Context, agentID string) (*AgentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM agent_sessions
		WHERE agent_id = ? AND logout_at IS NULL
		ORDER BY login_at DESC LIMIT 1`
	session, err := scanSession(s.db.QueryRowContext(ctx, query, agentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active session: %w", err)
	}
	return session, nil
}

// UpdateAgentSession persists a session's mutable fields
func (s *SQLiteStore) UpdateAgentSession(ctx context.Context, session *AgentSession) error {
	query := `UPDATE agent_sessions SET
		logout_at = ?, last_activity = ?, active_conversations = ?,
		max_concurrent_chats = ?, is_accepting_chats = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		fmtTimePtr(session.LogoutAt), fmtTime(session.LastActivity),
		session.ActiveConversations, session.MaxConcurrentChats,
		session.IsAcceptingChats, session.ID,
	)
	if err != nil {
		return fmt.Errorf("updating agent session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveSessions returns all live sessions for a tenant
func (s *SQLiteStore) ListActiveSessions(ctx context.Context, tenantID string) ([]*AgentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM agent_sessions
		WHERE tenant_id = ? AND logout_at IS NULL`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*AgentSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// --- tags and proficiency ---

// CreateTag persists a new tag
func (s *SQLiteStore) CreateTag(ctx context.Context, tag *Tag) error {
	query := `INSERT INTO tags (id, tenant_id, name, display_name, category, priority_weight, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		tag.ID, tag.TenantID, tag.Name, tag.DisplayName, tag.Category,
		tag.PriorityWeight, tag.Active, fmtTime(tag.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting tag: %w", err)
	}
	return nil
}

// ListTags returns a tenant's active tags
func (s *SQLiteStore) ListTags(ctx context.Context, tenantID string) ([]*Tag, error) {
	query := `SELECT id, tenant_id, name, display_name, category, priority_weight, active, created_at
		FROM tags WHERE tenant_id = ? AND active = 1 ORDER BY name ASC`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var tags []*Tag
	for rows.Next() {
		var tag Tag
		var createdAt string
		if err := rows.Scan(&tag.ID, &tag.TenantID, &tag.Name, &tag.DisplayName,
			&tag.Category, &tag.PriorityWeight, &tag.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tag.CreatedAt = parseTime(createdAt)
		tags = append(tags, &tag)
	}
	return tags, rows.Err()
}

// UpsertProficiency inserts or replaces an agent's proficiency record for a tag
func (s *SQLiteStore) UpsertProficiency(ctx context.Context, prof *AgentTagProficiency) error {
	query := `INSERT INTO agent_tag_proficiencies (
			agent_id, tag_name, proficiency_level, total_conversations,
			successful_resolutions, avg_satisfaction, max_concurrent_for_tag,
			active_for_tag, available_for_tag, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id, tag_name) DO UPDATE SET
			proficiency_level = excluded.proficiency_level,
			total_conversations = excluded.total_conversations,
			successful_resolutions = excluded.successful_resolutions,
			avg_satisfaction = excluded.avg_satisfaction,
			max_concurrent_for_tag = excluded.max_concurrent_for_tag,
			active_for_tag = excluded.active_for_tag,
			available_for_tag = excluded.available_for_tag,
			updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		prof.AgentID, prof.TagName, prof.ProficiencyLevel, prof.TotalConversations,
		prof.SuccessfulResolutions, prof.AvgSatisfaction, prof.MaxConcurrentForTag,
		prof.ActiveForTag, prof.AvailableForTag, fmtTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting proficiency: %w", err)
	}
	return nil
}

// ListProficiencies returns all tag proficiency records for an agent
func (s *SQLiteStore) ListProficiencies(ctx context.Context, agentID string) ([]*AgentTagProficiency, error) {
	query := `SELECT agent_id, tag_name, proficiency_level, total_conversations,
			successful_resolutions, avg_satisfaction, max_concurrent_for_tag,
			active_for_tag, available_for_tag, updated_at
		FROM agent_tag_proficiencies WHERE agent_id = ? ORDER BY tag_name ASC`
	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying proficiencies: %w", err)
	}
	defer rows.Close()

	var profs []*AgentTagProficiency
	for rows.Next() {
		var prof AgentTagProficiency
		var updatedAt string
		if err := rows.Scan(&prof.AgentID, &prof.TagName, &prof.ProficiencyLevel,
			&prof.TotalConversations, &prof.SuccessfulResolutions, &prof.AvgSatisfaction,
			&prof.MaxConcurrentForTag, &prof.ActiveForTag, &prof.AvailableForTag,
			&updatedAt); err != nil {
			return nil, fmt.Errorf("scanning proficiency: %w", err)
		}
		prof.UpdatedAt = parseTime(updatedAt)
		profs = append(profs, &prof)
	}
	return profs, rows.Err()
}

// ListConversationTags returns the tag names detected for a conversation
func (s *SQLiteStore) ListConversationTags(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag_name FROM conversation_tags WHERE conversation_id = ? ORDER BY tag_name ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning conversation tag: %w", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

// SaveConversationTags records the detected tags for a conversation
func (s *SQLiteStore) SaveConversationTags(ctx context.Context, conversationID string, tags []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversation_tags (conversation_id, tag_name) VALUES (?, ?)`,
			conversationID, tag,
		); err != nil {
			return fmt.Errorf("inserting conversation tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation tags: %w", err)
	}
	return nil
}

// --- routing audit ---

// SaveRoutingDecision persists a routing audit record
func (s *SQLiteStore) SaveRoutingDecision(ctx context.Context, decision *RoutingDecision) error {
	query := `INSERT INTO routing_decisions (
			id, conversation_id, tenant_id, assigned_agent_id, method, confidence,
			detected_tags, breakdown, candidates, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		decision.ID, decision.ConversationID, decision.TenantID, decision.AssignedAgentID,
		decision.Method, decision.Confidence, nonEmptyJSON(decision.DetectedTags, "[]"),
		nonEmptyJSON(decision.Breakdown, "{}"), nonEmptyJSON(decision.Candidates, "[]"),
		fmtTime(decision.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting routing decision: %w", err)
	}
	return nil
}

func nonEmptyJSON(s, fallback string) string {
	if s == "" {
		return fallback
	}
	if !json.Valid([]byte(s)) {
		return fallback
	}
	return s
}

// ListRoutingDecisions returns routing decisions for a tenant since the given time
func (s *SQLiteStore) ListRoutingDecisions(ctx context.Context, tenantID string, since time.Time, limit int) ([]*RoutingDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, conversation_id, tenant_id, assigned_agent_id, method, confidence,
			detected_tags, breakdown, candidates, created_at
		FROM routing_decisions
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, tenantID, fmtTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("querying routing decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*RoutingDecision
	for rows.Next() {
		var d RoutingDecision
		var createdAt string
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.TenantID, &d.AssignedAgentID,
			&d.Method, &d.Confidence, &d.DetectedTags, &d.Breakdown, &d.Candidates,
			&createdAt); err != nil {
			return nil, fmt.Errorf("scanning routing decision: %w", err)
		}
		d.CreatedAt = parseTime(createdAt)
		decisions = append(decisions, &d)
	}
	return decisions, rows.Err()
}

// --- messages ---

// SaveMessage persists a chat message
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `INSERT INTO messages (id, conversation_id, sender_type, sender_id, sender_name, content, internal, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.ConversationID, string(msg.SenderType), msg.SenderID,
		msg.SenderName, msg.Content, msg.Internal, fmtTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages, oldest first
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT id, conversation_id, sender_type, sender_id, sender_name, content, internal, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var senderType, createdAt string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &senderType, &msg.SenderID,
			&msg.SenderName, &msg.Content, &msg.Internal, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.SenderType = SenderType(senderType)
		msg.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
