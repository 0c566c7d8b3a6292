// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Verifies CRUD round-trips, duplicate handling, and atomic position updates

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation(tenantID, customer string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:                 uuid.New().String(),
		TenantID:           tenantID,
		CustomerIdentifier: customer,
		CustomerName:       "Pat",
		Status:             StatusQueued,
		Priority:           PriorityNormal,
		OriginalQuestion:   "I was double charged this month",
		CreatedAt:          now,
		QueueEntryTime:     &now,
		UpdatedAt:          now,
	}
}

func TestSQLiteStore_ConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("acme", "cust-1")
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, "I was double charged this month", got.OriginalQuestion)
	require.NotNil(t, got.QueueEntryTime)
	assert.WithinDuration(t, *conv.QueueEntryTime, *got.QueueEntryTime, time.Second)

	got.Status = StatusAssigned
	got.AssignedAgentID = "agent-1"
	now := time.Now().UTC()
	got.AssignedAt = &now
	got.AssignmentMethod = AssignmentAuto
	require.NoError(t, s.UpdateConversation(ctx, got))

	got2, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, got2.Status)
	assert.Equal(t, "agent-1", got2.AssignedAgentID)
	require.NotNil(t, got2.AssignedAt)
}

func TestSQLiteStore_GetConversationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_FindActiveConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	closed := testConversation("acme", "cust-1")
	closed.Status = StatusClosed
	require.NoError(t, s.CreateConversation(ctx, closed))

	_, err := s.FindActiveConversation(ctx, "acme", "cust-1")
	assert.ErrorIs(t, err, ErrNotFound)

	active := testConversation("acme", "cust-1")
	active.CreatedAt = time.Now().UTC().Add(time.Minute)
	require.NoError(t, s.CreateConversation(ctx, active))

	got, err := s.FindActiveConversation(ctx, "acme", "cust-1")
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)

	// Other tenants don't see it
	_, err = s.FindActiveConversation(ctx, "other", "cust-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListRecentConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		conv := testConversation("acme", "cust-1")
		conv.Status = StatusClosed
		conv.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateConversation(ctx, conv))
	}

	convs, err := s.ListRecentConversations(ctx, "acme", "cust-1", 5)
	require.NoError(t, err)
	require.Len(t, convs, 5)
	for i := 1; i < len(convs); i++ {
		assert.True(t, convs[i-1].CreatedAt.After(convs[i].CreatedAt) ||
			convs[i-1].CreatedAt.Equal(convs[i].CreatedAt))
	}
}

func TestSQLiteStore_QueueEntryDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("acme", "cust-1")
	require.NoError(t, s.CreateConversation(ctx, conv))

	entry := &QueueEntry{
		ID:             uuid.New().String(),
		TenantID:       "acme",
		ConversationID: conv.ID,
		Position:       1,
		Priority:       PriorityNormal,
		Status:         QueueStatusWaiting,
		QueuedAt:       time.Now().UTC(),
	}
	require.NoError(t, s.CreateQueueEntry(ctx, entry))

	dup := &QueueEntry{
		ID:             uuid.New().String(),
		TenantID:       "acme",
		ConversationID: conv.ID,
		Position:       2,
		Priority:       PriorityNormal,
		Status:         QueueStatusWaiting,
		QueuedAt:       time.Now().UTC(),
	}
	err := s.CreateQueueEntry(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateQueueEntry)
}

func TestSQLiteStore_UpdateQueuePositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	positions := make(map[string]int)
	var ids []string
	for i := 1; i <= 3; i++ {
		conv := testConversation("acme", uuid.New().String())
		require.NoError(t, s.CreateConversation(ctx, conv))
		entry := &QueueEntry{
			ID:             uuid.New().String(),
			TenantID:       "acme",
			ConversationID: conv.ID,
			Position:       i,
			Priority:       PriorityNormal,
			Status:         QueueStatusWaiting,
			QueuedAt:       time.Now().UTC(),
		}
		require.NoError(t, s.CreateQueueEntry(ctx, entry))
		ids = append(ids, entry.ID)
	}

	// Reverse the order
	positions[ids[0]] = 3
	positions[ids[1]] = 2
	positions[ids[2]] = 1
	require.NoError(t, s.UpdateQueuePositions(ctx, "acme", positions))

	entries, err := s.ListWaitingEntries(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ids[2], entries[0].ID)
	assert.Equal(t, ids[0], entries[2].ID)
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.Position)
	}
}

func TestSQLiteStore_AgentAndSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &Agent{
		ID:                 "agent-1",
		TenantID:           "acme",
		Email:              "sam@acme.test",
		DisplayName:        "Sam",
		MaxConcurrentChats: 3,
		AcceptsOverflow:    true,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
	require.NoError(t, s.CreateAgent(ctx, agent))

	byEmail, err := s.GetAgentByEmail(ctx, "acme", "sam@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", byEmail.ID)

	_, err = s.GetActiveSession(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrNotFound)

	session := &AgentSession{
		ID:                 uuid.New().String(),
		AgentID:            "agent-1",
		TenantID:           "acme",
		LoginAt:            time.Now().UTC(),
		LastActivity:       time.Now().UTC(),
		MaxConcurrentChats: 3,
		IsAcceptingChats:   true,
	}
	require.NoError(t, s.CreateAgentSession(ctx, session))

	got, err := s.GetActiveSession(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.True(t, got.IsAcceptingChats)

	now := time.Now().UTC()
	got.LogoutAt = &now
	require.NoError(t, s.UpdateAgentSession(ctx, got))

	_, err = s.GetActiveSession(ctx, "agent-1")
	assert.ErrorIs(t, err, ErrNotFound)

	sessions, err := s.ListActiveSessions(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSQLiteStore_ProficiencyUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prof := &AgentTagProficiency{
		AgentID:             "agent-1",
		TagName:             "billing",
		ProficiencyLevel:    4,
		TotalConversations:  10,
		SuccessfulResolutions: 8,
		AvgSatisfaction:     4.2,
		MaxConcurrentForTag: 2,
		AvailableForTag:     true,
	}
	require.NoError(t, s.UpsertProficiency(ctx, prof))

	prof.TotalConversations = 11
	prof.SuccessfulResolutions = 9
	require.NoError(t, s.UpsertProficiency(ctx, prof))

	profs, err := s.ListProficiencies(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, profs, 1)
	assert.Equal(t, 11, profs[0].TotalConversations)
	assert.InDelta(t, 9.0/11.0, profs[0].SuccessRate(), 0.001)
}

func TestSQLiteStore_RoutingDecisionAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	decision := &RoutingDecision{
		ID:              uuid.New().String(),
		ConversationID:  "conv-1",
		TenantID:        "acme",
		AssignedAgentID: "agent-1",
		Method:          AssignmentAuto,
		Confidence:      0.8,
		DetectedTags:    `["billing","refunds"]`,
		Breakdown:       `{"tag_match":0.4}`,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, s.SaveRoutingDecision(ctx, decision))

	decisions, err := s.ListRoutingDecisions(ctx, "acme", time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, `["billing","refunds"]`, decisions[0].DetectedTags)
}

func TestSQLiteStore_MessagesAndTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("acme", "cust-1")
	require.NoError(t, s.CreateConversation(ctx, conv))

	msg := &Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderType:     SenderCustomer,
		SenderID:       "cust-1",
		Content:        "hello",
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.SaveMessage(ctx, msg))

	msgs, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, SenderCustomer, msgs[0].SenderType)

	require.NoError(t, s.SaveConversationTags(ctx, conv.ID, []string{"billing", "refunds"}))
	require.NoError(t, s.SaveConversationTags(ctx, conv.ID, []string{"billing"}))

	tags, err := s.ListConversationTags(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"billing", "refunds"}, tags)
}
