// ABOUTME: Tests for the agent capacity registry
// ABOUTME: Covers login/logout, CAS reservation under contention, and availability listing

package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/switchboard/internal/store"
)

func testAgent(id, tenantID string, maxChats int) *store.Agent {
	return &store.Agent{
		ID:                 id,
		TenantID:           tenantID,
		Email:              id + "@test",
		MaxConcurrentChats: maxChats,
		AcceptsOverflow:    true,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}
}

func loginAgent(t *testing.T, r *Registry, st *store.MockStore, agent *store.Agent) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateAgent(ctx, agent))
	_, err := r.Login(ctx, agent)
	require.NoError(t, err)
}

func TestLoginAndLogout(t *testing.T) {
	st := store.NewMockStore()
	r := New(st)
	ctx := context.Background()

	agent := testAgent("agent-1", "acme", 3)
	loginAgent(t, r, st, agent)

	snap, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.True(t, snap.IsAcceptingChats)
	assert.Equal(t, 0, snap.ActiveConversations)
	assert.Equal(t, 3, snap.MaxConcurrentChats)

	// Second login reuses the session
	session2, err := r.Login(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, session2.ID)

	final, err := r.Logout(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", final.AgentID)

	_, err = r.Get("agent-1")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	// Session closed in the store
	_, err = st.GetActiveSession(ctx, "agent-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogout_NotLoggedIn(t *testing.T) {
	r := New(store.NewMockStore())
	_, err := r.Logout(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestReserve_CapacityLimit(t *testing.T) {
	st := store.NewMockStore()
	r := New(st)
	ctx := context.Background()

	loginAgent(t, r, st, testAgent("agent-1", "acme", 2))

	require.NoError(t, r.Reserve(ctx, "agent-1", 0))
	require.NoError(t, r.Reserve(ctx, "agent-1", 1))
	err := r.Reserve(ctx, "agent-1", 2)
	assert.ErrorIs(t, err, ErrCapacityExhausted)

	r.Release(ctx, "agent-1")
	require.NoError(t, r.Reserve(ctx, "agent-1", 1))
}

func TestReserve_StaleSnapshot(t *testing.T) {
	st := store.NewMockStore()
	r := New(st)
	ctx := context.Background()

	loginAgent(t, r, st, testAgent("agent-1", "acme", 3))

	require.NoError(t, r.Reserve(ctx, "agent-1", 0))
	// A second caller still holding the load-0 snapshot loses
	err := r.Reserve(ctx, "agent-1", 0)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestReserve_ConcurrentCallersNeverOversubscribe(t *testing.T) {
	st := store.NewMockStore()
	r := New(st)
	ctx := context.Background()

	loginAgent(t, r, st, testAgent("agent-1", "acme", 3))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := r.Get("agent-1")
			if err != nil {
				return
			}
			if err := r.Reserve(ctx, "agent-1", snap.ActiveConversations); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	snap, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, snap.ActiveConversations, 3)
	assert.Equal(t, granted, snap.ActiveConversations)
}

func TestReserve_NotAccepting(t *testing.T) {
	st := store.NewMockStore()
	r := New(st)
	ctx := context.Background()

	loginAgent(t, r, st, testAgent("agent-1", "acme", 3))
	require.NoError(t, r.SetAcceptingChats(ctx, "agent-1", false))

	err := r.Reserve(ctx, "agent-1", 0)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
}

func TestRelease_ClampsAtZero(t *testing.T) {
	st := store.NewMockStore()
	r := New(st)
	ctx := context.Background()

	loginAgent(t, r, st, testAgent("agent-1", "acme", 3))
	r.Release(ctx, "agent-1")

	snap, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ActiveConversations)
}

func TestListAvailable(t *testing.T) {
	st := store.NewMockStore()
	r := New(st)
	ctx := context.Background()

	loginAgent(t, r, st, testAgent("agent-a", "acme", 1))
	loginAgent(t, r, st, testAgent("agent-b", "acme", 2))
	loginAgent(t, r, st, testAgent("agent-c", "other", 2))

	require.NoError(t, r.Reserve(ctx, "agent-a", 0))

	available := r.ListAvailable("acme")
	require.Len(t, available, 1)
	assert.Equal(t, "agent-b", available[0].AgentID)

	online := r.ListOnline("acme")
	require.Len(t, online, 2)
	assert.Equal(t, "agent-a", online[0].AgentID)
	assert.Equal(t, "agent-b", online[1].AgentID)
}

func TestRestore(t *testing.T) {
	st := store.NewMockStore()
	ctx := context.Background()

	agent := testAgent("agent-1", "acme", 3)
	require.NoError(t, st.CreateAgent(ctx, agent))
	require.NoError(t, st.CreateAgentSession(ctx, &store.AgentSession{
		ID:                  "sess-1",
		AgentID:             "agent-1",
		TenantID:            "acme",
		LoginAt:             time.Now().UTC(),
		LastActivity:        time.Now().UTC(),
		ActiveConversations: 2,
		MaxConcurrentChats:  3,
		IsAcceptingChats:    true,
	}))

	r := New(st)
	require.NoError(t, r.Restore(ctx, "acme"))

	snap, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ActiveConversations)
	assert.Equal(t, "sess-1", snap.SessionID)
}

func TestSnapshot_CurrentLoad(t *testing.T) {
	snap := Snapshot{ActiveConversations: 1, MaxConcurrentChats: 4}
	assert.InDelta(t, 0.25, snap.CurrentLoad(), 0.001)

	zero := Snapshot{MaxConcurrentChats: 0}
	assert.InDelta(t, 1.0, zero.CurrentLoad(), 0.001)
}
