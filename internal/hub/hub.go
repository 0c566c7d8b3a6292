// ABOUTME: Connection hub indexing live WebSocket connections four ways under one lock
// ABOUTME: A failed send evicts the connection from every index; sends are never retried

package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotConnected is returned when a targeted connection is not registered
var ErrNotConnected = errors.New("connection not registered")

// Roles a connection can hold
const (
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

// Conn is the transport surface the hub needs. *websocket.Conn from
// gorilla/websocket satisfies it.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	id              string
	tenantID        string
	userID          string
	role            string
	conversationIDs map[string]struct{}
	conn            Conn
	writeMu         sync.Mutex
}

// Hub tracks live connections with secondary indexes by tenant, user,
// and conversation. All four indexes mutate under a single lock so a
// connection is either fully present or fully gone.
type Hub struct {
	mu             sync.RWMutex
	byID           map[string]*client
	byTenant       map[string]map[string]*client
	byUser         map[string]map[string]*client
	byConversation map[string]map[string]*client

	writeTimeout time.Duration
	logger       *slog.Logger
}

// New creates a hub. writeTimeout bounds how long a single send may
// block on a slow client before the connection is dropped.
func New(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		byID:           make(map[string]*client),
		byTenant:       make(map[string]map[string]*client),
		byUser:         make(map[string]map[string]*client),
		byConversation: make(map[string]map[string]*client),
		writeTimeout:   writeTimeout,
		logger:         slog.Default().With("component", "hub"),
	}
}

func userKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// Register adds a connection and returns its connection ID
func (h *Hub) Register(conn Conn, tenantID, userID, role string) string {
	c := &client{
		id:              uuid.New().String(),
		tenantID:        tenantID,
		userID:          userID,
		role:            role,
		conversationIDs: make(map[string]struct{}),
		conn:            conn,
	}

	h.mu.Lock()
	h.byID[c.id] = c
	if h.byTenant[tenantID] == nil {
		h.byTenant[tenantID] = make(map[string]*client)
	}
	h.byTenant[tenantID][c.id] = c
	key := userKey(tenantID, userID)
	if h.byUser[key] == nil {
		h.byUser[key] = make(map[string]*client)
	}
	h.byUser[key][c.id] = c
	h.mu.Unlock()

	h.logger.Debug("connection registered",
		"connection_id", c.id, "tenant_id", tenantID, "user_id", userID, "role", role)
	return c.id
}

// Unregister removes a connection from all indexes and closes it
func (h *Hub) Unregister(connectionID string) {
	h.mu.Lock()
	c := h.removeLocked(connectionID)
	h.mu.Unlock()
	if c != nil {
		c.conn.Close()
	}
}

// removeLocked deletes the client from every index. Caller holds h.mu.
func (h *Hub) removeLocked(connectionID string) *client {
	c, ok := h.byID[connectionID]
	if !ok {
		return nil
	}
	delete(h.byID, connectionID)
	if m := h.byTenant[c.tenantID]; m != nil {
		delete(m, connectionID)
		if len(m) == 0 {
			delete(h.byTenant, c.tenantID)
		}
	}
	key := userKey(c.tenantID, c.userID)
	if m := h.byUser[key]; m != nil {
		delete(m, connectionID)
		if len(m) == 0 {
			delete(h.byUser, key)
		}
	}
	for conversationID := range c.conversationIDs {
		h.dropMembershipLocked(connectionID, conversationID)
	}
	return c
}

// dropMembershipLocked removes one conversation edge. Caller holds h.mu.
func (h *Hub) dropMembershipLocked(connectionID, conversationID string) {
	if m := h.byConversation[conversationID]; m != nil {
		delete(m, connectionID)
		if len(m) == 0 {
			delete(h.byConversation, conversationID)
		}
	}
}

// JoinConversation indexes the connection under a conversation. One
// connection may be in many conversations at once; an agent at capacity
// holds every one of their chats on the same socket.
func (h *Hub) JoinConversation(connectionID, conversationID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.byID[connectionID]
	if !ok {
		return ErrNotConnected
	}
	c.conversationIDs[conversationID] = struct{}{}
	if h.byConversation[conversationID] == nil {
		h.byConversation[conversationID] = make(map[string]*client)
	}
	h.byConversation[conversationID][connectionID] = c
	return nil
}

// LeaveConversation drops one conversation membership, leaving the
// connection's other conversations intact
func (h *Hub) LeaveConversation(connectionID, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.byID[connectionID]
	if !ok {
		return
	}
	delete(c.conversationIDs, conversationID)
	h.dropMembershipLocked(connectionID, conversationID)
}

// send writes the envelope to one client. On failure the connection is
// evicted from every index and closed; the caller gets false. Sends are
// never retried: a client that can't keep up reconnects.
func (h *Hub) send(c *client, env Envelope) bool {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	err := c.conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err == nil {
		return true
	}

	h.logger.Warn("send failed, dropping connection",
		"connection_id", c.id, "user_id", c.userID, "error", err)
	h.mu.Lock()
	h.removeLocked(c.id)
	h.mu.Unlock()
	c.conn.Close()
	return false
}

// SendToConnection delivers to one specific connection
func (h *Hub) SendToConnection(connectionID string, env Envelope) error {
	h.mu.RLock()
	c, ok := h.byID[connectionID]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	if !h.send(c, env) {
		return ErrNotConnected
	}
	return nil
}

// SendToUser delivers to every connection a user holds and returns how
// many deliveries succeeded
func (h *Hub) SendToUser(tenantID, userID string, env Envelope) int {
	h.mu.RLock()
	clients := snapshotClients(h.byUser[userKey(tenantID, userID)])
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if h.send(c, env) {
			delivered++
		}
	}
	return delivered
}

// SendToConversation delivers to every participant of a conversation,
// optionally excluding one user (usually the sender)
func (h *Hub) SendToConversation(conversationID string, env Envelope, excludeUserID string) int {
	h.mu.RLock()
	clients := snapshotClients(h.byConversation[conversationID])
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		if h.send(c, env) {
			delivered++
		}
	}
	return delivered
}

// BroadcastToRole delivers to every tenant connection with the given
// role, e.g. announcing queued work to all agents
func (h *Hub) BroadcastToRole(tenantID, role string, env Envelope) int {
	h.mu.RLock()
	clients := snapshotClients(h.byTenant[tenantID])
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if c.role != role {
			continue
		}
		if h.send(c, env) {
			delivered++
		}
	}
	return delivered
}

// DisconnectUser closes and removes all of a user's connections
func (h *Hub) DisconnectUser(tenantID, userID string) {
	h.mu.Lock()
	clients := snapshotClients(h.byUser[userKey(tenantID, userID)])
	for _, c := range clients {
		h.removeLocked(c.id)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// IsUserConnected reports whether the user has at least one live connection
func (h *Hub) IsUserConnected(tenantID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userKey(tenantID, userID)]) > 0
}

// ConnectionCount returns the number of live connections for a tenant
func (h *Hub) ConnectionCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTenant[tenantID])
}

func snapshotClients(m map[string]*client) []*client {
	out := make([]*client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}
