// ABOUTME: HTTP API handlers for agent login, bot handoff and queue inspection
// ABOUTME: Bearer-token middleware resolves the caller's identity for protected routes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/relaydesk/switchboard/internal/auth"
	"github.com/relaydesk/switchboard/internal/queue"
	"github.com/relaydesk/switchboard/internal/store"
)

type contextKey string

const identityKey contextKey = "identity"

// LoginRequest is the JSON body for POST /api/login
type LoginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the JSON response for POST /api/login
type LoginResponse struct {
	Token       string `json:"token"`
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name"`
	TenantID    string `json:"tenant_id"`
}

// MessageResponse is one message in a history listing
type MessageResponse struct {
	ID         string `json:"id"`
	SenderType string `json:"sender_type"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
	Internal   bool   `json:"internal,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireAuth wraps a handler with bearer-token verification. An empty
// role admits any authenticated caller.
func (g *Gateway) requireAuth(role string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		if role != "" && identity.Role != role {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// authenticate extracts and verifies the caller's token from the
// Authorization header or the token query parameter
func (g *Gateway) authenticate(r *http.Request) (auth.Identity, error) {
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	} else if qp := r.URL.Query().Get("token"); qp != "" {
		token = qp
	}
	if token == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return g.verifier.Verify(token)
}

func callerIdentity(r *http.Request) auth.Identity {
	identity, _ := r.Context().Value(identityKey).(auth.Identity)
	return identity
}

// handleLogin handles POST /api/login
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TenantID == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "tenant_id, email and password are required")
		return
	}

	token, agent, err := g.orch.AgentLogin(r.Context(), req.TenantID, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		g.logger.Error("login failed", "email", req.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:       token,
		AgentID:     agent.ID,
		DisplayName: agent.DisplayName,
		TenantID:    agent.TenantID,
	})
}

// handleLogout handles POST /api/logout
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	identity := callerIdentity(r)
	if err := g.orch.AgentLogout(r.Context(), identity.TenantID, identity.UserID); err != nil {
		g.logger.Error("logout failed", "agent_id", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleHandoff handles POST /api/handoff from the bot layer
func (g *Gateway) handleHandoff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req HandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := g.orch.StartConversation(r.Context(), req)
	if err != nil {
		if strings.Contains(err.Error(), "required") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Error("handoff failed", "tenant_id", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "handoff failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandoffCheckRequest is the JSON body for POST /api/handoff/check
type HandoffCheckRequest struct {
	Message string `json:"message"`
}

// HandoffCheckResponse says whether the message asks for a human
type HandoffCheckResponse struct {
	Handoff bool   `json:"handoff"`
	Reason  string `json:"reason,omitempty"`
}

// handleHandoffCheck lets the bot layer ask whether a customer message
// should trigger a handoff to live chat
func (g *Gateway) handleHandoffCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req HandoffCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	handoff, reason := WantsHuman(req.Message)
	writeJSON(w, http.StatusOK, HandoffCheckResponse{Handoff: handoff, Reason: reason})
}

// handleQueueStatus handles GET /api/queue/status
func (g *Gateway) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	identity := callerIdentity(r)
	status, err := g.orch.QueueStatus(r.Context(), identity.TenantID)
	if err != nil {
		g.logger.Error("queue status failed", "tenant_id", identity.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "queue status failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleConversationRoutes dispatches /api/conversations/{id}/...
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet {
		g.handleConversationMessages(w, r, parts[0])
		return
	}
	if len(parts) == 2 && parts[1] == "assign" && r.Method == http.MethodPost {
		g.handleConversationAssign(w, r, parts[0])
		return
	}
	writeError(w, http.StatusNotFound, "unknown route")
}

// AssignRequest names the agent a queued conversation should go to.
// An empty agent_id assigns to the caller.
type AssignRequest struct {
	AgentID string `json:"agent_id"`
}

// handleConversationAssign hands a queued conversation to a specific
// agent, tenant-checked against the caller
func (g *Gateway) handleConversationAssign(w http.ResponseWriter, r *http.Request, conversationID string) {
	identity := callerIdentity(r)

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = identity.UserID
	}

	conv, err := g.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if conv.TenantID != identity.TenantID {
		writeError(w, http.StatusForbidden, "conversation belongs to another tenant")
		return
	}

	assigned, err := g.orch.AssignConversation(r.Context(), conversationID, agentID)
	if err != nil {
		if errors.Is(err, queue.ErrNotQueued) {
			writeError(w, http.StatusConflict, "conversation is not waiting in the queue")
			return
		}
		g.logger.Warn("manual assignment failed",
			"conversation_id", conversationID, "agent_id", agentID, "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": assigned.ConversationID,
		"agent_id":        assigned.AgentID,
		"method":          assigned.Method,
	})
}

// handleConversationMessages returns a conversation's message history,
// tenant-checked against the caller
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request, conversationID string) {
	identity := callerIdentity(r)
	conv, err := g.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if conv.TenantID != identity.TenantID {
		writeError(w, http.StatusForbidden, "conversation belongs to another tenant")
		return
	}

	msgs, err := g.store.ListMessages(r.Context(), conversationID, 200)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing messages failed")
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, MessageResponse{
			ID:         msg.ID,
			SenderType: string(msg.SenderType),
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			Content:    msg.Content,
			Internal:   msg.Internal,
			CreatedAt:  msg.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        out,
	})
}
