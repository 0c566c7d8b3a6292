// ABOUTME: WebSocket endpoint: upgrade, identity resolution, and inbound dispatch
// ABOUTME: Customer disconnects abandon queued conversations once the last socket drops

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/relaydesk/switchboard/internal/auth"
	"github.com/relaydesk/switchboard/internal/hub"
	"github.com/relaydesk/switchboard/internal/queue"
	"github.com/relaydesk/switchboard/internal/store"
)

// Inbound payload shapes
type wsChatPayload struct {
	Content    string `json:"content"`
	SenderName string `json:"sender_name,omitempty"`
	Internal   bool   `json:"internal,omitempty"`
}

type wsClosePayload struct {
	Reason       string `json:"reason,omitempty"`
	Satisfaction int    `json:"satisfaction,omitempty"`
}

type wsTransferPayload struct {
	ToAgentID string `json:"to_agent_id"`
}

// wsIdentity resolves who is connecting. Agents present a bearer token;
// customers arrive from the bot layer with tenant and customer
// identifiers, trusted inside the handoff boundary.
func (g *Gateway) wsIdentity(r *http.Request) (auth.Identity, string, error) {
	if identity, err := g.authenticate(r); err == nil {
		role := identity.Role
		if role != hub.RoleAgent {
			role = hub.RoleCustomer
		}
		return identity, role, nil
	}

	tenantID := r.URL.Query().Get("tenant_id")
	customerID := r.URL.Query().Get("customer_id")
	if tenantID == "" || customerID == "" {
		return auth.Identity{}, "", errors.New("token or tenant_id+customer_id required")
	}
	return auth.Identity{
		UserID:   customerID,
		TenantID: tenantID,
		Role:     hub.RoleCustomer,
	}, hub.RoleCustomer, nil
}

// handleWS upgrades the connection, registers it with the hub and runs
// the read loop until the peer goes away
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	identity, role, err := g.wsIdentity(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := g.hub.Register(conn, identity.TenantID, identity.UserID, role)
	g.logger.Info("websocket connected",
		"connection_id", connID, "user_id", identity.UserID, "role", role)

	if convID := r.URL.Query().Get("conversation_id"); convID != "" {
		var joinErr error
		if role == hub.RoleAgent {
			joinErr = g.orch.AgentJoin(r.Context(), convID, identity.UserID, connID)
		} else {
			joinErr = g.orch.JoinCustomer(r.Context(), convID, identity.UserID, connID)
		}
		if joinErr != nil {
			_ = g.hub.SendToConnection(connID, hub.ErrorEnvelope(joinErr.Error()))
		}
	}

	g.readLoop(r.Context(), conn.ReadJSON, connID, identity, role)
	g.hub.Unregister(connID)
	g.handleDisconnect(identity, role)
}

// readLoop consumes envelopes until the connection drops. Unknown types
// get an error frame; handler errors go back to the sender without
// closing the socket.
func (g *Gateway) readLoop(ctx context.Context, readJSON func(any) error, connID string, identity auth.Identity, role string) {
	for {
		var env hub.Envelope
		if err := readJSON(&env); err != nil {
			return
		}
		if !hub.KnownInboundType(env.Type) {
			_ = g.hub.SendToConnection(connID, hub.ErrorEnvelope(fmt.Sprintf("unknown message type: %s", env.Type)))
			continue
		}
		if err := g.dispatch(ctx, identity, role, connID, env); err != nil {
			_ = g.hub.SendToConnection(connID, hub.ErrorEnvelope(err.Error()))
		}
	}
}

// dispatch routes one inbound envelope to the orchestrator
func (g *Gateway) dispatch(ctx context.Context, identity auth.Identity, role, connID string, env hub.Envelope) error {
	if env.ConversationID == "" {
		return errors.New("conversation_id is required")
	}

	switch env.Type {
	case hub.TypeChatMessage:
		var payload wsChatPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return errors.New("invalid chat payload")
		}
		sender := store.SenderCustomer
		if role == hub.RoleAgent {
			sender = store.SenderAgent
		}
		internal := payload.Internal && role == hub.RoleAgent
		_, err := g.orch.SendChatMessage(ctx, env.ConversationID, sender, identity.UserID, payload.SenderName, payload.Content, internal)
		return err

	case hub.TypeTypingStart, hub.TypeTypingStop:
		g.hub.SendToConversation(env.ConversationID,
			hub.NewEnvelope(env.Type, env.ConversationID, map[string]string{"user_id": identity.UserID}),
			identity.UserID)
		return nil

	case hub.TypeAgentJoinConversation:
		if role != hub.RoleAgent {
			return errors.New("only agents can join this way")
		}
		return g.orch.AgentJoin(ctx, env.ConversationID, identity.UserID, connID)

	case hub.TypeCloseConversation:
		var payload wsClosePayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				return errors.New("invalid close payload")
			}
		}
		return g.orch.CloseConversation(ctx, env.ConversationID, role, payload.Reason, payload.Satisfaction)

	case hub.TypeTransferConversation:
		if role != hub.RoleAgent {
			return errors.New("only agents can transfer")
		}
		var payload wsTransferPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.ToAgentID == "" {
			return errors.New("transfer requires to_agent_id")
		}
		return g.orch.TransferConversation(ctx, env.ConversationID, identity.UserID, payload.ToAgentID)
	}
	return fmt.Errorf("unhandled message type: %s", env.Type)
}

// handleDisconnect abandons a customer's queued conversation once their
// last connection is gone. Agent disconnects keep the session alive;
// agents go offline through logout, not a dropped socket.
func (g *Gateway) handleDisconnect(identity auth.Identity, role string) {
	if role != hub.RoleCustomer {
		return
	}
	if g.hub.IsUserConnected(identity.TenantID, identity.UserID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := g.store.FindActiveConversation(ctx, identity.TenantID, identity.UserID)
	if err != nil {
		return
	}
	stillWaiting := conv.Status == store.StatusQueued ||
		(conv.Status == store.StatusAssigned && conv.AgentMessageCount == 0)
	if !stillWaiting {
		return
	}
	if err := g.orch.AbandonConversation(ctx, conv.ID, queue.ReasonCustomerLeft); err != nil {
		g.logger.Warn("abandon on disconnect failed",
			"conversation_id", conv.ID, "error", err)
	}
}
