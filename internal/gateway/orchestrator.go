// ABOUTME: Orchestrator tying classification, queueing, routing and socket delivery together
// ABOUTME: Every conversation lifecycle transition funnels through here

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/switchboard/internal/analyzer"
	"github.com/relaydesk/switchboard/internal/auth"
	"github.com/relaydesk/switchboard/internal/classify"
	"github.com/relaydesk/switchboard/internal/hub"
	"github.com/relaydesk/switchboard/internal/notify"
	"github.com/relaydesk/switchboard/internal/queue"
	"github.com/relaydesk/switchboard/internal/registry"
	"github.com/relaydesk/switchboard/internal/scorer"
	"github.com/relaydesk/switchboard/internal/store"
)

var (
	// ErrInvalidCredentials is returned on a failed agent login
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotYourConversation is returned when an agent acts on a
	// conversation assigned to someone else
	ErrNotYourConversation = errors.New("conversation is assigned to another agent")
)

// HandoffRequest starts a conversation on behalf of a customer,
// typically handed off from the bot layer
type HandoffRequest struct {
	TenantID           string `json:"tenant_id"`
	CustomerIdentifier string `json:"customer_identifier"`
	CustomerName       string `json:"customer_name,omitempty"`
	Question           string `json:"question"`
	HandoffContext     string `json:"handoff_context,omitempty"`
	PreferredAgentID   string `json:"preferred_agent_id,omitempty"`
}

// HandoffResult reports where the conversation ended up
type HandoffResult struct {
	ConversationID    string   `json:"conversation_id"`
	Status            string   `json:"status"` // assigned or queued
	AgentID           string   `json:"agent_id,omitempty"`
	Position          int      `json:"position,omitempty"`
	EstimatedWaitMins int      `json:"estimated_wait_minutes,omitempty"`
	DetectedTags      []string `json:"detected_tags,omitempty"`
}

// Socket payload shapes
type agentAssignedPayload struct {
	ConversationID string `json:"conversation_id"`
	AgentID        string `json:"agent_id"`
	AgentName      string `json:"agent_name,omitempty"`
	CustomerName   string `json:"customer_name,omitempty"`
	Method         string `json:"method"`
}

type queueUpdatePayload struct {
	ConversationID    string `json:"conversation_id"`
	Position          int    `json:"position"`
	EstimatedWaitMins int    `json:"estimated_wait_minutes"`
}

type newConversationPayload struct {
	ConversationID string   `json:"conversation_id"`
	CustomerName   string   `json:"customer_name,omitempty"`
	Priority       int      `json:"priority"`
	Tags           []string `json:"tags,omitempty"`
}

type chatMessagePayload struct {
	MessageID  string `json:"message_id"`
	SenderType string `json:"sender_type"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Content    string `json:"content"`
	Internal   bool   `json:"internal,omitempty"`
}

type conversationClosedPayload struct {
	ConversationID string `json:"conversation_id"`
	ClosedBy       string `json:"closed_by"`
	Reason         string `json:"reason,omitempty"`
}

// Orchestrator drives the conversation lifecycle: handoff intake,
// classification, queueing, assignment, messaging and closure. It is
// the only component that talks to every other one.
type Orchestrator struct {
	store    store.Store
	registry *registry.Registry
	scorer   *scorer.Scorer
	queue    *queue.Queue
	hub      *hub.Hub
	pipeline *classify.Pipeline
	notifier notify.Notifier
	verifier *auth.JWTVerifier
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewOrchestrator wires the orchestrator over its collaborators
func NewOrchestrator(st store.Store, reg *registry.Registry, sc *scorer.Scorer, q *queue.Queue, h *hub.Hub, pipeline *classify.Pipeline, notifier notify.Notifier, verifier *auth.JWTVerifier, tokenTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		store:    st,
		registry: reg,
		scorer:   sc,
		queue:    q,
		hub:      h,
		pipeline: pipeline,
		notifier: notifier,
		verifier: verifier,
		tokenTTL: tokenTTL,
		logger:   slog.Default().With("component", "orchestrator"),
	}
}

// StartConversation takes a customer handoff: creates the conversation,
// classifies it, queues it and immediately tries to assign an agent.
// A customer with an active conversation gets that one back instead of
// a duplicate.
func (o *Orchestrator) StartConversation(ctx context.Context, req HandoffRequest) (*HandoffResult, error) {
	if req.TenantID == "" || req.CustomerIdentifier == "" {
		return nil, errors.New("tenant_id and customer_identifier are required")
	}
	if req.Question == "" {
		return nil, errors.New("question is required")
	}

	if existing, err := o.store.FindActiveConversation(ctx, req.TenantID, req.CustomerIdentifier); err == nil {
		o.logger.Info("customer already has an active conversation",
			"tenant_id", req.TenantID, "conversation_id", existing.ID)
		return o.resultFor(ctx, existing)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking active conversation: %w", err)
	}

	urgency := analyzer.DetectUrgency(req.Question)
	priority := store.PriorityNormal
	if urgency.IsUrgent {
		priority = store.PriorityUrgent
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:                 uuid.New().String(),
		TenantID:           req.TenantID,
		CustomerIdentifier: req.CustomerIdentifier,
		CustomerName:       req.CustomerName,
		Status:             store.StatusQueued,
		Priority:           priority,
		OriginalQuestion:   req.Question,
		HandoffContext:     req.HandoffContext,
		CreatedAt:          now,
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	detected := o.classifyTags(ctx, conv)
	tagNames := analyzer.TagNames(detected)
	if len(tagNames) > 0 {
		if err := o.store.SaveConversationTags(ctx, conv.ID, tagNames); err != nil {
			o.logger.Warn("saving conversation tags failed",
				"conversation_id", conv.ID, "error", err)
		}
	}

	enqueued, err := o.queue.Enqueue(ctx, conv, priority, req.PreferredAgentID)
	if err != nil {
		return nil, err
	}
	o.notifier.Publish(ctx, notify.KeyConversationQueued, notify.Event{
		ID:             uuid.New().String(),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		OccurredAt:     time.Now().UTC(),
	})

	enriched := o.scorer.EnrichTags(ctx, conv.TenantID, detected)
	assigned, err := o.queue.TryAssign(ctx, conv.ID, enriched)
	if err != nil {
		if !errors.Is(err, queue.ErrNoAssignment) {
			return nil, err
		}
		// Nobody free right now: tell the agents there is work waiting
		o.hub.BroadcastToRole(conv.TenantID, hub.RoleAgent,
			hub.NewEnvelope(hub.TypeNewConversationAvailable, conv.ID, newConversationPayload{
				ConversationID: conv.ID,
				CustomerName:   conv.CustomerName,
				Priority:       priority,
				Tags:           tagNames,
			}))
		o.hub.SendToUser(conv.TenantID, conv.CustomerIdentifier,
			hub.NewEnvelope(hub.TypeQueueUpdate, conv.ID, queueUpdatePayload{
				ConversationID:    conv.ID,
				Position:          enqueued.Position,
				EstimatedWaitMins: enqueued.EstimatedWaitMins,
			}))
		return &HandoffResult{
			ConversationID:    conv.ID,
			Status:            string(store.StatusQueued),
			Position:          enqueued.Position,
			EstimatedWaitMins: enqueued.EstimatedWaitMins,
			DetectedTags:      tagNames,
		}, nil
	}

	o.announceAssignment(ctx, conv.TenantID, assigned)
	return &HandoffResult{
		ConversationID: conv.ID,
		Status:         string(store.StatusAssigned),
		AgentID:        assigned.AgentID,
		DetectedTags:   tagNames,
	}, nil
}

// resultFor rebuilds a handoff result from an existing conversation
func (o *Orchestrator) resultFor(ctx context.Context, conv *store.Conversation) (*HandoffResult, error) {
	result := &HandoffResult{
		ConversationID: conv.ID,
		Status:         string(conv.Status),
		AgentID:        conv.AssignedAgentID,
	}
	if conv.Status == store.StatusQueued {
		if pos, err := o.queue.Position(ctx, conv.ID); err == nil {
			result.Position = pos.Position
			result.EstimatedWaitMins = pos.EstimatedWaitMins
		}
	}
	return result, nil
}

// classifyTags runs the staged pipeline over the customer's question and
// folds in whatever the bot's handoff context asserts. Handoff data only
// adds tags the pipeline didn't already find.
func (o *Orchestrator) classifyTags(ctx context.Context, conv *store.Conversation) []analyzer.DetectedTag {
	result := o.pipeline.Classify(ctx, conv.OriginalQuestion)
	if result.Outcome == classify.OutcomeUnavailable {
		o.logger.Warn("classification unavailable, routing untagged",
			"conversation_id", conv.ID)
	}
	tags := result.Tags

	tenantTags, err := o.store.ListTags(ctx, conv.TenantID)
	if err != nil {
		o.logger.Warn("tenant tag lookup failed", "tenant_id", conv.TenantID, "error", err)
		return tags
	}
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		seen[tag.Name] = true
	}
	for _, tag := range classify.HandoffTags(conv.HandoffContext, tenantTags) {
		if !seen[tag.Name] {
			tags = append(tags, tag)
		}
	}
	return tags
}

// announceAssignment pushes an assignment to both sides of the
// conversation and publishes the lifecycle event
func (o *Orchestrator) announceAssignment(ctx context.Context, tenantID string, assigned *queue.AssignResult) {
	agentName := ""
	customerName := ""
	customerID := ""
	if agent, err := o.store.GetAgent(ctx, assigned.AgentID); err == nil {
		agentName = agent.DisplayName
	}
	if conv, err := o.store.GetConversation(ctx, assigned.ConversationID); err == nil {
		customerName = conv.CustomerName
		customerID = conv.CustomerIdentifier
	}

	env := hub.NewEnvelope(hub.TypeAgentAssigned, assigned.ConversationID, agentAssignedPayload{
		ConversationID: assigned.ConversationID,
		AgentID:        assigned.AgentID,
		AgentName:      agentName,
		CustomerName:   customerName,
		Method:         assigned.Method,
	})
	o.hub.SendToUser(tenantID, assigned.AgentID, env)
	if customerID != "" {
		o.hub.SendToUser(tenantID, customerID, env)
	}

	o.notifier.Publish(ctx, notify.KeyConversationAssigned, notify.Event{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		ConversationID: assigned.ConversationID,
		AgentID:        assigned.AgentID,
		Method:         assigned.Method,
		OccurredAt:     time.Now().UTC(),
	})
	o.pushQueuePositions(ctx, tenantID)
}

// SendChatMessage persists a message and fans it out to the other
// participants. Internal notes go only to the assigned agent.
func (o *Orchestrator) SendChatMessage(ctx context.Context, conversationID string, sender store.SenderType, senderID, senderName, content string, internal bool) (*store.Message, error) {
	if content == "" {
		return nil, errors.New("empty message")
	}
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status.Terminal() {
		return nil, fmt.Errorf("conversation %s is %s", conversationID, conv.Status)
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderType:     sender,
		SenderID:       senderID,
		SenderName:     senderName,
		Content:        content,
		Internal:       internal,
		CreatedAt:      time.Now().UTC(),
	}
	if err := o.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	conv.MessageCount++
	switch sender {
	case store.SenderAgent:
		conv.AgentMessageCount++
		o.registry.Touch(senderID)
	case store.SenderCustomer:
		conv.CustomerMessageCount++
	}
	if err := o.store.UpdateConversation(ctx, conv); err != nil {
		o.logger.Warn("message counter update failed",
			"conversation_id", conversationID, "error", err)
	}

	env := hub.NewEnvelope(hub.TypeChatMessage, conversationID, chatMessagePayload{
		MessageID:  msg.ID,
		SenderType: string(sender),
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Internal:   internal,
	})
	if internal {
		if conv.AssignedAgentID != "" && conv.AssignedAgentID != senderID {
			o.hub.SendToUser(conv.TenantID, conv.AssignedAgentID, env)
		}
	} else {
		o.hub.SendToConversation(conversationID, env, senderID)
	}
	return msg, nil
}

// AgentJoin puts an agent's connection into a conversation and marks it
// active. An unassigned queued conversation is claimed for the agent;
// one assigned to somebody else is refused.
func (o *Orchestrator) AgentJoin(ctx context.Context, conversationID, agentID, connectionID string) error {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	switch {
	case conv.AssignedAgentID == agentID:
		// already ours, just joining the socket
	case conv.AssignedAgentID == "" && conv.Status == store.StatusQueued:
		assigned, err := o.queue.AssignToAgent(ctx, conversationID, agentID)
		if err != nil {
			return err
		}
		o.announceAssignment(ctx, conv.TenantID, assigned)
	default:
		return ErrNotYourConversation
	}

	if err := o.hub.JoinConversation(connectionID, conversationID); err != nil {
		return err
	}

	conv, err = o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == store.StatusAssigned {
		conv.Status = store.StatusActive
		if err := o.store.UpdateConversation(ctx, conv); err != nil {
			return fmt.Errorf("activating conversation: %w", err)
		}
	}
	return nil
}

// AssignConversation hands a queued conversation to a specific agent,
// e.g. a supervisor assigning work from the queue board
func (o *Orchestrator) AssignConversation(ctx context.Context, conversationID, agentID string) (*queue.AssignResult, error) {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	assigned, err := o.queue.AssignToAgent(ctx, conversationID, agentID)
	if err != nil {
		return nil, err
	}
	o.announceAssignment(ctx, conv.TenantID, assigned)
	return assigned, nil
}

// JoinCustomer puts a customer's connection into their conversation
func (o *Orchestrator) JoinCustomer(ctx context.Context, conversationID, customerID, connectionID string) error {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.CustomerIdentifier != customerID {
		return errors.New("conversation belongs to another customer")
	}
	return o.hub.JoinConversation(connectionID, conversationID)
}

// CloseConversation ends a conversation, tells the participants, and
// immediately retries assignment for whoever is still waiting since a
// slot just opened
func (o *Orchestrator) CloseConversation(ctx context.Context, conversationID, closedBy, reason string, satisfaction int) error {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := o.queue.Close(ctx, conversationID, closedBy, reason, satisfaction); err != nil {
		return err
	}

	o.hub.SendToConversation(conversationID,
		hub.NewEnvelope(hub.TypeConversationClosed, conversationID, conversationClosedPayload{
			ConversationID: conversationID,
			ClosedBy:       closedBy,
			Reason:         reason,
		}), "")
	o.notifier.Publish(ctx, notify.KeyConversationClosed, notify.Event{
		ID:             uuid.New().String(),
		TenantID:       conv.TenantID,
		ConversationID: conversationID,
		AgentID:        conv.AssignedAgentID,
		Reason:         reason,
		OccurredAt:     time.Now().UTC(),
	})

	o.DrainQueue(ctx, conv.TenantID)
	return nil
}

// TransferConversation moves a conversation to another agent. byAgentID
// must currently hold the conversation.
func (o *Orchestrator) TransferConversation(ctx context.Context, conversationID, byAgentID, toAgentID string) error {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if byAgentID != "" && conv.AssignedAgentID != byAgentID {
		return ErrNotYourConversation
	}

	res, err := o.queue.Transfer(ctx, conversationID, toAgentID)
	if err != nil {
		return err
	}

	if !res.Transferred {
		// Target was full; the conversation went back to the queue
		o.notifier.Publish(ctx, notify.KeyConversationQueued, notify.Event{
			ID:             uuid.New().String(),
			TenantID:       conv.TenantID,
			ConversationID: conversationID,
			Reason:         "transfer_target_full",
			OccurredAt:     time.Now().UTC(),
		})
		o.hub.SendToUser(conv.TenantID, conv.CustomerIdentifier,
			hub.NewEnvelope(hub.TypeQueueUpdate, conversationID, queueUpdatePayload{
				ConversationID:    conversationID,
				Position:          res.Requeued.Position,
				EstimatedWaitMins: res.Requeued.EstimatedWaitMins,
			}))
		priority := conv.Priority
		if requeued, err := o.store.GetConversation(ctx, conversationID); err == nil {
			priority = requeued.Priority
		}
		o.hub.BroadcastToRole(conv.TenantID, hub.RoleAgent,
			hub.NewEnvelope(hub.TypeNewConversationAvailable, conversationID, newConversationPayload{
				ConversationID: conversationID,
				CustomerName:   conv.CustomerName,
				Priority:       priority,
			}))
		return nil
	}

	o.announceAssignment(ctx, conv.TenantID, &queue.AssignResult{
		ConversationID: conversationID,
		AgentID:        toAgentID,
		Method:         store.AssignmentTransfer,
	})
	return nil
}

// AbandonConversation drops a waiting conversation from the queue
func (o *Orchestrator) AbandonConversation(ctx context.Context, conversationID, reason string) error {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := o.queue.Abandon(ctx, conversationID, reason); err != nil {
		return err
	}
	o.notifier.Publish(ctx, notify.KeyConversationAbandoned, notify.Event{
		ID:             uuid.New().String(),
		TenantID:       conv.TenantID,
		ConversationID: conversationID,
		Reason:         reason,
		OccurredAt:     time.Now().UTC(),
	})
	o.pushQueuePositions(ctx, conv.TenantID)
	return nil
}

// AgentLogin authenticates an agent, brings them online and issues a
// token. Fresh capacity means waiting conversations get another pass.
func (o *Orchestrator) AgentLogin(ctx context.Context, tenantID, email, password string) (string, *store.Agent, error) {
	agent, err := o.store.GetAgentByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := auth.CheckPassword(agent.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if _, err := o.registry.Login(ctx, agent); err != nil {
		return "", nil, err
	}

	token, err := o.verifier.Generate(auth.Identity{
		UserID:   agent.ID,
		TenantID: agent.TenantID,
		Role:     hub.RoleAgent,
	}, o.tokenTTL)
	if err != nil {
		return "", nil, fmt.Errorf("issuing token: %w", err)
	}

	o.DrainQueue(ctx, tenantID)
	return token, agent, nil
}

// AgentLogout takes the agent offline. Their in-flight conversations go
// back to the queue at elevated priority, the customers are told, and
// every remaining agent hears about the freed work.
func (o *Orchestrator) AgentLogout(ctx context.Context, tenantID, agentID string) error {
	convs, err := o.store.ListConversationsByAgent(ctx, agentID,
		[]store.ConversationStatus{store.StatusAssigned, store.StatusActive})
	if err != nil {
		return fmt.Errorf("listing agent conversations: %w", err)
	}

	if _, err := o.registry.Logout(ctx, agentID); err != nil && !errors.Is(err, registry.ErrNotLoggedIn) {
		return err
	}

	for _, conv := range convs {
		enqueued, err := o.queue.Requeue(ctx, conv.ID)
		if err != nil {
			o.logger.Error("requeue on logout failed",
				"conversation_id", conv.ID, "agent_id", agentID, "error", err)
			continue
		}
		o.notifier.Publish(ctx, notify.KeyConversationQueued, notify.Event{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			ConversationID: conv.ID,
			Reason:         "agent_logout",
			OccurredAt:     time.Now().UTC(),
		})
		o.hub.SendToUser(tenantID, conv.CustomerIdentifier,
			hub.NewEnvelope(hub.TypeQueueUpdate, conv.ID, queueUpdatePayload{
				ConversationID:    conv.ID,
				Position:          enqueued.Position,
				EstimatedWaitMins: enqueued.EstimatedWaitMins,
			}))
		priority := conv.Priority
		if requeued, err := o.store.GetConversation(ctx, conv.ID); err == nil {
			priority = requeued.Priority
		}
		o.hub.BroadcastToRole(tenantID, hub.RoleAgent,
			hub.NewEnvelope(hub.TypeNewConversationAvailable, conv.ID, newConversationPayload{
				ConversationID: conv.ID,
				CustomerName:   conv.CustomerName,
				Priority:       priority,
			}))
	}

	o.hub.DisconnectUser(tenantID, agentID)
	o.DrainQueue(ctx, tenantID)
	o.logger.Info("agent logged out", "agent_id", agentID, "requeued", len(convs))
	return nil
}

// QueueStatus reports the tenant's queue
func (o *Orchestrator) QueueStatus(ctx context.Context, tenantID string) (*queue.Status, error) {
	return o.queue.GetStatus(ctx, tenantID)
}

// DrainQueue retries assignment for everything waiting and announces
// whatever got picked up
func (o *Orchestrator) DrainQueue(ctx context.Context, tenantID string) {
	for _, assigned := range o.queue.ProcessQueue(ctx, tenantID) {
		o.announceAssignment(ctx, tenantID, assigned)
	}
}

// pushQueuePositions sends each waiting customer their current position
func (o *Orchestrator) pushQueuePositions(ctx context.Context, tenantID string) {
	status, err := o.queue.GetStatus(ctx, tenantID)
	if err != nil {
		return
	}
	for _, entry := range status.Entries {
		conv, err := o.store.GetConversation(ctx, entry.ConversationID)
		if err != nil {
			continue
		}
		o.hub.SendToUser(tenantID, conv.CustomerIdentifier,
			hub.NewEnvelope(hub.TypeQueueUpdate, entry.ConversationID, queueUpdatePayload{
				ConversationID:    entry.ConversationID,
				Position:          entry.Position,
				EstimatedWaitMins: entry.EstimatedWaitMins,
			}))
	}
}
