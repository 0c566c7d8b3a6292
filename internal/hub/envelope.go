// ABOUTME: Wire envelope and the closed set of WebSocket message types
// ABOUTME: Unknown inbound types are rejected before dispatch

package hub

import (
	"encoding/json"
	"time"
)

// Message types carried in envelopes. Inbound types outside this set
// are answered with an error envelope.
const (
	TypeChatMessage              = "chat_message"
	TypeTypingStart              = "typing_start"
	TypeTypingStop               = "typing_stop"
	TypeAgentJoinConversation    = "agent_join_conversation"
	TypeCloseConversation        = "close_conversation"
	TypeTransferConversation     = "transfer_conversation"
	TypeNewConversationAvailable = "new_conversation_available"
	TypeAgentAssigned            = "agent_assigned"
	TypeConversationClosed       = "conversation_closed"
	TypeQueueUpdate              = "queue_update"
	TypeError                    = "error"
)

var inboundTypes = map[string]bool{
	TypeChatMessage:           true,
	TypeTypingStart:           true,
	TypeTypingStop:            true,
	TypeAgentJoinConversation: true,
	TypeCloseConversation:     true,
	TypeTransferConversation:  true,
}

// KnownInboundType reports whether clients may send this message type
func KnownInboundType(t string) bool {
	return inboundTypes[t]
}

// Envelope is the frame every WebSocket message travels in
type Envelope struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEnvelope builds an envelope with the payload marshaled and the
// timestamp stamped. Marshal failures produce a null payload rather
// than an error; payloads are our own types and always marshal.
func NewEnvelope(msgType, conversationID string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return Envelope{
		Type:           msgType,
		Data:           data,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}

// ErrorEnvelope builds an error frame for a client
func ErrorEnvelope(message string) Envelope {
	return NewEnvelope(TypeError, "", map[string]string{"message": message})
}
