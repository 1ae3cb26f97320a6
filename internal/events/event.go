// Package events publishes inbox changes to downstream consumers.
package events

import (
	"time"
)

// Event types.
const (
	TypeConversationUpdated = "conversation.updated"
	TypeWindowLocked        = "conversation.window_locked"
	TypeMessageUnresolved   = "message.unresolved"
)

var supportedTypes = []string{
	TypeConversationUpdated,
	TypeWindowLocked,
	TypeMessageUnresolved,
}

var typeMap map[string]bool

func init() {
	typeMap = make(map[string]bool, len(supportedTypes))
	for _, t := range supportedTypes {
		typeMap[t] = true
	}
}

// IsValidType reports whether eventType is one the inbox publishes.
func IsValidType(eventType string) bool {
	return typeMap[eventType]
}

// DeliveryStatus is the state of an event in the dispatcher.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Event is one notification about the inbox.
type Event struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	ClientRef    string                 `json:"client_ref,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	AttemptCount int                    `json:"attempt_count"`
	Status       DeliveryStatus         `json:"status"`
	LastError    string                 `json:"last_error,omitempty"`

	delivered map[string]bool
	nextTry   time.Time
	inFlight  bool
}

// copy returns the exported fields of e; the payload map is shared and never mutated
// after publishing.
func (e *Event) copy() *Event {
	return &Event{
		ID:           e.ID,
		Type:         e.Type,
		ClientRef:    e.ClientRef,
		SessionID:    e.SessionID,
		Payload:      e.Payload,
		CreatedAt:    e.CreatedAt,
		AttemptCount: e.AttemptCount,
		Status:       e.Status,
		LastError:    e.LastError,
	}
}

// DeliveryResult is the outcome of delivering an event to one sink.
type DeliveryResult struct {
	Sink      string    `json:"sink"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}
