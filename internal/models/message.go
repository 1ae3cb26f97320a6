package models

import (
	"strings"
	"time"
)

// Direction of a WhatsApp message relative to the business.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is one row of whatsapp_messages (or a converted legacy interaction).
// Only Status, WhatsAppStatus and IsRead change after delivery.
type Message struct {
	ID             string    `json:"id" db:"id"`
	LeadID         *string   `json:"lead_id,omitempty" db:"lead_id"`
	LegacyID       *string   `json:"legacy_id,omitempty" db:"legacy_id"`
	ContactID      *string   `json:"contact_id,omitempty" db:"contact_id"`
	PhoneNumber    *string   `json:"phone_number,omitempty" db:"phone_number"`
	Direction      Direction `json:"direction" db:"direction"`
	SentAt         time.Time `json:"sent_at" db:"sent_at"`
	Status         string    `json:"status" db:"status"`
	WhatsAppStatus string    `json:"whatsapp_status" db:"whatsapp_status"`
	MessageType    string    `json:"message_type" db:"message_type"`
	TemplateID     *string   `json:"template_id,omitempty" db:"template_id"`
	IsRead         bool      `json:"is_read" db:"is_read"`
	Body           string    `json:"message" db:"message"`
	MediaURL       *string   `json:"media_url,omitempty" db:"media_url"`
	SenderName     string    `json:"sender_name" db:"sender_name"`
}

// IsInbound reports whether the customer sent the message.
func (m Message) IsInbound() bool {
	return m.Direction == DirectionIn
}

// Unread reports whether the message counts towards a conversation's unread badge.
func (m Message) Unread() bool {
	return m.IsInbound() && !m.IsRead
}

// HasContact reports whether the message carries a contact id.
func (m Message) HasContact() bool {
	return nonEmpty(m.ContactID)
}

// Phone returns the stored phone number or "".
func (m Message) Phone() string {
	if m.PhoneNumber == nil {
		return ""
	}
	return strings.TrimSpace(*m.PhoneNumber)
}

// IsTemplate reports whether the message was sent from a template.
func (m Message) IsTemplate() bool {
	return nonEmpty(m.TemplateID) || m.MessageType == "template"
}

// StringPtr returns a pointer to s, or nil for "".
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
