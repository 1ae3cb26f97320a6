package models

import (
	"time"
)

// ResolutionIssue records a message the identity resolver could not place, or placed only by
// an ambiguous phone match. One row per message id; Occurrences counts re-observations.
type ResolutionIssue struct {
	ID          uint      `gorm:"primaryKey"`
	MessageID   string    `gorm:"uniqueIndex;comment:whatsapp_messages id"`
	Rule        string    `gorm:"index;comment:resolver rule that produced the result"`
	Reason      string    `gorm:"type:text"`
	ResolvedTo  string    `gorm:"comment:client ref picked for ambiguous matches, empty when unresolved"`
	Candidates  string    `gorm:"type:text;comment:comma separated refs that matched"`
	Occurrences int       `gorm:"default:1"`
	FirstSeenAt time.Time `gorm:"autoCreateTime"`
	LastSeenAt  time.Time `gorm:"index"`
}

// SendAttempt records one call to the outbound WhatsApp API.
type SendAttempt struct {
	ID                uint      `gorm:"primaryKey"`
	ClientRef         string    `gorm:"index"`
	Kind              string    `gorm:"comment:text, template, media, edit, delete"`
	TemplateID        string    `gorm:"index"`
	Payload           string    `gorm:"type:text;comment:JSON request payload"`
	Status            string    `gorm:"index;comment:sent, failed, fallback"`
	ErrorCode         string    `gorm:"comment:provider error code, e.g. RE_ENGAGEMENT_REQUIRED"`
	LastError         string    `gorm:"type:text"`
	ProviderMessageID string    `gorm:"index"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

const (
	SendStatusSent     = "sent"
	SendStatusFailed   = "failed"
	SendStatusFallback = "fallback"
)
