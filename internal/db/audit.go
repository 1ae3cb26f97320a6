// Package db persists the inbox's audit trail: resolution problems and send attempts.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"crm-inbox/internal/identity"
	"crm-inbox/internal/models"
)

// AuditStore records resolution issues and send attempts.
type AuditStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditStore wraps an opened and migrated gorm handle.
func NewAuditStore(gdb *gorm.DB) *AuditStore {
	return &AuditStore{db: gdb, now: time.Now}
}

// RecordResolution upserts an issue for an unresolved or ambiguous resolution and reports
// whether the message was seen for the first time. Clean resolutions are ignored.
func (s *AuditStore) RecordResolution(ctx context.Context, res identity.Resolution) (bool, error) {
	if res.Resolved() && !res.IsAmbiguous() {
		return false, nil
	}

	now := s.now().UTC()
	issue := models.ResolutionIssue{
		MessageID:   res.MessageID,
		Rule:        string(res.Rule),
		Reason:      res.Reason,
		Candidates:  joinRefs(res.Ambiguous),
		Occurrences: 1,
		LastSeenAt:  now,
	}
	if res.Client != nil {
		issue.ResolvedTo = res.Client.String()
	}

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ResolutionIssue
		err := tx.Where("message_id = ?", res.MessageID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			return tx.Create(&issue).Error
		case err != nil:
			return err
		}
		return tx.Model(&existing).Updates(map[string]interface{}{
			"rule":         issue.Rule,
			"reason":       issue.Reason,
			"resolved_to":  issue.ResolvedTo,
			"candidates":   issue.Candidates,
			"occurrences":  gorm.Expr("occurrences + 1"),
			"last_seen_at": now,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to record resolution issue for message %s: %w", res.MessageID, err)
	}
	return created, nil
}

// ResolutionIssues returns the most recently seen issues, newest first.
func (s *AuditStore) ResolutionIssues(ctx context.Context, limit int) ([]models.ResolutionIssue, error) {
	if limit <= 0 {
		limit = 100
	}
	var issues []models.ResolutionIssue
	if err := s.db.WithContext(ctx).Order("last_seen_at DESC").Limit(limit).Find(&issues).Error; err != nil {
		return nil, fmt.Errorf("failed to list resolution issues: %w", err)
	}
	return issues, nil
}

// IssueCounts returns the number of unresolved and ambiguous messages on record.
func (s *AuditStore) IssueCounts(ctx context.Context) (unresolved, ambiguous int64, err error) {
	q := s.db.WithContext(ctx).Model(&models.ResolutionIssue{})
	if err = q.Where("resolved_to = ''").Count(&unresolved).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count unresolved messages: %w", err)
	}
	q = s.db.WithContext(ctx).Model(&models.ResolutionIssue{})
	if err = q.Where("resolved_to <> ''").Count(&ambiguous).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count ambiguous messages: %w", err)
	}
	return unresolved, ambiguous, nil
}

// RecordSendAttempt stores one outbound API call.
func (s *AuditStore) RecordSendAttempt(ctx context.Context, attempt *models.SendAttempt) error {
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		return fmt.Errorf("failed to record send attempt: %w", err)
	}
	return nil
}

// SendAttempts lists attempts for a client ref, newest first. An empty ref lists all.
func (s *AuditStore) SendAttempts(ctx context.Context, clientRef string, limit int) ([]models.SendAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if clientRef != "" {
		q = q.Where("client_ref = ?", clientRef)
	}
	var attempts []models.SendAttempt
	if err := q.Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to list send attempts: %w", err)
	}
	return attempts, nil
}

func joinRefs(refs []models.ClientRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}
