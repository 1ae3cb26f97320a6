package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"crm-inbox/internal/models"
)

// LegacyMessagePrefix marks message ids that come from leads_leadinteractions.
const LegacyMessagePrefix = "interaction:"

const defaultMessageLimit = 5000

const messagesSelect = `
SELECT CAST(id AS TEXT) AS id,
       CAST(lead_id AS TEXT) AS lead_id,
       CAST(legacy_id AS TEXT) AS legacy_id,
       CAST(contact_id AS TEXT) AS contact_id,
       phone_number,
       direction,
       sent_at,
       COALESCE(status, '') AS status,
       COALESCE(whatsapp_status, '') AS whatsapp_status,
       COALESCE(message_type, 'text') AS message_type,
       CAST(template_id AS TEXT) AS template_id,
       COALESCE(is_read, FALSE) AS is_read,
       COALESCE(message, '') AS message,
       media_url,
       COALESCE(sender_name, '') AS sender_name
FROM whatsapp_messages
WHERE sent_at > ?`

const interactionsSelect = `
SELECT CAST(id AS TEXT) AS id,
       CAST(lead_id AS TEXT) AS legacy_id,
       COALESCE(direction, '') AS direction,
       cdate,
       COALESCE(content, '') AS content,
       COALESCE(employee_name, '') AS employee_name
FROM leads_leadinteractions
WHERE kind = 'w' AND cdate > ?`

type interactionRow struct {
	ID           string    `db:"id"`
	LegacyID     string    `db:"legacy_id"`
	Direction    string    `db:"direction"`
	CDate        time.Time `db:"cdate"`
	Content      string    `db:"content"`
	EmployeeName string    `db:"employee_name"`
}

func (r interactionRow) message() models.Message {
	dir := models.DirectionOut
	switch strings.ToLower(strings.TrimSpace(r.Direction)) {
	case "in", "i", "incoming", "inbound":
		dir = models.DirectionIn
	}
	return models.Message{
		ID:             LegacyMessagePrefix + r.ID,
		LegacyID:       models.StringPtr(r.LegacyID),
		Direction:      dir,
		SentAt:         r.CDate,
		Status:         "delivered",
		WhatsAppStatus: "delivered",
		MessageType:    "text",
		IsRead:         true,
		Body:           r.Content,
		SenderName:     r.EmployeeName,
	}
}

// FetchMessages returns messages with sent_at after q.Since. Legacy interactions are
// included for unscoped and legacy-lead scoped queries, after the WhatsApp rows.
//
// Callers advance their watermark to the newest sent_at returned, so when either source
// hits the limit the page is cut at the earliest boundary among the truncated sources and
// every row sharing the boundary timestamp is included.
func (s *SQLStore) FetchMessages(ctx context.Context, q MessageQuery) ([]models.Message, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	msgs, err := s.fetchWhatsApp(ctx, q, limit, nil)
	if err != nil {
		return nil, err
	}

	var cutoff time.Time
	truncated := false
	if len(msgs) >= limit {
		cutoff = msgs[len(msgs)-1].SentAt
		truncated = true
		ties, err := s.fetchWhatsApp(ctx, q, 0, &cutoff)
		if err != nil {
			return nil, err
		}
		msgs = appendMissing(msgs, ties)
	}

	if q.Scope == nil || q.Scope.Kind == models.KindLegacyLead {
		legacy, err := s.fetchInteractions(ctx, q, limit, nil)
		if err != nil {
			return nil, err
		}
		if len(legacy) >= limit {
			last := legacy[len(legacy)-1].SentAt
			ties, err := s.fetchInteractions(ctx, q, 0, &last)
			if err != nil {
				return nil, err
			}
			legacy = appendMissing(legacy, ties)
			if !truncated || last.Before(cutoff) {
				cutoff = last
			}
			truncated = true
		}
		msgs = append(msgs, legacy...)
	}

	if truncated {
		kept := msgs[:0]
		for _, m := range msgs {
			if !m.SentAt.After(cutoff) {
				kept = append(kept, m)
			}
		}
		log.Debug().Int("limit", limit).Time("cutoff", cutoff).Int("messages", len(kept)).Msg("Message page truncated")
		msgs = kept
	}
	return msgs, nil
}

// fetchWhatsApp reads whatsapp_messages after q.Since. A non-nil at restricts the result to
// that exact timestamp; limit <= 0 means no limit.
func (s *SQLStore) fetchWhatsApp(ctx context.Context, q MessageQuery, limit int, at *time.Time) ([]models.Message, error) {
	query, args, err := scopedQuery(messagesSelect, q)
	if err != nil {
		return nil, err
	}
	if at != nil {
		query += " AND sent_at = ?"
		args = append(args, at.UTC())
	}
	query += " ORDER BY sent_at, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var msgs []models.Message
	if err := s.db.SelectContext(ctx, &msgs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return msgs, nil
}

func (s *SQLStore) fetchInteractions(ctx context.Context, q MessageQuery, limit int, at *time.Time) ([]models.Message, error) {
	query := interactionsSelect
	args := []interface{}{since(q.Since)}
	if q.Scope != nil {
		query += " AND lead_id = ?"
		args = append(args, q.Scope.ID)
	}
	if at != nil {
		query += " AND cdate = ?"
		args = append(args, at.UTC())
	}
	query += " ORDER BY cdate, id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []interactionRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch legacy interactions: %w", err)
	}
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.message())
	}
	return out, nil
}

func appendMissing(msgs, extra []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		seen[m.ID] = struct{}{}
	}
	for _, m := range extra {
		if _, ok := seen[m.ID]; !ok {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// scopedQuery appends the conversation filter to base. Phones widen the id filter so
// messages stored with only a phone number are still returned.
func scopedQuery(base string, q MessageQuery) (string, []interface{}, error) {
	args := []interface{}{since(q.Since)}
	if q.Scope == nil {
		return base, args, nil
	}

	var column string
	switch q.Scope.Kind {
	case models.KindLead:
		column = "lead_id"
	case models.KindLegacyLead:
		column = "legacy_id"
	case models.KindContact:
		column = "contact_id"
	default:
		return "", nil, fmt.Errorf("unsupported scope kind %q", q.Scope.Kind)
	}

	if len(q.Phones) == 0 {
		return base + " AND " + column + " = ?", append(args, q.Scope.ID), nil
	}

	clause, phoneArgs, err := sqlx.In(" AND ("+column+" = ? OR phone_number IN (?))", q.Scope.ID, q.Phones)
	if err != nil {
		return "", nil, fmt.Errorf("failed to build phone filter: %w", err)
	}
	return base + clause, append(args, phoneArgs...), nil
}

// since keeps the zero time inside the range every driver can compare.
func since(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC()
}
