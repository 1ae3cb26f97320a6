package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// MarkRead flags the given inbound messages as read and returns the number of rows changed.
// Legacy interaction ids are skipped; that log has no read flag.
func (s *SQLStore) MarkRead(ctx context.Context, ids []string) (int64, error) {
	var target []string
	for _, id := range ids {
		if id == "" || strings.HasPrefix(id, LegacyMessagePrefix) {
			continue
		}
		target = append(target, id)
	}
	if len(target) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(
		`UPDATE whatsapp_messages SET is_read = ? WHERE direction = 'in' AND (is_read IS NULL OR is_read = ?) AND CAST(id AS TEXT) IN (?)`,
		true, false, target,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to build mark-read query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	n, _ := res.RowsAffected()
	log.Debug().Int("requested", len(target)).Int64("updated", n).Msg("Marked messages read")
	return n, nil
}

// fixStatusesQuery raises status to whatsapp_status when the provider reports a later
// delivery stage: pending/failed/empty < sent < delivered < read.
const fixStatusesQuery = `
UPDATE whatsapp_messages SET status = whatsapp_status
WHERE direction = 'out' AND (
     ((status IS NULL OR status IN ('', 'pending', 'failed')) AND whatsapp_status IN ('sent', 'delivered', 'read'))
  OR (status = 'sent' AND whatsapp_status IN ('delivered', 'read'))
  OR (status = 'delivered' AND whatsapp_status = 'read')
)`

// FixStatuses brings outbound statuses in line with the provider's whatsapp_status.
func (s *SQLStore) FixStatuses(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, fixStatusesQuery)
	if err != nil {
		return 0, fmt.Errorf("failed to fix message statuses: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("updated", n).Msg("Fixed outbound message statuses")
	}
	return n, nil
}
