package poller

import (
	"time"

	"crm-inbox/internal/conversation"
	"crm-inbox/internal/models"
)

// MergeResult reports what a merge changed.
type MergeResult struct {
	Added   []models.Message
	Updated int
}

// Changed reports whether the merge altered the cached list.
func (r MergeResult) Changed() bool {
	return len(r.Added) > 0 || r.Updated > 0
}

// Merge folds incoming into existing by id and returns the list sorted ascending by
// sent_at. Known ids only have their status and read fields updated.
func Merge(existing, incoming []models.Message) ([]models.Message, MergeResult) {
	var result MergeResult
	out := make([]models.Message, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	index := make(map[string]int, len(out))
	for i, m := range out {
		index[m.ID] = i
	}

	for _, m := range incoming {
		if m.ID == "" {
			continue
		}
		if i, ok := index[m.ID]; ok {
			cur := &out[i]
			if cur.Status != m.Status || cur.WhatsAppStatus != m.WhatsAppStatus || cur.IsRead != m.IsRead {
				cur.Status = m.Status
				cur.WhatsAppStatus = m.WhatsAppStatus
				cur.IsRead = m.IsRead
				result.Updated++
			}
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
		result.Added = append(result.Added, m)
	}

	conversation.SortMessages(out)
	return out, result
}

// Latest returns the greatest sent_at in msgs, or the zero time.
func Latest(msgs []models.Message) time.Time {
	var latest time.Time
	for _, m := range msgs {
		if m.SentAt.After(latest) {
			latest = m.SentAt
		}
	}
	return latest
}
