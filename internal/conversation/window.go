package conversation

import (
	"time"

	"crm-inbox/internal/models"
)

// ResponseWindow is how long after the customer's last inbound message free-form replies
// are allowed.
const ResponseWindow = 24 * time.Hour

// WindowState describes the 24-hour response window of a conversation.
type WindowState struct {
	Locked        bool          `json:"locked"`
	LastInboundAt *time.Time    `json:"last_inbound_at,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	TimeLeft      time.Duration `json:"time_left"`
}

// Open reports whether free-form messages may be sent.
func (w WindowState) Open() bool {
	return !w.Locked
}

// ComputeWindow derives the window from the latest inbound message at now. A conversation
// with no inbound message is locked, as is one whose last inbound is 24h or more old.
func ComputeWindow(messages []models.Message, now time.Time) WindowState {
	var last time.Time
	found := false
	for _, m := range messages {
		if !m.IsInbound() {
			continue
		}
		if !found || m.SentAt.After(last) {
			last = m.SentAt
			found = true
		}
	}
	if !found {
		return WindowState{Locked: true}
	}

	expires := last.Add(ResponseWindow)
	state := WindowState{LastInboundAt: &last, ExpiresAt: &expires}
	elapsed := now.Sub(last)
	if elapsed >= ResponseWindow {
		state.Locked = true
		return state
	}
	state.TimeLeft = ResponseWindow - elapsed
	return state
}
