package conversation

import (
	"strings"

	"crm-inbox/internal/phone"
)

// Filter narrows a conversation list. Zero values disable each criterion.
type Filter struct {
	Employee   string
	UnreadOnly bool
	Query      string
}

// Apply returns the conversations matching every set criterion, preserving order.
func (f Filter) Apply(convs []Conversation) []Conversation {
	if f.Employee == "" && !f.UnreadOnly && strings.TrimSpace(f.Query) == "" {
		return convs
	}
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

// Match reports whether a single conversation passes the filter.
func (f Filter) Match(c Conversation) bool {
	if f.UnreadOnly && c.UnreadCount == 0 {
		return false
	}
	if f.Employee != "" && !c.Client.Roles.Includes(f.Employee) {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Client.Name), q) || strings.Contains(strings.ToLower(c.Client.LeadNumber), q) {
		return true
	}
	digits := phone.Normalize(q)
	if digits == "" {
		return false
	}
	for _, p := range c.Client.Phones() {
		if strings.Contains(phone.Normalize(p), digits) {
			return true
		}
	}
	return false
}
