// Package conversation derives conversations from resolved messages.
package conversation

import (
	"sort"
	"time"

	"crm-inbox/internal/identity"
	"crm-inbox/internal/models"
)

// Conversation is the derived view of one client's messages.
type Conversation struct {
	Client      models.Client    `json:"client"`
	Messages    []models.Message `json:"messages"`
	LastMessage *models.Message  `json:"last_message,omitempty"`
	UnreadCount int              `json:"unread_count"`
	Window      WindowState      `json:"window"`
}

// LastActivity returns the sent_at of the last message, or the zero time.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.SentAt
}

// Report carries what assembly could not place.
type Report struct {
	Stats      identity.Stats        `json:"stats"`
	Unresolved []identity.Resolution `json:"unresolved,omitempty"`
	Ambiguous  []identity.Resolution `json:"ambiguous,omitempty"`
}

// Assembler groups messages into per-client conversations.
type Assembler struct {
	resolver     *identity.Resolver
	includeEmpty bool
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithEmptyConversations keeps clients that have no messages in the output.
func WithEmptyConversations() AssemblerOption {
	return func(a *Assembler) { a.includeEmpty = true }
}

// NewAssembler creates an assembler over resolver.
func NewAssembler(resolver *identity.Resolver, opts ...AssemblerOption) *Assembler {
	a := &Assembler{resolver: resolver}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Resolver returns the identity resolver in use.
func (a *Assembler) Resolver() *identity.Resolver {
	return a.resolver
}

// Assemble resolves messages against clients and returns the conversations in list order.
func (a *Assembler) Assemble(clients []models.Client, messages []models.Message, now time.Time) ([]Conversation, Report) {
	cands := identity.NewCandidates(clients, a.resolver.Normalizer())
	return a.AssembleCandidates(cands, messages, now)
}

// AssembleCandidates is Assemble over an already indexed (and possibly scoped) candidate set.
func (a *Assembler) AssembleCandidates(cands *identity.Candidates, messages []models.Message, now time.Time) ([]Conversation, Report) {
	results, stats := a.resolver.ResolveAll(messages, cands)
	report := Report{Stats: stats}

	grouped := make(map[string][]models.Message)
	for i, res := range results {
		if !res.Resolved() {
			report.Unresolved = append(report.Unresolved, res)
			continue
		}
		if res.IsAmbiguous() {
			report.Ambiguous = append(report.Ambiguous, res)
		}
		key := res.Client.Key()
		grouped[key] = append(grouped[key], messages[i])
	}

	// Input order of clients is the final tiebreak.
	var convs []Conversation
	position := make(map[string]int)
	for _, client := range cands.InputOrder() {
		key := client.Ref.Key()
		msgs := grouped[key]
		if len(msgs) == 0 && !a.includeEmpty {
			continue
		}
		position[key] = len(convs)
		convs = append(convs, Build(client, msgs, now))
	}

	SortForList(convs, position)
	return convs, report
}

// Build assembles one conversation from messages already known to belong to client.
func Build(client models.Client, messages []models.Message, now time.Time) Conversation {
	msgs := append([]models.Message(nil), messages...)
	SortMessages(msgs)

	conv := Conversation{Client: client, Messages: msgs}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	for _, m := range msgs {
		if m.Unread() {
			conv.UnreadCount++
		}
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		conv.LastMessage = &last
	}
	conv.Window = ComputeWindow(msgs, now)
	return conv
}

// SortMessages orders messages ascending by sent_at, ties broken by id.
func SortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// SortForList orders conversations unread first, then by most recent message, then by
// position (the original order; missing keys sort as given).
func SortForList(convs []Conversation, position map[string]int) {
	sort.SliceStable(convs, func(i, j int) bool {
		ui, uj := convs[i].UnreadCount > 0, convs[j].UnreadCount > 0
		if ui != uj {
			return ui
		}
		ti, tj := convs[i].LastActivity(), convs[j].LastActivity()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		pi, iok := position[convs[i].Client.Ref.Key()]
		pj, jok := position[convs[j].Client.Ref.Key()]
		if iok && jok {
			return pi < pj
		}
		return false
	})
}
