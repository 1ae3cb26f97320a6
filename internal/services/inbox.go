// Package services orchestrates the inbox: loading, reconciling, opening and sending.
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"crm-inbox/internal/cache"
	"crm-inbox/internal/conversation"
	"crm-inbox/internal/events"
	"crm-inbox/internal/identity"
	"crm-inbox/internal/models"
	"crm-inbox/internal/poller"
	"crm-inbox/internal/store"
	"crm-inbox/internal/templates"
)

const (
	keyClients   = "clients"
	keyTemplates = "templates"
	keyMessages  = "messages"
	keyListSince = "messages_since"
)

// AuditRecorder persists resolution issues and send attempts.
type AuditRecorder interface {
	RecordResolution(ctx context.Context, res identity.Resolution) (bool, error)
	RecordSendAttempt(ctx context.Context, attempt *models.SendAttempt) error
}

// EventPublisher emits inbox events.
type EventPublisher interface {
	Publish(eventType, clientRef, sessionID string, payload map[string]interface{}) string
}

// InboxDeps are the collaborators of an InboxService. Audit and Events are optional.
type InboxDeps struct {
	Store    store.Store
	Cache    *cache.Cache
	Resolver *identity.Resolver
	Poll     poller.Config
	Audit    AuditRecorder
	Events   EventPublisher
	Now      func() time.Time
}

// RenderedMessage is a message with its display text.
type RenderedMessage struct {
	models.Message
	DisplayText string `json:"display_text"`
}

// ConversationView is one conversation as returned to the dashboard.
type ConversationView struct {
	conversation.Conversation
	Rendered []RenderedMessage `json:"rendered"`
}

// SessionState is the persisted state of one dashboard session.
type SessionState struct {
	SessionID      string            `json:"session_id"`
	SelectedClient *models.ClientRef `json:"selected_client,omitempty"`
	ActiveTab      string            `json:"active_tab"`
}

// ResolutionStats reports how the last assembly went.
type ResolutionStats struct {
	identity.Stats
	AssembledAt time.Time `json:"assembled_at"`
}

// InboxService loads clients and messages, reconciles them, and manages open conversations.
type InboxService struct {
	store       store.Store
	cache       *cache.Cache
	assembler   *conversation.Assembler
	resolver    *identity.Resolver
	coordinator *poller.Coordinator
	audit       AuditRecorder
	events      EventPublisher
	now         func() time.Time

	mu        sync.RWMutex
	lastStats ResolutionStats
}

// NewInboxService wires an InboxService and its poll coordinator.
func NewInboxService(deps InboxDeps) (*InboxService, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("identity resolver cannot be nil")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	s := &InboxService{
		store:     deps.Store,
		cache:     deps.Cache,
		resolver:  deps.Resolver,
		assembler: conversation.NewAssembler(deps.Resolver),
		audit:     deps.Audit,
		events:    deps.Events,
		now:       now,
	}
	s.coordinator = poller.NewCoordinator(deps.Store, deps.Poll,
		poller.OnUpdate(s.handleUpdate),
		poller.OnWindowLocked(s.handleWindowLocked),
		poller.WithNow(now),
	)
	return s, nil
}

// Coordinator exposes the poll coordinator.
func (s *InboxService) Coordinator() *poller.Coordinator {
	return s.coordinator
}

// Start loads the initial message list, fixes stale statuses and starts list polling.
func (s *InboxService) Start(ctx context.Context) error {
	if _, err := s.store.FixStatuses(ctx); err != nil {
		log.Warn().Err(err).Msg("Status auto-fix failed")
	}

	var cached []models.Message
	var since time.Time
	if age, ok := s.cache.Get(ctx, keyMessages, &cached); ok {
		if _, ok := s.cache.Get(ctx, keyListSince, &since); ok {
			log.Info().Int("messages", len(cached)).Dur("age", age).Time("since", since).Msg("Seeding messages from cache")
			s.coordinator.Restore(cached, since)
		}
	}

	msgs, err := s.store.FetchMessages(ctx, store.MessageQuery{Since: s.coordinator.ListSince()})
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	s.coordinator.Seed(msgs)
	s.persistMessages(ctx)

	if clients, err := s.Clients(ctx); err == nil {
		s.recordResolutions(ctx, clients, s.coordinator.Messages())
	} else {
		log.Warn().Err(err).Msg("Could not load clients on start")
	}

	s.coordinator.Start(ctx)
	log.Info().Int("messages", len(s.coordinator.Messages())).Msg("Inbox service started")
	return nil
}

// Stop cancels all pollers.
func (s *InboxService) Stop() {
	s.coordinator.Stop()
}

// Clients returns the client list, from cache when fresh.
func (s *InboxService) Clients(ctx context.Context) ([]models.Client, error) {
	var clients []models.Client
	if _, ok := s.cache.Get(ctx, keyClients, &clients); ok {
		return clients, nil
	}
	clients, err := s.store.FetchClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}
	if err := s.cache.Put(ctx, keyClients, clients); err != nil {
		log.Warn().Err(err).Msg("Failed to cache client list")
	}
	return clients, nil
}

// Catalog returns the template catalog, from cache when fresh.
func (s *InboxService) Catalog(ctx context.Context) (*templates.Catalog, error) {
	var list []models.Template
	if _, ok := s.cache.Get(ctx, keyTemplates, &list); ok {
		return templates.NewCatalog(list), nil
	}
	list, err := s.store.FetchTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	if err := s.cache.Put(ctx, keyTemplates, list); err != nil {
		log.Warn().Err(err).Msg("Failed to cache template catalog")
	}
	return templates.NewCatalog(list), nil
}

// Conversations assembles the conversation list and applies filter. When sessionID is set
// the resulting client list is saved to the session.
func (s *InboxService) Conversations(ctx context.Context, sessionID string, filter conversation.Filter) ([]conversation.Conversation, error) {
	clients, err := s.Clients(ctx)
	if err != nil {
		return nil, err
	}

	convs, report := s.assembler.Assemble(clients, s.coordinator.Messages(), s.now())
	s.mu.Lock()
	s.lastStats = ResolutionStats{Stats: report.Stats, AssembledAt: s.now()}
	s.mu.Unlock()

	convs = filter.Apply(convs)

	if sessionID != "" {
		listed := make([]models.Client, len(convs))
		for i, c := range convs {
			listed[i] = c.Client
		}
		if err := s.session(sessionID).SaveClients(ctx, listed); err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("Failed to save session client list")
		}
	}
	return convs, nil
}

// Conversation assembles the conversation of one client, including phoneless messages
// scoped to it, with rendered message text.
func (s *InboxService) Conversation(ctx context.Context, ref models.ClientRef) (*ConversationView, error) {
	client, cands, err := s.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	conv := s.build(client, cands, s.coordinator.Messages())

	catalog, err := s.Catalog(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Rendering without template catalog")
	}
	view := &ConversationView{Conversation: conv, Rendered: make([]RenderedMessage, len(conv.Messages))}
	for i, m := range conv.Messages {
		view.Rendered[i] = RenderedMessage{Message: m, DisplayText: templates.Render(m, catalog)}
	}
	return view, nil
}

// Open selects ref in the session, marks its inbound messages read and starts polling it.
func (s *InboxService) Open(ctx context.Context, sessionID string, ref models.ClientRef) (*ConversationView, error) {
	view, err := s.Conversation(ctx, ref)
	if err != nil {
		return nil, err
	}
	ref = view.Client.Ref
	sess := s.session(sessionID)
	if err := sess.SelectClient(ctx, ref); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to save selected client")
	}

	var unread []string
	for _, m := range view.Messages {
		if m.Unread() {
			unread = append(unread, m.ID)
		}
	}
	if len(unread) > 0 {
		if _, err := s.store.MarkRead(ctx, unread); err != nil {
			log.Error().Err(err).Str("client", ref.String()).Msg("Failed to mark messages read")
		} else {
			s.markReadLocally(view)
		}
	}

	if err := sess.SaveMessages(ctx, ref, view.Messages); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("Failed to save session messages")
	}

	s.coordinator.Open(poller.OpenRequest{
		SessionID: sessionID,
		Ref:       ref,
		Phones:    s.lookupPhones(view.Client),
		Since:     view.LastActivity(),
		Window:    func(now time.Time) conversation.WindowState { return s.windowFor(ref, now) },
	})

	log.Info().Str("session", sessionID).Str("client", ref.String()).Int("markedRead", len(unread)).Msg("Conversation opened")
	return view, nil
}

// Close stops polling ref in the session and clears the selection. When ref is not the
// session's open or selected conversation nothing changes and false is returned.
func (s *InboxService) Close(ctx context.Context, sessionID string, ref models.ClientRef) (bool, error) {
	sess := s.session(sessionID)
	if !s.coordinator.CloseRef(sessionID, ref) {
		if _, open := s.coordinator.OpenRef(sessionID); open {
			log.Debug().Str("session", sessionID).Str("client", ref.String()).Msg("Ignoring close of a conversation that is not open")
			return false, nil
		}
		if selected, ok := sess.SelectedClient(ctx); !ok || !selected.Equal(ref) {
			return false, nil
		}
	}
	if err := sess.ClearSelection(ctx); err != nil {
		return false, fmt.Errorf("failed to clear selection: %w", err)
	}
	return true, nil
}

// Session returns the persisted state of a session.
func (s *InboxService) Session(ctx context.Context, sessionID string) SessionState {
	sess := s.session(sessionID)
	state := SessionState{SessionID: sessionID, ActiveTab: sess.ActiveTab(ctx)}
	if ref, ok := sess.SelectedClient(ctx); ok {
		state.SelectedClient = &ref
	}
	return state
}

// SetActiveTab stores the selected inbox tab.
func (s *InboxService) SetActiveTab(ctx context.Context, sessionID, tab string) error {
	if !cache.ValidTab(tab) {
		return fmt.Errorf("unknown tab %q", tab)
	}
	return s.session(sessionID).SetActiveTab(ctx, tab)
}

// ResolutionStats returns the counters of the last list assembly.
func (s *InboxService) ResolutionStats() ResolutionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.lastStats
	out.ByRule = make(map[identity.Rule]int, len(s.lastStats.ByRule))
	for k, v := range s.lastStats.ByRule {
		out.ByRule[k] = v
	}
	return out
}

// Refresh runs one list poll immediately.
func (s *InboxService) Refresh(ctx context.Context) {
	s.coordinator.PollList(ctx)
}

func (s *InboxService) session(id string) *cache.Session {
	return cache.NewSession(s.cache, id)
}

func (s *InboxService) lookup(ctx context.Context, ref models.ClientRef) (models.Client, *identity.Candidates, error) {
	clients, err := s.Clients(ctx)
	if err != nil {
		return models.Client{}, nil, err
	}
	cands := identity.NewCandidates(clients, s.resolver.Normalizer())
	client, ok := cands.Lookup(ref)
	if !ok {
		return models.Client{}, nil, fmt.Errorf("client %s: %w", ref, ErrNotFound)
	}
	if client.Ref.IsLead() {
		cands = cands.WithScope(client.Ref)
	}
	return client, cands, nil
}

func (s *InboxService) build(client models.Client, cands *identity.Candidates, msgs []models.Message) conversation.Conversation {
	var mine []models.Message
	for _, m := range msgs {
		res := s.resolver.Resolve(m, cands)
		if res.Resolved() && res.Client.Equal(client.Ref) {
			mine = append(mine, m)
		}
	}
	return conversation.Build(client, mine, s.now())
}

func (s *InboxService) windowFor(ref models.ClientRef, now time.Time) conversation.WindowState {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, cands, err := s.lookup(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("client", ref.String()).Msg("Could not recompute window")
		return conversation.WindowState{Locked: true}
	}
	conv := s.build(client, cands, s.coordinator.Messages())
	return conversation.ComputeWindow(conv.Messages, now)
}

// lookupPhones spells the client's numbers the ways they may be stored in phone_number.
func (s *InboxService) lookupPhones(c models.Client) []string {
	set := s.resolver.Normalizer().VariantsOf(c.Phones()...)
	out := make([]string, 0, len(set))
	for _, v := range set.Sorted() {
		if len(v) >= 7 {
			out = append(out, v)
		}
	}
	return out
}

func (s *InboxService) markReadLocally(view *ConversationView) {
	var read []models.Message
	for i := range view.Messages {
		if view.Messages[i].Unread() {
			view.Messages[i].IsRead = true
			view.Rendered[i].IsRead = true
			read = append(read, view.Messages[i])
		}
	}
	view.UnreadCount = 0
	s.coordinator.Apply(read)
}

func (s *InboxService) persistMessages(ctx context.Context) {
	msgs, since := s.coordinator.Snapshot()
	if err := s.cache.Put(ctx, keyMessages, msgs); err != nil {
		log.Warn().Err(err).Msg("Failed to cache message list")
		return
	}
	if err := s.cache.Put(ctx, keyListSince, since); err != nil {
		log.Warn().Err(err).Msg("Failed to cache list watermark")
	}
}

func (s *InboxService) handleUpdate(u poller.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.persistMessages(ctx)

	clients, err := s.Clients(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Skipping resolution audit, clients unavailable")
		clients = nil
	}
	touched := s.recordResolutions(ctx, clients, u.Added)

	if s.events == nil {
		return
	}
	if u.Scope != nil {
		touched[u.Scope.Key()] = struct{}{}
	}
	refs := make([]string, 0, len(touched))
	for k := range touched {
		refs = append(refs, k)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		s.events.Publish(events.TypeConversationUpdated, ref, u.SessionID, map[string]interface{}{
			"added":   len(u.Added),
			"updated": u.Updated,
		})
	}
}

// recordResolutions resolves msgs, records unresolved and ambiguous results, publishes an event for
// every newly unresolved message and returns the refs the messages resolved to.
func (s *InboxService) recordResolutions(ctx context.Context, clients []models.Client, msgs []models.Message) map[string]struct{} {
	touched := make(map[string]struct{})
	if len(msgs) == 0 || clients == nil {
		return touched
	}
	cands := identity.NewCandidates(clients, s.resolver.Normalizer())
	results, stats := s.resolver.ResolveAll(msgs, cands)

	for _, res := range results {
		if res.Resolved() {
			touched[res.Client.Key()] = struct{}{}
		}
		if res.Resolved() && !res.IsAmbiguous() {
			continue
		}
		isNew := true
		if s.audit != nil {
			created, err := s.audit.RecordResolution(ctx, res)
			if err != nil {
				log.Error().Err(err).Str("message_id", res.MessageID).Msg("Failed to audit resolution")
			}
			isNew = created
		}
		if isNew && !res.Resolved() && s.events != nil {
			s.events.Publish(events.TypeMessageUnresolved, "", "", map[string]interface{}{
				"message_id": res.MessageID,
				"reason":     res.Reason,
			})
		}
	}

	if stats.Unresolved > 0 || stats.Ambiguous > 0 {
		log.Info().Int("messages", stats.Total).Int("unresolved", stats.Unresolved).Int("ambiguous", stats.Ambiguous).Msg("Resolution issues recorded")
	}
	return touched
}

func (s *InboxService) handleWindowLocked(sessionID string, ref models.ClientRef) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.TypeWindowLocked, ref.String(), sessionID, nil)
}
