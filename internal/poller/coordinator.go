package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"crm-inbox/internal/conversation"
	"crm-inbox/internal/models"
	"crm-inbox/internal/store"
)

// Fetcher loads messages newer than a timestamp.
type Fetcher interface {
	FetchMessages(ctx context.Context, q store.MessageQuery) ([]models.Message, error)
}

// Config holds the polling intervals.
type Config struct {
	ListInterval time.Duration
	OpenInterval time.Duration
	SettleDelay  time.Duration
	FetchTimeout time.Duration
	WindowTick   time.Duration
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		ListInterval: 10 * time.Second,
		OpenInterval: 5 * time.Second,
		SettleDelay:  2 * time.Second,
		FetchTimeout: 8 * time.Second,
		WindowTick:   60 * time.Second,
	}
}

// Update describes a merge that changed the shared message cache.
type Update struct {
	SessionID string
	Scope     *models.ClientRef
	Added     []models.Message
	Updated   int
}

// WindowFunc computes the current window of an open conversation.
type WindowFunc func(now time.Time) conversation.WindowState

// OpenRequest describes a conversation being opened in a session.
type OpenRequest struct {
	SessionID string
	Ref       models.ClientRef
	Phones    []string
	// Since is the newest sent_at already known for this conversation.
	Since  time.Time
	Window WindowFunc
}

type openSession struct {
	ref        models.ClientRef
	phones     []string
	since      time.Time
	generation uint64
	locked     bool
	poll       *CancelToken
	watch      *CancelToken
}

func (s *openSession) cancel() {
	if s.poll != nil {
		s.poll.Cancel()
	}
	if s.watch != nil {
		s.watch.Cancel()
	}
}

// Coordinator owns the shared message cache and the list and open-conversation pollers.
// Every read-modify-write of the cache happens under mu. The list poll and each open
// conversation keep their own watermark: a scoped fetch says nothing about other clients.
type Coordinator struct {
	fetcher Fetcher
	cfg     Config

	onUpdate       func(Update)
	onWindowLocked func(sessionID string, ref models.ClientRef)
	now            func() time.Time

	mu         sync.Mutex
	baseCtx    context.Context
	messages   []models.Message
	listSince  time.Time
	sessions   map[string]*openSession
	generation uint64
	listTask   *CancelToken
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// OnUpdate registers the callback run after a merge changed the cache.
func OnUpdate(fn func(Update)) CoordinatorOption {
	return func(c *Coordinator) { c.onUpdate = fn }
}

// OnWindowLocked registers the callback run when an open conversation's window closes.
func OnWindowLocked(fn func(sessionID string, ref models.ClientRef)) CoordinatorOption {
	return func(c *Coordinator) { c.onWindowLocked = fn }
}

// WithNow replaces the clock.
func WithNow(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator. Nothing polls until Start or Open.
func NewCoordinator(fetcher Fetcher, cfg Config, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		fetcher:  fetcher,
		cfg:      cfg,
		now:      time.Now,
		baseCtx:  context.Background(),
		sessions: make(map[string]*openSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Seed merges the result of an unscoped fetch without notifying and advances the list
// watermark to its newest message.
func (c *Coordinator) Seed(msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages, _ = Merge(c.messages, msgs)
	c.listSince = later(c.listSince, Latest(msgs))
}

// Restore merges a cached snapshot taken with Snapshot, together with its list watermark.
func (c *Coordinator) Restore(msgs []models.Message, listSince time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages, _ = Merge(c.messages, msgs)
	c.listSince = later(c.listSince, listSince)
}

// Apply merges msgs without notifying and without moving any watermark. It is meant for
// local updates of messages that are already cached, such as read flags.
func (c *Coordinator) Apply(msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages, _ = Merge(c.messages, msgs)
}

// Messages returns a snapshot of the cache, ascending by sent_at.
func (c *Coordinator) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...)
}

// Snapshot returns the cached messages and the list watermark taken together.
func (c *Coordinator) Snapshot() ([]models.Message, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.messages...), c.listSince
}

// ListSince returns the watermark of the conversation-list poll.
func (c *Coordinator) ListSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listSince
}

// Start begins the conversation-list poll. Sessions opened later inherit ctx.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseCtx = ctx
	if c.listTask != nil {
		c.listTask.Cancel()
	}
	c.listTask = Start(ctx, c.cfg.ListInterval, c.cfg.SettleDelay, c.PollList)
	log.Info().Dur("interval", c.cfg.ListInterval).Msg("Conversation list polling started")
}

// PollList fetches every message newer than the cache and merges it.
func (c *Coordinator) PollList(ctx context.Context) {
	since := c.ListSince()
	msgs, err := c.fetch(ctx, store.MessageQuery{Since: since})
	if err != nil {
		log.Warn().Err(err).Time("since", since).Msg("Conversation list poll failed")
		return
	}

	c.mu.Lock()
	var res MergeResult
	c.messages, res = Merge(c.messages, msgs)
	c.listSince = later(c.listSince, Latest(msgs))
	c.mu.Unlock()

	if res.Changed() {
		c.notify(Update{Added: res.Added, Updated: res.Updated})
	}
}

// Open starts polling ref for sessionID, cancelling the session's previous conversation.
func (c *Coordinator) Open(req OpenRequest) {
	locked := false
	if req.Window != nil {
		locked = req.Window(c.now()).Locked
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.sessions[req.SessionID]; ok {
		prev.cancel()
	}

	c.generation++
	gen := c.generation
	s := &openSession{ref: req.Ref, phones: req.Phones, since: req.Since, generation: gen, locked: locked}
	c.sessions[req.SessionID] = s

	s.poll = Start(c.baseCtx, c.cfg.OpenInterval, c.cfg.SettleDelay, func(ctx context.Context) {
		c.pollOpen(ctx, req.SessionID, gen)
	})
	if req.Window != nil && c.cfg.WindowTick > 0 {
		s.watch = Start(c.baseCtx, c.cfg.WindowTick, c.cfg.WindowTick, func(ctx context.Context) {
			c.checkWindow(req.SessionID, gen, req.Window)
		})
	}

	log.Debug().Str("session", req.SessionID).Str("client", req.Ref.String()).Uint64("generation", gen).Msg("Conversation poller started")
}

// Close cancels the open-conversation poller of sessionID.
func (c *Coordinator) Close(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	if ok {
		s.cancel()
		log.Debug().Str("session", sessionID).Str("client", s.ref.String()).Msg("Conversation poller stopped")
	}
}

// CloseRef cancels the poller of sessionID only when ref is the conversation it has open.
func (c *Coordinator) CloseRef(sessionID string, ref models.ClientRef) bool {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok || !s.ref.Equal(ref) {
		c.mu.Unlock()
		return false
	}
	delete(c.sessions, sessionID)
	c.mu.Unlock()

	s.cancel()
	log.Debug().Str("session", sessionID).Str("client", ref.String()).Msg("Conversation poller stopped")
	return true
}

// OpenRef returns the conversation sessionID has open.
func (c *Coordinator) OpenRef(sessionID string) (models.ClientRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return models.ClientRef{}, false
	}
	return s.ref, true
}

// Stop cancels every poller.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*openSession)
	list := c.listTask
	c.listTask = nil
	c.mu.Unlock()

	if list != nil {
		list.Cancel()
	}
	for _, s := range sessions {
		s.cancel()
	}
}

func (c *Coordinator) current(sessionID string, gen uint64) (*openSession, bool) {
	s, ok := c.sessions[sessionID]
	if !ok || s.generation != gen {
		return nil, false
	}
	return s, true
}

func (c *Coordinator) pollOpen(ctx context.Context, sessionID string, gen uint64) {
	c.mu.Lock()
	s, ok := c.current(sessionID, gen)
	if !ok {
		c.mu.Unlock()
		return
	}
	ref := s.ref
	q := store.MessageQuery{Since: s.since, Scope: &ref, Phones: s.phones}
	c.mu.Unlock()

	msgs, err := c.fetch(ctx, q)
	if err != nil {
		log.Warn().Err(err).Str("client", ref.String()).Msg("Open conversation poll failed")
		return
	}

	c.mu.Lock()
	s, ok = c.current(sessionID, gen)
	if !ok {
		c.mu.Unlock()
		log.Debug().Str("session", sessionID).Uint64("generation", gen).Int("messages", len(msgs)).Msg("Discarding superseded poll result")
		return
	}
	var res MergeResult
	c.messages, res = Merge(c.messages, msgs)
	s.since = later(s.since, Latest(msgs))
	c.mu.Unlock()

	if res.Changed() {
		c.notify(Update{SessionID: sessionID, Scope: &ref, Added: res.Added, Updated: res.Updated})
	}
}

func (c *Coordinator) checkWindow(sessionID string, gen uint64, window WindowFunc) {
	state := window(c.now())

	c.mu.Lock()
	s, ok := c.current(sessionID, gen)
	if !ok {
		c.mu.Unlock()
		return
	}
	wasOpen := !s.locked
	s.locked = state.Locked
	ref := s.ref
	c.mu.Unlock()

	if wasOpen && state.Locked {
		log.Info().Str("session", sessionID).Str("client", ref.String()).Msg("Response window closed")
		if c.onWindowLocked != nil {
			c.onWindowLocked(sessionID, ref)
		}
	}
}

func (c *Coordinator) fetch(ctx context.Context, q store.MessageQuery) ([]models.Message, error) {
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	return c.fetcher.FetchMessages(ctx, q)
}

func (c *Coordinator) notify(u Update) {
	if c.onUpdate != nil {
		c.onUpdate(u)
	}
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
