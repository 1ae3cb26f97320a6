package cache

import (
	"context"
	"time"

	"crm-inbox/internal/models"
)

// Tab names of the inbox page.
const (
	TabAll     = "all"
	TabUnread  = "unread"
	TabMine    = "mine"
	DefaultTab = TabAll
)

const (
	keyClients        = "clients"
	keySelectedClient = "selected_client"
	keyActiveTab      = "active_tab"
	keyMessagesPrefix = "messages:"
)

// Session is the per-dashboard-session state: cached lists, selected client, active tab.
type Session struct {
	id    string
	cache *Cache
}

// NewSession scopes c to session id.
func NewSession(c *Cache, id string) *Session {
	return &Session{id: id, cache: c.Scoped("session:" + id)}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Clients returns the cached client list.
func (s *Session) Clients(ctx context.Context) ([]models.Client, time.Duration, bool) {
	var clients []models.Client
	age, ok := s.cache.Get(ctx, keyClients, &clients)
	return clients, age, ok
}

// SaveClients overwrites the cached client list.
func (s *Session) SaveClients(ctx context.Context, clients []models.Client) error {
	return s.cache.Put(ctx, keyClients, clients)
}

// Messages returns the cached messages of one conversation.
func (s *Session) Messages(ctx context.Context, ref models.ClientRef) ([]models.Message, bool) {
	var msgs []models.Message
	_, ok := s.cache.Get(ctx, keyMessagesPrefix+ref.Key(), &msgs)
	return msgs, ok
}

// SaveMessages overwrites the cached messages of one conversation.
func (s *Session) SaveMessages(ctx context.Context, ref models.ClientRef, msgs []models.Message) error {
	return s.cache.Put(ctx, keyMessagesPrefix+ref.Key(), msgs)
}

// SelectedClient returns the client whose conversation is open.
func (s *Session) SelectedClient(ctx context.Context) (models.ClientRef, bool) {
	var ref models.ClientRef
	if _, ok := s.cache.Get(ctx, keySelectedClient, &ref); !ok || ref.IsZero() {
		return models.ClientRef{}, false
	}
	return ref, true
}

// SelectClient records the open conversation.
func (s *Session) SelectClient(ctx context.Context, ref models.ClientRef) error {
	return s.cache.Put(ctx, keySelectedClient, ref)
}

// ClearSelection forgets the open conversation.
func (s *Session) ClearSelection(ctx context.Context) error {
	return s.cache.Invalidate(ctx, keySelectedClient)
}

// ActiveTab returns the selected tab or DefaultTab.
func (s *Session) ActiveTab(ctx context.Context) string {
	var tab string
	if _, ok := s.cache.Get(ctx, keyActiveTab, &tab); !ok || !ValidTab(tab) {
		return DefaultTab
	}
	return tab
}

// SetActiveTab stores the selected tab.
func (s *Session) SetActiveTab(ctx context.Context, tab string) error {
	return s.cache.Put(ctx, keyActiveTab, tab)
}

// ValidTab reports whether tab is a known tab name.
func ValidTab(tab string) bool {
	switch tab {
	case TabAll, TabUnread, TabMine:
		return true
	}
	return false
}
