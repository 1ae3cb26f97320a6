package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm-inbox/internal/adapters/whatsapp"
	"crm-inbox/internal/cache"
	"crm-inbox/internal/conversation"
	"crm-inbox/internal/events"
	"crm-inbox/internal/identity"
	"crm-inbox/internal/media"
	"crm-inbox/internal/models"
	"crm-inbox/internal/phone"
	"crm-inbox/internal/poller"
	"crm-inbox/internal/store"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	clients   []models.Client
	messages  []models.Message
	templates []models.Template
	markRead  []string
}

func (f *fakeStore) FetchClients(context.Context) ([]models.Client, error) {
	return f.clients, nil
}

func (f *fakeStore) FetchMessages(_ context.Context, q store.MessageQuery) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for _, m := range f.messages {
		if m.SentAt.After(q.Since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) FetchTemplates(context.Context) ([]models.Template, error) {
	return f.templates, nil
}

func (f *fakeStore) MarkRead(_ context.Context, ids []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markRead = append(f.markRead, ids...)
	return int64(len(ids)), nil
}

func (f *fakeStore) FixStatuses(context.Context) (int64, error) { return 0, nil }

func (f *fakeStore) add(m models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
}

type fakeAudit struct {
	mu          sync.Mutex
	resolutions []identity.Resolution
	attempts    []models.SendAttempt
}

func (a *fakeAudit) RecordResolution(_ context.Context, res identity.Resolution) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.resolutions {
		if r.MessageID == res.MessageID {
			return false, nil
		}
	}
	a.resolutions = append(a.resolutions, res)
	return true, nil
}

func (a *fakeAudit) RecordSendAttempt(_ context.Context, attempt *models.SendAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = append(a.attempts, *attempt)
	return nil
}

type published struct {
	eventType, ref, session string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []published
}

func (e *fakeEvents) Publish(eventType, clientRef, sessionID string, _ map[string]interface{}) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, published{eventType, clientRef, sessionID})
	return "id"
}

func (e *fakeEvents) ofType(t string) []published {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []published
	for _, p := range e.events {
		if p.eventType == t {
			out = append(out, p)
		}
	}
	return out
}

type fakeSender struct {
	sent       []whatsapp.SendMessageRequest
	media      []whatsapp.SendMediaRequest
	failTmpl   error
	uploads    int
	edited     string
	deletedFor bool
}

func (s *fakeSender) SendMessage(_ context.Context, req whatsapp.SendMessageRequest) (*whatsapp.SendResponse, error) {
	if req.IsTemplate && s.failTmpl != nil {
		return nil, s.failTmpl
	}
	s.sent = append(s.sent, req)
	return &whatsapp.SendResponse{Success: true, MessageID: "wamid.1"}, nil
}

func (s *fakeSender) SendMedia(_ context.Context, req whatsapp.SendMediaRequest) (*whatsapp.SendResponse, error) {
	s.media = append(s.media, req)
	return &whatsapp.SendResponse{Success: true, MessageID: "wamid.2"}, nil
}

func (s *fakeSender) UploadMedia(context.Context, string, string, []byte) (*whatsapp.UploadMediaResponse, error) {
	s.uploads++
	return &whatsapp.UploadMediaResponse{Success: true, MediaID: "media-1"}, nil
}

func (s *fakeSender) EditMessage(_ context.Context, _, text string) error {
	s.edited = text
	return nil
}

func (s *fakeSender) DeleteMessage(_ context.Context, _ string, forEveryone bool) error {
	s.deletedFor = forEveryone
	return nil
}

type fakeUploader struct{ keys []string }

func (u *fakeUploader) Upload(_ context.Context, ref models.ClientRef, objectID string, _ *media.Payload) (string, error) {
	u.keys = append(u.keys, ref.String()+"/"+objectID)
	return "https://cdn.example.com/" + objectID, nil
}

func ptr(s string) *string { return &s }

func inbound(id, leadID, phoneNumber string, at time.Time) models.Message {
	m := models.Message{ID: id, Direction: models.DirectionIn, SentAt: at, Body: "hi " + id}
	if leadID != "" {
		m.LeadID = ptr(leadID)
	}
	if phoneNumber != "" {
		m.PhoneNumber = ptr(phoneNumber)
	}
	return m
}

type fixture struct {
	store  *fakeStore
	audit  *fakeAudit
	events *fakeEvents
	inbox  *InboxService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := &fakeStore{
		clients: []models.Client{
			{Ref: models.LeadRef("1"), Name: "Dana", LeadNumber: "L1", Phone: "0501234567", Roles: models.RoleAssignments{Closer: "Avi"}},
			{Ref: models.LeadRef("2"), Name: "Noa", LeadNumber: "L2"},
			{Ref: models.LegacyLeadRef("7"), Name: "Old", Phone: "0529999999"},
		},
		messages: []models.Message{
			inbound("m1", "1", "", testNow.Add(-2*time.Hour)),
			inbound("m2", "", "+972529999999", testNow.Add(-30*time.Hour)),
			inbound("m3", "", "+15550001", testNow.Add(-time.Hour)),
		},
		templates: []models.Template{
			{ID: "t1", Name360: "welcome", Content: "Hello {{1}}", Params: 1, Active: true, Language: "he"},
			{ID: "t2", Name360: "old", Content: "Bye", Active: false},
		},
	}
	fa := &fakeAudit{}
	fe := &fakeEvents{}
	c := cache.New(cache.NewMemoryStore(time.Hour, time.Hour), cache.WithClock(func() time.Time { return testNow }))
	inbox, err := NewInboxService(InboxDeps{
		Store:    fs,
		Cache:    c,
		Resolver: identity.NewResolver(phone.Default()),
		Poll:     poller.Config{ListInterval: time.Hour, OpenInterval: time.Hour, SettleDelay: time.Hour},
		Audit:    fa,
		Events:   fe,
		Now:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewInboxService: %v", err)
	}
	t.Cleanup(inbox.Stop)
	if err := inbox.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return &fixture{store: fs, audit: fa, events: fe, inbox: inbox}
}

func TestNewInboxServiceValidatesDeps(t *testing.T) {
	if _, err := NewInboxService(InboxDeps{}); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestStartAuditsUnresolved(t *testing.T) {
	f := newFixture(t)

	if len(f.audit.resolutions) != 1 || f.audit.resolutions[0].MessageID != "m3" {
		t.Fatalf("audited = %+v, want only m3", f.audit.resolutions)
	}
	if got := f.events.ofType(events.TypeMessageUnresolved); len(got) != 1 {
		t.Fatalf("unresolved events = %d, want 1", len(got))
	}
}

func TestConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convs, err := f.inbox.Conversations(ctx, "s1", conversation.Filter{})
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].Client.Ref.String() != "lead:1" {
		t.Errorf("first = %s, want lead:1", convs[0].Client.Ref)
	}

	stats := f.inbox.ResolutionStats()
	if stats.Total != 3 || stats.Unresolved != 1 {
		t.Errorf("stats = %+v", stats.Stats)
	}

	listed, _, ok := cache.NewSession(f.inbox.cache, "s1").Clients(ctx)
	if !ok || len(listed) != 2 {
		t.Errorf("session clients = %v, %v", listed, ok)
	}

	mine, _ := f.inbox.Conversations(ctx, "", conversation.Filter{Employee: "avi"})
	if len(mine) != 1 {
		t.Errorf("employee filter returned %d, want 1", len(mine))
	}
}

func TestConversationNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.inbox.Conversation(context.Background(), models.LeadRef("404"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenMarksReadAndSelects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.inbox.Open(ctx, "s1", models.LeadRef("1"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if view.UnreadCount != 0 || !view.Messages[0].IsRead {
		t.Errorf("view not marked read: %+v", view.Conversation)
	}
	if len(f.store.markRead) != 1 || f.store.markRead[0] != "m1" {
		t.Errorf("MarkRead ids = %v", f.store.markRead)
	}
	if view.Window.Locked {
		t.Error("window should be open")
	}

	state := f.inbox.Session(ctx, "s1")
	if state.SelectedClient == nil || state.SelectedClient.String() != "lead:1" {
		t.Errorf("selected = %v", state.SelectedClient)
	}
	if ref, ok := f.inbox.Coordinator().OpenRef("s1"); !ok || ref.String() != "lead:1" {
		t.Errorf("open ref = %v, %v", ref, ok)
	}

	convs, _ := f.inbox.Conversations(ctx, "", conversation.Filter{UnreadOnly: true})
	for _, c := range convs {
		if c.Client.Ref.String() == "lead:1" {
			t.Error("lead:1 still unread after open")
		}
	}

	if closed, err := f.inbox.Close(ctx, "s1", models.LeadRef("2")); err != nil || closed {
		t.Fatalf("Close of another conversation = %v, %v", closed, err)
	}
	if ref, ok := f.inbox.Coordinator().OpenRef("s1"); !ok || ref.String() != "lead:1" {
		t.Errorf("stale close cancelled the open poller: %v, %v", ref, ok)
	}
	if state := f.inbox.Session(ctx, "s1"); state.SelectedClient == nil {
		t.Error("stale close cleared the selection")
	}

	if closed, err := f.inbox.Close(ctx, "s1", models.LeadRef("1")); err != nil || !closed {
		t.Fatalf("Close: %v, %v", closed, err)
	}
	if _, ok := f.inbox.Coordinator().OpenRef("s1"); ok {
		t.Error("poller still open after close")
	}
	if state := f.inbox.Session(ctx, "s1"); state.SelectedClient != nil {
		t.Error("selection not cleared")
	}
}

func TestConversationNoPhoneFallbackScoped(t *testing.T) {
	f := newFixture(t)
	f.store.add(inbound("m4", "", "", testNow.Add(-time.Minute)))
	f.inbox.Refresh(context.Background())

	view, err := f.inbox.Conversation(context.Background(), models.LeadRef("2"))
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(view.Messages) != 1 || view.Messages[0].ID != "m4" {
		t.Fatalf("messages = %+v, want m4", view.Messages)
	}
	if view.Rendered[0].DisplayText != "hi m4" {
		t.Errorf("display = %q", view.Rendered[0].DisplayText)
	}
}

func TestRefreshPublishesUpdates(t *testing.T) {
	f := newFixture(t)
	f.store.add(inbound("m5", "1", "", testNow.Add(-time.Minute)))
	f.inbox.Refresh(context.Background())

	got := f.events.ofType(events.TypeConversationUpdated)
	if len(got) != 1 || got[0].ref != "lead:1" {
		t.Fatalf("updated events = %+v", got)
	}
}

func TestSetActiveTab(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.inbox.SetActiveTab(ctx, "s1", cache.TabUnread); err != nil {
		t.Fatalf("SetActiveTab: %v", err)
	}
	if got := f.inbox.Session(ctx, "s1").ActiveTab; got != cache.TabUnread {
		t.Errorf("tab = %q", got)
	}
	if err := f.inbox.SetActiveTab(ctx, "s1", "bogus"); err == nil {
		t.Error("expected error for unknown tab")
	}
}

func newSendService(t *testing.T, f *fixture, sender Sender, uploader MediaUploader) *SendService {
	t.Helper()
	svc, err := NewSendService(f.inbox, sender, uploader, f.audit)
	if err != nil {
		t.Fatalf("NewSendService: %v", err)
	}
	return svc
}

func TestSendText(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	svc := newSendService(t, f, sender, nil)

	res, err := svc.Send(context.Background(), models.LeadRef("1"), SendRequest{Text: " hello "})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "wamid.1" || res.Kind != kindText {
		t.Errorf("result = %+v", res)
	}
	req := sender.sent[0]
	if req.PhoneNumber != "972501234567" || req.LeadID != "1" || req.Message != "hello" {
		t.Errorf("request = %+v", req)
	}
	if len(f.audit.attempts) != 1 || f.audit.attempts[0].Status != models.SendStatusSent {
		t.Errorf("attempts = %+v", f.audit.attempts)
	}
}

func TestSendTextWindowClosed(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	svc := newSendService(t, f, sender, nil)

	_, err := svc.Send(context.Background(), models.LegacyLeadRef("7"), SendRequest{Text: "hello"})
	if !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("err = %v, want ErrWindowClosed", err)
	}
	if len(sender.sent) != 0 {
		t.Error("message sent despite locked window")
	}
	if f.audit.attempts[0].ErrorCode != whatsapp.CodeReEngagementRequired {
		t.Errorf("error code = %q", f.audit.attempts[0].ErrorCode)
	}
}

func TestSendErrors(t *testing.T) {
	f := newFixture(t)
	svc := newSendService(t, f, &fakeSender{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		ref  models.ClientRef
		req  SendRequest
		want error
	}{
		{"no phone", models.LeadRef("2"), SendRequest{Text: "x"}, ErrNoPhone},
		{"empty text", models.LeadRef("1"), SendRequest{Text: "  "}, ErrEmptyMessage},
		{"unknown template", models.LeadRef("1"), SendRequest{TemplateID: "t9"}, ErrNotFound},
		{"inactive template", models.LeadRef("1"), SendRequest{TemplateID: "t2"}, ErrTemplateInactive},
		{"wrong params", models.LeadRef("1"), SendRequest{TemplateID: "t1"}, ErrTemplateParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Send(ctx, tt.ref, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSendTemplateOutsideWindow(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	svc := newSendService(t, f, sender, nil)

	res, err := svc.Send(context.Background(), models.LegacyLeadRef("7"), SendRequest{TemplateID: "t1", Params: []string{"Dana"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Kind != kindTemplate {
		t.Errorf("kind = %q", res.Kind)
	}
	req := sender.sent[0]
	if !req.IsTemplate || req.TemplateName != "welcome" || req.LegacyLeadID != "7" || req.Message != "Hello Dana" {
		t.Errorf("request = %+v", req)
	}
	if len(req.TemplateParameters) != 1 || req.TemplateParameters[0].Text != "Dana" {
		t.Errorf("parameters = %+v", req.TemplateParameters)
	}
}

func TestSendTemplateFallsBackToText(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{failTmpl: errors.New("template rejected")}
	svc := newSendService(t, f, sender, nil)

	res, err := svc.Send(context.Background(), models.LeadRef("1"), SendRequest{TemplateID: "t1", Params: []string{"Dana"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.FellBack || sender.sent[0].IsTemplate || sender.sent[0].Message != "Hello Dana" {
		t.Errorf("result = %+v, sent = %+v", res, sender.sent)
	}
	last := f.audit.attempts[len(f.audit.attempts)-1]
	if last.Status != models.SendStatusFallback {
		t.Errorf("last attempt status = %q", last.Status)
	}

	_, err = svc.Send(context.Background(), models.LegacyLeadRef("7"), SendRequest{TemplateID: "t1", Params: []string{"x"}})
	if err == nil {
		t.Error("expected failure without fallback outside the window")
	}
}

const pngDataURL = "data:image/png;base64,iVBORw0KGgo="

func TestSendMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("via uploader", func(t *testing.T) {
		sender := &fakeSender{}
		up := &fakeUploader{}
		svc := newSendService(t, f, sender, up)
		res, err := svc.SendMedia(ctx, models.LeadRef("1"), MediaRequest{DataURL: pngDataURL, Caption: "pic"})
		if err != nil {
			t.Fatalf("SendMedia: %v", err)
		}
		if res.Kind != kindMedia || len(up.keys) != 1 || sender.uploads != 0 {
			t.Errorf("res = %+v, keys = %v, uploads = %d", res, up.keys, sender.uploads)
		}
		if req := sender.media[0]; req.MediaType != "image" || req.Caption != "pic" || req.MediaURL == "" {
			t.Errorf("request = %+v", req)
		}
	})

	t.Run("via send api upload", func(t *testing.T) {
		sender := &fakeSender{}
		svc := newSendService(t, f, sender, nil)
		if _, err := svc.SendMedia(ctx, models.LeadRef("1"), MediaRequest{DataURL: pngDataURL}); err != nil {
			t.Fatalf("SendMedia: %v", err)
		}
		if sender.uploads != 1 || sender.media[0].MediaID != "media-1" {
			t.Errorf("uploads = %d, request = %+v", sender.uploads, sender.media[0])
		}
	})

	t.Run("window closed", func(t *testing.T) {
		svc := newSendService(t, f, &fakeSender{}, nil)
		if _, err := svc.SendMedia(ctx, models.LegacyLeadRef("7"), MediaRequest{DataURL: pngDataURL}); !errors.Is(err, ErrWindowClosed) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestEditAndDelete(t *testing.T) {
	f := newFixture(t)
	sender := &fakeSender{}
	svc := newSendService(t, f, sender, nil)
	ctx := context.Background()

	if err := svc.Edit(ctx, "wamid.1", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("edit empty err = %v", err)
	}
	if err := svc.Edit(ctx, "wamid.1", "fixed"); err != nil || sender.edited != "fixed" {
		t.Errorf("edit err = %v, edited = %q", err, sender.edited)
	}
	if err := svc.Delete(ctx, "wamid.1", true); err != nil || !sender.deletedFor {
		t.Errorf("delete err = %v", err)
	}
}

func TestApplyRefs(t *testing.T) {
	parent := models.LegacyLeadRef("7")
	c := models.Client{Ref: models.ContactRef("5", &parent)}
	var lead, legacy, contact string
	applyRefs(c, &lead, &legacy, &contact)
	if lead != "" || legacy != "7" || contact != "5" {
		t.Errorf("got lead=%q legacy=%q contact=%q", lead, legacy, contact)
	}
}
