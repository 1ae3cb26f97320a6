package store

import (
	"context"
	"testing"
	"time"

	"crm-inbox/internal/models"
)

const testSchema = `
CREATE TABLE tenants_employee (id INTEGER PRIMARY KEY, display_name TEXT);
CREATE TABLE leads (id TEXT PRIMARY KEY, lead_number TEXT, name TEXT, phone TEXT, mobile TEXT,
  closer TEXT, scheduler TEXT, handler TEXT, manager TEXT);
CREATE TABLE leads_lead (id INTEGER PRIMARY KEY, name TEXT, phone TEXT, mobile TEXT,
  closer_id INTEGER, meeting_scheduler_id INTEGER, case_handler_id INTEGER, meeting_manager_id INTEGER);
CREATE TABLE leads_contact (id INTEGER PRIMARY KEY, name TEXT, phone TEXT, mobile TEXT);
CREATE TABLE lead_leadcontact (id INTEGER PRIMARY KEY, contact_id INTEGER, newlead_id TEXT, lead_id INTEGER, main BOOLEAN);
CREATE TABLE whatsapp_messages (id INTEGER PRIMARY KEY, lead_id TEXT, legacy_id INTEGER, contact_id INTEGER,
  phone_number TEXT, direction TEXT, sent_at DATETIME, status TEXT, whatsapp_status TEXT, message_type TEXT,
  template_id INTEGER, is_read BOOLEAN, message TEXT, media_url TEXT, sender_name TEXT);
CREATE TABLE leads_leadinteractions (id INTEGER PRIMARY KEY, lead_id INTEGER, kind TEXT, direction TEXT,
  cdate DATETIME, content TEXT, employee_name TEXT);
CREATE TABLE whatsapp_templates (id INTEGER PRIMARY KEY, title TEXT, name360 TEXT, content TEXT,
  params TEXT, active BOOLEAN, language TEXT);
`

var t0 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", ":memory:?_time_format=sqlite")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	seed := []struct {
		query string
		args  []interface{}
	}{
		{`INSERT INTO tenants_employee (id, display_name) VALUES (1, 'Avi'), (2, 'Noa')`, nil},
		{`INSERT INTO leads (id, lead_number, name, phone, closer) VALUES ('L1', 'L-100', 'Dana', '050-1111111', 'Moshe')`, nil},
		{`INSERT INTO leads_lead (id, name, phone, closer_id, case_handler_id) VALUES (1042, 'Old Lead', '0522222222', 1, 2)`, nil},
		{`INSERT INTO leads_contact (id, name, mobile) VALUES (9, 'Spouse', '0503333333'), (10, 'Orphan', '0504444444')`, nil},
		{`INSERT INTO lead_leadcontact (contact_id, newlead_id, lead_id, main) VALUES (9, NULL, 1042, 0), (9, 'L1', NULL, 1)`, nil},
		{`INSERT INTO whatsapp_messages (id, lead_id, direction, sent_at, status, whatsapp_status, message_type, is_read, message)
		  VALUES (1, 'L1', 'in', ?, 'delivered', 'delivered', 'text', 0, 'hello')`, []interface{}{t0}},
		{`INSERT INTO whatsapp_messages (id, lead_id, direction, sent_at, status, whatsapp_status, message_type, template_id, is_read, message)
		  VALUES (2, 'L1', 'out', ?, 'pending', 'read', 'template', 3, 1, '')`, []interface{}{t0.Add(time.Minute)}},
		{`INSERT INTO whatsapp_messages (id, contact_id, phone_number, direction, sent_at, status, whatsapp_status, is_read, message)
		  VALUES (3, 9, '0503333333', 'in', ?, 'delivered', 'delivered', 0, 'from spouse')`, []interface{}{t0.Add(2 * time.Minute)}},
		{`INSERT INTO whatsapp_messages (id, phone_number, direction, sent_at, status, whatsapp_status, is_read, message)
		  VALUES (4, '050-1111111', 'in', ?, 'delivered', 'delivered', 0, 'phone only')`, []interface{}{t0.Add(3 * time.Minute)}},
		{`INSERT INTO whatsapp_messages (id, lead_id, direction, sent_at, status, whatsapp_status, is_read, message)
		  VALUES (5, 'L1', 'out', ?, 'sent', 'delivered', 1, 'reply')`, []interface{}{t0.Add(4 * time.Minute)}},
		{`INSERT INTO leads_leadinteractions (id, lead_id, kind, direction, cdate, content, employee_name)
		  VALUES (70, 1042, 'w', 'i', ?, 'legacy hi', ''), (71, 1042, 'c', 'o', ?, 'phone call', 'Avi')`, []interface{}{t0, t0}},
		{`INSERT INTO whatsapp_templates (id, title, name360, content, params, active, language)
		  VALUES (3, 'Welcome', 'welcome', 'Hello!', '0', 1, 'he'), (4, 'Reminder', 'reminder', 'Hi {{1}}', 'x', NULL, 'he')`, nil},
	}
	for _, s := range seed {
		if _, err := db.Exec(s.query, s.args...); err != nil {
			t.Fatalf("Failed to seed %q: %v", s.query, err)
		}
	}
	return NewSQLStore(db)
}

func TestFetchClients(t *testing.T) {
	s := newTestStore(t)
	clients, err := s.FetchClients(context.Background())
	if err != nil {
		t.Fatalf("FetchClients failed: %v", err)
	}

	byRef := make(map[string]models.Client)
	for _, c := range clients {
		byRef[c.Ref.Key()] = c
	}
	if len(byRef) != 4 {
		t.Fatalf("Expected 4 clients, got %d: %v", len(byRef), clients)
	}

	legacy := byRef["legacy:1042"]
	if legacy.Roles.Closer != "Avi" || legacy.Roles.Handler != "Noa" || legacy.LeadNumber != "1042" {
		t.Errorf("Unexpected legacy lead %+v", legacy)
	}

	spouse := byRef["contact:9"]
	if spouse.Ref.Parent == nil || spouse.Ref.Parent.String() != "lead:L1" {
		t.Fatalf("Expected contact 9 under its main lead L1, got %+v", spouse.Ref.Parent)
	}
	if spouse.LeadNumber != "L-100" || spouse.Roles.Closer != "Moshe" {
		t.Errorf("Contact should inherit lead number and roles, got %+v", spouse)
	}

	if orphan := byRef["contact:10"]; orphan.Ref.Parent != nil {
		t.Errorf("Expected orphan contact without parent, got %+v", orphan.Ref.Parent)
	}
}

func TestFetchMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	all, err := s.FetchMessages(ctx, MessageQuery{})
	if err != nil {
		t.Fatalf("FetchMessages failed: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("Expected 5 messages and 1 legacy interaction, got %d", len(all))
	}
	if all[0].ID != "1" || models.Deref(all[0].LeadID) != "L1" || all[0].IsRead || !all[0].SentAt.Equal(t0) {
		t.Errorf("Unexpected first message %+v", all[0])
	}
	if models.Deref(all[1].TemplateID) != "3" || all[1].LegacyID != nil {
		t.Errorf("Unexpected nullable columns %+v", all[1])
	}
	legacy := all[5]
	if legacy.ID != LegacyMessagePrefix+"70" || models.Deref(legacy.LegacyID) != "1042" || !legacy.IsInbound() {
		t.Errorf("Unexpected legacy interaction %+v", legacy)
	}

	newer, err := s.FetchMessages(ctx, MessageQuery{Since: t0.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("FetchMessages since failed: %v", err)
	}
	if len(newer) != 2 || newer[0].ID != "4" {
		t.Errorf("Expected messages 4 and 5 after since, got %+v", newer)
	}

	lead := models.LeadRef("L1")
	scoped, err := s.FetchMessages(ctx, MessageQuery{Scope: &lead, Phones: []string{"050-1111111", "0501111111"}})
	if err != nil {
		t.Fatalf("Scoped FetchMessages failed: %v", err)
	}
	if len(scoped) != 4 {
		t.Errorf("Expected 3 lead messages plus the phone-only one, got %d", len(scoped))
	}

	legacyRef := models.LegacyLeadRef("1042")
	legacyMsgs, err := s.FetchMessages(ctx, MessageQuery{Scope: &legacyRef})
	if err != nil {
		t.Fatalf("Legacy scoped FetchMessages failed: %v", err)
	}
	if len(legacyMsgs) != 1 {
		t.Errorf("Expected 1 legacy interaction, got %d", len(legacyMsgs))
	}
}

func TestMarkReadAndFixStatuses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.MarkRead(ctx, []string{"1", "2", "3", LegacyMessagePrefix + "70"})
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 inbound messages marked read, got %d", n)
	}
	if n, _ := s.MarkRead(ctx, nil); n != 0 {
		t.Errorf("Expected no-op for empty ids, got %d", n)
	}

	fixed, err := s.FixStatuses(ctx)
	if err != nil {
		t.Fatalf("FixStatuses failed: %v", err)
	}
	if fixed != 2 {
		t.Errorf("Expected 2 statuses fixed, got %d", fixed)
	}

	var status string
	if err := s.DB().Get(&status, `SELECT status FROM whatsapp_messages WHERE id = 5`); err != nil {
		t.Fatalf("Failed to read status: %v", err)
	}
	if status != "delivered" {
		t.Errorf("Expected delivered, got %s", status)
	}
}

func TestFetchTemplates(t *testing.T) {
	s := newTestStore(t)
	tmpls, err := s.FetchTemplates(context.Background())
	if err != nil {
		t.Fatalf("FetchTemplates failed: %v", err)
	}
	if len(tmpls) != 2 {
		t.Fatalf("Expected 2 templates, got %d", len(tmpls))
	}
	if tmpls[0].Params != 0 || tmpls[0].Content != "Hello!" || !tmpls[0].Active {
		t.Errorf("Unexpected template %+v", tmpls[0])
	}
	if tmpls[1].Params != 0 || !tmpls[1].Active {
		t.Errorf("Unparsable params should count as 0 and NULL active as true, got %+v", tmpls[1])
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "dsn"); err == nil {
		t.Errorf("Expected error for unknown database type")
	}
	if _, err := Open(context.Background(), "sqlite", ""); err == nil {
		t.Errorf("Expected error for empty DSN")
	}
}

func TestFetchMessagesPagingLosesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	extra := []struct {
		query string
		args  []interface{}
	}{
		{`INSERT INTO whatsapp_messages (id, lead_id, direction, sent_at, status, whatsapp_status, is_read, message)
		  VALUES (6, 'L1', 'in', ?, 'delivered', 'delivered', 0, 'same minute as 2')`, []interface{}{t0.Add(time.Minute)}},
		{`INSERT INTO leads_leadinteractions (id, lead_id, kind, direction, cdate, content, employee_name)
		  VALUES (72, 1042, 'w', 'o', ?, 'late legacy reply', 'Avi')`, []interface{}{t0.Add(5 * time.Minute)}},
	}
	for _, e := range extra {
		if _, err := s.DB().Exec(e.query, e.args...); err != nil {
			t.Fatalf("Failed to seed %q: %v", e.query, err)
		}
	}

	first, err := s.FetchMessages(ctx, MessageQuery{Limit: 2})
	if err != nil {
		t.Fatalf("FetchMessages failed: %v", err)
	}
	for _, m := range first {
		if m.SentAt.After(t0.Add(time.Minute)) {
			t.Errorf("Page must stop at the truncated WhatsApp boundary, got %s at %s", m.ID, m.SentAt)
		}
	}

	seen := make(map[string]int)
	var since time.Time
	for page := 0; page < 10; page++ {
		msgs, err := s.FetchMessages(ctx, MessageQuery{Since: since, Limit: 2})
		if err != nil {
			t.Fatalf("FetchMessages page %d failed: %v", page, err)
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			seen[m.ID]++
			if m.SentAt.After(since) {
				since = m.SentAt
			}
		}
	}

	want := []string{"1", "2", "3", "4", "5", "6", LegacyMessagePrefix + "70", LegacyMessagePrefix + "72"}
	for _, id := range want {
		if seen[id] != 1 {
			t.Errorf("Expected message %s exactly once across pages, got %d", id, seen[id])
		}
	}
	if len(seen) != len(want) {
		t.Errorf("Expected %d distinct messages, got %v", len(want), seen)
	}
}
