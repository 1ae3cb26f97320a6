package db

import (
	"context"
	"path/filepath"
	"testing"

	"crm-inbox/internal/identity"
	"crm-inbox/internal/models"
)

func newTestAudit(t *testing.T) *AuditStore {
	t.Helper()
	gdb, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Failed to open audit db: %v", err)
	}
	return NewAuditStore(gdb)
}

func TestRecordResolution(t *testing.T) {
	ctx := context.Background()
	s := newTestAudit(t)

	unresolved := identity.Resolution{MessageID: "m1", Rule: identity.RuleUnresolved, Reason: "no ids and no phone number"}
	created, err := s.RecordResolution(ctx, unresolved)
	if err != nil || !created {
		t.Fatalf("Expected first record to be created, got %v (%v)", created, err)
	}
	created, err = s.RecordResolution(ctx, unresolved)
	if err != nil || created {
		t.Fatalf("Expected second record to update, got %v (%v)", created, err)
	}

	ref := models.ContactRef("5", nil)
	ambiguous := identity.Resolution{
		MessageID: "m2",
		Client:    &ref,
		Rule:      identity.RulePhone,
		Ambiguous: []models.ClientRef{ref, models.ContactRef("6", nil)},
	}
	if _, err := s.RecordResolution(ctx, ambiguous); err != nil {
		t.Fatalf("Failed to record ambiguous resolution: %v", err)
	}

	clean := identity.Resolution{MessageID: "m3", Client: &ref, Rule: identity.RuleContactID}
	if created, _ := s.RecordResolution(ctx, clean); created {
		t.Errorf("Clean resolutions must not be recorded")
	}

	issues, err := s.ResolutionIssues(ctx, 10)
	if err != nil {
		t.Fatalf("ResolutionIssues failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("Expected 2 issues, got %d", len(issues))
	}
	for _, issue := range issues {
		switch issue.MessageID {
		case "m1":
			if issue.Occurrences != 2 || issue.ResolvedTo != "" {
				t.Errorf("Unexpected unresolved issue %+v", issue)
			}
		case "m2":
			if issue.ResolvedTo != "contact:5" || issue.Candidates != "contact:5,contact:6" {
				t.Errorf("Unexpected ambiguous issue %+v", issue)
			}
		default:
			t.Errorf("Unexpected issue %+v", issue)
		}
	}

	u, a, err := s.IssueCounts(ctx)
	if err != nil || u != 1 || a != 1 {
		t.Errorf("Expected 1 unresolved and 1 ambiguous, got %d/%d (%v)", u, a, err)
	}
}

func TestSendAttempts(t *testing.T) {
	ctx := context.Background()
	s := newTestAudit(t)

	for _, a := range []models.SendAttempt{
		{ClientRef: "lead:1", Kind: "template", Status: models.SendStatusFailed, ErrorCode: "INVALID_TEMPLATE"},
		{ClientRef: "lead:1", Kind: "text", Status: models.SendStatusFallback, ProviderMessageID: "wamid.1"},
		{ClientRef: "lead:2", Kind: "text", Status: models.SendStatusSent},
	} {
		a := a
		if err := s.RecordSendAttempt(ctx, &a); err != nil {
			t.Fatalf("RecordSendAttempt failed: %v", err)
		}
	}

	attempts, err := s.SendAttempts(ctx, "lead:1", 0)
	if err != nil {
		t.Fatalf("SendAttempts failed: %v", err)
	}
	if len(attempts) != 2 || attempts[0].Status != models.SendStatusFallback {
		t.Errorf("Expected newest-first attempts for lead:1, got %+v", attempts)
	}

	all, _ := s.SendAttempts(ctx, "", 0)
	if len(all) != 3 {
		t.Errorf("Expected 3 attempts, got %d", len(all))
	}
}
