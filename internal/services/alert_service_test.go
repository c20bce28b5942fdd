package services

import (
	"context"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

func seedActions(t *testing.T, s *store.MemoryStore, tenantID, category, source string, n int, createdAt time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.InsertAction(&models.Action{
			ID: category + "-" + source + "-" + string(rune('a'+i)), TenantID: tenantID,
			Title: "x", Priority: models.PriorityMedium, Status: models.ActionPending,
			Source: source, Category: category, DueDate: createdAt.Add(24 * time.Hour), CreatedAt: createdAt,
		}); err != nil {
			t.Fatalf("InsertAction: %v", err)
		}
	}
}

func newAlertService(s *store.MemoryStore, at time.Time) *AlertService {
	svc := NewAlertService(s, nil, config.AlertConfig{WindowHours: 24, Threshold: 3})
	svc.now = func() time.Time { return at }
	return svc
}

func TestRepeatedComplaintsThreshold(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	seedActions(t, s, "t1", "Billing", models.SourceSurveyFeedback, 3, now.Add(-time.Hour))
	seedActions(t, s, "t1", "Shipping", models.SourceAIGenerated, 2, now.Add(-time.Hour))
	// Manual actions never count.
	seedActions(t, s, "t1", "Onboarding", models.SourceManual, 5, now.Add(-time.Hour))
	// Old actions fall outside the window.
	seedActions(t, s, "t1", "Latency", models.SourceSurveyFeedback, 4, now.Add(-48*time.Hour))

	svc := newAlertService(s, now)
	raised, err := svc.CheckRepeatedComplaints(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CheckRepeatedComplaints: %v", err)
	}
	if len(raised) != 1 {
		t.Fatalf("raised %d alerts, want 1", len(raised))
	}
	a := raised[0]
	if a.Category != "Billing" || a.Type != "repeated_complaint" || a.Severity != "warning" {
		t.Fatalf("alert = %+v", a)
	}
	if a.Count != 3 || a.Threshold != 3 || a.Period != "24h" {
		t.Fatalf("alert = %+v", a)
	}
}

func TestRepeatedComplaintsCriticalSeverity(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	seedActions(t, s, "t1", "Billing", models.SourceSurveyFeedback, 6, now.Add(-time.Hour))

	svc := newAlertService(s, now)
	raised, err := svc.CheckRepeatedComplaints(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CheckRepeatedComplaints: %v", err)
	}
	if len(raised) != 1 || raised[0].Severity != "critical" {
		t.Fatalf("raised = %+v, want critical at 2x threshold", raised)
	}
}

func TestRepeatedComplaintsDedupesWithinWindow(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	seedActions(t, s, "t1", "Billing", models.SourceSurveyFeedback, 3, now.Add(-time.Hour))

	svc := newAlertService(s, now)
	if raised, _ := svc.CheckRepeatedComplaints(context.Background(), "t1"); len(raised) != 1 {
		t.Fatalf("first check raised %d", len(raised))
	}
	if raised, _ := svc.CheckRepeatedComplaints(context.Background(), "t1"); len(raised) != 0 {
		t.Fatalf("second check raised %d, want deduped 0", len(raised))
	}
}

func TestRepeatedComplaintsTenantScoped(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	seedActions(t, s, "t2", "Billing", models.SourceSurveyFeedback, 5, now.Add(-time.Hour))

	svc := newAlertService(s, now)
	raised, err := svc.CheckRepeatedComplaints(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CheckRepeatedComplaints: %v", err)
	}
	if len(raised) != 0 {
		t.Fatalf("alerts leaked across tenants: %d", len(raised))
	}
}
