package services

import (
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

func newSegmentService(s *store.MemoryStore, at time.Time) *SegmentService {
	svc := NewSegmentService(s)
	svc.now = func() time.Time { return at }
	return svc
}

func TestCompileRejectsUnknownKeys(t *testing.T) {
	for _, filters := range []map[string]any{
		{"$where": "this.x == 1"},
		{"email": map[string]any{"$regex": ".*"}},
		{"status": "active", "dropTables": true},
	} {
		if _, err := CompileSegmentFilters(filters, time.Now()); err == nil {
			t.Errorf("filters %v compiled, want rejection", filters)
		} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalid {
			t.Errorf("error = %v, want invalid", err)
		}
	}
}

func TestCompileRejectsUnknownKeysInsideComposite(t *testing.T) {
	filters := map[string]any{
		"$or": []any{
			map[string]any{"status": "active"},
			map[string]any{"$where": "1"},
		},
	}
	if _, err := CompileSegmentFilters(filters, time.Now()); err == nil {
		t.Fatal("unknown key inside $or compiled")
	}
}

// Detractor + 30 days inactive matches exactly the intended contacts.
func TestSegmentDetractorInactive(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)

	contacts := []*models.Contact{
		{ID: "match", TenantID: "t1", Email: "a@x.com", LastActivity: &old,
			SurveyStats: models.ContactSurveyStats{NPSCategory: models.NPSDetractor}, CreatedAt: now},
		{ID: "active-detractor", TenantID: "t1", Email: "b@x.com", LastActivity: &recent,
			SurveyStats: models.ContactSurveyStats{NPSCategory: models.NPSDetractor}, CreatedAt: now},
		{ID: "inactive-promoter", TenantID: "t1", Email: "c@x.com", LastActivity: &old,
			SurveyStats: models.ContactSurveyStats{NPSCategory: models.NPSPromoter}, CreatedAt: now},
	}
	for _, c := range contacts {
		if err := s.InsertContact(c); err != nil {
			t.Fatalf("InsertContact: %v", err)
		}
	}

	svc := newSegmentService(s, now)
	got, err := svc.Preview("t1", map[string]any{
		"npsCategory":  "detractor",
		"inactiveDays": float64(30),
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(got) != 1 || got[0].ID != "match" {
		t.Fatalf("preview matched %v", ids(got))
	}
}

func TestCompileOrMergesUnderAnd(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now()
	contacts := []*models.Contact{
		{ID: "c1", TenantID: "t1", Email: "a@x.com", Status: "active", City: "Berlin", CreatedAt: now},
		{ID: "c2", TenantID: "t1", Email: "b@x.com", Status: "active", Country: "France", CreatedAt: now},
		{ID: "c3", TenantID: "t1", Email: "c@x.com", Status: "inactive", City: "Berlin", CreatedAt: now},
		{ID: "c4", TenantID: "t1", Email: "d@x.com", Status: "active", City: "Oslo", CreatedAt: now},
	}
	for _, c := range contacts {
		if err := s.InsertContact(c); err != nil {
			t.Fatalf("InsertContact: %v", err)
		}
	}

	svc := newSegmentService(s, now)
	// status AND (city=Berlin OR country=France)
	got, err := svc.Preview("t1", map[string]any{
		"status": "active",
		"$or": []any{
			map[string]any{"city": "Berlin"},
			map[string]any{"country": "France"},
		},
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matched %v, want c1 and c2", ids(got))
	}
}

func TestCompileBehaviorCounts(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now()
	avgHigh := 9.5
	avgLow := 2.0
	contacts := []*models.Contact{
		{ID: "c1", TenantID: "t1", Email: "a@x.com",
			SurveyStats: models.ContactSurveyStats{InvitedCount: 5, RespondedCount: 4, AvgNPSScore: &avgHigh}, CreatedAt: now},
		{ID: "c2", TenantID: "t1", Email: "b@x.com",
			SurveyStats: models.ContactSurveyStats{InvitedCount: 5, RespondedCount: 1, AvgNPSScore: &avgLow}, CreatedAt: now},
		{ID: "c3", TenantID: "t1", Email: "c@x.com", CreatedAt: now},
	}
	for _, c := range contacts {
		if err := s.InsertContact(c); err != nil {
			t.Fatalf("InsertContact: %v", err)
		}
	}

	svc := newSegmentService(s, now)
	got, err := svc.Preview("t1", map[string]any{
		"minResponded": float64(2),
		"minAvgNps":    float64(8),
	})
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("matched %v, want c1", ids(got))
	}
}

func TestSystemSegmentsAreImmutable(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Now()
	if err := s.InsertSegment(&models.AudienceSegment{
		ID: "seg-1", TenantID: "t1", Name: "All detractors",
		Filters: map[string]any{"npsCategory": "detractor"}, IsSystem: true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}

	svc := newSegmentService(s, now)
	if _, err := svc.Update("t1", "seg-1", "renamed", map[string]any{"status": "active"}); err == nil {
		t.Fatal("system segment update allowed")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorForbidden {
		t.Fatalf("error = %v, want forbidden", err)
	}
}

func TestSegmentCreateValidatesFilters(t *testing.T) {
	svc := newSegmentService(store.NewMemoryStore(), time.Now())
	if _, err := svc.Create("t1", "bad", map[string]any{"$where": "1"}); err == nil {
		t.Fatal("segment with unknown filter key created")
	}
	seg, err := svc.Create("t1", "actives", map[string]any{"status": "active"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if seg.ID == "" || seg.TenantID != "t1" {
		t.Fatalf("segment = %+v", seg)
	}
}

func ids(contacts []*models.Contact) []string {
	out := make([]string, len(contacts))
	for i, c := range contacts {
		out[i] = c.ID
	}
	return out
}
