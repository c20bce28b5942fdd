package services

import (
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

func seedRule(t *testing.T, s *store.MemoryStore, rule *models.AssignmentRule) {
	t.Helper()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	if err := s.InsertAssignmentRule(rule); err != nil {
		t.Fatalf("InsertAssignmentRule: %v", err)
	}
}

func complaintCandidate() *ActionCandidate {
	return &ActionCandidate{
		Title: "Resolve customer complaint", Priority: models.PriorityMedium,
		Category: "Customer Complaint", RuleName: "complaint",
	}
}

func TestResolveSingleOwner(t *testing.T) {
	s := store.NewMemoryStore()
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-1", TenantID: "t1", Priority: 1, IsActive: true, LastAssignedIndex: -1,
		Conditions: []models.RuleCondition{{Field: "category", Operator: "eq", Value: "Customer Complaint"}},
		Assignment: models.RuleAssignment{Mode: models.ModeSingleOwner, TargetUser: "user-a"},
	})
	svc := NewAssignmentService(s)

	d, err := svc.Resolve("t1", complaintCandidate(), &models.Response{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !d.Matched || d.AssignedTo != "user-a" {
		t.Fatalf("decision = %+v", d)
	}
}

// Round-robin fairness: 9 sequential assignments over 3 members give each
// member exactly 3.
func TestResolveRoundRobinFairness(t *testing.T) {
	s := store.NewMemoryStore()
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-1", TenantID: "t1", Priority: 1, IsActive: true, LastAssignedIndex: -1,
		Assignment: models.RuleAssignment{Mode: models.ModeRoundRobin, TeamMembers: []string{"a", "b", "c"}},
	})
	svc := NewAssignmentService(s)

	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		d, err := svc.Resolve("t1", complaintCandidate(), &models.Response{})
		if err != nil {
			t.Fatalf("Resolve %d: %v", i, err)
		}
		counts[d.AssignedTo]++
	}
	for _, member := range []string{"a", "b", "c"} {
		if counts[member] != 3 {
			t.Fatalf("member %s assigned %d times, want 3 (counts %v)", member, counts[member], counts)
		}
	}
}

// Least-load must never pick a member whose open count strictly exceeds
// another member's.
func TestResolveLeastLoad(t *testing.T) {
	s := store.NewMemoryStore()
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-1", TenantID: "t1", Priority: 1, IsActive: true,
		Assignment: models.RuleAssignment{Mode: models.ModeLeastLoad, TeamMembers: []string{"a", "b"}},
	})
	for i := 0; i < 2; i++ {
		if err := s.InsertAction(&models.Action{
			ID: "a" + string(rune('0'+i)), TenantID: "t1", Title: "x", Priority: models.PriorityLow,
			Status: models.ActionOpen, Source: models.SourceManual, AssignedTo: "a",
			DueDate: time.Now(), CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("InsertAction: %v", err)
		}
	}
	svc := NewAssignmentService(s)

	d, err := svc.Resolve("t1", complaintCandidate(), &models.Response{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.AssignedTo != "b" {
		t.Fatalf("assigned %q, want least-loaded b", d.AssignedTo)
	}
}

func TestResolveLeastLoadTieBreaksByOrder(t *testing.T) {
	s := store.NewMemoryStore()
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-1", TenantID: "t1", Priority: 1, IsActive: true,
		Assignment: models.RuleAssignment{Mode: models.ModeLeastLoad, TeamMembers: []string{"b", "a"}},
	})
	svc := NewAssignmentService(s)
	d, err := svc.Resolve("t1", complaintCandidate(), &models.Response{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.AssignedTo != "b" {
		t.Fatalf("assigned %q, want first member on tie", d.AssignedTo)
	}
}

func TestResolvePriorityOverride(t *testing.T) {
	s := store.NewMemoryStore()
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-1", TenantID: "t1", Priority: 1, IsActive: true,
		Assignment:       models.RuleAssignment{Mode: models.ModeSingleOwner, TargetUser: "user-a"},
		PriorityOverride: models.PriorityHigh,
	})
	svc := NewAssignmentService(s)
	d, err := svc.Resolve("t1", complaintCandidate(), &models.Response{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.PriorityOverride != models.PriorityHigh {
		t.Fatalf("override = %q", d.PriorityOverride)
	}
}

func TestResolveConditionsReadPayloadThenMetadata(t *testing.T) {
	s := store.NewMemoryStore()
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-1", TenantID: "t1", Priority: 1, IsActive: true,
		Conditions: []models.RuleCondition{
			{Field: "category", Operator: "contains", Value: "complaint"},
			{Field: "device", Operator: "eq", Value: "mobile"},
		},
		Assignment: models.RuleAssignment{Mode: models.ModeSingleOwner, TargetUser: "mobile-team"},
	})
	svc := NewAssignmentService(s)

	resp := &models.Response{Metadata: models.ResponseMetadata{Device: "mobile"}}
	d, err := svc.Resolve("t1", complaintCandidate(), resp)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.AssignedTo != "mobile-team" {
		t.Fatalf("decision = %+v", d)
	}

	desktop := &models.Response{Metadata: models.ResponseMetadata{Device: "desktop"}}
	d, err = svc.Resolve("t1", complaintCandidate(), desktop)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Matched {
		t.Fatalf("short-circuit AND failed: %+v", d)
	}
}

func TestResolveInvalidModeSkipsToNextRule(t *testing.T) {
	s := store.NewMemoryStore()
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-bad", TenantID: "t1", Priority: 9, IsActive: true,
		Assignment: models.RuleAssignment{Mode: "weighted_random", TargetUser: "nobody"},
	})
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-ok", TenantID: "t1", Priority: 1, IsActive: true,
		Assignment: models.RuleAssignment{Mode: models.ModeSingleOwner, TargetUser: "user-a"},
	})
	svc := NewAssignmentService(s)
	d, err := svc.Resolve("t1", complaintCandidate(), &models.Response{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.AssignedTo != "user-a" || d.RuleID != "rule-ok" {
		t.Fatalf("decision = %+v, want fallthrough to rule-ok", d)
	}
}

func TestResolveNoMatchLeavesUnassigned(t *testing.T) {
	s := store.NewMemoryStore()
	seedRule(t, s, &models.AssignmentRule{
		ID: "rule-1", TenantID: "t1", Priority: 1, IsActive: true,
		Conditions: []models.RuleCondition{{Field: "category", Operator: "eq", Value: "Billing"}},
		Assignment: models.RuleAssignment{Mode: models.ModeSingleOwner, TargetUser: "user-a"},
	})
	svc := NewAssignmentService(s)
	d, err := svc.Resolve("t1", complaintCandidate(), &models.Response{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Matched || d.AssignedTo != "" {
		t.Fatalf("decision = %+v, want unassigned", d)
	}
}
