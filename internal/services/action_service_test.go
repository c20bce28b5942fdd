package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/notify"
	"github.com/cadencehq/cadence/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingSink) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) ofType(typ string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newActionService(s *store.MemoryStore, sink notify.Sink, at time.Time) *ActionService {
	svc := NewActionService(s, sink, config.Default().SLA)
	svc.now = func() time.Time { return at }
	seq := 0
	svc.idGenerator = func() string {
		seq++
		return "action-" + string(rune('0'+seq))
	}
	return svc
}

func TestCreateFromCandidateDueDates(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	cases := map[string]time.Duration{
		models.PriorityHigh:     4 * time.Hour,
		models.PriorityMedium:   24 * time.Hour,
		models.PriorityLow:      72 * time.Hour,
		models.PriorityLongTerm: 720 * time.Hour,
	}
	for priority, offset := range cases {
		s := store.NewMemoryStore()
		svc := newActionService(s, nil, base)
		action, err := svc.CreateFromCandidate(context.Background(), "t1",
			&ActionCandidate{Title: "x", Priority: priority, Category: "c"}, nil, nil)
		if err != nil {
			t.Fatalf("CreateFromCandidate(%s): %v", priority, err)
		}
		if !action.DueDate.Equal(base.Add(offset)) {
			t.Errorf("%s due = %v, want %v", priority, action.DueDate, base.Add(offset))
		}
		if !action.SLA.TargetResolutionTime.Equal(action.DueDate) {
			t.Errorf("%s sla target != due date", priority)
		}
	}
}

func TestCreateHighPriorityNotifies(t *testing.T) {
	sink := &recordingSink{}
	s := store.NewMemoryStore()
	svc := newActionService(s, sink, time.Now())

	if _, err := svc.CreateFromCandidate(context.Background(), "t1",
		&ActionCandidate{Title: "urgent", Priority: models.PriorityHigh, Category: "c"}, nil, nil); err != nil {
		t.Fatalf("CreateFromCandidate: %v", err)
	}
	if _, err := svc.CreateFromCandidate(context.Background(), "t1",
		&ActionCandidate{Title: "calm", Priority: models.PriorityLow, Category: "c"}, nil, nil); err != nil {
		t.Fatalf("CreateFromCandidate: %v", err)
	}
	if got := len(sink.ofType(notify.EventActionAssigned)); got != 1 {
		t.Fatalf("assigned notifications = %d, want 1 (high only)", got)
	}
}

func TestCreateAppliesAssignmentDecision(t *testing.T) {
	s := store.NewMemoryStore()
	svc := newActionService(s, nil, time.Now())
	decision := &AssignmentDecision{Matched: true, RuleID: "rule-1", AssignedTo: "user-a", PriorityOverride: models.PriorityHigh}

	action, err := svc.CreateFromCandidate(context.Background(), "t1",
		&ActionCandidate{Title: "x", Priority: models.PriorityLow, Category: "c"}, nil, decision)
	if err != nil {
		t.Fatalf("CreateFromCandidate: %v", err)
	}
	if action.Priority != models.PriorityHigh {
		t.Fatalf("priority override ignored: %q", action.Priority)
	}
	if !action.AutoAssigned || action.AssignedTo != "user-a" {
		t.Fatalf("assignment not applied: %+v", action)
	}
	if len(action.AssignmentHistory) != 1 || !action.AssignmentHistory[0].Auto {
		t.Fatalf("history = %+v", action.AssignmentHistory)
	}
}

// SLA breach escalation: low -> medium -> high, then stays at high.
func TestEscalationLadder(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	svc := newActionService(s, &recordingSink{}, now)

	action, err := svc.CreateFromCandidate(context.Background(), "t1",
		&ActionCandidate{Title: "x", Priority: models.PriorityLow, Category: "c"}, nil, nil)
	if err != nil {
		t.Fatalf("CreateFromCandidate: %v", err)
	}

	// Past the low due date (72h).
	svc.now = func() time.Time { return now.Add(73 * time.Hour) }
	if n, err := svc.EscalateBreached(context.Background()); err != nil || n != 1 {
		t.Fatalf("first sweep: n=%d err=%v", n, err)
	}
	got, _ := s.GetAction("t1", action.ID)
	if got.Priority != models.PriorityMedium {
		t.Fatalf("priority after first sweep = %q, want medium", got.Priority)
	}
	if !hasTag(got.Tags, "escalated") {
		t.Fatal("escalated tag missing")
	}
	if len(got.AssignmentHistory) == 0 || got.AssignmentHistory[len(got.AssignmentHistory)-1].Note == "" {
		t.Fatal("escalation history note missing")
	}

	// Not yet past the new medium due date; nothing to do.
	svc.now = func() time.Time { return now.Add(74 * time.Hour) }
	if n, _ := svc.EscalateBreached(context.Background()); n != 0 {
		t.Fatalf("sweep before new breach escalated %d actions", n)
	}

	// Past the medium due date (set at 73h + 24h).
	svc.now = func() time.Time { return now.Add(98 * time.Hour) }
	if n, err := svc.EscalateBreached(context.Background()); err != nil || n != 1 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
	got, _ = s.GetAction("t1", action.ID)
	if got.Priority != models.PriorityHigh {
		t.Fatalf("priority after second sweep = %q, want high", got.Priority)
	}

	// High does not escalate further.
	svc.now = func() time.Time { return now.Add(10000 * time.Hour) }
	if n, _ := svc.EscalateBreached(context.Background()); n != 0 {
		t.Fatalf("third sweep escalated %d actions beyond high", n)
	}
	got, _ = s.GetAction("t1", action.ID)
	if got.Priority != models.PriorityHigh {
		t.Fatalf("priority = %q after third sweep", got.Priority)
	}
	if !got.SLA.IsBreached {
		t.Fatal("breach not recorded on high-priority action")
	}
}

func TestEscalationToHighNotifies(t *testing.T) {
	sink := &recordingSink{}
	s := store.NewMemoryStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	svc := newActionService(s, sink, now)

	if _, err := svc.CreateFromCandidate(context.Background(), "t1",
		&ActionCandidate{Title: "x", Priority: models.PriorityMedium, Category: "c"}, nil, nil); err != nil {
		t.Fatalf("CreateFromCandidate: %v", err)
	}
	svc.now = func() time.Time { return now.Add(25 * time.Hour) }
	if _, err := svc.EscalateBreached(context.Background()); err != nil {
		t.Fatalf("EscalateBreached: %v", err)
	}
	if got := len(sink.ofType(notify.EventActionEscalated)); got != 1 {
		t.Fatalf("escalation notifications = %d, want 1", got)
	}
}

func TestResolvedActionsAreImmutable(t *testing.T) {
	s := store.NewMemoryStore()
	svc := newActionService(s, nil, time.Now())
	action, err := svc.CreateFromCandidate(context.Background(), "t1",
		&ActionCandidate{Title: "x", Priority: models.PriorityLow, Category: "c"}, nil, nil)
	if err != nil {
		t.Fatalf("CreateFromCandidate: %v", err)
	}

	resolved := models.ActionResolved
	updated, err := svc.Update("t1", action.ID, "user-9", ActionUpdate{Status: &resolved})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if updated.CompletedAt == nil || updated.CompletedBy != "user-9" {
		t.Fatalf("completion stamps missing: %+v", updated)
	}

	open := models.ActionOpen
	if _, err := svc.Update("t1", action.ID, "user-9", ActionUpdate{Status: &open}); err == nil {
		t.Fatal("resolved -> open transition allowed")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorConflict {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestReassignRequiresTenantMembership(t *testing.T) {
	s := store.NewMemoryStore()
	if err := s.InsertUser(&models.User{ID: "user-a", TenantID: "t1", Email: "a@x.com"}); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	if err := s.InsertUser(&models.User{ID: "user-z", TenantID: "t2", Email: "z@x.com"}); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	svc := newActionService(s, nil, time.Now())
	action, err := svc.CreateFromCandidate(context.Background(), "t1",
		&ActionCandidate{Title: "x", Priority: models.PriorityLow, Category: "c"}, nil,
		&AssignmentDecision{Matched: true, RuleID: "rule-1", AssignedTo: "user-a"})
	if err != nil {
		t.Fatalf("CreateFromCandidate: %v", err)
	}

	// Member of another tenant is rejected.
	if _, err := svc.Reassign("t1", action.ID, "user-z", "", "admin-1"); err == nil {
		t.Fatal("cross-tenant reassignment allowed")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorForbidden {
		t.Fatalf("error = %v, want forbidden", err)
	}

	got, err := svc.Reassign("t1", action.ID, "user-a", "support", "admin-1")
	if err != nil {
		t.Fatalf("Reassign: %v", err)
	}
	if got.AutoAssigned {
		t.Fatal("manual reassignment left autoAssigned=true")
	}
	last := got.AssignmentHistory[len(got.AssignmentHistory)-1]
	if last.Auto || last.By != "admin-1" || last.To != "user-a" {
		t.Fatalf("history entry = %+v", last)
	}
}

func TestSoftDeleteHidesAction(t *testing.T) {
	s := store.NewMemoryStore()
	svc := newActionService(s, nil, time.Now())
	action, err := svc.CreateFromCandidate(context.Background(), "t1",
		&ActionCandidate{Title: "x", Priority: models.PriorityLow, Category: "c"}, nil, nil)
	if err != nil {
		t.Fatalf("CreateFromCandidate: %v", err)
	}
	if err := svc.SoftDelete("t1", action.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if _, err := svc.Get("t1", action.ID); err == nil {
		t.Fatal("deleted action still visible")
	}
	actions, err := svc.List("t1", store.ActionFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("deleted action listed: %d", len(actions))
	}
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}
