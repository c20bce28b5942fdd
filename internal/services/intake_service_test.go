package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

type stubQueue struct {
	mu       sync.Mutex
	payloads []ProcessJobPayload
	err      error
}

func (q *stubQueue) Enqueue(_ context.Context, kind string, payload any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	if p, ok := payload.(ProcessJobPayload); ok {
		q.payloads = append(q.payloads, p)
	}
	return "job-1", nil
}

func activeSurvey(t *testing.T, s *store.MemoryStore) *models.Survey {
	t.Helper()
	survey := &models.Survey{
		ID: "sv1", TenantID: "t1", Title: "CX", Status: models.SurveyActive,
		Questions: []models.Question{
			{ID: "q1", Type: models.QuestionNPS, Text: "How likely..."},
			{ID: "q2", Type: models.QuestionText, Text: "Anything else?"},
		},
		CreatedAt: time.Now(),
	}
	if err := s.InsertSurvey(survey); err != nil {
		t.Fatalf("InsertSurvey: %v", err)
	}
	return survey
}

func newIntake(s *store.MemoryStore, q Enqueuer, at time.Time) *IntakeService {
	svc := NewIntakeService(s, NewStatsService(s), q, nil)
	svc.now = func() time.Time { return at }
	return svc
}

func validSubmit() *SubmitRequest {
	return &SubmitRequest{Answers: []models.Answer{{QuestionID: "q1", Answer: float64(3)}}}
}

func TestCreateInviteRequiresOneIdentifier(t *testing.T) {
	s := store.NewMemoryStore()
	activeSurvey(t, s)
	svc := newIntake(s, &stubQueue{}, time.Now())

	if _, _, err := svc.CreateInvite("t1", "sv1", "", nil, time.Time{}); err == nil {
		t.Fatal("invite without identifier created")
	}
	if _, _, err := svc.CreateInvite("t1", "sv1", "user-1", &models.InviteContact{Email: "jo@x.com"}, time.Time{}); err == nil {
		t.Fatal("invite with both identifiers created")
	}
}

func TestInviteTokenNeverStoredRaw(t *testing.T) {
	s := store.NewMemoryStore()
	activeSurvey(t, s)
	svc := newIntake(s, &stubQueue{}, time.Now())

	_, token, err := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "jo@x.com"}, time.Time{})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("token length = %d, want 64 hex chars", len(token))
	}
	if _, err := s.GetInviteByDigest(token); err == nil {
		t.Fatal("raw token resolves as digest; token stored unhashed")
	}
	if _, err := s.GetInviteByDigest(tokenDigest(token)); err != nil {
		t.Fatalf("digest lookup failed: %v", err)
	}
}

func TestVerifyFlipsInviteToOpened(t *testing.T) {
	s := store.NewMemoryStore()
	activeSurvey(t, s)
	svc := newIntake(s, &stubQueue{}, time.Now())
	inv, token, err := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "jo@x.com"}, time.Time{})
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}

	sanitized, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sanitized.TenantID != "" || len(sanitized.Questions) != 2 {
		t.Fatalf("sanitized survey = %+v", sanitized)
	}
	got, _ := s.GetInviteByDigest(tokenDigest(token))
	if got.Status != models.InviteOpened || got.AttemptCount != 1 {
		t.Fatalf("invite after verify = status %q attempts %d", got.Status, got.AttemptCount)
	}
	_ = inv
}

func TestVerifyErrors(t *testing.T) {
	s := store.NewMemoryStore()
	survey := activeSurvey(t, s)
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	svc := newIntake(s, &stubQueue{}, now)

	if _, err := svc.Verify("deadbeef"); err == nil {
		t.Fatal("unknown token verified")
	} else if se, _ := AsServiceError(err); se.Code != ErrorNotFound {
		t.Fatalf("unknown token error = %v", err)
	}

	// Responded invite.
	_, token, _ := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "a@x.com"}, time.Time{})
	if _, err := svc.SubmitInvited(context.Background(), token, validSubmit(), ClientInfo{}); err != nil {
		t.Fatalf("SubmitInvited: %v", err)
	}
	if _, err := svc.Verify(token); err == nil {
		t.Fatal("responded invite verified")
	} else if se, _ := AsServiceError(err); se.Code != ErrorGone {
		t.Fatalf("responded error = %v", err)
	}

	// Expired invite.
	_, token2, _ := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "b@x.com"}, now.Add(time.Hour))
	svc.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := svc.Verify(token2); err == nil {
		t.Fatal("expired invite verified")
	} else if se, _ := AsServiceError(err); se.Code != ErrorGone {
		t.Fatalf("expired error = %v", err)
	}
	svc.now = func() time.Time { return now }

	// Inactive survey.
	survey.Status = models.SurveyInactive
	_ = s.InsertSurvey(survey)
	_, token3, _ := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "c@x.com"}, time.Time{})
	if _, err := svc.Verify(token3); err == nil {
		t.Fatal("inactive survey verified")
	} else if se, _ := AsServiceError(err); se.Code != ErrorForbidden {
		t.Fatalf("inactive error = %v", err)
	}
}

func TestVerifyAttemptLimit(t *testing.T) {
	s := store.NewMemoryStore()
	activeSurvey(t, s)
	svc := newIntake(s, &stubQueue{}, time.Now())
	_, token, _ := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "a@x.com"}, time.Time{})

	for i := 0; i < defaultInviteMaxAttempts; i++ {
		if _, err := svc.Verify(token); err != nil {
			t.Fatalf("Verify %d: %v", i, err)
		}
	}
	if _, err := svc.Verify(token); err == nil {
		t.Fatal("verify beyond attempt limit succeeded")
	} else if se, _ := AsServiceError(err); se.Code != ErrorGone {
		t.Fatalf("attempt limit error = %v", err)
	}
}

func TestSubmitInvitedHappyPath(t *testing.T) {
	s := store.NewMemoryStore()
	activeSurvey(t, s)
	if err := s.InsertContact(&models.Contact{ID: "c1", TenantID: "t1", Email: "jo@x.com", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	q := &stubQueue{}
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	svc := newIntake(s, q, now)
	inv, token, _ := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "jo@x.com"}, time.Time{})

	req := &SubmitRequest{
		Answers: []models.Answer{
			{QuestionID: "q1", Answer: float64(3)},
			{QuestionID: "q2", Answer: "Please call me back"},
		},
	}
	resp, err := svc.SubmitInvited(context.Background(), token, req, ClientInfo{UserAgent: "Mozilla/5.0 (iPhone) Safari", IP: "203.0.113.9"})
	if err != nil {
		t.Fatalf("SubmitInvited: %v", err)
	}
	if resp.InviteID != inv.ID || resp.ContactID != "c1" || resp.Email != "jo@x.com" || resp.IsAnonymous {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Metadata.Device != "mobile" {
		t.Fatalf("metadata not extracted: %+v", resp.Metadata)
	}
	got, _ := s.GetInviteByDigest(tokenDigest(token))
	if got.Status != models.InviteResponded || got.RespondedAt == nil {
		t.Fatalf("invite not flipped: %+v", got)
	}
	if len(q.payloads) != 1 || q.payloads[0].ResponseID != resp.ID || q.payloads[0].TenantID != "t1" {
		t.Fatalf("enqueued payloads = %+v", q.payloads)
	}
}

func TestSubmitInvitedTwiceConflicts(t *testing.T) {
	s := store.NewMemoryStore()
	activeSurvey(t, s)
	svc := newIntake(s, &stubQueue{}, time.Now())
	_, token, _ := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "a@x.com"}, time.Time{})

	if _, err := svc.SubmitInvited(context.Background(), token, validSubmit(), ClientInfo{}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := svc.SubmitInvited(context.Background(), token, validSubmit(), ClientInfo{}); err == nil {
		t.Fatal("second submit accepted")
	} else if se, _ := AsServiceError(err); se.Code != ErrorConflict {
		t.Fatalf("second submit error = %v, want conflict", err)
	}

	// Verify answers gone for the same terminal invite.
	if _, err := svc.Verify(token); err == nil {
		t.Fatal("responded invite verified")
	} else if se, _ := AsServiceError(err); se.Code != ErrorGone {
		t.Fatalf("verify error = %v, want gone", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	s := store.NewMemoryStore()
	activeSurvey(t, s)
	svc := newIntake(s, &stubQueue{}, time.Now())
	_, token, _ := svc.CreateInvite("t1", "sv1", "", &models.InviteContact{Email: "a@x.com"}, time.Time{})

	badRating := 7
	badScore := 11
	cases := []*SubmitRequest{
		{Answers: nil},
		{Answers: []models.Answer{{QuestionID: "ghost", Answer: "x"}}},
		{Answers: []models.Answer{{QuestionID: "q1", Answer: float64(5)}}, Rating: &badRating},
		{Answers: []models.Answer{{QuestionID: "q1", Answer: float64(5)}}, Score: &badScore},
	}
	for i, req := range cases {
		if _, err := svc.SubmitInvited(context.Background(), token, req, ClientInfo{}); err == nil {
			t.Errorf("case %d accepted", i)
		} else if se, _ := AsServiceError(err); se.Code != ErrorInvalid {
			t.Errorf("case %d error = %v, want invalid", i, err)
		}
	}

	// Each rejected submission spends one attempt.
	got, _ := s.GetInviteByDigest(tokenDigest(token))
	if got.AttemptCount != len(cases) {
		t.Fatalf("attemptCount = %d, want %d", got.AttemptCount, len(cases))
	}
}

func TestSubmitAnonymous(t *testing.T) {
	s := store.NewMemoryStore()
	activeSurvey(t, s)
	if err := s.InsertContact(&models.Contact{ID: "c1", TenantID: "t1", Email: "jo@x.com", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("InsertContact: %v", err)
	}
	q := &stubQueue{}
	svc := newIntake(s, q, time.Now())

	resp, err := svc.SubmitAnonymous(context.Background(), "sv1",
		&SubmitRequest{Answers: []models.Answer{{QuestionID: "q1", Answer: float64(9)}}, Email: "jo@x.com"}, ClientInfo{})
	if err != nil {
		t.Fatalf("SubmitAnonymous: %v", err)
	}
	if !resp.IsAnonymous || resp.InviteID != "" || resp.ContactID != "c1" {
		t.Fatalf("response = %+v", resp)
	}
	if len(q.payloads) != 1 {
		t.Fatalf("enqueued = %d", len(q.payloads))
	}
}

func TestSubmitAnonymousInactiveSurvey(t *testing.T) {
	s := store.NewMemoryStore()
	survey := activeSurvey(t, s)
	survey.Status = models.SurveyClosed
	_ = s.InsertSurvey(survey)

	svc := newIntake(s, &stubQueue{}, time.Now())
	if _, err := svc.SubmitAnonymous(context.Background(), "sv1", validSubmit(), ClientInfo{}); err == nil {
		t.Fatal("submission to closed survey accepted")
	} else if se, _ := AsServiceError(err); se.Code != ErrorNotFound {
		t.Fatalf("error = %v, want not_found", err)
	}
}

func TestSubmitOutsideScheduleWindow(t *testing.T) {
	s := store.NewMemoryStore()
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)
	survey := &models.Survey{
		ID: "sv2", TenantID: "t1", Title: "Scheduled", Status: models.SurveyActive,
		Questions: []models.Question{{ID: "q1", Type: models.QuestionNPS}},
		Schedule:  models.SurveySchedule{StartDate: &start},
		CreatedAt: now,
	}
	if err := s.InsertSurvey(survey); err != nil {
		t.Fatalf("InsertSurvey: %v", err)
	}
	svc := newIntake(s, &stubQueue{}, now)
	if _, err := svc.SubmitAnonymous(context.Background(), "sv2", validSubmit(), ClientInfo{}); err == nil {
		t.Fatal("submission before schedule window accepted")
	}
}
