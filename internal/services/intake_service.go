package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

// JobKindProcessResponse is the queue kind for post-response processing.
const JobKindProcessResponse = "process_response"

// ProcessJobPayload is the queue payload enqueued per accepted response.
type ProcessJobPayload struct {
	ResponseID string `json:"responseId"`
	SurveyID   string `json:"surveyId"`
	TenantID   string `json:"tenantId"`
}

// Enqueuer abstracts the job queue for the intake path.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) (string, error)
}

// IntakeStore is the slice of the store intake needs.
type IntakeStore interface {
	GetSurvey(id string) (*models.Survey, error)
	InsertInvite(inv *models.SurveyInvite) error
	GetInviteByDigest(digest string) (*models.SurveyInvite, error)
	MarkInviteOpened(id string, at time.Time) error
	MarkInviteResponded(id string, at time.Time) error
	IncrementInviteAttempts(id string) error
	InsertResponse(r *models.Response) error
	GetContactByEmail(tenantID, email string) (*models.Contact, error)
}

// IntakeService accepts response submissions: invited (by token), anonymous
// (by survey id), or authenticated. It persists the response, flips the
// invite, and enqueues the processing job, in that order. A retry after a
// partial failure cannot create a second response for an invite because the
// store enforces one response per invite.
type IntakeService struct {
	store IntakeStore
	stats *StatsService
	queue Enqueuer
	geo   GeoResolver

	now         func() time.Time
	idGenerator func() string
}

func NewIntakeService(s IntakeStore, stats *StatsService, queue Enqueuer, geo GeoResolver) *IntakeService {
	if geo == nil {
		geo = NewNoopGeoResolver()
	}
	return &IntakeService{
		store:       s,
		stats:       stats,
		queue:       queue,
		geo:         geo,
		now:         time.Now,
		idGenerator: uuid.NewString,
	}
}

// tokenDigest is what gets persisted; raw tokens never touch the store.
func tokenDigest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// newInviteToken returns an opaque base-16 token of 32 random bytes.
func newInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invite token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

const defaultInviteMaxAttempts = 10

// CreateInvite issues an invite for a survey and returns the raw token once.
// The invite event feeds the contact stats aggregator.
func (s *IntakeService) CreateInvite(tenantID, surveyID, userID string, contact *models.InviteContact, expiresAt time.Time) (*models.SurveyInvite, string, error) {
	if (userID == "") == (contact == nil) {
		return nil, "", NewInvalidError("exactly one of userId or contact must be set")
	}
	survey, err := s.store.GetSurvey(surveyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", NewNotFoundError("survey not found")
		}
		return nil, "", err
	}
	if survey.TenantID != tenantID {
		return nil, "", NewForbiddenError("survey belongs to another tenant")
	}

	token, err := newInviteToken()
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(30 * 24 * time.Hour)
	}
	inv := &models.SurveyInvite{
		ID:          s.idGenerator(),
		SurveyID:    surveyID,
		TenantID:    tenantID,
		UserID:      userID,
		Contact:     contact,
		TokenDigest: tokenDigest(token),
		Status:      models.InviteSent,
		ExpiresAt:   expiresAt,
		MaxAttempts: defaultInviteMaxAttempts,
		CreatedAt:   now,
	}
	if err := s.store.InsertInvite(inv); err != nil {
		return nil, "", err
	}
	if contact != nil && contact.Email != "" {
		if err := s.stats.OnSurveyInvite(tenantID, contact.Email, now); err != nil {
			logx.Error("intake.invite_stats_failed", err, map[string]any{"tenant": tenantID, "invite": inv.ID})
		}
	}
	return inv, token, nil
}

// errInviteResponded marks the terminal invite state. Callers map it: verify
// answers 410, a repeat submission answers 409.
var errInviteResponded = errors.New("invite already responded")

// loadInvite resolves a raw token and enforces the invite gate: unknown,
// already responded, expired, or attempt-exhausted invites are rejected.
func (s *IntakeService) loadInvite(token string) (*models.SurveyInvite, *models.Survey, error) {
	inv, err := s.store.GetInviteByDigest(tokenDigest(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, NewNotFoundError("invalid invite token")
		}
		return nil, nil, err
	}
	now := s.now().UTC()
	if inv.Status == models.InviteResponded {
		return nil, nil, errInviteResponded
	}
	if now.After(inv.ExpiresAt) {
		return nil, nil, NewGoneError("invite expired")
	}
	if inv.AttemptCount >= inv.MaxAttempts {
		return nil, nil, NewGoneError("invite attempt limit reached")
	}

	survey, err := s.store.GetSurvey(inv.SurveyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, NewNotFoundError("survey not found")
		}
		return nil, nil, err
	}
	if survey.Deleted || !surveyOpen(survey, now) {
		return nil, nil, NewForbiddenError("survey is not accepting responses")
	}
	return inv, survey, nil
}

func surveyOpen(survey *models.Survey, now time.Time) bool {
	if survey.Status != models.SurveyActive {
		return false
	}
	if sd := survey.Schedule.StartDate; sd != nil && now.Before(*sd) {
		return false
	}
	if ed := survey.Schedule.EndDate; ed != nil && !now.Before(*ed) {
		return false
	}
	return true
}

// Verify resolves a token for the respondent UI, counts the attempt, and
// flips a fresh invite to opened. Returns the survey stripped to what a
// respondent may see.
func (s *IntakeService) Verify(token string) (*models.Survey, error) {
	inv, survey, err := s.loadInvite(token)
	if err != nil {
		if errors.Is(err, errInviteResponded) {
			return nil, NewGoneError("survey already submitted")
		}
		return nil, err
	}
	if err := s.store.IncrementInviteAttempts(inv.ID); err != nil {
		return nil, err
	}
	if err := s.store.MarkInviteOpened(inv.ID, s.now().UTC()); err != nil {
		return nil, err
	}
	return sanitizeSurvey(survey), nil
}

// sanitizeSurvey drops everything a respondent has no business seeing.
func sanitizeSurvey(survey *models.Survey) *models.Survey {
	return &models.Survey{
		ID:        survey.ID,
		Title:     survey.Title,
		Status:    survey.Status,
		Questions: survey.Questions,
	}
}

// SubmitRequest is the submission payload shared by all entry paths.
type SubmitRequest struct {
	Answers        []models.Answer `json:"answers"`
	Review         string          `json:"review,omitempty"`
	Rating         *int            `json:"rating,omitempty"`
	Score          *int            `json:"score,omitempty"`
	IsAnonymous    bool            `json:"isAnonymous,omitempty"`
	Email          string          `json:"email,omitempty"`
	CompletionTime *int            `json:"completionTime,omitempty"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
}

// ClientInfo is derived from the HTTP layer, not the body.
type ClientInfo struct {
	UserAgent string
	IP        string
}

func validateSubmission(req *SubmitRequest, survey *models.Survey) error {
	if len(req.Answers) == 0 {
		return NewInvalidError("answers must be a non-empty list")
	}
	known := map[string]bool{}
	for _, q := range survey.Questions {
		known[q.ID] = true
	}
	for i, ans := range req.Answers {
		if !known[ans.QuestionID] {
			return NewInvalidError(fmt.Sprintf("answers[%d] references unknown question %q", i, ans.QuestionID))
		}
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return NewInvalidError("rating must be between 1 and 5")
	}
	if req.Score != nil && (*req.Score < 0 || *req.Score > 10) {
		return NewInvalidError("score must be between 0 and 10")
	}
	return nil
}

// SubmitInvited accepts a submission against an invite token.
func (s *IntakeService) SubmitInvited(ctx context.Context, token string, req *SubmitRequest, client ClientInfo) (*models.Response, error) {
	inv, survey, err := s.loadInvite(token)
	if err != nil {
		if errors.Is(err, errInviteResponded) {
			return nil, NewConflictError("survey already submitted")
		}
		return nil, err
	}
	if err := validateSubmission(req, survey); err != nil {
		// Failed submissions count against the invite's attempt budget.
		if ierr := s.store.IncrementInviteAttempts(inv.ID); ierr != nil {
			logx.Error("intake.attempt_count_failed", ierr, map[string]any{"invite": inv.ID})
		}
		return nil, err
	}

	email := req.Email
	if inv.Contact != nil && inv.Contact.Email != "" {
		email = inv.Contact.Email
	}
	contactID := ""
	if email != "" {
		if c, err := s.store.GetContactByEmail(inv.TenantID, email); err == nil {
			contactID = c.ID
		}
	}

	now := s.now().UTC()
	resp := s.buildResponse(survey, req, client, now)
	resp.InviteID = inv.ID
	resp.ContactID = contactID
	resp.Email = email
	resp.IsAnonymous = false

	if err := s.store.InsertResponse(resp); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, NewConflictError("survey already submitted")
		}
		return nil, err
	}
	if err := s.store.MarkInviteResponded(inv.ID, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, NewConflictError("survey already submitted")
		}
		// The response is persisted; the client retries with the same token
		// and the unique invite index keeps the retry idempotent.
		return nil, err
	}
	s.enqueueProcessing(ctx, resp)
	return resp, nil
}

// SubmitAnonymous accepts a submission against an active survey with no
// invite. An email, when volunteered, still links the response to a contact.
func (s *IntakeService) SubmitAnonymous(ctx context.Context, surveyID string, req *SubmitRequest, client ClientInfo) (*models.Response, error) {
	survey, err := s.store.GetSurvey(surveyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError("survey not found")
		}
		return nil, err
	}
	if survey.Deleted || !surveyOpen(survey, s.now().UTC()) {
		return nil, NewNotFoundError("survey is not accepting responses")
	}
	if err := validateSubmission(req, survey); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	resp := s.buildResponse(survey, req, client, now)
	resp.IsAnonymous = true
	resp.Email = req.Email
	if req.Email != "" {
		if c, err := s.store.GetContactByEmail(survey.TenantID, req.Email); err == nil {
			resp.ContactID = c.ID
		}
	}

	if err := s.store.InsertResponse(resp); err != nil {
		return nil, err
	}
	s.enqueueProcessing(ctx, resp)
	return resp, nil
}

func (s *IntakeService) buildResponse(survey *models.Survey, req *SubmitRequest, client ClientInfo, now time.Time) *models.Response {
	return &models.Response{
		ID:             s.idGenerator(),
		SurveyID:       survey.ID,
		TenantID:       survey.TenantID,
		Answers:        req.Answers,
		Review:         req.Review,
		Rating:         req.Rating,
		Score:          req.Score,
		IP:             client.IP,
		Metadata:       ExtractMetadata(client.UserAgent, client.IP, s.geo),
		CompletionTime: req.CompletionTime,
		StartedAt:      req.StartedAt,
		SubmittedAt:    now,
	}
}

func (s *IntakeService) enqueueProcessing(ctx context.Context, resp *models.Response) {
	payload := ProcessJobPayload{ResponseID: resp.ID, SurveyID: resp.SurveyID, TenantID: resp.TenantID}
	if _, err := s.queue.Enqueue(ctx, JobKindProcessResponse, payload); err != nil {
		// The response is already persisted; analysis stays pending until the
		// job is re-driven (cadctl or replay).
		logx.Error("intake.enqueue_failed", err, map[string]any{
			"tenant": resp.TenantID, "response": resp.ID,
		})
	}
}
