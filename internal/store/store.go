// Package store persists the pipeline's entities. Two implementations exist:
// an in-memory store used in tests and as a degraded fallback, and the
// sqlite-backed store used in production. Mutating operations that the
// pipeline depends on for correctness (round-robin counters, contact stats,
// analysis writes, job claims) are atomic in both.
package store

import (
	"errors"
	"time"

	"github.com/cadencehq/cadence/internal/models"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned on unique index violations (invite token
	// digest, one response per invite, contact email per tenant).
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict is returned when a conditional update finds the record in
	// a state that forbids the transition (invite already responded).
	ErrConflict = errors.New("store: conflict")
)

// ActionFilter narrows ListActions; zero values mean "any".
type ActionFilter struct {
	Status     string
	Priority   string
	AssignedTo string
}

type Store interface {
	// Surveys.
	InsertSurvey(s *models.Survey) error
	GetSurvey(id string) (*models.Survey, error)

	// Invites. Lookup is by token digest; MarkInviteResponded refuses the
	// responded->* transition and reports ErrConflict when already terminal.
	InsertInvite(inv *models.SurveyInvite) error
	GetInviteByDigest(digest string) (*models.SurveyInvite, error)
	MarkInviteOpened(id string, at time.Time) error
	MarkInviteResponded(id string, at time.Time) error
	IncrementInviteAttempts(id string) error

	// Responses. InsertResponse enforces at most one response per invite.
	// SetResponseAnalysis writes the analysis block only when none exists
	// yet and reports whether it wrote.
	InsertResponse(r *models.Response) error
	GetResponse(id string) (*models.Response, error)
	ListResponsesByIDs(tenantID string, ids []string) ([]*models.Response, error)
	ListResponsesByEmail(tenantID, email string) ([]*models.Response, error)
	SetResponseAnalysis(id string, a *models.Analysis) (bool, error)

	// Contacts. Email lookups are case-insensitive within a tenant. The
	// Apply* methods perform the stats update atomically with respect to
	// the contact record.
	InsertContact(c *models.Contact) error
	GetContact(tenantID, id string) (*models.Contact, error)
	GetContactByEmail(tenantID, email string) (*models.Contact, error)
	UpdateContactStats(tenantID, contactID string, stats models.ContactSurveyStats, lastActivity *time.Time) error
	ApplyContactInvite(tenantID, email string, date time.Time) error
	ApplyContactResponse(tenantID, email string, nps, rating *float64, date time.Time) error
	ListInvitesByEmail(tenantID, email string) ([]*models.SurveyInvite, error)
	QueryContacts(tenantID string, q *models.SegmentNode) ([]*models.Contact, error)

	// Assignment rules. NextRoundRobinIndex increments the rule counter
	// store-side and returns the new value.
	InsertAssignmentRule(r *models.AssignmentRule) error
	ListAssignmentRules(tenantID string) ([]*models.AssignmentRule, error)
	NextRoundRobinIndex(ruleID string) (int, error)
	CountOpenActions(tenantID, assignee string) (int, error)

	// Actions.
	InsertAction(a *models.Action) error
	GetAction(tenantID, id string) (*models.Action, error)
	UpdateAction(a *models.Action) error
	ListActions(tenantID string, f ActionFilter) ([]*models.Action, error)
	ListBreachedActions(now time.Time) ([]*models.Action, error)
	CountActionsByCategory(tenantID string, since time.Time, sources []string) (map[string]int, error)

	// Recognitions and alerts.
	InsertRecognition(r *models.Recognition) error
	InsertAlert(a *models.Alert) error
	AlertExistsSince(tenantID, category string, since time.Time) (bool, error)
	ListAlerts(tenantID string, limit int) ([]*models.Alert, error)

	// Segments.
	InsertSegment(s *models.AudienceSegment) error
	GetSegment(tenantID, id string) (*models.AudienceSegment, error)
	UpdateSegment(s *models.AudienceSegment) error
	ListSegments(tenantID string) ([]*models.AudienceSegment, error)

	// Users (tenant membership checks for assignment).
	InsertUser(u *models.User) error
	GetUser(tenantID, id string) (*models.User, error)

	// Durable job queue.
	EnqueueJob(j *models.Job) error
	ClaimJob(now time.Time) (*models.Job, error)
	CompleteJob(id string) error
	RetryJob(id string, attempts int, nextRunAt time.Time, lastErr string) error
	FailJob(id string, lastErr string) error
	GetJob(id string) (*models.Job, error)
	InsertDeadLetter(d *models.DeadLetter) error
	ListDeadLetters(limit int) ([]*models.DeadLetter, error)
	RequeueDeadLetter(id string, now time.Time) error
}
