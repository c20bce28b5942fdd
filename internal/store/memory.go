package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cadencehq/cadence/internal/models"
)

// MemoryStore keeps everything behind one RWMutex. Used by tests and as the
// degraded in-process fallback when sqlite cannot be opened.
type MemoryStore struct {
	mu          sync.RWMutex
	surveys     map[string]*models.Survey
	invites     map[string]*models.SurveyInvite
	byDigest    map[string]string // token digest -> invite id
	responses   map[string]*models.Response
	byInvite    map[string]string // invite id -> response id
	contacts    map[string]*models.Contact
	rules       map[string]*models.AssignmentRule
	actions     map[string]*models.Action
	recogs      []*models.Recognition
	alerts      []*models.Alert
	segments    map[string]*models.AudienceSegment
	users       map[string]*models.User
	jobs        map[string]*models.Job
	jobOrder    []string
	deadLetters []*models.DeadLetter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		surveys:   map[string]*models.Survey{},
		invites:   map[string]*models.SurveyInvite{},
		byDigest:  map[string]string{},
		responses: map[string]*models.Response{},
		byInvite:  map[string]string{},
		contacts:  map[string]*models.Contact{},
		rules:     map[string]*models.AssignmentRule{},
		actions:   map[string]*models.Action{},
		segments:  map[string]*models.AudienceSegment{},
		users:     map[string]*models.User{},
		jobs:      map[string]*models.Job{},
	}
}

// --- Surveys ---

func (s *MemoryStore) InsertSurvey(sv *models.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sv
	s.surveys[sv.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSurvey(id string) (*models.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.surveys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sv
	return &cp, nil
}

// --- Invites ---

func (s *MemoryStore) InsertInvite(inv *models.SurveyInvite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byDigest[inv.TokenDigest]; exists {
		return ErrDuplicate
	}
	cp := *inv
	s.invites[inv.ID] = &cp
	s.byDigest[inv.TokenDigest] = inv.ID
	return nil
}

func (s *MemoryStore) GetInviteByDigest(digest string) (*models.SurveyInvite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDigest[digest]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.invites[id]
	return &cp, nil
}

func (s *MemoryStore) MarkInviteOpened(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status == models.InviteSent {
		inv.Status = models.InviteOpened
		t := at
		inv.OpenedAt = &t
	}
	return nil
}

func (s *MemoryStore) MarkInviteResponded(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Status == models.InviteResponded {
		return ErrConflict
	}
	inv.Status = models.InviteResponded
	t := at
	inv.RespondedAt = &t
	return nil
}

func (s *MemoryStore) IncrementInviteAttempts(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return ErrNotFound
	}
	inv.AttemptCount++
	return nil
}

// --- Responses ---

func (s *MemoryStore) InsertResponse(r *models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.InviteID != "" {
		if _, exists := s.byInvite[r.InviteID]; exists {
			return ErrDuplicate
		}
	}
	cp := *r
	s.responses[r.ID] = &cp
	if r.InviteID != "" {
		s.byInvite[r.InviteID] = r.ID
	}
	return nil
}

func (s *MemoryStore) GetResponse(id string) (*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListResponsesByIDs(tenantID string, ids []string) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Response{}
	for _, id := range ids {
		if r, ok := s.responses[id]; ok && r.TenantID == tenantID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListResponsesByEmail(tenantID, email string) ([]*models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Response{}
	for _, r := range s.responses {
		if r.TenantID == tenantID && strings.EqualFold(r.Email, email) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *MemoryStore) SetResponseAnalysis(id string, a *models.Analysis) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Analysis != nil && r.Analysis.AnalyzedAt != nil {
		return false, nil
	}
	cp := *a
	r.Analysis = &cp
	return true, nil
}

// --- Contacts ---

func (s *MemoryStore) InsertContact(c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.contacts {
		if e.TenantID == c.TenantID && strings.EqualFold(e.Email, c.Email) {
			return ErrDuplicate
		}
	}
	cp := *c
	s.contacts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetContact(tenantID, id string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetContactByEmail(tenantID, email string) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.findContactLocked(tenantID, email)
	if c == nil {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) findContactLocked(tenantID, email string) *models.Contact {
	for _, c := range s.contacts {
		if c.TenantID == tenantID && strings.EqualFold(c.Email, email) {
			return c
		}
	}
	return nil
}

func (s *MemoryStore) UpdateContactStats(tenantID, contactID string, stats models.ContactSurveyStats, lastActivity *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	c.SurveyStats = stats
	if lastActivity != nil {
		t := *lastActivity
		c.LastActivity = &t
	}
	return nil
}

func (s *MemoryStore) ApplyContactInvite(tenantID, email string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findContactLocked(tenantID, email)
	if c == nil {
		return ErrNotFound
	}
	applyInviteStats(&c.SurveyStats, date)
	return nil
}

func (s *MemoryStore) ApplyContactResponse(tenantID, email string, nps, rating *float64, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.findContactLocked(tenantID, email)
	if c == nil {
		return ErrNotFound
	}
	applyResponseStats(&c.SurveyStats, nps, rating, date)
	t := date
	c.LastActivity = &t
	return nil
}

func (s *MemoryStore) ListInvitesByEmail(tenantID, email string) ([]*models.SurveyInvite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.SurveyInvite{}
	for _, inv := range s.invites {
		if inv.TenantID != tenantID || inv.Contact == nil {
			continue
		}
		if strings.EqualFold(inv.Contact.Email, email) {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) QueryContacts(tenantID string, q *models.SegmentNode) ([]*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Contact{}
	for _, c := range s.contacts {
		if c.TenantID != tenantID {
			continue
		}
		if matchSegment(c, q) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Assignment rules ---

func (s *MemoryStore) InsertAssignmentRule(r *models.AssignmentRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAssignmentRules(tenantID string) ([]*models.AssignmentRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.AssignmentRule{}
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) NextRoundRobinIndex(ruleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return 0, ErrNotFound
	}
	r.LastAssignedIndex++
	return r.LastAssignedIndex, nil
}

func (s *MemoryStore) CountOpenActions(tenantID, assignee string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.actions {
		if a.TenantID == tenantID && a.AssignedTo == assignee && a.Status != models.ActionResolved && !a.IsDeleted {
			n++
		}
	}
	return n, nil
}

// --- Actions ---

func (s *MemoryStore) InsertAction(a *models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.actions[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAction(tenantID, id string) (*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok || a.TenantID != tenantID || a.IsDeleted {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpdateAction(a *models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.actions[a.ID]
	if !ok || old.TenantID != a.TenantID {
		return ErrNotFound
	}
	cp := *a
	s.actions[a.ID] = &cp
	return nil
}

func (s *MemoryStore) ListActions(tenantID string, f ActionFilter) ([]*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Action{}
	for _, a := range s.actions {
		if a.TenantID != tenantID || a.IsDeleted {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Priority != "" && a.Priority != f.Priority {
			continue
		}
		if f.AssignedTo != "" && a.AssignedTo != f.AssignedTo {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListBreachedActions(now time.Time) ([]*models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Action{}
	for _, a := range s.actions {
		if a.IsDeleted || a.Status == models.ActionResolved {
			continue
		}
		if a.SLA.TargetResolutionTime.Before(now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CountActionsByCategory(tenantID string, since time.Time, sources []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srcSet := map[string]bool{}
	for _, v := range sources {
		srcSet[v] = true
	}
	out := map[string]int{}
	for _, a := range s.actions {
		if a.TenantID != tenantID || a.IsDeleted || a.CreatedAt.Before(since) {
			continue
		}
		if len(srcSet) > 0 && !srcSet[a.Source] {
			continue
		}
		if a.Category != "" {
			out[a.Category]++
		}
	}
	return out, nil
}

// --- Recognitions and alerts ---

func (s *MemoryStore) InsertRecognition(r *models.Recognition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.recogs = append(s.recogs, &cp)
	return nil
}

func (s *MemoryStore) InsertAlert(a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts = append(s.alerts, &cp)
	return nil
}

func (s *MemoryStore) AlertExistsSince(tenantID, category string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.TenantID == tenantID && a.Category == category && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListAlerts(tenantID string, limit int) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Alert{}
	for i := len(s.alerts) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.alerts[i].TenantID == tenantID {
			cp := *s.alerts[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Segments ---

func (s *MemoryStore) InsertSegment(seg *models.AudienceSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *seg
	s.segments[seg.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSegment(tenantID, id string) (*models.AudienceSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.segments[id]
	if !ok || seg.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *seg
	return &cp, nil
}

func (s *MemoryStore) UpdateSegment(seg *models.AudienceSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.segments[seg.ID]
	if !ok || old.TenantID != seg.TenantID {
		return ErrNotFound
	}
	cp := *seg
	s.segments[seg.ID] = &cp
	return nil
}

func (s *MemoryStore) ListSegments(tenantID string) ([]*models.AudienceSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.AudienceSegment{}
	for _, seg := range s.segments {
		if seg.TenantID == tenantID {
			cp := *seg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Users ---

func (s *MemoryStore) InsertUser(u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(tenantID, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// --- Jobs ---

func (s *MemoryStore) EnqueueJob(j *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	s.jobOrder = append(s.jobOrder, j.ID)
	return nil
}

func (s *MemoryStore) ClaimJob(now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.jobOrder {
		j := s.jobs[id]
		if j == nil || j.Status != models.JobPending || j.NextRunAt.After(now) {
			continue
		}
		j.Status = models.JobRunning
		cp := *j
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = models.JobDone
	return nil
}

func (s *MemoryStore) RetryJob(id string, attempts int, nextRunAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = models.JobPending
	j.Attempts = attempts
	j.NextRunAt = nextRunAt
	j.LastError = lastErr
	return nil
}

func (s *MemoryStore) FailJob(id string, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = models.JobFailed
	j.LastError = lastErr
	return nil
}

func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) InsertDeadLetter(d *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deadLetters = append(s.deadLetters, &cp)
	return nil
}

func (s *MemoryStore) ListDeadLetters(limit int) ([]*models.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.DeadLetter{}
	for i := len(s.deadLetters) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		cp := *s.deadLetters[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) RequeueDeadLetter(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.deadLetters {
		if d.ID != id {
			continue
		}
		j := &models.Job{
			ID:          d.OriginalJobID,
			Kind:        d.Kind,
			Payload:     d.Payload,
			Status:      models.JobPending,
			MaxAttempts: 3,
			NextRunAt:   now,
			CreatedAt:   now,
		}
		s.jobs[j.ID] = j
		s.jobOrder = append(s.jobOrder, j.ID)
		s.deadLetters = append(s.deadLetters[:i], s.deadLetters[i+1:]...)
		return nil
	}
	return ErrNotFound
}
