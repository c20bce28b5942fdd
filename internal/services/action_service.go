package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/notify"
	"github.com/cadencehq/cadence/internal/store"
)

// ActionStore is the slice of the store the action writer needs.
type ActionStore interface {
	InsertAction(a *models.Action) error
	GetAction(tenantID, id string) (*models.Action, error)
	UpdateAction(a *models.Action) error
	ListActions(tenantID string, f store.ActionFilter) ([]*models.Action, error)
	ListBreachedActions(now time.Time) ([]*models.Action, error)
	InsertRecognition(r *models.Recognition) error
	GetUser(tenantID, id string) (*models.User, error)
}

// ActionService creates actions from pipeline candidates, applies SLA and due
// dates, escalates breached actions, and handles the manual operations
// exposed over HTTP.
type ActionService struct {
	store ActionStore
	sink  notify.Sink
	sla   config.SLAConfig

	now         func() time.Time
	idGenerator func() string
}

func NewActionService(s ActionStore, sink notify.Sink, sla config.SLAConfig) *ActionService {
	if sink == nil {
		sink = notify.NoopSink{}
	}
	return &ActionService{
		store:       s,
		sink:        sink,
		sla:         sla,
		now:         time.Now,
		idGenerator: uuid.NewString,
	}
}

func (s *ActionService) dueDate(priority string, from time.Time) time.Time {
	hours, ok := s.sla.DueHours[priority]
	if !ok {
		hours = s.sla.DefaultDue
	}
	return from.Add(time.Duration(hours) * time.Hour)
}

func (s *ActionService) nextReminder(priority string, from time.Time) *time.Time {
	hours, ok := s.sla.ReminderHours[priority]
	if !ok {
		return nil
	}
	t := from.Add(time.Duration(hours) * time.Hour)
	return &t
}

// CreateFromCandidate writes the action produced by the rule evaluator and
// assignment engine for one response.
func (s *ActionService) CreateFromCandidate(ctx context.Context, tenantID string, cand *ActionCandidate, resp *models.Response, decision *AssignmentDecision) (*models.Action, error) {
	now := s.now().UTC()
	priority := cand.Priority
	if decision != nil && decision.PriorityOverride != "" {
		priority = decision.PriorityOverride
	}

	source := models.SourceSurveyFeedback
	if cand.RuleName == "analyzerFlag" {
		source = models.SourceAIGenerated
	}

	due := s.dueDate(priority, now)
	action := &models.Action{
		ID:          s.idGenerator(),
		TenantID:    tenantID,
		Title:       cand.Title,
		Description: cand.Description,
		Priority:    priority,
		Status:      models.ActionPending,
		Source:      source,
		Category:    cand.Category,
		Tags:        cand.Tags,
		DueDate:     due,
		SLA: models.ActionSLA{
			TargetResolutionTime: due,
			NextReminderAt:       s.nextReminder(priority, now),
		},
		CreatedAt: now,
	}
	if resp != nil {
		action.ResponseID = resp.ID
	}
	if decision != nil && decision.Matched && decision.AssignedTo != "" {
		action.AssignedTo = decision.AssignedTo
		action.AssignedToTeam = decision.AssignedToTeam
		action.AutoAssigned = true
		action.AssignmentHistory = []models.AssignmentEntry{{
			To:     decision.AssignedTo,
			ToTeam: decision.AssignedToTeam,
			At:     now,
			Auto:   true,
			Note:   "assigned by rule " + decision.RuleID,
		}}
	}

	if err := s.store.InsertAction(action); err != nil {
		return nil, err
	}
	logx.Event("action.created", map[string]any{
		"tenant": tenantID, "action": action.ID, "priority": action.Priority,
		"category": action.Category, "assigned_to": action.AssignedTo,
	})
	if action.Priority == models.PriorityHigh {
		s.publish(ctx, notify.Event{
			Type: notify.EventActionAssigned, TenantID: tenantID, ActionID: action.ID,
			Priority: action.Priority, Message: action.Title, At: now,
		})
	}
	return action, nil
}

// ManualActionRequest is the payload for operator-created actions.
type ManualActionRequest struct {
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	Category       string     `json:"category,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	AssignedTo     string     `json:"assignedTo,omitempty"`
	AssignedToTeam string     `json:"assignedToTeam,omitempty"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
}

// CreateManual writes an operator-created action. Manual actions never feed
// the repeated-complaint detector.
func (s *ActionService) CreateManual(tenantID, createdBy string, req ManualActionRequest) (*models.Action, error) {
	if req.Title == "" {
		return nil, NewInvalidError("title is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !validPriority(priority) {
		return nil, NewInvalidError("invalid priority")
	}
	if req.AssignedTo != "" {
		if _, err := s.store.GetUser(tenantID, req.AssignedTo); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NewForbiddenError("assignee is not a member of this tenant")
			}
			return nil, err
		}
	}

	now := s.now().UTC()
	due := s.dueDate(priority, now)
	if req.DueDate != nil {
		due = req.DueDate.UTC()
	}
	action := &models.Action{
		ID:          s.idGenerator(),
		TenantID:    tenantID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    priority,
		Status:      models.ActionPending,
		Source:      models.SourceManual,
		Category:    req.Category,
		Tags:        req.Tags,
		DueDate:     due,
		SLA: models.ActionSLA{
			TargetResolutionTime: due,
			NextReminderAt:       s.nextReminder(priority, now),
		},
		CreatedAt: now,
		CreatedBy: createdBy,
	}
	if req.AssignedTo != "" {
		action.AssignedTo = req.AssignedTo
		action.AssignedToTeam = req.AssignedToTeam
		action.AssignmentHistory = []models.AssignmentEntry{{
			To: req.AssignedTo, ToTeam: req.AssignedToTeam, By: createdBy, At: now, Auto: false,
		}}
	}
	if err := s.store.InsertAction(action); err != nil {
		return nil, err
	}
	logx.Event("action.created", map[string]any{
		"tenant": tenantID, "action": action.ID, "priority": action.Priority,
		"category": action.Category, "assigned_to": action.AssignedTo,
	})
	return action, nil
}

// RecordRecognition stores the non-actionable positive outcome.
func (s *ActionService) RecordRecognition(tenantID string, resp *models.Response, themes []string) error {
	return s.store.InsertRecognition(&models.Recognition{
		ID:         s.idGenerator(),
		TenantID:   tenantID,
		ResponseID: resp.ID,
		Themes:     themes,
		CreatedAt:  s.now().UTC(),
	})
}

// EscalateBreached is the SLA sweeper. Breached actions move one priority
// step up (low -> medium -> high), get a fresh due date and a history note.
// Returns the number of actions escalated.
func (s *ActionService) EscalateBreached(ctx context.Context) (int, error) {
	now := s.now().UTC()
	breached, err := s.store.ListBreachedActions(now)
	if err != nil {
		return 0, err
	}
	escalated := 0
	for _, action := range breached {
		action.SLA.IsBreached = true
		next := nextPriority(action.Priority)
		if next == action.Priority {
			// Already at high; record the breach but do not touch priority.
			if err := s.store.UpdateAction(action); err != nil {
				logx.Error("action.escalate_update_failed", err, map[string]any{"action": action.ID})
			}
			continue
		}
		prev := action.Priority
		action.Priority = next
		due := s.dueDate(next, now)
		action.DueDate = due
		action.SLA.TargetResolutionTime = due
		action.SLA.NextReminderAt = s.nextReminder(next, now)
		action.Tags = mergeTags(action.Tags, []string{"escalated"})
		action.AssignmentHistory = append(action.AssignmentHistory, models.AssignmentEntry{
			To:   action.AssignedTo,
			At:   now,
			Auto: true,
			Note: "Auto-escalated: SLA breached at priority " + prev,
		})
		if err := s.store.UpdateAction(action); err != nil {
			logx.Error("action.escalate_update_failed", err, map[string]any{"action": action.ID})
			continue
		}
		escalated++
		logx.Event("action.escalated", map[string]any{
			"tenant": action.TenantID, "action": action.ID, "from": prev, "to": next,
		})
		if next == models.PriorityHigh {
			s.publish(ctx, notify.Event{
				Type: notify.EventActionEscalated, TenantID: action.TenantID, ActionID: action.ID,
				Priority: next, Message: action.Title, At: now,
			})
		}
	}
	return escalated, nil
}

func nextPriority(p string) string {
	switch p {
	case models.PriorityLongTerm:
		return models.PriorityLow
	case models.PriorityLow:
		return models.PriorityMedium
	case models.PriorityMedium:
		return models.PriorityHigh
	}
	return p
}

// ActionUpdate carries the whitelisted mutable fields; nil pointers are left
// untouched.
type ActionUpdate struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Priority    *string   `json:"priority"`
	Status      *string   `json:"status"`
	Category    *string   `json:"category"`
	Tags        *[]string `json:"tags"`
}

func validPriority(p string) bool {
	_, ok := priorityRank[p]
	return ok
}

func validStatus(st string) bool {
	switch st {
	case models.ActionPending, models.ActionOpen, models.ActionInProgress, models.ActionResolved:
		return true
	}
	return false
}

// Update applies a partial update. Resolved actions are immutable; resolving
// stamps completedAt and completedBy.
func (s *ActionService) Update(tenantID, actionID, actorID string, upd ActionUpdate) (*models.Action, error) {
	action, err := s.store.GetAction(tenantID, actionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError("action not found")
		}
		return nil, err
	}
	if action.Status == models.ActionResolved {
		return nil, NewConflictError("resolved actions cannot be modified")
	}

	if upd.Title != nil {
		action.Title = *upd.Title
	}
	if upd.Description != nil {
		action.Description = *upd.Description
	}
	if upd.Category != nil {
		action.Category = *upd.Category
	}
	if upd.Tags != nil {
		action.Tags = *upd.Tags
	}
	if upd.Priority != nil {
		if !validPriority(*upd.Priority) {
			return nil, NewInvalidError("invalid priority")
		}
		now := s.now().UTC()
		action.Priority = *upd.Priority
		due := s.dueDate(action.Priority, now)
		action.DueDate = due
		action.SLA.TargetResolutionTime = due
		action.SLA.NextReminderAt = s.nextReminder(action.Priority, now)
	}
	if upd.Status != nil {
		if !validStatus(*upd.Status) {
			return nil, NewInvalidError("invalid status")
		}
		action.Status = *upd.Status
		if action.Status == models.ActionResolved {
			now := s.now().UTC()
			action.CompletedAt = &now
			action.CompletedBy = actorID
		}
	}

	if err := s.store.UpdateAction(action); err != nil {
		return nil, err
	}
	return action, nil
}

// Reassign moves the action to another tenant member with auto=false. The
// target must exist within the tenant.
func (s *ActionService) Reassign(tenantID, actionID, toUser, toTeam, byUser string) (*models.Action, error) {
	action, err := s.store.GetAction(tenantID, actionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError("action not found")
		}
		return nil, err
	}
	if action.Status == models.ActionResolved {
		return nil, NewConflictError("resolved actions cannot be reassigned")
	}
	if toUser != "" {
		if _, err := s.store.GetUser(tenantID, toUser); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, NewForbiddenError("assignee is not a member of this tenant")
			}
			return nil, err
		}
	}

	now := s.now().UTC()
	from := action.AssignedTo
	action.AssignedTo = toUser
	action.AssignedToTeam = toTeam
	action.AutoAssigned = false
	action.AssignmentHistory = append(action.AssignmentHistory, models.AssignmentEntry{
		From: from, To: toUser, ToTeam: toTeam, By: byUser, At: now, Auto: false,
	})
	if err := s.store.UpdateAction(action); err != nil {
		return nil, err
	}
	return action, nil
}

// SoftDelete hides the action without destroying the record.
func (s *ActionService) SoftDelete(tenantID, actionID string) error {
	action, err := s.store.GetAction(tenantID, actionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewNotFoundError("action not found")
		}
		return err
	}
	action.IsDeleted = true
	return s.store.UpdateAction(action)
}

func (s *ActionService) Get(tenantID, actionID string) (*models.Action, error) {
	action, err := s.store.GetAction(tenantID, actionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewNotFoundError("action not found")
	}
	return action, err
}

func (s *ActionService) List(tenantID string, f store.ActionFilter) ([]*models.Action, error) {
	return s.store.ListActions(tenantID, f)
}

func (s *ActionService) publish(ctx context.Context, ev notify.Event) {
	if err := s.sink.Publish(ctx, ev); err != nil {
		logx.Error("notify.publish_failed", err, map[string]any{"type": ev.Type, "action": ev.ActionID})
	}
}
