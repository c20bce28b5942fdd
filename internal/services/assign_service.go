package services

import (
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/models"
)

// AssignStore is the slice of the store the assignment engine needs.
type AssignStore interface {
	ListAssignmentRules(tenantID string) ([]*models.AssignmentRule, error)
	NextRoundRobinIndex(ruleID string) (int, error)
	CountOpenActions(tenantID, assignee string) (int, error)
}

// AssignmentService resolves an action candidate to an assignee using the
// tenant's assignment rules. First matching rule wins; rules with an invalid
// mode are logged and skipped; no match leaves the action unassigned.
type AssignmentService struct {
	store AssignStore
	now   func() time.Time
}

func NewAssignmentService(store AssignStore) *AssignmentService {
	return &AssignmentService{store: store, now: time.Now}
}

// AssignmentDecision carries the outcome back to the action writer.
type AssignmentDecision struct {
	Matched          bool
	RuleID           string
	AssignedTo       string
	AssignedToTeam   string
	PriorityOverride string
}

func (s *AssignmentService) Resolve(tenantID string, cand *ActionCandidate, resp *models.Response) (*AssignmentDecision, error) {
	rules, err := s.store.ListAssignmentRules(tenantID)
	if err != nil {
		return nil, err
	}
	fields := assignmentFields(cand, resp)

	for _, rule := range rules {
		if !ruleMatches(rule, fields) {
			continue
		}
		assignee, err := s.pickAssignee(tenantID, rule)
		if err != nil {
			return nil, err
		}
		if assignee == "" {
			// Invalid mode or empty team; try the next rule.
			continue
		}
		return &AssignmentDecision{
			Matched:          true,
			RuleID:           rule.ID,
			AssignedTo:       assignee,
			AssignedToTeam:   rule.Assignment.TargetTeam,
			PriorityOverride: rule.PriorityOverride,
		}, nil
	}
	return &AssignmentDecision{}, nil
}

// assignmentFields flattens the candidate payload and the response metadata.
// Payload keys shadow metadata keys.
func assignmentFields(cand *ActionCandidate, resp *models.Response) map[string]string {
	fields := map[string]string{}
	if resp != nil {
		fields["device"] = resp.Metadata.Device
		fields["browser"] = resp.Metadata.Browser
		fields["os"] = resp.Metadata.OS
		fields["location"] = resp.Metadata.Location
	}
	fields["title"] = cand.Title
	fields["description"] = cand.Description
	fields["priority"] = cand.Priority
	fields["category"] = cand.Category
	fields["tags"] = strings.Join(cand.Tags, ",")
	return fields
}

func ruleMatches(rule *models.AssignmentRule, fields map[string]string) bool {
	for _, cond := range rule.Conditions {
		have, ok := fields[cond.Field]
		if !ok {
			return false
		}
		switch cond.Operator {
		case "eq":
			if !strings.EqualFold(have, cond.Value) {
				return false
			}
		case "contains":
			if !strings.Contains(strings.ToLower(have), strings.ToLower(cond.Value)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (s *AssignmentService) pickAssignee(tenantID string, rule *models.AssignmentRule) (string, error) {
	a := rule.Assignment
	switch a.Mode {
	case models.ModeSingleOwner:
		return a.TargetUser, nil

	case models.ModeRoundRobin:
		if len(a.TeamMembers) == 0 {
			return "", nil
		}
		idx, err := s.store.NextRoundRobinIndex(rule.ID)
		if err != nil {
			return "", err
		}
		return a.TeamMembers[idx%len(a.TeamMembers)], nil

	case models.ModeLeastLoad:
		best := ""
		bestCount := -1
		for _, member := range a.TeamMembers {
			count, err := s.store.CountOpenActions(tenantID, member)
			if err != nil {
				return "", err
			}
			if bestCount == -1 || count < bestCount {
				best = member
				bestCount = count
			}
		}
		return best, nil
	}

	logx.Event("assign.invalid_mode", map[string]any{"tenant": tenantID, "rule": rule.ID, "mode": a.Mode})
	return "", nil
}
