package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

// SegmentStore is the slice of the store the segment service needs.
type SegmentStore interface {
	InsertSegment(s *models.AudienceSegment) error
	GetSegment(tenantID, id string) (*models.AudienceSegment, error)
	UpdateSegment(s *models.AudienceSegment) error
	ListSegments(tenantID string) ([]*models.AudienceSegment, error)
	QueryContacts(tenantID string, q *models.SegmentNode) ([]*models.Contact, error)
}

type SegmentService struct {
	store SegmentStore

	now         func() time.Time
	idGenerator func() string
}

func NewSegmentService(s SegmentStore) *SegmentService {
	return &SegmentService{store: s, now: time.Now, idGenerator: uuid.NewString}
}

// CompileSegmentFilters turns the client filter DSL into a store-neutral
// query tree. Only whitelisted keys compile; anything else is rejected, and
// no key ever reaches the store as raw text.
func CompileSegmentFilters(filters map[string]any, now time.Time) (*models.SegmentNode, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	var conds []models.SegmentNode
	var orNode *models.SegmentNode

	for key, value := range filters {
		switch key {
		case "$and":
			children, err := compileComposite(value, now)
			if err != nil {
				return nil, err
			}
			conds = append(conds, children...)
		case "$or":
			children, err := compileComposite(value, now)
			if err != nil {
				return nil, err
			}
			if orNode != nil {
				// A second $or nests beside the first under the top-level AND.
				conds = append(conds, *orNode)
			}
			orNode = &models.SegmentNode{Or: children}
		default:
			node, err := compileFilterKey(key, value, now)
			if err != nil {
				return nil, err
			}
			conds = append(conds, *node)
		}
	}

	if orNode != nil {
		if len(conds) == 0 {
			return orNode, nil
		}
		conds = append(conds, *orNode)
	}
	if len(conds) == 1 {
		return &conds[0], nil
	}
	return &models.SegmentNode{And: conds}, nil
}

func compileComposite(value any, now time.Time) ([]models.SegmentNode, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, NewInvalidError("composite filter must be an array of filter objects")
	}
	out := make([]models.SegmentNode, 0, len(items))
	for _, item := range items {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, NewInvalidError("composite filter entries must be objects")
		}
		node, err := CompileSegmentFilters(sub, now)
		if err != nil {
			return nil, err
		}
		if node != nil {
			out = append(out, *node)
		}
	}
	return out, nil
}

func compileFilterKey(key string, value any, now time.Time) (*models.SegmentNode, error) {
	cond := func(field, op string, v any) *models.SegmentNode {
		return &models.SegmentNode{Cond: &models.SegmentCondition{Field: field, Op: op, Value: v}}
	}
	switch key {
	case "status":
		return cond(models.SegFieldStatus, models.SegOpEq, value), nil
	case "tag":
		return cond(models.SegFieldTags, models.SegOpContains, value), nil
	case "tags":
		return cond(models.SegFieldTags, models.SegOpIn, value), nil
	case "categoryIds":
		return cond(models.SegFieldCategoryIDs, models.SegOpIn, value), nil
	case "npsCategory":
		return cond(models.SegFieldNPSCategory, models.SegOpEq, value), nil
	case "city":
		return cond(models.SegFieldCity, models.SegOpEq, value), nil
	case "country":
		return cond(models.SegFieldCountry, models.SegOpEq, value), nil
	case "company":
		return cond(models.SegFieldCompany, models.SegOpEq, value), nil
	case "companySize":
		return cond(models.SegFieldCompanySize, models.SegOpEq, value), nil

	case "inactiveDays":
		cutoff, err := daysCutoff(key, value, now)
		if err != nil {
			return nil, err
		}
		return cond(models.SegFieldLastActivity, models.SegOpLte, cutoff), nil
	case "activeDays":
		cutoff, err := daysCutoff(key, value, now)
		if err != nil {
			return nil, err
		}
		return cond(models.SegFieldLastActivity, models.SegOpGte, cutoff), nil
	case "createdWithinDays":
		cutoff, err := daysCutoff(key, value, now)
		if err != nil {
			return nil, err
		}
		return cond(models.SegFieldCreatedAt, models.SegOpGte, cutoff), nil

	case "minInvited":
		return cond(models.SegFieldInvitedCount, models.SegOpGte, value), nil
	case "maxInvited":
		return cond(models.SegFieldInvitedCount, models.SegOpLte, value), nil
	case "minResponded":
		return cond(models.SegFieldRespondedCount, models.SegOpGte, value), nil
	case "maxResponded":
		return cond(models.SegFieldRespondedCount, models.SegOpLte, value), nil
	case "minAvgNps":
		return cond(models.SegFieldAvgNPS, models.SegOpGte, value), nil
	case "maxAvgNps":
		return cond(models.SegFieldAvgNPS, models.SegOpLte, value), nil
	case "minAvgRating":
		return cond(models.SegFieldAvgRating, models.SegOpGte, value), nil
	case "maxAvgRating":
		return cond(models.SegFieldAvgRating, models.SegOpLte, value), nil
	}
	return nil, NewInvalidError(fmt.Sprintf("unknown segment filter key %q", key))
}

func daysCutoff(key string, value any, now time.Time) (time.Time, error) {
	days, ok := asFloatValue(value)
	if !ok || days < 0 {
		return time.Time{}, NewInvalidError(fmt.Sprintf("%s must be a non-negative number of days", key))
	}
	return now.Add(-time.Duration(days*24) * time.Hour), nil
}

func asFloatValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// Create validates the filters by compiling them before persisting.
func (s *SegmentService) Create(tenantID, name string, filters map[string]any) (*models.AudienceSegment, error) {
	if name == "" {
		return nil, NewInvalidError("segment name is required")
	}
	if _, err := CompileSegmentFilters(filters, s.now()); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	seg := &models.AudienceSegment{
		ID:        s.idGenerator(),
		TenantID:  tenantID,
		Name:      name,
		Filters:   filters,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertSegment(seg); err != nil {
		return nil, err
	}
	return seg, nil
}

func (s *SegmentService) Update(tenantID, id, name string, filters map[string]any) (*models.AudienceSegment, error) {
	seg, err := s.store.GetSegment(tenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError("segment not found")
		}
		return nil, err
	}
	if seg.IsSystem {
		return nil, NewForbiddenError("system segments are immutable")
	}
	if _, err := CompileSegmentFilters(filters, s.now()); err != nil {
		return nil, err
	}
	if name != "" {
		seg.Name = name
	}
	seg.Filters = filters
	seg.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSegment(seg); err != nil {
		return nil, err
	}
	return seg, nil
}

func (s *SegmentService) Get(tenantID, id string) (*models.AudienceSegment, error) {
	seg, err := s.store.GetSegment(tenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewNotFoundError("segment not found")
	}
	return seg, err
}

func (s *SegmentService) List(tenantID string) ([]*models.AudienceSegment, error) {
	return s.store.ListSegments(tenantID)
}

// Preview compiles and runs the filters without persisting anything.
func (s *SegmentService) Preview(tenantID string, filters map[string]any) ([]*models.Contact, error) {
	query, err := CompileSegmentFilters(filters, s.now())
	if err != nil {
		return nil, err
	}
	return s.store.QueryContacts(tenantID, query)
}

// PreviewSaved runs a stored segment's filters.
func (s *SegmentService) PreviewSaved(tenantID, id string) ([]*models.Contact, error) {
	seg, err := s.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.Preview(tenantID, seg.Filters)
}
