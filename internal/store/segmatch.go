package store

import (
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/models"
)

// matchSegment evaluates a compiled segment query against a contact. The
// in-memory store runs this directly; the sqlite store lowers the same tree
// to SQL in lowerSegment.
func matchSegment(c *models.Contact, n *models.SegmentNode) bool {
	if n == nil {
		return true
	}
	switch {
	case len(n.And) > 0:
		for i := range n.And {
			if !matchSegment(c, &n.And[i]) {
				return false
			}
		}
		return true
	case len(n.Or) > 0:
		for i := range n.Or {
			if matchSegment(c, &n.Or[i]) {
				return true
			}
		}
		return false
	case n.Cond != nil:
		return matchCondition(c, n.Cond)
	}
	return true
}

func matchCondition(c *models.Contact, cond *models.SegmentCondition) bool {
	switch cond.Field {
	case models.SegFieldStatus:
		return stringOp(c.Status, cond)
	case models.SegFieldCity:
		return stringOp(c.City, cond)
	case models.SegFieldCountry:
		return stringOp(c.Country, cond)
	case models.SegFieldCompany:
		return stringOp(c.Company, cond)
	case models.SegFieldCompanySize:
		return stringOp(c.CompanySize, cond)
	case models.SegFieldNPSCategory:
		return stringOp(c.SurveyStats.NPSCategory, cond)
	case models.SegFieldTags:
		return sliceOp(append(append([]string{}, c.Tags...), c.AutoTags...), cond)
	case models.SegFieldCategoryIDs:
		return sliceOp(c.CategoryIDs, cond)
	case models.SegFieldLastActivity:
		return timeOp(c.LastActivity, cond)
	case models.SegFieldCreatedAt:
		t := c.CreatedAt
		return timeOp(&t, cond)
	case models.SegFieldInvitedCount:
		return numberOp(float64(c.SurveyStats.InvitedCount), cond)
	case models.SegFieldRespondedCount:
		return numberOp(float64(c.SurveyStats.RespondedCount), cond)
	case models.SegFieldAvgNPS:
		if c.SurveyStats.AvgNPSScore == nil {
			return false
		}
		return numberOp(*c.SurveyStats.AvgNPSScore, cond)
	case models.SegFieldAvgRating:
		if c.SurveyStats.AvgRating == nil {
			return false
		}
		return numberOp(*c.SurveyStats.AvgRating, cond)
	}
	return false
}

func stringOp(have string, cond *models.SegmentCondition) bool {
	want, _ := cond.Value.(string)
	switch cond.Op {
	case models.SegOpEq:
		return strings.EqualFold(have, want)
	case models.SegOpContains:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	case models.SegOpIn:
		for _, v := range asStringSlice(cond.Value) {
			if strings.EqualFold(have, v) {
				return true
			}
		}
	}
	return false
}

func sliceOp(have []string, cond *models.SegmentCondition) bool {
	switch cond.Op {
	case models.SegOpContains, models.SegOpEq:
		want, _ := cond.Value.(string)
		for _, v := range have {
			if strings.EqualFold(v, want) {
				return true
			}
		}
	case models.SegOpIn:
		for _, w := range asStringSlice(cond.Value) {
			for _, v := range have {
				if strings.EqualFold(v, w) {
					return true
				}
			}
		}
	}
	return false
}

func numberOp(have float64, cond *models.SegmentCondition) bool {
	want, ok := asFloat(cond.Value)
	if !ok {
		return false
	}
	switch cond.Op {
	case models.SegOpEq:
		return have == want
	case models.SegOpGte:
		return have >= want
	case models.SegOpLte:
		return have <= want
	}
	return false
}

func timeOp(have *time.Time, cond *models.SegmentCondition) bool {
	want, ok := cond.Value.(time.Time)
	if !ok {
		return false
	}
	if have == nil {
		// Contacts with no recorded activity count as inactive forever.
		return cond.Op == models.SegOpLte
	}
	switch cond.Op {
	case models.SegOpGte:
		return !have.Before(want)
	case models.SegOpLte:
		return !have.After(want)
	}
	return false
}

func asStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
