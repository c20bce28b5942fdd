package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/models"
)

// segmentColumns maps canonical segment fields to SQL expressions over the
// contacts table. Only fields in this map can appear in a query; everything
// else is rejected, and values travel as placeholders.
var segmentColumns = map[string]string{
	models.SegFieldStatus:         "status",
	models.SegFieldCity:           "city",
	models.SegFieldCountry:        "country",
	models.SegFieldCompany:        "company",
	models.SegFieldCompanySize:    "company_size",
	models.SegFieldNPSCategory:    "json_extract(survey_stats_json, '$.npsCategory')",
	models.SegFieldLastActivity:   "last_activity",
	models.SegFieldCreatedAt:      "created_at",
	models.SegFieldInvitedCount:   "COALESCE(json_extract(survey_stats_json, '$.invitedCount'), 0)",
	models.SegFieldRespondedCount: "COALESCE(json_extract(survey_stats_json, '$.respondedCount'), 0)",
	models.SegFieldAvgNPS:         "json_extract(survey_stats_json, '$.avgNpsScore')",
	models.SegFieldAvgRating:      "json_extract(survey_stats_json, '$.avgRating')",
}

// lowerSegment turns a compiled segment tree into a parameterized WHERE
// fragment. A nil tree lowers to the empty string (match all).
func lowerSegment(n *models.SegmentNode) (string, []any, error) {
	if n == nil {
		return "", nil, nil
	}
	switch {
	case len(n.And) > 0:
		return lowerGroup(n.And, " AND ")
	case len(n.Or) > 0:
		return lowerGroup(n.Or, " OR ")
	case n.Cond != nil:
		return lowerCondition(n.Cond)
	}
	return "", nil, nil
}

func lowerGroup(children []models.SegmentNode, sep string) (string, []any, error) {
	parts := make([]string, 0, len(children))
	args := []any{}
	for i := range children {
		sql, a, err := lowerSegment(&children[i])
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, a...)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

func lowerCondition(cond *models.SegmentCondition) (string, []any, error) {
	switch cond.Field {
	case models.SegFieldTags:
		return lowerArrayContains([]string{"tags_json", "auto_tags_json"}, cond)
	case models.SegFieldCategoryIDs:
		return lowerArrayContains([]string{"category_ids_json"}, cond)
	}
	col, ok := segmentColumns[cond.Field]
	if !ok {
		return "", nil, fmt.Errorf("store: segment field %q not queryable", cond.Field)
	}
	switch cond.Op {
	case models.SegOpEq:
		return col + " = ? COLLATE NOCASE", []any{lowerValue(cond.Value)}, nil
	case models.SegOpContains:
		want, _ := cond.Value.(string)
		return "LOWER(" + col + ") LIKE ?", []any{"%" + strings.ToLower(want) + "%"}, nil
	case models.SegOpGte:
		if cond.Field == models.SegFieldLastActivity {
			// NULL last_activity never counts as recent activity.
			return col + " IS NOT NULL AND " + col + " >= ?", []any{lowerValue(cond.Value)}, nil
		}
		return col + " >= ?", []any{lowerValue(cond.Value)}, nil
	case models.SegOpLte:
		if cond.Field == models.SegFieldLastActivity {
			// Contacts with no recorded activity count as inactive forever.
			return "(" + col + " IS NULL OR " + col + " <= ?)", []any{lowerValue(cond.Value)}, nil
		}
		return col + " <= ?", []any{lowerValue(cond.Value)}, nil
	case models.SegOpIn:
		vals := asStringSlice(cond.Value)
		if len(vals) == 0 {
			return "0 = 1", nil, nil
		}
		args := make([]any, len(vals))
		for i, v := range vals {
			args[i] = v
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		// COLLATE must precede IN; in postfix position sqlite parses it but
		// the IN comparison stays case-sensitive.
		return col + " COLLATE NOCASE IN (" + placeholders + ")", args, nil
	}
	return "", nil, fmt.Errorf("store: segment op %q not supported", cond.Op)
}

// lowerArrayContains matches a value inside JSON array columns via json_each.
func lowerArrayContains(cols []string, cond *models.SegmentCondition) (string, []any, error) {
	var wants []string
	switch cond.Op {
	case models.SegOpEq, models.SegOpContains:
		want, _ := cond.Value.(string)
		wants = []string{want}
	case models.SegOpIn:
		wants = asStringSlice(cond.Value)
	default:
		return "", nil, fmt.Errorf("store: segment op %q not supported on array field %q", cond.Op, cond.Field)
	}
	if len(wants) == 0 {
		return "0 = 1", nil, nil
	}
	parts := make([]string, 0, len(cols)*len(wants))
	args := []any{}
	for _, col := range cols {
		for _, w := range wants {
			parts = append(parts,
				"EXISTS (SELECT 1 FROM json_each(COALESCE("+col+", '[]')) WHERE json_each.value = ? COLLATE NOCASE)")
			args = append(args, w)
		}
	}
	return "(" + strings.Join(parts, " OR ") + ")", args, nil
}

// lowerValue converts condition values to their column representation.
func lowerValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UnixMilli()
	}
	return v
}
