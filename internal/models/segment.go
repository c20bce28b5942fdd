package models

// Segment query operators. The compiler only ever emits these; stores map
// them onto their own query machinery.
const (
	SegOpEq       = "eq"
	SegOpContains = "contains"
	SegOpGte      = "gte"
	SegOpLte      = "lte"
	SegOpIn       = "in"
)

// SegmentCondition is one leaf predicate over a canonical contact field.
type SegmentCondition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

/// SegmentNode is the compiled query tree: exactly one of And, Or, Cond is set.
type SegmentNode struct {
	And  []SegmentNode     `json:"and,omitempty"`
	Or   []SegmentNode     `json:"or,omitempty"`
	Cond *SegmentCondition `json:"cond,omitempty"`
}

// Canonical contact fields addressable by compiled segment queries. Stores
// translate these names; nothing else ever reaches query text.
const (
	SegFieldStatus         = "status"
	SegFieldTags           = "tags"
	SegFieldCategoryIDs    = "category_ids"
	SegFieldLastActivity   = "last_activity"
	SegFieldCreatedAt      = "created_at"
	SegFieldInvitedCount   = "invited_count"
	SegFieldRespondedCount = "responded_count"
	SegFieldNPSCategory    = "nps_category"
	SegFieldAvgNPS         = "avg_nps"
	SegFieldAvgRating      = "avg_rating"
	SegFieldCity           = "city"
	SegFieldCountry        = "country"
	SegFieldCompany        = "company"
	SegFieldCompanySize    = "company_size"
)
