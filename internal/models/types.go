package models

import "time"

// Survey lifecycle states. A response is only accepted while the survey is
// active and now falls inside its schedule window.
const (
	SurveyDraft     = "draft"
	SurveyActive    = "active"
	SurveyInactive  = "inactive"
	SurveyScheduled = "scheduled"
	SurveyClosed    = "closed"
)

// Question types drive quantitative metric extraction in the analyzer.
const (
	QuestionText     = "text"
	QuestionRating   = "rating"
	QuestionScale    = "scale"
	QuestionLikert   = "likert"
	QuestionNPS      = "nps"
	QuestionNumeric  = "numeric"
	QuestionMCQ      = "mcq"
	QuestionCheckbox = "checkbox"
	QuestionDate     = "date"
	QuestionYesNo    = "yesNo"
)

type Question struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Text     string   `json:"text"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

type SurveySchedule struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Timezone  string     `json:"timezone,omitempty"`
}

type Survey struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Title     string         `json:"title"`
	Status    string         `json:"status"`
	Questions []Question     `json:"questions"`
	Schedule  SurveySchedule `json:"schedule"`
	Deleted   bool           `json:"deleted"`
	CreatedAt time.Time      `json:"created_at"`
}

// Invite lifecycle: sent -> opened (on verify) -> responded (terminal).
const (
	InviteSent      = "sent"
	InviteOpened    = "opened"
	InviteResponded = "responded"
)

// InviteContact identifies an external recipient when no platform user is
// linked. Exactly one of SurveyInvite.UserID / SurveyInvite.Contact is set.
type InviteContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type SurveyInvite struct {
	ID           string         `json:"id"`
	SurveyID     string         `json:"survey_id"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id,omitempty"`
	Contact      *InviteContact `json:"contact,omitempty"`
	TokenDigest  string         `json:"-"`
	Status       string         `json:"status"`
	OpenedAt     *time.Time     `json:"opened_at,omitempty"`
	RespondedAt  *time.Time     `json:"responded_at,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	MaxAttempts  int            `json:"max_attempts"`
	AttemptCount int            `json:"attempt_count"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Answer struct {
	QuestionID string `json:"questionId"`
	Answer     any    `json:"answer"`
}

type ResponseMetadata struct {
	Device    string `json:"device,omitempty"`
	Browser   string `json:"browser,omitempty"`
	OS        string `json:"os,omitempty"`
	Location  string `json:"location,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Sentiment and urgency values produced by the analyzer.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"

	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// NPS categories; promoter >= 9, detractor <= 6.
const (
	NPSPromoter  = "promoter"
	NPSPassive   = "passive"
	NPSDetractor = "detractor"
)

type Classification struct {
	IsComplaint  bool `json:"isComplaint"`
	IsPraise     bool `json:"isPraise"`
	IsSuggestion bool `json:"isSuggestion"`
}

// Analysis is written exactly once per response; AnalyzedAt doubles as the
// idempotency marker for queue replays.
type Analysis struct {
	Sentiment        string         `json:"sentiment"`
	SentimentScore   float64        `json:"sentimentScore"`
	Urgency          string         `json:"urgency"`
	Emotions         []string       `json:"emotions,omitempty"`
	Keywords         []string       `json:"keywords,omitempty"`
	Themes           []string       `json:"themes,omitempty"`
	Classification   Classification `json:"classification"`
	Summary          string         `json:"summary,omitempty"`
	NPSCategory      string         `json:"npsCategory,omitempty"`
	RatingCategory   string         `json:"ratingCategory,omitempty"`
	FlaggedForReview bool           `json:"flaggedForReview"`
	AnalyzedAt       *time.Time     `json:"analyzedAt,omitempty"`
}

type Response struct {
	ID             string           `json:"id"`
	SurveyID       string           `json:"survey_id"`
	TenantID       string           `json:"tenant_id"`
	InviteID       string           `json:"invite_id,omitempty"`
	ContactID      string           `json:"contact_id,omitempty"`
	Answers        []Answer         `json:"answers"`
	Review         string           `json:"review,omitempty"`
	Rating         *int             `json:"rating,omitempty"`
	Score          *int             `json:"score,omitempty"`
	IsAnonymous    bool             `json:"is_anonymous"`
	Email          string           `json:"email,omitempty"`
	IP             string           `json:"-"`
	Metadata       ResponseMetadata `json:"metadata"`
	CompletionTime *int             `json:"completion_time,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	Analysis       *Analysis        `json:"analysis,omitempty"`
}

// ContactSurveyStats is mutated exclusively by the stats aggregator; the
// rolling averages follow avg' = (avg*prevResponded + v) / (prevResponded+1).
type ContactSurveyStats struct {
	InvitedCount     int        `json:"invitedCount"`
	RespondedCount   int        `json:"respondedCount"`
	LastInvitedDate  *time.Time `json:"lastInvitedDate,omitempty"`
	LastResponseDate *time.Time `json:"lastResponseDate,omitempty"`
	LatestNPSScore   *float64   `json:"latestNpsScore,omitempty"`
	AvgNPSScore      *float64   `json:"avgNpsScore,omitempty"`
	NPSCategory      string     `json:"npsCategory,omitempty"`
	LatestRating     *float64   `json:"latestRating,omitempty"`
	AvgRating        *float64   `json:"avgRating,omitempty"`
}

type Contact struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenant_id"`
	Name         string             `json:"name,omitempty"`
	Email        string             `json:"email"`
	Phone        string             `json:"phone,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	AutoTags     []string           `json:"auto_tags,omitempty"`
	CategoryIDs  []string           `json:"category_ids"`
	Status       string             `json:"status,omitempty"`
	City         string             `json:"city,omitempty"`
	Country      string             `json:"country,omitempty"`
	Company      string             `json:"company,omitempty"`
	CompanySize  string             `json:"company_size,omitempty"`
	LastActivity *time.Time         `json:"last_activity,omitempty"`
	SurveyStats  ContactSurveyStats `json:"survey_stats"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Assignment rule modes.
const (
	ModeSingleOwner = "single_owner"
	ModeRoundRobin  = "round_robin"
	ModeLeastLoad   = "least_load"
)

type RuleCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // eq | contains
	Value    string `json:"value"`
}

type RuleAssignment struct {
	Mode        string   `json:"mode"`
	TargetUser  string   `json:"target_user,omitempty"`
	TargetTeam  string   `json:"target_team,omitempty"`
	TeamMembers []string `json:"team_members,omitempty"`
}

type AssignmentRule struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	Name              string          `json:"name,omitempty"`
	Priority          int             `json:"priority"`
	Conditions        []RuleCondition `json:"conditions"`
	Assignment        RuleAssignment  `json:"assignment"`
	PriorityOverride  string          `json:"priority_override,omitempty"`
	IsActive          bool            `json:"is_active"`
	LastAssignedIndex int             `json:"last_assigned_index"` // starts at -1
	CreatedAt         time.Time       `json:"created_at"`
}

// Action priorities and states.
const (
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
	PriorityLongTerm = "long-term"

	ActionPending    = "pending"
	ActionOpen       = "open"
	ActionInProgress = "in-progress"
	ActionResolved   = "resolved"

	SourceManual         = "manual"
	SourceSurveyFeedback = "survey_feedback"
	SourceAIGenerated    = "ai_generated"
)

type AssignmentEntry struct {
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	ToTeam string    `json:"to_team,omitempty"`
	By     string    `json:"by,omitempty"`
	At     time.Time `json:"at"`
	Auto   bool      `json:"auto"`
	Note   string    `json:"note,omitempty"`
}

type ActionSLA struct {
	TargetResolutionTime time.Time  `json:"targetResolutionTime"`
	RemindersSent        int        `json:"remindersSent"`
	NextReminderAt       *time.Time `json:"nextReminderAt,omitempty"`
	IsBreached           bool       `json:"isBreached"`
}

type Action struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	Priority          string            `json:"priority"`
	Status            string            `json:"status"`
	Source            string            `json:"source"`
	Category          string            `json:"category,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	FeedbackID        string            `json:"feedback_id,omitempty"`
	ResponseID        string            `json:"response_id,omitempty"`
	AssignedTo        string            `json:"assigned_to,omitempty"`
	AssignedToTeam    string            `json:"assigned_to_team,omitempty"`
	AutoAssigned      bool              `json:"auto_assigned"`
	AssignmentHistory []AssignmentEntry `json:"assignment_history,omitempty"`
	DueDate           time.Time         `json:"due_date"`
	SLA               ActionSLA         `json:"sla"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	CompletedBy       string            `json:"completed_by,omitempty"`
	IsDeleted         bool              `json:"is_deleted"`
	CreatedAt         time.Time         `json:"created_at"`
	CreatedBy         string            `json:"created_by,omitempty"`
}

// Recognition records non-actionable positive feedback for aggregation.
type Recognition struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	ResponseID string    `json:"response_id"`
	Themes     []string  `json:"themes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Alert struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Type      string    `json:"type"`
	Category  string    `json:"category"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Period    string    `json:"period"`
	Severity  string    `json:"severity"` // warning | critical
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type AudienceSegment struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Name      string         `json:"name"`
	Filters   map[string]any `json:"filters"`
	IsSystem  bool           `json:"is_system"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// User is the minimal tenant-member projection the pipeline needs for
// assignment validation; account CRUD lives outside this service.
type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Queue job states.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

type Job struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Payload     []byte    `json:"payload"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextRunAt   time.Time `json:"next_run_at"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type DeadLetter struct {
	ID            string    `json:"id"`
	OriginalJobID string    `json:"original_job_id"`
	Kind          string    `json:"kind"`
	Payload       []byte    `json:"payload"`
	ErrorMessage  string    `json:"error_message"`
	FailedAt      time.Time `json:"failed_at"`
}
