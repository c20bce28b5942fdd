package services

import (
	"sort"
	"strings"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/models"
)

// Rule kinds. Each catalog entry is a value interpreted by evaluateRule, so
// the catalog can be disabled or re-prioritized per tenant without code.
const (
	ruleSentimentUrgency = "sentiment_urgency"
	ruleRatingMax        = "rating_max"
	ruleScoreRange       = "score_range"
	ruleKeyword          = "keyword"
	ruleClassification   = "classification"
)

type RuleSpec struct {
	Name string
	Kind string

	// Predicate parameters; which ones apply depends on Kind.
	Sentiment      string
	Urgency        string
	MaxRating      float64
	MinScore       float64
	MaxScore       float64
	Keywords       []string
	Classification string

	// Action template.
	Title        string
	Category     string
	Priority     string
	Tags         []string
	CreateAction bool
}

var contactKeywords = []string{
	"contact me", "call me", "call back", "callback", "reach out", "get in touch", "follow up with me",
}

var negativeLexicon = []string{
	"terrible", "awful", "horrible", "worst", "unacceptable", "disappointed",
	"refund", "cancel my", "broken", "useless", "scam", "furious", "angry",
}

// ruleCatalog is the fixed, ordered rule set. Order breaks priority ties.
var ruleCatalog = []RuleSpec{
	{Name: "negativeHighUrgency", Kind: ruleSentimentUrgency, Sentiment: models.SentimentNegative, Urgency: models.UrgencyHigh,
		Title: "Urgent: negative feedback requires attention", Category: "Customer Complaint",
		Priority: models.PriorityHigh, Tags: []string{"negative", "urgent"}, CreateAction: true},
	{Name: "lowRating", Kind: ruleRatingMax, MaxRating: 2,
		Title: "Follow up on low rating", Category: "Low Rating",
		Priority: models.PriorityHigh, Tags: []string{"low-rating"}, CreateAction: true},
	{Name: "severeDetractor", Kind: ruleScoreRange, MinScore: 0, MaxScore: 3,
		Title: "Recover severe detractor", Category: "Detractor Recovery",
		Priority: models.PriorityHigh, Tags: []string{"detractor", "churn-risk"}, CreateAction: true},
	{Name: "contactRequest", Kind: ruleKeyword, Keywords: contactKeywords,
		Title: "Customer requested contact", Category: "Callback",
		Priority: models.PriorityHigh, Tags: []string{"callback"}, CreateAction: true},
	{Name: "negativeKeywords", Kind: ruleKeyword, Keywords: negativeLexicon,
		Title: "Negative language in feedback", Category: "Customer Complaint",
		Priority: models.PriorityHigh, Tags: []string{"negative"}, CreateAction: true},
	{Name: "negativeMediumUrgency", Kind: ruleSentimentUrgency, Sentiment: models.SentimentNegative, Urgency: models.UrgencyMedium,
		Title: "Address negative feedback", Category: "Customer Complaint",
		Priority: models.PriorityMedium, Tags: []string{"negative"}, CreateAction: true},
	{Name: "detractor", Kind: ruleScoreRange, MinScore: 4, MaxScore: 6,
		Title: "Follow up with detractor", Category: "Detractor Follow-up",
		Priority: models.PriorityMedium, Tags: []string{"detractor"}, CreateAction: true},
	{Name: "complaint", Kind: ruleClassification, Classification: "complaint",
		Title: "Resolve customer complaint", Category: "Customer Complaint",
		Priority: models.PriorityMedium, Tags: []string{"complaint"}, CreateAction: true},
	{Name: "negativeLowUrgency", Kind: ruleSentimentUrgency, Sentiment: models.SentimentNegative, Urgency: models.UrgencyLow,
		Title: "Review negative feedback", Category: "Customer Feedback",
		Priority: models.PriorityLow, Tags: []string{"negative"}, CreateAction: true},
	{Name: "suggestion", Kind: ruleClassification, Classification: "suggestion",
		Title: "Evaluate customer suggestion", Category: "Suggestion",
		Priority: models.PriorityLongTerm, Tags: []string{"suggestion"}, CreateAction: true},
	{Name: "praise", Kind: ruleClassification, Classification: "praise",
		Title: "", Category: "Praise", Priority: models.PriorityLow, CreateAction: false},
}

var priorityRank = map[string]int{
	models.PriorityHigh:     3,
	models.PriorityMedium:   2,
	models.PriorityLow:      1,
	models.PriorityLongTerm: 0,
}

// ActionCandidate is what the evaluator hands to the assignment engine and
// action writer.
type ActionCandidate struct {
	Title       string
	Description string
	Priority    string
	Category    string
	Tags        []string
	RuleName    string
}

// Evaluation is the full outcome for one response.
type Evaluation struct {
	Candidate    *ActionCandidate
	MatchedRules []string
	// Recognition is true when a no-action rule (praise) matched.
	Recognition bool
}

// EvaluateRules runs the catalog over one analyzed response. Overrides can
// disable individual rules or replace their priority for the tenant.
func EvaluateRules(result *AnalysisResult, resp *models.Response, overrides config.TenantOverrides) Evaluation {
	text := responseText(resp)
	var matched []RuleSpec
	ev := Evaluation{}

	for _, rule := range ruleCatalog {
		effective := rule
		if ov, ok := overrides[rule.Name]; ok {
			if ov.Enabled != nil && !*ov.Enabled {
				continue
			}
			if ov.Priority != "" {
				effective.Priority = ov.Priority
			}
		}
		if !evaluateRule(effective, result, text) {
			continue
		}
		ev.MatchedRules = append(ev.MatchedRules, effective.Name)
		if !effective.CreateAction {
			ev.Recognition = true
			continue
		}
		matched = append(matched, effective)
	}

	if len(matched) == 0 {
		if !result.ShouldGenerateAction {
			return ev
		}
		ev.Candidate = genericCandidate(result)
		return ev
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return priorityRank[matched[i].Priority] > priorityRank[matched[j].Priority]
	})
	primary := matched[0]
	ev.Candidate = &ActionCandidate{
		Title:       primary.Title,
		Description: result.Analysis.Summary,
		Priority:    primary.Priority,
		Category:    primary.Category,
		Tags:        mergeTags(primary.Tags, topThemes(result.Analysis.Themes, 3)),
		RuleName:    primary.Name,
	}
	return ev
}

func evaluateRule(rule RuleSpec, result *AnalysisResult, text string) bool {
	switch rule.Kind {
	case ruleSentimentUrgency:
		return result.Analysis.Sentiment == rule.Sentiment && result.Analysis.Urgency == rule.Urgency
	case ruleRatingMax:
		return result.Metrics.Rating != nil && *result.Metrics.Rating <= rule.MaxRating
	case ruleScoreRange:
		return result.Metrics.NPSScore != nil &&
			*result.Metrics.NPSScore >= rule.MinScore && *result.Metrics.NPSScore <= rule.MaxScore
	case ruleKeyword:
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false
	case ruleClassification:
		switch rule.Classification {
		case "complaint":
			return result.Analysis.Classification.IsComplaint
		case "praise":
			return result.Analysis.Classification.IsPraise
		case "suggestion":
			return result.Analysis.Classification.IsSuggestion
		}
	}
	return false
}

// genericCandidate covers the case where the analyzer asked for an action but
// no catalog rule matched.
func genericCandidate(result *AnalysisResult) *ActionCandidate {
	priority := models.PriorityLow
	switch result.Analysis.Urgency {
	case models.UrgencyHigh:
		priority = models.PriorityHigh
	case models.UrgencyMedium:
		priority = models.PriorityMedium
	}
	return &ActionCandidate{
		Title:       "Follow up on customer feedback",
		Description: result.Analysis.Summary,
		Priority:    priority,
		Category:    "Customer Feedback",
		Tags:        topThemes(result.Analysis.Themes, 3),
		RuleName:    "analyzerFlag",
	}
}

func responseText(resp *models.Response) string {
	var parts []string
	if resp.Review != "" {
		parts = append(parts, resp.Review)
	}
	for _, ans := range resp.Answers {
		if s, ok := ans.Answer.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func topThemes(themes []string, n int) []string {
	if len(themes) > n {
		themes = themes[:n]
	}
	return themes
}

func mergeTags(base, extra []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range append(append([]string{}, base...), extra...) {
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
