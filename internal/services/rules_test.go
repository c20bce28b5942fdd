package services

import (
	"testing"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/models"
)

func analyzed(sentiment, urgency string) *AnalysisResult {
	return &AnalysisResult{
		Analysis: models.Analysis{Sentiment: sentiment, Urgency: urgency},
	}
}

func withNPS(r *AnalysisResult, score float64) *AnalysisResult {
	r.Metrics.NPSScore = &score
	return r
}

func withRating(r *AnalysisResult, rating float64) *AnalysisResult {
	r.Metrics.Rating = &rating
	return r
}

// Every high-severity trigger must resolve to an effective priority of high.
func TestHighPriorityTriggers(t *testing.T) {
	cases := []struct {
		name   string
		result *AnalysisResult
		resp   *models.Response
	}{
		{"urgency high", analyzed(models.SentimentNegative, models.UrgencyHigh), &models.Response{}},
		{"rating at most 2", withRating(analyzed(models.SentimentNeutral, models.UrgencyLow), 2), &models.Response{}},
		{"nps at most 3", withNPS(analyzed(models.SentimentNeutral, models.UrgencyLow), 3), &models.Response{}},
		{"contact keyword", analyzed(models.SentimentNeutral, models.UrgencyLow), &models.Response{Review: "Please call me back about this"}},
		{"negative keyword", analyzed(models.SentimentNeutral, models.UrgencyLow), &models.Response{Review: "This was absolutely terrible"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := EvaluateRules(tc.result, tc.resp, nil)
			if ev.Candidate == nil {
				t.Fatal("no candidate produced")
			}
			if ev.Candidate.Priority != models.PriorityHigh {
				t.Fatalf("priority = %q, want high (rule %s)", ev.Candidate.Priority, ev.Candidate.RuleName)
			}
		})
	}
}

func TestPraiseProducesRecognitionNotAction(t *testing.T) {
	result := analyzed(models.SentimentPositive, models.UrgencyLow)
	result.Analysis.Classification.IsPraise = true
	ev := EvaluateRules(result, &models.Response{Review: "Excellent service"}, nil)
	if ev.Candidate != nil {
		t.Fatalf("praise created action via rule %s", ev.Candidate.RuleName)
	}
	if !ev.Recognition {
		t.Fatal("recognition not flagged")
	}
}

func TestNegativeHighUrgencyWinsOverDetractor(t *testing.T) {
	result := withNPS(analyzed(models.SentimentNegative, models.UrgencyHigh), 3)
	ev := EvaluateRules(result, &models.Response{}, nil)
	if ev.Candidate == nil || ev.Candidate.RuleName != "negativeHighUrgency" {
		t.Fatalf("primary rule = %+v, want negativeHighUrgency (catalog order breaks ties)", ev.Candidate)
	}
	if ev.Candidate.Category != "Customer Complaint" {
		t.Fatalf("category = %q", ev.Candidate.Category)
	}
}

func TestThemesMergedIntoTags(t *testing.T) {
	result := analyzed(models.SentimentNegative, models.UrgencyHigh)
	result.Analysis.Themes = []string{"billing", "support", "latency", "pricing"}
	ev := EvaluateRules(result, &models.Response{}, nil)
	if ev.Candidate == nil {
		t.Fatal("no candidate")
	}
	tags := map[string]bool{}
	for _, tag := range ev.Candidate.Tags {
		tags[tag] = true
	}
	for _, want := range []string{"negative", "urgent", "billing", "support", "latency"} {
		if !tags[want] {
			t.Errorf("tag %q missing from %v", want, ev.Candidate.Tags)
		}
	}
	if tags["pricing"] {
		t.Error("more than three themes merged")
	}
}

func TestNeutralWithoutFlagEmitsNothing(t *testing.T) {
	ev := EvaluateRules(analyzed(models.SentimentNeutral, models.UrgencyLow), &models.Response{Review: "it was fine"}, nil)
	if ev.Candidate != nil {
		t.Fatalf("unexpected candidate %+v", ev.Candidate)
	}
}

func TestAnalyzerFlagProducesGenericCandidate(t *testing.T) {
	result := analyzed(models.SentimentNeutral, models.UrgencyMedium)
	result.ShouldGenerateAction = true
	ev := EvaluateRules(result, &models.Response{}, nil)
	if ev.Candidate == nil {
		t.Fatal("no candidate despite analyzer flag")
	}
	if ev.Candidate.RuleName != "analyzerFlag" || ev.Candidate.Priority != models.PriorityMedium {
		t.Fatalf("candidate = %+v", ev.Candidate)
	}
}

func TestTenantOverrideDisablesRule(t *testing.T) {
	disabled := false
	overrides := config.TenantOverrides{
		"negativeHighUrgency": {Enabled: &disabled},
	}
	result := analyzed(models.SentimentNegative, models.UrgencyHigh)
	ev := EvaluateRules(result, &models.Response{}, overrides)
	if ev.Candidate != nil {
		t.Fatalf("disabled rule still fired: %+v", ev.Candidate)
	}
}

func TestTenantOverrideReplacesPriority(t *testing.T) {
	overrides := config.TenantOverrides{
		"complaint": {Priority: models.PriorityHigh},
	}
	result := analyzed(models.SentimentNeutral, models.UrgencyLow)
	result.Analysis.Classification.IsComplaint = true
	ev := EvaluateRules(result, &models.Response{}, overrides)
	if ev.Candidate == nil || ev.Candidate.Priority != models.PriorityHigh {
		t.Fatalf("candidate = %+v, want overridden high priority", ev.Candidate)
	}
}
