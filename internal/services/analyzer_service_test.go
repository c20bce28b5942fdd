package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cadencehq/cadence/internal/models"
)

type fakeLLM struct {
	out string
	err error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f.out, f.err
}

func testAnalyzer(out string, err error) *AnalyzerService {
	a := NewAnalyzerService(&fakeLLM{out: out, err: err})
	a.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	out := "```json\n{\"sentiment\":\"negative\",\"sentimentScore\":-0.8,\"urgency\":\"high\",\"themes\":[\"support\",\"billing\"],\"isComplaint\":true,\"summary\":\"Customer is unhappy with support.\",\"shouldGenerateAction\":true}\n```"
	a := testAnalyzer(out, nil)
	survey := surveyWithQuestions(models.Question{ID: "q1", Type: models.QuestionText})
	resp := &models.Response{ID: "r1", Answers: []models.Answer{{QuestionID: "q1", Answer: "support is terrible"}}}

	result := a.Analyze(context.Background(), resp, survey)
	if result.UsedFallback {
		t.Fatal("fallback used on valid output")
	}
	if result.Analysis.Sentiment != models.SentimentNegative || result.Analysis.Urgency != models.UrgencyHigh {
		t.Fatalf("analysis = %+v", result.Analysis)
	}
	if !result.Analysis.Classification.IsComplaint {
		t.Fatal("isComplaint not carried over")
	}
	if !result.ShouldGenerateAction {
		t.Fatal("shouldGenerateAction not carried over")
	}
	if result.Analysis.AnalyzedAt == nil {
		t.Fatal("analyzedAt not stamped")
	}
}

func TestAnalyzeExtractsObjectFromProse(t *testing.T) {
	out := "Here is the analysis you asked for:\n{\"sentiment\":\"positive\",\"urgency\":\"low\",\"isPraise\":true}\nLet me know if you need anything else."
	a := testAnalyzer(out, nil)
	resp := &models.Response{ID: "r1"}
	result := a.Analyze(context.Background(), resp, surveyWithQuestions())
	if result.UsedFallback {
		t.Fatal("fallback used despite extractable object")
	}
	if result.Analysis.Sentiment != models.SentimentPositive || !result.Analysis.Classification.IsPraise {
		t.Fatalf("analysis = %+v", result.Analysis)
	}
}

func TestAnalyzeFallbackOnGarbage(t *testing.T) {
	a := testAnalyzer("I could not produce JSON, sorry.", nil)
	resp := &models.Response{ID: "r1"}
	result := a.Analyze(context.Background(), resp, surveyWithQuestions())
	if !result.UsedFallback {
		t.Fatal("expected fallback")
	}
	if result.Analysis.Sentiment != models.SentimentNeutral || result.Analysis.Urgency != models.UrgencyLow {
		t.Fatalf("fallback analysis = %+v", result.Analysis)
	}
	if result.ShouldGenerateAction {
		t.Fatal("fallback must not request an action")
	}
}

func TestAnalyzeFallbackOnLLMError(t *testing.T) {
	a := testAnalyzer("", errors.New("deadline exceeded"))
	resp := &models.Response{ID: "r1"}
	result := a.Analyze(context.Background(), resp, surveyWithQuestions())
	if !result.UsedFallback {
		t.Fatal("expected fallback on transport error")
	}
	if result.Analysis.AnalyzedAt == nil {
		t.Fatal("fallback must still stamp analyzedAt")
	}
}

func TestAnalyzeNormalizesUnknownEnums(t *testing.T) {
	a := testAnalyzer(`{"sentiment":"ecstatic","urgency":"apocalyptic","sentimentScore":3}`, nil)
	resp := &models.Response{ID: "r1"}
	result := a.Analyze(context.Background(), resp, surveyWithQuestions())
	if result.Analysis.Sentiment != models.SentimentNeutral {
		t.Fatalf("sentiment = %q, want neutral", result.Analysis.Sentiment)
	}
	if result.Analysis.Urgency != models.UrgencyLow {
		t.Fatalf("urgency = %q, want low", result.Analysis.Urgency)
	}
	if result.Analysis.SentimentScore != 1 {
		t.Fatalf("sentimentScore = %v, want clamped 1", result.Analysis.SentimentScore)
	}
}

func TestAnalyzeCarriesMetricsCategories(t *testing.T) {
	a := testAnalyzer(`{"sentiment":"negative","urgency":"medium"}`, nil)
	survey := surveyWithQuestions(
		models.Question{ID: "q1", Type: models.QuestionNPS},
		models.Question{ID: "q2", Type: models.QuestionRating},
	)
	resp := &models.Response{ID: "r1", Answers: []models.Answer{
		{QuestionID: "q1", Answer: float64(2)},
		{QuestionID: "q2", Answer: float64(1)},
	}}
	result := a.Analyze(context.Background(), resp, survey)
	if result.Analysis.NPSCategory != models.NPSDetractor {
		t.Fatalf("npsCategory = %q", result.Analysis.NPSCategory)
	}
	if result.Analysis.RatingCategory != "critical" {
		t.Fatalf("ratingCategory = %q", result.Analysis.RatingCategory)
	}
}
