package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cadencehq/cadence/internal/llm"
	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/models"
)

const analysisMaxTokens = 800

// AnalyzerService turns a raw response into the analysis block. LLM failures
// never fail the caller: the neutral fallback is the canonical degraded
// output and the failure is only logged.
type AnalyzerService struct {
	llm llm.Client
	now func() time.Time
}

func NewAnalyzerService(client llm.Client) *AnalyzerService {
	return &AnalyzerService{llm: client, now: time.Now}
}

// AnalysisResult couples the persisted analysis with values that only steer
// the rest of the pipeline.
type AnalysisResult struct {
	Analysis             models.Analysis
	Metrics              Metrics
	ShouldGenerateAction bool
	UsedFallback         bool
}

// llmAnalysis is the JSON shape requested from the model.
type llmAnalysis struct {
	Sentiment            string   `json:"sentiment"`
	SentimentScore       float64  `json:"sentimentScore"`
	Urgency              string   `json:"urgency"`
	Emotions             []string `json:"emotions"`
	Keywords             []string `json:"keywords"`
	Themes               []string `json:"themes"`
	IsComplaint          bool     `json:"isComplaint"`
	IsPraise             bool     `json:"isPraise"`
	IsSuggestion         bool     `json:"isSuggestion"`
	Summary              string   `json:"summary"`
	ShouldGenerateAction bool     `json:"shouldGenerateAction"`
	FlaggedForReview     bool     `json:"flaggedForReview"`
}

func (s *AnalyzerService) Analyze(ctx context.Context, resp *models.Response, survey *models.Survey) *AnalysisResult {
	metrics := ExtractMetrics(resp, survey)

	parsed, usedFallback := s.classify(ctx, resp, survey)

	now := s.now().UTC()
	analysis := models.Analysis{
		Sentiment:      parsed.Sentiment,
		SentimentScore: parsed.SentimentScore,
		Urgency:        parsed.Urgency,
		Emotions:       parsed.Emotions,
		Keywords:       parsed.Keywords,
		Themes:         parsed.Themes,
		Classification: models.Classification{
			IsComplaint:  parsed.IsComplaint,
			IsPraise:     parsed.IsPraise,
			IsSuggestion: parsed.IsSuggestion,
		},
		Summary:          parsed.Summary,
		NPSCategory:      metrics.NPSCategory,
		RatingCategory:   metrics.RatingCategory,
		FlaggedForReview: parsed.FlaggedForReview,
		AnalyzedAt:       &now,
	}
	return &AnalysisResult{
		Analysis:             analysis,
		Metrics:              metrics,
		ShouldGenerateAction: parsed.ShouldGenerateAction,
		UsedFallback:         usedFallback,
	}
}

func (s *AnalyzerService) classify(ctx context.Context, resp *models.Response, survey *models.Survey) (llmAnalysis, bool) {
	prompt := buildAnalysisPrompt(resp, survey)
	text, err := s.llm.Complete(ctx, prompt, analysisMaxTokens)
	if err != nil {
		logx.Error("analyzer.llm_failed", err, map[string]any{
			"tenant": resp.TenantID, "survey": resp.SurveyID, "response": resp.ID,
		})
		return neutralFallback(), true
	}
	parsed, err := parseAnalysisJSON(text)
	if err != nil {
		logx.Error("analyzer.parse_failed", err, map[string]any{
			"tenant": resp.TenantID, "response": resp.ID,
		})
		return neutralFallback(), true
	}
	return normalizeAnalysis(parsed), false
}

func neutralFallback() llmAnalysis {
	return llmAnalysis{
		Sentiment:            models.SentimentNeutral,
		Urgency:              models.UrgencyLow,
		ShouldGenerateAction: false,
	}
}

func normalizeAnalysis(a llmAnalysis) llmAnalysis {
	switch a.Sentiment {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
	default:
		a.Sentiment = models.SentimentNeutral
	}
	switch a.Urgency {
	case models.UrgencyLow, models.UrgencyMedium, models.UrgencyHigh:
	default:
		a.Urgency = models.UrgencyLow
	}
	if a.SentimentScore > 1 {
		a.SentimentScore = 1
	}
	if a.SentimentScore < -1 {
		a.SentimentScore = -1
	}
	return a
}

// parseAnalysisJSON tolerates the usual model output wrappers: optional
// markdown code fences around the payload and prose before or after the
// outer object.
func parseAnalysisJSON(text string) (llmAnalysis, error) {
	var out llmAnalysis
	cleaned := stripCodeFence(text)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return out, fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil {
		return out, fmt.Errorf("decode model output: %w", err)
	}
	return out, nil
}

func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	if i := strings.LastIndex(t, "```"); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func buildAnalysisPrompt(resp *models.Response, survey *models.Survey) string {
	var b strings.Builder
	b.WriteString("You analyze customer survey feedback. Respond with a single JSON object, no prose, with exactly these fields:\n")
	b.WriteString(`{"sentiment":"positive|neutral|negative","sentimentScore":-1..1,"urgency":"low|medium|high","emotions":[],"keywords":[],"themes":[],"isComplaint":bool,"isPraise":bool,"isSuggestion":bool,"summary":"one sentence","shouldGenerateAction":bool,"flaggedForReview":bool}`)
	b.WriteString("\n\nSurvey: ")
	b.WriteString(survey.Title)
	b.WriteString("\n")

	questions := map[string]models.Question{}
	for _, q := range survey.Questions {
		questions[q.ID] = q
	}
	for _, ans := range resp.Answers {
		q, ok := questions[ans.QuestionID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "Q: %s\nA: %v\n", q.Text, ans.Answer)
	}
	if resp.Review != "" {
		b.WriteString("Review: ")
		b.WriteString(resp.Review)
		b.WriteString("\n")
	}
	if resp.Rating != nil {
		fmt.Fprintf(&b, "Rating: %d/5\n", *resp.Rating)
	}
	if resp.Score != nil {
		fmt.Fprintf(&b, "NPS score: %d/10\n", *resp.Score)
	}
	return b.String()
}
