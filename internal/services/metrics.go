package services

import (
	"math"
	"strconv"
	"strings"

	"github.com/cadencehq/cadence/internal/models"
)

// Metrics are the quantitative values derived from typed answers,
// independently of the LLM analysis.
type Metrics struct {
	NPSScore        *float64
	Rating          *float64
	AvgRating       *float64
	NormalizedScore *float64
	NPSCategory     string
	RatingCategory  string
}

// textualAnswers maps common verbal answers to numeric values. Likert-style
// phrases land on the NPS scale, quality words on the 1-5 rating scale.
var textualAnswers = map[string]float64{
	"very likely":   9,
	"likely":        7,
	"neutral":       5,
	"unlikely":      3,
	"very unlikely": 1,
	"excellent":     5,
	"good":          4,
	"average":       3,
	"poor":          2,
	"terrible":      1,
}

// ExtractMetrics walks the answers against the survey's question snapshot.
// The first nps answer and the first rating-class answer win; every
// rating-class answer contributes to the average.
func ExtractMetrics(resp *models.Response, survey *models.Survey) Metrics {
	questions := map[string]models.Question{}
	for _, q := range survey.Questions {
		questions[q.ID] = q
	}

	var m Metrics
	var allRatings []float64
	for _, ans := range resp.Answers {
		q, ok := questions[ans.QuestionID]
		if !ok {
			continue
		}
		v, ok := parseAnswerValue(ans.Answer)
		if !ok {
			continue
		}
		switch q.Type {
		case models.QuestionNPS:
			if m.NPSScore == nil {
				clamped := math.Max(0, math.Min(10, v))
				m.NPSScore = &clamped
			}
		case models.QuestionRating, models.QuestionScale, models.QuestionLikert:
			if m.Rating == nil {
				r := v
				m.Rating = &r
			}
			allRatings = append(allRatings, v)
		}
	}

	// Top-level fields backstop surveys without typed questions.
	if m.NPSScore == nil && resp.Score != nil {
		v := math.Max(0, math.Min(10, float64(*resp.Score)))
		m.NPSScore = &v
	}
	if m.Rating == nil && resp.Rating != nil {
		v := float64(*resp.Rating)
		m.Rating = &v
		allRatings = append(allRatings, v)
	}

	if len(allRatings) > 0 {
		var sum float64
		for _, v := range allRatings {
			sum += v
		}
		avg := math.Round(sum/float64(len(allRatings))*100) / 100
		m.AvgRating = &avg
	}
	if m.NPSScore != nil {
		m.NPSCategory = NPSCategory(*m.NPSScore)
		norm := *m.NPSScore / 10
		m.NormalizedScore = &norm
	}
	if m.Rating != nil {
		m.RatingCategory = RatingCategory(*m.Rating)
	}
	return m
}

func parseAnswerValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		if f, ok := textualAnswers[s]; ok {
			return f, true
		}
	}
	return 0, false
}

// NPSCategory buckets a 0-10 score: promoter >= 9, detractor <= 6.
func NPSCategory(score float64) string {
	switch {
	case score >= 9:
		return models.NPSPromoter
	case score <= 6:
		return models.NPSDetractor
	default:
		return models.NPSPassive
	}
}

// RatingCategory buckets a 1-5 rating into five bands.
func RatingCategory(rating float64) string {
	switch {
	case rating >= 4.5:
		return "excellent"
	case rating >= 3.5:
		return "good"
	case rating >= 2.5:
		return "average"
	case rating >= 1.5:
		return "poor"
	default:
		return "critical"
	}
}
