package store

import (
	"time"

	"github.com/cadencehq/cadence/internal/models"
)

// applyInviteStats bumps the invite counters. Shared by both store
// implementations so the recurrence stays identical.
func applyInviteStats(s *models.ContactSurveyStats, date time.Time) {
	s.InvitedCount++
	d := date
	s.LastInvitedDate = &d
}

// applyResponseStats applies one response event using the rolling-average
// recurrence avg' = (avg*prev + v) / (prev+1), where prev is the responded
// count before this event.
func applyResponseStats(s *models.ContactSurveyStats, nps, rating *float64, date time.Time) {
	prev := s.RespondedCount
	s.RespondedCount = prev + 1
	d := date
	s.LastResponseDate = &d

	if nps != nil {
		v := *nps
		s.LatestNPSScore = &v
		s.NPSCategory = npsCategory(v)
		avg := rollAverage(s.AvgNPSScore, prev, v)
		s.AvgNPSScore = &avg
	}
	if rating != nil {
		v := *rating
		s.LatestRating = &v
		avg := rollAverage(s.AvgRating, prev, v)
		s.AvgRating = &avg
	}
}

func rollAverage(old *float64, prev int, v float64) float64 {
	if old == nil || prev == 0 {
		return v
	}
	return (*old*float64(prev) + v) / float64(prev+1)
}

func npsCategory(score float64) string {
	switch {
	case score >= 9:
		return models.NPSPromoter
	case score <= 6:
		return models.NPSDetractor
	default:
		return models.NPSPassive
	}
}
