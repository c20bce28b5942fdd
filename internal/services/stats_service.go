package services

import (
	"errors"
	"time"

	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

// StatsStore is the slice of the store the aggregator needs.
type StatsStore interface {
	ApplyContactInvite(tenantID, email string, date time.Time) error
	ApplyContactResponse(tenantID, email string, nps, rating *float64, date time.Time) error
	GetContactByEmail(tenantID, email string) (*models.Contact, error)
	UpdateContactStats(tenantID, contactID string, stats models.ContactSurveyStats, lastActivity *time.Time) error
	ListInvitesByEmail(tenantID, email string) ([]*models.SurveyInvite, error)
	ListResponsesByEmail(tenantID, email string) ([]*models.Response, error)
}

// StatsService maintains per-contact survey aggregates. The per-event writes
// are atomic in the store; this service only decides what to apply. Events
// for emails without a matching contact are dropped silently.
type StatsService struct {
	store StatsStore
	now   func() time.Time
}

func NewStatsService(s StatsStore) *StatsService {
	return &StatsService{store: s, now: time.Now}
}

func (s *StatsService) OnSurveyInvite(tenantID, email string, date time.Time) error {
	if email == "" {
		return nil
	}
	err := s.store.ApplyContactInvite(tenantID, email, date)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return NewIntegrityError("contact invite stats update failed: " + err.Error())
	}
	return nil
}

func (s *StatsService) OnSurveyResponse(tenantID, email string, nps, rating *float64, date time.Time) error {
	if email == "" {
		return nil
	}
	err := s.store.ApplyContactResponse(tenantID, email, nps, rating, date)
	if errors.Is(err, store.ErrNotFound) {
		logx.Event("stats.no_contact_for_email", map[string]any{"tenant": tenantID})
		return nil
	}
	if err != nil {
		// A failed conditional update means the recurrence can no longer be
		// trusted; the job must fail loudly rather than retry silently.
		return NewIntegrityError("contact response stats update failed: " + err.Error())
	}
	return nil
}

// Recalculate rebuilds a contact's aggregates from the invite and response
// records. This is the authoritative repair procedure for drifted stats.
func (s *StatsService) Recalculate(tenantID, email string) (*models.ContactSurveyStats, error) {
	contact, err := s.store.GetContactByEmail(tenantID, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError("contact not found")
		}
		return nil, err
	}

	invites, err := s.store.ListInvitesByEmail(tenantID, email)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListResponsesByEmail(tenantID, email)
	if err != nil {
		return nil, err
	}

	stats := models.ContactSurveyStats{InvitedCount: len(invites)}
	for _, inv := range invites {
		if stats.LastInvitedDate == nil || inv.CreatedAt.After(*stats.LastInvitedDate) {
			d := inv.CreatedAt
			stats.LastInvitedDate = &d
		}
	}

	var npsSum, ratingSum float64
	var npsCount, ratingCount int
	var lastActivity *time.Time
	for _, resp := range responses {
		stats.RespondedCount++
		d := resp.SubmittedAt
		if stats.LastResponseDate == nil || d.After(*stats.LastResponseDate) {
			stats.LastResponseDate = &d
			lastActivity = &d
		}
		if resp.Score != nil {
			v := float64(*resp.Score)
			npsSum += v
			npsCount++
			stats.LatestNPSScore = &v
			stats.NPSCategory = NPSCategory(v)
		}
		if resp.Rating != nil {
			v := float64(*resp.Rating)
			ratingSum += v
			ratingCount++
			stats.LatestRating = &v
		}
	}
	if npsCount > 0 {
		avg := npsSum / float64(npsCount)
		stats.AvgNPSScore = &avg
	}
	if ratingCount > 0 {
		avg := ratingSum / float64(ratingCount)
		stats.AvgRating = &avg
	}

	if err := s.store.UpdateContactStats(tenantID, contact.ID, stats, lastActivity); err != nil {
		return nil, err
	}
	logx.Event("stats.recalculated", map[string]any{
		"tenant": tenantID, "contact": contact.ID,
		"invited": stats.InvitedCount, "responded": stats.RespondedCount,
	})
	return &stats, nil
}
