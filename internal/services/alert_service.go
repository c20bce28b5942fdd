package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/notify"
)

// AlertStore is the slice of the store the detector needs.
type AlertStore interface {
	CountActionsByCategory(tenantID string, since time.Time, sources []string) (map[string]int, error)
	InsertAlert(a *models.Alert) error
	AlertExistsSince(tenantID, category string, since time.Time) (bool, error)
	ListAlerts(tenantID string, limit int) ([]*models.Alert, error)
}

// AlertService detects repeated complaint themes within a rolling window.
// Runs after every action creation and periodically.
type AlertService struct {
	store AlertStore
	sink  notify.Sink
	cfg   config.AlertConfig

	now         func() time.Time
	idGenerator func() string
}

func NewAlertService(s AlertStore, sink notify.Sink, cfg config.AlertConfig) *AlertService {
	if sink == nil {
		sink = notify.NoopSink{}
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 24
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	return &AlertService{store: s, sink: sink, cfg: cfg, now: time.Now, idGenerator: uuid.NewString}
}

var alertSources = []string{models.SourceAIGenerated, models.SourceSurveyFeedback}

// CheckRepeatedComplaints groups recent generated actions by category and
// raises one alert per category crossing the threshold. A category that
// already alerted inside the window is not alerted again.
func (s *AlertService) CheckRepeatedComplaints(ctx context.Context, tenantID string) ([]*models.Alert, error) {
	now := s.now().UTC()
	since := now.Add(-time.Duration(s.cfg.WindowHours) * time.Hour)

	counts, err := s.store.CountActionsByCategory(tenantID, since, alertSources)
	if err != nil {
		return nil, err
	}

	var raised []*models.Alert
	for category, count := range counts {
		if count < s.cfg.Threshold {
			continue
		}
		exists, err := s.store.AlertExistsSince(tenantID, category, since)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		severity := "warning"
		if count >= 2*s.cfg.Threshold {
			severity = "critical"
		}
		alert := &models.Alert{
			ID:        s.idGenerator(),
			TenantID:  tenantID,
			Type:      "repeated_complaint",
			Category:  category,
			Count:     count,
			Threshold: s.cfg.Threshold,
			Period:    fmt.Sprintf("%dh", s.cfg.WindowHours),
			Severity:  severity,
			Message:   fmt.Sprintf("%d actions in category %q within the last %dh", count, category, s.cfg.WindowHours),
			CreatedAt: now,
		}
		if err := s.store.InsertAlert(alert); err != nil {
			return nil, err
		}
		raised = append(raised, alert)
		logx.Event("alert.raised", map[string]any{
			"tenant": tenantID, "category": category, "count": count, "severity": severity,
		})
		if err := s.sink.Publish(ctx, notify.Event{
			Type: notify.EventAlertRaised, TenantID: tenantID, Message: alert.Message, At: now,
		}); err != nil {
			logx.Error("notify.publish_failed", err, map[string]any{"type": notify.EventAlertRaised})
		}
	}
	return raised, nil
}

func (s *AlertService) List(tenantID string, limit int) ([]*models.Alert, error) {
	return s.store.ListAlerts(tenantID, limit)
}
