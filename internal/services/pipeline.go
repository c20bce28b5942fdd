package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

// PipelineStore is the slice of the store the processor itself touches; the
// composed services bring their own.
type PipelineStore interface {
	GetResponse(id string) (*models.Response, error)
	GetSurvey(id string) (*models.Survey, error)
	SetResponseAnalysis(id string, a *models.Analysis) (bool, error)
	ListResponsesByIDs(tenantID string, ids []string) ([]*models.Response, error)
}

// Processor runs the post-response pipeline for one job: analyze, aggregate
// contact stats, evaluate rules, assign, write the action, and check alerts.
// It is replay safe: a response whose analysis is already written is skipped
// wholesale.
type Processor struct {
	store     PipelineStore
	analyzer  *AnalyzerService
	stats     *StatsService
	assigner  *AssignmentService
	actions   *ActionService
	alerts    *AlertService
	overrides *config.RuleOverrides
}

func NewProcessor(
	s PipelineStore,
	analyzer *AnalyzerService,
	stats *StatsService,
	assigner *AssignmentService,
	actions *ActionService,
	alerts *AlertService,
	overrides *config.RuleOverrides,
) *Processor {
	return &Processor{
		store:     s,
		analyzer:  analyzer,
		stats:     stats,
		assigner:  assigner,
		actions:   actions,
		alerts:    alerts,
		overrides: overrides,
	}
}

// HandleJob is the queue handler for JobKindProcessResponse.
func (p *Processor) HandleJob(ctx context.Context, job *models.Job) error {
	var payload ProcessJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode process payload: %w", err)
	}
	return p.Process(ctx, payload)
}

func (p *Processor) Process(ctx context.Context, payload ProcessJobPayload) error {
	resp, err := p.store.GetResponse(payload.ResponseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The response is gone; retrying cannot help.
			logx.Event("pipeline.response_missing", map[string]any{"response": payload.ResponseID})
			return nil
		}
		return err
	}
	if resp.Analysis != nil && resp.Analysis.AnalyzedAt != nil {
		logx.Event("pipeline.already_analyzed", map[string]any{
			"tenant": resp.TenantID, "response": resp.ID,
		})
		return nil
	}

	survey, err := p.store.GetSurvey(resp.SurveyID)
	if err != nil {
		return err
	}

	result := p.analyzer.Analyze(ctx, resp, survey)
	wrote, err := p.store.SetResponseAnalysis(resp.ID, &result.Analysis)
	if err != nil {
		return err
	}
	if !wrote {
		// Another worker beat us to it; everything downstream is theirs.
		return nil
	}

	if resp.Email != "" {
		if err := p.stats.OnSurveyResponse(resp.TenantID, resp.Email,
			result.Metrics.NPSScore, result.Metrics.Rating, resp.SubmittedAt); err != nil {
			return err
		}
	}

	if _, err := p.generateAction(ctx, resp, result); err != nil {
		return err
	}

	logx.Event("pipeline.processed", map[string]any{
		"tenant": resp.TenantID, "survey": resp.SurveyID, "response": resp.ID,
		"sentiment": result.Analysis.Sentiment, "fallback": result.UsedFallback,
	})
	return nil
}

// generateAction runs rule evaluation, assignment, and the action writer for
// one analyzed response.
func (p *Processor) generateAction(ctx context.Context, resp *models.Response, result *AnalysisResult) (*models.Action, error) {
	var overrides config.TenantOverrides
	if p.overrides != nil {
		overrides = p.overrides.ForTenant(resp.TenantID)
	}
	evaluation := EvaluateRules(result, resp, overrides)

	if evaluation.Recognition {
		if err := p.actions.RecordRecognition(resp.TenantID, resp, result.Analysis.Themes); err != nil {
			return nil, err
		}
	}
	if evaluation.Candidate == nil {
		return nil, nil
	}

	decision, err := p.assigner.Resolve(resp.TenantID, evaluation.Candidate, resp)
	if err != nil {
		return nil, err
	}
	action, err := p.actions.CreateFromCandidate(ctx, resp.TenantID, evaluation.Candidate, resp, decision)
	if err != nil {
		return nil, err
	}
	if _, err := p.alerts.CheckRepeatedComplaints(ctx, resp.TenantID); err != nil {
		// Alerting must not fail the pipeline; the periodic sweep catches up.
		logx.Error("pipeline.alert_check_failed", err, map[string]any{"tenant": resp.TenantID})
	}
	return action, nil
}

// GenerateFromFeedback produces actions for a batch of already-submitted
// responses, analyzing any that have not been analyzed yet.
func (p *Processor) GenerateFromFeedback(ctx context.Context, tenantID string, responseIDs []string) ([]*models.Action, error) {
	if len(responseIDs) == 0 {
		return nil, NewInvalidError("responseIds must be a non-empty list")
	}
	responses, err := p.store.ListResponsesByIDs(tenantID, responseIDs)
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 {
		return nil, NewNotFoundError("no matching responses")
	}

	var created []*models.Action
	for _, resp := range responses {
		survey, err := p.store.GetSurvey(resp.SurveyID)
		if err != nil {
			return nil, err
		}
		result := p.analyzer.Analyze(ctx, resp, survey)
		if resp.Analysis == nil || resp.Analysis.AnalyzedAt == nil {
			if _, err := p.store.SetResponseAnalysis(resp.ID, &result.Analysis); err != nil {
				return nil, err
			}
		} else {
			// Keep the stored classification; only the metrics are recomputed.
			result.Analysis = *resp.Analysis
		}
		action, err := p.generateAction(ctx, resp, result)
		if err != nil {
			return nil, err
		}
		if action != nil {
			created = append(created, action)
		}
	}
	return created, nil
}
