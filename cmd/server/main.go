package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cadencehq/cadence/internal/api"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/llm"
	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/middleware"
	"github.com/cadencehq/cadence/internal/notify"
	"github.com/cadencehq/cadence/internal/queue"
	"github.com/cadencehq/cadence/internal/services"
	"github.com/cadencehq/cadence/internal/store"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	st, closeStore := openStore(cfg)
	defer closeStore()

	overrides, err := config.LoadRuleOverrides(cfg.RuleOverridesPath)
	if err != nil {
		log.Fatalf("load rule overrides: %v", err)
	}
	if cfg.RuleOverridesPath != "" {
		if err := overrides.Watch(cfg.RuleOverridesPath); err != nil {
			logx.Error("rule_overrides_watch_failed", err, map[string]any{"path": cfg.RuleOverridesPath})
		}
		defer overrides.Close()
	}

	var sink notify.Sink = notify.NoopSink{}
	if cfg.NotifyWebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.NotifyWebhookURL, 0)
	}

	q := queue.New(st, queue.Options{
		Workers:        cfg.Queue.Workers,
		MaxAttempts:    cfg.Queue.MaxAttempts,
		InitialBackoff: time.Duration(cfg.Queue.InitialBackoffSecs) * time.Second,
		PollInterval:   time.Duration(cfg.Queue.PollIntervalMillis) * time.Millisecond,
		DrainGrace:     time.Duration(cfg.Queue.DrainGraceSeconds) * time.Second,
		Sync:           cfg.Queue.Sync,
	})
	if cfg.Queue.Sync {
		logx.Event("queue.sync_mode", nil)
	}

	analyzer := services.NewAnalyzerService(llm.NewHTTPClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLMTimeout()))
	stats := services.NewStatsService(st)
	assigner := services.NewAssignmentService(st)
	actions := services.NewActionService(st, sink, cfg.SLA)
	alerts := services.NewAlertService(st, sink, cfg.Alerts)
	processor := services.NewProcessor(st, analyzer, stats, assigner, actions, alerts, overrides)
	q.Register(services.JobKindProcessResponse, processor.HandleJob)
	intake := services.NewIntakeService(st, stats, q, nil)
	segments := services.NewSegmentService(st)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q.Start(ctx)
	defer q.Stop()

	go runEscalator(ctx, actions, cfg.EscalatorMinutes)

	mux := http.NewServeMux()
	api.NewRouter(intake, actions, processor, segments, alerts).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "name": "Cadence API"})
	})

	auth := middleware.NewAuth(cfg.JWTSecret)
	handler := middleware.SecureHeaders(middleware.CORS(auth.WithAuth(mux)))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logx.Event("server.listening", map[string]any{"addr": cfg.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error("server.shutdown_failed", err, nil)
	}
	logx.Event("server.stopped", nil)
}

// openStore opens the sqlite store, falling back to the in-memory store when
// the database cannot be opened. The fallback keeps the service up but loses
// state on restart, so it is logged loudly.
func openStore(cfg *config.Config) (store.Store, func()) {
	db, err := sql.Open("sqlite3", cfg.SQLitePath)
	if err == nil {
		var st *store.SQLiteStore
		if st, err = store.NewSQLiteStore(db); err == nil {
			logx.Event("store.sqlite_ready", map[string]any{"path": cfg.SQLitePath})
			return st, func() { _ = db.Close() }
		}
		_ = db.Close()
	}
	logx.Error("store.sqlite_unavailable", err, map[string]any{"path": cfg.SQLitePath})
	return store.NewMemoryStore(), func() {}
}

// runEscalator periodically escalates SLA-breached actions.
func runEscalator(ctx context.Context, actions *services.ActionService, minutes int) {
	if minutes <= 0 {
		minutes = 5
	}
	ticker := time.NewTicker(time.Duration(minutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := actions.EscalateBreached(ctx)
			if err != nil {
				logx.Error("escalator.sweep_failed", err, nil)
				continue
			}
			if n > 0 {
				logx.Event("escalator.swept", map[string]any{"escalated": n})
			}
		}
	}
}
