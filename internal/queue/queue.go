// Package queue runs the post-response pipeline asynchronously. Jobs are
// persisted through the store, claimed atomically by a small worker pool,
// retried with exponential backoff, and parked in a dead-letter table once
// their attempts are exhausted. Without a running pool the queue degrades to
// synchronous in-process execution so a submission is never silently dropped.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/cadence/internal/logx"
	"github.com/cadencehq/cadence/internal/models"
	"github.com/cadencehq/cadence/internal/store"
)

// Handler processes one claimed job. A nil return completes the job; an
// error schedules a retry or, on the final attempt, a dead letter.
type Handler func(ctx context.Context, job *models.Job) error

// JobStore is the slice of the store the queue needs.
type JobStore interface {
	EnqueueJob(j *models.Job) error
	ClaimJob(now time.Time) (*models.Job, error)
	CompleteJob(id string) error
	RetryJob(id string, attempts int, nextRunAt time.Time, lastErr string) error
	FailJob(id string, lastErr string) error
	InsertDeadLetter(d *models.DeadLetter) error
}

type Options struct {
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	PollInterval   time.Duration
	DrainGrace     time.Duration
	// Sync disables the worker pool; Enqueue runs the handler inline.
	Sync bool
}

func (o *Options) fill() {
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.DrainGrace <= 0 {
		o.DrainGrace = 30 * time.Second
	}
}

type Queue struct {
	store    JobStore
	opts     Options
	handlers map[string]Handler

	now         func() time.Time
	idGenerator func() string

	mu           sync.Mutex
	cancel       context.CancelFunc
	running      bool
	drainExpired bool
	wg           sync.WaitGroup
}

func New(s JobStore, opts Options) *Queue {
	opts.fill()
	return &Queue{
		store:       s,
		opts:        opts,
		handlers:    map[string]Handler{},
		now:         time.Now,
		idGenerator: uuid.NewString,
	}
}

// Register binds a handler to a job kind. Must happen before Start.
func (q *Queue) Register(kind string, h Handler) {
	q.handlers[kind] = h
}

// Enqueue persists a job for the given kind. In sync mode the handler runs
// inline and its error is returned to the caller.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: encode payload for %s: %w", kind, err)
	}
	job := &models.Job{
		ID:          q.idGenerator(),
		Kind:        kind,
		Payload:     body,
		Status:      models.JobPending,
		MaxAttempts: q.opts.MaxAttempts,
		NextRunAt:   q.now(),
		CreatedAt:   q.now(),
	}
	if q.opts.Sync {
		return job.ID, q.runSync(ctx, job)
	}
	if err := q.store.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", kind, err)
	}
	return job.ID, nil
}

func (q *Queue) runSync(ctx context.Context, job *models.Job) error {
	h, ok := q.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("queue: no handler for kind %q", job.Kind)
	}
	if err := h(ctx, job); err != nil {
		logx.Error("queue.sync_job_failed", err, map[string]any{"kind": job.Kind, "job": job.ID})
		return err
	}
	return nil
}

// Start launches the worker pool. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running || q.opts.Sync {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	logx.Event("queue.started", map[string]any{"workers": q.opts.Workers})
}

// Stop drains the pool: claiming stops immediately, in-flight jobs get the
// drain grace period to finish. Jobs still running when the grace expires
// have their contexts cancelled and are dead-lettered.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel := q.cancel
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(q.opts.DrainGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logx.Event("queue.drain_grace_exceeded", map[string]any{"grace": q.opts.DrainGrace.String()})
		q.mu.Lock()
		q.drainExpired = true
		q.mu.Unlock()
	}
	cancel()
	<-done
	logx.Event("queue.stopped", nil)
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		// Stop claiming as soon as the drain begins.
		q.mu.Lock()
		running := q.running
		q.mu.Unlock()
		if !running {
			return
		}

		job, err := q.store.ClaimJob(q.now())
		switch {
		case errors.Is(err, store.ErrNotFound):
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		case err != nil:
			logx.Error("queue.claim_failed", err, nil)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		q.execute(ctx, job)
	}
}

func (q *Queue) execute(ctx context.Context, job *models.Job) {
	h, ok := q.handlers[job.Kind]
	if !ok {
		q.deadLetter(job, fmt.Sprintf("no handler for kind %q", job.Kind))
		return
	}

	err := q.safeRun(ctx, h, job)
	if err == nil {
		if cerr := q.store.CompleteJob(job.ID); cerr != nil {
			logx.Error("queue.complete_failed", cerr, map[string]any{"job": job.ID})
		}
		return
	}

	q.mu.Lock()
	drainExpired := q.drainExpired
	q.mu.Unlock()
	if drainExpired {
		// Past the grace deadline retries are pointless; park the job where
		// cadctl dlq requeue can find it.
		q.deadLetter(job, "shutdown: "+err.Error())
		return
	}

	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		q.deadLetter(job, err.Error())
		return
	}
	backoff := q.opts.InitialBackoff * time.Duration(1<<uint(attempts-1))
	next := q.now().Add(backoff)
	logx.Event("queue.job_retry", map[string]any{
		"job": job.ID, "kind": job.Kind, "attempt": attempts, "next_run_in": backoff.String(), "error": err.Error(),
	})
	if rerr := q.store.RetryJob(job.ID, attempts, next, err.Error()); rerr != nil {
		logx.Error("queue.retry_failed", rerr, map[string]any{"job": job.ID})
	}
}

// safeRun converts a handler panic into an error so one bad payload cannot
// take a worker down.
func (q *Queue) safeRun(ctx context.Context, h Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (q *Queue) deadLetter(job *models.Job, reason string) {
	if err := q.store.FailJob(job.ID, reason); err != nil {
		logx.Error("queue.fail_failed", err, map[string]any{"job": job.ID})
	}
	dl := &models.DeadLetter{
		ID:            q.idGenerator(),
		OriginalJobID: job.ID,
		Kind:          job.Kind,
		Payload:       job.Payload,
		ErrorMessage:  reason,
		FailedAt:      q.now(),
	}
	if err := q.store.InsertDeadLetter(dl); err != nil {
		logx.Error("queue.dead_letter_failed", err, map[string]any{"job": job.ID})
		return
	}
	logx.Event("queue.job_dead_lettered", map[string]any{"job": job.ID, "kind": job.Kind, "error": reason})
}
