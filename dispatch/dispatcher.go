// Package dispatch delivers outbound replies to their platforms through a
// persisted job queue. Jobs survive restarts, retry transient failures with
// exponential backoff, and never re-execute after success.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rahuldrabit/support-agent/internal/worker"
	"github.com/Rahuldrabit/support-agent/platform"
	"github.com/Rahuldrabit/support-agent/store"
)

type Config struct {
	Workers      int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	PollInterval time.Duration
	SendTimeout  time.Duration
	// SendingLease is how long a job may sit in `sending` before a restart
	// reclaims it.
	SendingLease time.Duration
	// RateLimits are per-platform sends per minute, enforced before each
	// send attempt.
	RateLimits map[store.Platform]int
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		MaxAttempts:  5,
		BackoffBase:  2 * time.Second,
		BackoffCap:   5 * time.Minute,
		PollInterval: time.Second,
		SendTimeout:  15 * time.Second,
		SendingLease: 2 * time.Minute,
		RateLimits: map[store.Platform]int{
			store.PlatformTikTok:   60,
			store.PlatformLinkedIn: 100,
		},
	}
}

// DeliveryObserver receives terminal delivery outcomes, fire-and-forget.
type DeliveryObserver interface {
	ObserveDelivery(p store.Platform, status store.JobStatus)
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

func WithObserver(o DeliveryObserver) Option {
	return func(d *Dispatcher) { d.observer = o }
}

type Dispatcher struct {
	store    *store.Store
	registry *platform.Registry
	cfg      Config
	log      *slog.Logger
	observer DeliveryObserver

	limiters map[store.Platform]*rate.Limiter
	pool     *worker.Pool[string]
}

func New(st *store.Store, registry *platform.Registry, cfg Config, opts ...Option) (*Dispatcher, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("platform registry is required")
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.SendingLease <= 0 {
		cfg.SendingLease = def.SendingLease
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = def.RateLimits
	}

	limiters := make(map[store.Platform]*rate.Limiter, len(cfg.RateLimits))
	for p, perMinute := range cfg.RateLimits {
		if perMinute <= 0 {
			continue
		}
		limiters[p] = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}

	d := &Dispatcher{
		store:    st,
		registry: registry,
		cfg:      cfg,
		log:      slog.Default(),
		limiters: limiters,
		pool:     worker.NewPool[string](cfg.Workers, cfg.Workers*16),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start reclaims stale jobs, then runs the worker pool and the due-job
// poller until ctx ends.
func (d *Dispatcher) Start(ctx context.Context) error {
	reclaimed, err := d.store.RequeueStaleSending(ctx, d.cfg.SendingLease)
	if err != nil {
		return fmt.Errorf("reclaim stale jobs: %w", err)
	}
	if reclaimed > 0 {
		d.log.Info("delivery_jobs_reclaimed", "count", reclaimed)
	}

	d.pool.Start(ctx, d.execute)
	go d.pollLoop(ctx)
	return nil
}

// Enqueue creates (or finds) the delivery job for an outbound message and
// nudges the workers. Idempotent per message id.
func (d *Dispatcher) Enqueue(ctx context.Context, messageID uint) (string, error) {
	job, err := d.store.CreateJob(ctx, messageID)
	if err != nil {
		return "", err
	}
	if job.Status == store.JobQueued {
		// Best effort: the poller picks it up if the channel is full.
		d.pool.TryEnqueue(job.ID)
	}
	return job.ID, nil
}

// Cancel terminally fails a queued job. Jobs already sending or finished are
// left alone.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	err := d.store.CancelJob(ctx, jobID)
	if errors.Is(err, store.ErrInvalidTransition) {
		return fmt.Errorf("job %s is not cancellable: %w", jobID, err)
	}
	return err
}

func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := d.store.DueJobs(ctx, 50)
			if err != nil {
				d.log.Warn("delivery_poll_error", "error", err.Error())
				continue
			}
			for _, job := range jobs {
				d.pool.TryEnqueue(job.ID)
			}
		}
	}
}

// execute runs one delivery attempt for a job. The claim transition makes
// concurrent executions of the same job id safe: only one worker proceeds.
func (d *Dispatcher) execute(ctx context.Context, jobID string) {
	job, err := d.store.ClaimJob(ctx, jobID)
	if errors.Is(err, store.ErrInvalidTransition) {
		// Already claimed, finished, or cancelled.
		return
	}
	if err != nil {
		d.log.Warn("delivery_claim_error", "job_id", jobID, "error", err.Error())
		return
	}

	msg, err := d.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		d.failJob(ctx, job, store.Platform(""), fmt.Sprintf("load message: %v", err))
		return
	}
	conv, err := d.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		d.failJob(ctx, job, msg.Platform, fmt.Sprintf("load conversation: %v", err))
		return
	}

	sender, err := d.registry.Sender(conv.Platform)
	if err != nil {
		d.failJob(ctx, job, conv.Platform, err.Error())
		return
	}

	if limiter, ok := d.limiters[conv.Platform]; ok {
		if err := limiter.Wait(ctx); err != nil {
			// Shutdown while waiting for a token: hand the claim back
			// without consuming an attempt; the job retries on the next
			// start.
			d.releaseJob(ctx, job, conv.Platform, "rate limiter interrupted")
			return
		}
	}

	attempt := job.AttemptCount + 1
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = sender.Send(sendCtx, conv.PlatformConversationID, msg.Content)
	cancel()

	if err == nil {
		if markErr := d.store.MarkJobSent(context.WithoutCancel(ctx), job.ID); markErr != nil && !errors.Is(markErr, store.ErrInvalidTransition) {
			d.log.Error("delivery_mark_sent_error", "job_id", job.ID, "error", markErr.Error())
			return
		}
		d.log.Info("delivery_sent", "job_id", job.ID, "platform", conv.Platform, "attempt", attempt)
		if d.observer != nil {
			d.observer.ObserveDelivery(conv.Platform, store.JobSent)
		}
		return
	}

	if !platform.IsRetryable(err) {
		d.failJob(ctx, job, conv.Platform, err.Error())
		return
	}
	if attempt >= d.cfg.MaxAttempts {
		d.failJob(ctx, job, conv.Platform, fmt.Sprintf("max attempts reached: %v", err))
		return
	}
	d.requeueJob(ctx, job, conv.Platform, err.Error(), attempt)
}

func (d *Dispatcher) requeueJob(ctx context.Context, job *store.DeliveryJob, p store.Platform, reason string, attempt int) {
	delay := backoffDelay(d.cfg.BackoffBase, d.cfg.BackoffCap, attempt)
	next := time.Now().UTC().Add(delay)
	if err := d.store.RequeueJob(context.WithoutCancel(ctx), job.ID, reason, next); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		d.log.Error("delivery_requeue_error", "job_id", job.ID, "error", err.Error())
		return
	}
	d.log.Warn("delivery_retry_scheduled",
		"job_id", job.ID,
		"platform", p,
		"attempt", attempt,
		"next_attempt_in", delay.String(),
		"error", reason,
	)
}

func (d *Dispatcher) releaseJob(ctx context.Context, job *store.DeliveryJob, p store.Platform, reason string) {
	if err := d.store.ReleaseJob(context.WithoutCancel(ctx), job.ID, reason); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		d.log.Error("delivery_release_error", "job_id", job.ID, "error", err.Error())
		return
	}
	d.log.Info("delivery_released", "job_id", job.ID, "platform", p, "reason", reason)
}

func (d *Dispatcher) failJob(ctx context.Context, job *store.DeliveryJob, p store.Platform, reason string) {
	if err := d.store.FailJob(context.WithoutCancel(ctx), job.ID, reason); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		d.log.Error("delivery_fail_error", "job_id", job.ID, "error", err.Error())
		return
	}
	d.log.Error("delivery_failed", "job_id", job.ID, "platform", p, "error", reason)
	if d.observer != nil && p != "" {
		d.observer.ObserveDelivery(p, store.JobFailed)
	}
}
