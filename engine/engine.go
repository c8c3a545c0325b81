// Package engine runs the five-stage decision workflow for one inbound
// message: classify, retrieve context, escalation check, generate, validate.
// Every run terminates with exactly one persisted outbound message, either a
// validated reply or the escalation acknowledgment.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rahuldrabit/support-agent/llm"
	"github.com/Rahuldrabit/support-agent/policy"
	"github.com/Rahuldrabit/support-agent/store"
)

// Forced escalation reasons produced by the engine itself, as opposed to the
// policy rule reasons.
const (
	ReasonGenerationUnavailable = "generation_unavailable"
	ReasonValidationExhausted   = "validation_exhausted"
	ReasonTimeout               = "timeout"
)

type Config struct {
	// MaxGenerateAttempts bounds the Generate <-> Validate loop, counting
	// the first attempt. Default 3 (two regenerate retries).
	MaxGenerateAttempts int
	RunTimeout          time.Duration
	// HistoryLimit caps how many stored messages are fetched for context.
	HistoryLimit int
	// ContextWindow caps how many of those are rendered into the prompt.
	ContextWindow int
	Validation    ValidationConfig
	Policy        policy.Config
}

func DefaultConfig() Config {
	return Config{
		MaxGenerateAttempts: 3,
		RunTimeout:          30 * time.Second,
		HistoryLimit:        10,
		ContextWindow:       3,
		Validation:          DefaultValidationConfig(),
		Policy:              policy.DefaultConfig(),
	}
}

// Hook observes state transitions of a run.
type Hook func(runID string, from, to State)

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithHook(h Hook) Option {
	return func(e *Engine) {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

type Engine struct {
	store    *store.Store
	provider llm.Provider
	config   Config
	log      *slog.Logger
	hooks    []Hook
}

func New(st *store.Store, provider llm.Provider, cfg Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.MaxGenerateAttempts <= 0 {
		cfg.MaxGenerateAttempts = 3
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 3
	}
	e := &Engine{
		store:    st,
		provider: provider,
		config:   cfg,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result is what a completed run reports back to the caller. The engine
// performs no platform I/O; delivery is the dispatcher's job.
type Result struct {
	ReplyText         string
	Intent            store.Intent
	SentimentScore    float64
	Escalated         bool
	EscalationReason  string
	OutboundMessageID uint
	ResponseTimeMs    int64
}

type runState struct {
	runID string
	state State
	hooks []Hook

	conv    *store.Conversation
	inbound *store.Message

	intent    store.Intent
	sentiment float64
	history   []llm.HistoryEntry
	context   string
	config    map[string]string
}

// Run executes the workflow for one admitted inbound message. The run always
// reaches a terminal outcome: a reply or an escalation acknowledgment is
// persisted even on provider failure or timeout.
func (e *Engine) Run(ctx context.Context, conv *store.Conversation, inbound *store.Message) (*Result, error) {
	if conv == nil || inbound == nil {
		return nil, fmt.Errorf("conversation and inbound message are required")
	}
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.config.RunTimeout)
	defer cancel()

	snapshot, err := e.store.ConfigSnapshot(runCtx)
	if err != nil {
		e.log.Warn("config_snapshot_error", "run_id", "", "error", err.Error())
		snapshot = map[string]string{}
	}

	st := &runState{
		runID:   uuid.NewString(),
		state:   StateClassifying,
		hooks:   e.hooks,
		conv:    conv,
		inbound: inbound,
		config:  snapshot,
	}
	log := e.log.With("run_id", st.runID, "conversation_id", conv.ID, "message_id", inbound.ID)
	log.Info("workflow_run_start", "platform", conv.Platform)

	result, err := e.run(runCtx, st, log, start)
	if err != nil {
		return nil, err
	}
	log.Info("workflow_run_done",
		"intent", result.Intent,
		"escalated", result.Escalated,
		"escalation_reason", result.EscalationReason,
		"response_time_ms", result.ResponseTimeMs,
	)
	return result, nil
}

func (e *Engine) run(ctx context.Context, st *runState, log *slog.Logger, start time.Time) (*Result, error) {
	// Classify.
	e.classify(ctx, st, log)
	if err := st.advance(StateContextRetrieved); err != nil {
		return nil, err
	}
	if timedOut(ctx) {
		return e.finishEscalated(ctx, st, log, ReasonTimeout, start)
	}

	// Retrieve context.
	e.retrieveContext(ctx, st, log)
	if err := st.advance(StateEscalationChecked); err != nil {
		return nil, err
	}
	if timedOut(ctx) {
		return e.finishEscalated(ctx, st, log, ReasonTimeout, start)
	}

	// Escalation check.
	decision := policy.Decide(e.config.Policy, policy.Input{
		Intent:         st.intent,
		SentimentScore: st.sentiment,
		Text:           st.inbound.Content,
		Priority:       st.conv.Priority,
	})
	if decision.Escalate {
		log.Warn("escalation_triggered", "reason", decision.Reason)
		if err := st.advance(StateDone); err != nil {
			return nil, err
		}
		return e.finishEscalatedAt(ctx, st, log, decision.Reason, start, false)
	}
	if err := st.advance(StateGenerating); err != nil {
		return nil, err
	}

	// Generate <-> Validate, bounded.
	reply, reason, err := e.generateValidated(ctx, st, log)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return e.finishEscalated(ctx, st, log, reason, start)
	}

	if err := st.advance(StateDone); err != nil {
		return nil, err
	}
	return e.finishReplied(ctx, st, log, reply, start)
}

func (e *Engine) classify(ctx context.Context, st *runState, log *slog.Logger) {
	cls, err := e.provider.Classify(ctx, st.inbound.Content, st.history)
	if err != nil {
		log.Warn("classify_provider_error", "error", err.Error())
		st.intent = store.Intent(llm.RuleClassify(st.inbound.Content))
		st.sentiment = llm.KeywordSentiment(st.inbound.Content)
		return
	}
	intent := store.Intent(strings.ToLower(cls.Intent))
	if !intent.Valid() {
		intent = store.Intent(llm.RuleClassify(st.inbound.Content))
	}
	st.intent = intent
	st.sentiment = clampSentiment(cls.SentimentScore)
	log.Debug("classify_done", "intent", st.intent, "sentiment", st.sentiment, "reason", cls.Reason)

	if st.intent == store.IntentSupport {
		if order := extractOrderNumber(st.inbound.Content); order != "" {
			log.Debug("order_reference_detected", "order", order)
		}
	}
}

func (e *Engine) retrieveContext(ctx context.Context, st *runState, log *slog.Logger) {
	msgs, err := e.store.RecentMessages(ctx, st.conv.ID, e.config.HistoryLimit)
	if err != nil {
		log.Warn("history_load_error", "error", err.Error())
		msgs = nil
	}
	st.history = historyFromMessages(msgs, st.inbound.ID)
	st.context = formatContext(st.history, e.config.ContextWindow)
}

// generateValidated runs the bounded Generate -> Validate loop. Returns the
// accepted reply, or a forced-escalation reason when generation is
// unavailable or validation is exhausted.
func (e *Engine) generateValidated(ctx context.Context, st *runState, log *slog.Logger) (string, string, error) {
	var generateFailures int
	lastFailureWasProvider := false
	for attempt := 1; attempt <= e.config.MaxGenerateAttempts; attempt++ {
		if timedOut(ctx) {
			return "", ReasonTimeout, nil
		}
		reply, err := e.provider.Generate(ctx, llm.GenerateRequest{
			Intent:  string(st.intent),
			Message: st.inbound.Content,
			Context: st.context,
			Config:  st.config,
		})
		if err != nil {
			generateFailures++
			lastFailureWasProvider = true
			log.Warn("generate_provider_error", "attempt", attempt, "error", err.Error())
			if generateFailures >= e.config.MaxGenerateAttempts {
				return "", ReasonGenerationUnavailable, nil
			}
			continue
		}
		lastFailureWasProvider = false

		if err := st.advance(StateValidating); err != nil {
			return "", "", err
		}
		if verr := validateReply(e.config.Validation, reply); verr != nil {
			log.Warn("validation_failed", "attempt", attempt, "error", verr.Error())
			if attempt == e.config.MaxGenerateAttempts {
				return "", ReasonValidationExhausted, nil
			}
			if err := st.advance(StateGenerating); err != nil {
				return "", "", err
			}
			continue
		}
		return strings.TrimSpace(reply), "", nil
	}
	if lastFailureWasProvider {
		return "", ReasonGenerationUnavailable, nil
	}
	return "", ReasonValidationExhausted, nil
}

// finishEscalated advances to Done (when not already there) and persists the
// escalation outcome.
func (e *Engine) finishEscalated(ctx context.Context, st *runState, log *slog.Logger, reason string, start time.Time) (*Result, error) {
	return e.finishEscalatedAt(ctx, st, log, reason, start, true)
}

func (e *Engine) finishEscalatedAt(ctx context.Context, st *runState, log *slog.Logger, reason string, start time.Time, advanceDone bool) (*Result, error) {
	if advanceDone && st.state != StateDone {
		// Timeout and generation failures can fire from any mid-run state;
		// all of them terminate at Done.
		from := st.state
		st.state = StateDone
		for _, hook := range st.hooks {
			hook(st.runID, from, StateDone)
		}
	}

	// Persistence must survive an expired run deadline.
	persistCtx := context.WithoutCancel(ctx)

	if err := e.store.EscalateConversation(persistCtx, st.conv.ID, reason); err != nil {
		return nil, fmt.Errorf("persist escalation: %w", err)
	}
	e.annotateInbound(persistCtx, st, log)

	ack := llm.EscalationMessage
	if v, ok := st.config[llm.ConfigKeyEscalationMessage]; ok && strings.TrimSpace(v) != "" {
		ack = v
	}
	elapsed := time.Since(start).Milliseconds()
	sentiment := st.sentiment
	out, err := e.store.AppendOutbound(persistCtx, st.conv.ID, st.conv.Platform, ack, st.intent, &sentiment, elapsed)
	if err != nil {
		return nil, fmt.Errorf("persist escalation acknowledgment: %w", err)
	}

	return &Result{
		ReplyText:         ack,
		Intent:            st.intent,
		SentimentScore:    st.sentiment,
		Escalated:         true,
		EscalationReason:  reason,
		OutboundMessageID: out.ID,
		ResponseTimeMs:    elapsed,
	}, nil
}

func (e *Engine) finishReplied(ctx context.Context, st *runState, log *slog.Logger, reply string, start time.Time) (*Result, error) {
	persistCtx := context.WithoutCancel(ctx)
	e.annotateInbound(persistCtx, st, log)

	elapsed := time.Since(start).Milliseconds()
	sentiment := st.sentiment
	out, err := e.store.AppendOutbound(persistCtx, st.conv.ID, st.conv.Platform, reply, st.intent, &sentiment, elapsed)
	if err != nil {
		return nil, fmt.Errorf("persist reply: %w", err)
	}

	return &Result{
		ReplyText:         reply,
		Intent:            st.intent,
		SentimentScore:    st.sentiment,
		OutboundMessageID: out.ID,
		ResponseTimeMs:    elapsed,
	}, nil
}

func (e *Engine) annotateInbound(ctx context.Context, st *runState, log *slog.Logger) {
	if err := e.store.AnnotateInbound(ctx, st.inbound.ID, st.intent, st.sentiment); err != nil {
		log.Warn("annotate_inbound_error", "error", err.Error())
	}
}

func timedOut(ctx context.Context) bool {
	return ctx.Err() != nil
}

func clampSentiment(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
