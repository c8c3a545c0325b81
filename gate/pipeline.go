package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Rahuldrabit/support-agent/engine"
	"github.com/Rahuldrabit/support-agent/store"
)

// WorkflowRunner is the decision workflow invoked once per admitted event.
type WorkflowRunner interface {
	Run(ctx context.Context, conv *store.Conversation, inbound *store.Message) (*engine.Result, error)
}

// DeliveryEnqueuer queues outbound replies for asynchronous delivery.
type DeliveryEnqueuer interface {
	Enqueue(ctx context.Context, messageID uint) (string, error)
}

// RunObserver receives fire-and-forget pipeline outcomes.
type RunObserver interface {
	ObserveRun(ev Event, res *engine.Result)
	ObserveDuplicate(ev Event)
}

type PipelineConfig struct {
	// QueueDepth bounds each conversation's pending-event channel.
	QueueDepth int
	// IdleTimeout shuts a conversation worker down after inactivity.
	IdleTimeout time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		QueueDepth:  32,
		IdleTimeout: 5 * time.Minute,
	}
}

// Pipeline fans events out to one worker goroutine per conversation key.
// Within a key events are handled strictly in arrival order; across keys
// everything runs in parallel.
type Pipeline struct {
	gate       *Gate
	store      *store.Store
	runner     WorkflowRunner
	dispatcher DeliveryEnqueuer
	observer   RunObserver
	cfg        PipelineConfig
	log        *slog.Logger

	ctx context.Context

	mu      sync.Mutex
	workers map[string]*convWorker
	wg      sync.WaitGroup
}

type convWorker struct {
	jobs chan Event
}

type PipelineOptions struct {
	Gate       *Gate
	Store      *store.Store
	Runner     WorkflowRunner
	Dispatcher DeliveryEnqueuer
	Observer   RunObserver
	Config     PipelineConfig
	Logger     *slog.Logger
}

func NewPipeline(ctx context.Context, opts PipelineOptions) (*Pipeline, error) {
	if opts.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("workflow runner is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 32
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		gate:       opts.Gate,
		store:      opts.Store,
		runner:     opts.Runner,
		dispatcher: opts.Dispatcher,
		observer:   opts.Observer,
		cfg:        cfg,
		log:        log,
		ctx:        ctx,
		workers:    make(map[string]*convWorker),
	}, nil
}

// Submit hands an event to its conversation worker. It blocks only when that
// conversation's queue is full. The workflow itself runs asynchronously.
func (p *Pipeline) Submit(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	key := ev.ConversationKey()

	for {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		p.mu.Lock()
		w, ok := p.workers[key]
		if !ok {
			w = &convWorker{jobs: make(chan Event, p.cfg.QueueDepth)}
			p.workers[key] = w
			p.wg.Add(1)
			go p.runWorker(key, w)
		}
		p.mu.Unlock()

		select {
		case w.jobs <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ctx.Done():
			return p.ctx.Err()
		}

		// The worker can evict itself between the map read and the send, and
		// its final drain may already have finished when the send lands. If
		// the registration changed, hand the event to a fresh worker; when
		// the drain did catch it, the dedup gate turns the second pass into
		// an ignored duplicate.
		p.mu.Lock()
		delivered := p.workers[key] == w
		p.mu.Unlock()
		if delivered {
			return nil
		}
	}
}

// Wait blocks until all conversation workers have drained. Intended for
// shutdown after the pipeline context is cancelled, and for tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) runWorker(key string, w *convWorker) {
	defer p.wg.Done()
	idle := time.NewTimer(p.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.removeWorker(key)
			return
		case ev := <-w.jobs:
			p.handleLogged(ev)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.IdleTimeout)
		case <-idle.C:
			// Drop the registration first so a racing Submit creates a fresh
			// worker, then drain anything that slipped in meanwhile.
			p.removeWorker(key)
			for {
				select {
				case ev := <-w.jobs:
					p.handleLogged(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) removeWorker(key string) {
	p.mu.Lock()
	delete(p.workers, key)
	p.mu.Unlock()
}

func (p *Pipeline) handleLogged(ev Event) {
	if _, err := p.Handle(p.ctx, ev); err != nil && !errors.Is(err, ErrDuplicateIgnored) {
		p.log.Error("pipeline_event_error",
			"platform", ev.Platform,
			"platform_message_id", ev.PlatformMessageID,
			"error", err.Error(),
		)
	}
}

// Handle runs the full flow for one event synchronously: ensure user and
// conversation, admit through the gate, run the workflow, queue delivery.
// Returns ErrDuplicateIgnored for replays.
func (p *Pipeline) Handle(ctx context.Context, ev Event) (*engine.Result, error) {
	user, err := p.store.EnsureUser(ctx, ev.Platform, ev.PlatformUserID, ev.Username)
	if err != nil {
		return nil, err
	}
	conv, err := p.store.EnsureConversation(ctx, user.ID, ev.Platform, ev.PlatformConversationID)
	if err != nil {
		return nil, err
	}

	inbound, err := p.gate.Admit(ctx, conv.ID, ev)
	if errors.Is(err, ErrDuplicateIgnored) {
		if p.observer != nil {
			p.observer.ObserveDuplicate(ev)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	res, err := p.runner.Run(ctx, conv, inbound)
	if err != nil {
		return nil, fmt.Errorf("workflow run: %w", err)
	}

	if p.dispatcher != nil && res.OutboundMessageID != 0 {
		if _, err := p.dispatcher.Enqueue(ctx, res.OutboundMessageID); err != nil {
			// The reply is persisted; delivery failures stay in the job table
			// and never roll the run back.
			p.log.Error("delivery_enqueue_error", "message_id", res.OutboundMessageID, "error", err.Error())
		}
	}
	if p.observer != nil {
		p.observer.ObserveRun(ev, res)
	}
	return res, nil
}
