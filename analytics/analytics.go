// Package analytics collects pipeline counters and persists metric events.
// Everything here is fire-and-forget: failures are logged and never reach the
// core pipeline.
package analytics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Rahuldrabit/support-agent/engine"
	"github.com/Rahuldrabit/support-agent/gate"
	"github.com/Rahuldrabit/support-agent/store"
)

const (
	MetricMessageProcessed = "message_processed"
	MetricDuplicateIgnored = "duplicate_ignored"
	MetricEscalation       = "escalation"
	MetricResponseTimeMs   = "response_time_ms"
	MetricDeliverySent     = "delivery_sent"
	MetricDeliveryFailed   = "delivery_failed"
)

type Counters struct {
	MessagesProcessed int64            `json:"messages_processed"`
	DuplicatesIgnored int64            `json:"duplicates_ignored"`
	Escalations       int64            `json:"escalations"`
	DeliveriesSent    int64            `json:"deliveries_sent"`
	DeliveriesFailed  int64            `json:"deliveries_failed"`
	IntentCounts      map[string]int64 `json:"intent_counts"`
}

type Sink struct {
	store *store.Store
	log   *slog.Logger

	mu       sync.Mutex
	counters Counters
}

func NewSink(st *store.Store, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{
		store: st,
		log:   log,
		counters: Counters{
			IntentCounts: make(map[string]int64),
		},
	}
}

// ObserveRun records one completed workflow run.
func (s *Sink) ObserveRun(ev gate.Event, res *engine.Result) {
	if res == nil {
		return
	}
	s.mu.Lock()
	s.counters.MessagesProcessed++
	if res.Escalated {
		s.counters.Escalations++
	}
	s.counters.IntentCounts[string(res.Intent)]++
	s.mu.Unlock()

	s.record(MetricMessageProcessed, 1, string(ev.Platform))
	s.record(MetricResponseTimeMs, float64(res.ResponseTimeMs), string(res.Intent))
	if res.Escalated {
		s.record(MetricEscalation, 1, res.EscalationReason)
	}
}

// ObserveDuplicate records an ignored replay.
func (s *Sink) ObserveDuplicate(ev gate.Event) {
	s.mu.Lock()
	s.counters.DuplicatesIgnored++
	s.mu.Unlock()
	s.record(MetricDuplicateIgnored, 1, string(ev.Platform))
}

// ObserveDelivery records a terminal delivery outcome.
func (s *Sink) ObserveDelivery(p store.Platform, status store.JobStatus) {
	s.mu.Lock()
	switch status {
	case store.JobSent:
		s.counters.DeliveriesSent++
	case store.JobFailed:
		s.counters.DeliveriesFailed++
	}
	s.mu.Unlock()

	switch status {
	case store.JobSent:
		s.record(MetricDeliverySent, 1, string(p))
	case store.JobFailed:
		s.record(MetricDeliveryFailed, 1, string(p))
	}
}

// Counters returns a snapshot of the in-memory counters.
func (s *Sink) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.counters
	out.IntentCounts = make(map[string]int64, len(s.counters.IntentCounts))
	for k, v := range s.counters.IntentCounts {
		out.IntentCounts[k] = v
	}
	return out
}

func (s *Sink) record(metricType string, value float64, dimension string) {
	if s.store == nil {
		return
	}
	go func() {
		if err := s.store.RecordMetric(context.Background(), metricType, value, dimension); err != nil {
			s.log.Debug("metric_record_error", "metric_type", metricType, "error", err.Error())
		}
	}()
}
