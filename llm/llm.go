// Package llm defines the classification/generation capability consumed by
// the workflow engine. Providers are substitutable; the engine relies only on
// the bounded-latency contract enforced through the context deadline.
package llm

import (
	"context"
	"time"
)

type HistoryEntry struct {
	Role    string `json:"role"` // user|agent|human
	Content string `json:"content"`
}

type Classification struct {
	Intent         string
	SentimentScore float64
	Reason         string
	Duration       time.Duration
}

type GenerateRequest struct {
	Intent  string
	Message string
	Context string
	// Config is the immutable agent configuration snapshot for the run,
	// carrying prompt variants keyed by intent.
	Config map[string]string
}

type Provider interface {
	Classify(ctx context.Context, text string, history []HistoryEntry) (Classification, error)
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
