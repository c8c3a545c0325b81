package llm

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Mock is a deterministic provider backed by the keyword classifier and the
// canned response set. It honors context cancellation but never blocks.
type Mock struct {
	// FailClassify / FailGenerate force errors for failure-path tests.
	FailClassify  bool
	FailGenerate  bool
	classifyCalls atomic.Int64
	generateCalls atomic.Int64
}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Classify(ctx context.Context, text string, history []HistoryEntry) (Classification, error) {
	m.classifyCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return Classification{}, err
	}
	if m.FailClassify {
		return Classification{}, fmt.Errorf("mock classify failure")
	}
	return Classification{
		Intent:         RuleClassify(text),
		SentimentScore: KeywordSentiment(text),
		Reason:         "rule-based",
	}, nil
}

func (m *Mock) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	m.generateCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.FailGenerate {
		return "", fmt.Errorf("mock generate failure")
	}
	if resp, ok := MockResponses[req.Intent]; ok {
		return resp, nil
	}
	return MockResponses["general"], nil
}

func (m *Mock) ClassifyCalls() int64 { return m.classifyCalls.Load() }
func (m *Mock) GenerateCalls() int64 { return m.generateCalls.Load() }
