package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rahuldrabit/support-agent/llm"
	"github.com/Rahuldrabit/support-agent/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{
		DSN:         filepath.Join(t.TempDir(), "agent.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedInbound(t *testing.T, st *store.Store, text string) (*store.Conversation, *store.Message) {
	t.Helper()
	ctx := context.Background()
	user, err := st.EnsureUser(ctx, store.PlatformTikTok, "u-1", "alice")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	conv, err := st.EnsureConversation(ctx, user.ID, store.PlatformTikTok, "c-1")
	if err != nil {
		t.Fatalf("EnsureConversation() error = %v", err)
	}
	msg, err := st.ReserveInbound(ctx, conv.ID, store.PlatformTikTok, "m-1", text, time.Now())
	if err != nil {
		t.Fatalf("ReserveInbound() error = %v", err)
	}
	return conv, msg
}

func newTestEngine(t *testing.T, st *store.Store, provider llm.Provider, opts ...Option) *Engine {
	t.Helper()
	eng, err := New(st, provider, DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return eng
}

func TestRunSupportReply(t *testing.T) {
	st := newTestStore(t)
	mock := llm.NewMock()
	eng := newTestEngine(t, st, mock)

	conv, inbound := seedInbound(t, st, "My order 12345678 never arrived, please help")
	res, err := eng.Run(context.Background(), conv, inbound)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Escalated {
		t.Fatalf("Run() escalated = true, want plain reply")
	}
	if res.Intent != store.IntentSupport {
		t.Fatalf("Run() intent = %q, want %q", res.Intent, store.IntentSupport)
	}
	if res.ReplyText != llm.MockResponses["support"] {
		t.Fatalf("Run() reply = %q, want canned support response", res.ReplyText)
	}
	if res.OutboundMessageID == 0 {
		t.Fatal("Run() outbound message id = 0")
	}

	ctx := context.Background()
	out, err := st.GetMessage(ctx, res.OutboundMessageID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if out.Direction != store.DirectionOutbound {
		t.Fatalf("outbound direction = %q", out.Direction)
	}
	if out.ResponseTimeMs == nil {
		t.Fatal("outbound response_time_ms not recorded")
	}

	in, err := st.GetMessage(ctx, inbound.ID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if in.Intent == nil || *in.Intent != store.IntentSupport {
		t.Fatalf("inbound intent annotation = %v, want support", in.Intent)
	}

	// Exactly one outbound message per run.
	count, err := st.CountMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("CountMessages() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("CountMessages() = %d, want 2 (inbound + one reply)", count)
	}
}

func TestRunEscalatesOnUrgentKeywordWithoutGenerating(t *testing.T) {
	st := newTestStore(t)
	mock := llm.NewMock()
	eng := newTestEngine(t, st, mock)

	conv, inbound := seedInbound(t, st, "This is unacceptable, get me a manager")
	res, err := eng.Run(context.Background(), conv, inbound)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !res.Escalated {
		t.Fatal("Run() escalated = false, want escalation")
	}
	if res.EscalationReason != "urgent_keyword" {
		t.Fatalf("Run() reason = %q, want urgent_keyword", res.EscalationReason)
	}
	if res.ReplyText != llm.EscalationMessage {
		t.Fatalf("Run() reply = %q, want the escalation acknowledgment", res.ReplyText)
	}
	if mock.GenerateCalls() != 0 {
		t.Fatalf("GenerateCalls() = %d, want 0 (generation short-circuited)", mock.GenerateCalls())
	}

	got, err := st.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if !got.Escalated || got.Status != store.StatusEscalated || got.Priority != store.PriorityHigh {
		t.Fatalf("conversation after escalation = %+v", got)
	}
}

func TestRunEscalationReasonIsMonotonic(t *testing.T) {
	st := newTestStore(t)
	eng := newTestEngine(t, st, llm.NewMock())

	conv, inbound := seedInbound(t, st, "this is ridiculous")
	if _, err := eng.Run(context.Background(), conv, inbound); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// A second escalating message in the same conversation must not
	// overwrite the recorded reason, even when a different rule fires.
	msg2, err := st.ReserveInbound(context.Background(), conv.ID, store.PlatformTikTok, "m-2", "terrible awful horrible worst hate", time.Now())
	if err != nil {
		t.Fatalf("ReserveInbound() error = %v", err)
	}
	if _, err := eng.Run(context.Background(), conv, msg2); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := st.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got.EscalationReason != "urgent_keyword" {
		t.Fatalf("EscalationReason = %q, want the first recorded reason", got.EscalationReason)
	}
}

func TestRunGenerationUnavailable(t *testing.T) {
	st := newTestStore(t)
	mock := &llm.Mock{FailGenerate: true}
	eng := newTestEngine(t, st, mock)

	conv, inbound := seedInbound(t, st, "can you help me with my order")
	res, err := eng.Run(context.Background(), conv, inbound)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !res.Escalated || res.EscalationReason != ReasonGenerationUnavailable {
		t.Fatalf("Run() = %+v, want generation_unavailable escalation", res)
	}
	if mock.GenerateCalls() != 3 {
		t.Fatalf("GenerateCalls() = %d, want 3", mock.GenerateCalls())
	}
	if res.ReplyText != llm.EscalationMessage {
		t.Fatalf("Run() reply = %q, want the escalation acknowledgment", res.ReplyText)
	}
}

// scriptedProvider returns canned generation results in order, repeating the
// last one when the script runs out.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *scriptedProvider) Classify(ctx context.Context, text string, history []llm.HistoryEntry) (llm.Classification, error) {
	return llm.Classification{Intent: "general", SentimentScore: 0}, nil
}

func (p *scriptedProvider) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return "", fmt.Errorf("no scripted reply")
	}
	idx := p.calls
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.calls++
	return p.replies[idx], nil
}

func (p *scriptedProvider) generateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestRunRegeneratesAfterValidationFailure(t *testing.T) {
	st := newTestStore(t)
	provider := &scriptedProvider{replies: []string{"too shrt", "This longer reply passes every validation gate."}}
	eng := newTestEngine(t, st, provider)

	conv, inbound := seedInbound(t, st, "hello there")
	res, err := eng.Run(context.Background(), conv, inbound)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Escalated {
		t.Fatalf("Run() escalated = true, want accepted retry")
	}
	if !strings.HasPrefix(res.ReplyText, "This longer reply") {
		t.Fatalf("Run() reply = %q, want the second candidate", res.ReplyText)
	}
	if provider.generateCalls() != 2 {
		t.Fatalf("generate calls = %d, want 2", provider.generateCalls())
	}
}

func TestRunValidationExhausted(t *testing.T) {
	st := newTestStore(t)
	provider := &scriptedProvider{replies: []string{"bad"}}
	eng := newTestEngine(t, st, provider)

	conv, inbound := seedInbound(t, st, "hello there")
	res, err := eng.Run(context.Background(), conv, inbound)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !res.Escalated || res.EscalationReason != ReasonValidationExhausted {
		t.Fatalf("Run() = %+v, want validation_exhausted escalation", res)
	}
	if provider.generateCalls() != 3 {
		t.Fatalf("generate calls = %d, want 3", provider.generateCalls())
	}
}

func TestRunTimeoutForcesEscalation(t *testing.T) {
	st := newTestStore(t)
	cfg := DefaultConfig()
	cfg.RunTimeout = time.Nanosecond
	eng, err := New(st, llm.NewMock(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	conv, inbound := seedInbound(t, st, "hello there")
	res, err := eng.Run(context.Background(), conv, inbound)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !res.Escalated || res.EscalationReason != ReasonTimeout {
		t.Fatalf("Run() = %+v, want timeout escalation", res)
	}

	// The acknowledgment is persisted even though the run deadline expired.
	out, err := st.GetMessage(context.Background(), res.OutboundMessageID)
	if err != nil {
		t.Fatalf("GetMessage() error = %v", err)
	}
	if out.Content == "" {
		t.Fatal("escalation acknowledgment not persisted")
	}
}

func TestRunStateOrderOnEscalationShortCircuit(t *testing.T) {
	st := newTestStore(t)
	var mu sync.Mutex
	var seen []State
	eng := newTestEngine(t, st, llm.NewMock(), WithHook(func(runID string, from, to State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}))

	conv, inbound := seedInbound(t, st, "escalate this asap")
	if _, err := eng.Run(context.Background(), conv, inbound); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []State{StateContextRetrieved, StateEscalationChecked, StateDone}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestRunUsesConfiguredEscalationMessage(t *testing.T) {
	st := newTestStore(t)
	custom := "A specialist will join this conversation shortly."
	if err := st.SetConfig(context.Background(), llm.ConfigKeyEscalationMessage, custom, ""); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	eng := newTestEngine(t, st, llm.NewMock())

	conv, inbound := seedInbound(t, st, "I demand a supervisor")
	res, err := eng.Run(context.Background(), conv, inbound)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ReplyText != custom {
		t.Fatalf("Run() reply = %q, want configured acknowledgment", res.ReplyText)
	}
}
