// Package platform holds the outbound send clients and webhook authentication
// for the supported messaging platforms.
package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Rahuldrabit/support-agent/store"
)

// SendError classifies a failed send. Retryable failures (network, timeout,
// 5xx, rate limit) are retried by the dispatcher with backoff; fatal ones
// (auth, validation) fail the job immediately.
type SendError struct {
	Retryable bool
	Err       error
}

func (e *SendError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("send failed (%s): %v", kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func Retryable(err error) *SendError { return &SendError{Retryable: true, Err: err} }
func Fatal(err error) *SendError     { return &SendError{Retryable: false, Err: err} }

// IsRetryable reports whether err should be retried. Unclassified errors
// (plain network failures) are treated as retryable.
func IsRetryable(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// Sender delivers one text message to a platform conversation.
type Sender interface {
	Send(ctx context.Context, conversationPlatformID, text string) error
}

// Registry maps platforms to their senders.
type Registry struct {
	senders map[store.Platform]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[store.Platform]Sender)}
}

func (r *Registry) Register(p store.Platform, s Sender) {
	if s != nil {
		r.senders[p] = s
	}
}

func (r *Registry) Sender(p store.Platform) (Sender, error) {
	s, ok := r.senders[p]
	if !ok {
		return nil, fmt.Errorf("no sender registered for platform %q", p)
	}
	return s, nil
}

// VerifySignature checks an HMAC-SHA256 webhook signature over the raw
// payload. An empty configured secret disables verification.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
