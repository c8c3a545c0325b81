// Package gate admits inbound platform events exactly once and serializes
// processing per conversation.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Rahuldrabit/support-agent/store"
)

// ErrDuplicateIgnored reports a replayed platform event. Callers acknowledge
// receipt to the platform and do no further work.
var ErrDuplicateIgnored = errors.New("duplicate event ignored")

// Gate is the single exactly-once guarantee point of the pipeline. Everything
// downstream assumes the (platform, platform_message_id) key has been
// reserved exactly once.
type Gate struct {
	store *store.Store
	log   *slog.Logger
}

func NewGate(st *store.Store, log *slog.Logger) (*Gate, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{store: st, log: log}, nil
}

// Admit reserves the event's deduplication key and stores the inbound
// message. Two concurrent deliveries of the same event race on the unique
// index; the loser's uniqueness violation is converted to
// ErrDuplicateIgnored.
func (g *Gate) Admit(ctx context.Context, conversationID uint, ev Event) (*store.Message, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	msg, err := g.store.ReserveInbound(ctx, conversationID, ev.Platform, ev.PlatformMessageID, ev.Text, ev.Timestamp)
	if errors.Is(err, store.ErrDuplicateEvent) {
		g.log.Info("event_duplicate_ignored",
			"platform", ev.Platform,
			"platform_message_id", ev.PlatformMessageID,
		)
		return nil, ErrDuplicateIgnored
	}
	if err != nil {
		return nil, fmt.Errorf("admit event: %w", err)
	}
	g.log.Debug("event_admitted",
		"platform", ev.Platform,
		"platform_message_id", ev.PlatformMessageID,
		"message_id", msg.ID,
	)
	return msg, nil
}
