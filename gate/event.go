package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rahuldrabit/support-agent/store"
)

// Event is the normalized inbound webhook payload every platform adapter
// produces before anything touches conversation state.
type Event struct {
	Platform               store.Platform `json:"platform"`
	PlatformUserID         string         `json:"platform_user_id"`
	PlatformConversationID string         `json:"platform_conversation_id"`
	PlatformMessageID      string         `json:"platform_message_id"`
	Text                   string         `json:"text"`
	Timestamp              time.Time      `json:"timestamp"`
	Username               string         `json:"username,omitempty"`
}

func (e Event) Validate() error {
	if !e.Platform.Valid() {
		return fmt.Errorf("platform is invalid: %q", e.Platform)
	}
	if strings.TrimSpace(e.PlatformUserID) == "" {
		return fmt.Errorf("platform_user_id is required")
	}
	if strings.TrimSpace(e.PlatformConversationID) == "" {
		return fmt.Errorf("platform_conversation_id is required")
	}
	if strings.TrimSpace(e.PlatformMessageID) == "" {
		return fmt.Errorf("platform_message_id is required")
	}
	if strings.TrimSpace(e.Text) == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// ConversationKey scopes per-conversation serialization. Different keys run
// fully in parallel; equal keys are processed strictly in arrival order.
func (e Event) ConversationKey() string {
	return fmt.Sprintf("%s:%s", e.Platform, strings.TrimSpace(e.PlatformConversationID))
}
