package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rahuldrabit/support-agent/gate"
	"github.com/Rahuldrabit/support-agent/platform"
	"github.com/Rahuldrabit/support-agent/store"
)

const signatureHeader = "X-Signature"

type tiktokWebhook struct {
	EventType      string `json:"event_type"`
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

type linkedinWebhook struct {
	EventType      string `json:"event_type"`
	SenderID       string `json:"sender_id"`
	MessageText    string `json:"message_text"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

func (s *Server) handleTikTokWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r, s.cfg.TikTokWebhookSecret)
	if !ok {
		return
	}
	var payload tiktokWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	s.acceptEvent(w, r, gate.Event{
		Platform:               store.PlatformTikTok,
		PlatformUserID:         payload.UserID,
		PlatformConversationID: payload.ConversationID,
		PlatformMessageID:      payload.MessageID,
		Text:                   payload.Message,
		Timestamp:              timestampOrNow(payload.Timestamp),
	})
}

func (s *Server) handleLinkedInWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r, s.cfg.LinkedInWebhookSecret)
	if !ok {
		return
	}
	var payload linkedinWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	s.acceptEvent(w, r, gate.Event{
		Platform:               store.PlatformLinkedIn,
		PlatformUserID:         payload.SenderID,
		PlatformConversationID: payload.ConversationID,
		PlatformMessageID:      payload.MessageID,
		Text:                   payload.MessageText,
		Timestamp:              timestampOrNow(payload.Timestamp),
	})
}

// handleWebhookVerify answers platform endpoint-verification challenges.
func (s *Server) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	if challenge := r.URL.Query().Get("challenge"); challenge != "" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "webhook endpoint ready"})
}

// verifiedBody reads the request body and checks its HMAC signature against
// the configured secret.
func (s *Server) verifiedBody(w http.ResponseWriter, r *http.Request, secret string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}
	signature := strings.TrimSpace(r.Header.Get(signatureHeader))
	if !platform.VerifySignature(secret, body, signature) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return nil, false
	}
	return body, true
}

// acceptEvent submits the normalized event and acknowledges receipt.
// Duplicates are detected downstream by the gate; the platform always gets a
// 202 so it stops redelivering.
func (s *Server) acceptEvent(w http.ResponseWriter, r *http.Request, ev gate.Event) {
	if err := ev.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.pipeline.Submit(r.Context(), ev); err != nil {
		s.log.Error("webhook_submit_error", "platform", ev.Platform, "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "event queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func timestampOrNow(unix int64) time.Time {
	if unix > 0 {
		return time.Unix(unix, 0).UTC()
	}
	return time.Now().UTC()
}
