package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTikTokBaseURL = "https://open-api.tiktok.com"

type TikTokClient struct {
	BaseURL     string
	AccessToken string
	HTTP        *http.Client
}

func NewTikTokClient(baseURL, accessToken string) *TikTokClient {
	if baseURL == "" {
		baseURL = defaultTikTokBaseURL
	}
	return &TikTokClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
	}
}

type tiktokSendRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageText    string `json:"message_text"`
}

func (c *TikTokClient) Send(ctx context.Context, conversationPlatformID, text string) error {
	body, err := json.Marshal(tiktokSendRequest{
		ConversationID: conversationPlatformID,
		MessageText:    text,
	})
	if err != nil {
		return Fatal(fmt.Errorf("encode tiktok request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/message/send/", bytes.NewReader(body))
	if err != nil {
		return Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Retryable(fmt.Errorf("tiktok send: %w", err))
	}
	defer resp.Body.Close()

	return classifyStatus("tiktok", resp.StatusCode)
}

// classifyStatus maps an HTTP status to the dispatcher's retry taxonomy:
// 2xx ok, 429/5xx retryable, everything else fatal.
func classifyStatus(platform string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return Retryable(fmt.Errorf("%s send: http %d", platform, status))
	default:
		return Fatal(fmt.Errorf("%s send: http %d", platform, status))
	}
}
