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

const defaultLinkedInBaseURL = "https://api.linkedin.com"

type LinkedInClient struct {
	BaseURL     string
	AccessToken string
	HTTP        *http.Client
}

func NewLinkedInClient(baseURL, accessToken string) *LinkedInClient {
	if baseURL == "" {
		baseURL = defaultLinkedInBaseURL
	}
	return &LinkedInClient{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
	}
}

type linkedinSendRequest struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
}

func (c *LinkedInClient) Send(ctx context.Context, conversationPlatformID, text string) error {
	body, err := json.Marshal(linkedinSendRequest{
		ConversationID: conversationPlatformID,
		Body:           text,
	})
	if err != nil {
		return Fatal(fmt.Errorf("encode linkedin request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/messages", bytes.NewReader(body))
	if err != nil {
		return Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Retryable(fmt.Errorf("linkedin send: %w", err))
	}
	defer resp.Body.Close()

	return classifyStatus("linkedin", resp.StatusCode)
}
