// Package openai implements the llm.Provider capability against any
// OpenAI-compatible chat-completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rahuldrabit/support-agent/llm"
)

type Client struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	HTTP        *http.Client
}

func New(baseURL, apiKey, model string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.7,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) Classify(ctx context.Context, text string, history []llm.HistoryEntry) (llm.Classification, error) {
	start := time.Now()
	prompt := fmt.Sprintf(llm.ClassificationPrompt, text, formatHistory(history))
	out, err := c.complete(ctx, prompt, 0)
	if err != nil {
		return llm.Classification{}, err
	}

	intent, reason, err := parseClassification(out)
	if err != nil {
		return llm.Classification{}, err
	}
	return llm.Classification{
		Intent:         intent,
		SentimentScore: llm.KeywordSentiment(text),
		Reason:         reason,
		Duration:       time.Since(start),
	}, nil
}

func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	template := llm.PromptForIntent(req.Config, req.Intent)
	prompt := fmt.Sprintf(template, req.Message, req.Context)
	out, err := c.complete(ctx, prompt, c.Temperature)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	body := chatCompletionRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("openai: invalid response json: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if out.Error != nil {
			return "", fmt.Errorf("openai: %s (%s)", out.Error.Message, out.Error.Type)
		}
		return "", fmt.Errorf("openai: http %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

// parseClassification extracts the intent from the CLASSIFICATION: line.
func parseClassification(out string) (string, string, error) {
	var intent, reason string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "CLASSIFICATION:"); ok {
			intent = strings.ToLower(strings.TrimSpace(rest))
		}
		if rest, ok := strings.CutPrefix(line, "REASON:"); ok {
			reason = strings.TrimSpace(rest)
		}
	}
	switch intent {
	case "support", "sales", "general", "urgent":
		return intent, reason, nil
	default:
		return "", "", fmt.Errorf("openai: unrecognized classification %q", intent)
	}
}

func formatHistory(history []llm.HistoryEntry) string {
	if len(history) == 0 {
		return "No previous context."
	}
	parts := make([]string, 0, len(history))
	for _, h := range history {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToUpper(h.Role), h.Content))
	}
	return strings.Join(parts, "\n")
}
