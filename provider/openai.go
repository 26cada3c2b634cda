package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAI implements AnswerProvider over an OpenAI-compatible
// /v1/chat/completions endpoint.
type OpenAI struct {
	BaseURL string // e.g. "https://api.openai.com"
	APIKey  string
	Model   string
	HTTP    *http.Client
	Log     *zap.Logger
}

// NewOpenAI returns a client for baseURL.
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration, log *zap.Logger) *OpenAI {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HTTP:    &http.Client{Timeout: timeout},
		Log:     log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Answer implements AnswerProvider.
func (c *OpenAI) Answer(ctx context.Context, prompt string) (string, error) {
	endpoint := c.BaseURL + "/v1/chat/completions"

	body, err := json.Marshal(chatRequest{
		Model:    c.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindTransport, Target: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &Error{Kind: KindTransport, Target: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &Error{Kind: KindStatus, Target: endpoint, StatusCode: resp.StatusCode, Err: errors.New(string(b))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Kind: KindParse, Target: endpoint, Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &Error{Kind: KindParse, Target: endpoint, Err: errors.New("no choices in response")}
	}
	if c.Log != nil {
		c.Log.Debug("answer engine replied", zap.String("model", c.Model), zap.Int("chars", len(out.Choices[0].Message.Content)))
	}
	return out.Choices[0].Message.Content, nil
}
