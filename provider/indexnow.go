package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// IndexNowURL is the shared IndexNow endpoint.
const IndexNowURL = "https://api.indexnow.org/indexnow"

// IndexNowResult echoes the endpoint's answer; IndexNow reports problems
// through the status code, so non-2xx is not an error here.
type IndexNowResult struct {
	StatusCode int    `json:"statusCode"`
	Text       string `json:"text"`
}

// IndexNow submits changed URLs to search engines.
type IndexNow struct {
	Endpoint string
	HTTP     *http.Client
}

// NewIndexNow returns a client for the public endpoint.
func NewIndexNow(timeout time.Duration) *IndexNow {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &IndexNow{Endpoint: IndexNowURL, HTTP: &http.Client{Timeout: timeout}}
}

// Submit posts urls for host, authenticated by key.
func (n *IndexNow) Submit(ctx context.Context, host, key string, urls []string) (*IndexNowResult, error) {
	body, err := json.Marshal(map[string]any{
		"host":    host,
		"key":     key,
		"urlList": urls,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal indexnow payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Target: n.Endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := n.HTTP.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Target: n.Endpoint, Err: err}
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Target: n.Endpoint, Err: err}
	}
	return &IndexNowResult{StatusCode: resp.StatusCode, Text: string(text)}, nil
}
