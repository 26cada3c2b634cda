// Package provider holds the HTTP adapters for the external services
// rankwatch measures against: PageSpeed Insights, an OpenAI-compatible
// answer engine and IndexNow.
package provider

import (
	"context"
	"fmt"
)

// MetricProvider fetches performance metrics for a single URL.
type MetricProvider interface {
	Fetch(ctx context.Context, url, strategy string) (*Report, error)
}

// MetricProviderFunc adapts a function to MetricProvider.
type MetricProviderFunc func(ctx context.Context, url, strategy string) (*Report, error)

// Fetch implements MetricProvider.
func (f MetricProviderFunc) Fetch(ctx context.Context, url, strategy string) (*Report, error) {
	return f(ctx, url, strategy)
}

// AnswerProvider sends a prompt to an answer engine and returns its text.
type AnswerProvider interface {
	Answer(ctx context.Context, prompt string) (string, error)
}

// AnswerProviderFunc adapts a function to AnswerProvider.
type AnswerProviderFunc func(ctx context.Context, prompt string) (string, error)

// Answer implements AnswerProvider.
func (f AnswerProviderFunc) Answer(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Answers is the answer-engine capability of a deployment: either a
// configured client or nothing. It is decided once, at construction.
type Answers struct {
	client AnswerProvider
}

// Configured wraps a usable answer engine client.
func Configured(client AnswerProvider) Answers {
	return Answers{client: client}
}

// Unconfigured is the capability of a deployment without an answer engine.
func Unconfigured() Answers {
	return Answers{}
}

// AnswersFromKey returns Configured(newClient()) when apiKey is set and
// Unconfigured otherwise.
func AnswersFromKey(apiKey string, newClient func() AnswerProvider) Answers {
	if apiKey == "" {
		return Unconfigured()
	}
	return Configured(newClient())
}

// Client returns the configured client and true, or nil and false.
func (a Answers) Client() (AnswerProvider, bool) {
	return a.client, a.client != nil
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport" // network failure or timeout
	KindStatus    ErrorKind = "status"    // non-2xx HTTP response
	KindParse     ErrorKind = "parse"     // malformed payload
)

// Error is returned by every adapter in this package.
type Error struct {
	Kind       ErrorKind
	Target     string // URL or endpoint the call was about
	StatusCode int    // set for KindStatus
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s error for %s: HTTP %d: %v", e.Kind, e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error for %s: %v", e.Kind, e.Target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
