package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

const lighthouseFixture = `{
  "lighthouseResult": {
    "categories": {"performance": {"score": 0.91}},
    "audits": {
      "largest-contentful-paint": {"displayValue": "1.2 s"},
      "cumulative-layout-shift": {"displayValue": "0.01"}
    }
  },
  "loadingExperience": {"overall_category": "FAST"}
}`

func TestPageSpeedFetch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		io.WriteString(w, lighthouseFixture)
	}))
	defer srv.Close()

	p := NewPageSpeed("k123", 0, zap.NewNop())
	p.Endpoint = srv.URL

	rep, err := p.Fetch(context.Background(), "https://a.com", "desktop")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	for _, want := range []string{"url=https%3A%2F%2Fa.com", "strategy=desktop", "key=k123"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
	if rep.Summary.PerformanceScore != 0.91 {
		t.Errorf("PerformanceScore = %v, want 0.91", rep.Summary.PerformanceScore)
	}
	if rep.Summary.CoreWebVitals.LCP == nil || *rep.Summary.CoreWebVitals.LCP != "1.2 s" {
		t.Errorf("LCP = %v", rep.Summary.CoreWebVitals.LCP)
	}
	if rep.Summary.CoreWebVitals.FID != nil {
		t.Errorf("FID = %v, want nil for a missing audit", *rep.Summary.CoreWebVitals.FID)
	}
	if _, ok := rep.Raw["lighthouseResult"]; !ok {
		t.Error("Raw should carry lighthouseResult")
	}
	if rep.LoadingExperience["overall_category"] != "FAST" {
		t.Errorf("LoadingExperience = %v", rep.LoadingExperience)
	}
}

func TestPageSpeedMissingLighthouse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	p := NewPageSpeed("", 0, nil)
	p.Endpoint = srv.URL

	rep, err := p.Fetch(context.Background(), "https://a.com", "mobile")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if rep.Summary.PerformanceScore != nil || rep.Summary.CoreWebVitals.LCP != nil || rep.Summary.CoreWebVitals.CLS != nil {
		t.Errorf("Summary = %+v, want all nil", rep.Summary)
	}
}

func TestPageSpeedErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    ErrorKind
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			},
			want: KindStatus,
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, `{"lighthouseResult": [`)
			},
			want: KindParse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewPageSpeed("", 0, nil)
			p.Endpoint = srv.URL
			_, err := p.Fetch(context.Background(), "https://a.com", "mobile")

			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("Fetch() error = %v, want *Error", err)
			}
			if perr.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", perr.Kind, tt.want)
			}
		})
	}
}

func TestPageSpeedTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	p := NewPageSpeed("", 0, nil)
	p.Endpoint = endpoint
	_, err := p.Fetch(context.Background(), "https://a.com", "mobile")

	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindTransport {
		t.Fatalf("Fetch() error = %v, want transport error", err)
	}
}

func TestOpenAIAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Model != "gpt-test" || len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
			t.Errorf("request = %+v", req)
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"[]"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(srv.URL+"/", "sk-test", "gpt-test", 0, zap.NewNop())
	got, err := c.Answer(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "[]" {
		t.Errorf("Answer() = %q, want []", got)
	}
}

func TestOpenAINoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(srv.URL, "k", "m", 0, nil)
	_, err := c.Answer(context.Background(), "x")

	var perr *Error
	if !errors.As(err, &perr) || perr.Kind != KindParse {
		t.Fatalf("Answer() error = %v, want parse error", err)
	}
}

func TestAnswersCapability(t *testing.T) {
	if _, ok := Unconfigured().Client(); ok {
		t.Error("Unconfigured().Client() ok = true")
	}
	if _, ok := AnswersFromKey("", func() AnswerProvider { t.Error("must not build a client"); return nil }).Client(); ok {
		t.Error("AnswersFromKey(\"\") should be unconfigured")
	}
	fake := AnswerProviderFunc(func(ctx context.Context, prompt string) (string, error) { return "", nil })
	if c, ok := AnswersFromKey("k", func() AnswerProvider { return fake }).Client(); !ok || c == nil {
		t.Error("AnswersFromKey(\"k\") should be configured")
	}
}

func TestIndexNowSubmit(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "accepted")
	}))
	defer srv.Close()

	n := NewIndexNow(0)
	n.Endpoint = srv.URL
	res, err := n.Submit(context.Background(), "a.com", "key1", []string{"https://a.com/x"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.StatusCode != http.StatusAccepted || res.Text != "accepted" {
		t.Errorf("Submit() = %+v", res)
	}
	if payload["host"] != "a.com" || payload["key"] != "key1" {
		t.Errorf("payload = %v", payload)
	}
	if list, ok := payload["urlList"].([]any); !ok || len(list) != 1 {
		t.Errorf("urlList = %v", payload["urlList"])
	}
}
