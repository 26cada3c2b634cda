package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// PageSpeedURL is the public PageSpeed Insights v5 endpoint.
const PageSpeedURL = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// CoreWebVitals holds the Lighthouse display strings ("1.2 s", "0.01").
type CoreWebVitals struct {
	LCP *string `json:"lcp"`
	FID *string `json:"fid"`
	CLS *string `json:"cls"`
}

// Summary is the part of a Lighthouse run rankwatch records.
type Summary struct {
	// PerformanceScore is kept as decoded (normally a float in [0,1]);
	// callers coerce it.
	PerformanceScore any           `json:"performance_score"`
	CoreWebVitals    CoreWebVitals `json:"core_web_vitals"`
}

// Report is the result of one PageSpeed call.
type Report struct {
	URL                     string         `json:"url"`
	Summary                 Summary        `json:"lighthouse_summary"`
	LoadingExperience       map[string]any `json:"loading_experience"`
	OriginLoadingExperience map[string]any `json:"origin_loading_experience"`
	Raw                     map[string]any `json:"raw"`
}

// PageSpeed implements MetricProvider against the PageSpeed Insights API.
type PageSpeed struct {
	Endpoint  string       // defaults to PageSpeedURL
	APIKey    string       // optional
	HTTP      *http.Client // injected for testability
	Log       *zap.Logger
	UserAgent string
}

// NewPageSpeed returns a ready-to-use client.
func NewPageSpeed(apiKey string, timeout time.Duration, log *zap.Logger) *PageSpeed {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PageSpeed{
		Endpoint:  PageSpeedURL,
		APIKey:    apiKey,
		HTTP:      &http.Client{Timeout: timeout},
		Log:       log,
		UserAgent: "rankwatch/0.1",
	}
}

// pageSpeedResponse is the minimal subset of runPagespeed we decode.
type pageSpeedResponse struct {
	LighthouseResult        map[string]any `json:"lighthouseResult"`
	LoadingExperience       map[string]any `json:"loadingExperience"`
	OriginLoadingExperience map[string]any `json:"originLoadingExperience"`
}

// Fetch implements MetricProvider.
func (p *PageSpeed) Fetch(ctx context.Context, pageURL, strategy string) (*Report, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = PageSpeedURL
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid pagespeed endpoint: %w", err)
	}
	q := u.Query()
	q.Set("url", pageURL)
	q.Set("strategy", strategy)
	if p.APIKey != "" {
		q.Set("key", p.APIKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Target: pageURL, Err: err}
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Target: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Kind: KindStatus, Target: pageURL, StatusCode: resp.StatusCode, Err: errors.New(string(b))}
	}

	var body pageSpeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Kind: KindParse, Target: pageURL, Err: err}
	}

	lh := body.LighthouseResult
	if lh == nil {
		lh = map[string]any{}
	}
	report := &Report{
		URL: pageURL,
		Summary: Summary{
			PerformanceScore: dig(lh, "categories", "performance", "score"),
			CoreWebVitals: CoreWebVitals{
				LCP: displayValue(lh, "largest-contentful-paint"),
				FID: displayValue(lh, "max-potential-fid"),
				CLS: displayValue(lh, "cumulative-layout-shift"),
			},
		},
		LoadingExperience:       body.LoadingExperience,
		OriginLoadingExperience: body.OriginLoadingExperience,
		Raw:                     map[string]any{"lighthouseResult": lh},
	}
	if p.Log != nil {
		p.Log.Debug("pagespeed fetched", zap.String("url", pageURL), zap.String("strategy", strategy))
	}
	return report, nil
}

// dig walks nested JSON objects; any missing or non-object step yields nil.
func dig(m map[string]any, path ...string) any {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

func displayValue(lh map[string]any, audit string) *string {
	s, ok := dig(lh, "audits", audit, "displayValue").(string)
	if !ok {
		return nil
	}
	return &s
}
