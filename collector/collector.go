package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"rankwatch/provider"
)

// Collector fans one collection run out to the external providers. A
// failing URL or query is recorded as an error row; it never aborts the run.
type Collector struct {
	metrics     provider.MetricProvider
	answers     provider.Answers
	concurrency int // max in-flight PSI calls; 0 = one per URL
	log         *zap.Logger
}

// New returns a Collector. answers is provider.Unconfigured() when no
// answer engine is available.
func New(metrics provider.MetricProvider, answers provider.Answers, concurrency int, log *zap.Logger) *Collector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{
		metrics:     metrics,
		answers:     answers,
		concurrency: concurrency,
		log:         log,
	}
}

// Collect runs the PSI and GEO paths concurrently and returns the
// aggregated rows, one per input URL and query.
func (c *Collector) Collect(ctx context.Context, req Request) Batch {
	start := time.Now()

	var (
		wg  sync.WaitGroup
		geo []GeoRow
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		geo = c.CollectGEO(ctx, req.Queries, req.Site)
	}()
	psi := c.CollectPSI(ctx, req.URLs, req.Strategy)
	wg.Wait()

	batch := Aggregate(psi, geo)
	c.log.Info("collection finished",
		zap.Int("psi_rows", len(batch.PSI)),
		zap.Int("geo_rows", len(batch.Geo)),
		zap.Duration("took", time.Since(start)),
	)
	return batch
}

type psiJob struct {
	idx int
	url string
}

// CollectPSI fetches every URL through the metric provider using a pool of
// workers and returns one row per URL, in input order.
func (c *Collector) CollectPSI(ctx context.Context, urls []string, strategy string) []PsiRow {
	rows := make([]PsiRow, len(urls))
	if len(urls) == 0 {
		return rows
	}
	strategy = strings.ToLower(strategy)

	workers := c.concurrency
	if workers <= 0 || workers > len(urls) {
		workers = len(urls)
	}

	jobs := make(chan psiJob, len(urls))
	var wg sync.WaitGroup
	for w := 1; w <= workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range jobs {
				// Each worker owns distinct slots of rows.
				rows[j.idx] = c.fetchOne(ctx, id, j.url, strategy)
			}
		}(w)
	}

	for i, u := range urls {
		jobs <- psiJob{idx: i, url: u}
	}
	close(jobs)
	wg.Wait()

	return rows
}

func (c *Collector) fetchOne(ctx context.Context, worker int, url, strategy string) (row PsiRow) {
	log := c.log.With(zap.Int("worker", worker), zap.String("url", url))
	defer func() {
		if r := recover(); r != nil {
			log.Error("metric provider panicked", zap.Any("panic", r))
			row = psiError(url, fmt.Errorf("metric provider panic: %v", r))
		}
	}()

	log.Debug("psi fetch started")
	rep, err := c.metrics.Fetch(ctx, url, strategy)
	if err != nil {
		log.Warn("psi fetch failed", zap.Error(err))
		return psiError(url, err)
	}
	if rep == nil {
		return psiError(url, fmt.Errorf("metric provider returned no report"))
	}

	row = PsiRow{
		URL:    url,
		Status: StatusOK,
		Score:  parseScore(rep.Summary.PerformanceScore),
		LCP:    rep.Summary.CoreWebVitals.LCP,
		CLS:    rep.Summary.CoreWebVitals.CLS,
		Raw:    NullBlob(),
	}
	if rep.Raw != nil {
		row.Raw = JSONBlob(rep.Raw)
	}
	log.Debug("psi fetch finished")
	return row
}

func psiError(url string, err error) PsiRow {
	return PsiRow{URL: url, Status: StatusError, Raw: TextBlob(err.Error())}
}

// parseScore coerces a decoded performance score to a float in [0,1].
// Anything else is nil.
func parseScore(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return nil
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	if math.IsNaN(f) || f < 0 || f > 1 {
		return nil
	}
	return &f
}
