package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrAnswerProviderDisabled is the note recorded on stub rows.
var ErrAnswerProviderDisabled = errors.New("answer provider disabled: no API key configured")

// CollectGEO asks the answer engine about every query in a single call and
// returns one row per query, in input order. A failed call or an
// unparsable reply marks every query as an error. Without a configured
// engine every query is a stub.
func (c *Collector) CollectGEO(ctx context.Context, queries []string, site string) []GeoRow {
	rows := make([]GeoRow, len(queries))
	if len(queries) == 0 {
		return rows
	}

	client, ok := c.answers.Client()
	if !ok {
		for i, q := range queries {
			rows[i] = GeoRow{Query: q, Status: StatusStub, Result: TextBlob(ErrAnswerProviderDisabled.Error())}
		}
		return rows
	}

	items, err := func() (items []Citation, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("answer provider panic: %v", r)
			}
		}()
		reply, err := client.Answer(ctx, BuildPrompt(queries))
		if err != nil {
			return nil, err
		}
		return ParseCitations(reply)
	}()
	if err != nil {
		c.log.Warn("geo batch failed", zap.Int("queries", len(queries)), zap.Error(err))
		for i, q := range queries {
			rows[i] = GeoRow{Query: q, Status: StatusError, Result: TextBlob(err.Error())}
		}
		return rows
	}

	siteHost := normalizeDomain(site)
	for i, q := range queries {
		if i >= len(items) {
			rows[i] = GeoRow{Query: q, Status: StatusError, Result: TextBlob("no answer returned for query")}
			continue
		}
		it := items[i]
		echoed := it.Query
		if echoed == "" {
			echoed = q
		}
		domains := make([]any, len(it.Domains))
		for j, d := range it.Domains {
			domains[j] = d
		}
		rows[i] = GeoRow{
			Query:  q,
			Status: StatusOK,
			Result: JSONBlob(map[string]any{
				"query":         echoed,
				"ai_answer":     it.Answer,
				"cited_domains": domains,
				"site_cited":    siteHost != "" && cites(it.Domains, siteHost),
			}),
		}
	}
	if len(items) != len(queries) {
		c.log.Warn("geo reply size mismatch", zap.Int("queries", len(queries)), zap.Int("answers", len(items)))
	}
	return rows
}

// BuildPrompt is the instruction sent to the answer engine.
func BuildPrompt(queries []string) string {
	var b strings.Builder
	b.WriteString("Answer each of the following search queries the way an AI assistant would, ")
	b.WriteString("and list the web domains you would cite as sources.\n")
	b.WriteString("Reply with ONLY a JSON array with one object per query, in the same order, ")
	b.WriteString(`each with the keys "query", "ai_answer" and "cited_domains" (an array of domain names).`)
	b.WriteString("\n\nQueries:\n")
	for i, q := range queries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return b.String()
}

// Citation is one parsed answer-engine item.
type Citation struct {
	Query   string
	Answer  string
	Domains []string
}

type rawCitation struct {
	Query        string          `json:"query"`
	AIAnswer     *string         `json:"ai_answer"`
	Answer       *string         `json:"answer"`
	CitedDomains json.RawMessage `json:"cited_domains"`
	Cited        json.RawMessage `json:"cited"`
}

// ParseCitations decodes an answer-engine reply into ordered citations.
// The reply may be wrapped in a markdown code fence.
func ParseCitations(reply string) ([]Citation, error) {
	body := stripFence(reply)

	var raw []rawCitation
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		var wrapped struct {
			Results []rawCitation `json:"results"`
		}
		if werr := json.Unmarshal([]byte(body), &wrapped); werr != nil || wrapped.Results == nil {
			return nil, fmt.Errorf("parse answer provider reply: %w", err)
		}
		raw = wrapped.Results
	}

	out := make([]Citation, 0, len(raw))
	for i, r := range raw {
		c := Citation{Query: r.Query}
		switch {
		case r.AIAnswer != nil:
			c.Answer = *r.AIAnswer
		case r.Answer != nil:
			c.Answer = *r.Answer
		}
		cited := r.CitedDomains
		if isAbsent(cited) {
			cited = r.Cited
		}
		domains, err := parseDomains(cited)
		if err != nil {
			return nil, fmt.Errorf("parse answer provider reply: item %d: %w", i, err)
		}
		c.Domains = domains
		out = append(out, c)
	}
	return out, nil
}

// isAbsent reports whether a field was missing or explicitly null.
func isAbsent(msg json.RawMessage) bool {
	return len(msg) == 0 || string(msg) == "null"
}

// parseDomains accepts a string, an array of strings, or null.
func parseDomains(msg json.RawMessage) ([]string, error) {
	out := []string{}
	if isAbsent(msg) {
		return out, nil
	}

	var list []string
	var one string
	switch {
	case json.Unmarshal(msg, &list) == nil:
	case json.Unmarshal(msg, &one) == nil:
		list = []string{one}
	default:
		return nil, fmt.Errorf("cited domains must be a string or a list of strings, got %s", msg)
	}

	seen := make(map[string]struct{}, len(list))
	for _, d := range list {
		d = normalizeDomain(d)
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

// normalizeDomain reduces "https://www.Example.com/path" to "example.com".
func normalizeDomain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimSuffix(s, ".")
}

func cites(domains []string, host string) bool {
	for _, d := range domains {
		if d == host || strings.HasSuffix(d, "."+host) {
			return true
		}
	}
	return false
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
