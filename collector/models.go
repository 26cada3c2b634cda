package collector

// Status is the outcome recorded on a result row.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
	StatusStub  Status = "stub" // answer provider not configured
)

// PsiRow is one PageSpeed measurement of one URL.
type PsiRow struct {
	URL    string   `json:"url"`
	Status Status   `json:"status"`
	Score  *float64 `json:"score"` // performance score in [0,1]
	LCP    *string  `json:"lcp"`
	CLS    *string  `json:"cls"`
	Raw    Blob     `json:"raw"` // provider payload, or the error text
}

// GeoRow is one answer-engine citation check of one query.
type GeoRow struct {
	Query  string `json:"query"`
	Status Status `json:"status"`
	Result Blob   `json:"result"`
}

// Batch is the output of a single collection run, in input order.
type Batch struct {
	PSI []PsiRow
	Geo []GeoRow
}

// Request describes one collection run.
type Request struct {
	URLs     []string
	Strategy string
	Queries  []string
	Site     string // hostname whose citation the GEO path looks for
}
