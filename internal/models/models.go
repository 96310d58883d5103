package models

import "time"

// Listing is the atomic output of any source adapter: one item offered for
// sale on one marketplace, normalized to USD.
type Listing struct {
	Name       string            `json:"name"`
	Price      float64           `json:"price"`
	Source     string            `json:"source"`
	URL        string            `json:"url,omitempty"`
	Quantity   int               `json:"quantity,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// SnapshotMetrics carries per-run adapter statistics alongside a snapshot.
type SnapshotMetrics struct {
	RequestsMade   int64   `json:"requests_made"`
	RequestsFailed int64   `json:"requests_failed"`
	RateLimitHits  int64   `json:"rate_limit_hits"`
	DurationSecs   float64 `json:"duration_seconds"`
}

// SourceSnapshot is the wrapped on-disk form of one complete adapter run.
type SourceSnapshot struct {
	Platform   string           `json:"platform"`
	Timestamp  time.Time        `json:"timestamp"`
	TotalItems int              `json:"total_items"`
	Items      []Listing        `json:"items"`
	Metrics    *SnapshotMetrics `json:"metrics,omitempty"`
}

// NameIDEntry maps a reference-marketplace item name to its internal numeric
// id, required by the order-histogram endpoint.
type NameIDEntry struct {
	Name        string    `json:"name"`
	ID          string    `json:"id"`
	LastUpdated time.Time `json:"last_updated"`
}

// Opportunity is one profitable cross-marketplace trade: buy on BuySource,
// sell on the reference marketplace after fees.
type Opportunity struct {
	Name           string    `json:"name"`
	BuySource      string    `json:"buy_source"`
	BuyPrice       float64   `json:"buy_price"`
	BuyURL         string    `json:"buy_url"`
	ReferenceGross float64   `json:"reference_gross_price"`
	ReferenceNet   float64   `json:"reference_net_price"`
	ProfitAbsolute float64   `json:"profit_absolute"`
	ProfitRatio    float64   `json:"profit_ratio"`
	ReferenceURL   string    `json:"reference_url"`
	ComputedAt     time.Time `json:"computed_at"`
}

// OpportunityList is one complete engine run plus metadata.
type OpportunityList struct {
	Timestamp     time.Time     `json:"timestamp"`
	Mode          string        `json:"mode"`
	TotalResults  int           `json:"total_opportunities"`
	Opportunities []Opportunity `json:"opportunities"`
}

// OpportunitySnapshot is the durable engine output: the current run plus a
// bounded history of displaced runs.
type OpportunitySnapshot struct {
	Current     *OpportunityList  `json:"current"`
	LastUpdated time.Time         `json:"last_updated"`
	History     []OpportunityList `json:"history"`
}

// MaxHistory bounds OpportunitySnapshot.History.
const MaxHistory = 10

// ProxyEntry is one upstream proxy endpoint with embedded credentials,
// ready to be passed to an HTTP transport.
type ProxyEntry struct {
	URL    string
	Region string
}

// RunStatus is the per-source outcome of one runtime pass.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
	RunPartial RunStatus = "partial"
)

// SourceResult summarizes one adapter run for operators.
type SourceResult struct {
	Source   string        `json:"source"`
	Status   RunStatus     `json:"status"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}
