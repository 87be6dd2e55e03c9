package threatintel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// URLScan votes malicious once a scan verdict score reaches this value
const urlscanScoreThreshold = 70

// URLScanConfig holds URLScan client configuration
type URLScanConfig struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int
}

// URLScanClient searches existing urlscan.io scans of a domain
type URLScanClient struct {
	apiKey string
	httpBase
}

// URLScanSearchResponse represents the search API response
type URLScanSearchResponse struct {
	Total   int             `json:"total"`
	Results []URLScanResult `json:"results"`
}

// URLScanResult is one stored scan
type URLScanResult struct {
	ID   string `json:"_id"`
	Page struct {
		Domain  string `json:"domain"`
		Country string `json:"country"`
		ASN     string `json:"asn"`
	} `json:"page"`
	Verdicts struct {
		Overall struct {
			Score      int      `json:"score"`
			Malicious  bool     `json:"malicious"`
			Categories []string `json:"categories"`
		} `json:"overall"`
	} `json:"verdicts"`
}

// Penalty added per scan verdict category
var urlscanCategoryPenalties = map[string]int{
	"phishing": 20,
	"malware":  20,
}

// NewURLScanClient creates a new URLScan client
func NewURLScanClient(cfg URLScanConfig) *URLScanClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://urlscan.io/api/v1"
	}
	return &URLScanClient{
		apiKey:   cfg.APIKey,
		httpBase: newHTTPBase(cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
	}
}

// Name returns the validator name
func (c *URLScanClient) Name() string {
	return "urlscan"
}

// IsConfigured returns true if the client has an API key
func (c *URLScanClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check scores the most severe recent scan of the domain
func (c *URLScanClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if ind.Kind != entity.KindDomain {
		return nil, fmt.Errorf("urlscan: unsupported kind %s", ind.Kind)
	}

	q := url.Values{}
	q.Set("q", "domain:"+ind.Value)
	q.Set("size", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("API-Key", c.apiKey)

	var search URLScanSearchResponse
	raw, err := c.do(req, &search)
	if errors.Is(err, entity.ErrNotFound) {
		return &Verdict{}, nil
	}
	if err != nil {
		return nil, err
	}

	v := &Verdict{Raw: raw}
	for _, r := range search.Results {
		score := urlscanRisk(r)
		if score > v.Score {
			v.Score = score
		}
		if v.Country == "" {
			v.Country = r.Page.Country
		}
		if v.ASN == "" {
			v.ASN = r.Page.ASN
		}
	}
	v.Malicious = v.Score >= urlscanScoreThreshold
	return v, nil
}

// urlscanRisk is the verdict score plus categorical penalties
func urlscanRisk(r URLScanResult) int {
	overall := r.Verdicts.Overall
	score := overall.Score
	if score < 0 {
		score = 0
	}
	for _, cat := range overall.Categories {
		score += urlscanCategoryPenalties[cat]
	}
	if overall.Malicious {
		score += 20
	}
	return entity.ClampScore(score)
}
