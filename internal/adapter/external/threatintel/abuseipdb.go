package threatintel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// AbuseIPDB flags an address as malicious above this confidence or report count
const (
	abuseIPDBScoreThreshold   = 50
	abuseIPDBReportsThreshold = 5
)

// AbuseIPDBClient handles communication with AbuseIPDB API
type AbuseIPDBClient struct {
	apiKey string
	httpBase
}

// AbuseIPDBConfig holds AbuseIPDB client configuration
type AbuseIPDBConfig struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int // requests per minute
}

// NewAbuseIPDBClient creates a new AbuseIPDB client
func NewAbuseIPDBClient(cfg AbuseIPDBConfig) *AbuseIPDBClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.abuseipdb.com/api/v2"
	}

	return &AbuseIPDBClient{
		apiKey:   cfg.APIKey,
		httpBase: newHTTPBase(cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
	}
}

// AbuseIPDBResponse represents the API response for IP check
type AbuseIPDBResponse struct {
	Data AbuseIPDBData `json:"data"`
}

// AbuseIPDBData contains the IP information
type AbuseIPDBData struct {
	IPAddress            string `json:"ipAddress"`
	IsPublic             bool   `json:"isPublic"`
	IsWhitelisted        bool   `json:"isWhitelisted"`
	AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
	CountryCode          string `json:"countryCode"`
	UsageType            string `json:"usageType"`
	ISP                  string `json:"isp"`
	Domain               string `json:"domain"`
	TotalReports         int    `json:"totalReports"`
	NumDistinctUsers     int    `json:"numDistinctUsers"`
	LastReportedAt       string `json:"lastReportedAt"`
	IsTor                bool   `json:"isTor"`
}

// Name returns the validator name
func (c *AbuseIPDBClient) Name() string {
	return "abuseipdb"
}

// IsConfigured returns true if the client has an API key
func (c *AbuseIPDBClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check queries AbuseIPDB for IP reputation
func (c *AbuseIPDBClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if ind.Kind != entity.KindIPv4 {
		return nil, fmt.Errorf("abuseipdb: unsupported kind %s", ind.Kind)
	}

	reqURL := fmt.Sprintf("%s/check?ipAddress=%s&maxAgeInDays=90",
		c.baseURL, url.QueryEscape(ind.Value))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Key", c.apiKey)

	var apiResp AbuseIPDBResponse
	raw, err := c.do(req, &apiResp)
	if err != nil {
		return nil, err
	}

	d := apiResp.Data
	return &Verdict{
		Score:     d.AbuseConfidenceScore,
		Malicious: d.AbuseConfidenceScore > abuseIPDBScoreThreshold || d.TotalReports > abuseIPDBReportsThreshold,
		Country:   d.CountryCode,
		Raw:       raw,
	}, nil
}
