package threatintel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// VirusTotal votes malicious once this many engines flag the indicator
const virusTotalEngineThreshold = 3

// VirusTotalClient handles communication with VirusTotal API
type VirusTotalClient struct {
	apiKey string
	httpBase
}

// VirusTotalConfig holds VirusTotal client configuration
type VirusTotalConfig struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int // requests per minute
}

// NewVirusTotalClient creates a new VirusTotal client
func NewVirusTotalClient(cfg VirusTotalConfig) *VirusTotalClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.virustotal.com/api/v3"
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 4
	}

	return &VirusTotalClient{
		apiKey:   cfg.APIKey,
		httpBase: newHTTPBase(cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
	}
}

// VirusTotalResponse is the object envelope shared by IP and domain lookups
type VirusTotalResponse struct {
	Data struct {
		Type       string               `json:"type"`
		ID         string               `json:"id"`
		Attributes VirusTotalAttributes `json:"attributes"`
	} `json:"data"`
}

// VirusTotalAttributes contains the fields used for scoring
type VirusTotalAttributes struct {
	ASN               int                     `json:"asn"`
	ASOwner           string                  `json:"as_owner"`
	Country           string                  `json:"country"`
	Reputation        int                     `json:"reputation"`
	LastAnalysisStats VirusTotalAnalysisStats `json:"last_analysis_stats"`
	Tags              []string                `json:"tags"`
}

// VirusTotalAnalysisStats contains detection statistics
type VirusTotalAnalysisStats struct {
	Harmless   int `json:"harmless"`
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Timeout    int `json:"timeout"`
	Undetected int `json:"undetected"`
}

// Name returns the validator name
func (c *VirusTotalClient) Name() string {
	return "virustotal"
}

// IsConfigured returns true if the client has an API key
func (c *VirusTotalClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check queries VirusTotal for an address or domain report
func (c *VirusTotalClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var reqURL string
	switch ind.Kind {
	case entity.KindIPv4:
		reqURL = fmt.Sprintf("%s/ip_addresses/%s", c.baseURL, url.PathEscape(ind.Value))
	case entity.KindDomain:
		reqURL = fmt.Sprintf("%s/domains/%s", c.baseURL, url.PathEscape(ind.Value))
	default:
		return nil, fmt.Errorf("virustotal: unsupported kind %s", ind.Kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	var apiResp VirusTotalResponse
	raw, err := c.do(req, &apiResp)
	if errors.Is(err, entity.ErrNotFound) {
		// Unknown to VT: a clean answer, not a failed call
		return &Verdict{}, nil
	}
	if err != nil {
		return nil, err
	}

	attrs := apiResp.Data.Attributes
	v := &Verdict{
		Score:     virusTotalScore(attrs),
		Malicious: attrs.LastAnalysisStats.Malicious >= virusTotalEngineThreshold,
		Country:   attrs.Country,
		Raw:       raw,
	}
	if attrs.ASN > 0 {
		v.ASN = "AS" + strconv.Itoa(attrs.ASN)
	}
	return v, nil
}

// virusTotalScore weighs engine detections plus a capped penalty for negative community reputation
func virusTotalScore(attrs VirusTotalAttributes) int {
	stats := attrs.LastAnalysisStats
	score := stats.Malicious*10 + stats.Suspicious*5

	if attrs.Reputation < 0 {
		penalty := -attrs.Reputation
		if penalty > 30 {
			penalty = 30
		}
		score += penalty
	}

	return entity.ClampScore(score)
}
