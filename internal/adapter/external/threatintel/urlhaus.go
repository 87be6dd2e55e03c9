package threatintel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// URLhausConfig holds configuration for URLhaus client
type URLhausConfig struct {
	APIKey    string // Auth-Key from auth.abuse.ch
	BaseURL   string
	Timeout   time.Duration
	RateLimit int
}

// URLhausClient queries abuse.ch URLhaus for hosts serving malicious URLs
type URLhausClient struct {
	apiKey string
	httpBase
}

// URLhausHostResponse represents the host lookup response
type URLhausHostResponse struct {
	QueryStatus string            `json:"query_status"`
	Host        string            `json:"host"`
	FirstSeen   string            `json:"firstseen"`
	URLCount    int               `json:"url_count"`
	Blacklists  URLhausBlacklists `json:"blacklists"`
	URLs        []URLhausURL      `json:"urls"`
}

// URLhausBlacklists contains blacklist status
type URLhausBlacklists struct {
	SpamhausDbl string `json:"spamhaus_dbl"`
	SurblMulti  string `json:"surbl_multi"`
}

// URLhausURL represents a malicious URL entry
type URLhausURL struct {
	URL       string   `json:"url"`
	URLStatus string   `json:"url_status"`
	Threat    string   `json:"threat"`
	Tags      []string `json:"tags"`
}

// NewURLhausClient creates a new URLhaus client
func NewURLhausClient(cfg URLhausConfig) *URLhausClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://urlhaus-api.abuse.ch/v1"
	}
	return &URLhausClient{
		apiKey:   cfg.APIKey,
		httpBase: newHTTPBase(cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
	}
}

// Name returns the validator name
func (c *URLhausClient) Name() string {
	return "urlhaus"
}

// IsConfigured returns true if Auth-Key is configured
func (c *URLhausClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check queries URLhaus for an IP or domain host
func (c *URLhausClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	data := url.Values{}
	data.Set("host", ind.Value)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/host/", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Auth-Key", c.apiKey)

	var uhResp URLhausHostResponse
	raw, err := c.do(req, &uhResp)
	if err != nil {
		return nil, err
	}

	switch uhResp.QueryStatus {
	case "ok":
	case "no_results":
		return &Verdict{Raw: raw}, nil
	default:
		return nil, fmt.Errorf("urlhaus: query status %q", uhResp.QueryStatus)
	}

	active := 0
	for _, u := range uhResp.URLs {
		if u.URLStatus == "online" {
			active++
		}
	}
	listed := uhResp.Blacklists.SpamhausDbl == "listed" || uhResp.Blacklists.SurblMulti == "listed"

	return &Verdict{
		Score:     urlhausScore(uhResp, active),
		Malicious: active > 0 || listed,
		Raw:       raw,
	}, nil
}

// urlhausScore starts at 50 for any listing and adds for live URLs, volume, blacklists and threat type
func urlhausScore(resp URLhausHostResponse, active int) int {
	score := 50
	if active > 0 {
		score += min(active*10, 30)
	}
	if resp.URLCount > 5 {
		score += 10
	}
	if resp.Blacklists.SpamhausDbl == "listed" {
		score += 10
	}
	if resp.Blacklists.SurblMulti == "listed" {
		score += 10
	}

	seen := make(map[string]bool)
	for _, u := range resp.URLs {
		if seen[u.Threat] {
			continue
		}
		seen[u.Threat] = true
		switch u.Threat {
		case "malware_download":
			score += 15
		case "phishing":
			score += 10
		}
	}

	return entity.ClampScore(score)
}
