package threatintel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// Neutrino host reputation votes malicious when listed on this many blocklists
const neutrinoListThreshold = 3

// NeutrinoConfig holds NeutrinoAPI client configuration
type NeutrinoConfig struct {
	UserID    string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int
}

// NeutrinoClient queries the NeutrinoAPI host-reputation DNSBL aggregate
type NeutrinoClient struct {
	userID string
	apiKey string
	httpBase
}

// NeutrinoResponse is the host-reputation response
type NeutrinoResponse struct {
	IsListed  bool           `json:"is-listed"`
	ListCount int            `json:"list-count"`
	Lists     []NeutrinoList `json:"lists"`
}

// NeutrinoList is one DNSBL result
type NeutrinoList struct {
	ListName string `json:"list-name"`
	IsListed bool   `json:"is-listed"`
}

// NewNeutrinoClient creates a new NeutrinoAPI client
func NewNeutrinoClient(cfg NeutrinoConfig) *NeutrinoClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://neutrinoapi.net"
	}
	return &NeutrinoClient{
		userID:   cfg.UserID,
		apiKey:   cfg.APIKey,
		httpBase: newHTTPBase(cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
	}
}

// Name returns the validator name
func (c *NeutrinoClient) Name() string {
	return "neutrino"
}

// IsConfigured requires both the user ID and the API key
func (c *NeutrinoClient) IsConfigured() bool {
	return c.userID != "" && c.apiKey != ""
}

// Check queries DNS blocklists for an IPv4 address
func (c *NeutrinoClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if ind.Kind != entity.KindIPv4 {
		return nil, fmt.Errorf("neutrino: unsupported kind %s", ind.Kind)
	}

	reqURL := fmt.Sprintf("%s/host-reputation?host=%s", c.baseURL, url.QueryEscape(ind.Value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-ID", c.userID)
	req.Header.Set("API-Key", c.apiKey)

	var nResp NeutrinoResponse
	raw, err := c.do(req, &nResp)
	if err != nil {
		return nil, err
	}

	return &Verdict{
		Score:     entity.ClampScore(nResp.ListCount * 15),
		Malicious: nResp.ListCount >= neutrinoListThreshold,
		Raw:       raw,
	}, nil
}
