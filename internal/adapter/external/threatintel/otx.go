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

// OTX votes malicious once this many community pulses reference the indicator
const otxPulseThreshold = 3

// OTXClient handles communication with AlienVault OTX API
type OTXClient struct {
	apiKey string
	httpBase
}

// OTXConfig holds OTX client configuration
type OTXConfig struct {
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit int // requests per minute
}

// NewOTXClient creates a new AlienVault OTX client
func NewOTXClient(cfg OTXConfig) *OTXClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://otx.alienvault.com/api/v1"
	}

	return &OTXClient{
		apiKey:   cfg.APIKey,
		httpBase: newHTTPBase(cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
	}
}

// OTXGeneralResponse represents the general info response
type OTXGeneralResponse struct {
	Indicator   string       `json:"indicator"`
	Type        string       `json:"type"`
	PulseInfo   OTXPulseInfo `json:"pulse_info"`
	Reputation  int          `json:"reputation"`
	CountryCode string       `json:"country_code"`
	ASN         string       `json:"asn"`
}

// OTXPulseInfo contains pulse (threat feed) information
type OTXPulseInfo struct {
	Count  int        `json:"count"`
	Pulses []OTXPulse `json:"pulses"`
}

// OTXPulse represents a single threat feed entry
type OTXPulse struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Tags            []string `json:"tags"`
	MalwareFamilies []string `json:"malware_families"`
}

// Name returns the validator name
func (c *OTXClient) Name() string {
	return "otx"
}

// IsConfigured returns true if the client has an API key
func (c *OTXClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check queries AlienVault OTX general indicator info
func (c *OTXClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var section string
	switch ind.Kind {
	case entity.KindIPv4:
		section = "IPv4"
	case entity.KindDomain:
		section = "domain"
	default:
		return nil, fmt.Errorf("otx: unsupported kind %s", ind.Kind)
	}

	reqURL := fmt.Sprintf("%s/indicators/%s/%s/general", c.baseURL, section, url.PathEscape(ind.Value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-OTX-API-KEY", c.apiKey)

	var general OTXGeneralResponse
	raw, err := c.do(req, &general)
	if errors.Is(err, entity.ErrNotFound) {
		return &Verdict{}, nil
	}
	if err != nil {
		return nil, err
	}

	return &Verdict{
		Score:     otxScore(general),
		Malicious: general.PulseInfo.Count >= otxPulseThreshold,
		Country:   general.CountryCode,
		ASN:       general.ASN,
		Raw:       raw,
	}, nil
}

// otxScore: pulse count is worth up to 80 points, positive reputation up to 20
func otxScore(g OTXGeneralResponse) int {
	score := g.PulseInfo.Count * 10
	if score > 80 {
		score = 80
	}
	if g.Reputation > 0 {
		score += min(g.Reputation, 20)
	}
	return entity.ClampScore(score)
}
