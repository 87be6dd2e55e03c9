package threatintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// SafeBrowsingConfig holds Google Safe Browsing client configuration
type SafeBrowsingConfig struct {
	APIKey    string
	BaseURL   string
	ClientID  string
	Timeout   time.Duration
	RateLimit int
}

// SafeBrowsingClient queries the Safe Browsing v4 Lookup API
type SafeBrowsingClient struct {
	apiKey   string
	clientID string
	httpBase
}

type safeBrowsingRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string `json:"threatTypes"`
		PlatformTypes    []string `json:"platformTypes"`
		ThreatEntryTypes []string `json:"threatEntryTypes"`
		ThreatEntries    []struct {
			URL string `json:"url"`
		} `json:"threatEntries"`
	} `json:"threatInfo"`
}

// SafeBrowsingResponse lists matches; an empty object means no match
type SafeBrowsingResponse struct {
	Matches []SafeBrowsingMatch `json:"matches"`
}

// SafeBrowsingMatch is one threat list hit
type SafeBrowsingMatch struct {
	ThreatType   string `json:"threatType"`
	PlatformType string `json:"platformType"`
	Threat       struct {
		URL string `json:"url"`
	} `json:"threat"`
}

// Score assigned per Safe Browsing threat type
var safeBrowsingThreatScores = map[string]int{
	"MALWARE":                         95,
	"SOCIAL_ENGINEERING":              95,
	"UNWANTED_SOFTWARE":               75,
	"POTENTIALLY_HARMFUL_APPLICATION": 70,
}

// NewSafeBrowsingClient creates a new Safe Browsing client
func NewSafeBrowsingClient(cfg SafeBrowsingConfig) *SafeBrowsingClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://safebrowsing.googleapis.com/v4"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "feedvalidator"
	}
	return &SafeBrowsingClient{
		apiKey:   cfg.APIKey,
		clientID: cfg.ClientID,
		httpBase: newHTTPBase(cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
	}
}

// Name returns the validator name
func (c *SafeBrowsingClient) Name() string {
	return "safebrowsing"
}

// IsConfigured returns true if the client has an API key
func (c *SafeBrowsingClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check looks up the http and https root URLs of a domain
func (c *SafeBrowsingClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if ind.Kind != entity.KindDomain {
		return nil, fmt.Errorf("safebrowsing: unsupported kind %s", ind.Kind)
	}

	var body safeBrowsingRequest
	body.Client.ClientID = c.clientID
	body.Client.ClientVersion = "1.0"
	body.ThreatInfo.ThreatTypes = []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE", "POTENTIALLY_HARMFUL_APPLICATION"}
	body.ThreatInfo.PlatformTypes = []string{"ANY_PLATFORM"}
	body.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	for _, scheme := range []string{"http", "https"} {
		body.ThreatInfo.ThreatEntries = append(body.ThreatInfo.ThreatEntries, struct {
			URL string `json:"url"`
		}{URL: scheme + "://" + ind.Value + "/"})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/threatMatches:find?key=%s", c.baseURL, url.QueryEscape(c.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var sbResp SafeBrowsingResponse
	raw, err := c.do(req, &sbResp)
	if err != nil {
		return nil, err
	}

	score := 0
	for _, m := range sbResp.Matches {
		if s := safeBrowsingThreatScores[m.ThreatType]; s > score {
			score = s
		}
	}

	return &Verdict{
		Score:     score,
		Malicious: len(sbResp.Matches) > 0,
		Raw:       raw,
	}, nil
}
