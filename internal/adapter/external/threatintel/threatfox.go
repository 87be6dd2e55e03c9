package threatintel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// ThreatFox IOCs at or above this reporter confidence count as a malicious vote
const threatFoxConfidenceThreshold = 50

// ThreatFoxConfig holds configuration for ThreatFox client
type ThreatFoxConfig struct {
	APIKey    string // Auth-Key from auth.abuse.ch
	BaseURL   string
	Timeout   time.Duration
	RateLimit int
}

// ThreatFoxClient queries abuse.ch ThreatFox for IOC data
type ThreatFoxClient struct {
	apiKey string
	httpBase
}

// ThreatFoxResponse represents the API response.
// Data is an IOC array when found and a string otherwise.
type ThreatFoxResponse struct {
	QueryStatus string          `json:"query_status"`
	Data        []ThreatFoxIOC  `json:"-"`
	DataRaw     json.RawMessage `json:"data"`
}

// UnmarshalJSON handles the variable data field type
func (r *ThreatFoxResponse) UnmarshalJSON(data []byte) error {
	type Alias ThreatFoxResponse
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(r),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(r.DataRaw) > 0 && r.DataRaw[0] == '[' {
		if err := json.Unmarshal(r.DataRaw, &r.Data); err != nil {
			return err
		}
	}
	return nil
}

// ThreatFoxIOC represents an indicator of compromise
type ThreatFoxIOC struct {
	ID               string   `json:"id"`
	IOC              string   `json:"ioc"`
	IOCType          string   `json:"ioc_type"`
	ThreatType       string   `json:"threat_type"`
	MalwarePrintable string   `json:"malware_printable"`
	Confidence       int      `json:"confidence_level"`
	FirstSeen        string   `json:"first_seen"`
	LastSeen         string   `json:"last_seen"`
	Tags             []string `json:"tags"`
}

// NewThreatFoxClient creates a new ThreatFox client
func NewThreatFoxClient(cfg ThreatFoxConfig) *ThreatFoxClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://threatfox-api.abuse.ch/api/v1/"
	}
	return &ThreatFoxClient{
		apiKey:   cfg.APIKey,
		httpBase: newHTTPBase(cfg.BaseURL, cfg.Timeout, cfg.RateLimit),
	}
}

// Name returns the validator name
func (c *ThreatFoxClient) Name() string {
	return "threatfox"
}

// IsConfigured returns true if Auth-Key is configured
func (c *ThreatFoxClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Check searches ThreatFox for the indicator as an IOC
func (c *ThreatFoxClient) Check(ctx context.Context, ind entity.Indicator) (*Verdict, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(map[string]string{
		"query":       "search_ioc",
		"search_term": ind.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Auth-Key", c.apiKey)

	var tfResp ThreatFoxResponse
	raw, err := c.do(req, &tfResp)
	if err != nil {
		return nil, err
	}

	switch tfResp.QueryStatus {
	case "ok":
	case "no_result":
		return &Verdict{Raw: raw}, nil
	default:
		return nil, fmt.Errorf("threatfox: query status %q", tfResp.QueryStatus)
	}

	best := 0
	for _, ioc := range tfResp.Data {
		if ioc.Confidence > best {
			best = ioc.Confidence
		}
	}

	return &Verdict{
		Score:     best,
		Malicious: len(tfResp.Data) > 0 && best >= threatFoxConfidenceThreshold,
		Raw:       raw,
	}, nil
}
