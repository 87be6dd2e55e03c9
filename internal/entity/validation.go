package entity

import (
	"encoding/json"
	"time"
)

// CheckState tags a VendorResult as either checked or unchecked
type CheckState string

const (
	CheckStateUnchecked CheckState = "unchecked"
	CheckStateChecked   CheckState = "checked"
)

// ThreatTypeMalicious is the threat_type written for promoted indicators
const ThreatTypeMalicious = "malicious"

// VendorResult is one validator's opinion on an indicator for a single pass.
// An unchecked result carries no vote and must never be read as clean.
type VendorResult struct {
	Validator string     `json:"validator"`
	State     CheckState `json:"state"`
	Score     int        `json:"score,omitempty"`
	Malicious bool       `json:"malicious,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Country   string     `json:"country,omitempty"`
	ASN       string     `json:"asn,omitempty"`
	Cached    bool       `json:"cached,omitempty"`
	CheckedAt time.Time  `json:"checked_at,omitempty"`
}

// Unchecked builds a result for a validator that could not be consulted
func Unchecked(validator, reason string) VendorResult {
	return VendorResult{
		Validator: validator,
		State:     CheckStateUnchecked,
		Reason:    reason,
	}
}

// Checked builds a result carrying a normalized vote
func Checked(validator string, score int, malicious bool, checkedAt time.Time) VendorResult {
	return VendorResult{
		Validator: validator,
		State:     CheckStateChecked,
		Score:     ClampScore(score),
		Malicious: malicious,
		CheckedAt: checkedAt,
	}
}

// IsChecked reports whether the result carries a vote
func (r VendorResult) IsChecked() bool {
	return r.State == CheckStateChecked
}

// Verdict returns the vote, with ok=false for unchecked results
func (r VendorResult) Verdict() (score int, malicious bool, ok bool) {
	if !r.IsChecked() {
		return 0, false, false
	}
	return r.Score, r.Malicious, true
}

// ClampScore bounds a score to 0-100
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// WorkingRecord is the mutable validation state of one indicator
type WorkingRecord struct {
	Indicator       Indicator               `json:"indicator"`
	Results         map[string]VendorResult `json:"results"`
	Confidence      *int                    `json:"confidence,omitempty"`
	IsMalicious     bool                    `json:"is_malicious"`
	AgreementCount  int                     `json:"agreement_count"`
	ValidatorsUsed  int                     `json:"validators_used"`
	Whitelisted     bool                    `json:"whitelisted"`
	WhitelistSource string                  `json:"whitelist_source,omitempty"`
	Country         string                  `json:"country,omitempty"`
	ASN             string                  `json:"asn,omitempty"`
	LastValidated   time.Time               `json:"last_validated"`
}

// NewWorkingRecord returns an empty record for ind
func NewWorkingRecord(ind Indicator) *WorkingRecord {
	return &WorkingRecord{
		Indicator: ind,
		Results:   make(map[string]VendorResult),
	}
}

// MergeResults writes this pass's results into the record.
// A validator unchecked in this pass keeps its last checked result.
func (w *WorkingRecord) MergeResults(results []VendorResult) {
	if w.Results == nil {
		w.Results = make(map[string]VendorResult, len(results))
	}
	for _, r := range results {
		prev, exists := w.Results[r.Validator]
		if !r.IsChecked() && exists && prev.IsChecked() {
			continue
		}
		w.Results[r.Validator] = r
	}
}

// ValidatedIndicator is the externally served record of a promoted indicator
type ValidatedIndicator struct {
	Indicator      Indicator `json:"indicator"`
	Confidence     int       `json:"confidence"`
	ThreatType     string    `json:"threat_type"`
	Country        string    `json:"country,omitempty"`
	ASN            string    `json:"asn,omitempty"`
	AgreementCount int       `json:"agreement_count"`
	ValidatorsUsed int       `json:"validators_used"`
	LastValidated  time.Time `json:"last_validated"`
}

// VendorCheck is a cached vendor response, reused until ExpiresAt
type VendorCheck struct {
	Vendor    string          `json:"vendor"`
	Indicator Indicator       `json:"indicator"`
	Score     int             `json:"score"`
	Malicious bool            `json:"malicious"`
	Country   string          `json:"country,omitempty"`
	ASN       string          `json:"asn,omitempty"`
	Raw       json.RawMessage `json:"raw_response,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Fresh reports whether the cached check may still be used at now
func (c *VendorCheck) Fresh(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// ConsensusVote is one checked validator's weighted vote
type ConsensusVote struct {
	Validator       string  `json:"validator"`
	IsMalicious     bool    `json:"is_malicious"`
	ConfidenceScore int     `json:"confidence_score"`
	Weight          float64 `json:"weight"`
}

// ConsensusVerdict is the transient result of one consensus computation
type ConsensusVerdict struct {
	IsMalicious     bool    `json:"is_malicious"`
	FinalConfidence int     `json:"final_confidence"`
	TotalWeight     float64 `json:"total_weight"`
	MaliciousWeight float64 `json:"malicious_weight"`
	AgreementCount  int     `json:"agreement_count"`
	ValidatorsUsed  int     `json:"validators_used"`
}

// BatchSummary is returned to the scheduler after one validation run
type BatchSummary struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	Candidates     int       `json:"candidates"`
	Processed      int       `json:"processed"`
	Validated      int       `json:"validated"`
	Whitelisted    int       `json:"whitelisted"`
	Demoted        int       `json:"demoted"`
	Failed         int       `json:"failed"`
	BudgetExceeded bool      `json:"budget_exceeded"`
	DurationMs     int64     `json:"duration_ms"`
}
