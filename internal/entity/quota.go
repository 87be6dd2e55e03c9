package entity

import "time"

// Rate limit denial reasons, most restrictive window first
const (
	ReasonMonthlyLimit     = "Monthly limit exceeded"
	ReasonDailyLimit       = "Daily limit exceeded"
	ReasonHourlyLimit      = "Hourly limit exceeded"
	ReasonMinuteLimit      = "Minute limit exceeded"
	ReasonUnknownValidator = "Unknown validator"
	ReasonStoreUnavailable = "Quota store unavailable"
)

// Unlimited marks a window without a ceiling
const Unlimited = -1

// ValidatorPolicy is the static, version-controlled configuration of one validator.
// Limits <= 0 mean the window has no ceiling.
type ValidatorPolicy struct {
	Name         string          `yaml:"name" json:"name"`
	DisplayName  string          `yaml:"display_name" json:"display_name"`
	Weight       float64         `yaml:"weight" json:"weight"`
	Kinds        []IndicatorKind `yaml:"kinds" json:"kinds"`
	MonthlyLimit int             `yaml:"monthly_limit" json:"monthly_limit"`
	DailyLimit   int             `yaml:"daily_limit" json:"daily_limit"`
	HourlyLimit  int             `yaml:"hourly_limit" json:"hourly_limit"`
	MinuteLimit  int             `yaml:"minute_limit" json:"minute_limit"`
	CacheTTL     time.Duration   `yaml:"cache_ttl" json:"cache_ttl"`
	Timeout      time.Duration   `yaml:"timeout" json:"timeout"`
	Enabled      *bool           `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled defaults to true when unset
func (p ValidatorPolicy) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Supports reports whether the validator applies to kind
func (p ValidatorPolicy) Supports(kind IndicatorKind) bool {
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// QuotaWindow is the explicitly stored daily window anchor of a validator
type QuotaWindow struct {
	Validator   string    `json:"validator"`
	WindowStart time.Time `json:"window_start"`
	ResetAt     time.Time `json:"reset_at"`
	WindowLimit int       `json:"window_limit"`
}

// Expired reports whether the window must be reset before evaluation
func (w *QuotaWindow) Expired(now time.Time) bool {
	return now.After(w.ResetAt)
}

// UsageWindow summarizes recorded calls since a point in time
type UsageWindow struct {
	Count  int       `json:"count"`
	Oldest time.Time `json:"oldest"`
}

// RateLimitStatus is the answer to a quota check
type RateLimitStatus struct {
	Validator string    `json:"validator"`
	CanUse    bool      `json:"can_use"`
	Remaining int       `json:"remaining"` // -1 = unlimited
	ResetAt   time.Time `json:"reset_at"`
	Reason    string    `json:"reason,omitempty"`
}
