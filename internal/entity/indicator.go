package entity

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// IndicatorKind is the type of a threat indicator
type IndicatorKind string

const (
	KindIPv4   IndicatorKind = "ipv4"
	KindDomain IndicatorKind = "domain"
)

// ErrInvalidIndicator is returned when an indicator value cannot be normalized
var ErrInvalidIndicator = errors.New("invalid indicator")

// ErrNotFound is returned by stores when a keyed record does not exist
var ErrNotFound = errors.New("not found")

// Valid reports whether k is a known indicator kind
func (k IndicatorKind) Valid() bool {
	return k == KindIPv4 || k == KindDomain
}

// ParseIndicatorKind converts a string into an IndicatorKind
func ParseIndicatorKind(s string) (IndicatorKind, error) {
	k := IndicatorKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidIndicator, s)
	}
	return k, nil
}

// Indicator is the natural key (value, kind) shared by every per-indicator table
type Indicator struct {
	Value string        `json:"indicator"`
	Kind  IndicatorKind `json:"kind"`
}

// Key returns a stable map key for the indicator
func (i Indicator) Key() string {
	return string(i.Kind) + ":" + i.Value
}

func (i Indicator) String() string {
	return i.Value
}

// NewIndicator normalizes value according to kind
func NewIndicator(value string, kind IndicatorKind) (Indicator, error) {
	switch kind {
	case KindIPv4:
		ip, err := NormalizeIPv4(value)
		if err != nil {
			return Indicator{}, err
		}
		return Indicator{Value: ip, Kind: KindIPv4}, nil
	case KindDomain:
		d, err := NormalizeDomain(value)
		if err != nil {
			return Indicator{}, err
		}
		return Indicator{Value: d, Kind: KindDomain}, nil
	default:
		return Indicator{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidIndicator, kind)
	}
}

// NormalizeIPv4 accepts only strict dotted-quad IPv4 addresses
func NormalizeIPv4(value string) (string, error) {
	s := strings.TrimSpace(value)
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return "", fmt.Errorf("%w: %q is not a dotted-quad IPv4 address", ErrInvalidIndicator, value)
	}
	return addr.String(), nil
}

// NormalizeDomain lowercases a domain and strips scheme, credentials, port, path and trailing dot
func NormalizeDomain(value string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(value))

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".")

	if len(s) == 0 || len(s) > 253 || !strings.Contains(s, ".") {
		return "", fmt.Errorf("%w: %q is not a domain", ErrInvalidIndicator, value)
	}

	for _, label := range strings.Split(s, ".") {
		if len(label) == 0 || len(label) > 63 {
			return "", fmt.Errorf("%w: %q has an invalid label", ErrInvalidIndicator, value)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return "", fmt.Errorf("%w: %q has an invalid label", ErrInvalidIndicator, value)
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return "", fmt.Errorf("%w: %q contains %q", ErrInvalidIndicator, value, c)
			}
		}
	}

	return s, nil
}

// Candidate is an indicator awaiting validation, aggregated from raw feed occurrences
type Candidate struct {
	Indicator     Indicator  `json:"indicator"`
	SourceCount   int        `json:"source_count"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	LastValidated *time.Time `json:"last_validated,omitempty"`
}

// RawOccurrence is one feed's report of an indicator
type RawOccurrence struct {
	Indicator Indicator  `json:"indicator"`
	Source    string     `json:"source"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}
