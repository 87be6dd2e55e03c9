package scoring

import (
	"sort"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// PriorityConfig holds the additive bands used to rank validation candidates
type PriorityConfig struct {
	// HighSourceCount and its bonus: indicators reported by this many feeds or more
	// Default: 3 sources => +100
	HighSourceCount      int
	HighSourceCountBonus int

	// MultiSourceCount and its bonus: indicators reported by at least two feeds
	// Default: 2 sources => +50
	MultiSourceCount      int
	MultiSourceCountBonus int

	// FreshAge: first seen within this window => FreshBonus (default 24h => +75)
	FreshAge   time.Duration
	FreshBonus int

	// RecentAge: first seen within this window => RecentBonus (default 48h => +25)
	RecentAge   time.Duration
	RecentBonus int

	// NeverValidatedBonus applies when the indicator has no validation yet
	// Default: +50
	NeverValidatedBonus int

	// StaleAfter marks a previous validation as stale (default 168h => +10)
	StaleAfter time.Duration
	StaleBonus int
}

// DefaultPriorityConfig returns the reference bands
func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		HighSourceCount:       3,
		HighSourceCountBonus:  100,
		MultiSourceCount:      2,
		MultiSourceCountBonus: 50,
		FreshAge:              24 * time.Hour,
		FreshBonus:            75,
		RecentAge:             48 * time.Hour,
		RecentBonus:           25,
		NeverValidatedBonus:   50,
		StaleAfter:            168 * time.Hour,
		StaleBonus:            10,
	}
}

// PriorityScorer ranks candidates; higher means more urgent
type PriorityScorer struct {
	config PriorityConfig
	now    func() time.Time
}

// NewPriorityScorer creates a scorer with the given bands
func NewPriorityScorer(config PriorityConfig) *PriorityScorer {
	return &PriorityScorer{config: config, now: time.Now}
}

// NewDefaultPriorityScorer creates a scorer with the reference bands
func NewDefaultPriorityScorer() *PriorityScorer {
	return NewPriorityScorer(DefaultPriorityConfig())
}

// CalculatePriority scores a candidate at the scorer's current time
func (s *PriorityScorer) CalculatePriority(c entity.Candidate) int {
	return CalculatePriority(c, s.now(), s.config)
}

// CalculatePriority sums the independent source-count, age and staleness bands
func CalculatePriority(c entity.Candidate, now time.Time, cfg PriorityConfig) int {
	priority := 0

	switch {
	case c.SourceCount >= cfg.HighSourceCount:
		priority += cfg.HighSourceCountBonus
	case c.SourceCount >= cfg.MultiSourceCount:
		priority += cfg.MultiSourceCountBonus
	}

	if !c.FirstSeen.IsZero() {
		age := now.Sub(c.FirstSeen)
		switch {
		case age < cfg.FreshAge:
			priority += cfg.FreshBonus
		case age < cfg.RecentAge:
			priority += cfg.RecentBonus
		}
	}

	switch {
	case c.LastValidated == nil || c.LastValidated.IsZero():
		priority += cfg.NeverValidatedBonus
	case now.Sub(*c.LastValidated) > cfg.StaleAfter:
		priority += cfg.StaleBonus
	}

	return priority
}

// RankedCandidate pairs a candidate with its computed priority
type RankedCandidate struct {
	Candidate entity.Candidate `json:"candidate"`
	Priority  int              `json:"priority"`
}

// Rank scores every candidate, sorts by priority descending and keeps the top n.
// Ties keep the incoming (recency) order.
func (s *PriorityScorer) Rank(candidates []entity.Candidate, n int) []RankedCandidate {
	now := s.now()
	ranked := make([]RankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedCandidate{Candidate: c, Priority: CalculatePriority(c, now, s.config)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})

	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// RankCandidates ranks candidates at now with cfg and keeps the top n
func RankCandidates(candidates []entity.Candidate, n int, now time.Time, cfg PriorityConfig) []RankedCandidate {
	s := &PriorityScorer{config: cfg, now: func() time.Time { return now }}
	return s.Rank(candidates, n)
}
