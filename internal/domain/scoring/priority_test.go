package scoring

import (
	"testing"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(value string, sources int, firstSeen time.Time, lastValidated *time.Time) entity.Candidate {
	return entity.Candidate{
		Indicator:     entity.Indicator{Value: value, Kind: entity.KindIPv4},
		SourceCount:   sources,
		FirstSeen:     firstSeen,
		LastSeen:      firstSeen,
		LastValidated: lastValidated,
	}
}

func TestCalculatePriority_FreshSingleSourceNeverValidated(t *testing.T) {
	now := time.Now()
	c := candidate("203.0.113.9", 1, now.Add(-1*time.Hour), nil)

	assert.Equal(t, 125, CalculatePriority(c, now, DefaultPriorityConfig()))
}

func TestCalculatePriority_Bands(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-2 * time.Hour)
	stale := now.Add(-200 * time.Hour)

	tests := []struct {
		name     string
		c        entity.Candidate
		expected int
	}{
		{"three sources, old, recently validated", candidate("a", 3, now.Add(-72*time.Hour), &recent), 100},
		{"two sources, 30h old, stale", candidate("b", 2, now.Add(-30*time.Hour), &stale), 50 + 25 + 10},
		{"five sources, fresh, never validated", candidate("c", 5, now.Add(-time.Minute), nil), 100 + 75 + 50},
		{"single source, old, recent validation", candidate("d", 1, now.Add(-96*time.Hour), &recent), 0},
		{"unknown first seen", candidate("e", 1, time.Time{}, nil), 50},
		{"exactly 24h old falls in 48h band", candidate("f", 1, now.Add(-24*time.Hour), &recent), 25},
		{"exactly 168h since validation is not stale", candidate("g", 1, now.Add(-96*time.Hour), ptr(now.Add(-168*time.Hour))), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CalculatePriority(tt.c, now, DefaultPriorityConfig()))
		})
	}
}

func TestCalculatePriority_SourceCountOrdering(t *testing.T) {
	now := time.Now()
	seen := now.Add(-10 * time.Hour)
	validated := now.Add(-50 * time.Hour)

	high := candidate("198.51.100.1", 3, seen, &validated)
	low := candidate("198.51.100.2", 1, seen, &validated)

	cfg := DefaultPriorityConfig()
	assert.Greater(t, CalculatePriority(high, now, cfg), CalculatePriority(low, now, cfg))

	s := NewDefaultPriorityScorer()
	s.now = func() time.Time { return now }
	ranked := s.Rank([]entity.Candidate{low, high}, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "198.51.100.1", ranked[0].Candidate.Indicator.Value)
}

func TestRank_TopNStable(t *testing.T) {
	now := time.Now()
	old := now.Add(-100 * time.Hour)
	validated := now.Add(-time.Hour)

	cands := []entity.Candidate{
		candidate("1.1.1.1", 1, old, &validated), // 0
		candidate("2.2.2.2", 2, old, &validated), // 50
		candidate("3.3.3.3", 1, old, &validated), // 0
		candidate("4.4.4.4", 3, old, &validated), // 100
		candidate("5.5.5.5", 2, old, &validated), // 50
	}

	s := NewDefaultPriorityScorer()
	s.now = func() time.Time { return now }
	ranked := s.Rank(cands, 3)

	require.Len(t, ranked, 3)
	assert.Equal(t, "4.4.4.4", ranked[0].Candidate.Indicator.Value)
	assert.Equal(t, "2.2.2.2", ranked[1].Candidate.Indicator.Value)
	assert.Equal(t, "5.5.5.5", ranked[2].Candidate.Indicator.Value)
	assert.Equal(t, 100, ranked[0].Priority)
}

func ptr(t time.Time) *time.Time {
	return &t
}
