package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/kr1s57/feedvalidator/internal/domain/scoring"
)

// selectBatch fetches FetchMultiplier×size candidates by recency, ranks them
// by priority in memory and keeps the top size
func (s *Service) selectBatch(ctx context.Context, size int, force bool) ([]scoring.RankedCandidate, error) {
	multiplier := s.config.FetchMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	var validatedBefore *time.Time
	if !force && s.config.RecheckCooldown > 0 {
		cutoff := s.now().Add(-s.config.RecheckCooldown)
		validatedBefore = &cutoff
	}

	candidates, err := s.store.FetchCandidates(ctx, size*multiplier, validatedBefore)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCandidateFetch, err)
	}

	return scoring.RankCandidates(candidates, size, s.now(), s.config.Priority), nil
}
