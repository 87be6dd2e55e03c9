// Package consensus reduces weighted validator votes to a single verdict.
package consensus

import (
	"math"

	"github.com/kr1s57/feedvalidator/internal/entity"
)

// Thresholds are the tunable promotion policy constants
type Thresholds struct {
	// MaliciousWeight is the summed weight of malicious votes needed for isMalicious
	MaliciousWeight float64 `yaml:"malicious_weight" json:"malicious_weight"`
	// MinAgreement is the number of distinct malicious voters required for promotion
	MinAgreement int `yaml:"min_agreement" json:"min_agreement"`
	// PromotionConfidence is the minimum final confidence for promotion
	PromotionConfidence int `yaml:"promotion_confidence" json:"promotion_confidence"`
}

// DefaultThresholds returns the reference calibration
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaliciousWeight:     6,
		MinAgreement:        2,
		PromotionConfidence: 70,
	}
}

// Calculate computes the weighted consensus over checked votes.
// Only malicious votes contribute to the confidence average; a clean vote
// with a high score adds to TotalWeight and nothing else.
func Calculate(votes []entity.ConsensusVote, t Thresholds) entity.ConsensusVerdict {
	var verdict entity.ConsensusVerdict
	var weightedScore float64
	malicious := make(map[string]struct{})

	for _, v := range votes {
		w := v.Weight
		if w < 0 {
			w = 0
		}
		verdict.TotalWeight += w
		verdict.ValidatorsUsed++

		if !v.IsMalicious {
			continue
		}
		verdict.MaliciousWeight += w
		weightedScore += float64(entity.ClampScore(v.ConfidenceScore)) * w
		malicious[v.Validator] = struct{}{}
	}

	verdict.AgreementCount = len(malicious)
	verdict.IsMalicious = verdict.MaliciousWeight > 0 && verdict.MaliciousWeight >= t.MaliciousWeight

	if verdict.MaliciousWeight > 0 {
		verdict.FinalConfidence = entity.ClampScore(int(math.Round(weightedScore / verdict.MaliciousWeight)))
	}

	return verdict
}

// Promotable reports whether a verdict clears the promotion gate
func Promotable(v entity.ConsensusVerdict, whitelisted bool, t Thresholds) bool {
	if whitelisted || !v.IsMalicious {
		return false
	}
	return v.FinalConfidence >= t.PromotionConfidence && v.AgreementCount >= t.MinAgreement
}

// Votes converts checked vendor results into weighted votes.
// Unchecked results and validators without a weight are skipped.
func Votes(results []entity.VendorResult, weights map[string]float64) []entity.ConsensusVote {
	votes := make([]entity.ConsensusVote, 0, len(results))
	for _, r := range results {
		score, malicious, ok := r.Verdict()
		if !ok {
			continue
		}
		w, known := weights[r.Validator]
		if !known {
			continue
		}
		votes = append(votes, entity.ConsensusVote{
			Validator:       r.Validator,
			IsMalicious:     malicious,
			ConfidenceScore: score,
			Weight:          w,
		})
	}
	return votes
}
