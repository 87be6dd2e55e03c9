package consensus

import (
	"testing"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/stretchr/testify/assert"
)

func vote(name string, malicious bool, score int, weight float64) entity.ConsensusVote {
	return entity.ConsensusVote{Validator: name, IsMalicious: malicious, ConfidenceScore: score, Weight: weight}
}

func TestCalculate_TwoTierOneAgree(t *testing.T) {
	v := Calculate([]entity.ConsensusVote{
		vote("A", true, 90, 3),
		vote("B", true, 80, 3),
	}, DefaultThresholds())

	assert.True(t, v.IsMalicious)
	assert.Equal(t, 6.0, v.MaliciousWeight)
	assert.Equal(t, 6.0, v.TotalWeight)
	assert.Equal(t, 85, v.FinalConfidence)
	assert.Equal(t, 2, v.AgreementCount)
	assert.Equal(t, 2, v.ValidatorsUsed)
}

func TestCalculate_SingleValidatorNeedsCorroboration(t *testing.T) {
	v := Calculate([]entity.ConsensusVote{vote("A", true, 95, 3)}, DefaultThresholds())

	assert.False(t, v.IsMalicious)
	assert.Equal(t, 3.0, v.MaliciousWeight)
	assert.Equal(t, 95, v.FinalConfidence)
	assert.Equal(t, 1, v.AgreementCount)
	assert.False(t, Promotable(v, false, DefaultThresholds()))
}

func TestCalculate_Empty(t *testing.T) {
	v := Calculate(nil, DefaultThresholds())

	assert.False(t, v.IsMalicious)
	assert.Equal(t, 0, v.FinalConfidence)
	assert.Equal(t, 0, v.ValidatorsUsed)
	assert.Equal(t, 0, v.AgreementCount)
	assert.Zero(t, v.TotalWeight)
}

func TestCalculate_CleanVoteOnlyAddsTotalWeight(t *testing.T) {
	v := Calculate([]entity.ConsensusVote{
		vote("A", false, 100, 3),
		vote("B", true, 60, 2),
	}, DefaultThresholds())

	assert.Equal(t, 5.0, v.TotalWeight)
	assert.Equal(t, 2.0, v.MaliciousWeight)
	assert.Equal(t, 60, v.FinalConfidence)
	assert.Equal(t, 1, v.AgreementCount)
	assert.Equal(t, 2, v.ValidatorsUsed)
}

func TestCalculate_RoundsToNearest(t *testing.T) {
	// (71*2 + 80*3 + 90*2) / 7 = 80.28...
	v := Calculate([]entity.ConsensusVote{
		vote("A", true, 71, 2),
		vote("B", true, 80, 3),
		vote("C", true, 90, 2),
	}, DefaultThresholds())

	assert.True(t, v.IsMalicious)
	assert.Equal(t, 80, v.FinalConfidence)
	assert.Equal(t, 3, v.AgreementCount)
}

func TestCalculate_ThreeWeightTwoVendorsClearThreshold(t *testing.T) {
	v := Calculate([]entity.ConsensusVote{
		vote("A", true, 75, 2),
		vote("B", true, 75, 2),
		vote("C", true, 75, 2),
	}, DefaultThresholds())

	assert.True(t, v.IsMalicious)
	assert.True(t, Promotable(v, false, DefaultThresholds()))
	assert.False(t, Promotable(v, true, DefaultThresholds()))
}

func TestCalculate_ThresholdIsConfigurable(t *testing.T) {
	th := Thresholds{MaliciousWeight: 3, MinAgreement: 1, PromotionConfidence: 50}
	v := Calculate([]entity.ConsensusVote{vote("A", true, 95, 3)}, th)

	assert.True(t, v.IsMalicious)
	assert.True(t, Promotable(v, false, th))
}

func TestPromotable_ConfidenceGate(t *testing.T) {
	v := Calculate([]entity.ConsensusVote{
		vote("A", true, 60, 3),
		vote("B", true, 65, 3),
	}, DefaultThresholds())

	assert.True(t, v.IsMalicious)
	assert.Less(t, v.FinalConfidence, 70)
	assert.False(t, Promotable(v, false, DefaultThresholds()))
}

// Raising one weight while keeping votes fixed never lowers MaliciousWeight
// nor flips a malicious verdict back to clean.
func TestCalculate_WeightMonotonicity(t *testing.T) {
	base := []entity.ConsensusVote{
		vote("A", true, 90, 3),
		vote("B", true, 40, 3),
		vote("C", false, 100, 1),
		vote("D", true, 10, 0.5),
	}
	th := DefaultThresholds()

	for i := range base {
		for _, bump := range []float64{0.5, 1, 2, 10} {
			before := Calculate(base, th)

			raised := make([]entity.ConsensusVote, len(base))
			copy(raised, base)
			raised[i].Weight += bump
			after := Calculate(raised, th)

			assert.GreaterOrEqual(t, after.MaliciousWeight, before.MaliciousWeight)
			if before.IsMalicious {
				assert.True(t, after.IsMalicious, "vote %d bumped by %v", i, bump)
			}
		}
	}
}

func TestCalculate_ConfidenceBounds(t *testing.T) {
	scores := []int{0, 1, 49, 50, 99, 100}
	weights := []float64{0.5, 1, 2, 3}

	for _, s1 := range scores {
		for _, s2 := range scores {
			for _, w := range weights {
				v := Calculate([]entity.ConsensusVote{
					vote("A", true, s1, w),
					vote("B", true, s2, 3),
					vote("C", false, s1, w),
				}, DefaultThresholds())
				assert.GreaterOrEqual(t, v.FinalConfidence, 0)
				assert.LessOrEqual(t, v.FinalConfidence, 100)
			}
		}
	}
}

func TestVotes_SkipsUncheckedAndUnknown(t *testing.T) {
	now := time.Now()
	results := []entity.VendorResult{
		entity.Checked("abuseipdb", 90, true, now),
		entity.Unchecked("virustotal", "quota"),
		entity.Checked("mystery", 100, true, now),
		entity.Checked("otx", 10, false, now),
	}

	votes := Votes(results, map[string]float64{"abuseipdb": 3, "virustotal": 3, "otx": 2})

	assert.Equal(t, []entity.ConsensusVote{
		{Validator: "abuseipdb", IsMalicious: true, ConfidenceScore: 90, Weight: 3},
		{Validator: "otx", IsMalicious: false, ConfidenceScore: 10, Weight: 2},
	}, votes)
}
