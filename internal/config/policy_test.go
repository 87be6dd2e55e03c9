package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kr1s57/feedvalidator/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicy_Embedded(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)

	assert.Equal(t, 6.0, p.Consensus.MaliciousWeight)
	assert.Equal(t, 2, p.Consensus.MinAgreement)
	assert.Equal(t, 70, p.Consensus.PromotionConfidence)

	abuse, ok := p.Validator("abuseipdb")
	require.True(t, ok)
	assert.Equal(t, 3.0, abuse.Weight)
	assert.Equal(t, 1000, abuse.DailyLimit)
	assert.Equal(t, 24*time.Hour, abuse.CacheTTL)
	assert.True(t, abuse.Supports(entity.KindIPv4))
	assert.False(t, abuse.Supports(entity.KindDomain))

	vt, ok := p.Validator("virustotal")
	require.True(t, ok)
	assert.Equal(t, 4, vt.MinuteLimit)
	assert.True(t, vt.Supports(entity.KindDomain))

	for _, v := range p.Validators {
		assert.Greater(t, v.Weight, 0.0, v.Name)
		assert.LessOrEqual(t, v.Weight, 3.0, v.Name)
		assert.True(t, v.Timeout > 0, v.Name)
	}
}

func TestLoadPolicy_ThresholdNeedsCorroboration(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)

	// No single validator may clear the malicious threshold on its own.
	for name, w := range p.Weights() {
		assert.Less(t, w, p.Consensus.MaliciousWeight, name)
	}
}

func TestLoadPolicy_FileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := `
consensus:
  malicious_weight: 4
  min_agreement: 3
  promotion_confidence: 80
validators:
  - name: abuseipdb
    weight: 2
    kinds: [ipv4]
    daily_limit: 50
  - name: otx
    weight: 2
    kinds: [ipv4, domain]
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 4.0, p.Consensus.MaliciousWeight)
	assert.Equal(t, 3, p.Consensus.MinAgreement)
	assert.Equal(t, 80, p.Consensus.PromotionConfidence)

	require.Len(t, p.Enabled(), 1)
	assert.Equal(t, "abuseipdb", p.Enabled()[0].Name)
	assert.Equal(t, map[string]float64{"abuseipdb": 2}, p.Weights())
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		contains string
	}{
		{
			name:     "zero weight",
			doc:      "validators:\n  - name: a\n    weight: 0\n    kinds: [ipv4]\n",
			contains: "weight must be positive",
		},
		{
			name:     "unknown kind",
			doc:      "validators:\n  - name: a\n    weight: 1\n    kinds: [url]\n",
			contains: "unknown kind",
		},
		{
			name:     "duplicate name",
			doc:      "validators:\n  - name: a\n    weight: 1\n    kinds: [ipv4]\n  - name: a\n    weight: 1\n    kinds: [domain]\n",
			contains: "duplicate name",
		},
		{
			name:     "missing kinds",
			doc:      "validators:\n  - name: a\n    weight: 1\n",
			contains: "at least one kind",
		},
		{
			name:     "bad threshold",
			doc:      "consensus:\n  malicious_weight: 0\n",
			contains: "malicious_weight must be positive",
		},
		{
			name:     "malformed yaml",
			doc:      "validators: [",
			contains: "decode policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
