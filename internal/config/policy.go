package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kr1s57/feedvalidator/internal/domain/consensus"
	"github.com/kr1s57/feedvalidator/internal/entity"
)

//go:embed policy.yaml
var defaultPolicy []byte

// Policy is the version-controlled validation policy document
type Policy struct {
	Consensus  consensus.Thresholds     `yaml:"consensus" json:"consensus"`
	Validators []entity.ValidatorPolicy `yaml:"validators" json:"validators"`
}

// LoadPolicy reads the policy at path, or the embedded default when path is empty
func LoadPolicy(path string) (*Policy, error) {
	data := defaultPolicy
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", path, err)
		}
		data = b
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a policy document
func ParsePolicy(data []byte) (*Policy, error) {
	p := &Policy{Consensus: consensus.DefaultThresholds()}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks weights, kinds and name uniqueness
func (p *Policy) Validate() error {
	var errs []error

	if p.Consensus.MaliciousWeight <= 0 {
		errs = append(errs, errors.New("consensus.malicious_weight must be positive"))
	}
	if p.Consensus.MinAgreement < 1 {
		errs = append(errs, errors.New("consensus.min_agreement must be at least 1"))
	}
	if p.Consensus.PromotionConfidence < 0 || p.Consensus.PromotionConfidence > 100 {
		errs = append(errs, errors.New("consensus.promotion_confidence must be within 0-100"))
	}

	seen := make(map[string]bool, len(p.Validators))
	for i, v := range p.Validators {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("validators[%d]: name is required", i))
			continue
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Errorf("validator %s: duplicate name", v.Name))
		}
		seen[v.Name] = true

		if v.Weight <= 0 {
			errs = append(errs, fmt.Errorf("validator %s: weight must be positive", v.Name))
		}
		if len(v.Kinds) == 0 {
			errs = append(errs, fmt.Errorf("validator %s: at least one kind is required", v.Name))
		}
		for _, k := range v.Kinds {
			if !k.Valid() {
				errs = append(errs, fmt.Errorf("validator %s: unknown kind %q", v.Name, k))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}

// Weights maps each enabled validator to its consensus weight
func (p *Policy) Weights() map[string]float64 {
	w := make(map[string]float64, len(p.Validators))
	for _, v := range p.Validators {
		if v.IsEnabled() {
			w[v.Name] = v.Weight
		}
	}
	return w
}

// Enabled returns the enabled validator policies in document order
func (p *Policy) Enabled() []entity.ValidatorPolicy {
	out := make([]entity.ValidatorPolicy, 0, len(p.Validators))
	for _, v := range p.Validators {
		if v.IsEnabled() {
			out = append(out, v)
		}
	}
	return out
}

// Validator looks up a validator policy by name
func (p *Policy) Validator(name string) (entity.ValidatorPolicy, bool) {
	for _, v := range p.Validators {
		if v.Name == name {
			return v, true
		}
	}
	return entity.ValidatorPolicy{}, false
}
