package icp

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

// Defaults applied when the ICP document leaves scoring policy fields unset.
const (
	DefaultAgreementThreshold = 15.0
	DefaultLeadDeadline       = 30 * time.Second
	DefaultJudgeRetries       = 2
)

// SizeRange bounds the target company headcount.
type SizeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ScoringPolicy is the swappable reconciliation configuration. It lives in
// the ICP document so operators can tune disagreement handling without a
// code change.
type ScoringPolicy struct {
	// AgreementThreshold is the maximum score spread (0-100 scale) still
	// considered consistent across judges.
	AgreementThreshold float64 `json:"agreementThreshold"`
	// TrustWeights maps judge id to a relative trust weight. Missing judges
	// weigh 1.
	TrustWeights map[string]float64 `json:"trustWeights,omitempty"`
	// LeadDeadlineSeconds bounds the whole judge fan-out for one lead.
	LeadDeadlineSeconds int `json:"leadDeadlineSeconds"`
	// JudgeRetries bounds transient-error retries inside one adapter call.
	JudgeRetries int `json:"judgeRetries"`
}

// LeadDeadline returns the per-lead deadline as a duration.
func (p ScoringPolicy) LeadDeadline() time.Duration {
	if p.LeadDeadlineSeconds <= 0 {
		return DefaultLeadDeadline
	}
	return time.Duration(p.LeadDeadlineSeconds) * time.Second
}

// TrustWeight returns the configured weight for a judge, defaulting to 1.
func (p ScoringPolicy) TrustWeight(judgeID string) float64 {
	if w, ok := p.TrustWeights[judgeID]; ok && w > 0 {
		return w
	}
	return 1
}

// Profile is the Ideal Customer Profile: pure data, loaded once per run and
// read-only afterwards.
type Profile struct {
	Industry            string             `json:"industry"`
	CompanySizeRange    SizeRange          `json:"companySizeRange"`
	PainPoints          []string           `json:"painPoints"`
	DecisionMakerTitles []string           `json:"decisionMakerTitles"`
	GeographicFocus     []string           `json:"geographicFocus"`
	TechStack           []string           `json:"techStack"`
	BuyingSignals       []string           `json:"buyingSignals"`
	ScoringWeights      map[string]float64 `json:"scoringWeights"`
	Policy              ScoringPolicy      `json:"scoringPolicy"`

	hash string
}

// Load reads, validates and hashes the ICP document at path. A malformed
// document is fatal to the run, so errors here abort before any scoring.
func Load(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read icp document: %w", err)
	}
	return Parse(raw)
}

// Parse builds a Profile from raw JSON. The config hash is the sha256 of the
// document bytes, so the same file always keys the same verdicts.
func Parse(raw []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse icp document: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Policy.AgreementThreshold == 0 {
		p.Policy.AgreementThreshold = DefaultAgreementThreshold
	}
	if p.Policy.JudgeRetries == 0 {
		p.Policy.JudgeRetries = DefaultJudgeRetries
	}
	sum := sha256.Sum256(raw)
	p.hash = hex.EncodeToString(sum[:])
	return &p, nil
}

// ConfigHash identifies this exact document; verdicts are keyed by it.
func (p *Profile) ConfigHash() string { return p.hash }

func (p *Profile) validate() error {
	if p.Industry == "" {
		return fmt.Errorf("icp: industry is required")
	}
	if len(p.ScoringWeights) == 0 {
		return fmt.Errorf("icp: scoringWeights is required")
	}
	var sum float64
	for name, w := range p.ScoringWeights {
		if w < 0 || w > 1 {
			return fmt.Errorf("icp: weight %q = %v outside [0,1]", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("icp: scoringWeights sum to %v, want 1.0", sum)
	}
	if p.CompanySizeRange.Min > p.CompanySizeRange.Max && p.CompanySizeRange.Max != 0 {
		return fmt.Errorf("icp: companySizeRange min %d > max %d", p.CompanySizeRange.Min, p.CompanySizeRange.Max)
	}
	if p.Policy.AgreementThreshold < 0 || p.Policy.AgreementThreshold > 100 {
		return fmt.Errorf("icp: agreementThreshold %v outside [0,100]", p.Policy.AgreementThreshold)
	}
	if p.Policy.JudgeRetries < 0 {
		return fmt.Errorf("icp: judgeRetries must not be negative, got %d", p.Policy.JudgeRetries)
	}
	for id, w := range p.Policy.TrustWeights {
		if w <= 0 {
			return fmt.Errorf("icp: trust weight for judge %q must be positive, got %v", id, w)
		}
	}
	return nil
}
