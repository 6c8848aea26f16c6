// Package fusion combines the per-collector signal sets into one aggregated
// evidence record. Fusion never fails the pipeline: missing inputs contribute
// zero and any internal inconsistency degrades to the zero/"low" default.
package fusion

import (
	"fmt"
	"math"

	"github.com/riskwise/riskwise/internal/models"
)

// Per-source weights. They sum to 1.0 so the composite stays within [0,100].
const (
	weightBehavioral = 0.30
	weightPolicy     = 0.25
	weightThreat     = 0.20
	weightContext    = 0.25
)

// MaxPolicyMatches saturates the policy match-count component.
const MaxPolicyMatches = 5

// Risk band boundaries over the composite score. Bands are left-closed,
// right-open; the critical band is closed at 100.
const (
	mediumThreshold   = 30.0
	highThreshold     = 60.0
	criticalThreshold = 80.0
)

// Fuse combines up to four signal sets into one AggregatedEvidence.
// Any input may be nil and contributes a zero score.
func Fuse(ctx *models.ContextSignals, behavior *models.BehavioralSignals, policy *models.PolicyMatchResult, intel *models.ThreatIntelResult) *models.AggregatedEvidence {
	composite := weightContext*contextScore(ctx) +
		weightBehavioral*behavioralScore(behavior) +
		weightPolicy*policyScore(policy) +
		weightThreat*threatScore(intel)

	score := math.Round(composite*100*100) / 100
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &models.AggregatedEvidence{
		CompositeScore: score,
		RiskCategory:   Categorize(score),
		Signals:        consolidateSignals(ctx, behavior, policy, intel),
		Citations:      consolidateCitations(policy, intel),
	}
}

// Categorize maps a composite score onto its risk band.
func Categorize(score float64) models.RiskCategory {
	switch {
	case score < mediumThreshold:
		return models.RiskLow
	case score < highThreshold:
		return models.RiskMedium
	case score < criticalThreshold:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

func contextScore(s *models.ContextSignals) float64 {
	if s == nil {
		return 0
	}
	ratio := s.AmountRatio / 3.0
	if ratio > 1 {
		ratio = 1
	}
	flags := 0.1 * float64(len(s.Flags))
	if flags > 0.5 {
		flags = 0.5
	}
	score := ratio*0.5 + flags
	if score > 1 {
		score = 1
	}
	return score
}

func behavioralScore(s *models.BehavioralSignals) float64 {
	if s == nil {
		return 0
	}
	return clampUnit(s.DeviationScore)
}

func policyScore(s *models.PolicyMatchResult) float64 {
	if s == nil || len(s.Matches) == 0 {
		return 0
	}
	count := float64(len(s.Matches)) / MaxPolicyMatches
	if count > 1 {
		count = 1
	}
	total := 0.0
	for _, m := range s.Matches {
		total += clampUnit(m.Relevance)
	}
	mean := total / float64(len(s.Matches))
	return (count + mean) / 2
}

func threatScore(s *models.ThreatIntelResult) float64 {
	if s == nil {
		return 0
	}
	return clampUnit(s.Level)
}

// consolidateSignals concatenates signal tags in fixed source order and
// removes duplicates, keeping the first occurrence.
func consolidateSignals(ctx *models.ContextSignals, behavior *models.BehavioralSignals, policy *models.PolicyMatchResult, intel *models.ThreatIntelResult) []string {
	var tags []string
	if ctx != nil {
		tags = append(tags, ctx.Flags...)
	}
	if behavior != nil {
		tags = append(tags, behavior.Anomalies...)
	}
	if policy != nil {
		for _, m := range policy.Matches {
			tags = append(tags, "policy:"+m.PolicyID)
		}
	}
	if intel != nil {
		for _, s := range intel.Sources {
			tags = append(tags, "threat:"+s.Name)
		}
	}

	seen := make(map[string]struct{}, len(tags))
	unique := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		unique = append(unique, tag)
	}
	return unique
}

// consolidateCitations lists policy citations before threat citations.
// Citations are distinct by construction, so no de-duplication is needed.
func consolidateCitations(policy *models.PolicyMatchResult, intel *models.ThreatIntelResult) []string {
	citations := make([]string, 0)
	if policy != nil {
		for _, m := range policy.Matches {
			citations = append(citations, fmt.Sprintf("%s: %s", m.PolicyID, m.Description))
		}
	}
	if intel != nil {
		for _, s := range intel.Sources {
			citations = append(citations, fmt.Sprintf("%s: confidence %.2f", s.Name, s.Confidence))
		}
	}
	return citations
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
