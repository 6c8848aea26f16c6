// Package arbiter turns fused evidence and debate arguments into the final
// decision. The generative path is advisory; deterministic fallbacks and the
// ordered safety overrides guarantee a bounded, well-formed outcome.
package arbiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/interpret"
	"github.com/riskwise/riskwise/internal/llm"
	"github.com/riskwise/riskwise/internal/models"
)

// Safety override thresholds. The critical-score check runs before the
// low-confidence check; the two are deliberately not commutative.
const (
	// CriticalScoreThreshold forces a block above this composite score.
	CriticalScoreThreshold = 80.0
	// OverrideConfidence is the floor applied when a block is forced.
	OverrideConfidence = 0.85
	// LowConfidenceThreshold forces an escalation below this confidence.
	LowConfidenceThreshold = 0.5
	// mediumEscalateScore splits the medium band between challenge and escalate
	// on the deterministic fallback path.
	mediumEscalateScore = 45.0
)

// Config tunes the arbiter.
type Config struct {
	// CallTimeout bounds the generative decision call.
	CallTimeout time.Duration
}

// DefaultConfig returns the default arbiter settings.
func DefaultConfig() Config {
	return Config{CallTimeout: 10 * time.Second}
}

// Arbiter produces the final decision. Decide never returns an error: every
// failure routes to the deterministic fallback mapping.
type Arbiter struct {
	provider llm.Provider
	config   Config
	logger   *logrus.Logger
}

// New creates an arbiter.
func New(provider llm.Provider, config Config, logger *logrus.Logger) *Arbiter {
	if config.CallTimeout <= 0 {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Arbiter{provider: provider, config: config, logger: logger}
}

// Decide interprets evidence and debate into a decision, then applies the
// safety overrides in their documented order.
func (a *Arbiter) Decide(ctx context.Context, evidence *models.AggregatedEvidence, debate *models.DebateArguments) *models.Decision {
	decision := a.generativeDecision(ctx, evidence, debate)
	if decision == nil {
		decision = fallbackDecision(evidence)
	}
	decision.CompositeScore = evidence.CompositeScore
	decision.RiskCategory = evidence.RiskCategory
	applyOverrides(decision, evidence)
	return decision
}

// generativeDecision returns nil whenever the model path cannot produce a
// complete, valid decision.
func (a *Arbiter) generativeDecision(ctx context.Context, evidence *models.AggregatedEvidence, debate *models.DebateArguments) *models.Decision {
	if a.provider == nil {
		return nil
	}

	resp, err := a.provider.Complete(ctx, &llm.Request{
		System:      "You are the final arbiter of a fraud review. Weigh both analyst arguments against the evidence.",
		Prompt:      decisionPrompt(evidence, debate),
		Temperature: 0.2,
		MaxTokens:   500,
		Timeout:     a.config.CallTimeout,
	})
	if err != nil {
		a.logger.WithError(err).Warn("arbiter call failed, using fallback decision")
		return nil
	}

	rec, err := interpret.Interpret(resp.Content, interpret.Spec{
		Anchor:  "decision",
		Numeric: map[string]interpret.Range{"confidence": interpret.UnitRange},
		Text:    []string{"decision", "reasoning"},
	})
	if err != nil {
		a.logger.WithError(err).Warn("arbiter output unparseable, using fallback decision")
		return nil
	}

	rawDecision, ok := rec.Text("decision")
	if !ok {
		return nil
	}
	decisionType := models.DecisionType(strings.ToLower(strings.TrimSpace(rawDecision)))
	if !decisionType.Valid() {
		a.logger.WithField("decision", rawDecision).Warn("arbiter returned unknown decision, using fallback")
		return nil
	}

	confidence, _ := rec.Number("confidence")
	reasoning, _ := rec.Text("reasoning")
	if strings.TrimSpace(reasoning) == "" {
		reasoning = fmt.Sprintf("Decision %s based on composite score %.2f (%s risk).",
			decisionType, evidence.CompositeScore, evidence.RiskCategory)
	}

	return &models.Decision{
		Decision:   decisionType,
		Confidence: confidence,
		Reasoning:  reasoning,
	}
}

// fallbackDecision is the deterministic risk-category mapping used when the
// generative path fails. The medium band splits on a composite sub-threshold.
func fallbackDecision(evidence *models.AggregatedEvidence) *models.Decision {
	var (
		decisionType models.DecisionType
		confidence   float64
		summary      string
	)

	switch evidence.RiskCategory {
	case models.RiskLow:
		decisionType, confidence = models.DecisionApprove, 0.8
		summary = "evidence is consistent with the customer's normal behavior"
	case models.RiskMedium:
		if evidence.CompositeScore >= mediumEscalateScore {
			decisionType, confidence = models.DecisionEscalate, 0.6
			summary = "mixed indicators in the upper medium band require human review"
		} else {
			decisionType, confidence = models.DecisionChallenge, 0.65
			summary = "moderate risk warrants step-up verification"
		}
	case models.RiskHigh:
		decisionType, confidence = models.DecisionBlock, 0.75
		summary = "multiple strong fraud indicators are present"
	default:
		decisionType, confidence = models.DecisionBlock, 0.9
		summary = "the evidence pattern is critically risky"
	}

	return &models.Decision{
		Decision:   decisionType,
		Confidence: confidence,
		Reasoning: fmt.Sprintf("Deterministic ruling: %s (composite score %.2f, %s risk).",
			summary, evidence.CompositeScore, evidence.RiskCategory),
	}
}

// applyOverrides runs the two safety overrides in fixed order; the second sees
// the outcome of the first.
func applyOverrides(decision *models.Decision, evidence *models.AggregatedEvidence) {
	if evidence.CompositeScore > CriticalScoreThreshold && decision.Decision != models.DecisionBlock {
		prior := decision.Decision
		decision.Decision = models.DecisionBlock
		if decision.Confidence < OverrideConfidence {
			decision.Confidence = OverrideConfidence
		}
		decision.Reasoning = fmt.Sprintf(
			"[safety override] composite score %.2f exceeds the critical threshold; %s replaced with block. %s",
			evidence.CompositeScore, prior, decision.Reasoning)
	}

	if decision.Confidence < LowConfidenceThreshold && decision.Decision != models.DecisionEscalate {
		prior := decision.Decision
		decision.Decision = models.DecisionEscalate
		decision.Reasoning = fmt.Sprintf(
			"[safety override] confidence %.2f is below the review threshold; %s escalated to human review. %s",
			decision.Confidence, prior, decision.Reasoning)
	}
}

// Explain derives the audit citation lists from the evidence's consolidated
// citations. Policy citations become internal references; threat citations
// become external ones, with a placeholder when no external source reported.
func (a *Arbiter) Explain(evidence *models.AggregatedEvidence, decision *models.Decision) {
	decision.InternalCitations = []models.InternalCitation{}
	decision.ExternalCitations = []models.ExternalCitation{}

	for _, citation := range evidence.Citations {
		source, detail, ok := splitCitation(citation)
		if !ok {
			continue
		}
		if strings.HasPrefix(detail, "confidence ") {
			decision.ExternalCitations = append(decision.ExternalCitations, models.ExternalCitation{
				Source: source,
				Detail: detail,
			})
		} else {
			decision.InternalCitations = append(decision.InternalCitations, models.InternalCitation{
				PolicyID: source,
				Text:     detail,
			})
		}
	}

	if len(decision.ExternalCitations) == 0 {
		decision.ExternalCitations = append(decision.ExternalCitations, models.ExternalCitation{
			Source: "none",
			Detail: "no external threat intelligence reported",
		})
	}
}

func splitCitation(citation string) (string, string, bool) {
	idx := strings.Index(citation, ": ")
	if idx <= 0 {
		return "", "", false
	}
	return citation[:idx], citation[idx+2:], true
}

func decisionPrompt(evidence *models.AggregatedEvidence, debate *models.DebateArguments) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Composite risk score: %.2f (category: %s)\n", evidence.CompositeScore, evidence.RiskCategory)
	sb.WriteString("Signals:\n")
	for _, s := range evidence.Signals {
		sb.WriteString("- " + s + "\n")
	}
	sb.WriteString("Citations:\n")
	for _, c := range evidence.Citations {
		sb.WriteString("- " + c + "\n")
	}
	fmt.Fprintf(&sb, "\nFraud case (confidence %.2f): %s\n", debate.Skeptical.Confidence, debate.Skeptical.Argument)
	fmt.Fprintf(&sb, "Legitimacy case (confidence %.2f): %s\n", debate.Defensive.Confidence, debate.Defensive.Argument)
	sb.WriteString("\nChoose one of: approve, challenge, block, escalate.\n")
	sb.WriteString("Respond with JSON:\n```json\n{\"decision\": \"...\", \"confidence\": 0.0, \"reasoning\": \"...\"}\n```")
	return sb.String()
}
