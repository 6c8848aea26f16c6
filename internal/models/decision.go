package models

// DebateStance identifies which side of the adversarial debate produced an argument.
type DebateStance string

const (
	StanceSkeptical DebateStance = "skeptical"
	StanceDefensive DebateStance = "defensive"
)

// DebateArgument is one side's case over the fused evidence.
type DebateArgument struct {
	Stance        DebateStance `json:"stance"`
	Argument      string       `json:"argument"`
	Confidence    float64      `json:"confidence"`
	CitedEvidence []string     `json:"cited_evidence"`
	Fallback      bool         `json:"fallback"`
}

// DebateArguments holds both sides of the debate. Neither side is ever absent:
// a failed branch is filled from its stance-specific fallback table.
type DebateArguments struct {
	Skeptical DebateArgument `json:"skeptical"`
	Defensive DebateArgument `json:"defensive"`
}

// DecisionType enumerates the four possible outcomes of an analysis run.
type DecisionType string

const (
	DecisionApprove   DecisionType = "approve"
	DecisionChallenge DecisionType = "challenge"
	DecisionBlock     DecisionType = "block"
	DecisionEscalate  DecisionType = "escalate"
)

// Valid reports whether d is one of the four enumerated decision values.
func (d DecisionType) Valid() bool {
	switch d {
	case DecisionApprove, DecisionChallenge, DecisionBlock, DecisionEscalate:
		return true
	}
	return false
}

// InternalCitation references a fraud policy that informed the decision.
type InternalCitation struct {
	PolicyID string `json:"policy_id"`
	Text     string `json:"text"`
}

// ExternalCitation references an external threat intelligence source.
type ExternalCitation struct {
	Source string `json:"source"`
	Detail string `json:"detail"`
}

// Decision is the final, audit-ready outcome of one pipeline run. The
// composite score and risk category are copied from the fused evidence so
// the record stands on its own.
type Decision struct {
	Decision          DecisionType       `json:"decision"`
	Confidence        float64            `json:"confidence"`
	Reasoning         string             `json:"reasoning"`
	CompositeScore    float64            `json:"composite_score"`
	RiskCategory      RiskCategory       `json:"risk_category"`
	InternalCitations []InternalCitation `json:"internal_citations"`
	ExternalCitations []ExternalCitation `json:"external_citations"`
	CaseID            string             `json:"case_id,omitempty"`
}
