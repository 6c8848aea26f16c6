package models

// RiskCategory is the ordinal band derived from the composite risk score.
type RiskCategory string

const (
	RiskLow      RiskCategory = "low"
	RiskMedium   RiskCategory = "medium"
	RiskHigh     RiskCategory = "high"
	RiskCritical RiskCategory = "critical"
)

// AggregatedEvidence is the fused view of all available signal sources.
// It is derived once by evidence fusion and never mutated afterwards.
type AggregatedEvidence struct {
	CompositeScore float64      `json:"composite_score"`
	RiskCategory   RiskCategory `json:"risk_category"`
	Signals        []string     `json:"signals"`
	Citations      []string     `json:"citations"`
}
