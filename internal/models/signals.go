package models

// ChannelRiskTier buckets a payment channel by inherent risk.
type ChannelRiskTier string

const (
	ChannelRiskLow      ChannelRiskTier = "low"
	ChannelRiskElevated ChannelRiskTier = "elevated"
	ChannelRiskHigh     ChannelRiskTier = "high"
)

// ContextSignals is the output of the deterministic context analyzer.
type ContextSignals struct {
	AmountRatio   float64         `json:"amount_ratio"`
	OffHours      bool            `json:"off_hours"`
	ForeignGeo    bool            `json:"foreign_geo"`
	UnknownDevice bool            `json:"unknown_device"`
	ChannelRisk   ChannelRiskTier `json:"channel_risk"`
	Flags         []string        `json:"flags"`
}

// BehavioralSignals describes how far a transaction deviates from the
// customer's baseline. DeviationScore is always within [0,1].
type BehavioralSignals struct {
	DeviationScore float64  `json:"deviation_score"`
	Anomalies      []string `json:"anomalies"`
	VelocityAlert  bool     `json:"velocity_alert"`
}

// PolicyMatch is one fraud policy deemed relevant to the transaction.
type PolicyMatch struct {
	PolicyID    string  `json:"policy_id"`
	Description string  `json:"description"`
	Relevance   float64 `json:"relevance"`
}

// PolicyMatchResult is the output of the policy matcher collector.
type PolicyMatchResult struct {
	Matches      []PolicyMatch `json:"matches"`
	RetrievalIDs []string      `json:"retrieval_ids"`
}

// ThreatSource is one external intelligence source that reported on the transaction.
type ThreatSource struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ThreatIntelResult aggregates all threat provider findings for one transaction.
type ThreatIntelResult struct {
	Level   float64        `json:"level"`
	Sources []ThreatSource `json:"sources"`
}
