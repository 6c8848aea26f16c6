// Package collectors holds the phase-one signal collectors. Each collector
// independently derives one signal set from the transaction and profile; a
// collector failure is recovered by the orchestrator as an absent signal and
// never affects sibling collectors.
package collectors

import (
	"context"

	"github.com/riskwise/riskwise/internal/models"
)

// amountSpikeRatio is the multiple of the customer's average amount at which
// the transaction is flagged as a spike.
const amountSpikeRatio = 3.0

// DefaultChannelTiers maps payment channels to their inherent risk tier.
var DefaultChannelTiers = map[string]models.ChannelRiskTier{
	"card_present": models.ChannelRiskLow,
	"pos":          models.ChannelRiskLow,
	"web":          models.ChannelRiskElevated,
	"app":          models.ChannelRiskElevated,
	"phone_order":  models.ChannelRiskHigh,
	"wire":         models.ChannelRiskHigh,
	"crypto":       models.ChannelRiskHigh,
}

// ContextAnalyzer derives deterministic context signals from the transaction
// and the customer's baseline. It performs no I/O.
type ContextAnalyzer struct {
	channelTiers map[string]models.ChannelRiskTier
}

// NewContextAnalyzer creates a context analyzer. A nil tier table selects
// DefaultChannelTiers.
func NewContextAnalyzer(channelTiers map[string]models.ChannelRiskTier) *ContextAnalyzer {
	if channelTiers == nil {
		channelTiers = DefaultChannelTiers
	}
	return &ContextAnalyzer{channelTiers: channelTiers}
}

// Collect implements the context collector contract.
func (a *ContextAnalyzer) Collect(_ context.Context, tx *models.Transaction, profile *models.CustomerBehaviorProfile) (*models.ContextSignals, error) {
	signals := &models.ContextSignals{
		AmountRatio: amountRatio(tx.Amount, profile.AverageAmount),
		ChannelRisk: a.channelTier(tx.Channel),
		Flags:       []string{},
	}

	if signals.AmountRatio >= amountSpikeRatio {
		signals.Flags = append(signals.Flags, "amount_spike")
	}

	if offHours(tx.Timestamp.Hour(), profile.UsualHourStart, profile.UsualHourEnd) {
		signals.OffHours = true
		signals.Flags = append(signals.Flags, "off_hours")
	}

	if !profile.KnowsCountry(tx.Country) {
		signals.ForeignGeo = true
		signals.Flags = append(signals.Flags, "foreign_country")
	}

	if tx.DeviceID == "" || !profile.KnowsDevice(tx.DeviceID) {
		signals.UnknownDevice = true
		signals.Flags = append(signals.Flags, "unknown_device")
	}

	if signals.ChannelRisk == models.ChannelRiskHigh {
		signals.Flags = append(signals.Flags, "high_risk_channel")
	}

	return signals, nil
}

// amountRatio is neutral (1.0) when the profile carries no usable average.
func amountRatio(amount, average float64) float64 {
	if average <= 0 {
		return 1.0
	}
	return amount / average
}

func (a *ContextAnalyzer) channelTier(channel string) models.ChannelRiskTier {
	if tier, ok := a.channelTiers[channel]; ok {
		return tier
	}
	return models.ChannelRiskElevated
}

// offHours reports whether hour falls outside the usual window. A window with
// start > end spans midnight; a zero window means no baseline and never flags.
func offHours(hour, start, end int) bool {
	if start == 0 && end == 0 {
		return false
	}
	if start <= end {
		return hour < start || hour > end
	}
	return hour > end && hour < start
}
