// Package threat aggregates external threat intelligence for a transaction.
// Providers are isolated: a provider may fail internally but never surfaces an
// error, and a misbehaving provider contributes nothing to the aggregate.
package threat

import (
	"context"

	"github.com/riskwise/riskwise/internal/models"
)

// Provider is one independent threat intelligence source.
//
// Lookup never returns an error: implementations catch and log failures
// internally and return an empty slice. Confidence values are in [0,1].
type Provider interface {
	Name() string
	Lookup(ctx context.Context, tx *models.Transaction, signals *models.ContextSignals) []models.ThreatSource
}
