package threat

import (
	"context"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/models"
)

// corroborationBonus is added per additional reporting source, so agreement
// between independent feeds raises the aggregate above any single confidence.
const corroborationBonus = 0.1

// Manager fans a lookup out to every configured provider and combines the
// findings into one ThreatIntelResult.
type Manager struct {
	providers []Provider
	logger    *logrus.Logger
}

// NewManager creates a manager over a fixed provider list.
func NewManager(providers []Provider, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{providers: providers, logger: logger}
}

// Analyze runs all providers concurrently and aggregates their findings.
// The aggregate level is min(1, max(confidence) + 0.1×(sources−1)) rounded to
// two decimals; no findings yields level 0 with an empty source list.
func (m *Manager) Analyze(ctx context.Context, tx *models.Transaction, signals *models.ContextSignals) *models.ThreatIntelResult {
	found := make([][]models.ThreatSource, len(m.providers))

	var wg sync.WaitGroup
	for i, p := range m.providers {
		wg.Add(1)
		go func(idx int, provider Provider) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.logger.WithFields(logrus.Fields{
						"provider": provider.Name(),
						"panic":    r,
					}).Warn("threat provider panicked, treating as no findings")
				}
			}()
			found[idx] = provider.Lookup(ctx, tx, signals)
		}(i, p)
	}
	wg.Wait()

	// Merge in provider order so identical inputs give identical source ordering.
	var sources []models.ThreatSource
	for _, hits := range found {
		for _, hit := range hits {
			hit.Confidence = clampUnit(hit.Confidence)
			sources = append(sources, hit)
		}
	}

	if len(sources) == 0 {
		return &models.ThreatIntelResult{Level: 0.0, Sources: []models.ThreatSource{}}
	}

	maxConf := 0.0
	for _, s := range sources {
		if s.Confidence > maxConf {
			maxConf = s.Confidence
		}
	}

	level := maxConf + corroborationBonus*float64(len(sources)-1)
	if level > 1.0 {
		level = 1.0
	}
	level = math.Round(level*100) / 100

	return &models.ThreatIntelResult{Level: level, Sources: sources}
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
