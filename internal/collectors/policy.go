package collectors

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

// PolicyDoc is one fraud policy document returned by vector search.
type PolicyDoc struct {
	ID        string
	Text      string
	Metadata  map[string]any
	Relevance float64
}

// PolicySearcher is the vector-similarity boundary of the policy matcher.
type PolicySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]PolicyDoc, error)
}

// PolicyMatcherConfig tunes the policy matcher collector.
type PolicyMatcherConfig struct {
	// TopK is the number of candidate policies retrieved per transaction.
	TopK int
	// MinRelevance drops candidates the model scored below this value.
	MinRelevance float64
	// CallTimeout bounds the generative relevance-scoring call.
	CallTimeout time.Duration
}

// DefaultPolicyMatcherConfig returns the default matcher settings.
func DefaultPolicyMatcherConfig() PolicyMatcherConfig {
	return PolicyMatcherConfig{
		TopK:         5,
		MinRelevance: 0.3,
		CallTimeout:  8 * time.Second,
	}
}

// PolicyMatcher retrieves candidate fraud policies by vector similarity and
// asks the generative model to score each candidate's relevance to the
// transaction. When interpretation fails, retrieval scores stand in for model
// scores so the collector still produces a usable result.
type PolicyMatcher struct {
	searcher PolicySearcher
	provider llm.Provider
	config   PolicyMatcherConfig
	logger   *logrus.Logger
}

// NewPolicyMatcher creates a policy matcher collector.
func NewPolicyMatcher(searcher PolicySearcher, provider llm.Provider, config PolicyMatcherConfig, logger *logrus.Logger) *PolicyMatcher {
	if config.TopK <= 0 {
		config = DefaultPolicyMatcherConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PolicyMatcher{searcher: searcher, provider: provider, config: config, logger: logger}
}

// Collect implements the policy collector contract.
func (m *PolicyMatcher) Collect(ctx context.Context, tx *models.Transaction, _ *models.CustomerBehaviorProfile) (*models.PolicyMatchResult, error) {
	docs, err := m.searcher.Search(ctx, searchQuery(tx), m.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("policy search failed: %w", err)
	}
	if len(docs) == 0 {
		return &models.PolicyMatchResult{Matches: []models.PolicyMatch{}, RetrievalIDs: []string{}}, nil
	}

	relevances := m.scoreCandidates(ctx, tx, docs)

	result := &models.PolicyMatchResult{
		Matches:      make([]models.PolicyMatch, 0, len(docs)),
		RetrievalIDs: make([]string, 0, len(docs)),
	}
	for i, doc := range docs {
		result.RetrievalIDs = append(result.RetrievalIDs, doc.ID)
		if relevances[i] < m.config.MinRelevance {
			continue
		}
		result.Matches = append(result.Matches, models.PolicyMatch{
			PolicyID:    doc.ID,
			Description: firstLine(doc.Text),
			Relevance:   relevances[i],
		})
	}
	return result, nil
}

// scoreCandidates asks the model for one relevance per candidate. On any
// generative or interpretation failure the retrieval relevance is used instead.
func (m *PolicyMatcher) scoreCandidates(ctx context.Context, tx *models.Transaction, docs []PolicyDoc) []float64 {
	scores := make([]float64, len(docs))
	for i, doc := range docs {
		scores[i] = clampUnit(doc.Relevance)
	}

	if m.provider == nil {
		return scores
	}

	resp, err := m.provider.Complete(ctx, &llm.Request{
		Prompt:      relevancePrompt(tx, docs),
		Temperature: 0.1,
		MaxTokens:   400,
		Timeout:     m.config.CallTimeout,
	})
	if err != nil {
		m.logger.WithError(err).Warn("policy relevance call failed, using retrieval scores")
		return scores
	}

	spec := interpret.Spec{Anchor: "relevance_1", Numeric: map[string]interpret.Range{}}
	for i := range docs {
		spec.Numeric[fmt.Sprintf("relevance_%d", i+1)] = interpret.UnitRange
	}

	rec, err := interpret.Interpret(resp.Content, spec)
	if err != nil {
		m.logger.WithError(err).Warn("policy relevance output unparseable, using retrieval scores")
		return scores
	}

	for i := range docs {
		if v, ok := rec.Number(fmt.Sprintf("relevance_%d", i+1)); ok {
			scores[i] = v
		}
	}
	return scores
}

func searchQuery(tx *models.Transaction) string {
	return fmt.Sprintf("%s payment of %.2f %s from %s via %s channel",
		tx.MerchantID, tx.Amount, tx.Currency, tx.Country, tx.Channel)
}

func relevancePrompt(tx *models.Transaction, docs []PolicyDoc) string {
	var sb strings.Builder
	sb.WriteString("You review fraud policies for relevance to a transaction.\n\n")
	fmt.Fprintf(&sb, "Transaction: amount %.2f %s, country %s, channel %s, merchant %s.\n\n",
		tx.Amount, tx.Currency, tx.Country, tx.Channel, tx.MerchantID)
	sb.WriteString("Candidate policies:\n")
	for i, doc := range docs {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, doc.ID, firstLine(doc.Text))
	}
	sb.WriteString("\nRespond with JSON rating every candidate between 0 and 1, e.g.\n")
	sb.WriteString("```json\n{")
	for i := range docs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "\"relevance_%d\": 0.0", i+1)
	}
	sb.WriteString("}\n```")
	return sb.String()
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return strings.TrimSpace(text)
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
