// Package vectordb adapts the Qdrant client into the policy search seam the
// policy matcher collector consumes.
package vectordb

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/collectors"
	"github.com/riskwise/riskwise/internal/embedding"
	"github.com/riskwise/riskwise/internal/vectordb/qdrant"
)

// PolicyStore implements collectors.PolicySearcher over a Qdrant collection
// of fraud policy documents.
type PolicyStore struct {
	client     *qdrant.Client
	embedder   embedding.Embedder
	collection string
	logger     *logrus.Logger
}

// NewPolicyStore creates a policy store over the given collection.
func NewPolicyStore(client *qdrant.Client, embedder embedding.Embedder, collection string, logger *logrus.Logger) *PolicyStore {
	if collection == "" {
		collection = "fraud_policies"
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PolicyStore{client: client, embedder: embedder, collection: collection, logger: logger}
}

// Search implements collectors.PolicySearcher. Results arrive ordered by
// similarity; relevance is the raw cosine score.
func (s *PolicyStore) Search(ctx context.Context, query string, limit int) ([]collectors.PolicyDoc, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	points, err := s.client.Search(ctx, s.collection, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("policy search failed: %w", err)
	}

	docs := make([]collectors.PolicyDoc, 0, len(points))
	for _, p := range points {
		doc := collectors.PolicyDoc{
			ID:        p.ID,
			Metadata:  p.Payload,
			Relevance: float64(p.Score),
		}
		if text, ok := p.Payload["text"].(string); ok {
			doc.Text = text
		}
		if id, ok := p.Payload["policy_id"].(string); ok && id != "" {
			doc.ID = id
		}
		docs = append(docs, doc)
	}

	s.logger.WithFields(logrus.Fields{
		"collection": s.collection,
		"results":    len(docs),
	}).Debug("Policy retrieval completed")
	return docs, nil
}

// SeedPolicies loads policy documents into the collection, embedding each
// document's text. Used by operational tooling, not by the pipeline.
func (s *PolicyStore) SeedPolicies(ctx context.Context, policies map[string]string, vectorSize int) error {
	if err := s.client.EnsureCollection(ctx, s.collection, vectorSize); err != nil {
		return err
	}

	points := make([]qdrant.Point, 0, len(policies))
	for id, text := range policies {
		vector, err := s.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return fmt.Errorf("failed to embed policy %s: %w", id, err)
		}
		points = append(points, qdrant.Point{
			Vector:  vector,
			Payload: map[string]any{"policy_id": id, "text": text},
		})
	}
	return s.client.UpsertPoints(ctx, s.collection, points)
}
