package vectordb

import (
	"context"
	"sort"
	"strings"

	"github.com/riskwise/riskwise/internal/collectors"
)

// StaticSearcher is an in-process policy searcher backed by a fixed document
// set. It ranks by keyword overlap and stands in when no vector store is
// configured.
type StaticSearcher struct {
	docs []collectors.PolicyDoc
}

// NewStaticSearcher creates a searcher over the given policy documents.
func NewStaticSearcher(docs []collectors.PolicyDoc) *StaticSearcher {
	return &StaticSearcher{docs: docs}
}

// DefaultPolicies returns a starter set of fraud policy documents.
func DefaultPolicies() []collectors.PolicyDoc {
	return []collectors.PolicyDoc{
		{ID: "POL-001", Text: "Transactions exceeding three times the customer's average amount require step-up verification on web and app channels."},
		{ID: "POL-002", Text: "Payments from countries outside the customer's usual set are blocked when combined with an unrecognized device."},
		{ID: "POL-003", Text: "Wire and crypto channel transfers above the customer's baseline are escalated to manual review."},
		{ID: "POL-004", Text: "More than five transactions within ten minutes from one customer indicates velocity abuse."},
		{ID: "POL-005", Text: "Devices or merchants present on the internal denylist must not be approved automatically."},
		{ID: "POL-006", Text: "Night-time activity outside the customer's usual hours is challenged when the amount is elevated."},
	}
}

// Search ranks the document set by token overlap with the query.
func (s *StaticSearcher) Search(_ context.Context, query string, limit int) ([]collectors.PolicyDoc, error) {
	terms := tokenize(query)

	ranked := make([]collectors.PolicyDoc, 0, len(s.docs))
	for _, doc := range s.docs {
		doc.Relevance = overlap(terms, tokenize(doc.Text))
		if doc.Relevance > 0 {
			ranked = append(ranked, doc)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?()[]\"'")
		if len(token) > 2 {
			tokens[token] = struct{}{}
		}
	}
	return tokens
}

// overlap is the fraction of query terms present in the document.
func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := doc[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
