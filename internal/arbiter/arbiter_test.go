package arbiter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskwise/riskwise/internal/llm"
	"github.com/riskwise/riskwise/internal/models"
)

type stubLLM struct {
	content string
	err     error
}

func (s *stubLLM) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func evidence(score float64, category models.RiskCategory) *models.AggregatedEvidence {
	return &models.AggregatedEvidence{
		CompositeScore: score,
		RiskCategory:   category,
		Signals:        []string{"amount_spike"},
		Citations: []string{
			"POL-7: unusual cross-border activity",
			"feed:botnet: confidence 0.80",
		},
	}
}

func neutralDebate() *models.DebateArguments {
	return &models.DebateArguments{
		Skeptical: models.DebateArgument{Stance: models.StanceSkeptical, Argument: "fraud", Confidence: 0.7},
		Defensive: models.DebateArgument{Stance: models.StanceDefensive, Argument: "fine", Confidence: 0.5},
	}
}

func TestDecide_GenerativePath(t *testing.T) {
	a := New(&stubLLM{content: "```json\n{\"decision\": \"challenge\", \"confidence\": 0.7, \"reasoning\": \"mixed evidence\"}\n```"}, DefaultConfig(), nil)

	decision := a.Decide(context.Background(), evidence(40, models.RiskMedium), neutralDebate())
	assert.Equal(t, models.DecisionChallenge, decision.Decision)
	assert.Equal(t, 0.7, decision.Confidence)
	assert.Equal(t, "mixed evidence", decision.Reasoning)
}

func TestDecide_CriticalScoreOverride(t *testing.T) {
	// Model approves despite a composite of 90: override must force a block.
	a := New(&stubLLM{content: "```json\n{\"decision\": \"approve\", \"confidence\": 0.6, \"reasoning\": \"looks ok\"}\n```"}, DefaultConfig(), nil)

	decision := a.Decide(context.Background(), evidence(90, models.RiskCritical), neutralDebate())
	assert.Equal(t, models.DecisionBlock, decision.Decision)
	assert.GreaterOrEqual(t, decision.Confidence, 0.85)
	assert.Contains(t, decision.Reasoning, "safety override")
	assert.Contains(t, decision.Reasoning, "approve")
}

func TestDecide_LowConfidenceOverride(t *testing.T) {
	a := New(&stubLLM{content: "```json\n{\"decision\": \"block\", \"confidence\": 0.4, \"reasoning\": \"weak hunch\"}\n```"}, DefaultConfig(), nil)

	decision := a.Decide(context.Background(), evidence(70, models.RiskHigh), neutralDebate())
	assert.Equal(t, models.DecisionEscalate, decision.Decision)
	assert.Contains(t, decision.Reasoning, "block")
}

func TestDecide_OverridesCompound(t *testing.T) {
	// Critical score forces a block and raises confidence to 0.85, so the
	// low-confidence override must not fire afterwards.
	a := New(&stubLLM{content: "```json\n{\"decision\": \"approve\", \"confidence\": 0.2, \"reasoning\": \"sure\"}\n```"}, DefaultConfig(), nil)

	decision := a.Decide(context.Background(), evidence(95, models.RiskCritical), neutralDebate())
	assert.Equal(t, models.DecisionBlock, decision.Decision)
	assert.Equal(t, 0.85, decision.Confidence)
}

func TestDecide_FallbackMapping(t *testing.T) {
	cases := []struct {
		name     string
		score    float64
		category models.RiskCategory
		want     models.DecisionType
	}{
		{"low approves", 10, models.RiskLow, models.DecisionApprove},
		{"lower medium challenges", 35, models.RiskMedium, models.DecisionChallenge},
		{"upper medium escalates", 50, models.RiskMedium, models.DecisionEscalate},
		{"high blocks", 70, models.RiskHigh, models.DecisionBlock},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := New(&stubLLM{err: errors.New("model down")}, DefaultConfig(), nil)
			decision := a.Decide(context.Background(), evidence(tc.score, tc.category), neutralDebate())
			assert.Equal(t, tc.want, decision.Decision)
			assert.True(t, decision.Decision.Valid())
		})
	}
}

func TestDecide_CriticalFallbackBlocks(t *testing.T) {
	a := New(&stubLLM{err: errors.New("model down")}, DefaultConfig(), nil)

	decision := a.Decide(context.Background(), evidence(85, models.RiskCritical), neutralDebate())
	assert.Equal(t, models.DecisionBlock, decision.Decision)
	assert.GreaterOrEqual(t, decision.Confidence, 0.85)
}

func TestDecide_UnknownDecisionValueFallsBack(t *testing.T) {
	a := New(&stubLLM{content: "```json\n{\"decision\": \"maybe\", \"confidence\": 0.9, \"reasoning\": \"?\"}\n```"}, DefaultConfig(), nil)

	decision := a.Decide(context.Background(), evidence(10, models.RiskLow), neutralDebate())
	assert.Equal(t, models.DecisionApprove, decision.Decision)
}

func TestDecide_UnparseableFallsBack(t *testing.T) {
	a := New(&stubLLM{content: "cannot comply"}, DefaultConfig(), nil)

	decision := a.Decide(context.Background(), evidence(70, models.RiskHigh), neutralDebate())
	assert.Equal(t, models.DecisionBlock, decision.Decision)
}

func TestExplain_SplitsCitations(t *testing.T) {
	a := New(nil, DefaultConfig(), nil)
	decision := &models.Decision{Decision: models.DecisionBlock}

	a.Explain(evidence(70, models.RiskHigh), decision)

	require.Len(t, decision.InternalCitations, 1)
	assert.Equal(t, "POL-7", decision.InternalCitations[0].PolicyID)
	assert.Equal(t, "unusual cross-border activity", decision.InternalCitations[0].Text)

	require.Len(t, decision.ExternalCitations, 1)
	assert.Equal(t, "feed:botnet", decision.ExternalCitations[0].Source)
	assert.Equal(t, "confidence 0.80", decision.ExternalCitations[0].Detail)
}

func TestExplain_PlaceholderWhenNoExternalCitations(t *testing.T) {
	a := New(nil, DefaultConfig(), nil)
	ev := &models.AggregatedEvidence{
		Citations: []string{"POL-1: first policy"},
	}
	decision := &models.Decision{Decision: models.DecisionApprove}

	a.Explain(ev, decision)

	require.Len(t, decision.ExternalCitations, 1)
	assert.Equal(t, "none", decision.ExternalCitations[0].Source)
}
