package debate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskwise/riskwise/internal/llm"
	"github.com/riskwise/riskwise/internal/models"
)

// stanceLLM answers differently per stance, keyed off the system prompt.
type stanceLLM struct {
	skeptical    string
	defensive    string
	skepticalErr error
	defensiveErr error
	delay        time.Duration
}

func (s *stanceLLM) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, llm.ErrTimeout
		}
	}
	if isSkeptical(req) {
		if s.skepticalErr != nil {
			return nil, s.skepticalErr
		}
		return &llm.Response{Content: s.skeptical}, nil
	}
	if s.defensiveErr != nil {
		return nil, s.defensiveErr
	}
	return &llm.Response{Content: s.defensive}, nil
}

func isSkeptical(req *llm.Request) bool {
	return req.System == stanceSystemPrompt(models.StanceSkeptical)
}

func highEvidence() *models.AggregatedEvidence {
	return &models.AggregatedEvidence{
		CompositeScore: 72.5,
		RiskCategory:   models.RiskHigh,
		Signals:        []string{"amount_spike", "unknown_device", "foreign_country", "off_hours"},
		Citations:      []string{"POL-1: large transfers"},
	}
}

func TestEngine_BothBranchesGenerative(t *testing.T) {
	provider := &stanceLLM{
		skeptical: "```json\n{\"argument\": \"classic takeover pattern\", \"confidence\": 0.8, \"cited_evidence\": [\"unknown_device\"]}\n```",
		defensive: "```json\n{\"argument\": \"customer travels often\", \"confidence\": 0.45, \"cited_evidence\": [\"foreign_country\"]}\n```",
	}

	e := NewEngine(provider, DefaultConfig(), nil)
	args := e.Run(context.Background(), highEvidence())

	assert.Equal(t, models.StanceSkeptical, args.Skeptical.Stance)
	assert.Equal(t, "classic takeover pattern", args.Skeptical.Argument)
	assert.Equal(t, 0.8, args.Skeptical.Confidence)
	assert.False(t, args.Skeptical.Fallback)

	assert.Equal(t, models.StanceDefensive, args.Defensive.Stance)
	assert.Equal(t, "customer travels often", args.Defensive.Argument)
	assert.False(t, args.Defensive.Fallback)
}

func TestEngine_FailedBranchDoesNotAffectSibling(t *testing.T) {
	provider := &stanceLLM{
		skepticalErr: errors.New("boom"),
		defensive:    "```json\n{\"argument\": \"looks fine\", \"confidence\": 0.5, \"cited_evidence\": []}\n```",
	}

	e := NewEngine(provider, DefaultConfig(), nil)
	args := e.Run(context.Background(), highEvidence())

	// Skeptical branch filled from the high-risk fallback row.
	assert.True(t, args.Skeptical.Fallback)
	assert.Equal(t, 0.75, args.Skeptical.Confidence)
	assert.Contains(t, args.Skeptical.Argument, "72.50")

	assert.False(t, args.Defensive.Fallback)
	assert.Equal(t, "looks fine", args.Defensive.Argument)
}

func TestEngine_TimeoutUsesFallback(t *testing.T) {
	provider := &stanceLLM{delay: 200 * time.Millisecond}

	config := DefaultConfig()
	config.BranchTimeout = 10 * time.Millisecond

	e := NewEngine(provider, config, nil)
	args := e.Run(context.Background(), highEvidence())

	assert.True(t, args.Skeptical.Fallback)
	assert.True(t, args.Defensive.Fallback)
}

func TestEngine_UnparseableUsesFallback(t *testing.T) {
	provider := &stanceLLM{
		skeptical: "free-form rambling with no recoverable fields",
		defensive: "```json\n{\"argument\": \"ok\", \"confidence\": 0.6, \"cited_evidence\": []}\n```",
	}

	e := NewEngine(provider, DefaultConfig(), nil)
	args := e.Run(context.Background(), highEvidence())

	assert.True(t, args.Skeptical.Fallback)
	assert.False(t, args.Defensive.Fallback)
}

func TestEngine_FallbackTablesDivergeByStance(t *testing.T) {
	e := NewEngine(nil, DefaultConfig(), nil)

	critical := &models.AggregatedEvidence{CompositeScore: 91, RiskCategory: models.RiskCritical, Signals: []string{"a"}}
	low := &models.AggregatedEvidence{CompositeScore: 5, RiskCategory: models.RiskLow, Signals: []string{"a"}}

	criticalArgs := e.Run(context.Background(), critical)
	lowArgs := e.Run(context.Background(), low)

	// Skeptical confidence rises with risk; defensive falls.
	assert.Greater(t, criticalArgs.Skeptical.Confidence, lowArgs.Skeptical.Confidence)
	assert.Less(t, criticalArgs.Defensive.Confidence, lowArgs.Defensive.Confidence)
}

func TestEngine_MissingArgumentGetsNeutralPlaceholder(t *testing.T) {
	provider := &stanceLLM{
		skeptical: "```json\n{\"argument\": \"\", \"confidence\": 0.9}\n```",
		defensive: "```json\n{\"argument\": \"fine\", \"confidence\": 0.5}\n```",
	}

	e := NewEngine(provider, DefaultConfig(), nil)
	args := e.Run(context.Background(), highEvidence())

	require.NotEmpty(t, args.Skeptical.Argument)
	assert.Equal(t, neutralConfidence, args.Skeptical.Confidence)
	assert.Empty(t, args.Skeptical.CitedEvidence)
}

func TestEngine_FallbackCitesTopSignals(t *testing.T) {
	e := NewEngine(nil, DefaultConfig(), nil)
	args := e.Run(context.Background(), highEvidence())

	assert.Equal(t, []string{"amount_spike", "unknown_device", "foreign_country"}, args.Skeptical.CitedEvidence)
}
