package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskwise/riskwise/internal/arbiter"
	"github.com/riskwise/riskwise/internal/debate"
	"github.com/riskwise/riskwise/internal/llm"
	"github.com/riskwise/riskwise/internal/models"
)

type stubContext struct {
	signals *models.ContextSignals
	err     error
	block   bool
}

func (s *stubContext) Collect(ctx context.Context, _ *models.Transaction, _ *models.CustomerBehaviorProfile) (*models.ContextSignals, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.signals, s.err
}

type stubBehavior struct {
	signals *models.BehavioralSignals
	err     error
}

func (s *stubBehavior) Collect(_ context.Context, _ *models.Transaction, _ *models.CustomerBehaviorProfile) (*models.BehavioralSignals, error) {
	return s.signals, s.err
}

type stubPolicy struct {
	result *models.PolicyMatchResult
	err    error
}

func (s *stubPolicy) Collect(_ context.Context, _ *models.Transaction, _ *models.CustomerBehaviorProfile) (*models.PolicyMatchResult, error) {
	return s.result, s.err
}

type stubThreat struct {
	result *models.ThreatIntelResult
}

func (s *stubThreat) Analyze(_ context.Context, _ *models.Transaction, _ *models.ContextSignals) *models.ThreatIntelResult {
	return s.result
}

type stubPersistence struct {
	err      error
	recorded bool
	trace    []models.TraceEntry
}

func (s *stubPersistence) Record(_ context.Context, _ *models.Transaction, _ *models.Decision, trace []models.TraceEntry) error {
	s.recorded = true
	s.trace = trace
	return s.err
}

type stubEscalation struct {
	caseID string
	err    error
	calls  int
}

func (s *stubEscalation) CreateCase(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.caseID, s.err
}

type stubProvider struct {
	content string
}

func (s *stubProvider) Complete(_ context.Context, _ *llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: s.content}, nil
}

func quietDeps() Deps {
	return Deps{
		Context:  &stubContext{signals: &models.ContextSignals{ChannelRisk: models.ChannelRiskLow}},
		Behavior: &stubBehavior{signals: &models.BehavioralSignals{DeviationScore: 0.05}},
		Policy:   &stubPolicy{result: &models.PolicyMatchResult{}},
		Threat:   &stubThreat{result: &models.ThreatIntelResult{Level: 0, Sources: []models.ThreatSource{}}},
		Debate:   debate.NewEngine(nil, debate.DefaultConfig(), nil),
		Arbiter:  arbiter.New(nil, arbiter.DefaultConfig(), nil),
	}
}

func hotDeps() Deps {
	deps := quietDeps()
	deps.Context = &stubContext{signals: &models.ContextSignals{
		AmountRatio: 6.0,
		ChannelRisk: models.ChannelRiskHigh,
		Flags:       []string{"amount_spike", "off_hours", "foreign_country", "unknown_device", "high_risk_channel"},
	}}
	deps.Behavior = &stubBehavior{signals: &models.BehavioralSignals{
		DeviationScore: 1.0,
		Anomalies:      []string{"amount_deviation"},
		VelocityAlert:  true,
	}}
	deps.Policy = &stubPolicy{result: &models.PolicyMatchResult{Matches: []models.PolicyMatch{
		{PolicyID: "POL-1", Description: "velocity abuse", Relevance: 1.0},
		{PolicyID: "POL-2", Description: "device swap", Relevance: 1.0},
		{PolicyID: "POL-3", Description: "amount spike", Relevance: 1.0},
		{PolicyID: "POL-4", Description: "geo mismatch", Relevance: 1.0},
		{PolicyID: "POL-5", Description: "channel abuse", Relevance: 1.0},
	}}}
	deps.Threat = &stubThreat{result: &models.ThreatIntelResult{
		Level:   1.0,
		Sources: []models.ThreatSource{{Name: "feed:botnet", Confidence: 0.9}},
	}}
	return deps
}

func sampleTx() *models.Transaction {
	return &models.Transaction{
		ID:         "tx-100",
		CustomerID: "cust-1",
		Amount:     120.0,
		Currency:   "EUR",
		Country:    "DE",
		Channel:    "web",
		DeviceID:   "dev-1",
		Timestamp:  time.Now(),
	}
}

func sampleProfile() *models.CustomerBehaviorProfile {
	return &models.CustomerBehaviorProfile{
		CustomerID:     "cust-1",
		AverageAmount:  100.0,
		UsualHourStart: 8,
		UsualHourEnd:   22,
		UsualCountries: []string{"DE"},
		UsualDevices:   []string{"dev-1"},
	}
}

func TestAnalyze_BaselineApproves(t *testing.T) {
	o := New(quietDeps(), DefaultConfig(), nil)

	decision, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApprove, decision.Decision)
	assert.NotEmpty(t, decision.Reasoning)
	require.NotEmpty(t, decision.ExternalCitations)
	assert.Equal(t, "none", decision.ExternalCitations[0].Source)
}

func TestAnalyze_CriticalEvidenceBlocks(t *testing.T) {
	o := New(hotDeps(), DefaultConfig(), nil)

	decision, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionBlock, decision.Decision)
	assert.GreaterOrEqual(t, decision.Confidence, 0.85)
	assert.NotEmpty(t, decision.InternalCitations)
	assert.NotEmpty(t, decision.ExternalCitations)
}

func TestAnalyze_CriticalOverrideTrumpsGenerativeApprove(t *testing.T) {
	deps := hotDeps()
	deps.Arbiter = arbiter.New(&stubProvider{
		content: "```json\n{\"decision\": \"approve\", \"confidence\": 0.9, \"reasoning\": \"looks fine\"}\n```",
	}, arbiter.DefaultConfig(), nil)
	o := New(deps, DefaultConfig(), nil)

	decision, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionBlock, decision.Decision)
	assert.Contains(t, decision.Reasoning, "safety override")
}

func TestAnalyze_ValidationFailures(t *testing.T) {
	o := New(quietDeps(), DefaultConfig(), nil)

	var verr *ValidationError

	_, err := o.Analyze(context.Background(), nil, sampleProfile())
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "transaction")

	_, err = o.Analyze(context.Background(), sampleTx(), nil)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "profile")
}

func TestAnalyze_CollectorFailureIsIsolated(t *testing.T) {
	deps := hotDeps()
	deps.Context = &stubContext{err: errors.New("geo service down")}
	sink := &stubPersistence{}
	deps.Persistence = sink
	o := New(deps, DefaultConfig(), nil)

	decision, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	require.NoError(t, err)
	assert.True(t, decision.Decision.Valid())

	var failed *models.TraceEntry
	for i := range sink.trace {
		if sink.trace[i].Component == "context_analyzer" {
			failed = &sink.trace[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, models.TraceError, failed.Status)
	assert.Contains(t, failed.Output, "geo service down")
}

func TestAnalyze_PersistenceFailureIsNotFatal(t *testing.T) {
	deps := quietDeps()
	deps.Persistence = &stubPersistence{err: errors.New("db unavailable")}
	o := New(deps, DefaultConfig(), nil)

	decision, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApprove, decision.Decision)
}

func TestAnalyze_EscalationOpensCase(t *testing.T) {
	// Behavior 1.0 and threat 1.0 with everything else quiet lands the
	// composite at 50, which the fallback arbiter escalates.
	deps := quietDeps()
	deps.Behavior = &stubBehavior{signals: &models.BehavioralSignals{DeviationScore: 1.0, VelocityAlert: true}}
	deps.Threat = &stubThreat{result: &models.ThreatIntelResult{
		Level:   1.0,
		Sources: []models.ThreatSource{{Name: "denylist:devices", Confidence: 1.0}},
	}}
	escalation := &stubEscalation{caseID: "case-42"}
	deps.Escalation = escalation
	o := New(deps, DefaultConfig(), nil)

	decision, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionEscalate, decision.Decision)
	assert.Equal(t, "case-42", decision.CaseID)
	assert.Equal(t, 1, escalation.calls)
}

func TestAnalyze_EscalationSinkFailureKeepsDecision(t *testing.T) {
	deps := quietDeps()
	deps.Behavior = &stubBehavior{signals: &models.BehavioralSignals{DeviationScore: 1.0}}
	deps.Threat = &stubThreat{result: &models.ThreatIntelResult{Level: 1.0, Sources: []models.ThreatSource{{Name: "x", Confidence: 1.0}}}}
	deps.Escalation = &stubEscalation{err: errors.New("queue down")}
	o := New(deps, DefaultConfig(), nil)

	decision, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionEscalate, decision.Decision)
	assert.Empty(t, decision.CaseID)
}

func TestAnalyze_TraceOrderIsDeterministic(t *testing.T) {
	sink := &stubPersistence{}
	deps := quietDeps()
	deps.Persistence = sink
	o := New(deps, DefaultConfig(), nil)

	_, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	require.NoError(t, err)

	var components []string
	for _, entry := range sink.trace {
		components = append(components, entry.Component)
	}
	// Collector entries merge by branch index regardless of completion order.
	assert.Equal(t, []string{
		"context_analyzer",
		"behavior_analyzer",
		"policy_matcher",
		"threat_manager",
		"evidence_fusion",
		"adversarial_debate",
		"decision_arbiter",
		"explanation_builder",
	}, components)
}

func TestAnalyze_OuterDeadline(t *testing.T) {
	deps := quietDeps()
	deps.Context = &stubContext{block: true}
	o := New(deps, Config{RunTimeout: 50 * time.Millisecond, CollectorTimeout: time.Second}, nil)

	_, err := o.Analyze(context.Background(), sampleTx(), sampleProfile())
	var terr *TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Greater(t, terr.Elapsed, time.Duration(0))
}

func TestStateApply_AppendsTraceWithoutAliasing(t *testing.T) {
	base := State{Trace: []models.TraceEntry{{Component: "a"}}}

	next := base.Apply(Update{Trace: []models.TraceEntry{{Component: "b"}}})
	other := base.Apply(Update{Trace: []models.TraceEntry{{Component: "c"}}})

	require.Len(t, base.Trace, 1)
	require.Len(t, next.Trace, 2)
	assert.Equal(t, "b", next.Trace[1].Component)
	assert.Equal(t, "c", other.Trace[1].Component)
}
