// Package pipeline coordinates one fraud analysis run: parallel signal
// collection, evidence fusion, adversarial debate, arbitration, and the
// best-effort persistence and escalation tail. Branch failures are isolated;
// only a missing input or the outer deadline is fatal to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/arbiter"
	"github.com/riskwise/riskwise/internal/debate"
	"github.com/riskwise/riskwise/internal/fusion"
	"github.com/riskwise/riskwise/internal/models"
	"github.com/riskwise/riskwise/internal/observability"
)

// ContextCollector derives deterministic context signals.
type ContextCollector interface {
	Collect(ctx context.Context, tx *models.Transaction, profile *models.CustomerBehaviorProfile) (*models.ContextSignals, error)
}

// BehaviorCollector derives behavioral deviation signals.
type BehaviorCollector interface {
	Collect(ctx context.Context, tx *models.Transaction, profile *models.CustomerBehaviorProfile) (*models.BehavioralSignals, error)
}

// PolicyCollector matches the transaction against fraud policies.
type PolicyCollector interface {
	Collect(ctx context.Context, tx *models.Transaction, profile *models.CustomerBehaviorProfile) (*models.PolicyMatchResult, error)
}

// ThreatCollector aggregates external threat intelligence. It never fails.
type ThreatCollector interface {
	Analyze(ctx context.Context, tx *models.Transaction, signals *models.ContextSignals) *models.ThreatIntelResult
}

// PersistenceSink records the finished run. Failures are non-fatal.
type PersistenceSink interface {
	Record(ctx context.Context, tx *models.Transaction, decision *models.Decision, trace []models.TraceEntry) error
}

// EscalationSink opens a human-review case for escalated decisions.
type EscalationSink interface {
	CreateCase(ctx context.Context, transactionID string) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	// RunTimeout is the outer deadline for the whole analysis.
	RunTimeout time.Duration
	// CollectorTimeout bounds each signal collection branch.
	CollectorTimeout time.Duration
}

// DefaultConfig returns the default orchestration settings.
func DefaultConfig() Config {
	return Config{
		RunTimeout:       30 * time.Second,
		CollectorTimeout: 8 * time.Second,
	}
}

// Deps bundles the orchestrator's collaborators. Persistence, Escalation,
// and Metrics may be nil.
type Deps struct {
	Context     ContextCollector
	Behavior    BehaviorCollector
	Policy      PolicyCollector
	Threat      ThreatCollector
	Debate      *debate.Engine
	Arbiter     *arbiter.Arbiter
	Persistence PersistenceSink
	Escalation  EscalationSink
	Metrics     *observability.Metrics
}

// Orchestrator runs the decision pipeline.
type Orchestrator struct {
	deps   Deps
	config Config
	logger *logrus.Logger
}

// New creates an orchestrator.
func New(deps Deps, config Config, logger *logrus.Logger) *Orchestrator {
	if config.RunTimeout <= 0 {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{deps: deps, config: config, logger: logger}
}

// Analyze is the pipeline's sole entry point. It returns a complete decision,
// or a *ValidationError when an input is absent, or a *TimeoutError when the
// outer deadline is exceeded. No other failure reaches the caller.
func (o *Orchestrator) Analyze(ctx context.Context, tx *models.Transaction, profile *models.CustomerBehaviorProfile) (*models.Decision, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, o.config.RunTimeout)
	defer cancel()

	state := State{RunID: uuid.New().String(), Phase: PhasePending, Status: RunInProgress, Transaction: tx, Profile: profile}
	log := o.logger.WithField("run_id", state.RunID)

	// Validating: the sole fatal input check.
	state = state.Apply(Update{Phase: PhaseValidating})
	if tx == nil || profile == nil {
		reason := "transaction is required"
		if tx != nil {
			reason = "customer behavior profile is required"
		}
		o.deps.Metrics.FatalFailure("validation")
		log.WithField("reason", reason).Warn("analysis rejected")
		return nil, &ValidationError{Reason: reason}
	}

	state = o.collectSignals(ctx, state, log)
	if err := o.deadline(ctx, start); err != nil {
		return nil, err
	}

	state = o.fuseEvidence(state)
	if err := o.deadline(ctx, start); err != nil {
		return nil, err
	}

	state = o.runDebate(ctx, state)
	if err := o.deadline(ctx, start); err != nil {
		return nil, err
	}

	state = o.arbitrate(ctx, state)
	if err := o.deadline(ctx, start); err != nil {
		return nil, err
	}

	state = o.explain(state)
	state = o.persist(ctx, state, log)

	if state.Decision.Decision == models.DecisionEscalate {
		state = o.escalate(ctx, state, log)
		state = state.Apply(Update{Phase: PhaseResponding, Status: RunEscalated})
	} else {
		state = state.Apply(Update{Phase: PhaseResponding, Status: RunCompleted})
	}

	o.deps.Metrics.DecisionIssued(state.Decision.Decision, time.Since(start))
	log.WithFields(logrus.Fields{
		"decision":   state.Decision.Decision,
		"confidence": state.Decision.Confidence,
		"score":      state.Evidence.CompositeScore,
		"elapsed":    time.Since(start),
	}).Info("analysis completed")

	return state.Decision, nil
}

// deadline converts an expired outer context into the fatal TimeoutError.
func (o *Orchestrator) deadline(ctx context.Context, start time.Time) error {
	if ctx.Err() == nil {
		return nil
	}
	o.deps.Metrics.FatalFailure("timeout")
	return &TimeoutError{Elapsed: time.Since(start)}
}

// branchOutcome carries one collection branch's result to the merge.
type branchOutcome struct {
	entry  models.TraceEntry
	update Update
}

// collectSignals launches all four collector branches, waits for every branch
// to settle, and merges the successes by fixed branch index so the outcome is
// deterministic for identical inputs. A failed branch contributes nothing.
func (o *Orchestrator) collectSignals(ctx context.Context, state State, log *logrus.Entry) State {
	state = state.Apply(Update{Phase: PhaseCollecting})

	tx, profile := state.Transaction, state.Profile

	branches := []struct {
		component string
		run       func(context.Context) (Update, string, error)
	}{
		{"context_analyzer", func(bctx context.Context) (Update, string, error) {
			signals, err := o.deps.Context.Collect(bctx, tx, profile)
			if err != nil {
				return Update{}, "", err
			}
			return Update{Context: signals}, fmt.Sprintf("flags=%d ratio=%.2f", len(signals.Flags), signals.AmountRatio), nil
		}},
		{"behavior_analyzer", func(bctx context.Context) (Update, string, error) {
			signals, err := o.deps.Behavior.Collect(bctx, tx, profile)
			if err != nil {
				return Update{}, "", err
			}
			return Update{Behavior: signals}, fmt.Sprintf("deviation=%.2f anomalies=%d", signals.DeviationScore, len(signals.Anomalies)), nil
		}},
		{"policy_matcher", func(bctx context.Context) (Update, string, error) {
			result, err := o.deps.Policy.Collect(bctx, tx, profile)
			if err != nil {
				return Update{}, "", err
			}
			return Update{Policy: result}, fmt.Sprintf("matches=%d", len(result.Matches)), nil
		}},
		{"threat_manager", func(bctx context.Context) (Update, string, error) {
			result := o.deps.Threat.Analyze(bctx, tx, nil)
			return Update{Threat: result}, fmt.Sprintf("level=%.2f sources=%d", result.Level, len(result.Sources)), nil
		}},
	}

	outcomes := make([]branchOutcome, len(branches))
	done := make(chan int, len(branches))

	for i, branch := range branches {
		go func(idx int, component string, run func(context.Context) (Update, string, error)) {
			defer func() { done <- idx }()

			bctx, cancel := context.WithTimeout(ctx, o.config.CollectorTimeout)
			defer cancel()

			began := time.Now()
			update, summary, err := run(bctx)
			entry := models.TraceEntry{
				Component: component,
				Timestamp: began,
				Duration:  time.Since(began),
				Input:     fmt.Sprintf("tx=%s", tx.ID),
			}

			switch {
			case err == nil:
				entry.Status = models.TraceSuccess
				entry.Output = summary
			case errors.Is(err, context.DeadlineExceeded):
				entry.Status = models.TraceTimeout
				entry.Output = err.Error()
			default:
				entry.Status = models.TraceError
				entry.Output = err.Error()
			}

			if err != nil {
				o.deps.Metrics.CollectorFailed(component)
				log.WithError(err).WithField("collector", component).Warn("collector failed, treating signal as absent")
			}

			outcomes[idx] = branchOutcome{entry: entry, update: update}
		}(i, branch.component, branch.run)
	}

	for range branches {
		<-done
	}

	// Merge by branch index, never by completion order.
	for _, outcome := range outcomes {
		update := outcome.update
		update.Trace = []models.TraceEntry{outcome.entry}
		state = state.Apply(update)
	}
	return state
}

func (o *Orchestrator) fuseEvidence(state State) State {
	began := time.Now()
	evidence := fusion.Fuse(state.Context, state.Behavior, state.Policy, state.Threat)

	return state.Apply(Update{
		Phase:    PhaseFusing,
		Evidence: evidence,
		Trace: []models.TraceEntry{{
			Component: "evidence_fusion",
			Timestamp: began,
			Duration:  time.Since(began),
			Status:    models.TraceSuccess,
			Output:    fmt.Sprintf("score=%.2f category=%s signals=%d", evidence.CompositeScore, evidence.RiskCategory, len(evidence.Signals)),
		}},
	})
}

func (o *Orchestrator) runDebate(ctx context.Context, state State) State {
	began := time.Now()
	arguments := o.deps.Debate.Run(ctx, state.Evidence)

	return state.Apply(Update{
		Phase:  PhaseDebating,
		Debate: arguments,
		Trace: []models.TraceEntry{{
			Component: "adversarial_debate",
			Timestamp: began,
			Duration:  time.Since(began),
			Status:    models.TraceSuccess,
			Output: fmt.Sprintf("skeptical=%.2f(fallback=%t) defensive=%.2f(fallback=%t)",
				arguments.Skeptical.Confidence, arguments.Skeptical.Fallback,
				arguments.Defensive.Confidence, arguments.Defensive.Fallback),
		}},
	})
}

func (o *Orchestrator) arbitrate(ctx context.Context, state State) State {
	began := time.Now()
	decision := o.deps.Arbiter.Decide(ctx, state.Evidence, state.Debate)

	return state.Apply(Update{
		Phase:    PhaseArbitrating,
		Decision: decision,
		Trace: []models.TraceEntry{{
			Component: "decision_arbiter",
			Timestamp: began,
			Duration:  time.Since(began),
			Status:    models.TraceSuccess,
			Output:    fmt.Sprintf("decision=%s confidence=%.2f", decision.Decision, decision.Confidence),
		}},
	})
}

func (o *Orchestrator) explain(state State) State {
	began := time.Now()
	o.deps.Arbiter.Explain(state.Evidence, state.Decision)

	return state.Apply(Update{
		Phase: PhaseExplaining,
		Trace: []models.TraceEntry{{
			Component: "explanation_builder",
			Timestamp: began,
			Duration:  time.Since(began),
			Status:    models.TraceSuccess,
			Output: fmt.Sprintf("internal=%d external=%d",
				len(state.Decision.InternalCitations), len(state.Decision.ExternalCitations)),
		}},
	})
}

// persist is best-effort: a sink failure is logged and never alters the
// already-computed decision.
func (o *Orchestrator) persist(ctx context.Context, state State, log *logrus.Entry) State {
	state = state.Apply(Update{Phase: PhasePersisting})
	if o.deps.Persistence == nil {
		return state
	}

	began := time.Now()
	entry := models.TraceEntry{
		Component: "persistence_sink",
		Timestamp: began,
		Status:    models.TraceSuccess,
	}
	if err := o.deps.Persistence.Record(ctx, state.Transaction, state.Decision, state.Trace); err != nil {
		entry.Status = models.TraceError
		entry.Output = err.Error()
		log.WithError(err).Warn("persistence failed, decision unaffected")
	}
	entry.Duration = time.Since(began)

	return state.Apply(Update{Trace: []models.TraceEntry{entry}})
}

// escalate opens a human-review case. A sink failure is logged; the decision
// still escalates.
func (o *Orchestrator) escalate(ctx context.Context, state State, log *logrus.Entry) State {
	state = state.Apply(Update{Phase: PhaseEscalating})
	if o.deps.Escalation == nil {
		return state
	}

	began := time.Now()
	entry := models.TraceEntry{
		Component: "escalation_sink",
		Timestamp: began,
		Status:    models.TraceSuccess,
	}
	caseID, err := o.deps.Escalation.CreateCase(ctx, state.Transaction.ID)
	if err != nil {
		entry.Status = models.TraceError
		entry.Output = err.Error()
		log.WithError(err).Warn("case creation failed")
	} else {
		state.Decision.CaseID = caseID
		entry.Output = "case=" + caseID
	}
	entry.Duration = time.Since(began)

	return state.Apply(Update{Trace: []models.TraceEntry{entry}})
}
