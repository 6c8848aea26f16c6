package pipeline

import (
	"github.com/riskwise/riskwise/internal/models"
)

// Phase names one stage of the pipeline state machine.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseValidating  Phase = "validating"
	PhaseCollecting  Phase = "collecting_signals"
	PhaseFusing      Phase = "fusing_evidence"
	PhaseDebating    Phase = "debating"
	PhaseArbitrating Phase = "arbitrating"
	PhaseExplaining  Phase = "explaining"
	PhasePersisting  Phase = "persisting"
	PhaseEscalating  Phase = "escalating"
	PhaseResponding  Phase = "responding"
)

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunEscalated  RunStatus = "escalated"
	RunError      RunStatus = "error"
)

// State is the immutable per-run snapshot handed from phase to phase. Each
// phase returns an Update; the coordinator merges it into the next snapshot.
// A State is owned by exactly one run and never shared.
type State struct {
	RunID       string
	Phase       Phase
	Status      RunStatus
	Transaction *models.Transaction
	Profile     *models.CustomerBehaviorProfile
	Context     *models.ContextSignals
	Behavior    *models.BehavioralSignals
	Policy      *models.PolicyMatchResult
	Threat      *models.ThreatIntelResult
	Evidence    *models.AggregatedEvidence
	Debate      *models.DebateArguments
	Decision    *models.Decision
	Trace       []models.TraceEntry
}

// Update is a phase's partial contribution to the run state. Nil fields leave
// the previous snapshot's value in place; trace entries are always appended.
type Update struct {
	Phase    Phase
	Status   RunStatus
	Context  *models.ContextSignals
	Behavior *models.BehavioralSignals
	Policy   *models.PolicyMatchResult
	Threat   *models.ThreatIntelResult
	Evidence *models.AggregatedEvidence
	Debate   *models.DebateArguments
	Decision *models.Decision
	Trace    []models.TraceEntry
}

// Apply merges an update into a fresh snapshot. The receiver is unchanged;
// the trace slice is copied so snapshots never alias each other's entries.
func (s State) Apply(u Update) State {
	next := s
	if u.Phase != "" {
		next.Phase = u.Phase
	}
	if u.Status != "" {
		next.Status = u.Status
	}
	if u.Context != nil {
		next.Context = u.Context
	}
	if u.Behavior != nil {
		next.Behavior = u.Behavior
	}
	if u.Policy != nil {
		next.Policy = u.Policy
	}
	if u.Threat != nil {
		next.Threat = u.Threat
	}
	if u.Evidence != nil {
		next.Evidence = u.Evidence
	}
	if u.Debate != nil {
		next.Debate = u.Debate
	}
	if u.Decision != nil {
		next.Decision = u.Decision
	}
	if len(u.Trace) > 0 {
		trace := make([]models.TraceEntry, 0, len(s.Trace)+len(u.Trace))
		trace = append(trace, s.Trace...)
		trace = append(trace, u.Trace...)
		next.Trace = trace
	}
	return next
}
