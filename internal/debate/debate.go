// Package debate runs adversarial argumentation over fused evidence. Two
// branches with opposite bias run concurrently; a failed branch is filled from
// its stance-specific fallback table so the merge never has a hole.
package debate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/interpret"
	"github.com/riskwise/riskwise/internal/llm"
	"github.com/riskwise/riskwise/internal/models"
)

// neutralConfidence fills any confidence hole that survives the fallback path.
const neutralConfidence = 0.5

// Config tunes the debate engine.
type Config struct {
	// BranchTimeout bounds each side's generative call.
	BranchTimeout time.Duration
	// MaxCitedSignals caps the evidence tags quoted in fallback arguments.
	MaxCitedSignals int
}

// DefaultConfig returns the default debate settings.
func DefaultConfig() Config {
	return Config{
		BranchTimeout:   10 * time.Second,
		MaxCitedSignals: 3,
	}
}

// Engine orchestrates the two debate branches.
type Engine struct {
	provider llm.Provider
	config   Config
	logger   *logrus.Logger
}

// NewEngine creates a debate engine.
func NewEngine(provider llm.Provider, config Config, logger *logrus.Logger) *Engine {
	if config.BranchTimeout <= 0 {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{provider: provider, config: config, logger: logger}
}

// Run executes both branches concurrently and always returns both arguments.
// Branch failures are absorbed into the stance's fallback table entry.
func (e *Engine) Run(ctx context.Context, evidence *models.AggregatedEvidence) *models.DebateArguments {
	stances := []models.DebateStance{models.StanceSkeptical, models.StanceDefensive}
	results := make([]models.DebateArgument, len(stances))

	var wg sync.WaitGroup
	for i, stance := range stances {
		wg.Add(1)
		go func(idx int, st models.DebateStance) {
			defer wg.Done()
			results[idx] = e.runBranch(ctx, st, evidence)
		}(i, stance)
	}
	wg.Wait()

	return &models.DebateArguments{Skeptical: results[0], Defensive: results[1]}
}

func (e *Engine) runBranch(ctx context.Context, stance models.DebateStance, evidence *models.AggregatedEvidence) models.DebateArgument {
	if e.provider == nil {
		return e.fallbackArgument(stance, evidence)
	}

	resp, err := e.provider.Complete(ctx, &llm.Request{
		System:      stanceSystemPrompt(stance),
		Prompt:      evidencePrompt(evidence),
		Temperature: 0.4,
		MaxTokens:   500,
		Timeout:     e.config.BranchTimeout,
	})
	if err != nil {
		e.logger.WithError(err).WithField("stance", stance).Warn("debate branch failed, using fallback")
		return e.fallbackArgument(stance, evidence)
	}

	rec, err := interpret.Interpret(resp.Content, interpret.Spec{
		Anchor:  "argument",
		Numeric: map[string]interpret.Range{"confidence": interpret.UnitRange},
		Text:    []string{"argument"},
		Lists:   []string{"cited_evidence"},
	})
	if err != nil {
		e.logger.WithError(err).WithField("stance", stance).Warn("debate branch unparseable, using fallback")
		return e.fallbackArgument(stance, evidence)
	}

	arg := models.DebateArgument{Stance: stance}
	arg.Confidence, _ = rec.Number("confidence")

	if text, ok := rec.Text("argument"); ok && strings.TrimSpace(text) != "" {
		arg.Argument = text
	} else {
		arg.Argument = "No substantive argument was produced for this stance."
		arg.Confidence = neutralConfidence
	}

	if cited, ok := rec.List("cited_evidence"); ok {
		arg.CitedEvidence = cited
	} else {
		arg.CitedEvidence = []string{}
	}

	return arg
}

// fallbackEntry is one row of a stance's risk-category fallback table.
type fallbackEntry struct {
	confidence float64
	template   string
}

// The skeptical table trends toward higher confidence as risk rises; the
// defensive table trends lower.
var (
	skepticalFallback = map[models.RiskCategory]fallbackEntry{
		models.RiskLow:      {0.35, "Risk indicators are sparse, but the transaction still warrants routine scrutiny (composite %.2f, %s risk)."},
		models.RiskMedium:   {0.55, "Several indicators deviate from the customer's baseline; fraud cannot be ruled out (composite %.2f, %s risk)."},
		models.RiskHigh:     {0.75, "The signal pattern is consistent with account takeover or card testing (composite %.2f, %s risk)."},
		models.RiskCritical: {0.90, "The combined evidence strongly indicates fraud and the transaction should not proceed (composite %.2f, %s risk)."},
	}
	defensiveFallback = map[models.RiskCategory]fallbackEntry{
		models.RiskLow:      {0.80, "The transaction is consistent with the customer's established behavior (composite %.2f, %s risk)."},
		models.RiskMedium:   {0.60, "Deviations are explainable by ordinary changes in customer behavior (composite %.2f, %s risk)."},
		models.RiskHigh:     {0.40, "Some legitimate explanations remain, such as travel or a new device (composite %.2f, %s risk)."},
		models.RiskCritical: {0.25, "Few legitimate explanations fit the observed pattern (composite %.2f, %s risk)."},
	}
)

func (e *Engine) fallbackArgument(stance models.DebateStance, evidence *models.AggregatedEvidence) models.DebateArgument {
	table := skepticalFallback
	if stance == models.StanceDefensive {
		table = defensiveFallback
	}

	entry, ok := table[evidence.RiskCategory]
	if !ok {
		entry = fallbackEntry{neutralConfidence, "No assessment available (composite %.2f, %s risk)."}
	}

	cited := evidence.Signals
	if len(cited) > e.config.MaxCitedSignals {
		cited = cited[:e.config.MaxCitedSignals]
	}

	return models.DebateArgument{
		Stance:        stance,
		Argument:      fmt.Sprintf(entry.template, evidence.CompositeScore, evidence.RiskCategory),
		Confidence:    entry.confidence,
		CitedEvidence: append([]string{}, cited...),
		Fallback:      true,
	}
}

func stanceSystemPrompt(stance models.DebateStance) string {
	if stance == models.StanceSkeptical {
		return "You are a fraud analyst arguing that the transaction is fraudulent. Build the strongest case the evidence supports."
	}
	return "You are a fraud analyst arguing that the transaction is legitimate. Build the strongest case the evidence supports."
}

func evidencePrompt(evidence *models.AggregatedEvidence) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Composite risk score: %.2f (category: %s)\n", evidence.CompositeScore, evidence.RiskCategory)
	sb.WriteString("Signals:\n")
	for _, s := range evidence.Signals {
		sb.WriteString("- " + s + "\n")
	}
	sb.WriteString("Citations:\n")
	for _, c := range evidence.Citations {
		sb.WriteString("- " + c + "\n")
	}
	sb.WriteString("\nRespond with JSON:\n```json\n{\"argument\": \"...\", \"confidence\": 0.0, \"cited_evidence\": [\"...\"]}\n```")
	return sb.String()
}
