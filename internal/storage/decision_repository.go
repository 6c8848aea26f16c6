// Package storage persists finished analysis runs to PostgreSQL for audit.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/riskwise/riskwise/internal/models"
)

// DecisionRecord is one persisted analysis outcome.
type DecisionRecord struct {
	ID             string    `json:"id" db:"id"`
	TransactionID  string    `json:"transaction_id" db:"transaction_id"`
	CustomerID     string    `json:"customer_id" db:"customer_id"`
	Decision       string    `json:"decision" db:"decision"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	CompositeScore float64   `json:"composite_score" db:"composite_score"`
	RiskCategory   string    `json:"risk_category" db:"risk_category"`
	Reasoning      string    `json:"reasoning" db:"reasoning"`
	Citations      string    `json:"citations,omitempty" db:"citations"`
	Trace          string    `json:"trace,omitempty" db:"trace"`
	CaseID         string    `json:"case_id,omitempty" db:"case_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// DecisionRepository manages decision audit storage.
type DecisionRepository struct {
	pool *pgxpool.Pool
	log  *logrus.Logger
}

// NewDecisionRepository creates a new decision repository.
func NewDecisionRepository(pool *pgxpool.Pool, log *logrus.Logger) *DecisionRepository {
	if log == nil {
		log = logrus.New()
	}
	return &DecisionRepository{
		pool: pool,
		log:  log,
	}
}

// CreateTable creates the decisions table if it doesn't exist.
func (r *DecisionRepository) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS decisions (
			id VARCHAR(255) PRIMARY KEY,
			transaction_id VARCHAR(255) NOT NULL,
			customer_id VARCHAR(255) NOT NULL,
			decision VARCHAR(50) NOT NULL,
			confidence DECIMAL(5,4) NOT NULL,
			composite_score DECIMAL(6,2) NOT NULL,
			risk_category VARCHAR(50) NOT NULL,
			reasoning TEXT,
			citations JSONB,
			trace JSONB,
			case_id VARCHAR(255),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_transaction_id ON decisions(transaction_id);
		CREATE INDEX IF NOT EXISTS idx_decisions_customer_id ON decisions(customer_id);
		CREATE INDEX IF NOT EXISTS idx_decisions_decision ON decisions(decision);
		CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at);
	`

	_, err := r.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create decisions table: %w", err)
	}

	r.log.Info("Decisions table created/verified")
	return nil
}

// Record persists one finished run together with its execution trace. It
// satisfies the pipeline's persistence sink contract.
func (r *DecisionRepository) Record(ctx context.Context, tx *models.Transaction, decision *models.Decision, trace []models.TraceEntry) error {
	citations, err := json.Marshal(struct {
		Internal []models.InternalCitation `json:"internal"`
		External []models.ExternalCitation `json:"external"`
	}{decision.InternalCitations, decision.ExternalCitations})
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	record := DecisionRecord{
		ID:             uuid.New().String(),
		TransactionID:  tx.ID,
		CustomerID:     tx.CustomerID,
		Decision:       string(decision.Decision),
		Confidence:     decision.Confidence,
		CompositeScore: decision.CompositeScore,
		RiskCategory:   string(decision.RiskCategory),
		Reasoning:      decision.Reasoning,
		Citations:      string(citations),
		Trace:          string(traceJSON),
		CaseID:         decision.CaseID,
		CreatedAt:      time.Now(),
	}

	query := `
		INSERT INTO decisions (
			id, transaction_id, customer_id, decision, confidence,
			composite_score, risk_category, reasoning, citations,
			trace, case_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.pool.Exec(ctx, query,
		record.ID, record.TransactionID, record.CustomerID, record.Decision, record.Confidence,
		record.CompositeScore, record.RiskCategory, record.Reasoning, record.Citations,
		record.Trace, nullable(record.CaseID), record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"id":             record.ID,
		"transaction_id": record.TransactionID,
		"decision":       record.Decision,
	}).Debug("Decision recorded")

	return nil
}

// GetByTransactionID retrieves all decisions recorded for a transaction.
func (r *DecisionRepository) GetByTransactionID(ctx context.Context, transactionID string) ([]*DecisionRecord, error) {
	query := `
		SELECT id, transaction_id, customer_id, decision, confidence,
			   composite_score, risk_category, reasoning, citations,
			   trace, case_id, created_at
		FROM decisions
		WHERE transaction_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions by transaction_id: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListByCustomer retrieves a customer's most recent decisions.
func (r *DecisionRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, transaction_id, customer_id, decision, confidence,
			   composite_score, risk_category, reasoning, citations,
			   trace, case_id, created_at
		FROM decisions
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions by customer_id: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListEscalated retrieves decisions that opened a review case.
func (r *DecisionRepository) ListEscalated(ctx context.Context) ([]*DecisionRecord, error) {
	query := `
		SELECT id, transaction_id, customer_id, decision, confidence,
			   composite_score, risk_category, reasoning, citations,
			   trace, case_id, created_at
		FROM decisions
		WHERE decision = 'escalate'
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalated decisions: %w", err)
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// scanRows scans database rows into a DecisionRecord slice.
func (r *DecisionRepository) scanRows(rows pgx.Rows) ([]*DecisionRecord, error) {
	var records []*DecisionRecord

	for rows.Next() {
		var record DecisionRecord
		var reasoning, citations, trace, caseID *string

		err := rows.Scan(
			&record.ID, &record.TransactionID, &record.CustomerID, &record.Decision, &record.Confidence,
			&record.CompositeScore, &record.RiskCategory, &reasoning, &citations,
			&trace, &caseID, &record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}

		if reasoning != nil {
			record.Reasoning = *reasoning
		}
		if citations != nil {
			record.Citations = *citations
		}
		if trace != nil {
			record.Trace = *trace
		}
		if caseID != nil {
			record.CaseID = *caseID
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision rows: %w", err)
	}

	return records, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
