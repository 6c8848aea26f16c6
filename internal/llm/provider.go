// Package llm is the generative-model boundary of the pipeline. Callers only
// see the Provider interface; concrete providers wrap HTTP APIs and carry
// their own timeout and retry behavior.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a completion exceeds its per-call timeout.
var ErrTimeout = errors.New("llm: completion timed out")

// Request describes one completion call across the model boundary.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Response is the raw model output. Interpretation happens downstream.
type Response struct {
	Content  string
	Model    string
	Duration time.Duration
}

// Provider is implemented by every generative backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
