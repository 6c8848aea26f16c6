package models

import "time"

// TraceStatus records how a component invocation ended.
type TraceStatus string

const (
	TraceSuccess TraceStatus = "success"
	TraceError   TraceStatus = "error"
	TraceTimeout TraceStatus = "timeout"
)

// TraceEntry is one append-only audit row describing a component invocation.
// Entries are never reordered; insertion order is the execution order.
type TraceEntry struct {
	Component string        `json:"component"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Status    TraceStatus   `json:"status"`
	Input     string        `json:"input,omitempty"`
	Output    string        `json:"output,omitempty"`
}
