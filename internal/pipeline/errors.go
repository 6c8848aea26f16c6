package pipeline

import (
	"fmt"
	"time"
)

// ValidationError is returned when a required input is absent. It is one of
// the two fatal outcomes a caller can observe.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// TimeoutError is returned when the run exceeds the outer pipeline deadline.
// It is the other fatal outcome; no partial result accompanies it.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pipeline deadline exceeded after %s", e.Elapsed)
}
