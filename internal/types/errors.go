package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RateLimitError signals that the completion provider throttled us. It is an
// expected failure: the task queue's generation backoff policy turns it into
// a delayed retry and it is never surfaced to end users.
type RateLimitError struct {
	Provider   string
	Model      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s/%s, retry after %s", e.Provider, e.Model, e.RetryAfter)
}

// ProviderError covers malformed or empty completion-provider responses.
// Call sites decide the fallback: partial credit for essay grading, hard
// stop for pipeline stages.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error in %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider error in %s", e.Op)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// InsufficientBankError means the course's question pool is too small to
// assemble an exam session. Retryable precondition, never silently padded.
type InsufficientBankError struct {
	CourseID uuid.UUID
	Have     int
	Need     int
}

func (e *InsufficientBankError) Error() string {
	return fmt.Sprintf("question bank for course %s has %d items, need %d", e.CourseID, e.Have, e.Need)
}

// EligibilityError carries the specific unmet condition, its current value
// and the required value.
type EligibilityError struct {
	Condition string
	Current   float64
	Required  float64
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("%s is %.1f, required %.1f", e.Condition, e.Current, e.Required)
}

// ErrExamAlreadyPassed blocks new sessions for a course whose final exam the
// user has already passed.
var ErrExamAlreadyPassed = errors.New("final exam already passed")

// CooldownError blocks a new exam session until the retake cooldown from the
// last failed attempt elapses.
type CooldownError struct {
	CanRetakeAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("exam retake available at %s", e.CanRetakeAt.Format(time.RFC3339))
}
