package jobs

import "time"

// Lane names. Each lane is scheduled independently so a burst in one cannot
// starve the others.
const (
	LaneNotification     = "notification"
	LaneArtifactRegen    = "artifact_regen"
	LaneCourseGeneration = "course_generation"
	LaneSuggestion       = "suggestion"
)

type LaneConfig struct {
	Name           string
	Concurrency    int
	MaxAttempts    int
	Backoff        string
	HandlerTimeout time.Duration
	StaleRunning   time.Duration
	// Retention is how long succeeded tasks stay before the sweeper removes
	// them. Short for transient lanes, long for audit-sensitive ones.
	Retention time.Duration
}

func DefaultLanes() map[string]LaneConfig {
	return map[string]LaneConfig{
		LaneNotification: {
			Name:           LaneNotification,
			Concurrency:    4,
			MaxAttempts:    3,
			Backoff:        BackoffExponential,
			HandlerTimeout: 30 * time.Second,
			StaleRunning:   2 * time.Minute,
			Retention:      time.Hour,
		},
		LaneArtifactRegen: {
			Name:           LaneArtifactRegen,
			Concurrency:    2,
			MaxAttempts:    5,
			Backoff:        BackoffGeneration,
			HandlerTimeout: 300 * time.Second,
			StaleRunning:   10 * time.Minute,
			Retention:      24 * time.Hour,
		},
		LaneCourseGeneration: {
			Name:           LaneCourseGeneration,
			Concurrency:    2,
			MaxAttempts:    5,
			Backoff:        BackoffGeneration,
			HandlerTimeout: 300 * time.Second,
			StaleRunning:   10 * time.Minute,
			Retention:      7 * 24 * time.Hour,
		},
		LaneSuggestion: {
			Name:           LaneSuggestion,
			Concurrency:    2,
			MaxAttempts:    3,
			Backoff:        BackoffExponential,
			HandlerTimeout: 60 * time.Second,
			StaleRunning:   5 * time.Minute,
			Retention:      24 * time.Hour,
		},
	}
}
