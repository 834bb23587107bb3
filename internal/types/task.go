package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed" // retryable, run_at holds the next attempt time
	TaskStatusDead      = "dead"   // attempts exhausted, awaiting operator action
)

type Task struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Lane        string         `gorm:"column:lane;not null;index;uniqueIndex:uniq_task_lane_dedup_active,priority:1" json:"lane"`
	JobType     string         `gorm:"column:job_type;not null;index" json:"job_type"`
	// The partial unique index is the dedup backstop: two racing enqueues can
	// both miss the pre-insert lookup, but only one active row per
	// (lane, dedup_key) can exist.
	DedupKey string `gorm:"column:dedup_key;index:idx_task_lane_dedup;uniqueIndex:uniq_task_lane_dedup_active,priority:2,where:dedup_key <> '' AND status <> 'succeeded' AND status <> 'dead' AND deleted_at IS NULL" json:"dedup_key,omitempty"`
	Payload     datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	RunAt       time.Time      `gorm:"column:run_at;not null;index" json:"run_at"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"column:max_attempts;not null" json:"max_attempts"`
	Backoff     string         `gorm:"column:backoff;not null" json:"backoff"`
	Error       string         `gorm:"column:error" json:"error"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Task) TableName() string { return "task" }
