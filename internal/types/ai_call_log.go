package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AICallLog is an audit row per completion-provider call.
type AICallLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    *uuid.UUID     `gorm:"type:uuid;index" json:"user_id,omitempty"`
	CallType  string         `gorm:"column:call_type;not null" json:"call_type"`
	Provider  string         `gorm:"column:provider;not null" json:"provider"`
	Model     string         `gorm:"column:model;not null" json:"model"`
	Success   bool           `gorm:"column:success;not null" json:"success"`
	Error     string         `gorm:"column:error" json:"error"`
	Usage     datatypes.JSON `gorm:"type:jsonb;column:usage" json:"usage,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (AICallLog) TableName() string { return "ai_call_log" }
