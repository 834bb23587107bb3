package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Notification struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Type      string         `gorm:"column:type;not null;index" json:"type"`
	Title     string         `gorm:"column:title;not null" json:"title"`
	Body      string         `gorm:"column:body" json:"body"`
	Data      datatypes.JSON `gorm:"type:jsonb;column:data" json:"data,omitempty"`
	ReadAt    *time.Time     `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Notification) TableName() string { return "notification" }

const (
	SuggestionStatusPending  = "pending"
	SuggestionStatusAccepted = "accepted"
	SuggestionStatusRejected = "rejected"
)

// Suggestion is a user's content-improvement request, consumed by the
// suggestion lane.
type Suggestion struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	ArticleID  *uuid.UUID     `gorm:"type:uuid;index" json:"article_id,omitempty"`
	Body       string         `gorm:"column:body;not null" json:"body"`
	Status     string         `gorm:"column:status;not null;index" json:"status"`
	Resolution string         `gorm:"column:resolution" json:"resolution,omitempty"`
	CreatedAt  time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Suggestion) TableName() string { return "suggestion" }
