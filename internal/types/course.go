package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	CourseStatusGenerating = "generating"
	CourseStatusReady      = "ready"
	CourseStatusFailed     = "failed"
)

type Course struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Topic       string         `gorm:"column:topic" json:"topic"`
	Description string         `gorm:"column:description" json:"description"`
	Level       string         `gorm:"column:level" json:"level"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Course) TableName() string { return "course" }

type Section struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Index       int            `gorm:"column:index;not null" json:"index"`
	Title       string         `gorm:"column:title;not null" json:"title"`
	Description string         `gorm:"column:description" json:"description"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Section) TableName() string { return "section" }
