package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Article struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SectionID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"section_id"`
	CourseID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Index         int            `gorm:"column:index;not null" json:"index"`
	Title         string         `gorm:"column:title;not null" json:"title"`
	ContentMD     string         `gorm:"column:content_md" json:"content_md"`
	SummaryMD     string         `gorm:"column:summary_md" json:"summary_md"`
	ContentLength int            `gorm:"column:content_length;not null;default:0" json:"content_length"`
	VideoMetadata datatypes.JSON `gorm:"type:jsonb;column:video_metadata" json:"video_metadata"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Article) TableName() string { return "article" }

// QuizQuestion is a generated per-section quiz item, distinct from the final
// exam's QuestionBankItem pool.
type QuizQuestion struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SectionID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"section_id"`
	CourseID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	Index         int            `gorm:"column:index;not null" json:"index"`
	PromptMD      string         `gorm:"column:prompt_md;not null" json:"prompt_md"`
	Options       datatypes.JSON `gorm:"type:jsonb;column:options" json:"options"`
	CorrectIndex  int            `gorm:"column:correct_index;not null" json:"correct_index"`
	ExplanationMD string         `gorm:"column:explanation_md" json:"explanation_md"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QuizQuestion) TableName() string { return "quiz_question" }
