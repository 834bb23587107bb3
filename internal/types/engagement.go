package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ArticleProgress is one user's reading record for one article.
type ArticleProgress struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID      `gorm:"type:uuid;not null;index:idx_progress_user_article,unique" json:"user_id"`
	ArticleID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_progress_user_article,unique" json:"article_id"`
	CourseID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	TimeSpentSeconds int            `gorm:"column:time_spent_seconds;not null;default:0" json:"time_spent_seconds"`
	ScrollPercentage float64        `gorm:"column:scroll_percentage;not null;default:0" json:"scroll_percentage"`
	Completed        bool           `gorm:"column:completed;not null;default:false" json:"completed"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ArticleProgress) TableName() string { return "article_progress" }

const (
	QuizAttemptKindSection = "section"
	QuizAttemptKindArticle = "article"
	QuizAttemptKindFinal   = "final"
)

type QuizAttempt struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	SectionID    *uuid.UUID     `gorm:"type:uuid;index" json:"section_id,omitempty"`
	ArticleID    *uuid.UUID     `gorm:"type:uuid;index" json:"article_id,omitempty"`
	Kind         string         `gorm:"column:kind;not null;index" json:"kind"`
	ScorePercent float64        `gorm:"column:score_percent;not null" json:"score_percent"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QuizAttempt) TableName() string { return "quiz_attempt" }

const (
	InteractionTypeChatMessage = "chat_message"
	InteractionTypeComment     = "comment"
)

type UserInteraction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	CourseID  uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	Type      string    `gorm:"column:type;not null;index" json:"type"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (UserInteraction) TableName() string { return "user_interaction" }
