package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	QuestionTypeMultipleChoice = "MULTIPLE_CHOICE"
	QuestionTypeTrueFalse      = "TRUE_FALSE"
	QuestionTypeFillInBlank    = "FILL_IN_BLANK"
	QuestionTypeEssay          = "ESSAY"
)

// QuestionBankItem belongs to a course's immutable exam pool, generated once
// by the final_exam_bank stage.
type QuestionBankItem struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CourseID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"course_id"`
	QuestionType  string         `gorm:"column:question_type;not null;index" json:"question_type"`
	Text          string         `gorm:"column:text;not null" json:"text"`
	Options       datatypes.JSON `gorm:"type:jsonb;column:options" json:"options,omitempty"`
	CorrectAnswer string         `gorm:"column:correct_answer" json:"-"`
	KeyPoints     datatypes.JSON `gorm:"type:jsonb;column:key_points" json:"-"`
	Points        float64        `gorm:"column:points;not null" json:"points"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (QuestionBankItem) TableName() string { return "question_bank_item" }

const (
	ExamSessionStatusInProgress = "in_progress"
	ExamSessionStatusGraded     = "graded"
)

type ExamSession struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index:idx_exam_user_course" json:"user_id"`
	CourseID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_exam_user_course" json:"course_id"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	StartedAt   time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Score       *float64       `gorm:"column:score" json:"score,omitempty"`
	Passed      *bool          `gorm:"column:passed" json:"passed,omitempty"`
	CanRetakeAt *time.Time     `gorm:"column:can_retake_at" json:"can_retake_at,omitempty"`
	TotalPoints float64        `gorm:"column:total_points;not null;default:0" json:"total_points"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ExamSession) TableName() string { return "exam_session" }

// ExamQuestion snapshots which pool items one session drew and their
// presentation order. Owned exclusively by its session.
type ExamQuestion struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID      uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	BankQuestionID uuid.UUID `gorm:"type:uuid;not null" json:"bank_question_id"`
	OrderIndex     int       `gorm:"column:order_index;not null" json:"order_index"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
}

func (ExamQuestion) TableName() string { return "exam_question" }

// ExamAnswer rows are written once, fully graded, when the session is
// submitted. The unique pair below keeps a crashed-and-retried submission
// from stacking duplicate rows for one question.
type ExamAnswer struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID      uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:uniq_exam_answer_session_question,priority:1" json:"session_id"`
	BankQuestionID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uniq_exam_answer_session_question,priority:2" json:"bank_question_id"`
	UserAnswer     string         `gorm:"column:user_answer" json:"user_answer"`
	IsCorrect      *bool          `gorm:"column:is_correct" json:"is_correct,omitempty"`
	PointsEarned   *float64       `gorm:"column:points_earned" json:"points_earned,omitempty"`
	AIGrading      datatypes.JSON `gorm:"type:jsonb;column:ai_grading" json:"ai_grading,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (ExamAnswer) TableName() string { return "exam_answer" }

type Certificate struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;not null;index:idx_cert_user_course,unique" json:"user_id"`
	CourseID       uuid.UUID `gorm:"type:uuid;not null;index:idx_cert_user_course,unique" json:"course_id"`
	FinalExamScore float64   `gorm:"column:final_exam_score;not null" json:"final_exam_score"`
	IssuedAt       time.Time `gorm:"column:issued_at;not null" json:"issued_at"`
}

func (Certificate) TableName() string { return "certificate" }
