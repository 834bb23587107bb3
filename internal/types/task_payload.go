package types

import "github.com/google/uuid"

// Job type tags. Each tag has exactly one payload shape below; the dispatcher
// switches over the tag exhaustively and dead-letters unknown tags.
const (
	JobTypeCourseOutline     = "course_outline"
	JobTypeArticleContent    = "article_content"
	JobTypeQuizGeneration    = "quiz_generation"
	JobTypeFinalExamBank     = "final_exam_bank"
	JobTypeVideoEnhancement  = "video_enhancement"
	JobTypeUserNotification  = "user_notification"
	JobTypeSuggestionProcess = "suggestion_process"
	JobTypeArticleRegen      = "article_regen"
)

// Course generation stages, in pipeline order. Stage names double as job
// types for the course_generation lane.
var GenerationStages = []string{
	JobTypeCourseOutline,
	JobTypeArticleContent,
	JobTypeQuizGeneration,
	JobTypeFinalExamBank,
	JobTypeVideoEnhancement,
}

// CourseGenerationJob is the payload for every course_generation lane task.
// Stage carries the job type so a resumed task knows where it is; SectionID
// and ArticleID narrow regeneration to one target when set.
type CourseGenerationJob struct {
	CourseID       uuid.UUID  `json:"course_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Stage          string     `json:"stage"`
	SectionID      *uuid.UUID `json:"section_id,omitempty"`
	ArticleID      *uuid.UUID `json:"article_id,omitempty"`
	RegenerateOnly bool       `json:"regenerate_only,omitempty"`
}

type UserNotificationJob struct {
	UserID uuid.UUID      `json:"user_id"`
	Type   string         `json:"type"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
}

type SuggestionProcessJob struct {
	SuggestionID uuid.UUID `json:"suggestion_id"`
}

type ArticleRegenJob struct {
	ArticleID uuid.UUID `json:"article_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
}
