package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	redisclient "github.com/coursecraft/coursecraft-backend/internal/clients/redis"
	"github.com/coursecraft/coursecraft-backend/internal/jobs"
	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

const questionsPerSectionQuiz = 5

// GenerationStatus is the pipeline view for one course: where the pipeline
// is, and whether its current task is still moving.
type GenerationStatus struct {
	CourseStatus string     `json:"course_status"`
	Stage        string     `json:"stage,omitempty"`
	TaskStatus   string     `json:"task_status,omitempty"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	LastError    string     `json:"last_error,omitempty"`
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`
}

// CourseGenerationService runs the staged pipeline: outline, article
// content, section quizzes, the final-exam question bank, then video
// enrichment. Each stage is one queue task; a stage enqueues its successor
// only after its own artifacts are persisted, so a crash or retry replays at
// most one stage and the course never advances past missing content.
type CourseGenerationService interface {
	EnqueueGeneration(ctx context.Context, ownerID uuid.UUID, title, topic, description, level string) (*types.Course, *types.Task, error)
	PipelineStatus(ctx context.Context, courseID uuid.UUID) (*GenerationStatus, error)
	RegisterHandlers(reg *jobs.Registry)
}

type courseGenerationService struct {
	db  *gorm.DB
	log *logger.Logger

	queue   *jobs.Queue
	limiter redisclient.RateLimitCoordinator
	ai      CompletionClient

	courseRepo  repos.CourseRepo
	sectionRepo repos.SectionRepo
	articleRepo repos.ArticleRepo
	quizRepo    repos.QuizQuestionRepo
	bankRepo    repos.QuestionBankRepo
}

func NewCourseGenerationService(
	db *gorm.DB,
	baseLog *logger.Logger,
	queue *jobs.Queue,
	limiter redisclient.RateLimitCoordinator,
	ai CompletionClient,
	courseRepo repos.CourseRepo,
	sectionRepo repos.SectionRepo,
	articleRepo repos.ArticleRepo,
	quizRepo repos.QuizQuestionRepo,
	bankRepo repos.QuestionBankRepo,
) CourseGenerationService {
	return &courseGenerationService{
		db:          db,
		log:         baseLog.With("service", "CourseGenerationService"),
		queue:       queue,
		limiter:     limiter,
		ai:          ai,
		courseRepo:  courseRepo,
		sectionRepo: sectionRepo,
		articleRepo: articleRepo,
		quizRepo:    quizRepo,
		bankRepo:    bankRepo,
	}
}

func (s *courseGenerationService) RegisterHandlers(reg *jobs.Registry) {
	reg.Register(types.JobTypeCourseOutline, s.stage(s.runOutline))
	reg.Register(types.JobTypeArticleContent, s.stage(s.runArticleContent))
	reg.Register(types.JobTypeQuizGeneration, s.stage(s.runQuizGeneration))
	reg.Register(types.JobTypeFinalExamBank, s.stage(s.runFinalExamBank))
	reg.Register(types.JobTypeVideoEnhancement, s.stage(s.runVideoEnhancement))
	reg.Register(types.JobTypeArticleRegen, s.handleArticleRegen)
}

// handleArticleRegen rebuilds one article's body and its section quiz,
// outside the staged pipeline. Triggered by accepted suggestions.
func (s *courseGenerationService) handleArticleRegen(ctx context.Context, task *types.Task) error {
	var job types.ArticleRegenJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return fmt.Errorf("decode regen payload: %w", err)
	}
	articles, err := s.articleRepo.GetByIDs(ctx, nil, []uuid.UUID{job.ArticleID})
	if err != nil {
		return fmt.Errorf("load article: %w", err)
	}
	if len(articles) == 0 || articles[0] == nil {
		s.log.Warn("regen target vanished", "article_id", job.ArticleID)
		return nil
	}
	article := articles[0]
	course, err := s.loadCourse(ctx, article.CourseID)
	if err != nil {
		return err
	}
	if err := s.generateArticleBody(ctx, course, article); err != nil {
		return err
	}

	sectionID := article.SectionID
	genJob := types.CourseGenerationJob{
		CourseID:       course.ID,
		UserID:         job.UserID,
		Stage:          types.JobTypeQuizGeneration,
		SectionID:      &sectionID,
		RegenerateOnly: true,
	}
	return s.runQuizGeneration(ctx, genJob)
}

func (s *courseGenerationService) EnqueueGeneration(ctx context.Context, ownerID uuid.UUID, title, topic, description, level string) (*types.Course, *types.Task, error) {
	var course *types.Course
	var task *types.Task

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		course = &types.Course{
			ID:          uuid.New(),
			OwnerID:     ownerID,
			Title:       title,
			Topic:       topic,
			Description: description,
			Level:       level,
			Status:      types.CourseStatusGenerating,
			Metadata:    datatypes.JSON([]byte(`{}`)),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := s.courseRepo.Create(ctx, tx, []*types.Course{course}); err != nil {
			return fmt.Errorf("create course: %w", err)
		}

		job := types.CourseGenerationJob{
			CourseID: course.ID,
			UserID:   ownerID,
			Stage:    types.JobTypeCourseOutline,
		}
		t, _, err := s.queue.Enqueue(ctx, tx, jobs.LaneCourseGeneration, types.JobTypeCourseOutline, job, jobs.EnqueueOpts{
			DedupKey: generationDedupKey(course.ID, types.JobTypeCourseOutline),
		})
		if err != nil {
			return fmt.Errorf("enqueue outline: %w", err)
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return course, task, nil
}

func (s *courseGenerationService) PipelineStatus(ctx context.Context, courseID uuid.UUID) (*GenerationStatus, error) {
	courses, err := s.courseRepo.GetByIDs(ctx, nil, []uuid.UUID{courseID})
	if err != nil {
		return nil, err
	}
	if len(courses) == 0 || courses[0] == nil {
		return nil, gorm.ErrRecordNotFound
	}
	status := &GenerationStatus{CourseStatus: courses[0].Status}

	tasks, err := s.queue.List(ctx, jobs.LaneCourseGeneration, nil, 200)
	if err != nil {
		return nil, err
	}
	// The latest task for this course is the pipeline's current position.
	var latest *types.Task
	for _, t := range tasks {
		var job types.CourseGenerationJob
		if err := json.Unmarshal(t.Payload, &job); err != nil || job.CourseID != courseID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest != nil {
		status.Stage = latest.JobType
		status.TaskStatus = latest.Status
		status.Attempts = latest.Attempts
		status.MaxAttempts = latest.MaxAttempts
		status.LastError = latest.Error
		if latest.Status == types.TaskStatusFailed || (latest.Status == types.TaskStatusQueued && latest.RunAt.After(time.Now())) {
			runAt := latest.RunAt
			status.NextRunAt = &runAt
		}
	}
	return status, nil
}

// stage wraps a stage body with payload decoding and last-attempt handling:
// when a stage error lands on the final attempt, the course is marked failed
// and the owner notified, while the error still flows to the queue so the
// task records it and goes dead.
func (s *courseGenerationService) stage(fn func(ctx context.Context, job types.CourseGenerationJob) error) jobs.HandlerFunc {
	return func(ctx context.Context, task *types.Task) error {
		var job types.CourseGenerationJob
		if err := json.Unmarshal(task.Payload, &job); err != nil {
			return fmt.Errorf("decode generation payload: %w", err)
		}
		err := fn(ctx, job)
		if err != nil && task.Attempts >= task.MaxAttempts {
			s.markGenerationFailed(ctx, job, err)
		}
		return err
	}
}

func (s *courseGenerationService) markGenerationFailed(ctx context.Context, job types.CourseGenerationJob, cause error) {
	if err := s.courseRepo.UpdateFields(ctx, nil, job.CourseID, map[string]any{
		"status": types.CourseStatusFailed,
	}); err != nil {
		s.log.Error("mark course failed", "course_id", job.CourseID, "error", err)
	}
	notif := types.UserNotificationJob{
		UserID: job.UserID,
		Type:   "course_generation_failed",
		Title:  "Course generation failed",
		Body:   "We could not finish generating your course. Our team has been notified.",
		Data:   map[string]any{"course_id": job.CourseID.String(), "stage": job.Stage},
	}
	if _, _, err := s.queue.Enqueue(ctx, nil, jobs.LaneNotification, types.JobTypeUserNotification, notif, jobs.EnqueueOpts{
		DedupKey: "coursefail:" + job.CourseID.String(),
	}); err != nil {
		s.log.Error("enqueue failure notification", "course_id", job.CourseID, "error", err)
	}
	s.log.Error("course generation exhausted retries", "course_id", job.CourseID, "stage", job.Stage, "error", cause)
}

func (s *courseGenerationService) enqueueNext(ctx context.Context, job types.CourseGenerationJob, next string) error {
	payload := types.CourseGenerationJob{CourseID: job.CourseID, UserID: job.UserID, Stage: next}
	_, _, err := s.queue.Enqueue(ctx, nil, jobs.LaneCourseGeneration, next, payload, jobs.EnqueueOpts{
		DedupKey: generationDedupKey(job.CourseID, next),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", next, err)
	}
	return nil
}

func generationDedupKey(courseID uuid.UUID, stage string) string {
	return "gen:" + courseID.String() + ":" + stage
}

// generateJSON consults the shared throttle window before calling the
// provider, and records any fresh 429 into it so sibling workers back off
// without burning their own calls.
func (s *courseGenerationService) generateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	win, err := s.limiter.Check(ctx, s.ai.Provider(), s.ai.Model())
	if err == nil && win.Throttled {
		return nil, &types.RateLimitError{
			Provider:   s.ai.Provider(),
			Model:      s.ai.Model(),
			RetryAfter: time.Duration(win.SecondsRemaining) * time.Second,
		}
	}
	out, err := s.ai.GenerateJSON(ctx, system, user, schemaName, schema)
	if err != nil {
		var rl *types.RateLimitError
		if errors.As(err, &rl) {
			if serr := s.limiter.Set(ctx, rl.Provider, rl.Model, int(math.Ceil(rl.RetryAfter.Seconds()))); serr != nil {
				s.log.Warn("record throttle window", "error", serr)
			}
		}
		return nil, err
	}
	return out, nil
}

func (s *courseGenerationService) loadCourse(ctx context.Context, id uuid.UUID) (*types.Course, error) {
	courses, err := s.courseRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("load course: %w", err)
	}
	if len(courses) == 0 || courses[0] == nil {
		return nil, fmt.Errorf("course %s not found", id)
	}
	return courses[0], nil
}

// ---- stage: outline ----

func (s *courseGenerationService) runOutline(ctx context.Context, job types.CourseGenerationJob) error {
	course, err := s.loadCourse(ctx, job.CourseID)
	if err != nil {
		return err
	}

	existing, err := s.sectionRepo.GetByCourseID(ctx, nil, course.ID)
	if err != nil {
		return fmt.Errorf("check existing sections: %w", err)
	}
	if len(existing) > 0 {
		// Replayed task after a crash between persist and enqueue.
		return s.enqueueNext(ctx, job, types.JobTypeArticleContent)
	}

	outlineSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"sections": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
						"article_titles": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required":             []string{"title", "description", "article_titles"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"title", "description", "sections"},
		"additionalProperties": false,
	}

	out, err := s.generateJSON(ctx,
		"You design structured online courses. Produce a course outline with 4-8 sections, each with 2-4 article titles, for the requested topic and level.",
		fmt.Sprintf("Topic: %s\nLevel: %s\nWorking title: %s\nNotes: %s", course.Topic, course.Level, course.Title, course.Description),
		"course_outline",
		outlineSchema,
	)
	if err != nil {
		return err
	}

	sectionsAny, ok := out["sections"].([]any)
	if !ok || len(sectionsAny) == 0 {
		return &types.ProviderError{Op: "course_outline", Err: fmt.Errorf("outline sections missing or wrong type")}
	}

	now := time.Now()
	sections := make([]*types.Section, 0, len(sectionsAny))
	articles := make([]*types.Article, 0)
	for i, raw := range sectionsAny {
		sm, ok := raw.(map[string]any)
		if !ok {
			return &types.ProviderError{Op: "course_outline", Err: fmt.Errorf("outline section %d wrong type", i)}
		}
		section := &types.Section{
			ID:          uuid.New(),
			CourseID:    course.ID,
			Index:       i,
			Title:       fmt.Sprint(sm["title"]),
			Description: fmt.Sprint(sm["description"]),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		sections = append(sections, section)
		for ai, at := range toStringSlice(sm["article_titles"]) {
			articles = append(articles, &types.Article{
				ID:        uuid.New(),
				SectionID: section.ID,
				CourseID:  course.ID,
				Index:     ai,
				Title:     at,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}
	if len(articles) == 0 {
		return &types.ProviderError{Op: "course_outline", Err: fmt.Errorf("outline produced no articles")}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.courseRepo.UpdateFields(ctx, tx, course.ID, map[string]any{
			"title":       fmt.Sprint(out["title"]),
			"description": fmt.Sprint(out["description"]),
		}); err != nil {
			return fmt.Errorf("update course from outline: %w", err)
		}
		if _, err := s.sectionRepo.Create(ctx, tx, sections); err != nil {
			return fmt.Errorf("create sections: %w", err)
		}
		if _, err := s.articleRepo.Create(ctx, tx, articles); err != nil {
			return fmt.Errorf("create article stubs: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("outline generated", "course_id", course.ID, "sections", len(sections), "articles", len(articles))
	return s.enqueueNext(ctx, job, types.JobTypeArticleContent)
}

// ---- stage: article content ----

func (s *courseGenerationService) runArticleContent(ctx context.Context, job types.CourseGenerationJob) error {
	course, err := s.loadCourse(ctx, job.CourseID)
	if err != nil {
		return err
	}
	all, err := s.articleRepo.GetByCourseID(ctx, nil, course.ID)
	if err != nil {
		return fmt.Errorf("load articles: %w", err)
	}

	pending := make([]*types.Article, 0, len(all))
	for _, a := range all {
		if a == nil {
			continue
		}
		if job.ArticleID != nil && a.ID != *job.ArticleID {
			continue
		}
		if a.ContentMD == "" || (job.RegenerateOnly && job.ArticleID != nil) {
			pending = append(pending, a)
		}
	}

	for _, a := range pending {
		if err := s.generateArticleBody(ctx, course, a); err != nil {
			return err
		}
	}

	if job.RegenerateOnly {
		return nil
	}
	return s.enqueueNext(ctx, job, types.JobTypeQuizGeneration)
}

func (s *courseGenerationService) generateArticleBody(ctx context.Context, course *types.Course, article *types.Article) error {
	articleSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content_md": map[string]any{"type": "string"},
			"summary_md": map[string]any{"type": "string"},
		},
		"required":             []string{"content_md", "summary_md"},
		"additionalProperties": false,
	}
	out, err := s.generateJSON(ctx,
		"You write thorough, readable course articles in Markdown, with a short summary. Stay on the article's title within the course topic.",
		fmt.Sprintf("Course: %s (level: %s)\nArticle title: %s", course.Title, course.Level, article.Title),
		"article_content",
		articleSchema,
	)
	if err != nil {
		return err
	}
	content := fmt.Sprint(out["content_md"])
	summary := fmt.Sprint(out["summary_md"])
	if strings.TrimSpace(content) == "" {
		return &types.ProviderError{Op: "article_content", Err: fmt.Errorf("empty article body for %s", article.ID)}
	}
	if err := s.articleRepo.UpdateFields(ctx, nil, article.ID, map[string]any{
		"content_md":     content,
		"summary_md":     summary,
		"content_length": len(content),
	}); err != nil {
		return fmt.Errorf("update article %s: %w", article.ID, err)
	}
	return nil
}

// ---- stage: section quizzes ----

func (s *courseGenerationService) runQuizGeneration(ctx context.Context, job types.CourseGenerationJob) error {
	course, err := s.loadCourse(ctx, job.CourseID)
	if err != nil {
		return err
	}
	sections, err := s.sectionRepo.GetByCourseID(ctx, nil, course.ID)
	if err != nil {
		return fmt.Errorf("load sections: %w", err)
	}

	sectionIDs := make([]uuid.UUID, 0, len(sections))
	for _, sec := range sections {
		if sec != nil {
			sectionIDs = append(sectionIDs, sec.ID)
		}
	}
	existing, err := s.quizRepo.GetBySectionIDs(ctx, nil, sectionIDs)
	if err != nil {
		return fmt.Errorf("load existing quizzes: %w", err)
	}
	hasQuiz := make(map[uuid.UUID]bool, len(existing))
	for _, q := range existing {
		if q != nil {
			hasQuiz[q.SectionID] = true
		}
	}

	articles, err := s.articleRepo.GetBySectionIDs(ctx, nil, sectionIDs)
	if err != nil {
		return fmt.Errorf("load articles: %w", err)
	}
	summariesBySection := make(map[uuid.UUID][]string)
	for _, a := range articles {
		if a == nil {
			continue
		}
		text := a.SummaryMD
		if text == "" {
			text = truncate(a.ContentMD, 2000)
		}
		summariesBySection[a.SectionID] = append(summariesBySection[a.SectionID], a.Title+"\n"+text)
	}

	for _, sec := range sections {
		if sec == nil {
			continue
		}
		if job.SectionID != nil && sec.ID != *job.SectionID {
			continue
		}
		if hasQuiz[sec.ID] {
			if job.RegenerateOnly && job.SectionID != nil {
				if err := s.quizRepo.DeleteBySectionID(ctx, nil, sec.ID); err != nil {
					return fmt.Errorf("clear quiz for section %s: %w", sec.ID, err)
				}
			} else {
				continue
			}
		}
		if err := s.generateSectionQuiz(ctx, course, sec, summariesBySection[sec.ID]); err != nil {
			return err
		}
	}

	if job.RegenerateOnly {
		return nil
	}
	return s.enqueueNext(ctx, job, types.JobTypeFinalExamBank)
}

func (s *courseGenerationService) generateSectionQuiz(ctx context.Context, course *types.Course, section *types.Section, material []string) error {
	quizSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"prompt_md":      map[string]any{"type": "string"},
						"options":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"correct_index":  map[string]any{"type": "integer"},
						"explanation_md": map[string]any{"type": "string"},
					},
					"required":             []string{"prompt_md", "options", "correct_index", "explanation_md"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"questions"},
		"additionalProperties": false,
	}
	out, err := s.generateJSON(ctx,
		"You write fair multiple-choice quiz questions grounded strictly in the provided section material. Four options each, exactly one correct.",
		fmt.Sprintf("Section: %s\n\n%s\n\nGenerate %d multiple-choice questions.", section.Title, strings.Join(material, "\n\n"), questionsPerSectionQuiz),
		"section_quiz",
		quizSchema,
	)
	if err != nil {
		return err
	}
	qsAny, ok := out["questions"].([]any)
	if !ok || len(qsAny) == 0 {
		return &types.ProviderError{Op: "quiz_generation", Err: fmt.Errorf("quiz questions missing for section %s", section.ID)}
	}

	now := time.Now()
	questions := make([]*types.QuizQuestion, 0, len(qsAny))
	for qi, raw := range qsAny {
		qm, ok := raw.(map[string]any)
		if !ok {
			return &types.ProviderError{Op: "quiz_generation", Err: fmt.Errorf("quiz question %d wrong type", qi)}
		}
		opts := toStringSlice(qm["options"])
		correct := intFromAny(qm["correct_index"], 0)
		if correct < 0 || correct >= len(opts) {
			correct = 0
		}
		questions = append(questions, &types.QuizQuestion{
			ID:            uuid.New(),
			SectionID:     section.ID,
			CourseID:      course.ID,
			Index:         qi,
			PromptMD:      fmt.Sprint(qm["prompt_md"]),
			Options:       datatypes.JSON(mustJSON(opts)),
			CorrectIndex:  correct,
			ExplanationMD: fmt.Sprint(qm["explanation_md"]),
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if _, err := s.quizRepo.Create(ctx, nil, questions); err != nil {
		return fmt.Errorf("create quiz for section %s: %w", section.ID, err)
	}
	return nil
}

// ---- stage: final exam bank ----

func (s *courseGenerationService) runFinalExamBank(ctx context.Context, job types.CourseGenerationJob) error {
	course, err := s.loadCourse(ctx, job.CourseID)
	if err != nil {
		return err
	}

	// The bank is generated once and never mutated afterwards.
	count, err := s.bankRepo.CountByCourseID(ctx, nil, course.ID)
	if err != nil {
		return fmt.Errorf("count bank: %w", err)
	}
	if count > 0 {
		return s.enqueueNext(ctx, job, types.JobTypeVideoEnhancement)
	}

	sections, err := s.sectionRepo.GetByCourseID(ctx, nil, course.ID)
	if err != nil {
		return fmt.Errorf("load sections: %w", err)
	}
	var outline strings.Builder
	for _, sec := range sections {
		if sec != nil {
			fmt.Fprintf(&outline, "- %s: %s\n", sec.Title, sec.Description)
		}
	}

	bankSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_type":  map[string]any{"type": "string", "enum": []string{types.QuestionTypeMultipleChoice, types.QuestionTypeTrueFalse, types.QuestionTypeFillInBlank, types.QuestionTypeEssay}},
						"text":           map[string]any{"type": "string"},
						"options":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"correct_answer": map[string]any{"type": "string"},
						"key_points":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"points":         map[string]any{"type": "number"},
					},
					"required":             []string{"question_type", "text", "correct_answer", "points"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"questions"},
		"additionalProperties": false,
	}
	out, err := s.generateJSON(ctx,
		"You build comprehensive final-exam question pools. Mix MULTIPLE_CHOICE, TRUE_FALSE, FILL_IN_BLANK and a handful of ESSAY questions with key_points. Produce at least 30 questions covering the whole course.",
		fmt.Sprintf("Course: %s (level: %s)\nOutline:\n%s", course.Title, course.Level, outline.String()),
		"final_exam_bank",
		bankSchema,
	)
	if err != nil {
		return err
	}
	qsAny, ok := out["questions"].([]any)
	if !ok || len(qsAny) == 0 {
		return &types.ProviderError{Op: "final_exam_bank", Err: fmt.Errorf("bank questions missing")}
	}

	now := time.Now()
	items := make([]*types.QuestionBankItem, 0, len(qsAny))
	for qi, raw := range qsAny {
		qm, ok := raw.(map[string]any)
		if !ok {
			return &types.ProviderError{Op: "final_exam_bank", Err: fmt.Errorf("bank question %d wrong type", qi)}
		}
		qt := fmt.Sprint(qm["question_type"])
		points := floatFromAny(qm["points"], 1)
		if points <= 0 {
			points = 1
		}
		item := &types.QuestionBankItem{
			ID:            uuid.New(),
			CourseID:      course.ID,
			QuestionType:  qt,
			Text:          fmt.Sprint(qm["text"]),
			CorrectAnswer: fmt.Sprint(qm["correct_answer"]),
			Points:        points,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if opts := toStringSlice(qm["options"]); len(opts) > 0 {
			item.Options = datatypes.JSON(mustJSON(opts))
		}
		if kps := toStringSlice(qm["key_points"]); len(kps) > 0 {
			item.KeyPoints = datatypes.JSON(mustJSON(kps))
		}
		items = append(items, item)
	}
	if _, err := s.bankRepo.Create(ctx, nil, items); err != nil {
		return fmt.Errorf("create question bank: %w", err)
	}

	s.log.Info("final exam bank generated", "course_id", course.ID, "questions", len(items))
	return s.enqueueNext(ctx, job, types.JobTypeVideoEnhancement)
}

// ---- stage: video enhancement ----

func (s *courseGenerationService) runVideoEnhancement(ctx context.Context, job types.CourseGenerationJob) error {
	course, err := s.loadCourse(ctx, job.CourseID)
	if err != nil {
		return err
	}
	articles, err := s.articleRepo.GetByCourseID(ctx, nil, course.ID)
	if err != nil {
		return fmt.Errorf("load articles: %w", err)
	}

	videoSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"search_terms": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"caption":      map[string]any{"type": "string"},
		},
		"required":             []string{"search_terms", "caption"},
		"additionalProperties": false,
	}
	for _, a := range articles {
		if a == nil || len(a.VideoMetadata) > 0 {
			continue
		}
		out, err := s.generateJSON(ctx,
			"You suggest video search terms and a one-line caption for a course article.",
			fmt.Sprintf("Course: %s\nArticle: %s\nSummary: %s", course.Title, a.Title, truncate(a.SummaryMD, 1000)),
			"video_enhancement",
			videoSchema,
		)
		if err != nil {
			return err
		}
		meta := map[string]any{
			"search_terms": toStringSlice(out["search_terms"]),
			"caption":      fmt.Sprint(out["caption"]),
		}
		if err := s.articleRepo.UpdateFields(ctx, nil, a.ID, map[string]any{
			"video_metadata": datatypes.JSON(mustJSON(meta)),
		}); err != nil {
			return fmt.Errorf("update article video metadata: %w", err)
		}
	}

	if err := s.courseRepo.UpdateFields(ctx, nil, course.ID, map[string]any{
		"status": types.CourseStatusReady,
	}); err != nil {
		return fmt.Errorf("mark course ready: %w", err)
	}

	notif := types.UserNotificationJob{
		UserID: job.UserID,
		Type:   "course_ready",
		Title:  "Your course is ready",
		Body:   fmt.Sprintf("%q has finished generating.", course.Title),
		Data:   map[string]any{"course_id": course.ID.String()},
	}
	if _, _, err := s.queue.Enqueue(ctx, nil, jobs.LaneNotification, types.JobTypeUserNotification, notif, jobs.EnqueueOpts{
		DedupKey: "courseready:" + course.ID.String(),
	}); err != nil {
		s.log.Warn("enqueue ready notification", "course_id", course.ID, "error", err)
	}

	s.log.Info("course ready", "course_id", course.ID)
	return nil
}

// ---- shared helpers ----

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func toStringSlice(v any) []string {
	if v == nil {
		return []string{}
	}
	a, ok := v.([]any)
	if !ok {
		if ss, ok2 := v.([]string); ok2 {
			return ss
		}
		return []string{}
	}
	out := make([]string, 0, len(a))
	for _, x := range a {
		out = append(out, fmt.Sprint(x))
	}
	return out
}

func intFromAny(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case json.Number:
		i, _ := t.Int64()
		return int(i)
	default:
		return def
	}
}

func floatFromAny(v any, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return def
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
