package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/jobs"
	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

// ExamConfig holds the exam engine's policy knobs. Defaults mirror the
// platform's standing policy; none of them are compile-time behavior.
type ExamConfig struct {
	QuestionCount        int
	MinEssays            int
	MaxEssays            int
	CompletionThreshold  float64 // percent of articles completed
	EngagementThreshold  float64 // engagement final score
	MinQuizAverage       float64 // 0 disables the check
	PassMarkPercent      float64
	Cooldown             time.Duration
	EssayPassingFraction float64 // normalized essay score needed for is_correct
	EssayFallbackCredit  float64 // fraction of max points granted when grading fails
	EssayGradingParallel int
}

func DefaultExamConfig() ExamConfig {
	return ExamConfig{
		QuestionCount:        25,
		MinEssays:            1,
		MaxEssays:            2,
		CompletionThreshold:  85,
		EngagementThreshold:  75,
		MinQuizAverage:       0,
		PassMarkPercent:      70,
		Cooldown:             24 * time.Hour,
		EssayPassingFraction: 0.6,
		EssayFallbackCredit:  0.5,
		EssayGradingParallel: 4,
	}
}

// Essay grading resolves to exactly one of these two branches; the fallback
// is a first-class outcome, not an error path.
const (
	EssayOutcomeGraded                = "graded"
	EssayOutcomeGradingFailedFallback = "grading_failed_fallback"
)

// EssayGrade is the resolution of one essay answer.
type EssayGrade struct {
	Outcome      string
	Score        float64 // normalized [0,1]
	Points       float64
	Correct      bool
	Feedback     string
	FailureCause string // set only on the fallback branch
}

type AnswerFeedback struct {
	IsCorrect       *bool   `json:"is_correct"`
	PointsEarned    float64 `json:"points_earned"`
	Explanation     string  `json:"explanation,omitempty"`
	RequiresGrading bool    `json:"requires_grading"`
}

type SubmitResult struct {
	Score              float64                      `json:"score"`
	Passed             bool                         `json:"passed"`
	Feedback           map[uuid.UUID]AnswerFeedback `json:"feedback"`
	PassMarkPercentage float64                      `json:"pass_mark_percentage"`
	TotalQuestions     int                          `json:"total_questions"`
	EssayQuestions     int                          `json:"essay_questions"`
	CanRetakeAt        *time.Time                   `json:"can_retake_at,omitempty"`
}

type ExamStatus struct {
	CanTake         bool       `json:"can_take"`
	Reason          string     `json:"reason,omitempty"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
	Attempts        int        `json:"attempts"`
	BestScore       *float64   `json:"best_score,omitempty"`
	Passed          bool       `json:"passed"`
	EngagementScore float64    `json:"engagement_score"`
	CourseProgress  float64    `json:"course_progress"`
}

type ExamService interface {
	GenerateSession(ctx context.Context, userID, courseID uuid.UUID) (*types.ExamSession, []*types.QuestionBankItem, error)
	SubmitSession(ctx context.Context, userID, sessionID uuid.UUID, answers map[uuid.UUID]string) (*SubmitResult, error)
	Status(ctx context.Context, userID, courseID uuid.UUID) (*ExamStatus, error)
}

type examService struct {
	db  *gorm.DB
	log *logger.Logger
	cfg ExamConfig

	bankRepo    repos.QuestionBankRepo
	sessionRepo repos.ExamSessionRepo
	answerRepo  repos.ExamAnswerRepo
	attemptRepo repos.QuizAttemptRepo

	engagement EngagementService
	certs      CertificateIssuer
	ai         CompletionClient
	queue      *jobs.Queue

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewExamService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg ExamConfig,
	bankRepo repos.QuestionBankRepo,
	sessionRepo repos.ExamSessionRepo,
	answerRepo repos.ExamAnswerRepo,
	attemptRepo repos.QuizAttemptRepo,
	engagement EngagementService,
	certs CertificateIssuer,
	ai CompletionClient,
	queue *jobs.Queue,
	rng *rand.Rand,
) ExamService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &examService{
		db:          db,
		log:         baseLog.With("service", "ExamService"),
		cfg:         cfg,
		bankRepo:    bankRepo,
		sessionRepo: sessionRepo,
		answerRepo:  answerRepo,
		attemptRepo: attemptRepo,
		engagement:  engagement,
		certs:       certs,
		ai:          ai,
		queue:       queue,
		rng:         rng,
	}
}

// checkEligibility returns nil when every configured gate passes, otherwise
// an EligibilityError naming the first unmet condition.
func (s *examService) checkEligibility(ctx context.Context, userID, courseID uuid.UUID) error {
	completion, err := s.engagement.CompletionPercent(ctx, userID, courseID)
	if err != nil {
		return fmt.Errorf("course completion: %w", err)
	}
	if completion < s.cfg.CompletionThreshold {
		return &types.EligibilityError{Condition: "course completion", Current: completion, Required: s.cfg.CompletionThreshold}
	}

	breakdown, err := s.engagement.ScoreForCourse(ctx, userID, courseID)
	if err != nil {
		return fmt.Errorf("engagement score: %w", err)
	}
	if breakdown.FinalScore < s.cfg.EngagementThreshold {
		return &types.EligibilityError{Condition: "engagement score", Current: breakdown.FinalScore, Required: s.cfg.EngagementThreshold}
	}

	if s.cfg.MinQuizAverage > 0 {
		avg, err := s.sectionQuizAverage(ctx, userID, courseID)
		if err != nil {
			return fmt.Errorf("quiz average: %w", err)
		}
		if avg < s.cfg.MinQuizAverage {
			return &types.EligibilityError{Condition: "section quiz average", Current: avg, Required: s.cfg.MinQuizAverage}
		}
	}
	return nil
}

func (s *examService) sectionQuizAverage(ctx context.Context, userID, courseID uuid.UUID) (float64, error) {
	attempts, err := s.attemptRepo.GetByUserCourse(ctx, nil, userID, courseID)
	if err != nil {
		return 0, err
	}
	var scores []float64
	for _, a := range attempts {
		if a != nil && a.Kind == types.QuizAttemptKindSection {
			scores = append(scores, a.ScorePercent)
		}
	}
	return mean(scores), nil
}

func (s *examService) GenerateSession(ctx context.Context, userID, courseID uuid.UUID) (*types.ExamSession, []*types.QuestionBankItem, error) {
	if err := s.checkEligibility(ctx, userID, courseID); err != nil {
		return nil, nil, err
	}

	prior, err := s.sessionRepo.GetByUserCourse(ctx, nil, userID, courseID)
	if err != nil {
		return nil, nil, fmt.Errorf("load prior sessions: %w", err)
	}
	now := time.Now()
	for _, sess := range prior {
		if sess != nil && sess.Passed != nil && *sess.Passed {
			return nil, nil, types.ErrExamAlreadyPassed
		}
	}
	for _, sess := range prior {
		if sess == nil {
			continue
		}
		// An open session is resumed, never duplicated.
		if sess.Status == types.ExamSessionStatusInProgress {
			questions, err := s.sessionQuestions(ctx, sess.ID)
			if err != nil {
				return nil, nil, err
			}
			return sess, questions, nil
		}
		if sess.CanRetakeAt != nil && sess.CanRetakeAt.After(now) {
			return nil, nil, &types.CooldownError{CanRetakeAt: *sess.CanRetakeAt}
		}
	}

	pool, err := s.bankRepo.GetByCourseID(ctx, nil, courseID)
	if err != nil {
		return nil, nil, fmt.Errorf("load question bank: %w", err)
	}
	s.rngMu.Lock()
	drawn, err := DrawExamQuestions(pool, s.cfg.QuestionCount, s.cfg.MinEssays, s.cfg.MaxEssays, s.rng)
	s.rngMu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	var totalPoints float64
	for _, q := range drawn {
		totalPoints += q.Points
	}

	session := &types.ExamSession{
		ID:          uuid.New(),
		UserID:      userID,
		CourseID:    courseID,
		Status:      types.ExamSessionStatusInProgress,
		StartedAt:   now,
		TotalPoints: totalPoints,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	snapshot := make([]*types.ExamQuestion, 0, len(drawn))
	for i, q := range drawn {
		snapshot = append(snapshot, &types.ExamQuestion{
			ID:             uuid.New(),
			SessionID:      session.ID,
			BankQuestionID: q.ID,
			OrderIndex:     i,
			CreatedAt:      now,
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.sessionRepo.Create(ctx, tx, []*types.ExamSession{session}); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if _, err := s.sessionRepo.CreateQuestions(ctx, tx, snapshot); err != nil {
			return fmt.Errorf("snapshot questions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("exam session created", "session_id", session.ID, "user_id", userID, "course_id", courseID, "questions", len(drawn))
	return session, drawn, nil
}

// DrawExamQuestions assembles one session's question set: 1 or 2 essays
// (uniform within [minEssays, maxEssays], bounded by availability), the
// remainder from the non-essay pool, presentation order shuffled. Fails with
// InsufficientBankError when the whole pool is smaller than count.
func DrawExamQuestions(pool []*types.QuestionBankItem, count, minEssays, maxEssays int, rng *rand.Rand) ([]*types.QuestionBankItem, error) {
	valid := make([]*types.QuestionBankItem, 0, len(pool))
	for _, q := range pool {
		if q != nil {
			valid = append(valid, q)
		}
	}
	if len(valid) < count {
		var courseID uuid.UUID
		if len(valid) > 0 {
			courseID = valid[0].CourseID
		}
		return nil, &types.InsufficientBankError{CourseID: courseID, Have: len(valid), Need: count}
	}

	var essays, others []*types.QuestionBankItem
	for _, q := range valid {
		if q.QuestionType == types.QuestionTypeEssay {
			essays = append(essays, q)
		} else {
			others = append(others, q)
		}
	}

	essayCount := minEssays
	if maxEssays > minEssays {
		essayCount = minEssays + rng.Intn(maxEssays-minEssays+1)
	}
	if essayCount > len(essays) {
		essayCount = len(essays)
	}
	if essayCount > count {
		essayCount = count
	}

	rng.Shuffle(len(essays), func(i, j int) { essays[i], essays[j] = essays[j], essays[i] })
	rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })

	drawn := make([]*types.QuestionBankItem, 0, count)
	drawn = append(drawn, essays[:essayCount]...)
	remainder := count - essayCount
	if remainder > len(others) {
		// Pool is essay-heavy; top up from the unused essays.
		drawn = append(drawn, others...)
		drawn = append(drawn, essays[essayCount:essayCount+remainder-len(others)]...)
	} else {
		drawn = append(drawn, others[:remainder]...)
	}

	rng.Shuffle(len(drawn), func(i, j int) { drawn[i], drawn[j] = drawn[j], drawn[i] })
	return drawn, nil
}

func (s *examService) sessionQuestions(ctx context.Context, sessionID uuid.UUID) ([]*types.QuestionBankItem, error) {
	snapshot, err := s.sessionRepo.GetQuestionsBySessionID(ctx, nil, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session questions: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(snapshot))
	for _, q := range snapshot {
		if q != nil {
			ids = append(ids, q.BankQuestionID)
		}
	}
	items, err := s.bankRepo.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, fmt.Errorf("load bank items: %w", err)
	}
	byID := make(map[uuid.UUID]*types.QuestionBankItem, len(items))
	for _, it := range items {
		if it != nil {
			byID[it.ID] = it
		}
	}
	ordered := make([]*types.QuestionBankItem, 0, len(snapshot))
	for _, q := range snapshot {
		if q == nil {
			continue
		}
		if it, ok := byID[q.BankQuestionID]; ok {
			ordered = append(ordered, it)
		}
	}
	return ordered, nil
}

func (s *examService) SubmitSession(ctx context.Context, userID, sessionID uuid.UUID, answers map[uuid.UUID]string) (*SubmitResult, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, gorm.ErrRecordNotFound
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("session %s does not belong to user", sessionID)
	}
	if session.CompletedAt != nil || session.Status == types.ExamSessionStatusGraded {
		return nil, fmt.Errorf("session %s already submitted", sessionID)
	}

	questions, err := s.sessionQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	records := make([]*types.ExamAnswer, 0, len(questions))
	var essayAnswers []*types.ExamAnswer
	questionByID := make(map[uuid.UUID]*types.QuestionBankItem, len(questions))
	essayCount := 0

	for _, q := range questions {
		questionByID[q.ID] = q
		userAnswer := answers[q.ID]
		rec := &types.ExamAnswer{
			ID:             uuid.New(),
			SessionID:      sessionID,
			BankQuestionID: q.ID,
			UserAnswer:     userAnswer,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if q.QuestionType == types.QuestionTypeEssay {
			// Pending state: graded after the deterministic pass.
			essayCount++
			essayAnswers = append(essayAnswers, rec)
		} else {
			correct := scoreDeterministic(q, userAnswer)
			points := 0.0
			if correct {
				points = q.Points
			}
			rec.IsCorrect = &correct
			rec.PointsEarned = &points
		}
		records = append(records, rec)
	}

	// Essays are graded before anything is persisted: the fallback branch
	// guarantees a grade for every answer, so nothing below blocks on the
	// provider inside a transaction.
	grades := s.gradeEssays(ctx, essayAnswers, questionByID)
	for _, rec := range essayAnswers {
		grade := grades[rec.ID]
		correct := grade.Correct
		points := grade.Points
		gradingJSON := map[string]any{
			"outcome": grade.Outcome,
			"score":   grade.Score,
			"points":  grade.Points,
		}
		if grade.Feedback != "" {
			gradingJSON["feedback"] = grade.Feedback
		}
		if grade.FailureCause != "" {
			gradingJSON["error"] = grade.FailureCause
		}
		rec.IsCorrect = &correct
		rec.PointsEarned = &points
		rec.AIGrading = datatypes.JSON(mustJSON(gradingJSON))
	}

	var earned float64
	for _, rec := range records {
		if rec.PointsEarned != nil {
			earned += *rec.PointsEarned
		}
	}
	score := 0.0
	if session.TotalPoints > 0 {
		score = 100 * earned / session.TotalPoints
	}
	passed := score >= s.cfg.PassMarkPercent

	completedAt := time.Now()
	updates := map[string]any{
		"status":       types.ExamSessionStatusGraded,
		"completed_at": completedAt,
		"score":        score,
		"passed":       passed,
	}
	var canRetakeAt *time.Time
	if !passed {
		t := completedAt.Add(s.cfg.Cooldown)
		canRetakeAt = &t
		updates["can_retake_at"] = t
	}

	// The full answer batch and the graded session land in one transaction.
	// A submission that crashed mid-write left the session in progress; the
	// delete clears its partial rows before the retry's batch goes in.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.answerRepo.DeleteBySessionID(ctx, tx, sessionID); err != nil {
			return fmt.Errorf("clear stale answers: %w", err)
		}
		if _, err := s.answerRepo.Create(ctx, tx, records); err != nil {
			return fmt.Errorf("record answers: %w", err)
		}
		if err := s.sessionRepo.UpdateFields(ctx, tx, sessionID, updates); err != nil {
			return fmt.Errorf("grade session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordFinalAttempt(ctx, session, score)

	if passed {
		// Certificate issuance must never fail the submission.
		if _, err := s.certs.Issue(ctx, session.UserID, session.CourseID, score); err != nil {
			s.log.Error("certificate issuance failed", "session_id", sessionID, "error", err)
		}
		s.notifyPassed(ctx, session, score)
	}

	feedback := make(map[uuid.UUID]AnswerFeedback, len(records))
	for _, rec := range records {
		q := questionByID[rec.BankQuestionID]
		fb := AnswerFeedback{
			IsCorrect:       rec.IsCorrect,
			RequiresGrading: q.QuestionType == types.QuestionTypeEssay,
		}
		if rec.PointsEarned != nil {
			fb.PointsEarned = *rec.PointsEarned
		}
		if q.QuestionType == types.QuestionTypeEssay {
			if g, ok := grades[rec.ID]; ok {
				fb.Explanation = g.Feedback
			}
		} else if rec.IsCorrect != nil && !*rec.IsCorrect {
			fb.Explanation = "Correct answer: " + q.CorrectAnswer
		}
		feedback[rec.BankQuestionID] = fb
	}

	s.log.Info("exam graded", "session_id", sessionID, "score", score, "passed", passed)
	return &SubmitResult{
		Score:              score,
		Passed:             passed,
		Feedback:           feedback,
		PassMarkPercentage: s.cfg.PassMarkPercent,
		TotalQuestions:     len(questions),
		EssayQuestions:     essayCount,
		CanRetakeAt:        canRetakeAt,
	}, nil
}

// scoreDeterministic compares a non-essay answer against the stored correct
// answer: exact case-insensitive for choice questions, trimmed for
// fill-in-the-blank.
func scoreDeterministic(q *types.QuestionBankItem, userAnswer string) bool {
	switch q.QuestionType {
	case types.QuestionTypeMultipleChoice, types.QuestionTypeTrueFalse:
		return strings.EqualFold(userAnswer, q.CorrectAnswer)
	case types.QuestionTypeFillInBlank:
		return strings.EqualFold(strings.TrimSpace(userAnswer), strings.TrimSpace(q.CorrectAnswer))
	default:
		return false
	}
}

// gradeEssays resolves every pending essay in parallel. Each answer gets a
// grade record even on provider failure, so the session can always complete.
func (s *examService) gradeEssays(ctx context.Context, essays []*types.ExamAnswer, questionByID map[uuid.UUID]*types.QuestionBankItem) map[uuid.UUID]EssayGrade {
	grades := make(map[uuid.UUID]EssayGrade, len(essays))
	if len(essays) == 0 {
		return grades
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EssayGradingParallel)
	for _, rec := range essays {
		g.Go(func() error {
			q := questionByID[rec.BankQuestionID]
			grade := s.gradeOneEssay(gctx, q, rec.UserAnswer)
			mu.Lock()
			grades[rec.ID] = grade
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return grades
}

func (s *examService) gradeOneEssay(ctx context.Context, q *types.QuestionBankItem, userAnswer string) EssayGrade {
	gradeSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score":          map[string]any{"type": "number"},
			"points_awarded": map[string]any{"type": "number"},
			"feedback":       map[string]any{"type": "string"},
		},
		"required":             []string{"score", "feedback"},
		"additionalProperties": false,
	}
	keyPoints := strings.Join(jsonStringSlice(q.KeyPoints), "; ")
	out, err := s.ai.GenerateJSON(ctx,
		"You grade a student's essay answer against the question and its key points. Return score as a fraction of full credit in [0,1], optionally points_awarded out of the stated maximum, and one short paragraph of feedback.",
		fmt.Sprintf("Question: %s\nKey points: %s\nMax points: %.1f\n\nStudent answer:\n%s", q.Text, keyPoints, q.Points, userAnswer),
		"essay_grade",
		gradeSchema,
	)
	if err != nil {
		// Availability over precision: grading outages grant half credit and
		// never block exam completion. The failure is kept for audit.
		s.log.Warn("essay grading failed, applying fallback credit", "question_id", q.ID, "error", err)
		return EssayGrade{
			Outcome:      EssayOutcomeGradingFailedFallback,
			Score:        s.cfg.EssayFallbackCredit,
			Points:       s.cfg.EssayFallbackCredit * q.Points,
			Correct:      true,
			FailureCause: err.Error(),
		}
	}

	score := floatFromAny(out["score"], 0)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	points := score * q.Points
	if raw, ok := out["points_awarded"]; ok {
		direct := floatFromAny(raw, -1)
		if direct >= 0 {
			if direct > q.Points {
				direct = q.Points
			}
			points = direct
		}
	}
	return EssayGrade{
		Outcome:  EssayOutcomeGraded,
		Score:    score,
		Points:   points,
		Correct:  score >= s.cfg.EssayPassingFraction,
		Feedback: fmt.Sprint(out["feedback"]),
	}
}

// recordFinalAttempt feeds the exam result back into the engagement signals.
func (s *examService) recordFinalAttempt(ctx context.Context, session *types.ExamSession, score float64) {
	now := time.Now()
	attempt := &types.QuizAttempt{
		ID:           uuid.New(),
		UserID:       session.UserID,
		CourseID:     session.CourseID,
		Kind:         types.QuizAttemptKindFinal,
		ScorePercent: score,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.attemptRepo.Create(ctx, nil, []*types.QuizAttempt{attempt}); err != nil {
		s.log.Warn("record final attempt", "session_id", session.ID, "error", err)
	}
}

func (s *examService) notifyPassed(ctx context.Context, session *types.ExamSession, score float64) {
	notif := types.UserNotificationJob{
		UserID: session.UserID,
		Type:   "exam_passed",
		Title:  "Final exam passed",
		Body:   fmt.Sprintf("You passed the final exam with %.1f%%. Your certificate is ready.", score),
		Data:   map[string]any{"course_id": session.CourseID.String(), "session_id": session.ID.String()},
	}
	if _, _, err := s.queue.Enqueue(ctx, nil, jobs.LaneNotification, types.JobTypeUserNotification, notif, jobs.EnqueueOpts{
		DedupKey: "exampass:" + session.ID.String(),
	}); err != nil {
		s.log.Warn("enqueue pass notification", "session_id", session.ID, "error", err)
	}
}

func (s *examService) Status(ctx context.Context, userID, courseID uuid.UUID) (*ExamStatus, error) {
	sessions, err := s.sessionRepo.GetByUserCourse(ctx, nil, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	status := &ExamStatus{}
	now := time.Now()
	for _, sess := range sessions {
		if sess == nil {
			continue
		}
		if sess.Status == types.ExamSessionStatusGraded {
			status.Attempts++
			if sess.Score != nil && (status.BestScore == nil || *sess.Score > *status.BestScore) {
				status.BestScore = sess.Score
			}
			if sess.Passed != nil && *sess.Passed {
				status.Passed = true
			}
		}
		if sess.CanRetakeAt != nil && sess.CanRetakeAt.After(now) {
			status.NextAttemptAt = sess.CanRetakeAt
		}
	}

	completion, err := s.engagement.CompletionPercent(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("course completion: %w", err)
	}
	status.CourseProgress = completion
	breakdown, err := s.engagement.ScoreForCourse(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("engagement score: %w", err)
	}
	status.EngagementScore = breakdown.FinalScore

	switch {
	case status.Passed:
		status.CanTake = false
		status.Reason = "already passed"
	case status.NextAttemptAt != nil:
		status.CanTake = false
		status.Reason = "retake cooldown active"
	default:
		if err := s.checkEligibility(ctx, userID, courseID); err != nil {
			var elig *types.EligibilityError
			if errors.As(err, &elig) {
				status.CanTake = false
				status.Reason = elig.Error()
			} else {
				return nil, err
			}
		} else {
			status.CanTake = true
		}
	}
	return status, nil
}

func jsonStringSlice(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
