package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/jobs"
	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

func makeBank(courseID uuid.UUID, nonEssays, essays int) []*types.QuestionBankItem {
	now := time.Now()
	pool := make([]*types.QuestionBankItem, 0, nonEssays+essays)
	for i := 0; i < nonEssays; i++ {
		pool = append(pool, &types.QuestionBankItem{
			ID:            uuid.New(),
			CourseID:      courseID,
			QuestionType:  types.QuestionTypeMultipleChoice,
			Text:          fmt.Sprintf("mc question %d", i),
			CorrectAnswer: "A",
			Points:        1,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	for i := 0; i < essays; i++ {
		pool = append(pool, &types.QuestionBankItem{
			ID:            uuid.New(),
			CourseID:      courseID,
			QuestionType:  types.QuestionTypeEssay,
			Text:          fmt.Sprintf("essay question %d", i),
			CorrectAnswer: "",
			Points:        4,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return pool
}

func TestDrawExamQuestions(t *testing.T) {
	courseID := uuid.New()

	t.Run("always_25_with_1_or_2_essays", func(t *testing.T) {
		pool := makeBank(courseID, 23, 2)
		for seed := int64(0); seed < 50; seed++ {
			rng := rand.New(rand.NewSource(seed))
			drawn, err := DrawExamQuestions(pool, 25, 1, 2, rng)
			if err != nil {
				t.Fatalf("seed %d: %v", seed, err)
			}
			if len(drawn) != 25 {
				t.Fatalf("seed %d: drew %d questions, want 25", seed, len(drawn))
			}
			essays := 0
			seen := map[uuid.UUID]bool{}
			for _, q := range drawn {
				if seen[q.ID] {
					t.Fatalf("seed %d: question %s drawn twice", seed, q.ID)
				}
				seen[q.ID] = true
				if q.QuestionType == types.QuestionTypeEssay {
					essays++
				}
			}
			if essays < 1 || essays > 2 {
				t.Fatalf("seed %d: %d essays, want 1 or 2", seed, essays)
			}
		}
	})

	t.Run("large_pool", func(t *testing.T) {
		pool := makeBank(courseID, 60, 10)
		rng := rand.New(rand.NewSource(7))
		drawn, err := DrawExamQuestions(pool, 25, 1, 2, rng)
		if err != nil {
			t.Fatalf("draw: %v", err)
		}
		if len(drawn) != 25 {
			t.Fatalf("drew %d, want 25", len(drawn))
		}
	})

	t.Run("insufficient_bank", func(t *testing.T) {
		pool := makeBank(courseID, 22, 2)
		rng := rand.New(rand.NewSource(1))
		_, err := DrawExamQuestions(pool, 25, 1, 2, rng)
		var bank *types.InsufficientBankError
		if !errors.As(err, &bank) {
			t.Fatalf("got %v, want InsufficientBankError", err)
		}
		if bank.Have != 24 || bank.Need != 25 {
			t.Fatalf("error reports have=%d need=%d, want 24/25", bank.Have, bank.Need)
		}
	})
}

func TestScoreDeterministic(t *testing.T) {
	cases := []struct {
		name    string
		qType   string
		correct string
		answer  string
		want    bool
	}{
		{name: "mc_exact", qType: types.QuestionTypeMultipleChoice, correct: "B", answer: "B", want: true},
		{name: "mc_case_insensitive", qType: types.QuestionTypeMultipleChoice, correct: "b", answer: "B", want: true},
		{name: "mc_wrong", qType: types.QuestionTypeMultipleChoice, correct: "B", answer: "C", want: false},
		{name: "mc_no_trimming", qType: types.QuestionTypeMultipleChoice, correct: "B", answer: " B ", want: false},
		{name: "tf_case_insensitive", qType: types.QuestionTypeTrueFalse, correct: "True", answer: "true", want: true},
		{name: "fib_trimmed", qType: types.QuestionTypeFillInBlank, correct: "goroutine", answer: "  Goroutine ", want: true},
		{name: "fib_wrong", qType: types.QuestionTypeFillInBlank, correct: "goroutine", answer: "thread", want: false},
		{name: "essay_never_deterministic", qType: types.QuestionTypeEssay, correct: "", answer: "anything", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := &types.QuestionBankItem{QuestionType: tc.qType, CorrectAnswer: tc.correct}
			if got := scoreDeterministic(q, tc.answer); got != tc.want {
				t.Fatalf("scoreDeterministic(%s, %q)=%v, want %v", tc.qType, tc.answer, got, tc.want)
			}
		})
	}
}

func TestGradeOneEssay(t *testing.T) {
	question := &types.QuestionBankItem{
		ID:           uuid.New(),
		QuestionType: types.QuestionTypeEssay,
		Text:         "Explain backpressure.",
		Points:       4,
	}

	newSvc := func(fake *fakeCompletion) *examService {
		return &examService{
			log: logger.NewNop(),
			cfg: DefaultExamConfig(),
			ai:  fake,
		}
	}

	t.Run("prefers_direct_point_award", func(t *testing.T) {
		svc := newSvc(&fakeCompletion{t: t, generateJSON: func(system, user, schemaName string) (map[string]any, error) {
			return map[string]any{"score": 0.85, "points_awarded": 3.4, "feedback": "solid"}, nil
		}})
		grade := svc.gradeOneEssay(context.Background(), question, "an answer")
		if grade.Outcome != EssayOutcomeGraded {
			t.Fatalf("outcome=%s, want graded", grade.Outcome)
		}
		if !grade.Correct {
			t.Fatalf("score 0.85 with passing fraction 0.6 must be correct")
		}
		if !almostEqual(grade.Points, 3.4) {
			t.Fatalf("points=%v, want 3.4", grade.Points)
		}
	})

	t.Run("derives_points_from_score", func(t *testing.T) {
		svc := newSvc(&fakeCompletion{t: t, generateJSON: func(system, user, schemaName string) (map[string]any, error) {
			return map[string]any{"score": 0.5, "feedback": "partial"}, nil
		}})
		grade := svc.gradeOneEssay(context.Background(), question, "an answer")
		if !almostEqual(grade.Points, 2) {
			t.Fatalf("points=%v, want 2 (0.5 * 4)", grade.Points)
		}
		if grade.Correct {
			t.Fatalf("score 0.5 under passing fraction 0.6 must not be correct")
		}
	})

	t.Run("clamps_score_and_points", func(t *testing.T) {
		svc := newSvc(&fakeCompletion{t: t, generateJSON: func(system, user, schemaName string) (map[string]any, error) {
			return map[string]any{"score": 1.7, "points_awarded": 99.0, "feedback": "generous"}, nil
		}})
		grade := svc.gradeOneEssay(context.Background(), question, "an answer")
		if grade.Score != 1 {
			t.Fatalf("score=%v, want clamped to 1", grade.Score)
		}
		if !almostEqual(grade.Points, 4) {
			t.Fatalf("points=%v, want clamped to max 4", grade.Points)
		}
	})

	t.Run("grading_failure_falls_back_to_half_credit", func(t *testing.T) {
		svc := newSvc(&fakeCompletion{t: t, generateJSON: func(system, user, schemaName string) (map[string]any, error) {
			return nil, &types.ProviderError{Op: "essay_grade", Err: errors.New("empty response")}
		}})
		grade := svc.gradeOneEssay(context.Background(), question, "an answer")
		if grade.Outcome != EssayOutcomeGradingFailedFallback {
			t.Fatalf("outcome=%s, want fallback", grade.Outcome)
		}
		if !almostEqual(grade.Points, 2) {
			t.Fatalf("fallback points=%v, want 2 (half of 4)", grade.Points)
		}
		if !grade.Correct {
			t.Fatalf("fallback answers are marked correct")
		}
		if grade.FailureCause == "" {
			t.Fatalf("fallback must record the failure cause")
		}
	})
}

type examHarness struct {
	svc         ExamService
	gdb         *gorm.DB
	bankRepo    repos.QuestionBankRepo
	sessionRepo repos.ExamSessionRepo
	answerRepo  repos.ExamAnswerRepo
	certRepo    repos.CertificateRepo
	userID      uuid.UUID
	courseID    uuid.UUID
}

func newExamHarness(t *testing.T, cfg ExamConfig, fake *fakeCompletion, seed int64) *examHarness {
	t.Helper()
	gdb := newTestDB(t)
	log := logger.NewNop()

	bankRepo := repos.NewQuestionBankRepo(gdb, log)
	sessionRepo := repos.NewExamSessionRepo(gdb, log)
	answerRepo := repos.NewExamAnswerRepo(gdb, log)
	attemptRepo := repos.NewQuizAttemptRepo(gdb, log)
	articleRepo := repos.NewArticleRepo(gdb, log)
	progressRepo := repos.NewArticleProgressRepo(gdb, log)
	interactionRepo := repos.NewUserInteractionRepo(gdb, log)
	certRepo := repos.NewCertificateRepo(gdb, log)
	taskRepo := repos.NewTaskRepo(gdb, log)

	engagement := NewEngagementService(gdb, log, articleRepo, progressRepo, attemptRepo, interactionRepo)
	certs := NewCertificateService(gdb, log, certRepo)
	queue := jobs.NewQueue(gdb, log, taskRepo, jobs.DefaultLanes())

	svc := NewExamService(gdb, log, cfg, bankRepo, sessionRepo, answerRepo, attemptRepo,
		engagement, certs, fake, queue, rand.New(rand.NewSource(seed)))

	return &examHarness{
		svc:         svc,
		gdb:         gdb,
		bankRepo:    bankRepo,
		sessionRepo: sessionRepo,
		answerRepo:  answerRepo,
		certRepo:    certRepo,
		userID:      uuid.New(),
		courseID:    uuid.New(),
	}
}

// openGatesConfig disables the eligibility gates so session tests exercise
// the draw and grading logic directly.
func openGatesConfig() ExamConfig {
	cfg := DefaultExamConfig()
	cfg.CompletionThreshold = 0
	cfg.EngagementThreshold = 0
	return cfg
}

func (h *examHarness) seedBank(t *testing.T, nonEssays, essays int) {
	t.Helper()
	pool := makeBank(h.courseID, nonEssays, essays)
	if _, err := h.bankRepo.Create(context.Background(), nil, pool); err != nil {
		t.Fatalf("seed bank: %v", err)
	}
}

func TestGenerateSessionInsufficientBank(t *testing.T) {
	h := newExamHarness(t, openGatesConfig(), &fakeCompletion{t: t}, 1)
	h.seedBank(t, 20, 2)

	_, _, err := h.svc.GenerateSession(context.Background(), h.userID, h.courseID)
	var bank *types.InsufficientBankError
	if !errors.As(err, &bank) {
		t.Fatalf("got %v, want InsufficientBankError", err)
	}
}

func TestGenerateSessionReusesOpenSession(t *testing.T) {
	h := newExamHarness(t, openGatesConfig(), &fakeCompletion{t: t}, 1)
	h.seedBank(t, 28, 3)
	ctx := context.Background()

	first, firstQs, err := h.svc.GenerateSession(ctx, h.userID, h.courseID)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, secondQs, err := h.svc.GenerateSession(ctx, h.userID, h.courseID)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("open session not reused: %s vs %s", second.ID, first.ID)
	}
	if len(secondQs) != len(firstQs) {
		t.Fatalf("reused session question count changed: %d vs %d", len(secondQs), len(firstQs))
	}
}

func TestGenerateSessionNotEligible(t *testing.T) {
	// Default thresholds with no recorded progress: completion gate fails.
	h := newExamHarness(t, DefaultExamConfig(), &fakeCompletion{t: t}, 1)
	h.seedBank(t, 28, 3)

	_, _, err := h.svc.GenerateSession(context.Background(), h.userID, h.courseID)
	var elig *types.EligibilityError
	if !errors.As(err, &elig) {
		t.Fatalf("got %v, want EligibilityError", err)
	}
	if elig.Condition != "course completion" {
		t.Fatalf("condition=%q, want course completion", elig.Condition)
	}
}

func TestSubmitSessionPassAndCertificate(t *testing.T) {
	fake := &fakeCompletion{t: t, generateJSON: func(system, user, schemaName string) (map[string]any, error) {
		return map[string]any{"score": 0.9, "feedback": "strong answer"}, nil
	}}
	h := newExamHarness(t, openGatesConfig(), fake, 3)
	h.seedBank(t, 28, 3)
	ctx := context.Background()

	session, questions, err := h.svc.GenerateSession(ctx, h.userID, h.courseID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	answers := make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		if q.QuestionType == types.QuestionTypeEssay {
			answers[q.ID] = "a thorough essay answer"
		} else {
			answers[q.ID] = "A"
		}
	}

	result, err := h.svc.SubmitSession(ctx, h.userID, session.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.TotalQuestions != 25 {
		t.Fatalf("total questions=%d, want 25", result.TotalQuestions)
	}
	if result.EssayQuestions < 1 || result.EssayQuestions > 2 {
		t.Fatalf("essay questions=%d, want 1 or 2", result.EssayQuestions)
	}
	if !result.Passed {
		t.Fatalf("all-correct submission should pass, score=%v", result.Score)
	}
	if result.Score > 100 {
		t.Fatalf("score=%v exceeds 100", result.Score)
	}

	// earned <= total holds on the stored answers too.
	stored, err := h.answerRepo.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("load answers: %v", err)
	}
	var earned float64
	for _, a := range stored {
		if a.PointsEarned == nil || a.IsCorrect == nil {
			t.Fatalf("answer %s left ungraded", a.ID)
		}
		earned += *a.PointsEarned
	}
	if earned > session.TotalPoints {
		t.Fatalf("earned %v > total %v", earned, session.TotalPoints)
	}

	cert, err := h.certRepo.GetByUserCourse(ctx, nil, h.userID, h.courseID)
	if err != nil {
		t.Fatalf("load certificate: %v", err)
	}
	if cert == nil {
		t.Fatalf("pass must issue a certificate")
	}
	if !almostEqual(cert.FinalExamScore, result.Score) {
		t.Fatalf("certificate score=%v, want %v", cert.FinalExamScore, result.Score)
	}

	if _, err := h.svc.SubmitSession(ctx, h.userID, session.ID, answers); err == nil {
		t.Fatalf("second submission of a graded session must fail")
	}

	if _, _, err := h.svc.GenerateSession(ctx, h.userID, h.courseID); !errors.Is(err, types.ErrExamAlreadyPassed) {
		t.Fatalf("generate after pass: got %v, want ErrExamAlreadyPassed", err)
	}
}

func TestSubmitSessionRetryReplacesCrashLeftovers(t *testing.T) {
	fake := &fakeCompletion{t: t, generateJSON: func(system, user, schemaName string) (map[string]any, error) {
		return map[string]any{"score": 0.9, "feedback": "fine"}, nil
	}}
	h := newExamHarness(t, openGatesConfig(), fake, 11)
	h.seedBank(t, 28, 3)
	ctx := context.Background()

	session, questions, err := h.svc.GenerateSession(ctx, h.userID, h.courseID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// A submission that died after writing its answer batch leaves the
	// session in progress with orphaned rows.
	now := time.Now()
	stale := make([]*types.ExamAnswer, 0, len(questions))
	for _, q := range questions {
		points := q.Points
		correct := true
		stale = append(stale, &types.ExamAnswer{
			ID:             uuid.New(),
			SessionID:      session.ID,
			BankQuestionID: q.ID,
			UserAnswer:     "A",
			IsCorrect:      &correct,
			PointsEarned:   &points,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if _, err := h.answerRepo.Create(ctx, nil, stale); err != nil {
		t.Fatalf("seed crashed batch: %v", err)
	}

	answers := make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		answers[q.ID] = "A"
	}
	if _, err := h.svc.SubmitSession(ctx, h.userID, session.ID, answers); err != nil {
		t.Fatalf("retried submit: %v", err)
	}

	stored, err := h.answerRepo.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("load answers: %v", err)
	}
	if len(stored) != len(questions) {
		t.Fatalf("stored %d answer rows for a %d-question session", len(stored), len(questions))
	}
	var earned float64
	for _, a := range stored {
		if a.PointsEarned != nil {
			earned += *a.PointsEarned
		}
	}
	if earned > session.TotalPoints {
		t.Fatalf("stored earned %v exceeds drawn total %v", earned, session.TotalPoints)
	}
}

func TestSubmitSessionFailSetsCooldown(t *testing.T) {
	fake := &fakeCompletion{t: t, generateJSON: func(system, user, schemaName string) (map[string]any, error) {
		return map[string]any{"score": 0.0, "feedback": "off topic"}, nil
	}}
	h := newExamHarness(t, openGatesConfig(), fake, 5)
	h.seedBank(t, 28, 3)
	ctx := context.Background()

	session, questions, err := h.svc.GenerateSession(ctx, h.userID, h.courseID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Every answer wrong.
	answers := make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		answers[q.ID] = "Z"
	}
	result, err := h.svc.SubmitSession(ctx, h.userID, session.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Passed {
		t.Fatalf("all-wrong submission should fail")
	}
	if result.CanRetakeAt == nil {
		t.Fatalf("failed exam must set a retake time")
	}

	graded, err := h.sessionRepo.GetByID(ctx, nil, session.ID)
	if err != nil || graded == nil {
		t.Fatalf("reload session: %v", err)
	}
	if graded.CanRetakeAt == nil || graded.CompletedAt == nil {
		t.Fatalf("graded session missing cooldown or completion timestamps")
	}
	wantRetake := graded.CompletedAt.Add(openGatesConfig().Cooldown)
	if !graded.CanRetakeAt.Equal(wantRetake) {
		t.Fatalf("can_retake_at=%v, want completion+cooldown=%v", graded.CanRetakeAt, wantRetake)
	}

	// A new session before the cooldown elapses is refused with the same
	// timestamp.
	_, _, err = h.svc.GenerateSession(ctx, h.userID, h.courseID)
	var cooldown *types.CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("got %v, want CooldownError", err)
	}
	if !cooldown.CanRetakeAt.Equal(*graded.CanRetakeAt) {
		t.Fatalf("cooldown error carries %v, want %v", cooldown.CanRetakeAt, *graded.CanRetakeAt)
	}
}

func TestSubmitSessionEssayFallback(t *testing.T) {
	fake := &fakeCompletion{t: t, generateJSON: func(system, user, schemaName string) (map[string]any, error) {
		return nil, errors.New("provider outage")
	}}
	h := newExamHarness(t, openGatesConfig(), fake, 9)
	h.seedBank(t, 28, 3)
	ctx := context.Background()

	session, questions, err := h.svc.GenerateSession(ctx, h.userID, h.courseID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	answers := make(map[uuid.UUID]string, len(questions))
	for _, q := range questions {
		answers[q.ID] = "A"
	}
	if _, err := h.svc.SubmitSession(ctx, h.userID, session.ID, answers); err != nil {
		t.Fatalf("submit with grading outage must still complete: %v", err)
	}

	stored, err := h.answerRepo.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("load answers: %v", err)
	}
	fallbacks := 0
	for _, a := range stored {
		if len(a.AIGrading) == 0 {
			continue
		}
		fallbacks++
		if a.IsCorrect == nil || !*a.IsCorrect {
			t.Fatalf("fallback answer %s not marked correct", a.ID)
		}
		if a.PointsEarned == nil || !almostEqual(*a.PointsEarned, 2) {
			t.Fatalf("fallback answer %s points=%v, want 2 (half of 4)", a.ID, a.PointsEarned)
		}
	}
	if fallbacks < 1 {
		t.Fatalf("expected at least one essay fallback grade")
	}
}
