package services

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

// Fixed engagement weights. Their sum is 1 so FinalScore stays in [0,100].
const (
	engagementWeightArticle     = 0.40
	engagementWeightQuiz        = 0.35
	engagementWeightTime        = 0.15
	engagementWeightInteraction = 0.10
)

type EngagementBreakdown struct {
	ArticleEngagement  float64 `json:"article_engagement"`
	QuizPerformance    float64 `json:"quiz_performance"`
	TimeInvestment     float64 `json:"time_investment"`
	InteractionQuality float64 `json:"interaction_quality"`
	FinalScore         float64 `json:"final_score"`
}

// ArticleSignal is one article's recorded reading behavior paired with its
// content length.
type ArticleSignal struct {
	ContentLength    int
	TimeSpentSeconds int
	ScrollPercentage float64
	Completed        bool
}

type EngagementService interface {
	ScoreForCourse(ctx context.Context, userID, courseID uuid.UUID) (EngagementBreakdown, error)
	CompletionPercent(ctx context.Context, userID, courseID uuid.UUID) (float64, error)
}

type engagementService struct {
	db  *gorm.DB
	log *logger.Logger

	articleRepo     repos.ArticleRepo
	progressRepo    repos.ArticleProgressRepo
	attemptRepo     repos.QuizAttemptRepo
	interactionRepo repos.UserInteractionRepo
}

func NewEngagementService(
	db *gorm.DB,
	baseLog *logger.Logger,
	articleRepo repos.ArticleRepo,
	progressRepo repos.ArticleProgressRepo,
	attemptRepo repos.QuizAttemptRepo,
	interactionRepo repos.UserInteractionRepo,
) EngagementService {
	return &engagementService{
		db:              db,
		log:             baseLog.With("service", "EngagementService"),
		articleRepo:     articleRepo,
		progressRepo:    progressRepo,
		attemptRepo:     attemptRepo,
		interactionRepo: interactionRepo,
	}
}

func (s *engagementService) ScoreForCourse(ctx context.Context, userID, courseID uuid.UUID) (EngagementBreakdown, error) {
	progress, err := s.progressRepo.GetByUserCourse(ctx, nil, userID, courseID)
	if err != nil {
		return EngagementBreakdown{}, fmt.Errorf("load progress: %w", err)
	}

	articleIDs := make([]uuid.UUID, 0, len(progress))
	for _, p := range progress {
		if p != nil {
			articleIDs = append(articleIDs, p.ArticleID)
		}
	}
	articles, err := s.articleRepo.GetByIDs(ctx, nil, articleIDs)
	if err != nil {
		return EngagementBreakdown{}, fmt.Errorf("load articles: %w", err)
	}
	lengthByID := make(map[uuid.UUID]int, len(articles))
	for _, a := range articles {
		if a != nil {
			lengthByID[a.ID] = a.ContentLength
		}
	}

	signals := make([]ArticleSignal, 0, len(progress))
	for _, p := range progress {
		if p == nil {
			continue
		}
		signals = append(signals, ArticleSignal{
			ContentLength:    lengthByID[p.ArticleID],
			TimeSpentSeconds: p.TimeSpentSeconds,
			ScrollPercentage: p.ScrollPercentage,
			Completed:        p.Completed,
		})
	}

	attempts, err := s.attemptRepo.GetByUserCourse(ctx, nil, userID, courseID)
	if err != nil {
		return EngagementBreakdown{}, fmt.Errorf("load quiz attempts: %w", err)
	}
	var section, article, final []float64
	for _, a := range attempts {
		if a == nil {
			continue
		}
		switch a.Kind {
		case types.QuizAttemptKindSection:
			section = append(section, a.ScorePercent)
		case types.QuizAttemptKindArticle:
			article = append(article, a.ScorePercent)
		case types.QuizAttemptKindFinal:
			final = append(final, a.ScorePercent)
		}
	}

	interactions, err := s.interactionRepo.CountByUserCourse(ctx, nil, userID, courseID)
	if err != nil {
		return EngagementBreakdown{}, fmt.Errorf("count interactions: %w", err)
	}

	return ComputeEngagement(signals, section, article, final, int(interactions)), nil
}

func (s *engagementService) CompletionPercent(ctx context.Context, userID, courseID uuid.UUID) (float64, error) {
	articles, err := s.articleRepo.GetByCourseID(ctx, nil, courseID)
	if err != nil {
		return 0, fmt.Errorf("load course articles: %w", err)
	}
	if len(articles) == 0 {
		return 0, nil
	}
	progress, err := s.progressRepo.GetByUserCourse(ctx, nil, userID, courseID)
	if err != nil {
		return 0, fmt.Errorf("load progress: %w", err)
	}
	completed := 0
	for _, p := range progress {
		if p != nil && p.Completed {
			completed++
		}
	}
	return 100 * float64(completed) / float64(len(articles)), nil
}

// ComputeEngagement is the pure composite: four sub-scores, each clamped to
// [0,100], combined with the fixed weights.
func ComputeEngagement(signals []ArticleSignal, sectionQuiz, articleQuiz, finalQuiz []float64, interactions int) EngagementBreakdown {
	b := EngagementBreakdown{
		ArticleEngagement:  ArticleEngagementScore(signals),
		QuizPerformance:    QuizPerformanceScore(sectionQuiz, articleQuiz, finalQuiz),
		TimeInvestment:     TimeInvestmentScore(signals),
		InteractionQuality: InteractionQualityScore(interactions, len(signals)),
	}
	b.FinalScore = clamp01to100(engagementWeightArticle*b.ArticleEngagement +
		engagementWeightQuiz*b.QuizPerformance +
		engagementWeightTime*b.TimeInvestment +
		engagementWeightInteraction*b.InteractionQuality)
	return b
}

// ArticleEngagementScore: per article, reading time against expected time
// (max of 3 minutes and 2 minutes per 1000 chars) gives up to 50 points and
// scroll depth against 80% gives up to 50; course score is the mean over
// articles with recorded progress.
func ArticleEngagementScore(signals []ArticleSignal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, sig := range signals {
		expected := expectedSeconds(sig.ContentLength, 1000, 2, 3)
		timeComponent := ratioCapped(float64(sig.TimeSpentSeconds), expected) * 50
		scrollComponent := ratioCapped(sig.ScrollPercentage, 80) * 50
		sum += timeComponent + scrollComponent
	}
	return clamp01to100(sum / float64(len(signals)))
}

// TimeInvestmentScore: expected time is the max of 4 minutes and 3 minutes
// per 800 chars.
func TimeInvestmentScore(signals []ArticleSignal) float64 {
	if len(signals) == 0 {
		return 0
	}
	var sum float64
	for _, sig := range signals {
		expected := expectedSeconds(sig.ContentLength, 800, 3, 4)
		sum += ratioCapped(float64(sig.TimeSpentSeconds), expected) * 100
	}
	return clamp01to100(sum / float64(len(signals)))
}

// QuizPerformanceScore blends section (70%), article (20%) and final-exam
// (10%) quiz means; weights are renormalized over only the categories with
// attempts. No section attempts means no quiz score.
func QuizPerformanceScore(sectionQuiz, articleQuiz, finalQuiz []float64) float64 {
	if len(sectionQuiz) == 0 {
		return 0
	}
	weighted := 0.70 * mean(sectionQuiz)
	totalWeight := 0.70
	if len(articleQuiz) > 0 {
		weighted += 0.20 * mean(articleQuiz)
		totalWeight += 0.20
	}
	if len(finalQuiz) > 0 {
		weighted += 0.10 * mean(finalQuiz)
		totalWeight += 0.10
	}
	return clamp01to100(weighted / totalWeight)
}

// InteractionQualityScore maps interactions per article with progress onto
// fixed bands.
func InteractionQualityScore(interactions int, articlesWithProgress int) float64 {
	if articlesWithProgress == 0 || interactions <= 0 {
		return 0
	}
	perArticle := float64(interactions) / float64(articlesWithProgress)
	switch {
	case perArticle >= 2:
		return 100
	case perArticle >= 1:
		return 80
	case perArticle >= 0.5:
		return 60
	default:
		return 40
	}
}

func expectedSeconds(contentLength, perChars, minutesPer, floorMinutes int) float64 {
	blocks := int(math.Ceil(float64(contentLength) / float64(perChars)))
	expected := blocks * minutesPer * 60
	floor := floorMinutes * 60
	if expected < floor {
		expected = floor
	}
	return float64(expected)
}

func ratioCapped(value, expected float64) float64 {
	if expected <= 0 {
		return 0
	}
	r := value / expected
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp01to100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
