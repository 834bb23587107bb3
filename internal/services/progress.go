package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

// ProgressService ingests the raw behavioral signals the engagement scorer
// reads back: per-article reading progress, quiz attempts, interactions.
type ProgressService interface {
	RecordArticleProgress(ctx context.Context, userID, articleID uuid.UUID, timeSpentSeconds int, scrollPercentage float64, completed bool) error
	RecordQuizAttempt(ctx context.Context, userID, courseID uuid.UUID, sectionID, articleID *uuid.UUID, kind string, scorePercent float64) (*types.QuizAttempt, error)
	RecordInteraction(ctx context.Context, userID, courseID uuid.UUID, interactionType string) error
}

type progressService struct {
	db  *gorm.DB
	log *logger.Logger

	articleRepo     repos.ArticleRepo
	progressRepo    repos.ArticleProgressRepo
	attemptRepo     repos.QuizAttemptRepo
	interactionRepo repos.UserInteractionRepo
}

func NewProgressService(
	db *gorm.DB,
	baseLog *logger.Logger,
	articleRepo repos.ArticleRepo,
	progressRepo repos.ArticleProgressRepo,
	attemptRepo repos.QuizAttemptRepo,
	interactionRepo repos.UserInteractionRepo,
) ProgressService {
	return &progressService{
		db:              db,
		log:             baseLog.With("service", "ProgressService"),
		articleRepo:     articleRepo,
		progressRepo:    progressRepo,
		attemptRepo:     attemptRepo,
		interactionRepo: interactionRepo,
	}
}

func (s *progressService) RecordArticleProgress(ctx context.Context, userID, articleID uuid.UUID, timeSpentSeconds int, scrollPercentage float64, completed bool) error {
	if timeSpentSeconds < 0 {
		return fmt.Errorf("time spent cannot be negative")
	}
	if scrollPercentage < 0 {
		scrollPercentage = 0
	}
	if scrollPercentage > 100 {
		scrollPercentage = 100
	}
	articles, err := s.articleRepo.GetByIDs(ctx, nil, []uuid.UUID{articleID})
	if err != nil {
		return fmt.Errorf("load article: %w", err)
	}
	if len(articles) == 0 || articles[0] == nil {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	progress := &types.ArticleProgress{
		ID:               uuid.New(),
		UserID:           userID,
		ArticleID:        articleID,
		CourseID:         articles[0].CourseID,
		TimeSpentSeconds: timeSpentSeconds,
		ScrollPercentage: scrollPercentage,
		Completed:        completed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return s.progressRepo.Upsert(ctx, nil, progress)
}

func (s *progressService) RecordQuizAttempt(ctx context.Context, userID, courseID uuid.UUID, sectionID, articleID *uuid.UUID, kind string, scorePercent float64) (*types.QuizAttempt, error) {
	switch kind {
	case types.QuizAttemptKindSection, types.QuizAttemptKindArticle:
	default:
		return nil, fmt.Errorf("unknown quiz attempt kind %q", kind)
	}
	if scorePercent < 0 || scorePercent > 100 {
		return nil, fmt.Errorf("score must be within [0,100]")
	}
	now := time.Now()
	attempt := &types.QuizAttempt{
		ID:           uuid.New(),
		UserID:       userID,
		CourseID:     courseID,
		SectionID:    sectionID,
		ArticleID:    articleID,
		Kind:         kind,
		ScorePercent: scorePercent,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.attemptRepo.Create(ctx, nil, []*types.QuizAttempt{attempt}); err != nil {
		return nil, fmt.Errorf("record quiz attempt: %w", err)
	}
	return attempt, nil
}

func (s *progressService) RecordInteraction(ctx context.Context, userID, courseID uuid.UUID, interactionType string) error {
	switch interactionType {
	case types.InteractionTypeChatMessage, types.InteractionTypeComment:
	default:
		return fmt.Errorf("unknown interaction type %q", interactionType)
	}
	interaction := &types.UserInteraction{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		Type:      interactionType,
		CreatedAt: time.Now(),
	}
	if _, err := s.interactionRepo.Create(ctx, nil, []*types.UserInteraction{interaction}); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}
