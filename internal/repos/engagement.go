package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

type ArticleProgressRepo interface {
	// Upsert keeps one row per user+article, accumulating time and keeping the
	// max scroll depth.
	Upsert(ctx context.Context, tx *gorm.DB, progress *types.ArticleProgress) error
	GetByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) ([]*types.ArticleProgress, error)
}

type articleProgressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArticleProgressRepo(db *gorm.DB, baseLog *logger.Logger) ArticleProgressRepo {
	return &articleProgressRepo{db: db, log: baseLog.With("repo", "ArticleProgressRepo")}
}

func (r *articleProgressRepo) Upsert(ctx context.Context, tx *gorm.DB, progress *types.ArticleProgress) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if progress == nil {
		return nil
	}
	now := time.Now()
	if progress.ID == uuid.Nil {
		progress.ID = uuid.New()
	}
	if progress.CreatedAt.IsZero() {
		progress.CreatedAt = now
	}
	progress.UpdatedAt = now
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "article_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"time_spent_seconds": gorm.Expr("article_progress.time_spent_seconds + ?", progress.TimeSpentSeconds),
				"scroll_percentage":  gorm.Expr("CASE WHEN article_progress.scroll_percentage > ? THEN article_progress.scroll_percentage ELSE ? END", progress.ScrollPercentage, progress.ScrollPercentage),
				"completed":          gorm.Expr("article_progress.completed OR ?", progress.Completed),
				"updated_at":         now,
			}),
		}).
		Create(progress).Error
}

func (r *articleProgressRepo) GetByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) ([]*types.ArticleProgress, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ArticleProgress
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type QuizAttemptRepo interface {
	Create(ctx context.Context, tx *gorm.DB, attempts []*types.QuizAttempt) ([]*types.QuizAttempt, error)
	GetByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) ([]*types.QuizAttempt, error)
}

type quizAttemptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuizAttemptRepo(db *gorm.DB, baseLog *logger.Logger) QuizAttemptRepo {
	return &quizAttemptRepo{db: db, log: baseLog.With("repo", "QuizAttemptRepo")}
}

func (r *quizAttemptRepo) Create(ctx context.Context, tx *gorm.DB, attempts []*types.QuizAttempt) ([]*types.QuizAttempt, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(attempts) == 0 {
		return []*types.QuizAttempt{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *quizAttemptRepo) GetByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) ([]*types.QuizAttempt, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.QuizAttempt
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type UserInteractionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, interactions []*types.UserInteraction) ([]*types.UserInteraction, error)
	CountByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) (int64, error)
}

type userInteractionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserInteractionRepo(db *gorm.DB, baseLog *logger.Logger) UserInteractionRepo {
	return &userInteractionRepo{db: db, log: baseLog.With("repo", "UserInteractionRepo")}
}

func (r *userInteractionRepo) Create(ctx context.Context, tx *gorm.DB, interactions []*types.UserInteraction) ([]*types.UserInteraction, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(interactions) == 0 {
		return []*types.UserInteraction{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&interactions).Error; err != nil {
		return nil, err
	}
	return interactions, nil
}

func (r *userInteractionRepo) CountByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.UserInteraction{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
