package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

type ArticleRepo interface {
	Create(ctx context.Context, tx *gorm.DB, articles []*types.Article) ([]*types.Article, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Article, error)
	GetByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Article, error)
	GetBySectionIDs(ctx context.Context, tx *gorm.DB, sectionIDs []uuid.UUID) ([]*types.Article, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
}

type articleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArticleRepo(db *gorm.DB, baseLog *logger.Logger) ArticleRepo {
	return &articleRepo{db: db, log: baseLog.With("repo", "ArticleRepo")}
}

func (r *articleRepo) Create(ctx context.Context, tx *gorm.DB, articles []*types.Article) ([]*types.Article, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(articles) == 0 {
		return []*types.Article{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&articles).Error; err != nil {
		return nil, err
	}
	return articles, nil
}

func (r *articleRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Article, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Article
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *articleRepo) GetByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.Article, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Article
	if err := transaction.WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("\"index\" ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *articleRepo) GetBySectionIDs(ctx context.Context, tx *gorm.DB, sectionIDs []uuid.UUID) ([]*types.Article, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Article
	if len(sectionIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("section_id IN ?", sectionIDs).
		Order("\"index\" ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *articleRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Article{}).
		Where("id = ?", id).
		Updates(updates).Error
}

type QuizQuestionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, questions []*types.QuizQuestion) ([]*types.QuizQuestion, error)
	GetBySectionIDs(ctx context.Context, tx *gorm.DB, sectionIDs []uuid.UUID) ([]*types.QuizQuestion, error)
	DeleteBySectionID(ctx context.Context, tx *gorm.DB, sectionID uuid.UUID) error
}

type quizQuestionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuizQuestionRepo(db *gorm.DB, baseLog *logger.Logger) QuizQuestionRepo {
	return &quizQuestionRepo{db: db, log: baseLog.With("repo", "QuizQuestionRepo")}
}

func (r *quizQuestionRepo) Create(ctx context.Context, tx *gorm.DB, questions []*types.QuizQuestion) ([]*types.QuizQuestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(questions) == 0 {
		return []*types.QuizQuestion{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *quizQuestionRepo) GetBySectionIDs(ctx context.Context, tx *gorm.DB, sectionIDs []uuid.UUID) ([]*types.QuizQuestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.QuizQuestion
	if len(sectionIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("section_id IN ?", sectionIDs).
		Order("\"index\" ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *quizQuestionRepo) DeleteBySectionID(ctx context.Context, tx *gorm.DB, sectionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sectionID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("section_id = ?", sectionID).
		Delete(&types.QuizQuestion{}).Error
}
