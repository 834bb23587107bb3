package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

type QuestionBankRepo interface {
	Create(ctx context.Context, tx *gorm.DB, items []*types.QuestionBankItem) ([]*types.QuestionBankItem, error)
	GetByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.QuestionBankItem, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.QuestionBankItem, error)
	CountByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) (int64, error)
}

type questionBankRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionBankRepo(db *gorm.DB, baseLog *logger.Logger) QuestionBankRepo {
	return &questionBankRepo{db: db, log: baseLog.With("repo", "QuestionBankRepo")}
}

func (r *questionBankRepo) Create(ctx context.Context, tx *gorm.DB, items []*types.QuestionBankItem) ([]*types.QuestionBankItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(items) == 0 {
		return []*types.QuestionBankItem{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *questionBankRepo) GetByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) ([]*types.QuestionBankItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.QuestionBankItem
	if err := transaction.WithContext(ctx).
		Where("course_id = ?", courseID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *questionBankRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.QuestionBankItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.QuestionBankItem
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

func (r *questionBankRepo) CountByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	if err := transaction.WithContext(ctx).
		Model(&types.QuestionBankItem{}).
		Where("course_id = ?", courseID).
		Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

type ExamSessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sessions []*types.ExamSession) ([]*types.ExamSession, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ExamSession, error)
	GetByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) ([]*types.ExamSession, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	CreateQuestions(ctx context.Context, tx *gorm.DB, questions []*types.ExamQuestion) ([]*types.ExamQuestion, error)
	GetQuestionsBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ExamQuestion, error)
}

type examSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExamSessionRepo(db *gorm.DB, baseLog *logger.Logger) ExamSessionRepo {
	return &examSessionRepo{db: db, log: baseLog.With("repo", "ExamSessionRepo")}
}

func (r *examSessionRepo) Create(ctx context.Context, tx *gorm.DB, sessions []*types.ExamSession) ([]*types.ExamSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(sessions) == 0 {
		return []*types.ExamSession{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *examSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ExamSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var session types.ExamSession
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == uuid.Nil {
		return nil, nil
	}
	return &session, nil
}

func (r *examSessionRepo) GetByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) ([]*types.ExamSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ExamSession
	if err := transaction.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Order("started_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *examSessionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.ExamSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *examSessionRepo) CreateQuestions(ctx context.Context, tx *gorm.DB, questions []*types.ExamQuestion) ([]*types.ExamQuestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(questions) == 0 {
		return []*types.ExamQuestion{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *examSessionRepo) GetQuestionsBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ExamQuestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ExamQuestion
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("order_index ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type ExamAnswerRepo interface {
	Create(ctx context.Context, tx *gorm.DB, answers []*types.ExamAnswer) ([]*types.ExamAnswer, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ExamAnswer, error)

	// DeleteBySessionID clears any answer rows a crashed earlier submission
	// left behind, so a retry writes a single complete batch.
	DeleteBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error
}

type examAnswerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExamAnswerRepo(db *gorm.DB, baseLog *logger.Logger) ExamAnswerRepo {
	return &examAnswerRepo{db: db, log: baseLog.With("repo", "ExamAnswerRepo")}
}

func (r *examAnswerRepo) Create(ctx context.Context, tx *gorm.DB, answers []*types.ExamAnswer) ([]*types.ExamAnswer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(answers) == 0 {
		return []*types.ExamAnswer{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}

func (r *examAnswerRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ExamAnswer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.ExamAnswer
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *examAnswerRepo) DeleteBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&types.ExamAnswer{}).Error
}
