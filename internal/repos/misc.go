package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

type CertificateRepo interface {
	Create(ctx context.Context, tx *gorm.DB, certs []*types.Certificate) ([]*types.Certificate, error)
	GetByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) (*types.Certificate, error)
}

type certificateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCertificateRepo(db *gorm.DB, baseLog *logger.Logger) CertificateRepo {
	return &certificateRepo{db: db, log: baseLog.With("repo", "CertificateRepo")}
}

func (r *certificateRepo) Create(ctx context.Context, tx *gorm.DB, certs []*types.Certificate) ([]*types.Certificate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(certs) == 0 {
		return []*types.Certificate{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

func (r *certificateRepo) GetByUserCourse(ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID) (*types.Certificate, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var cert types.Certificate
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Limit(1).
		Find(&cert).Error
	if err != nil {
		return nil, err
	}
	if cert.ID == uuid.Nil {
		return nil, nil
	}
	return &cert, nil
}

type NotificationRepo interface {
	Create(ctx context.Context, tx *gorm.DB, notifications []*types.Notification) ([]*types.Notification, error)
	GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Notification, error)
}

type notificationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNotificationRepo(db *gorm.DB, baseLog *logger.Logger) NotificationRepo {
	return &notificationRepo{db: db, log: baseLog.With("repo", "NotificationRepo")}
}

func (r *notificationRepo) Create(ctx context.Context, tx *gorm.DB, notifications []*types.Notification) ([]*types.Notification, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(notifications) == 0 {
		return []*types.Notification{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepo) GetByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, limit int) ([]*types.Notification, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var results []*types.Notification
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type SuggestionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, suggestions []*types.Suggestion) ([]*types.Suggestion, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Suggestion, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
}

type suggestionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSuggestionRepo(db *gorm.DB, baseLog *logger.Logger) SuggestionRepo {
	return &suggestionRepo{db: db, log: baseLog.With("repo", "SuggestionRepo")}
}

func (r *suggestionRepo) Create(ctx context.Context, tx *gorm.DB, suggestions []*types.Suggestion) ([]*types.Suggestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(suggestions) == 0 {
		return []*types.Suggestion{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&suggestions).Error; err != nil {
		return nil, err
	}
	return suggestions, nil
}

func (r *suggestionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Suggestion, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var suggestion types.Suggestion
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&suggestion).Error
	if err != nil {
		return nil, err
	}
	if suggestion.ID == uuid.Nil {
		return nil, nil
	}
	return &suggestion, nil
}

func (r *suggestionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
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
		Model(&types.Suggestion{}).
		Where("id = ?", id).
		Updates(updates).Error
}

type AICallLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, logs []*types.AICallLog) ([]*types.AICallLog, error)
}

type aiCallLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAICallLogRepo(db *gorm.DB, baseLog *logger.Logger) AICallLogRepo {
	return &aiCallLogRepo{db: db, log: baseLog.With("repo", "AICallLogRepo")}
}

func (r *aiCallLogRepo) Create(ctx context.Context, tx *gorm.DB, logs []*types.AICallLog) ([]*types.AICallLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(logs) == 0 {
		return []*types.AICallLog{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
