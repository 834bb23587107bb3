package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/jobs"
	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

// NotifierService turns user_notification tasks into persisted notification
// rows and serves the read side.
type NotifierService interface {
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Notification, error)
	RegisterHandlers(reg *jobs.Registry)
}

type notifierService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.NotificationRepo
}

func NewNotifierService(db *gorm.DB, baseLog *logger.Logger, repo repos.NotificationRepo) NotifierService {
	return &notifierService{
		db:   db,
		log:  baseLog.With("service", "NotifierService"),
		repo: repo,
	}
}

func (s *notifierService) RegisterHandlers(reg *jobs.Registry) {
	reg.Register(types.JobTypeUserNotification, s.handleUserNotification)
}

func (s *notifierService) handleUserNotification(ctx context.Context, task *types.Task) error {
	var job types.UserNotificationJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	now := time.Now()
	notif := &types.Notification{
		ID:        uuid.New(),
		UserID:    job.UserID,
		Type:      job.Type,
		Title:     job.Title,
		Body:      job.Body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(job.Data) > 0 {
		notif.Data = datatypes.JSON(mustJSON(job.Data))
	}
	if _, err := s.repo.Create(ctx, nil, []*types.Notification{notif}); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	return nil
}

func (s *notifierService) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*types.Notification, error) {
	return s.repo.GetByUserID(ctx, nil, userID, limit)
}
