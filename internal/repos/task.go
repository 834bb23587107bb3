package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

type TaskRepo interface {
	Create(ctx context.Context, tx *gorm.DB, tasks []*types.Task) ([]*types.Task, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Task, error)
	ListByLane(ctx context.Context, tx *gorm.DB, lane string, statuses []string, limit int) ([]*types.Task, error)

	// FindActiveByDedupKey returns a task in the same lane with the same dedup
	// key that is still pending or running (queued, running, or awaiting retry).
	FindActiveByDedupKey(ctx context.Context, tx *gorm.DB, lane, dedupKey string) (*types.Task, error)

	// ClaimNextRunnable picks the next task in the lane that is runnable:
	// - status=queued or status=failed, with run_at due
	// - OR status=running with a stale heartbeat (crash recovery)
	// and marks it running, incrementing attempts.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, lane string, staleRunning time.Duration) (*types.Task, error)

	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	DeleteSucceededBefore(ctx context.Context, tx *gorm.DB, lane string, cutoff time.Time) (int64, error)
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{db: db, log: baseLog.With("repo", "TaskRepo")}
}

func (r *taskRepo) Create(ctx context.Context, tx *gorm.DB, tasks []*types.Task) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(tasks) == 0 {
		return []*types.Task{}, nil
	}
	if err := transaction.WithContext(ctx).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Task
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

func (r *taskRepo) ListByLane(ctx context.Context, tx *gorm.DB, lane string, statuses []string, limit int) ([]*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("lane = ?", lane)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var results []*types.Task
	if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *taskRepo) FindActiveByDedupKey(ctx context.Context, tx *gorm.DB, lane, dedupKey string) (*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if dedupKey == "" {
		return nil, nil
	}
	var task types.Task
	err := transaction.WithContext(ctx).
		Where("lane = ? AND dedup_key = ? AND status IN ?", lane, dedupKey,
			[]string{types.TaskStatusQueued, types.TaskStatusRunning, types.TaskStatusFailed}).
		Order("created_at ASC").
		Limit(1).
		Find(&task).Error
	if err != nil {
		return nil, err
	}
	if task.ID == uuid.Nil {
		return nil, nil
	}
	return &task, nil
}

func (r *taskRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, lane string, staleRunning time.Duration) (*types.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now()
	staleCutoff := now.Add(-staleRunning)

	var claimed *types.Task

	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var task types.Task

		q := txx.Where(`
			lane = ?
			AND (
				(status IN ? AND run_at <= ?)
				OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
			)
		`, lane,
			[]string{types.TaskStatusQueued, types.TaskStatusFailed}, now,
			types.TaskStatusRunning, staleCutoff).
			Order("run_at ASC")

		// SKIP LOCKED keeps concurrent workers off the same row; sqlite (tests)
		// has no row locks, single-writer semantics cover it there.
		if txx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		qErr := q.First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}

		uErr := txx.Model(&types.Task{}).
			Where("id = ?", task.ID).
			Updates(map[string]any{
				"status":       types.TaskStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}

		task.Status = types.TaskStatusRunning
		task.Attempts++
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *taskRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
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
		Model(&types.Task{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.Task{}).
		Where("id = ? AND status = ?", id, types.TaskStatusRunning).
		Updates(map[string]any{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *taskRepo) DeleteSucceededBefore(ctx context.Context, tx *gorm.DB, lane string, cutoff time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Unscoped().
		Where("lane = ? AND status = ? AND updated_at < ?", lane, types.TaskStatusSucceeded, cutoff).
		Delete(&types.Task{})
	return res.RowsAffected, res.Error
}

func (r *taskRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Task{}).Error
}
