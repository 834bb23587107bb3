package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

var (
	ErrUnknownLane       = errors.New("unknown lane")
	ErrTaskNotFound      = errors.New("task not found")
	ErrAttemptsExhausted = errors.New("task attempts already exhausted")
	ErrNotDelayed        = errors.New("task is not currently delayed")
)

type EnqueueOpts struct {
	Delay       time.Duration
	DedupKey    string
	MaxAttempts int    // 0 means the lane default
	Backoff     string // "" means the lane default
}

type Queue struct {
	db    *gorm.DB
	log   *logger.Logger
	repo  repos.TaskRepo
	lanes map[string]LaneConfig
}

func NewQueue(db *gorm.DB, baseLog *logger.Logger, repo repos.TaskRepo, lanes map[string]LaneConfig) *Queue {
	if lanes == nil {
		lanes = DefaultLanes()
	}
	return &Queue{
		db:    db,
		log:   baseLog.With("component", "TaskQueue"),
		repo:  repo,
		lanes: lanes,
	}
}

func (q *Queue) Lanes() map[string]LaneConfig { return q.lanes }

// Enqueue creates a task on the lane. When opts.DedupKey collides with an
// existing pending or running task in the same lane, the call is a no-op and
// returns that task with created=false.
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, lane, jobType string, payload any, opts EnqueueOpts) (*types.Task, bool, error) {
	cfg, ok := q.lanes[lane]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownLane, lane)
	}
	if jobType == "" {
		return nil, false, fmt.Errorf("missing job_type")
	}

	if opts.DedupKey != "" {
		existing, err := q.repo.FindActiveByDedupKey(ctx, tx, lane, opts.DedupKey)
		if err != nil {
			return nil, false, fmt.Errorf("dedup lookup: %w", err)
		}
		if existing != nil {
			q.log.Debug("Enqueue deduplicated", "lane", lane, "job_type", jobType, "dedup_key", opts.DedupKey, "existing_task_id", existing.ID)
			return existing, false, nil
		}
	}

	var payloadJSON datatypes.JSON
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, false, fmt.Errorf("marshal payload: %w", err)
		}
		payloadJSON = datatypes.JSON(b)
	} else {
		payloadJSON = datatypes.JSON([]byte(`{}`))
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = cfg.MaxAttempts
	}
	backoff := opts.Backoff
	if backoff == "" {
		backoff = cfg.Backoff
	}

	now := time.Now()
	task := &types.Task{
		ID:          uuid.New(),
		Lane:        lane,
		JobType:     jobType,
		DedupKey:    opts.DedupKey,
		Payload:     payloadJSON,
		Status:      types.TaskStatusQueued,
		RunAt:       now.Add(opts.Delay),
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := q.repo.Create(ctx, tx, []*types.Task{task}); err != nil {
		// A concurrent enqueue can slip in between the dedup lookup and this
		// insert. The partial unique index on (lane, dedup_key) rejects the
		// loser, which then returns the winner's row.
		if opts.DedupKey != "" {
			existing, lookupErr := q.repo.FindActiveByDedupKey(ctx, tx, lane, opts.DedupKey)
			if lookupErr == nil && existing != nil {
				q.log.Debug("Enqueue lost dedup race", "lane", lane, "job_type", jobType, "dedup_key", opts.DedupKey, "existing_task_id", existing.ID)
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("create task: %w", err)
	}
	q.log.Debug("Task enqueued", "lane", lane, "job_type", jobType, "task_id", task.ID, "run_at", task.RunAt)
	return task, true, nil
}

// Retry forces an immediate attempt of a failed task. Per the admin contract
// it refuses tasks whose attempts are already exhausted; those need Remove
// plus a fresh enqueue.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) (*types.Task, error) {
	task, err := q.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.Status == types.TaskStatusDead || task.Attempts >= task.MaxAttempts {
		return nil, ErrAttemptsExhausted
	}
	if task.Status != types.TaskStatusFailed {
		return nil, fmt.Errorf("task %s is %s, only failed tasks can be retried", id, task.Status)
	}
	now := time.Now()
	if err := q.repo.UpdateFields(ctx, nil, id, map[string]any{
		"status": types.TaskStatusQueued,
		"run_at": now,
	}); err != nil {
		return nil, err
	}
	task.Status = types.TaskStatusQueued
	task.RunAt = now
	return task, nil
}

// Promote makes a delayed task runnable now. Refuses tasks that are not
// currently delayed.
func (q *Queue) Promote(ctx context.Context, id uuid.UUID) (*types.Task, error) {
	task, err := q.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	delayed := (task.Status == types.TaskStatusQueued || task.Status == types.TaskStatusFailed) && task.RunAt.After(now)
	if !delayed {
		return nil, ErrNotDelayed
	}
	if err := q.repo.UpdateFields(ctx, nil, id, map[string]any{"run_at": now}); err != nil {
		return nil, err
	}
	task.RunAt = now
	return task, nil
}

func (q *Queue) Remove(ctx context.Context, id uuid.UUID) error {
	task, err := q.getByID(ctx, id)
	if err != nil {
		return err
	}
	return q.repo.Delete(ctx, nil, task.ID)
}

func (q *Queue) List(ctx context.Context, lane string, statuses []string, limit int) ([]*types.Task, error) {
	if _, ok := q.lanes[lane]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLane, lane)
	}
	return q.repo.ListByLane(ctx, nil, lane, statuses, limit)
}

func (q *Queue) getByID(ctx context.Context, id uuid.UUID) (*types.Task, error) {
	tasks, err := q.repo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 || tasks[0] == nil {
		return nil, ErrTaskNotFound
	}
	return tasks[0], nil
}
