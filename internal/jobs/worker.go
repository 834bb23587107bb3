package jobs

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

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.TaskRepo
	registry *Registry
	lanes    map[string]LaneConfig
	backoff  BackoffConfig

	pollInterval   time.Duration
	sweepInterval  time.Duration
	heartbeatEvery time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.TaskRepo, registry *Registry, lanes map[string]LaneConfig, backoff BackoffConfig) *Worker {
	if lanes == nil {
		lanes = DefaultLanes()
	}
	return &Worker{
		db:            db,
		log:           baseLog.With("component", "TaskWorker"),
		repo:          repo,
		registry:      registry,
		lanes:         lanes,
		backoff:       backoff,
		pollInterval:   1 * time.Second,
		sweepInterval:  10 * time.Minute,
		heartbeatEvery: 30 * time.Second,
	}
}

// Start launches the per-lane worker slots plus the retention sweeper. Each
// lane polls independently so one lane blocking on a slow handler never
// stalls another.
func (w *Worker) Start(ctx context.Context) {
	for _, cfg := range w.lanes {
		for slot := 0; slot < cfg.Concurrency; slot++ {
			go w.runSlot(ctx, cfg, slot)
		}
	}
	go w.runSweeper(ctx)
}

func (w *Worker) runSlot(ctx context.Context, cfg LaneConfig, slot int) {
	log := w.log.With("lane", cfg.Name, "slot", slot)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := w.repo.ClaimNextRunnable(ctx, w.db, cfg.Name, cfg.StaleRunning)
			if err != nil {
				log.Warn("ClaimNextRunnable failed", "error", err)
				continue
			}
			if task == nil {
				continue
			}
			w.runOne(ctx, cfg, task)
		}
	}
}

func (w *Worker) runOne(ctx context.Context, cfg LaneConfig, task *types.Task) {
	log := w.log.With("lane", cfg.Name, "task_id", task.ID, "job_type", task.JobType, "attempt", task.Attempts)

	h, ok := w.registry.Get(task.JobType)
	if !ok {
		log.Error("No handler registered for job_type")
		w.markDead(ctx, task, fmt.Errorf("no handler registered for job_type=%s", task.JobType))
		return
	}

	hctx := ctx
	cancel := func() {}
	if cfg.HandlerTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, cfg.HandlerTimeout)
	}

	// Long handlers keep heartbeat_at fresh so the stale-running requeue
	// never steals a live task.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go w.heartbeatLoop(hbCtx, task.ID)

	var err error
	func() {
		defer stopHeartbeat()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Error("Task handler panic", "panic", r)
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		err = h(hctx, task)
	}()

	if err == nil {
		w.markSucceeded(ctx, task)
		return
	}
	w.markFailure(ctx, task, err)
}

func (w *Worker) heartbeatLoop(ctx context.Context, id uuid.UUID) {
	ticker := time.NewTicker(w.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.repo.Heartbeat(ctx, nil, id); err != nil {
				w.log.Warn("Heartbeat update failed", "task_id", id, "error", err)
			}
		}
	}
}

func (w *Worker) markSucceeded(ctx context.Context, task *types.Task) {
	now := time.Now()
	if uErr := w.repo.UpdateFields(ctx, nil, task.ID, map[string]any{
		"status":       types.TaskStatusSucceeded,
		"error":        "",
		"locked_at":    nil,
		"heartbeat_at": nil,
		"updated_at":   now,
	}); uErr != nil {
		w.log.Warn("Failed to mark task succeeded", "task_id", task.ID, "error", uErr)
	}
}

// markFailure applies the lane's backoff policy: reschedule while attempts
// remain, otherwise dead-letter the task for operator inspection. Tasks are
// never silently dropped.
func (w *Worker) markFailure(ctx context.Context, task *types.Task, cause error) {
	if task.Attempts >= task.MaxAttempts {
		w.markDead(ctx, task, cause)
		return
	}
	delay := w.backoff.NextDelay(task.Backoff, task.Attempts, cause)
	now := time.Now()
	if uErr := w.repo.UpdateFields(ctx, nil, task.ID, map[string]any{
		"status":        types.TaskStatusFailed,
		"error":         cause.Error(),
		"last_error_at": now,
		"run_at":        now.Add(delay),
		"locked_at":     nil,
		"heartbeat_at":  nil,
		"updated_at":    now,
	}); uErr != nil {
		w.log.Warn("Failed to mark task failed", "task_id", task.ID, "error", uErr)
		return
	}
	w.log.Info("Task failed, retry scheduled", "task_id", task.ID, "job_type", task.JobType, "attempt", task.Attempts, "delay", delay, "error", cause)
}

func (w *Worker) markDead(ctx context.Context, task *types.Task, cause error) {
	now := time.Now()
	if uErr := w.repo.UpdateFields(ctx, nil, task.ID, map[string]any{
		"status":        types.TaskStatusDead,
		"error":         cause.Error(),
		"last_error_at": now,
		"locked_at":     nil,
		"heartbeat_at":  nil,
		"updated_at":    now,
	}); uErr != nil {
		w.log.Warn("Failed to mark task dead", "task_id", task.ID, "error", uErr)
		return
	}
	w.log.Error("Task permanently failed", "task_id", task.ID, "job_type", task.JobType, "attempts", task.Attempts, "error", cause)
}

func (w *Worker) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cfg := range w.lanes {
				if cfg.Retention <= 0 {
					continue
				}
				cutoff := time.Now().Add(-cfg.Retention)
				n, err := w.repo.DeleteSucceededBefore(ctx, nil, cfg.Name, cutoff)
				if err != nil {
					w.log.Warn("Retention sweep failed", "lane", cfg.Name, "error", err)
					continue
				}
				if n > 0 {
					w.log.Debug("Retention sweep removed tasks", "lane", cfg.Name, "removed", n)
				}
			}
		}
	}
}
