package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/db"
	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

func newTestQueue(t *testing.T) (*Queue, repos.TaskRepo) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := gdb.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	log := logger.NewNop()
	repo := repos.NewTaskRepo(gdb, log)
	return NewQueue(gdb, log, repo, DefaultLanes()), repo
}

type notifyPayload struct {
	Message string `json:"message"`
}

func TestEnqueueDedupReturnsExisting(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, enqueued, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{Message: "hi"}, EnqueueOpts{DedupKey: "user:1:welcome"})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if !enqueued {
		t.Fatalf("first enqueue should create a task")
	}

	second, enqueued, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{Message: "hi again"}, EnqueueOpts{DedupKey: "user:1:welcome"})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if enqueued {
		t.Fatalf("duplicate dedup key should be a no-op")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate enqueue returned task %s, want existing %s", second.ID, first.ID)
	}
}

func TestEnqueueDedupScopedToLane(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{DedupKey: "shared"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_, enqueued, err := q.Enqueue(ctx, nil, LaneSuggestion, types.JobTypeSuggestionProcess, notifyPayload{}, EnqueueOpts{DedupKey: "shared"})
	if err != nil {
		t.Fatalf("enqueue second lane: %v", err)
	}
	if !enqueued {
		t.Fatalf("same dedup key in a different lane must create a new task")
	}
}

func TestDedupUniqueIndexBackstop(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()

	mk := func(status string) *types.Task {
		now := time.Now()
		return &types.Task{
			ID:          uuid.New(),
			Lane:        LaneNotification,
			JobType:     types.JobTypeUserNotification,
			DedupKey:    "user:1:welcome",
			Payload:     []byte(`{}`),
			Status:      status,
			RunAt:       now,
			MaxAttempts: 3,
			Backoff:     BackoffExponential,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}

	// Two direct inserts model racing enqueues that both missed the
	// pre-insert lookup. The partial unique index rejects the second.
	if _, err := repo.Create(ctx, nil, []*types.Task{mk(types.TaskStatusQueued)}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := repo.Create(ctx, nil, []*types.Task{mk(types.TaskStatusQueued)}); err == nil {
		t.Fatalf("second active task with the same lane and dedup key must be rejected")
	}

	// Terminal statuses leave the index, so the key is reusable afterwards.
	if _, err := repo.Create(ctx, nil, []*types.Task{mk(types.TaskStatusSucceeded)}); err != nil {
		t.Fatalf("succeeded row must not conflict: %v", err)
	}

	// Enqueue against the live row still resolves to it.
	existing, enqueued, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{DedupKey: "user:1:welcome"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if enqueued {
		t.Fatalf("enqueue against a live dedup key must not create a task")
	}
	if existing.Status != types.TaskStatusQueued {
		t.Fatalf("resolved task status=%s, want queued", existing.Status)
	}
}

func TestEnqueueUnknownLane(t *testing.T) {
	q, _ := newTestQueue(t)
	_, _, err := q.Enqueue(context.Background(), nil, "nope", "job", notifyPayload{}, EnqueueOpts{})
	if !errors.Is(err, ErrUnknownLane) {
		t.Fatalf("got %v, want ErrUnknownLane", err)
	}
}

func TestDelayedTaskNotClaimable(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{Delay: time.Hour})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(ctx, nil, LaneNotification, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claimed delayed task %s, want none", claimed.ID)
	}

	if _, err := q.Promote(ctx, task.ID); err != nil {
		t.Fatalf("promote: %v", err)
	}
	claimed, err = repo.ClaimNextRunnable(ctx, nil, LaneNotification, time.Minute)
	if err != nil {
		t.Fatalf("claim after promote: %v", err)
	}
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("promoted task should be claimable")
	}
	if claimed.Status != types.TaskStatusRunning {
		t.Fatalf("claimed task status=%s, want running", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Fatalf("claimed task attempts=%d, want 1", claimed.Attempts)
	}
}

func TestPromoteRefusesNonDelayed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Promote(ctx, task.ID); !errors.Is(err, ErrNotDelayed) {
		t.Fatalf("promote runnable task: got %v, want ErrNotDelayed", err)
	}
}

func TestRetrySemantics(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()

	t.Run("failed_task_retryable", func(t *testing.T) {
		task, _, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if err := repo.UpdateFields(ctx, nil, task.ID, map[string]any{
			"status":   types.TaskStatusFailed,
			"attempts": 1,
			"run_at":   time.Now().Add(time.Hour),
		}); err != nil {
			t.Fatalf("mark failed: %v", err)
		}

		retried, err := q.Retry(ctx, task.ID)
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if retried.Status != types.TaskStatusQueued {
			t.Fatalf("retried status=%s, want queued", retried.Status)
		}
		if retried.RunAt.After(time.Now()) {
			t.Fatalf("retried task still delayed until %v", retried.RunAt)
		}
	})

	t.Run("dead_task_rejected", func(t *testing.T) {
		task, _, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if err := repo.UpdateFields(ctx, nil, task.ID, map[string]any{
			"status":   types.TaskStatusDead,
			"attempts": 3,
		}); err != nil {
			t.Fatalf("mark dead: %v", err)
		}
		if _, err := q.Retry(ctx, task.ID); !errors.Is(err, ErrAttemptsExhausted) {
			t.Fatalf("retry dead task: got %v, want ErrAttemptsExhausted", err)
		}
	})

	t.Run("queued_task_rejected", func(t *testing.T) {
		task, _, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := q.Retry(ctx, task.ID); err == nil {
			t.Fatalf("retry of a queued task must fail")
		}
	})
}

func TestWorkerMarksFailedThenDead(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()
	lanes := DefaultLanes()
	backoff := DefaultBackoffConfig()

	registry := NewRegistry()
	registry.Register(types.JobTypeUserNotification, func(ctx context.Context, task *types.Task) error {
		return errors.New("downstream unavailable")
	})

	task, _, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{MaxAttempts: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	worker := NewWorker(q.db, logger.NewNop(), repo, registry, lanes, backoff)
	cfg := lanes[LaneNotification]

	reload := func() *types.Task {
		t.Helper()
		got, err := repo.GetByIDs(ctx, nil, []uuid.UUID{task.ID})
		if err != nil || len(got) == 0 {
			t.Fatalf("reload task: tasks=%d err=%v", len(got), err)
		}
		return got[0]
	}

	// First attempt fails and is rescheduled with a backoff delay.
	claimed, err := repo.ClaimNextRunnable(ctx, nil, LaneNotification, cfg.StaleRunning)
	if err != nil || claimed == nil {
		t.Fatalf("claim 1: task=%v err=%v", claimed, err)
	}
	worker.runOne(ctx, cfg, claimed)

	after := reload()
	if after.Status != types.TaskStatusFailed {
		t.Fatalf("after attempt 1: status=%s, want failed", after.Status)
	}
	if after.Error == "" {
		t.Fatalf("after attempt 1: error not recorded")
	}
	if !after.RunAt.After(time.Now()) {
		t.Fatalf("after attempt 1: run_at %v should be in the future", after.RunAt)
	}

	// Make it due now, exhaust the second and final attempt.
	if err := repo.UpdateFields(ctx, nil, task.ID, map[string]any{"run_at": time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("force due: %v", err)
	}
	claimed, err = repo.ClaimNextRunnable(ctx, nil, LaneNotification, cfg.StaleRunning)
	if err != nil || claimed == nil {
		t.Fatalf("claim 2: task=%v err=%v", claimed, err)
	}
	worker.runOne(ctx, cfg, claimed)

	after = reload()
	if after.Status != types.TaskStatusDead {
		t.Fatalf("after attempt 2: status=%s, want dead", after.Status)
	}
	if after.Attempts != 2 {
		t.Fatalf("after attempt 2: attempts=%d, want 2", after.Attempts)
	}
}

func TestWorkerHeartbeatKeepsRunningTaskFresh(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()
	lanes := DefaultLanes()

	if _, _, err := q.Enqueue(ctx, nil, LaneNotification, types.JobTypeUserNotification, notifyPayload{}, EnqueueOpts{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimed, err := repo.ClaimNextRunnable(ctx, nil, LaneNotification, lanes[LaneNotification].StaleRunning)
	if err != nil || claimed == nil {
		t.Fatalf("claim: task=%v err=%v", claimed, err)
	}
	if claimed.HeartbeatAt == nil {
		t.Fatalf("claim must set the initial heartbeat")
	}
	claimHeartbeat := *claimed.HeartbeatAt

	var midRun *time.Time
	registry := NewRegistry()
	registry.Register(types.JobTypeUserNotification, func(ctx context.Context, task *types.Task) error {
		time.Sleep(50 * time.Millisecond)
		got, err := repo.GetByIDs(ctx, nil, []uuid.UUID{task.ID})
		if err != nil || len(got) == 0 {
			t.Errorf("reload mid-run: tasks=%d err=%v", len(got), err)
			return nil
		}
		midRun = got[0].HeartbeatAt
		return nil
	})

	worker := NewWorker(q.db, logger.NewNop(), repo, registry, lanes, DefaultBackoffConfig())
	worker.heartbeatEvery = 5 * time.Millisecond
	worker.runOne(ctx, lanes[LaneNotification], claimed)

	if midRun == nil {
		t.Fatalf("heartbeat cleared while the handler was still running")
	}
	if !midRun.After(claimHeartbeat) {
		t.Fatalf("heartbeat %v not refreshed past claim time %v", midRun, claimHeartbeat)
	}
}

func TestWorkerMissingHandlerGoesDead(t *testing.T) {
	q, repo := newTestQueue(t)
	ctx := context.Background()
	lanes := DefaultLanes()

	task, _, err := q.Enqueue(ctx, nil, LaneNotification, "unknown_job_type", notifyPayload{}, EnqueueOpts{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	worker := NewWorker(q.db, logger.NewNop(), repo, NewRegistry(), lanes, DefaultBackoffConfig())
	claimed, err := repo.ClaimNextRunnable(ctx, nil, LaneNotification, lanes[LaneNotification].StaleRunning)
	if err != nil || claimed == nil {
		t.Fatalf("claim: task=%v err=%v", claimed, err)
	}
	worker.runOne(ctx, lanes[LaneNotification], claimed)

	got, err := repo.GetByIDs(ctx, nil, []uuid.UUID{task.ID})
	if err != nil || len(got) == 0 {
		t.Fatalf("reload: %v", err)
	}
	if got[0].Status != types.TaskStatusDead {
		t.Fatalf("missing handler: status=%s, want dead", got[0].Status)
	}
}
