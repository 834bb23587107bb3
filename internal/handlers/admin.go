package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursecraft/coursecraft-backend/internal/jobs"
	"github.com/coursecraft/coursecraft-backend/internal/logger"
)

// AdminTaskHandler exposes the queue's operator surface: inspect lanes,
// retry failed tasks, promote delayed ones, remove dead ones.
type AdminTaskHandler struct {
	log   *logger.Logger
	queue *jobs.Queue
}

func NewAdminTaskHandler(log *logger.Logger, queue *jobs.Queue) *AdminTaskHandler {
	return &AdminTaskHandler{
		log:   log.With("handler", "AdminTaskHandler"),
		queue: queue,
	}
}

func (h *AdminTaskHandler) ListTasks(c *gin.Context) {
	lane := c.Query("lane")
	if lane == "" {
		RespondError(c, http.StatusBadRequest, "missing_lane", errors.New("lane query parameter required"))
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	var statuses []string
	if s := c.Query("status"); s != "" {
		statuses = []string{s}
	}
	tasks, err := h.queue.List(c.Request.Context(), lane, statuses, limit)
	if err != nil {
		if errors.Is(err, jobs.ErrUnknownLane) {
			RespondError(c, http.StatusBadRequest, "unknown_lane", err)
			return
		}
		h.log.Error("ListTasks failed", "error", err, "lane", lane)
		RespondError(c, http.StatusInternalServerError, "list_tasks_failed", err)
		return
	}
	RespondOK(c, gin.H{"tasks": tasks})
}

func (h *AdminTaskHandler) RetryTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_task_id", err)
		return
	}
	task, err := h.queue.Retry(c.Request.Context(), id)
	if err != nil {
		h.respondQueueError(c, "retry_failed", err)
		return
	}
	RespondOK(c, gin.H{"task": task})
}

func (h *AdminTaskHandler) PromoteTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_task_id", err)
		return
	}
	task, err := h.queue.Promote(c.Request.Context(), id)
	if err != nil {
		h.respondQueueError(c, "promote_failed", err)
		return
	}
	RespondOK(c, gin.H{"task": task})
}

func (h *AdminTaskHandler) RemoveTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_task_id", err)
		return
	}
	if err := h.queue.Remove(c.Request.Context(), id); err != nil {
		h.respondQueueError(c, "remove_failed", err)
		return
	}
	RespondOK(c, gin.H{"removed": true})
}

func (h *AdminTaskHandler) respondQueueError(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, jobs.ErrTaskNotFound):
		RespondError(c, http.StatusNotFound, "task_not_found", err)
	case errors.Is(err, jobs.ErrAttemptsExhausted), errors.Is(err, jobs.ErrNotDelayed):
		RespondError(c, http.StatusBadRequest, code, err)
	default:
		h.log.Error("queue admin operation failed", "error", err)
		RespondError(c, http.StatusBadRequest, code, err)
	}
}
