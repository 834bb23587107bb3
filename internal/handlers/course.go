package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/requestdata"
	"github.com/coursecraft/coursecraft-backend/internal/services"
)

type CourseHandler struct {
	log        *logger.Logger
	generation services.CourseGenerationService
	suggestion services.SuggestionService
}

func NewCourseHandler(log *logger.Logger, generation services.CourseGenerationService, suggestion services.SuggestionService) *CourseHandler {
	return &CourseHandler{
		log:        log.With("handler", "CourseHandler"),
		generation: generation,
		suggestion: suggestion,
	}
}

type createCourseRequest struct {
	Title       string `json:"title" binding:"required"`
	Topic       string `json:"topic" binding:"required"`
	Description string `json:"description"`
	Level       string `json:"level"`
}

func (h *CourseHandler) CreateCourse(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	course, task, err := h.generation.EnqueueGeneration(c.Request.Context(), rd.UserID, req.Title, req.Topic, req.Description, req.Level)
	if err != nil {
		h.log.Error("CreateCourse failed", "error", err, "user_id", rd.UserID)
		RespondError(c, http.StatusInternalServerError, "create_course_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"course": course, "task_id": task.ID})
}

func (h *CourseHandler) GenerationStatus(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	status, err := h.generation.PipelineStatus(c.Request.Context(), courseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, http.StatusNotFound, "course_not_found", err)
			return
		}
		h.log.Error("GenerationStatus failed", "error", err, "course_id", courseID)
		RespondError(c, http.StatusInternalServerError, "generation_status_failed", err)
		return
	}
	RespondOK(c, status)
}

type suggestionRequest struct {
	ArticleID *uuid.UUID `json:"article_id"`
	Body      string     `json:"body" binding:"required"`
}

func (h *CourseHandler) SubmitSuggestion(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return
	}
	var req suggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	suggestion, err := h.suggestion.Submit(c.Request.Context(), rd.UserID, courseID, req.ArticleID, req.Body)
	if err != nil {
		h.log.Error("SubmitSuggestion failed", "error", err, "course_id", courseID)
		RespondError(c, http.StatusInternalServerError, "submit_suggestion_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"suggestion": suggestion})
}
