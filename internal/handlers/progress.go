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

type ProgressHandler struct {
	log        *logger.Logger
	progress   services.ProgressService
	engagement services.EngagementService
}

func NewProgressHandler(log *logger.Logger, progress services.ProgressService, engagement services.EngagementService) *ProgressHandler {
	return &ProgressHandler{
		log:        log.With("handler", "ProgressHandler"),
		progress:   progress,
		engagement: engagement,
	}
}

type articleProgressRequest struct {
	TimeSpentSeconds int     `json:"time_spent_seconds"`
	ScrollPercentage float64 `json:"scroll_percentage"`
	Completed        bool    `json:"completed"`
}

func (h *ProgressHandler) RecordArticleProgress(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	articleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_article_id", err)
		return
	}
	var req articleProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.progress.RecordArticleProgress(c.Request.Context(), rd.UserID, articleID, req.TimeSpentSeconds, req.ScrollPercentage, req.Completed); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, http.StatusNotFound, "article_not_found", err)
			return
		}
		h.log.Error("RecordArticleProgress failed", "error", err, "article_id", articleID)
		RespondError(c, http.StatusBadRequest, "record_progress_failed", err)
		return
	}
	RespondOK(c, gin.H{"recorded": true})
}

type quizAttemptRequest struct {
	CourseID     uuid.UUID  `json:"course_id" binding:"required"`
	SectionID    *uuid.UUID `json:"section_id"`
	ArticleID    *uuid.UUID `json:"article_id"`
	Kind         string     `json:"kind" binding:"required"`
	ScorePercent float64    `json:"score_percent"`
}

func (h *ProgressHandler) RecordQuizAttempt(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	var req quizAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	attempt, err := h.progress.RecordQuizAttempt(c.Request.Context(), rd.UserID, req.CourseID, req.SectionID, req.ArticleID, req.Kind, req.ScorePercent)
	if err != nil {
		h.log.Error("RecordQuizAttempt failed", "error", err, "course_id", req.CourseID)
		RespondError(c, http.StatusBadRequest, "record_attempt_failed", err)
		return
	}
	RespondOK(c, gin.H{"attempt": attempt})
}

type interactionRequest struct {
	Type string `json:"type" binding:"required"`
}

func (h *ProgressHandler) RecordInteraction(c *gin.Context) {
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
	var req interactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.progress.RecordInteraction(c.Request.Context(), rd.UserID, courseID, req.Type); err != nil {
		h.log.Error("RecordInteraction failed", "error", err, "course_id", courseID)
		RespondError(c, http.StatusBadRequest, "record_interaction_failed", err)
		return
	}
	RespondOK(c, gin.H{"recorded": true})
}

func (h *ProgressHandler) EngagementScore(c *gin.Context) {
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
	breakdown, err := h.engagement.ScoreForCourse(c.Request.Context(), rd.UserID, courseID)
	if err != nil {
		h.log.Error("EngagementScore failed", "error", err, "course_id", courseID)
		RespondError(c, http.StatusInternalServerError, "engagement_score_failed", err)
		return
	}
	RespondOK(c, breakdown)
}
