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
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

type ExamHandler struct {
	log  *logger.Logger
	exam services.ExamService
}

func NewExamHandler(log *logger.Logger, exam services.ExamService) *ExamHandler {
	return &ExamHandler{
		log:  log.With("handler", "ExamHandler"),
		exam: exam,
	}
}

func (h *ExamHandler) GenerateSession(c *gin.Context) {
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

	session, questions, err := h.exam.GenerateSession(c.Request.Context(), rd.UserID, courseID)
	if err != nil {
		var elig *types.EligibilityError
		var cooldown *types.CooldownError
		var bank *types.InsufficientBankError
		switch {
		case errors.As(err, &elig):
			c.JSON(http.StatusConflict, gin.H{"reason": elig.Error(), "code": "not_eligible"})
		case errors.As(err, &cooldown):
			c.JSON(http.StatusConflict, gin.H{"reason": cooldown.Error(), "code": "cooldown", "can_retake_at": cooldown.CanRetakeAt})
		case errors.As(err, &bank):
			c.JSON(http.StatusConflict, gin.H{"reason": bank.Error(), "code": "insufficient_bank"})
		case errors.Is(err, types.ErrExamAlreadyPassed):
			c.JSON(http.StatusConflict, gin.H{"reason": err.Error(), "code": "already_passed"})
		default:
			h.log.Error("GenerateSession failed", "error", err, "course_id", courseID)
			RespondError(c, http.StatusInternalServerError, "generate_session_failed", err)
		}
		return
	}
	RespondOK(c, gin.H{"session_id": session.ID, "questions": questions, "total_points": session.TotalPoints})
}

type submitExamRequest struct {
	Answers map[uuid.UUID]string `json:"answers" binding:"required"`
}

func (h *ExamHandler) SubmitSession(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return
	}
	var req submitExamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.exam.SubmitSession(c.Request.Context(), rd.UserID, sessionID, req.Answers)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, http.StatusNotFound, "session_not_found", err)
			return
		}
		h.log.Error("SubmitSession failed", "error", err, "session_id", sessionID)
		RespondError(c, http.StatusBadRequest, "submit_session_failed", err)
		return
	}
	RespondOK(c, result)
}

func (h *ExamHandler) Status(c *gin.Context) {
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
	status, err := h.exam.Status(c.Request.Context(), rd.UserID, courseID)
	if err != nil {
		h.log.Error("Status failed", "error", err, "course_id", courseID)
		RespondError(c, http.StatusInternalServerError, "exam_status_failed", err)
		return
	}
	RespondOK(c, status)
}
