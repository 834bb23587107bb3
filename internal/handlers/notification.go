package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/requestdata"
	"github.com/coursecraft/coursecraft-backend/internal/services"
)

type NotificationHandler struct {
	log      *logger.Logger
	notifier services.NotifierService
}

func NewNotificationHandler(log *logger.Logger, notifier services.NotifierService) *NotificationHandler {
	return &NotificationHandler{
		log:      log.With("handler", "NotificationHandler"),
		notifier: notifier,
	}
}

func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	notifications, err := h.notifier.ListForUser(c.Request.Context(), rd.UserID, limit)
	if err != nil {
		h.log.Error("ListNotifications failed", "error", err, "user_id", rd.UserID)
		RespondError(c, http.StatusInternalServerError, "list_notifications_failed", err)
		return
	}
	RespondOK(c, gin.H{"notifications": notifications})
}
