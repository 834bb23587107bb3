package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/coursecraft/coursecraft-backend/internal/handlers"
	"github.com/coursecraft/coursecraft-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware      *middleware.AuthMiddleware
	CourseHandler       *handlers.CourseHandler
	ExamHandler         *handlers.ExamHandler
	ProgressHandler     *handlers.ProgressHandler
	NotificationHandler *handlers.NotificationHandler
	AdminTaskHandler    *handlers.AdminTaskHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	// Courses
	api.POST("/courses", cfg.CourseHandler.CreateCourse)
	api.GET("/courses/:id/generation", cfg.CourseHandler.GenerationStatus)
	api.POST("/courses/:id/suggestions", cfg.CourseHandler.SubmitSuggestion)
	// Exam
	api.POST("/courses/:id/exam/generate", cfg.ExamHandler.GenerateSession)
	api.GET("/courses/:id/exam/status", cfg.ExamHandler.Status)
	api.POST("/exam/sessions/:id/submit", cfg.ExamHandler.SubmitSession)
	// Progress signals
	api.POST("/articles/:id/progress", cfg.ProgressHandler.RecordArticleProgress)
	api.POST("/quiz-attempts", cfg.ProgressHandler.RecordQuizAttempt)
	api.POST("/courses/:id/interactions", cfg.ProgressHandler.RecordInteraction)
	api.GET("/courses/:id/engagement", cfg.ProgressHandler.EngagementScore)
	// Notifications
	api.GET("/notifications", cfg.NotificationHandler.ListNotifications)
	// Job admin
	api.GET("/admin/tasks", cfg.AdminTaskHandler.ListTasks)
	api.POST("/admin/tasks/:id/retry", cfg.AdminTaskHandler.RetryTask)
	api.POST("/admin/tasks/:id/promote", cfg.AdminTaskHandler.PromoteTask)
	api.DELETE("/admin/tasks/:id", cfg.AdminTaskHandler.RemoveTask)

	return router
}
