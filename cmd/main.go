package main

import (
	"context"
	"fmt"
	"os"

	"github.com/coursecraft/coursecraft-backend/internal/clients/redis"
	"github.com/coursecraft/coursecraft-backend/internal/db"
	"github.com/coursecraft/coursecraft-backend/internal/handlers"
	"github.com/coursecraft/coursecraft-backend/internal/jobs"
	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/middleware"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/server"
	"github.com/coursecraft/coursecraft-backend/internal/services"
	"github.com/coursecraft/coursecraft-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	taskRepo := repos.NewTaskRepo(thePG, log)
	courseRepo := repos.NewCourseRepo(thePG, log)
	sectionRepo := repos.NewSectionRepo(thePG, log)
	articleRepo := repos.NewArticleRepo(thePG, log)
	quizQuestionRepo := repos.NewQuizQuestionRepo(thePG, log)
	questionBankRepo := repos.NewQuestionBankRepo(thePG, log)
	examSessionRepo := repos.NewExamSessionRepo(thePG, log)
	examAnswerRepo := repos.NewExamAnswerRepo(thePG, log)
	articleProgressRepo := repos.NewArticleProgressRepo(thePG, log)
	quizAttemptRepo := repos.NewQuizAttemptRepo(thePG, log)
	interactionRepo := repos.NewUserInteractionRepo(thePG, log)
	certificateRepo := repos.NewCertificateRepo(thePG, log)
	notificationRepo := repos.NewNotificationRepo(thePG, log)
	suggestionRepo := repos.NewSuggestionRepo(thePG, log)
	aiCallLogRepo := repos.NewAICallLogRepo(thePG, log)

	// Queue
	log.Info("Setting up task queue from main...")
	lanes := jobs.DefaultLanes()
	queue := jobs.NewQueue(thePG, log, taskRepo, lanes)
	registry := jobs.NewRegistry()

	// Clients
	limiter, err := redis.NewRateLimitCoordinator(log)
	if err != nil {
		log.Error("Could not init rate-limit coordinator", "error", err)
		os.Exit(1)
	}
	openaiClient, err := services.NewOpenAIClient(log, aiCallLogRepo)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up Services from main...")
	engagementService := services.NewEngagementService(thePG, log, articleRepo, articleProgressRepo, quizAttemptRepo, interactionRepo)
	certificateService := services.NewCertificateService(thePG, log, certificateRepo)
	courseGenService := services.NewCourseGenerationService(
		thePG,
		log,
		queue,
		limiter,
		openaiClient,
		courseRepo,
		sectionRepo,
		articleRepo,
		quizQuestionRepo,
		questionBankRepo,
	)
	examCfg := services.DefaultExamConfig()
	examCfg.QuestionCount = utils.GetEnvAsInt("EXAM_QUESTION_COUNT", examCfg.QuestionCount, log)
	examCfg.PassMarkPercent = utils.GetEnvAsFloat("EXAM_PASS_MARK_PERCENT", examCfg.PassMarkPercent, log)
	examCfg.CompletionThreshold = utils.GetEnvAsFloat("EXAM_COMPLETION_THRESHOLD", examCfg.CompletionThreshold, log)
	examCfg.EngagementThreshold = utils.GetEnvAsFloat("EXAM_ENGAGEMENT_THRESHOLD", examCfg.EngagementThreshold, log)
	examCfg.MinQuizAverage = utils.GetEnvAsFloat("EXAM_MIN_QUIZ_AVERAGE", examCfg.MinQuizAverage, log)
	examCfg.EssayFallbackCredit = utils.GetEnvAsFloat("EXAM_ESSAY_FALLBACK_CREDIT", examCfg.EssayFallbackCredit, log)
	examCfg.EssayGradingParallel = utils.GetEnvAsInt("EXAM_ESSAY_GRADING_PARALLEL", examCfg.EssayGradingParallel, log)
	examService := services.NewExamService(
		thePG,
		log,
		examCfg,
		questionBankRepo,
		examSessionRepo,
		examAnswerRepo,
		quizAttemptRepo,
		engagementService,
		certificateService,
		openaiClient,
		queue,
		nil,
	)
	progressService := services.NewProgressService(thePG, log, articleRepo, articleProgressRepo, quizAttemptRepo, interactionRepo)
	notifierService := services.NewNotifierService(thePG, log, notificationRepo)
	suggestionService := services.NewSuggestionService(thePG, log, suggestionRepo, queue, limiter, openaiClient)

	// Job handlers + worker
	log.Info("Registering job handlers from main...")
	courseGenService.RegisterHandlers(registry)
	notifierService.RegisterHandlers(registry)
	suggestionService.RegisterHandlers(registry)
	worker := jobs.NewWorker(thePG, log, taskRepo, registry, lanes, jobs.DefaultBackoffConfig())
	worker.Start(context.Background())

	// Handlers
	log.Info("Setting up handlers from main...")
	courseHandler := handlers.NewCourseHandler(log, courseGenService, suggestionService)
	examHandler := handlers.NewExamHandler(log, examService)
	progressHandler := handlers.NewProgressHandler(log, progressService, engagementService)
	notificationHandler := handlers.NewNotificationHandler(log, notifierService)
	adminTaskHandler := handlers.NewAdminTaskHandler(log, queue)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:      authMiddleware,
		CourseHandler:       courseHandler,
		ExamHandler:         examHandler,
		ProgressHandler:     progressHandler,
		NotificationHandler: notificationHandler,
		AdminTaskHandler:    adminTaskHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
