package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/types"
	"github.com/coursecraft/coursecraft-backend/internal/utils"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := utils.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := utils.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := utils.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := utils.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := utils.GetEnv("POSTGRES_NAME", "coursecraft", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	serviceLog.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	return AutoMigrate(s.db)
}

// AutoMigrate is shared with the sqlite-backed test harness.
func AutoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&types.Task{},
		&types.Course{},
		&types.Section{},
		&types.Article{},
		&types.QuizQuestion{},
		&types.QuestionBankItem{},
		&types.ExamSession{},
		&types.ExamQuestion{},
		&types.ExamAnswer{},
		&types.Certificate{},
		&types.ArticleProgress{},
		&types.QuizAttempt{},
		&types.UserInteraction{},
		&types.Notification{},
		&types.Suggestion{},
		&types.AICallLog{},
	)
}
