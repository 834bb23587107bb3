package services

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

// CertificateIssuer is the exam engine's pass-side collaborator. Issue is
// idempotent per (user, course): a re-pass returns the original certificate.
type CertificateIssuer interface {
	Issue(ctx context.Context, userID, courseID uuid.UUID, finalExamScore float64) (*types.Certificate, error)
	GetForUserCourse(ctx context.Context, userID, courseID uuid.UUID) (*types.Certificate, error)
}

type certificateService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.CertificateRepo
}

func NewCertificateService(db *gorm.DB, baseLog *logger.Logger, repo repos.CertificateRepo) CertificateIssuer {
	return &certificateService{
		db:   db,
		log:  baseLog.With("service", "CertificateService"),
		repo: repo,
	}
}

func (s *certificateService) Issue(ctx context.Context, userID, courseID uuid.UUID, finalExamScore float64) (*types.Certificate, error) {
	existing, err := s.repo.GetByUserCourse(ctx, nil, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("check existing certificate: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	cert := &types.Certificate{
		ID:             uuid.New(),
		UserID:         userID,
		CourseID:       courseID,
		FinalExamScore: finalExamScore,
		IssuedAt:       time.Now(),
	}
	if _, err := s.repo.Create(ctx, nil, []*types.Certificate{cert}); err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	s.log.Info("certificate issued", "user_id", userID, "course_id", courseID, "score", finalExamScore)
	return cert, nil
}

func (s *certificateService) GetForUserCourse(ctx context.Context, userID, courseID uuid.UUID) (*types.Certificate, error) {
	return s.repo.GetByUserCourse(ctx, nil, userID, courseID)
}
