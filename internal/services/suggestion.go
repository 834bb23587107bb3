package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisclient "github.com/coursecraft/coursecraft-backend/internal/clients/redis"
	"github.com/coursecraft/coursecraft-backend/internal/jobs"
	"github.com/coursecraft/coursecraft-backend/internal/logger"
	"github.com/coursecraft/coursecraft-backend/internal/repos"
	"github.com/coursecraft/coursecraft-backend/internal/types"
)

// SuggestionService accepts content-improvement suggestions and processes
// them asynchronously: an AI triage call decides accept or reject, and an
// accepted suggestion targeting an article enqueues one regeneration task.
// The dedup key keeps a burst of suggestions against the same article from
// fanning out into a regeneration storm.
type SuggestionService interface {
	Submit(ctx context.Context, userID, courseID uuid.UUID, articleID *uuid.UUID, body string) (*types.Suggestion, error)
	RegisterHandlers(reg *jobs.Registry)
}

type suggestionService struct {
	db  *gorm.DB
	log *logger.Logger

	repo    repos.SuggestionRepo
	queue   *jobs.Queue
	limiter redisclient.RateLimitCoordinator
	ai      CompletionClient
}

func NewSuggestionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.SuggestionRepo,
	queue *jobs.Queue,
	limiter redisclient.RateLimitCoordinator,
	ai CompletionClient,
) SuggestionService {
	return &suggestionService{
		db:      db,
		log:     baseLog.With("service", "SuggestionService"),
		repo:    repo,
		queue:   queue,
		limiter: limiter,
		ai:      ai,
	}
}

func (s *suggestionService) RegisterHandlers(reg *jobs.Registry) {
	reg.Register(types.JobTypeSuggestionProcess, s.handleProcess)
}

func (s *suggestionService) Submit(ctx context.Context, userID, courseID uuid.UUID, articleID *uuid.UUID, body string) (*types.Suggestion, error) {
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("suggestion body is empty")
	}
	now := time.Now()
	suggestion := &types.Suggestion{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		ArticleID: articleID,
		Body:      body,
		Status:    types.SuggestionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.repo.Create(ctx, tx, []*types.Suggestion{suggestion}); err != nil {
			return fmt.Errorf("create suggestion: %w", err)
		}
		job := types.SuggestionProcessJob{SuggestionID: suggestion.ID}
		if _, _, err := s.queue.Enqueue(ctx, tx, jobs.LaneSuggestion, types.JobTypeSuggestionProcess, job, jobs.EnqueueOpts{
			DedupKey: "suggestion:" + suggestion.ID.String(),
		}); err != nil {
			return fmt.Errorf("enqueue suggestion processing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return suggestion, nil
}

func (s *suggestionService) handleProcess(ctx context.Context, task *types.Task) error {
	var job types.SuggestionProcessJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return fmt.Errorf("decode suggestion payload: %w", err)
	}
	suggestion, err := s.repo.GetByID(ctx, nil, job.SuggestionID)
	if err != nil {
		return fmt.Errorf("load suggestion: %w", err)
	}
	if suggestion == nil {
		s.log.Warn("suggestion vanished before processing", "suggestion_id", job.SuggestionID)
		return nil
	}
	if suggestion.Status != types.SuggestionStatusPending {
		return nil
	}

	win, err := s.limiter.Check(ctx, s.ai.Provider(), s.ai.Model())
	if err == nil && win.Throttled {
		return &types.RateLimitError{
			Provider:   s.ai.Provider(),
			Model:      s.ai.Model(),
			RetryAfter: time.Duration(win.SecondsRemaining) * time.Second,
		}
	}

	triageSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"accept":     map[string]any{"type": "boolean"},
			"resolution": map[string]any{"type": "string"},
		},
		"required":             []string{"accept", "resolution"},
		"additionalProperties": false,
	}
	out, err := s.ai.GenerateJSON(ctx,
		"You triage reader suggestions for course content. Accept concrete, actionable content-improvement suggestions; reject spam, abuse, and vague complaints. Explain the decision in one sentence.",
		"Suggestion:\n"+suggestion.Body,
		"suggestion_triage",
		triageSchema,
	)
	if err != nil {
		return err
	}

	accept, _ := out["accept"].(bool)
	resolution := fmt.Sprint(out["resolution"])
	status := types.SuggestionStatusRejected
	if accept {
		status = types.SuggestionStatusAccepted
	}
	if err := s.repo.UpdateFields(ctx, nil, suggestion.ID, map[string]any{
		"status":     status,
		"resolution": resolution,
	}); err != nil {
		return fmt.Errorf("resolve suggestion: %w", err)
	}

	if accept && suggestion.ArticleID != nil {
		regen := types.ArticleRegenJob{
			ArticleID: *suggestion.ArticleID,
			UserID:    suggestion.UserID,
			Reason:    suggestion.Body,
		}
		_, enqueued, err := s.queue.Enqueue(ctx, nil, jobs.LaneArtifactRegen, types.JobTypeArticleRegen, regen, jobs.EnqueueOpts{
			DedupKey: "regen:" + suggestion.ArticleID.String(),
		})
		if err != nil {
			return fmt.Errorf("enqueue regeneration: %w", err)
		}
		if !enqueued {
			s.log.Info("regeneration already scheduled", "article_id", *suggestion.ArticleID)
		}
	}
	return nil
}
