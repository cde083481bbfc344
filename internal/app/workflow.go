package app

import (
	"context"
	"fmt"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/port"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/config"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/httpapi"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/memory"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/postgres"
	"github.com/fiapx/fiapx-video-analysis/internal/usecase"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Workflow is the analysis client stack shared by the worker and the CLI.
type Workflow struct {
	API      *httpapi.Client
	Workflow *usecase.WorkflowClient
	Runs     port.OCRRunRepository

	pool *pgxpool.Pool
}

// NewWorkflow connects the run store (Postgres when DATABASE_URL is set,
// memory otherwise) and builds the workflow over the service client.
// events may be nil.
func NewWorkflow(ctx context.Context, cfg *config.Config, log *zap.Logger, events port.StatusPublisher) (*Workflow, error) {
	api, err := httpapi.NewClient(httpapi.ClientConfig{
		BaseURL:        cfg.APIBaseURL,
		ReadTimeout:    cfg.APIReadTimeout,
		LongTimeout:    cfg.APILongTimeout,
		DefaultHeaders: cfg.APIDefaultHeaders,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}

	w := &Workflow{API: api}
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL not set, keeping OCR runs in memory")
		w.Runs = memory.NewOCRRunRepository()
	} else {
		if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		w.pool, err = postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		w.Runs = postgres.NewOCRRunRepository(w.pool)
	}

	resolver := usecase.NewStageResolver()
	coord := usecase.NewOCRCoordinator(api, resolver, w.Runs, events, log, usecase.CoordinatorConfig{
		Policy: MatchPolicy(cfg),
	})
	w.Workflow = usecase.NewWorkflowClient(api, resolver, coord, log)
	return w, nil
}

func MatchPolicy(cfg *config.Config) entity.MatchPolicy {
	return entity.MatchPolicy{
		CaseSensitive: cfg.MatchCaseSensitive,
		ExactMatch:    cfg.MatchExact,
		MinConfidence: cfg.MatchMinConfidence,
	}
}

func OCRDefaults(cfg *config.Config) entity.OCRParams {
	return entity.OCRParams{Lang: cfg.OCRLang, UseGPU: cfg.OCRUseGPU, RequireAllFrames: cfg.OCRRequireAllFrames}
}

func (w *Workflow) Close() {
	if w.pool != nil {
		w.pool.Close()
	}
}
