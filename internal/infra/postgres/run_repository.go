package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runColumns = `id, video_id, status, attempt, total_frames, processed_frames,
	failed_frames, result_count, error_message, started_at, updated_at, completed_at`

type OCRRunRepository struct {
	pool *pgxpool.Pool
}

func NewOCRRunRepository(pool *pgxpool.Pool) *OCRRunRepository {
	return &OCRRunRepository{pool: pool}
}

func (r *OCRRunRepository) Create(ctx context.Context, run *entity.OCRRun) error {
	query := `INSERT INTO ocr_runs (` + runColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := r.pool.Exec(ctx, query,
		run.ID, int64(run.VideoID), string(run.Status), run.Attempt,
		run.TotalFrames, run.ProcessedFrames, run.FailedFrames, run.ResultCount,
		run.ErrorMessage, run.StartedAt, run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *OCRRunRepository) Update(ctx context.Context, run *entity.OCRRun) error {
	query := `
		UPDATE ocr_runs SET
			status=$2, total_frames=$3, processed_frames=$4, failed_frames=$5,
			result_count=$6, error_message=$7, updated_at=$8, completed_at=$9
		WHERE id=$1`

	tag, err := r.pool.Exec(ctx, query,
		run.ID, string(run.Status), run.TotalFrames, run.ProcessedFrames,
		run.FailedFrames, run.ResultCount, run.ErrorMessage,
		run.UpdatedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run: %s not found", run.ID)
	}
	return nil
}

func (r *OCRRunRepository) FindByID(ctx context.Context, id entity.RunID) (*entity.OCRRun, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM ocr_runs WHERE id=$1`, id))
	if err != nil {
		return nil, fmt.Errorf("find run by id: %w", err)
	}
	return run, nil
}

// LatestByVideo returns nil, nil when the video has no runs.
func (r *OCRRunRepository) LatestByVideo(ctx context.Context, videoID entity.VideoID) (*entity.OCRRun, error) {
	query := `SELECT ` + runColumns + ` FROM ocr_runs
		WHERE video_id=$1 ORDER BY started_at DESC, attempt DESC LIMIT 1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, int64(videoID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

func (r *OCRRunRepository) CountByVideo(ctx context.Context, videoID entity.VideoID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM ocr_runs WHERE video_id=$1`, int64(videoID)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func scanRun(row pgx.Row) (*entity.OCRRun, error) {
	run := &entity.OCRRun{}
	var (
		videoID int64
		status  string
	)
	err := row.Scan(
		&run.ID, &videoID, &status, &run.Attempt,
		&run.TotalFrames, &run.ProcessedFrames, &run.FailedFrames, &run.ResultCount,
		&run.ErrorMessage, &run.StartedAt, &run.UpdatedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	run.VideoID = entity.VideoID(videoID)
	run.Status = entity.OCRRunStatus(status)
	return run, nil
}
