package port

import (
	"context"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
)

type OCRRunRepository interface {
	Create(ctx context.Context, run *entity.OCRRun) error
	Update(ctx context.Context, run *entity.OCRRun) error
	FindByID(ctx context.Context, id entity.RunID) (*entity.OCRRun, error)
	LatestByVideo(ctx context.Context, videoID entity.VideoID) (*entity.OCRRun, error)
	CountByVideo(ctx context.Context, videoID entity.VideoID) (int, error)
}
