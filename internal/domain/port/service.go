package port

import (
	"context"
	"io"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
)

type ProjectService interface {
	CreateProject(ctx context.Context, p entity.NewProject) (*entity.Project, error)
	ListProjects(ctx context.Context) ([]entity.Project, error)
	GetProject(ctx context.Context, id entity.ProjectID) (*entity.Project, error)
	ListProjectVideos(ctx context.Context, id entity.ProjectID) ([]entity.Video, error)
}

type VideoService interface {
	UploadVideo(ctx context.Context, projectID entity.ProjectID, file entity.VideoFile) (*entity.Video, error)
	GetVideo(ctx context.Context, id entity.VideoID) (*entity.Video, error)
}

type FrameService interface {
	ListFrames(ctx context.Context, videoID entity.VideoID) ([]entity.Frame, error)
	ExtractFrames(ctx context.Context, videoID entity.VideoID, req entity.ExtractionRequest) ([]entity.Frame, error)
	DeleteFrames(ctx context.Context, videoID entity.VideoID) error
	GetFrame(ctx context.Context, id entity.FrameID) (*entity.Frame, error)
	FrameImage(ctx context.Context, id entity.FrameID) (io.ReadCloser, error)
	FrameImageURL(id entity.FrameID) string
}

type StageConfigService interface {
	CreateStageConfig(ctx context.Context, cfg entity.StageConfig) (*entity.StageConfig, error)
	ListStageConfigs(ctx context.Context, videoID entity.VideoID) ([]entity.StageConfig, error)
}

type OCRService interface {
	ProcessOCR(ctx context.Context, videoID entity.VideoID, params entity.OCRParams) (*entity.OCRProcessSummary, error)
	ListOCRResults(ctx context.Context, videoID entity.VideoID) ([]entity.OCRResult, error)
	EnhancedOCRResults(ctx context.Context, videoID entity.VideoID) ([]entity.EnhancedOCRResult, error)
	DeleteOCRResults(ctx context.Context, videoID entity.VideoID) error
	OCRStorageInfo(ctx context.Context, videoID entity.VideoID) (*entity.OCRStorageInfo, error)
}

type SystemService interface {
	SystemInfo(ctx context.Context) (*entity.SystemInfo, error)
}

// AnalysisService is the whole remote request surface.
type AnalysisService interface {
	ProjectService
	VideoService
	FrameService
	StageConfigService
	OCRService
	SystemService
}
