package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/port"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/metrics"
	"go.uber.org/zap"
)

// WorkflowClient exposes every step of the upload, extraction, OCR and
// keyword analysis workflow. Input is validated locally before anything is
// dispatched; remote 404s are reported as NotFoundError.
type WorkflowClient struct {
	api      port.AnalysisService
	resolver *StageResolver
	ocr      *OCRCoordinator
	logger   *zap.Logger
}

func NewWorkflowClient(api port.AnalysisService, resolver *StageResolver, ocr *OCRCoordinator, logger *zap.Logger) *WorkflowClient {
	return &WorkflowClient{api: api, resolver: resolver, ocr: ocr, logger: logger}
}

// asNotFound turns a remote 404 into a NotFoundError that still unwraps to
// the TransportError.
func asNotFound(op, resource, id string, err error) error {
	var te *errs.TransportError
	if errors.As(err, &te) && te.NotFound() {
		return &errs.NotFoundError{Op: op, Resource: resource, ID: id, Err: err}
	}
	return err
}

func invalidID(op, resource string) error {
	return &errs.ValidationError{Op: op, Resource: resource, Field: "id", Reason: "must be positive"}
}

func (w *WorkflowClient) CreateProject(ctx context.Context, name, description string, metadata map[string]string) (*entity.Project, error) {
	const op = "create_project"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &errs.ValidationError{Op: op, Resource: "project", Field: "name", Reason: "must not be empty"}
	}
	p, err := w.api.CreateProject(ctx, entity.NewProject{Name: name, Description: description, Metadata: metadata})
	if err != nil {
		return nil, err
	}
	w.logger.Info("project created", zap.String("project_id", p.ID.String()), zap.String("name", p.Name))
	return p, nil
}

func (w *WorkflowClient) ListProjects(ctx context.Context) ([]entity.Project, error) {
	return w.api.ListProjects(ctx)
}

func (w *WorkflowClient) GetProject(ctx context.Context, id entity.ProjectID) (*entity.Project, error) {
	const op = "get_project"
	if !id.Valid() {
		return nil, invalidID(op, "project")
	}
	p, err := w.api.GetProject(ctx, id)
	if err != nil {
		return nil, asNotFound(op, "project", id.String(), err)
	}
	return p, nil
}

// ListProjectVideos is lazy: nothing is fetched until the sequence is ranged
// over, and every range fetches again.
func (w *WorkflowClient) ListProjectVideos(ctx context.Context, id entity.ProjectID) iter.Seq2[entity.Video, error] {
	const op = "list_project_videos"
	return func(yield func(entity.Video, error) bool) {
		if !id.Valid() {
			yield(entity.Video{}, invalidID(op, "project"))
			return
		}
		videos, err := w.api.ListProjectVideos(ctx, id)
		if err != nil {
			yield(entity.Video{}, asNotFound(op, "project", id.String(), err))
			return
		}
		for _, v := range videos {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// UploadVideo is not idempotent; a retried upload may create a second video.
func (w *WorkflowClient) UploadVideo(ctx context.Context, projectID entity.ProjectID, file entity.VideoFile) (*entity.Video, error) {
	const op = "upload_video"
	switch {
	case !projectID.Valid():
		return nil, invalidID(op, "project")
	case file.Reader == nil:
		return nil, &errs.ValidationError{Op: op, Resource: "video", Field: "file", Reason: "payload is required"}
	case strings.TrimSpace(file.Name) == "":
		return nil, &errs.ValidationError{Op: op, Resource: "video", Field: "file", Reason: "file name is required"}
	}
	v, err := w.api.UploadVideo(ctx, projectID, file)
	if err != nil {
		return nil, asNotFound(op, "project", projectID.String(), err)
	}
	w.logger.Info("video uploaded",
		zap.String("project_id", projectID.String()),
		zap.String("video_id", v.ID.String()),
		zap.Int64("size", v.FileSize),
	)
	return v, nil
}

func (w *WorkflowClient) GetVideo(ctx context.Context, id entity.VideoID) (*entity.Video, error) {
	return w.video(ctx, "get_video", id)
}

func (w *WorkflowClient) video(ctx context.Context, op string, id entity.VideoID) (*entity.Video, error) {
	if !id.Valid() {
		return nil, invalidID(op, "video")
	}
	v, err := w.api.GetVideo(ctx, id)
	if err != nil {
		return nil, asNotFound(op, "video", id.String(), err)
	}
	return v, nil
}

// CreateStageConfig validates the new config together with the video's
// existing ones, so a duplicate stage index never reaches the service.
func (w *WorkflowClient) CreateStageConfig(ctx context.Context, cfg entity.StageConfig) (*entity.StageConfig, error) {
	const op = "create_stage_config"
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return nil, &errs.ValidationError{Op: op, Resource: "stage config", Field: "stage_name", Reason: "must not be empty"}
	}
	v, err := w.video(ctx, op, cfg.VideoID)
	if err != nil {
		return nil, err
	}
	existing, err := w.api.ListStageConfigs(ctx, cfg.VideoID)
	if err != nil {
		return nil, asNotFound(op, "video", cfg.VideoID.String(), err)
	}
	if _, err := w.resolver.Resolve(op, *v, append(existing, cfg)); err != nil {
		return nil, err
	}
	cfg.Params.StageIndex = cfg.StageIndex
	cfg.Keywords = normalizeKeywords(cfg.Keywords)

	created, err := w.api.CreateStageConfig(ctx, cfg)
	if err != nil {
		return nil, asNotFound(op, "video", cfg.VideoID.String(), err)
	}
	return created, nil
}

// ListStageConfigs returns the video's stages in stage order.
func (w *WorkflowClient) ListStageConfigs(ctx context.Context, videoID entity.VideoID) ([]entity.StageConfig, error) {
	const op = "list_stage_configs"
	v, err := w.video(ctx, op, videoID)
	if err != nil {
		return nil, err
	}
	configs, err := w.api.ListStageConfigs(ctx, videoID)
	if err != nil {
		return nil, asNotFound(op, "video", videoID.String(), err)
	}
	return w.resolver.Resolve(op, *v, configs)
}

// ExtractFrames replaces the frames of params.StageIndex. The video's full
// stage set must be valid before anything is dispatched, and the buffered OCR
// results of the video are dropped.
func (w *WorkflowClient) ExtractFrames(ctx context.Context, videoID entity.VideoID, params entity.ExtractionParams) ([]entity.Frame, error) {
	const op = "extract_frames"
	v, err := w.video(ctx, op, videoID)
	if err != nil {
		return nil, err
	}
	configs, err := w.api.ListStageConfigs(ctx, videoID)
	if err != nil {
		return nil, asNotFound(op, "video", videoID.String(), err)
	}
	_, merged, err := w.resolver.ForExtraction(op, *v, configs, params)
	if err != nil {
		return nil, err
	}

	var frames []entity.Frame
	err = w.ocr.Exclusive(ctx, op, videoID, func(ctx context.Context) error {
		out, err := w.api.ExtractFrames(ctx, videoID, entity.ExtractionRequest{ExtractionParams: merged, ReplaceStage: true})
		if err != nil {
			return asNotFound(op, "video", videoID.String(), err)
		}
		for _, f := range out {
			if f.StageIndex != merged.StageIndex {
				return fmt.Errorf("%s video %s: frame %s was tagged stage %d, want %d", op, videoID, f.ID, f.StageIndex, merged.StageIndex)
			}
		}
		frames = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.FramesExtractedTotal.Add(float64(len(frames)))
	w.logger.Info("frames extracted",
		zap.String("video_id", videoID.String()),
		zap.Int("stage_index", merged.StageIndex),
		zap.Int("frames", len(frames)),
	)
	return frames, nil
}

func (w *WorkflowClient) ListFrames(ctx context.Context, videoID entity.VideoID) ([]entity.Frame, error) {
	const op = "list_frames"
	if !videoID.Valid() {
		return nil, invalidID(op, "video")
	}
	frames, err := w.api.ListFrames(ctx, videoID)
	if err != nil {
		return nil, asNotFound(op, "video", videoID.String(), err)
	}
	return frames, nil
}

func (w *WorkflowClient) GetFrame(ctx context.Context, id entity.FrameID) (*entity.Frame, error) {
	const op = "get_frame"
	if !id.Valid() {
		return nil, invalidID(op, "frame")
	}
	f, err := w.api.GetFrame(ctx, id)
	if err != nil {
		return nil, asNotFound(op, "frame", id.String(), err)
	}
	return f, nil
}

// FrameImage streams the frame's image. The caller closes it.
func (w *WorkflowClient) FrameImage(ctx context.Context, id entity.FrameID) (io.ReadCloser, error) {
	const op = "frame_image"
	if !id.Valid() {
		return nil, invalidID(op, "frame")
	}
	rc, err := w.api.FrameImage(ctx, id)
	if err != nil {
		return nil, asNotFound(op, "frame", id.String(), err)
	}
	return rc, nil
}

// GetFrameImageRef builds the image URI without contacting the service.
func (w *WorkflowClient) GetFrameImageRef(id entity.FrameID) (string, error) {
	if !id.Valid() {
		return "", invalidID("get_frame_image_ref", "frame")
	}
	return w.api.FrameImageURL(id), nil
}

// DeleteVideoFrames removes the video's OCR results before its frames so no
// result is left pointing at a deleted frame.
func (w *WorkflowClient) DeleteVideoFrames(ctx context.Context, videoID entity.VideoID) error {
	const op = "delete_video_frames"
	if !videoID.Valid() {
		return invalidID(op, "video")
	}
	return w.ocr.Exclusive(ctx, op, videoID, func(ctx context.Context) error {
		if err := w.api.DeleteOCRResults(ctx, videoID); err != nil {
			return fmt.Errorf("%s video %s: delete ocr results: %w", op, videoID, asNotFound(op, "video", videoID.String(), err))
		}
		if err := w.api.DeleteFrames(ctx, videoID); err != nil {
			return fmt.Errorf("%s video %s: delete frames: %w", op, videoID, asNotFound(op, "video", videoID.String(), err))
		}
		w.logger.Info("video frames deleted", zap.String("video_id", videoID.String()))
		return nil
	})
}

// DeleteOCRResults clears the video's results on the service and locally.
func (w *WorkflowClient) DeleteOCRResults(ctx context.Context, videoID entity.VideoID) error {
	const op = "delete_ocr_results"
	if !videoID.Valid() {
		return invalidID(op, "video")
	}
	return w.ocr.Exclusive(ctx, op, videoID, func(ctx context.Context) error {
		if err := w.api.DeleteOCRResults(ctx, videoID); err != nil {
			return asNotFound(op, "video", videoID.String(), err)
		}
		return nil
	})
}

func (w *WorkflowClient) OCRStorageInfo(ctx context.Context, videoID entity.VideoID) (*entity.OCRStorageInfo, error) {
	const op = "ocr_storage_info"
	if !videoID.Valid() {
		return nil, invalidID(op, "video")
	}
	info, err := w.api.OCRStorageInfo(ctx, videoID)
	if err != nil {
		return nil, asNotFound(op, "video", videoID.String(), err)
	}
	return info, nil
}

func (w *WorkflowClient) SystemInfo(ctx context.Context) (*entity.SystemInfo, error) {
	return w.api.SystemInfo(ctx)
}

func (w *WorkflowClient) ProcessVideoOCR(ctx context.Context, videoID entity.VideoID, params entity.OCRParams) (*OCRRunReport, error) {
	return w.ocr.ProcessVideoOCR(ctx, videoID, params)
}

func (w *WorkflowClient) OCRResults(ctx context.Context, videoID entity.VideoID) ([]entity.OCRResult, error) {
	return w.ocr.OCRResults(ctx, videoID)
}

func (w *WorkflowClient) GetEnhancedOCRResults(ctx context.Context, videoID entity.VideoID) ([]entity.EnhancedOCRResult, error) {
	return w.ocr.GetEnhancedOCRResults(ctx, videoID)
}

func (w *WorkflowClient) AnalyzeVideoKeywords(ctx context.Context, videoID entity.VideoID, keywords []string, policy *entity.MatchPolicy) ([]entity.KeywordAnalysis, error) {
	return w.ocr.AnalyzeVideoKeywords(ctx, videoID, keywords, policy)
}

func (w *WorkflowClient) AnalyzeStageKeywords(ctx context.Context, videoID entity.VideoID, policy *entity.MatchPolicy) ([]entity.StageKeywordAnalysis, error) {
	return w.ocr.AnalyzeStageKeywords(ctx, videoID, policy)
}

// ForgetVideo releases the coordinator's per-video state once a caller has
// finished with the video.
func (w *WorkflowClient) ForgetVideo(videoID entity.VideoID) {
	w.ocr.Forget(videoID)
}

func (w *WorkflowClient) OCRState(videoID entity.VideoID) entity.OCRState {
	return w.ocr.State(videoID)
}

func (w *WorkflowClient) ResyncOCRState(ctx context.Context, videoID entity.VideoID) (entity.OCRState, error) {
	if !videoID.Valid() {
		return "", invalidID("resync_ocr_state", "video")
	}
	return w.ocr.Resync(ctx, videoID)
}
