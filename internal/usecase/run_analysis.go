package usecase

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/port"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type RunAnalysisUseCase struct {
	workflow  *WorkflowClient
	source    port.VideoSource
	reports   port.ReportStorage
	archiver  port.Archiver
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	tempDir   string
	ocr       entity.OCRParams
}

type RunAnalysisConfig struct {
	TempDir string
	// OCR fills the fields a request leaves unset.
	OCR entity.OCRParams
}

func NewRunAnalysisUseCase(
	workflow *WorkflowClient,
	source port.VideoSource,
	reports port.ReportStorage,
	archiver port.Archiver,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg RunAnalysisConfig,
) *RunAnalysisUseCase {
	return &RunAnalysisUseCase{
		workflow:  workflow,
		source:    source,
		reports:   reports,
		archiver:  archiver,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		tempDir:   cfg.TempDir,
		ocr:       cfg.OCR,
	}
}

func ReportKey(requestID uuid.UUID) string  { return requestID.String() + "/report.json" }
func ArchiveKey(requestID uuid.UUID) string { return requestID.String() + "/frames.zip" }

// Execute runs one analysis request. A returned error asks the consumer to
// requeue the message; that only happens for failures before the video is
// uploaded, since an upload cannot be safely repeated.
func (uc *RunAnalysisUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	ctx, span := otel.Tracer("usecase").Start(ctx, "RunAnalysisUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.AnalysisRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		metrics.PipelinesProcessedTotal.WithLabelValues("invalid").Inc()
		return nil
	}
	if reason := validateRequest(msg); reason != "" {
		uc.logger.Error("rejecting invalid request", zap.String("reason", reason), zap.String("request_id", msg.RequestID.String()))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "invalid_request: "+reason)
		metrics.PipelinesProcessedTotal.WithLabelValues("invalid").Inc()
		return nil
	}

	span.SetAttributes(
		attribute.String("request.id", msg.RequestID.String()),
		attribute.String("request.video_key", msg.VideoKey),
	)
	log := uc.logger.With(zap.String("request_id", msg.RequestID.String()), zap.String("video_key", msg.VideoKey))

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	status := entity.AnalysisStatusMessage{RequestID: msg.RequestID, Status: entity.AnalysisStatusProcessing, VideoKey: msg.VideoKey}
	uc.publishStatus(ctx, status, log)

	var project *entity.Project
	err := uc.step(ctx, "resolve_project", func(ctx context.Context) error {
		var err error
		project, err = uc.resolveProject(ctx, msg)
		return err
	})
	if err != nil {
		return uc.handlePreUploadFailure(ctx, msg, rawMsg, "resolve_project: "+err.Error(), err, log)
	}
	status.ProjectID = project.ID

	var video *entity.Video
	err = uc.step(ctx, "upload_video", func(ctx context.Context) error {
		rc, size, err := uc.source.OpenVideo(ctx, msg.VideoKey)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		defer rc.Close()
		// Past this call a retry could create a duplicate video.
		video, err = uc.workflow.UploadVideo(ctx, project.ID, entity.VideoFile{Name: path.Base(msg.VideoKey), Reader: rc, Size: size})
		if err != nil {
			return &uploadError{err: err}
		}
		return nil
	})
	if err != nil {
		var ue *uploadError
		if !errors.As(err, &ue) {
			return uc.handlePreUploadFailure(ctx, msg, rawMsg, "upload_video: "+err.Error(), err, log)
		}
		return uc.handlePermanentFailure(ctx, msg, rawMsg, status, "upload_video: "+err.Error(), log)
	}
	status.VideoID = video.ID
	log = log.With(zap.String("video_id", video.ID.String()))
	// Each request uploads its own video; nothing reads its state afterwards.
	defer uc.workflow.ForgetVideo(video.ID)

	report, err := uc.analyze(ctx, msg, project, video, log)
	if err != nil {
		return uc.handlePermanentFailure(ctx, msg, rawMsg, status, err.Error(), log)
	}

	status.FrameCount = report.Frames
	for _, ka := range report.Keywords {
		status.MatchCount += ka.MatchCount
	}

	err = uc.step(ctx, "upload_report", func(ctx context.Context) error {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		return uc.reports.UploadReport(ctx, ReportKey(msg.RequestID), bytes.NewReader(data), int64(len(data)), "application/json")
	})
	if err != nil {
		return uc.handlePermanentFailure(ctx, msg, rawMsg, status, "upload_report: "+err.Error(), log)
	}
	status.ReportKey = ReportKey(msg.RequestID)

	if msg.ArchiveFrames {
		if err := uc.step(ctx, "archive_frames", func(ctx context.Context) error {
			return uc.archiveFrames(ctx, msg.RequestID, video.ID)
		}); err != nil {
			return uc.handlePermanentFailure(ctx, msg, rawMsg, status, "archive_frames: "+err.Error(), log)
		}
		status.ArchiveKey = ArchiveKey(msg.RequestID)
	}

	status.Status = entity.AnalysisStatusCompleted
	uc.publishStatus(ctx, status, log)

	metrics.PipelinesProcessedTotal.WithLabelValues("completed").Inc()
	metrics.PipelineStageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	log.Info("analysis completed",
		zap.Int("frame_count", status.FrameCount),
		zap.Int("match_count", status.MatchCount),
		zap.String("report_key", status.ReportKey),
	)
	return nil
}

// uploadError marks a failure of the non-idempotent upload call itself.
type uploadError struct{ err error }

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

func validateRequest(msg entity.AnalysisRequestMessage) string {
	switch {
	case msg.RequestID == uuid.Nil:
		return "request_id is required"
	case strings.TrimSpace(msg.VideoKey) == "":
		return "video_key is required"
	case !msg.ProjectID.Valid() && strings.TrimSpace(msg.ProjectName) == "":
		return "one of project_id or project_name is required"
	case len(msg.Stages) == 0:
		return "at least one stage is required"
	}
	return ""
}

func (uc *RunAnalysisUseCase) resolveProject(ctx context.Context, msg entity.AnalysisRequestMessage) (*entity.Project, error) {
	if msg.ProjectID.Valid() {
		return uc.workflow.GetProject(ctx, msg.ProjectID)
	}
	return uc.workflow.CreateProject(ctx, msg.ProjectName, "", map[string]string{"request_id": msg.RequestID.String()})
}

func (uc *RunAnalysisUseCase) analyze(ctx context.Context, msg entity.AnalysisRequestMessage, project *entity.Project, video *entity.Video, log *zap.Logger) (*entity.AnalysisReport, error) {
	report := &entity.AnalysisReport{RequestID: msg.RequestID, Project: *project, Video: *video}

	stages := slices.Clone(msg.Stages)
	slices.SortStableFunc(stages, func(a, b entity.StageConfig) int { return cmp.Compare(a.StageIndex, b.StageIndex) })

	err := uc.step(ctx, "create_stages", func(ctx context.Context) error {
		for _, st := range stages {
			st.ID = 0
			st.VideoID = video.ID
			created, err := uc.workflow.CreateStageConfig(ctx, st)
			if err != nil {
				return err
			}
			report.Stages = append(report.Stages, *created)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create_stages: %w", err)
	}

	err = uc.step(ctx, "extract_frames", func(ctx context.Context) error {
		for _, st := range report.Stages {
			frames, err := uc.workflow.ExtractFrames(ctx, video.ID, entity.ExtractionParams{StageIndex: st.StageIndex})
			if err != nil {
				return err
			}
			report.Frames += len(frames)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract_frames: %w", err)
	}
	log.Info("frames extracted", zap.Int("stages", len(report.Stages)), zap.Int("frames", report.Frames))

	params := msg.OCR
	if params.Lang == "" {
		params.Lang = uc.ocr.Lang
	}
	params.UseGPU = params.UseGPU || uc.ocr.UseGPU
	params.RequireAllFrames = params.RequireAllFrames || uc.ocr.RequireAllFrames

	err = uc.step(ctx, "ocr", func(ctx context.Context) error {
		run, err := uc.workflow.ProcessVideoOCR(ctx, video.ID, params)
		if err != nil {
			return err
		}
		report.Run = run.Summary
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}

	keywords := msg.Keywords
	if len(normalizeKeywords(keywords)) == 0 {
		for _, st := range report.Stages {
			keywords = append(keywords, st.Keywords...)
		}
	}
	// Both scans share one policy so the report's totals agree.
	policy := msg.MatchPolicy
	err = uc.step(ctx, "analyze_keywords", func(ctx context.Context) error {
		var err error
		if report.Keywords, err = uc.workflow.AnalyzeVideoKeywords(ctx, video.ID, keywords, policy); err != nil {
			return err
		}
		report.ByStage, err = uc.workflow.AnalyzeStageKeywords(ctx, video.ID, policy)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("analyze_keywords: %w", err)
	}
	return report, nil
}

// archiveFrames downloads every current frame image of the video into a work
// dir, zips them and stores the archive next to the report.
func (uc *RunAnalysisUseCase) archiveFrames(ctx context.Context, requestID uuid.UUID, videoID entity.VideoID) error {
	workDir := filepath.Join(uc.tempDir, requestID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	frames, err := uc.workflow.ListFrames(ctx, videoID)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(frames))
	for _, f := range frames {
		p, err := uc.downloadFrame(ctx, workDir, f)
		if err != nil {
			return err
		}
		paths = append(paths, p)
	}

	zipPath := filepath.Join(workDir, "frames.zip")
	if err := uc.archiver.CreateZip(ctx, paths, zipPath); err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	zipFile, err := os.Open(zipPath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zipFile.Close()
	zipStat, err := zipFile.Stat()
	if err != nil {
		return fmt.Errorf("stat zip: %w", err)
	}
	return uc.reports.UploadReport(ctx, ArchiveKey(requestID), zipFile, zipStat.Size(), "application/zip")
}

func (uc *RunAnalysisUseCase) downloadFrame(ctx context.Context, dir string, f entity.Frame) (string, error) {
	ext := path.Ext(f.ImageRef)
	if ext == "" {
		ext = ".jpg"
	}
	name := filepath.Join(dir, fmt.Sprintf("stage%02d_frame%06d%s", f.StageIndex, f.FrameNumber, ext))

	rc, err := uc.workflow.FrameImage(ctx, f.ID)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	out, err := os.Create(name)
	if err != nil {
		return "", fmt.Errorf("create frame file: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return "", fmt.Errorf("download frame %s: %w", f.ID, err)
	}
	return name, out.Close()
}

func (uc *RunAnalysisUseCase) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := otel.Tracer("usecase").Start(ctx, name)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	metrics.PipelineStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	return err
}

// handlePreUploadFailure requeues transient failures. Rejections that will
// never succeed (unknown project, invalid input) go to the DLQ instead.
func (uc *RunAnalysisUseCase) handlePreUploadFailure(
	ctx context.Context,
	msg entity.AnalysisRequestMessage,
	rawMsg []byte,
	errMsg string,
	cause error,
	log *zap.Logger,
) error {
	var (
		nf *errs.NotFoundError
		ve *errs.ValidationError
	)
	if errors.As(cause, &nf) || errors.As(cause, &ve) {
		status := entity.AnalysisStatusMessage{RequestID: msg.RequestID, VideoKey: msg.VideoKey}
		return uc.handlePermanentFailure(ctx, msg, rawMsg, status, errMsg, log)
	}
	log.Warn("retryable failure", zap.String("error", errMsg))
	metrics.PipelinesProcessedTotal.WithLabelValues("retried").Inc()
	return fmt.Errorf("retryable failure: %s", errMsg)
}

func (uc *RunAnalysisUseCase) handlePermanentFailure(
	ctx context.Context,
	msg entity.AnalysisRequestMessage,
	rawMsg []byte,
	status entity.AnalysisStatusMessage,
	errMsg string,
	log *zap.Logger,
) error {
	log.Error("analysis failed", zap.String("error", errMsg))

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	status.Status = entity.AnalysisStatusFailed
	status.ErrorMessage = errMsg
	uc.publishStatus(ctx, status, log)

	metrics.PipelinesProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.NotifyEmail != "" {
		if err := uc.notifier.NotifyFailure(ctx, msg.NotifyEmail, msg.RequestID.String(), msg.VideoKey, errMsg); err != nil {
			log.Warn("failed to send failure notification", zap.Error(err))
		}
	}
	return nil
}

func (uc *RunAnalysisUseCase) publishStatus(ctx context.Context, status entity.AnalysisStatusMessage, log *zap.Logger) {
	data, _ := json.Marshal(status)
	if err := uc.publisher.PublishStatus(ctx, port.EventAnalysisStatus, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
