package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/port"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var resultStates = []entity.OCRState{entity.OCRStateComplete, entity.OCRStateAnalysisComplete}

// videoState is the coordinator's view of one video. lease names the
// operation currently mutating the video; synced is false until local state
// has been confirmed against the service.
type videoState struct {
	state    entity.OCRState
	lease    string
	synced   bool
	snapshot *entity.OCRSnapshot
}

type CoordinatorConfig struct {
	Policy entity.MatchPolicy
	// CleanupTimeout bounds the best-effort removal of partial results after
	// a failed run.
	CleanupTimeout time.Duration
}

// OCRCoordinator sequences OCR runs and keyword analysis per video. Runs for
// the same video never overlap, and readers only ever see the complete result
// set of a single run.
type OCRCoordinator struct {
	api      port.AnalysisService
	resolver *StageResolver
	runs     port.OCRRunRepository
	events   port.StatusPublisher
	logger   *zap.Logger
	cfg      CoordinatorConfig

	mu     sync.Mutex
	videos map[entity.VideoID]*videoState
}

// NewOCRCoordinator wires the coordinator. events may be nil.
func NewOCRCoordinator(
	api port.AnalysisService,
	resolver *StageResolver,
	runs port.OCRRunRepository,
	events port.StatusPublisher,
	logger *zap.Logger,
	cfg CoordinatorConfig,
) *OCRCoordinator {
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = 30 * time.Second
	}
	return &OCRCoordinator{
		api:      api,
		resolver: resolver,
		runs:     runs,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		videos:   make(map[entity.VideoID]*videoState),
	}
}

// OCRRunReport is what ProcessVideoOCR hands back to the caller.
type OCRRunReport struct {
	Run     entity.OCRRun
	State   entity.OCRState
	Summary entity.OCRProcessSummary
}

// lookup must be called with mu held.
func (c *OCRCoordinator) lookup(videoID entity.VideoID) *videoState {
	vs, ok := c.videos[videoID]
	if !ok {
		vs = &videoState{state: entity.OCRStateNotStarted}
		c.videos[videoID] = vs
	}
	return vs
}

func (c *OCRCoordinator) acquire(op string, videoID entity.VideoID) (*videoState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vs := c.lookup(videoID)
	if vs.lease != "" {
		return nil, &errs.StateError{Op: op, VideoID: videoID, State: vs.state, Reason: vs.lease + " is already running for this video"}
	}
	vs.lease = op
	return vs, nil
}

func (c *OCRCoordinator) release(videoID entity.VideoID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookup(videoID).lease = ""
}

// State is the local state, without contacting the service.
func (c *OCRCoordinator) State(videoID entity.VideoID) entity.OCRState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vs, ok := c.videos[videoID]; ok {
		return vs.state
	}
	return entity.OCRStateNotStarted
}

// Forget drops the local view of a video the caller is done with. A video
// held by a running operation is kept. A later call starts unsynced and
// rebuilds its state from the service.
func (c *OCRCoordinator) Forget(videoID entity.VideoID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if vs, ok := c.videos[videoID]; ok && vs.lease == "" {
		delete(c.videos, videoID)
	}
}

// ProcessVideoOCR runs OCR over every current frame of the video and
// atomically replaces the buffered results. An overlapping call for the same
// video fails with a StateError.
func (c *OCRCoordinator) ProcessVideoOCR(ctx context.Context, videoID entity.VideoID, params entity.OCRParams) (*OCRRunReport, error) {
	const op = "process_video_ocr"
	if !videoID.Valid() {
		return nil, &errs.ValidationError{Op: op, Resource: "video", Field: "id", Reason: "must be positive"}
	}

	ctx, span := otel.Tracer("usecase").Start(ctx, "OCRCoordinator.ProcessVideoOCR")
	defer span.End()
	span.SetAttributes(attribute.Int64("video.id", int64(videoID)))

	vs, err := c.acquire(op, videoID)
	if err != nil {
		return nil, err
	}
	defer c.release(videoID)

	c.mu.Lock()
	from := vs.state
	c.mu.Unlock()
	if from == entity.OCRStateInProgress {
		// Only reachable after a resync saw the service still processing.
		return nil, &errs.StateError{Op: op, VideoID: videoID, State: from, Reason: "the service reports a run in progress; resync before retrying"}
	}

	attempts, err := c.runs.CountByVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("%s video %s: count runs: %w", op, videoID, err)
	}
	run := entity.NewOCRRun(videoID, attempts+1)
	if err := c.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("%s video %s: record run: %w", op, videoID, err)
	}
	span.SetAttributes(attribute.String("ocr.run_id", run.ID.String()))
	log := c.logger.With(zap.String("video_id", videoID.String()), zap.String("run_id", run.ID.String()))

	c.mu.Lock()
	vs.state = entity.OCRStateInProgress
	vs.snapshot = nil
	vs.synced = true
	c.mu.Unlock()
	c.noteTransition(ctx, entity.OCRStateMessage{RunID: run.ID, VideoID: videoID, From: from, To: entity.OCRStateInProgress, Cause: op})

	metrics.OCRRunsInFlight.Inc()
	defer metrics.OCRRunsInFlight.Dec()

	snapshot, summary, err := c.runOCR(ctx, videoID, run.ID, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ocr run failed")
		return nil, c.failRun(ctx, vs, run, fmt.Errorf("%s video %s: %w", op, videoID, err), log)
	}

	c.mu.Lock()
	vs.snapshot = snapshot
	vs.state = entity.OCRStateComplete
	c.mu.Unlock()

	run.MarkCompleted(*summary, len(snapshot.Results))
	if err := c.runs.Update(ctx, run); err != nil {
		log.Warn("failed to record completed run", zap.Error(err))
	}
	metrics.OCRRunsTotal.WithLabelValues("completed").Inc()
	c.noteTransition(ctx, entity.OCRStateMessage{RunID: run.ID, VideoID: videoID, From: entity.OCRStateInProgress, To: entity.OCRStateComplete, ResultCount: len(snapshot.Results), Cause: op})

	log.Info("ocr run completed",
		zap.Int("total_frames", summary.TotalFrames),
		zap.Int("failed_frames", summary.FailedFrames),
		zap.Int("results", len(snapshot.Results)),
	)
	return &OCRRunReport{Run: *run, State: entity.OCRStateComplete, Summary: *summary}, nil
}

// runOCR clears old results first because the service skips frames that
// already carry one. The returned snapshot is complete and self-consistent.
func (c *OCRCoordinator) runOCR(ctx context.Context, videoID entity.VideoID, runID entity.RunID, params entity.OCRParams) (*entity.OCRSnapshot, *entity.OCRProcessSummary, error) {
	if err := c.api.DeleteOCRResults(ctx, videoID); err != nil {
		return nil, nil, fmt.Errorf("clear previous results: %w", asNotFound("process_video_ocr", "video", videoID.String(), err))
	}
	summary, err := c.api.ProcessOCR(ctx, videoID, params)
	if err != nil {
		return nil, nil, fmt.Errorf("run ocr: %w", asNotFound("process_video_ocr", "video", videoID.String(), err))
	}
	if params.RequireAllFrames && summary.FailedFrames > 0 {
		return nil, nil, fmt.Errorf("run ocr: %d of %d frames failed recognition", summary.FailedFrames, summary.TotalFrames)
	}
	snapshot, err := c.fetchSnapshot(ctx, videoID, runID)
	if err != nil {
		return nil, nil, err
	}
	return snapshot, summary, nil
}

func (c *OCRCoordinator) fetchSnapshot(ctx context.Context, videoID entity.VideoID, runID entity.RunID) (*entity.OCRSnapshot, error) {
	frames, err := c.api.ListFrames(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	results, err := c.api.ListOCRResults(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	known := make(map[entity.FrameID]struct{}, len(frames))
	for _, f := range frames {
		known[f.ID] = struct{}{}
	}
	byFrame := make(map[entity.FrameID]entity.OCRResult, len(results))
	for _, res := range results {
		if _, ok := known[res.FrameID]; !ok {
			return nil, fmt.Errorf("result %s references frame %s which is not a frame of video %s", res.ID, res.FrameID, videoID)
		}
		if _, dup := byFrame[res.FrameID]; dup {
			return nil, fmt.Errorf("frame %s has more than one result", res.FrameID)
		}
		byFrame[res.FrameID] = res
	}
	return &entity.OCRSnapshot{
		RunID:   runID,
		VideoID: videoID,
		Frames:  frames,
		Results: byFrame,
		TakenAt: time.Now().UTC(),
	}, nil
}

// failRun moves the video to OCRFailed. When the outcome on the service is
// unknown (cancelled or timed out) nothing is cleaned up and the state is
// marked unsynced so the next read resyncs first.
func (c *OCRCoordinator) failRun(ctx context.Context, vs *videoState, run *entity.OCRRun, cause error, log *zap.Logger) error {
	unknown := ctx.Err() != nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded)
	detached := context.WithoutCancel(ctx)

	if !unknown {
		cleanupCtx, cancel := context.WithTimeout(detached, c.cfg.CleanupTimeout)
		if err := c.api.DeleteOCRResults(cleanupCtx, run.VideoID); err != nil {
			log.Warn("failed to clear partial ocr results", zap.Error(err))
		}
		cancel()
	}

	c.mu.Lock()
	vs.state = entity.OCRStateFailed
	vs.snapshot = nil
	vs.synced = !unknown
	c.mu.Unlock()

	status := "failed"
	if unknown {
		status = "cancelled"
		run.MarkCancelled(cause.Error())
	} else {
		run.MarkFailed(cause.Error())
	}
	if err := c.runs.Update(detached, run); err != nil {
		log.Warn("failed to record failed run", zap.Error(err))
	}
	metrics.OCRRunsTotal.WithLabelValues(status).Inc()
	c.noteTransition(detached, entity.OCRStateMessage{RunID: run.ID, VideoID: run.VideoID, From: entity.OCRStateInProgress, To: entity.OCRStateFailed, Cause: "process_video_ocr", ErrorMessage: cause.Error()})

	log.Error("ocr run failed", zap.Bool("outcome_unknown", unknown), zap.Error(cause))
	return cause
}

// Resync rebuilds local state from the service: the video's process status
// and its current OCR results. A video held by a running operation is left
// alone.
func (c *OCRCoordinator) Resync(ctx context.Context, videoID entity.VideoID) (entity.OCRState, error) {
	const op = "resync_ocr_state"
	c.mu.Lock()
	vs := c.lookup(videoID)
	if vs.lease != "" {
		st := vs.state
		c.mu.Unlock()
		return st, nil
	}
	c.mu.Unlock()

	video, err := c.api.GetVideo(ctx, videoID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, asNotFound(op, "video", videoID.String(), err))
	}

	next := entity.OCRStateNotStarted
	var snapshot *entity.OCRSnapshot
	if video.ProcessStatus == entity.ProcessStatusProcessing {
		next = entity.OCRStateInProgress
	} else {
		latest, err := c.runs.LatestByVideo(ctx, videoID)
		if err != nil {
			return "", fmt.Errorf("%s video %s: latest run: %w", op, videoID, err)
		}
		runID := entity.RunID{}
		if latest != nil {
			runID = latest.ID
		}
		snapshot, err = c.fetchSnapshot(ctx, videoID, runID)
		if err != nil {
			return "", fmt.Errorf("%s video %s: %w", op, videoID, err)
		}
		switch {
		case len(snapshot.Results) > 0:
			next = entity.OCRStateComplete
		case video.ProcessStatus == entity.ProcessStatusFailed:
			next = entity.OCRStateFailed
		}
		if next != entity.OCRStateComplete {
			snapshot = nil
		}
	}

	c.mu.Lock()
	if vs.lease != "" {
		st := vs.state
		c.mu.Unlock()
		return st, nil
	}
	from := vs.state
	vs.state, vs.snapshot, vs.synced = next, snapshot, true
	c.mu.Unlock()

	if from != next {
		c.noteTransition(ctx, entity.OCRStateMessage{VideoID: videoID, From: from, To: next, Cause: op})
	}
	return next, nil
}

// requireResults returns the buffered snapshot, resyncing first if local
// state is not trusted. Any state other than OCRComplete/AnalysisComplete, or
// a video held by a running operation, is a StateError.
func (c *OCRCoordinator) requireResults(ctx context.Context, op string, videoID entity.VideoID) (*entity.OCRSnapshot, error) {
	if !videoID.Valid() {
		return nil, &errs.ValidationError{Op: op, Resource: "video", Field: "id", Reason: "must be positive"}
	}
	c.mu.Lock()
	vs := c.lookup(videoID)
	needSync := !vs.synced && vs.lease == ""
	c.mu.Unlock()

	if needSync {
		if _, err := c.Resync(ctx, videoID); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if vs.lease != "" || !vs.state.HasResults() || vs.snapshot == nil {
		return nil, &errs.StateError{Op: op, VideoID: videoID, State: vs.state, Want: resultStates}
	}
	return vs.snapshot, nil
}

// OCRResults returns the buffered results of the last completed run in
// timeline order.
func (c *OCRCoordinator) OCRResults(ctx context.Context, videoID entity.VideoID) ([]entity.OCRResult, error) {
	snap, err := c.requireResults(ctx, "ocr_results", videoID)
	if err != nil {
		return nil, err
	}
	tl := timeline(snap.Frames, snap.Results, entity.MatchPolicy{})
	out := make([]entity.OCRResult, 0, len(tl))
	for _, sf := range tl {
		out = append(out, sf.result)
	}
	return out, nil
}

func (c *OCRCoordinator) GetEnhancedOCRResults(ctx context.Context, videoID entity.VideoID) ([]entity.EnhancedOCRResult, error) {
	const op = "get_enhanced_ocr_results"
	if _, err := c.requireResults(ctx, op, videoID); err != nil {
		return nil, err
	}
	out, err := c.api.EnhancedOCRResults(ctx, videoID)
	if err != nil {
		return nil, asNotFound(op, "video", videoID.String(), err)
	}
	return out, nil
}

func (c *OCRCoordinator) policyOrDefault(op string, p *entity.MatchPolicy) (entity.MatchPolicy, error) {
	pol := c.cfg.Policy
	if p != nil {
		pol = *p
	}
	if pol.MinConfidence < 0 || pol.MinConfidence > 1 {
		return pol, &errs.ValidationError{Op: op, Resource: "match policy", Field: "min_confidence", Reason: "must be within [0,1]"}
	}
	return pol, nil
}

// AnalyzeVideoKeywords scans every buffered result for each keyword. A nil
// policy uses the coordinator default. An empty keyword set returns an empty
// result without touching state.
func (c *OCRCoordinator) AnalyzeVideoKeywords(ctx context.Context, videoID entity.VideoID, keywords []string, policy *entity.MatchPolicy) ([]entity.KeywordAnalysis, error) {
	const op = "analyze_video_keywords"
	kws := normalizeKeywords(keywords)
	if len(kws) == 0 {
		return []entity.KeywordAnalysis{}, nil
	}
	pol, err := c.policyOrDefault(op, policy)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("usecase").Start(ctx, "OCRCoordinator.AnalyzeVideoKeywords")
	defer span.End()
	span.SetAttributes(attribute.Int64("video.id", int64(videoID)), attribute.Int("keywords", len(kws)))

	snap, err := c.requireResults(ctx, op, videoID)
	if err != nil {
		return nil, err
	}
	out := scanKeywords(videoID, nil, kws, timeline(snap.Frames, snap.Results, pol), pol)
	c.countMatches(out)
	c.markAnalyzed(ctx, videoID, snap)
	return out, nil
}

// AnalyzeStageKeywords scans each stage's frames with that stage's keywords,
// in stage order. A nil policy uses the coordinator default.
func (c *OCRCoordinator) AnalyzeStageKeywords(ctx context.Context, videoID entity.VideoID, policy *entity.MatchPolicy) ([]entity.StageKeywordAnalysis, error) {
	const op = "analyze_stage_keywords"
	pol, err := c.policyOrDefault(op, policy)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("usecase").Start(ctx, "OCRCoordinator.AnalyzeStageKeywords")
	defer span.End()
	span.SetAttributes(attribute.Int64("video.id", int64(videoID)))

	snap, err := c.requireResults(ctx, op, videoID)
	if err != nil {
		return nil, err
	}
	video, err := c.api.GetVideo(ctx, videoID)
	if err != nil {
		return nil, asNotFound(op, "video", videoID.String(), err)
	}
	configs, err := c.api.ListStageConfigs(ctx, videoID)
	if err != nil {
		return nil, asNotFound(op, "video", videoID.String(), err)
	}
	ordered, err := c.resolver.Resolve(op, *video, configs)
	if err != nil {
		return nil, err
	}

	byStage := make(map[int][]entity.Frame)
	for _, f := range snap.Frames {
		byStage[f.StageIndex] = append(byStage[f.StageIndex], f)
	}

	out := make([]entity.StageKeywordAnalysis, 0, len(ordered))
	for _, cfg := range ordered {
		idx := cfg.StageIndex
		kws := normalizeKeywords(cfg.Keywords)
		sa := entity.StageKeywordAnalysis{
			StageIndex: idx,
			StageName:  cfg.Name,
			Keywords:   kws,
			FrameCount: len(byStage[idx]),
			Analyses:   scanKeywords(videoID, &idx, kws, timeline(byStage[idx], snap.Results, pol), pol),
		}
		stageBounds(&sa)
		c.countMatches(sa.Analyses)
		out = append(out, sa)
	}
	c.markAnalyzed(ctx, videoID, snap)
	return out, nil
}

func (c *OCRCoordinator) countMatches(analyses []entity.KeywordAnalysis) {
	n := 0
	for _, ka := range analyses {
		n += ka.MatchCount
	}
	metrics.KeywordMatchesTotal.Add(float64(n))
}

// markAnalyzed advances to AnalysisComplete unless a newer run replaced the
// snapshot the analysis was computed from.
func (c *OCRCoordinator) markAnalyzed(ctx context.Context, videoID entity.VideoID, snap *entity.OCRSnapshot) {
	c.mu.Lock()
	vs := c.lookup(videoID)
	from := vs.state
	if vs.snapshot != snap || !from.CanTransition(entity.OCRStateAnalysisComplete) {
		c.mu.Unlock()
		return
	}
	vs.state = entity.OCRStateAnalysisComplete
	c.mu.Unlock()
	if from != entity.OCRStateAnalysisComplete {
		c.noteTransition(ctx, entity.OCRStateMessage{RunID: snap.RunID, VideoID: videoID, From: from, To: entity.OCRStateAnalysisComplete, ResultCount: len(snap.Results), Cause: "keyword_analysis"})
	}
}

// Exclusive runs fn while holding the video's lease, then drops the buffered
// results. Used by operations that invalidate frames: a video with results
// returns to NotStarted, any other state is kept. If fn fails the service
// state is unknown and the next read resyncs.
func (c *OCRCoordinator) Exclusive(ctx context.Context, op string, videoID entity.VideoID, fn func(ctx context.Context) error) error {
	vs, err := c.acquire(op, videoID)
	if err != nil {
		return err
	}
	defer c.release(videoID)

	fnErr := fn(ctx)

	c.mu.Lock()
	from := vs.state
	moved := from.CanTransition(entity.OCRStateNotStarted)
	if moved {
		vs.state = entity.OCRStateNotStarted
	}
	vs.snapshot = nil
	vs.synced = fnErr == nil
	c.mu.Unlock()

	if moved {
		c.noteTransition(ctx, entity.OCRStateMessage{VideoID: videoID, From: from, To: entity.OCRStateNotStarted, Cause: op})
	}
	return fnErr
}

func (c *OCRCoordinator) noteTransition(ctx context.Context, msg entity.OCRStateMessage) {
	metrics.OCRStateTransitions.WithLabelValues(string(msg.From), string(msg.To)).Inc()
	c.logger.Debug("ocr state transition",
		zap.String("video_id", msg.VideoID.String()),
		zap.String("from", string(msg.From)),
		zap.String("to", string(msg.To)),
		zap.String("cause", msg.Cause),
	)
	if c.events == nil {
		return
	}
	data, _ := json.Marshal(msg)
	if err := c.events.PublishStatus(ctx, port.EventOCRState, data); err != nil {
		c.logger.Warn("failed to publish ocr state", zap.String("video_id", msg.VideoID.String()), zap.Error(err))
	}
}
