package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/port"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/memory"
	"go.uber.org/zap"
)

var _ port.AnalysisService = (*fakeService)(nil)

// recognition is what the fake OCR engine reads from one frame.
type recognition struct {
	text string
	conf float64
	fail bool
}

// fakeService is an in-memory stand-in for the remote analysis service. It
// mirrors the behaviours the workflow depends on: OCR skips frames that
// already carry a result, and unknown ids are 404s.
type fakeService struct {
	mu sync.Mutex

	nextID   int64
	projects map[entity.ProjectID]entity.Project
	videos   map[entity.VideoID]entity.Video
	stages   map[entity.VideoID][]entity.StageConfig
	frames   map[entity.VideoID][]entity.Frame
	results  map[entity.FrameID]entity.OCRResult
	images   map[entity.FrameID][]byte

	// recognize decides the OCR output per frame; nil recognizes nothing.
	recognize func(entity.Frame) recognition
	// ocrGate, when set, blocks ProcessOCR after ocrStarted is signalled.
	ocrGate    chan struct{}
	ocrStarted chan struct{}
	// ocrErr makes ProcessOCR write results for half the frames and fail.
	ocrErr error
	// errs injects a failure for the named call.
	errs map[string]error
	// stray results are returned by ListOCRResults on top of the real ones.
	stray []entity.OCRResult

	calls []string
}

func newFakeService() *fakeService {
	return &fakeService{
		projects: map[entity.ProjectID]entity.Project{},
		videos:   map[entity.VideoID]entity.Video{},
		stages:   map[entity.VideoID][]entity.StageConfig{},
		frames:   map[entity.VideoID][]entity.Frame{},
		results:  map[entity.FrameID]entity.OCRResult{},
		images:   map[entity.FrameID][]byte{},
		errs:     map[string]error{},
	}
}

func (f *fakeService) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeService) record(call string) error {
	f.calls = append(f.calls, call)
	return f.errs[call]
}

func (f *fakeService) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeService) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func notFound(op, path string) error {
	return &errs.TransportError{Op: op, Method: http.MethodGet, Path: path, StatusCode: http.StatusNotFound, Payload: []byte(`{"detail":"Not found"}`)}
}

// seedVideo registers a project and a 10 second 1280x720 video.
func (f *fakeService) seedVideo() entity.VideoID {
	f.mu.Lock()
	defer f.mu.Unlock()
	pid := entity.ProjectID(f.id())
	f.projects[pid] = entity.Project{ID: pid, Name: "seed"}
	vid := entity.VideoID(f.id())
	f.videos[vid] = entity.Video{ID: vid, ProjectID: pid, OriginalFilename: "seed.mp4", DurationMs: 10_000, Resolution: "1280x720", ProcessStatus: entity.ProcessStatusCompleted}
	return vid
}

func (f *fakeService) seedStage(videoID entity.VideoID, idx int, name string, keywords []string, params entity.ExtractionParams) {
	f.mu.Lock()
	defer f.mu.Unlock()
	params.StageIndex = idx
	f.stages[videoID] = append(f.stages[videoID], entity.StageConfig{
		ID: entity.StageConfigID(f.id()), VideoID: videoID, StageIndex: idx, Name: name, Keywords: keywords, Params: params,
	})
}

func (f *fakeService) resultCount(videoID entity.VideoID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames[videoID] {
		if _, ok := f.results[fr.ID]; ok {
			n++
		}
	}
	return n
}

func (f *fakeService) CreateProject(_ context.Context, p entity.NewProject) (*entity.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_project"); err != nil {
		return nil, err
	}
	out := entity.Project{ID: entity.ProjectID(f.id()), Name: p.Name, Description: p.Description, Metadata: p.Metadata, CreatedAt: time.Now()}
	f.projects[out.ID] = out
	return &out, nil
}

func (f *fakeService) ListProjects(context.Context) ([]entity.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_projects"); err != nil {
		return nil, err
	}
	out := make([]entity.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b entity.Project) int { return int(a.ID - b.ID) })
	return out, nil
}

func (f *fakeService) GetProject(_ context.Context, id entity.ProjectID) (*entity.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_project"); err != nil {
		return nil, err
	}
	p, ok := f.projects[id]
	if !ok {
		return nil, notFound("get_project", "/projects/"+id.String())
	}
	return &p, nil
}

func (f *fakeService) ListProjectVideos(_ context.Context, id entity.ProjectID) ([]entity.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_project_videos"); err != nil {
		return nil, err
	}
	if _, ok := f.projects[id]; !ok {
		return nil, notFound("list_project_videos", "/projects/"+id.String()+"/videos/")
	}
	var out []entity.Video
	for _, v := range f.videos {
		if v.ProjectID == id {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b entity.Video) int { return int(a.ID - b.ID) })
	return out, nil
}

func (f *fakeService) UploadVideo(_ context.Context, projectID entity.ProjectID, file entity.VideoFile) (*entity.Video, error) {
	data, err := io.ReadAll(file.Reader)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("upload_video"); err != nil {
		return nil, err
	}
	if _, ok := f.projects[projectID]; !ok {
		return nil, notFound("upload_video", "/videos/upload/"+projectID.String())
	}
	v := entity.Video{
		ID: entity.VideoID(f.id()), ProjectID: projectID, OriginalFilename: file.Name, FileSize: int64(len(data)),
		DurationMs: 10_000, Resolution: "1280x720", ProcessStatus: entity.ProcessStatusCompleted, UploadedAt: time.Now(),
	}
	f.videos[v.ID] = v
	return &v, nil
}

func (f *fakeService) GetVideo(_ context.Context, id entity.VideoID) (*entity.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_video"); err != nil {
		return nil, err
	}
	v, ok := f.videos[id]
	if !ok {
		return nil, notFound("get_video", "/videos/"+id.String())
	}
	return &v, nil
}

func (f *fakeService) setProcessStatus(id entity.VideoID, st entity.ProcessStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.videos[id]
	v.ProcessStatus = st
	f.videos[id] = v
}

func (f *fakeService) ListFrames(_ context.Context, videoID entity.VideoID) ([]entity.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_frames"); err != nil {
		return nil, err
	}
	if _, ok := f.videos[videoID]; !ok {
		return nil, notFound("list_frames", "/videos/"+videoID.String()+"/frames")
	}
	return slices.Clone(f.frames[videoID]), nil
}

// ExtractFrames samples Count frames, or one frame per IntervalSeconds, over
// the video's duration.
func (f *fakeService) ExtractFrames(_ context.Context, videoID entity.VideoID, req entity.ExtractionRequest) ([]entity.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("extract_frames"); err != nil {
		return nil, err
	}
	v, ok := f.videos[videoID]
	if !ok {
		return nil, notFound("extract_frames", "/videos/"+videoID.String()+"/extract-frames")
	}

	n, step := req.Count, int64(0)
	switch {
	case req.Count > 0:
		step = v.DurationMs / int64(req.Count)
	case req.IntervalSeconds > 0:
		step = int64(req.IntervalSeconds * 1000)
		n = int(v.DurationMs / step)
	}
	if req.MaxFrames > 0 && n > req.MaxFrames {
		n = req.MaxFrames
	}

	if req.ReplaceStage {
		kept := f.frames[videoID][:0:0]
		for _, fr := range f.frames[videoID] {
			if fr.StageIndex == req.StageIndex {
				delete(f.results, fr.ID)
				delete(f.images, fr.ID)
				continue
			}
			kept = append(kept, fr)
		}
		f.frames[videoID] = kept
	}

	out := make([]entity.Frame, 0, n)
	for i := 0; i < n; i++ {
		fr := entity.Frame{
			ID: entity.FrameID(f.id()), VideoID: videoID, StageIndex: req.StageIndex, FrameNumber: i,
			TimestampMs: int64(i) * step, ImageRef: fmt.Sprintf("frames/%d/%d/%06d.jpg", videoID, req.StageIndex, i),
		}
		f.images[fr.ID] = []byte(fmt.Sprintf("jpeg-%d", fr.ID))
		out = append(out, fr)
	}
	f.frames[videoID] = append(f.frames[videoID], out...)
	return slices.Clone(out), nil
}

func (f *fakeService) DeleteFrames(_ context.Context, videoID entity.VideoID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_frames"); err != nil {
		return err
	}
	for _, fr := range f.frames[videoID] {
		delete(f.images, fr.ID)
	}
	delete(f.frames, videoID)
	return nil
}

func (f *fakeService) frameByID(id entity.FrameID) (entity.Frame, bool) {
	for _, frames := range f.frames {
		for _, fr := range frames {
			if fr.ID == id {
				return fr, true
			}
		}
	}
	return entity.Frame{}, false
}

func (f *fakeService) GetFrame(_ context.Context, id entity.FrameID) (*entity.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("get_frame"); err != nil {
		return nil, err
	}
	fr, ok := f.frameByID(id)
	if !ok {
		return nil, notFound("get_frame", "/frames/"+id.String())
	}
	return &fr, nil
}

func (f *fakeService) FrameImage(_ context.Context, id entity.FrameID) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("frame_image"); err != nil {
		return nil, err
	}
	img, ok := f.images[id]
	if !ok {
		return nil, notFound("frame_image", "/frames/"+id.String()+"/image")
	}
	return io.NopCloser(bytes.NewReader(img)), nil
}

func (f *fakeService) FrameImageURL(id entity.FrameID) string {
	return "http://analysis.test/frames/" + id.String() + "/image"
}

func (f *fakeService) CreateStageConfig(_ context.Context, cfg entity.StageConfig) (*entity.StageConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_stage_config"); err != nil {
		return nil, err
	}
	cfg.ID = entity.StageConfigID(f.id())
	cfg.CreatedAt = time.Now()
	f.stages[cfg.VideoID] = append(f.stages[cfg.VideoID], cfg)
	return &cfg, nil
}

func (f *fakeService) ListStageConfigs(_ context.Context, videoID entity.VideoID) ([]entity.StageConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_stage_configs"); err != nil {
		return nil, err
	}
	return slices.Clone(f.stages[videoID]), nil
}

func (f *fakeService) ProcessOCR(ctx context.Context, videoID entity.VideoID, _ entity.OCRParams) (*entity.OCRProcessSummary, error) {
	f.mu.Lock()
	if err := f.record("process_ocr"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	gate, started := f.ocrGate, f.ocrStarted
	f.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.videos[videoID]; !ok {
		return nil, notFound("process_ocr", "/videos/"+videoID.String()+"/process-ocr")
	}
	frames := f.frames[videoID]
	sum := entity.OCRProcessSummary{VideoID: videoID, TotalFrames: len(frames)}
	for i, fr := range frames {
		if f.ocrErr != nil && i >= len(frames)/2 {
			return nil, f.ocrErr
		}
		if _, done := f.results[fr.ID]; done {
			continue
		}
		rec := recognition{}
		if f.recognize != nil {
			rec = f.recognize(fr)
		}
		if rec.fail {
			sum.FailedFrames++
			continue
		}
		f.results[fr.ID] = entity.OCRResult{ID: entity.OCRResultID(f.id()), FrameID: fr.ID, RawText: rec.text, Confidence: rec.conf, ProcessedAt: time.Now()}
		sum.ProcessedFrames++
	}
	return &sum, nil
}

func (f *fakeService) ListOCRResults(_ context.Context, videoID entity.VideoID) ([]entity.OCRResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_ocr_results"); err != nil {
		return nil, err
	}
	var out []entity.OCRResult
	for _, fr := range f.frames[videoID] {
		if res, ok := f.results[fr.ID]; ok {
			out = append(out, res)
		}
	}
	return append(out, f.stray...), nil
}

func (f *fakeService) EnhancedOCRResults(_ context.Context, videoID entity.VideoID) ([]entity.EnhancedOCRResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("enhanced_ocr_results"); err != nil {
		return nil, err
	}
	var out []entity.EnhancedOCRResult
	for _, fr := range f.frames[videoID] {
		if res, ok := f.results[fr.ID]; ok {
			out = append(out, entity.EnhancedOCRResult{FrameID: fr.ID, FrameNumber: fr.FrameNumber, TimestampMs: fr.TimestampMs, RecTexts: []string{res.RawText}, RecScores: []float64{res.Confidence}})
		}
	}
	return out, nil
}

func (f *fakeService) DeleteOCRResults(_ context.Context, videoID entity.VideoID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_ocr_results"); err != nil {
		return err
	}
	for _, fr := range f.frames[videoID] {
		delete(f.results, fr.ID)
	}
	return nil
}

func (f *fakeService) OCRStorageInfo(_ context.Context, videoID entity.VideoID) (*entity.OCRStorageInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ocr_storage_info"); err != nil {
		return nil, err
	}
	n := 0
	for _, fr := range f.frames[videoID] {
		if _, ok := f.results[fr.ID]; ok {
			n++
		}
	}
	return &entity.OCRStorageInfo{VideoID: videoID, DatabaseCount: n}, nil
}

func (f *fakeService) SystemInfo(context.Context) (*entity.SystemInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("system_info"); err != nil {
		return nil, err
	}
	info := &entity.SystemInfo{}
	info.Database.Projects = len(f.projects)
	info.Database.Videos = len(f.videos)
	info.System.Status = "ok"
	return info, nil
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	kinds  []string
	bodies [][]byte
}

func (p *recordingPublisher) PublishStatus(_ context.Context, kind string, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
	p.bodies = append(p.bodies, msg)
	return nil
}

func (p *recordingPublisher) events(kind string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out [][]byte
	for i, k := range p.kinds {
		if k == kind {
			out = append(out, p.bodies[i])
		}
	}
	return out
}

// tracked is how many videos the coordinator currently holds state for.
func (c *OCRCoordinator) tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.videos)
}

type harness struct {
	svc      *fakeService
	runs     *memory.OCRRunRepository
	events   *recordingPublisher
	coord    *OCRCoordinator
	workflow *WorkflowClient
}

func newHarness() *harness {
	svc := newFakeService()
	runs := memory.NewOCRRunRepository()
	events := &recordingPublisher{}
	resolver := NewStageResolver()
	coord := NewOCRCoordinator(svc, resolver, runs, events, zap.NewNop(), CoordinatorConfig{Policy: DefaultMatchPolicy})
	return &harness{
		svc:      svc,
		runs:     runs,
		events:   events,
		coord:    coord,
		workflow: NewWorkflowClient(svc, resolver, coord, zap.NewNop()),
	}
}
