package usecase

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/port"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/archive"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	objects map[string][]byte
	err     error
}

func (s *fakeSource) OpenVideo(_ context.Context, key string) (io.ReadCloser, int64, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, 0, &errs.NotFoundError{Op: "open_video", Resource: "object", ID: key}
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

type storedObject struct {
	data        []byte
	contentType string
}

type fakeReports struct {
	mu      sync.Mutex
	objects map[string]storedObject
}

func (r *fakeReports) UploadReport(_ context.Context, key string, reader io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[key] = storedObject{data: data, contentType: contentType}
	return nil
}

type fakeDLQ struct{ reasons []string }

func (d *fakeDLQ) PublishToDLQ(_ context.Context, _ []byte, reason string) error {
	d.reasons = append(d.reasons, reason)
	return nil
}

type fakeNotifier struct{ sent []string }

func (n *fakeNotifier) NotifyFailure(_ context.Context, email, _, _, _ string) error {
	n.sent = append(n.sent, email)
	return nil
}

type pipeline struct {
	*harness
	source   *fakeSource
	reports  *fakeReports
	dlq      *fakeDLQ
	notifier *fakeNotifier
	status   *recordingPublisher
	uc       *RunAnalysisUseCase
}

func newPipeline(t *testing.T) *pipeline {
	h := newHarness()
	p := &pipeline{
		harness:  h,
		source:   &fakeSource{objects: map[string][]byte{"uploads/demo.mp4": []byte("video-bytes")}},
		reports:  &fakeReports{objects: map[string]storedObject{}},
		dlq:      &fakeDLQ{},
		notifier: &fakeNotifier{},
		status:   &recordingPublisher{},
	}
	p.uc = NewRunAnalysisUseCase(h.workflow, p.source, p.reports, archive.NewZipCreator(), p.status, p.dlq, p.notifier, zap.NewNop(),
		RunAnalysisConfig{TempDir: t.TempDir(), OCR: entity.OCRParams{Lang: "en"}})
	// Stage 0 samples at 0ms and 5000ms; only the first frame shows the login screen.
	h.svc.recognize = textByTimestamp(map[int64]string{0: "Login to continue", 5000: "Dashboard"})
	return p
}

func (p *pipeline) statuses(t *testing.T) []entity.AnalysisStatusMessage {
	t.Helper()
	var out []entity.AnalysisStatusMessage
	for _, b := range p.status.events(port.EventAnalysisStatus) {
		var m entity.AnalysisStatusMessage
		require.NoError(t, json.Unmarshal(b, &m))
		out = append(out, m)
	}
	return out
}

func request(mut func(*entity.AnalysisRequestMessage)) []byte {
	msg := entity.AnalysisRequestMessage{
		RequestID:   uuid.New(),
		ProjectName: "demo",
		VideoKey:    "uploads/demo.mp4",
		Stages: []entity.StageConfig{
			{StageIndex: 0, Name: "login", Keywords: []string{"Login"}, Params: entity.ExtractionParams{Count: 2}},
		},
		NotifyEmail: "ops@example.com",
	}
	if mut != nil {
		mut(&msg)
	}
	data, _ := json.Marshal(msg)
	return data
}

func TestRunAnalysisCompletes(t *testing.T) {
	p := newPipeline(t)
	var reqID uuid.UUID
	raw := request(func(m *entity.AnalysisRequestMessage) {
		m.ArchiveFrames = true
		reqID = m.RequestID
	})

	require.NoError(t, p.uc.Execute(context.Background(), raw))

	assert.Empty(t, p.dlq.reasons)
	assert.Empty(t, p.notifier.sent)

	st := p.statuses(t)
	require.Len(t, st, 2)
	assert.Equal(t, entity.AnalysisStatusProcessing, st[0].Status)
	final := st[1]
	assert.Equal(t, entity.AnalysisStatusCompleted, final.Status)
	assert.Equal(t, 2, final.FrameCount)
	assert.Equal(t, 1, final.MatchCount)
	assert.Equal(t, ReportKey(reqID), final.ReportKey)
	assert.Equal(t, ArchiveKey(reqID), final.ArchiveKey)
	assert.True(t, final.VideoID.Valid())

	obj, ok := p.reports.objects[ReportKey(reqID)]
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.contentType)
	var report entity.AnalysisReport
	require.NoError(t, json.Unmarshal(obj.data, &report))
	assert.Equal(t, "demo", report.Project.Name)
	require.Len(t, report.Keywords, 1, "stage keywords are used when the request names none")
	assert.Equal(t, "Login", report.Keywords[0].Keyword)
	require.Len(t, report.ByStage, 1)
	assert.Equal(t, int64(0), *report.ByStage[0].StageStartMs)
	assert.Equal(t, int64(5000), *report.ByStage[0].StageEndMs)

	zipObj, ok := p.reports.objects[ArchiveKey(reqID)]
	require.True(t, ok)
	assert.Equal(t, "application/zip", zipObj.contentType)
	zr, err := zip.NewReader(bytes.NewReader(zipObj.data), int64(len(zipObj.data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"stage00_frame000000.jpg", "stage00_frame000001.jpg"}, names)

	events := stateEvents(t, p.events)
	require.NotEmpty(t, events)
	assert.Equal(t, entity.OCRStateAnalysisComplete, events[len(events)-1].To)
	assert.Zero(t, p.coord.tracked(), "finished videos are not kept by the coordinator")
}

func TestRunAnalysisAppliesOnePolicyToVideoAndStages(t *testing.T) {
	tests := []struct {
		name   string
		policy *entity.MatchPolicy
		want   int
	}{
		{"configured default when the request has none", nil, 0},
		{"request policy overrides the default", &entity.MatchPolicy{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)
			p.coord.cfg.Policy = entity.MatchPolicy{CaseSensitive: true}
			var reqID uuid.UUID
			raw := request(func(m *entity.AnalysisRequestMessage) {
				m.Stages[0].Keywords = []string{"login"}
				m.MatchPolicy = tt.policy
				reqID = m.RequestID
			})

			require.NoError(t, p.uc.Execute(context.Background(), raw))

			var report entity.AnalysisReport
			require.NoError(t, json.Unmarshal(p.reports.objects[ReportKey(reqID)].data, &report))
			require.Len(t, report.Keywords, 1)
			require.Len(t, report.ByStage, 1)
			require.Len(t, report.ByStage[0].Analyses, 1)
			assert.Equal(t, tt.want, report.Keywords[0].MatchCount, "video level")
			assert.Equal(t, tt.want, report.ByStage[0].Analyses[0].MatchCount, "stage level")
		})
	}
}

func TestRunAnalysisRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		reason string
	}{
		{"not json", []byte("{oops"), "unmarshal_error"},
		{"no stages", request(func(m *entity.AnalysisRequestMessage) { m.Stages = nil }), "invalid_request: at least one stage"},
		{"no project", request(func(m *entity.AnalysisRequestMessage) { m.ProjectName = " " }), "invalid_request: one of project_id"},
		{"no request id", request(func(m *entity.AnalysisRequestMessage) { m.RequestID = uuid.Nil }), "invalid_request: request_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)
			require.NoError(t, p.uc.Execute(context.Background(), tt.raw))
			require.Len(t, p.dlq.reasons, 1)
			assert.True(t, strings.HasPrefix(p.dlq.reasons[0], tt.reason), p.dlq.reasons[0])
			assert.Empty(t, p.status.events(port.EventAnalysisStatus))
			assert.Zero(t, p.svc.count("upload_video"))
		})
	}
}

func TestRunAnalysisRequeuesTransientProjectFailure(t *testing.T) {
	p := newPipeline(t)
	p.svc.errs["create_project"] = errors.New("connection reset by peer")

	err := p.uc.Execute(context.Background(), request(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, p.dlq.reasons)
	assert.Empty(t, p.notifier.sent)
	assert.Zero(t, p.svc.count("upload_video"))
}

func TestRunAnalysisDeadLettersPermanentFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(p *pipeline)
		mut      func(m *entity.AnalysisRequestMessage)
		reason   string
		uploaded bool
		hasVideo bool
	}{
		{
			name:   "unknown project",
			mut:    func(m *entity.AnalysisRequestMessage) { m.ProjectID = 999 },
			reason: "resolve_project",
		},
		{
			name:   "missing source object",
			mut:    func(m *entity.AnalysisRequestMessage) { m.VideoKey = "uploads/missing.mp4" },
			reason: "upload_video",
		},
		{
			name:     "upload rejected",
			setup:    func(p *pipeline) { p.svc.errs["upload_video"] = errors.New("413 too large") },
			reason:   "upload_video",
			uploaded: true,
		},
		{
			name:     "ocr fails after upload",
			setup:    func(p *pipeline) { p.svc.ocrErr = errors.New("engine crashed") },
			reason:   "ocr",
			uploaded: true,
			hasVideo: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)
			if tt.setup != nil {
				tt.setup(p)
			}
			require.NoError(t, p.uc.Execute(context.Background(), request(tt.mut)))

			require.Len(t, p.dlq.reasons, 1)
			assert.True(t, strings.HasPrefix(p.dlq.reasons[0], tt.reason), p.dlq.reasons[0])
			assert.Equal(t, []string{"ops@example.com"}, p.notifier.sent)

			st := p.statuses(t)
			require.NotEmpty(t, st)
			last := st[len(st)-1]
			assert.Equal(t, entity.AnalysisStatusFailed, last.Status)
			assert.NotEmpty(t, last.ErrorMessage)
			assert.Equal(t, tt.hasVideo, last.VideoID.Valid())

			if tt.uploaded {
				assert.Equal(t, 1, p.svc.count("upload_video"))
			} else {
				assert.Zero(t, p.svc.count("upload_video"))
			}
			assert.Empty(t, p.reports.objects)
		})
	}
}
