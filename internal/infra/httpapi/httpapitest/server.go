// Package httpapitest runs an in-memory analysis service over HTTP for tests
// of code that talks to it through httpapi.Client.
package httpapitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/gorilla/mux"
)

// Recognizer decides what OCR reads from a frame. ok=false marks the frame as
// failed in the process-ocr summary.
type Recognizer func(f entity.Frame) (text string, confidence float64, ok bool)

// Server mimics the analysis service routes. Uploaded videos are reported as
// 10 seconds long at 1280x720. Like the real service, process-ocr skips
// frames that already have a result.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	nextID    int64
	recognize Recognizer
	projects  map[entity.ProjectID]entity.Project
	videos    map[entity.VideoID]entity.Video
	stages    map[entity.VideoID][]entity.StageConfig
	frames    map[entity.VideoID][]entity.Frame
	results   map[entity.FrameID]entity.OCRResult
	hits      map[string]int
}

func NewServer(recognize Recognizer) *Server {
	s := &Server{
		recognize: recognize,
		projects:  map[entity.ProjectID]entity.Project{},
		videos:    map[entity.VideoID]entity.Video{},
		stages:    map[entity.VideoID][]entity.StageConfig{},
		frames:    map[entity.VideoID][]entity.Frame{},
		results:   map[entity.FrameID]entity.OCRResult{},
		hits:      map[string]int{},
	}
	s.Server = httptest.NewServer(s.Router())
	return s
}

// Hits reports how often the named route was called.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if route := mux.CurrentRoute(req); route != nil {
				s.mu.Lock()
				s.hits[route.GetName()]++
				s.mu.Unlock()
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/projects/", s.createProject).Methods(http.MethodPost).Name("create_project")
	r.HandleFunc("/projects/", s.listProjects).Methods(http.MethodGet).Name("list_projects")
	r.HandleFunc("/projects/{id:[0-9]+}", s.getProject).Methods(http.MethodGet).Name("get_project")
	r.HandleFunc("/projects/{id:[0-9]+}/videos/", s.listProjectVideos).Methods(http.MethodGet).Name("list_project_videos")
	r.HandleFunc("/videos/upload/{id:[0-9]+}", s.uploadVideo).Methods(http.MethodPost).Name("upload_video")
	r.HandleFunc("/videos/{id:[0-9]+}", s.getVideo).Methods(http.MethodGet).Name("get_video")
	r.HandleFunc("/videos/{id:[0-9]+}/frames", s.listFrames).Methods(http.MethodGet).Name("list_frames")
	r.HandleFunc("/videos/{id:[0-9]+}/frames", s.deleteFrames).Methods(http.MethodDelete).Name("delete_frames")
	r.HandleFunc("/videos/{id:[0-9]+}/extract-frames", s.extractFrames).Methods(http.MethodPost).Name("extract_frames")
	r.HandleFunc("/videos/{id:[0-9]+}/stage-configs/", s.listStageConfigs).Methods(http.MethodGet).Name("list_stage_configs")
	r.HandleFunc("/stage-configs/", s.createStageConfig).Methods(http.MethodPost).Name("create_stage_config")
	r.HandleFunc("/frames/{id:[0-9]+}", s.getFrame).Methods(http.MethodGet).Name("get_frame")
	r.HandleFunc("/frames/{id:[0-9]+}/image", s.frameImage).Methods(http.MethodGet).Name("frame_image")
	r.HandleFunc("/videos/{id:[0-9]+}/process-ocr", s.processOCR).Methods(http.MethodPost).Name("process_ocr")
	r.HandleFunc("/videos/{id:[0-9]+}/ocr-results", s.listOCRResults).Methods(http.MethodGet).Name("list_ocr_results")
	r.HandleFunc("/videos/{id:[0-9]+}/ocr-results", s.deleteOCRResults).Methods(http.MethodDelete).Name("delete_ocr_results")
	r.HandleFunc("/videos/{id:[0-9]+}/enhanced-ocr-results", s.enhancedOCRResults).Methods(http.MethodGet).Name("enhanced_ocr_results")
	r.HandleFunc("/videos/{id:[0-9]+}/ocr-storage-info", s.ocrStorageInfo).Methods(http.MethodGet).Name("ocr_storage_info")
	r.HandleFunc("/videos/{id:[0-9]+}/analyze-keywords", s.analyzeKeywords).Methods(http.MethodPost).Name("analyze_keywords")
	r.HandleFunc("/videos/{id:[0-9]+}/analyze-stage-keywords", s.analyzeStageKeywords).Methods(http.MethodPost).Name("analyze_stage_keywords")
	r.HandleFunc("/system/info", s.systemInfo).Methods(http.MethodGet).Name("system_info")
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": what + " not found"})
}

func pathID(req *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
	return id
}

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Server) createProject(w http.ResponseWriter, req *http.Request) {
	var in entity.NewProject
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "name is required"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := entity.Project{ID: entity.ProjectID(s.id()), Name: in.Name, Description: in.Description, Metadata: in.Metadata, CreatedAt: time.Now().UTC()}
	s.projects[p.ID] = p
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listProjects(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b entity.Project) int { return int(a.ID - b.ID) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProject(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[entity.ProjectID(pathID(req))]
	if !ok {
		notFound(w, "project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listProjectVideos(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid := entity.ProjectID(pathID(req))
	if _, ok := s.projects[pid]; !ok {
		notFound(w, "project")
		return
	}
	out := []entity.Video{}
	for _, v := range s.videos {
		if v.ProjectID == pid {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b entity.Video) int { return int(a.ID - b.ID) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) uploadVideo(w http.ResponseWriter, req *http.Request) {
	f, hdr, err := req.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	defer f.Close()
	size, err := io.Copy(io.Discard, f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pid := entity.ProjectID(pathID(req))
	if _, ok := s.projects[pid]; !ok {
		notFound(w, "project")
		return
	}
	v := entity.Video{
		ID: entity.VideoID(s.id()), ProjectID: pid, OriginalFilename: hdr.Filename, FileSize: size,
		DurationMs: 10_000, FPS: 30, Resolution: "1280x720", Format: "mp4",
		ProcessStatus: entity.ProcessStatusCompleted, UploadedAt: time.Now().UTC(),
	}
	v.SourceRef = fmt.Sprintf("uploads/%d/%s", v.ID, hdr.Filename)
	s.videos[v.ID] = v
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) getVideo(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[entity.VideoID(pathID(req))]
	if !ok {
		notFound(w, "video")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) listFrames(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vid := entity.VideoID(pathID(req))
	if _, ok := s.videos[vid]; !ok {
		notFound(w, "video")
		return
	}
	out := slices.Clone(s.frames[vid])
	if out == nil {
		out = []entity.Frame{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteFrames(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vid := entity.VideoID(pathID(req))
	for _, f := range s.frames[vid] {
		delete(s.results, f.ID)
	}
	delete(s.frames, vid)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) extractFrames(w http.ResponseWriter, req *http.Request) {
	var in entity.ExtractionRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vid := entity.VideoID(pathID(req))
	v, ok := s.videos[vid]
	if !ok {
		notFound(w, "video")
		return
	}

	n, step := in.Count, int64(0)
	switch {
	case in.Count > 0:
		step = v.DurationMs / int64(in.Count)
	case in.IntervalSeconds > 0:
		step = int64(in.IntervalSeconds * 1000)
		n = int(v.DurationMs / step)
	default:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "interval or count required"})
		return
	}
	if in.MaxFrames > 0 && n > in.MaxFrames {
		n = in.MaxFrames
	}

	if in.ReplaceStage {
		kept := []entity.Frame{}
		for _, f := range s.frames[vid] {
			if f.StageIndex == in.StageIndex {
				delete(s.results, f.ID)
				continue
			}
			kept = append(kept, f)
		}
		s.frames[vid] = kept
	}

	out := make([]entity.Frame, 0, n)
	for i := range n {
		out = append(out, entity.Frame{
			ID: entity.FrameID(s.id()), VideoID: vid, StageIndex: in.StageIndex, FrameNumber: i,
			TimestampMs: int64(i) * step, ImageRef: fmt.Sprintf("frames/%d/%d/%06d.jpg", vid, in.StageIndex, i),
			FileSize: 3, ExtractedAt: time.Now().UTC(),
		})
	}
	s.frames[vid] = append(s.frames[vid], out...)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createStageConfig(w http.ResponseWriter, req *http.Request) {
	var in entity.StageConfig
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[in.VideoID]; !ok {
		notFound(w, "video")
		return
	}
	in.ID = entity.StageConfigID(s.id())
	in.CreatedAt = time.Now().UTC()
	s.stages[in.VideoID] = append(s.stages[in.VideoID], in)
	writeJSON(w, http.StatusOK, in)
}

func (s *Server) listStageConfigs(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.stages[entity.VideoID(pathID(req))])
	if out == nil {
		out = []entity.StageConfig{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) frameByID(id entity.FrameID) (entity.Frame, bool) {
	for _, frames := range s.frames {
		for _, f := range frames {
			if f.ID == id {
				return f, true
			}
		}
	}
	return entity.Frame{}, false
}

func (s *Server) getFrame(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frameByID(entity.FrameID(pathID(req)))
	if !ok {
		notFound(w, "frame")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// frameImage serves a JPEG start-of-image marker as the image body.
func (s *Server) frameImage(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	_, ok := s.frameByID(entity.FrameID(pathID(req)))
	s.mu.Unlock()
	if !ok {
		notFound(w, "frame")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
}

func (s *Server) processOCR(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vid := entity.VideoID(pathID(req))
	if _, ok := s.videos[vid]; !ok {
		notFound(w, "video")
		return
	}
	frames := s.frames[vid]
	sum := entity.OCRProcessSummary{VideoID: vid, TotalFrames: len(frames)}
	for _, f := range frames {
		if _, done := s.results[f.ID]; done {
			continue
		}
		text, conf, ok := "", 0.0, true
		if s.recognize != nil {
			text, conf, ok = s.recognize(f)
		}
		if !ok {
			sum.FailedFrames++
			continue
		}
		s.results[f.ID] = entity.OCRResult{ID: entity.OCRResultID(s.id()), FrameID: f.ID, RawText: text, Confidence: conf, ProcessedAt: time.Now().UTC()}
		sum.ProcessedFrames++
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) videoResults(vid entity.VideoID) []entity.OCRResult {
	out := []entity.OCRResult{}
	for _, f := range s.frames[vid] {
		if r, ok := s.results[f.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) listOCRResults(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.videoResults(entity.VideoID(pathID(req))))
}

func (s *Server) deleteOCRResults(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames[entity.VideoID(pathID(req))] {
		delete(s.results, f.ID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) enhancedOCRResults(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []entity.EnhancedOCRResult{}
	for _, f := range s.frames[entity.VideoID(pathID(req))] {
		if r, ok := s.results[f.ID]; ok {
			out = append(out, entity.EnhancedOCRResult{FrameID: f.ID, FrameNumber: f.FrameNumber, TimestampMs: f.TimestampMs, RecTexts: []string{r.RawText}, RecScores: []float64{r.Confidence}})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ocrStorageInfo(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vid := entity.VideoID(pathID(req))
	writeJSON(w, http.StatusOK, entity.OCRStorageInfo{VideoID: vid, DatabaseCount: len(s.videoResults(vid))})
}

// keywordCounts is the service-side scan: case-insensitive substring, one
// count per frame.
func (s *Server) keywordCounts(vid entity.VideoID, stage *int, keywords []string) map[string]int {
	out := make(map[string]int, len(keywords))
	for _, k := range keywords {
		out[k] = 0
		for _, f := range s.frames[vid] {
			if stage != nil && f.StageIndex != *stage {
				continue
			}
			if r, ok := s.results[f.ID]; ok && strings.Contains(strings.ToLower(r.RawText), strings.ToLower(k)) {
				out[k]++
			}
		}
	}
	return out
}

func (s *Server) analyzeKeywords(w http.ResponseWriter, req *http.Request) {
	var in struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vid := entity.VideoID(pathID(req))
	writeJSON(w, http.StatusOK, map[string]any{"video_id": vid, "match_counts": s.keywordCounts(vid, nil, in.Keywords)})
}

func (s *Server) analyzeStageKeywords(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vid := entity.VideoID(pathID(req))
	stages := []map[string]any{}
	for _, st := range s.stages[vid] {
		idx := st.StageIndex
		stages = append(stages, map[string]any{"stage_index": idx, "stage_name": st.Name, "match_counts": s.keywordCounts(vid, &idx, st.Keywords)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"video_id": vid, "stages": stages})
}

func (s *Server) systemInfo(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var info entity.SystemInfo
	info.Database.Projects = len(s.projects)
	info.Database.Videos = len(s.videos)
	for _, st := range s.stages {
		info.Database.StageConfigs += len(st)
	}
	info.System.Status = "running"
	info.System.Version = "httpapitest"
	writeJSON(w, http.StatusOK, info)
}
