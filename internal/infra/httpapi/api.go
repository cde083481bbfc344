package httpapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/port"
)

var _ port.AnalysisService = (*Client)(nil)

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, call{op: op, method: http.MethodGet, path: path, out: out})
}

func (c *Client) post(ctx context.Context, op, path string, in, out any, long bool) error {
	cl, err := c.jsonCall(op, http.MethodPost, path, in, out)
	if err != nil {
		return err
	}
	cl.long = long
	return c.do(ctx, cl)
}

func (c *Client) delete(ctx context.Context, op, path string) error {
	return c.do(ctx, call{op: op, method: http.MethodDelete, path: path})
}

func (c *Client) CreateProject(ctx context.Context, p entity.NewProject) (*entity.Project, error) {
	var out entity.Project
	if err := c.post(ctx, "create_project", "/projects/", p, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]entity.Project, error) {
	var out []entity.Project
	if err := c.get(ctx, "list_projects", "/projects/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetProject(ctx context.Context, id entity.ProjectID) (*entity.Project, error) {
	var out entity.Project
	if err := c.get(ctx, "get_project", "/projects/"+id.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProjectVideos(ctx context.Context, id entity.ProjectID) ([]entity.Video, error) {
	var out []entity.Video
	if err := c.get(ctx, "list_project_videos", "/projects/"+id.String()+"/videos/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadVideo streams the file as the multipart field "file" under the long timeout.
func (c *Client) UploadVideo(ctx context.Context, projectID entity.ProjectID, file entity.VideoFile) (*entity.Video, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(file.Name))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file.Reader); err != nil {
			pw.CloseWithError(fmt.Errorf("copy video payload: %w", err))
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	var out entity.Video
	err := c.do(ctx, call{
		op:          "upload_video",
		method:      http.MethodPost,
		path:        "/videos/upload/" + projectID.String(),
		body:        pr,
		contentType: mw.FormDataContentType(),
		long:        true,
		out:         &out,
	})
	// Unblocks the writer goroutine if the request ended before reading it all.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetVideo(ctx context.Context, id entity.VideoID) (*entity.Video, error) {
	var out entity.Video
	if err := c.get(ctx, "get_video", "/videos/"+id.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListFrames(ctx context.Context, videoID entity.VideoID) ([]entity.Frame, error) {
	var out []entity.Frame
	if err := c.get(ctx, "list_frames", "/videos/"+videoID.String()+"/frames", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ExtractFrames(ctx context.Context, videoID entity.VideoID, req entity.ExtractionRequest) ([]entity.Frame, error) {
	var out []entity.Frame
	if err := c.post(ctx, "extract_frames", "/videos/"+videoID.String()+"/extract-frames", req, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteFrames(ctx context.Context, videoID entity.VideoID) error {
	return c.delete(ctx, "delete_frames", "/videos/"+videoID.String()+"/frames")
}

func (c *Client) GetFrame(ctx context.Context, id entity.FrameID) (*entity.Frame, error) {
	var out entity.Frame
	if err := c.get(ctx, "get_frame", "/frames/"+id.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FrameImage returns the raw image body. The caller must close it.
func (c *Client) FrameImage(ctx context.Context, id entity.FrameID) (io.ReadCloser, error) {
	resp, cancel, err := c.send(ctx, call{op: "frame_image", method: http.MethodGet, path: "/frames/" + id.String() + "/image"})
	if err != nil {
		return nil, err
	}
	return cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// FrameImageURL builds the image address without any network call.
func (c *Client) FrameImageURL(id entity.FrameID) string {
	return c.baseURL + "/frames/" + id.String() + "/image"
}

func (c *Client) CreateStageConfig(ctx context.Context, cfg entity.StageConfig) (*entity.StageConfig, error) {
	var out entity.StageConfig
	if err := c.post(ctx, "create_stage_config", "/stage-configs/", cfg, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListStageConfigs(ctx context.Context, videoID entity.VideoID) ([]entity.StageConfig, error) {
	var out []entity.StageConfig
	if err := c.get(ctx, "list_stage_configs", "/videos/"+videoID.String()+"/stage-configs/", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ProcessOCR(ctx context.Context, videoID entity.VideoID, params entity.OCRParams) (*entity.OCRProcessSummary, error) {
	var out entity.OCRProcessSummary
	if err := c.post(ctx, "process_ocr", "/videos/"+videoID.String()+"/process-ocr", params, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListOCRResults(ctx context.Context, videoID entity.VideoID) ([]entity.OCRResult, error) {
	var out []entity.OCRResult
	if err := c.get(ctx, "list_ocr_results", "/videos/"+videoID.String()+"/ocr-results", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EnhancedOCRResults(ctx context.Context, videoID entity.VideoID) ([]entity.EnhancedOCRResult, error) {
	var out []entity.EnhancedOCRResult
	if err := c.get(ctx, "enhanced_ocr_results", "/videos/"+videoID.String()+"/enhanced-ocr-results", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteOCRResults(ctx context.Context, videoID entity.VideoID) error {
	return c.delete(ctx, "delete_ocr_results", "/videos/"+videoID.String()+"/ocr-results")
}

func (c *Client) OCRStorageInfo(ctx context.Context, videoID entity.VideoID) (*entity.OCRStorageInfo, error) {
	var out entity.OCRStorageInfo
	if err := c.get(ctx, "ocr_storage_info", "/videos/"+videoID.String()+"/ocr-storage-info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SystemInfo(ctx context.Context) (*entity.SystemInfo, error) {
	var out entity.SystemInfo
	if err := c.get(ctx, "system_info", "/system/info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeKeywords asks the service to run its own keyword scan. The workflow
// computes analyses locally from buffered results; this is for comparison
// and operator tooling.
func (c *Client) AnalyzeKeywords(ctx context.Context, videoID entity.VideoID, keywords []string) (map[string]any, error) {
	out := map[string]any{}
	body := struct {
		Keywords []string `json:"keywords"`
	}{Keywords: keywords}
	if err := c.post(ctx, "analyze_keywords", "/videos/"+videoID.String()+"/analyze-keywords", body, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// AnalyzeStageKeywords is the service-side stage scan, see AnalyzeKeywords.
func (c *Client) AnalyzeStageKeywords(ctx context.Context, videoID entity.VideoID) (map[string]any, error) {
	out := map[string]any{}
	if err := c.post(ctx, "analyze_stage_keywords", "/videos/"+videoID.String()+"/analyze-stage-keywords", nil, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}
