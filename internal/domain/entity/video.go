package entity

import (
	"io"
	"strconv"
	"strings"
	"time"
)

// ProcessStatus is the server-side processing flag of a video.
type ProcessStatus string

const (
	ProcessStatusPending    ProcessStatus = "pending"
	ProcessStatusProcessing ProcessStatus = "processing"
	ProcessStatusCompleted  ProcessStatus = "completed"
	ProcessStatusFailed     ProcessStatus = "failed"
)

type Video struct {
	ID               VideoID       `json:"id"`
	ProjectID        ProjectID     `json:"project_id"`
	OriginalFilename string        `json:"original_filename"`
	SourceRef        string        `json:"file_path"`
	FileSize         int64         `json:"file_size"`
	DurationMs       int64         `json:"duration_ms,omitempty"`
	FPS              float64       `json:"fps,omitempty"`
	Resolution       string        `json:"resolution,omitempty"`
	Format           string        `json:"format,omitempty"`
	ProcessStatus    ProcessStatus `json:"process_status,omitempty"`
	UploadedAt       time.Time     `json:"upload_time"`
}

// Dimensions parses Resolution ("1920x1080"). ok is false when the service
// did not report a usable resolution.
func (v Video) Dimensions() (width, height int, ok bool) {
	w, h, found := strings.Cut(strings.ToLower(strings.TrimSpace(v.Resolution)), "x")
	if !found {
		return 0, 0, false
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, false
	}
	height, err = strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, false
	}
	return width, height, true
}

// VideoFile is the binary payload of an upload. Size may be -1 when unknown.
type VideoFile struct {
	Name   string
	Reader io.Reader
	Size   int64
}
