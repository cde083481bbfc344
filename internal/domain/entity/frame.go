package entity

import "time"

type Frame struct {
	ID          FrameID   `json:"id"`
	VideoID     VideoID   `json:"video_id"`
	StageIndex  int       `json:"stage_index"`
	FrameNumber int       `json:"frame_number"`
	TimestampMs int64     `json:"timestamp_ms"`
	ImageRef    string    `json:"frame_path"`
	FileSize    int64     `json:"file_size,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// ExtractionRequest is the body sent to the extract-frames endpoint.
// ReplaceStage asks the service to drop the stage's previous frames.
type ExtractionRequest struct {
	ExtractionParams
	ReplaceStage bool `json:"replace_stage"`
}
