package entity

import "time"

// BoundingRegion is one recognized text block inside a frame.
type BoundingRegion struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	Points     [][]float64 `json:"bbox,omitempty"`
}

type OCRResult struct {
	ID              OCRResultID      `json:"id"`
	FrameID         FrameID          `json:"frame_id"`
	RawText         string           `json:"text_content"`
	Confidence      float64          `json:"confidence"`
	BoundingRegions []BoundingRegion `json:"bbox,omitempty"`
	ProcessedAt     time.Time        `json:"processed_at"`
}

// EnhancedOCRResult is the richer per-frame record the service keeps next to
// the plain results (recognized lines with per-line scores and boxes).
type EnhancedOCRResult struct {
	FrameID     FrameID     `json:"frame_id"`
	FrameNumber int         `json:"frame_number"`
	TimestampMs int64       `json:"timestamp_ms"`
	RecTexts    []string    `json:"rec_texts"`
	RecScores   []float64   `json:"rec_scores"`
	RecBoxes    [][]float64 `json:"rec_boxes,omitempty"`
}

// OCRParams configures one OCR run.
type OCRParams struct {
	Lang   string `json:"lang,omitempty"`
	UseGPU bool   `json:"use_gpu"`
	// RequireAllFrames fails the run when the service reports any frame it
	// could not recognize.
	RequireAllFrames bool `json:"-"`
}

// OCRProcessSummary is what the process-ocr endpoint reports back.
type OCRProcessSummary struct {
	VideoID         VideoID `json:"video_id"`
	TotalFrames     int     `json:"total_frames"`
	ProcessedFrames int     `json:"processed_frames"`
	FailedFrames    int     `json:"failed_frames"`
}

type OCRStorageInfo struct {
	VideoID        VideoID `json:"video_id"`
	DatabaseCount  int     `json:"database_records"`
	FileCount      int     `json:"json_files"`
	StoragePath    string  `json:"storage_path"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
}

// OCRSnapshot is the complete result set of one successful run, keyed by the
// frames it was produced from.
type OCRSnapshot struct {
	RunID   RunID
	VideoID VideoID
	Frames  []Frame
	Results map[FrameID]OCRResult
	TakenAt time.Time
}
