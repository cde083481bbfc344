package entity

import "time"

type OCRRunStatus string

const (
	OCRRunStatusRunning   OCRRunStatus = "RUNNING"
	OCRRunStatusCompleted OCRRunStatus = "COMPLETED"
	OCRRunStatusFailed    OCRRunStatus = "FAILED"
	OCRRunStatusCancelled OCRRunStatus = "CANCELLED"
)

// OCRRun is the local record of one ProcessVideoOCR invocation.
type OCRRun struct {
	ID              RunID
	VideoID         VideoID
	Status          OCRRunStatus
	Attempt         int
	TotalFrames     int
	ProcessedFrames int
	FailedFrames    int
	ResultCount     int
	ErrorMessage    string
	StartedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// NewOCRRun starts a run. attempt counts runs for the same video, starting at 1.
func NewOCRRun(videoID VideoID, attempt int) *OCRRun {
	now := time.Now().UTC()
	return &OCRRun{
		ID:        NewRunID(),
		VideoID:   videoID,
		Status:    OCRRunStatusRunning,
		Attempt:   attempt,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (r *OCRRun) MarkCompleted(summary OCRProcessSummary, resultCount int) {
	now := time.Now().UTC()
	r.Status = OCRRunStatusCompleted
	r.TotalFrames = summary.TotalFrames
	r.ProcessedFrames = summary.ProcessedFrames
	r.FailedFrames = summary.FailedFrames
	r.ResultCount = resultCount
	r.UpdatedAt = now
	r.CompletedAt = &now
}

func (r *OCRRun) MarkFailed(errMsg string) {
	r.Status = OCRRunStatusFailed
	r.ErrorMessage = errMsg
	r.UpdatedAt = time.Now().UTC()
}

func (r *OCRRun) MarkCancelled(errMsg string) {
	r.Status = OCRRunStatusCancelled
	r.ErrorMessage = errMsg
	r.UpdatedAt = time.Now().UTC()
}

func (r *OCRRun) Finished() bool {
	return r.Status != OCRRunStatusRunning
}
