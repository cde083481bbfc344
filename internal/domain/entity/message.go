package entity

import "github.com/google/uuid"

// AnalysisRequestMessage is the inbound message from the analysis.requests queue.
type AnalysisRequestMessage struct {
	RequestID   uuid.UUID     `json:"request_id"`
	ProjectID   ProjectID     `json:"project_id,omitempty"`
	ProjectName string        `json:"project_name,omitempty"`
	VideoKey    string        `json:"video_key"`
	Stages      []StageConfig `json:"stages"`
	Keywords    []string      `json:"keywords"`
	// MatchPolicy applies to both video and stage analysis; nil uses the
	// worker's configured default.
	MatchPolicy   *MatchPolicy `json:"match_policy,omitempty"`
	OCR           OCRParams    `json:"ocr"`
	ArchiveFrames bool         `json:"archive_frames"`
	NotifyEmail   string       `json:"notify_email,omitempty"`
}

type AnalysisStatus string

const (
	AnalysisStatusProcessing AnalysisStatus = "PROCESSING"
	AnalysisStatusCompleted  AnalysisStatus = "COMPLETED"
	AnalysisStatusFailed     AnalysisStatus = "FAILED"
)

// AnalysisStatusMessage is published to analysis.status for pipeline runs.
type AnalysisStatusMessage struct {
	RequestID    uuid.UUID      `json:"request_id"`
	Status       AnalysisStatus `json:"status"`
	ProjectID    ProjectID      `json:"project_id,omitempty"`
	VideoID      VideoID        `json:"video_id,omitempty"`
	VideoKey     string         `json:"video_key"`
	FrameCount   int            `json:"frame_count,omitempty"`
	MatchCount   int            `json:"match_count,omitempty"`
	ReportKey    string         `json:"report_key,omitempty"`
	ArchiveKey   string         `json:"archive_key,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// OCRStateMessage is published to analysis.status on every OCR state change.
type OCRStateMessage struct {
	RunID       uuid.UUID `json:"run_id"`
	VideoID     VideoID   `json:"video_id"`
	From        OCRState  `json:"from"`
	To          OCRState  `json:"to"`
	ResultCount int       `json:"result_count,omitempty"`
	// Cause names the operation that moved the state.
	Cause        string `json:"cause"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// AnalysisReport is the JSON document archived for every completed pipeline run.
type AnalysisReport struct {
	RequestID uuid.UUID              `json:"request_id"`
	Project   Project                `json:"project"`
	Video     Video                  `json:"video"`
	Stages    []StageConfig          `json:"stages"`
	Frames    int                    `json:"frame_count"`
	Run       OCRProcessSummary      `json:"ocr"`
	Keywords  []KeywordAnalysis      `json:"keyword_analysis"`
	ByStage   []StageKeywordAnalysis `json:"stage_analysis"`
}
