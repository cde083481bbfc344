package entity

// MatchPolicy decides when a keyword is considered present in a frame.
type MatchPolicy struct {
	CaseSensitive bool    `json:"case_sensitive" yaml:"case_sensitive"`
	ExactMatch    bool    `json:"exact_match" yaml:"exact_match"`
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// Period is a contiguous span of frames in which a keyword was visible.
type Period struct {
	StartMs    int64 `json:"start_timestamp_ms"`
	EndMs      int64 `json:"end_timestamp_ms"`
	DurationMs int64 `json:"duration_ms"`
}

type KeywordAnalysis struct {
	VideoID    VideoID `json:"video_id"`
	StageIndex *int    `json:"stage_index,omitempty"`
	Keyword    string  `json:"keyword"`

	MatchedFrameIDs []FrameID `json:"matched_frame_ids"`
	MatchCount      int       `json:"match_count"`

	FirstAppearanceMs    *int64   `json:"first_appearance_timestamp_ms,omitempty"`
	FirstDisappearanceMs *int64   `json:"first_disappearance_timestamp_ms,omitempty"`
	LastAppearanceMs     *int64   `json:"last_appearance_timestamp_ms,omitempty"`
	ContinuousPeriods    []Period `json:"continuous_periods,omitempty"`
	AverageConfidence    float64  `json:"average_confidence"`
}

type StageKeywordAnalysis struct {
	StageIndex int               `json:"stage_index"`
	StageName  string            `json:"stage_name"`
	Keywords   []string          `json:"keywords"`
	FrameCount int               `json:"frame_count"`
	Analyses   []KeywordAnalysis `json:"keyword_analysis"`

	StageStartMs    *int64 `json:"stage_start_timestamp_ms,omitempty"`
	StageEndMs      *int64 `json:"stage_end_timestamp_ms,omitempty"`
	StageDurationMs *int64 `json:"stage_duration_ms,omitempty"`
}
