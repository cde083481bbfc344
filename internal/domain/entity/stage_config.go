package entity

import "time"

// Region is a rectangle in frame pixel coordinates.
type Region struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// ExtractionParams describes how frames of one stage are sampled. Exactly one
// of IntervalSeconds or Count drives sampling; zero values mean "inherit from
// the stage config".
type ExtractionParams struct {
	StageIndex      int      `json:"stage_index" yaml:"stage_index"`
	IntervalSeconds float64  `json:"interval_seconds,omitempty" yaml:"interval_seconds,omitempty"`
	Count           int      `json:"count,omitempty" yaml:"count,omitempty"`
	Region          *Region  `json:"region,omitempty" yaml:"region,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Quality         int      `json:"quality,omitempty" yaml:"quality,omitempty"`
	MaxFrames       int      `json:"max_frames,omitempty" yaml:"max_frames,omitempty"`
}

type StageConfig struct {
	ID         StageConfigID    `json:"id,omitempty"`
	VideoID    VideoID          `json:"video_id"`
	StageIndex int              `json:"stage_order"`
	Name       string           `json:"stage_name"`
	Keywords   []string         `json:"keywords"`
	Params     ExtractionParams `json:"extraction_params"`
	CreatedAt  time.Time        `json:"created_at,omitempty"`
}
