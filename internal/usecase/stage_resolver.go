package usecase

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/errs"
)

// StageResolver orders a video's stage configs and validates them before any
// extraction is dispatched. It holds no state.
type StageResolver struct{}

func NewStageResolver() *StageResolver {
	return &StageResolver{}
}

// Resolve returns configs sorted by StageIndex. Two configs sharing a
// StageIndex are rejected rather than letting one silently win.
func (r *StageResolver) Resolve(op string, video entity.Video, configs []entity.StageConfig) ([]entity.StageConfig, error) {
	ordered := slices.Clone(configs)
	slices.SortStableFunc(ordered, func(a, b entity.StageConfig) int {
		return cmp.Compare(a.StageIndex, b.StageIndex)
	})

	for i, cfg := range ordered {
		if i > 0 && ordered[i-1].StageIndex == cfg.StageIndex {
			return nil, &errs.ValidationError{
				Op:       op,
				Resource: "video " + video.ID.String() + " stage configs",
				Field:    "stage_index",
				Reason:   fmt.Sprintf("stage %d is configured more than once", cfg.StageIndex),
			}
		}
		if err := r.validateConfig(op, video, cfg); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func (r *StageResolver) validateConfig(op string, video entity.Video, cfg entity.StageConfig) error {
	if cfg.VideoID != video.ID {
		return &errs.ConfigValidationError{Op: op, VideoID: video.ID, StageIndex: cfg.StageIndex, Field: "video_id",
			Reason: fmt.Sprintf("config belongs to video %s", cfg.VideoID)}
	}
	if cfg.StageIndex < 0 {
		return &errs.ConfigValidationError{Op: op, VideoID: video.ID, StageIndex: cfg.StageIndex, Field: "stage_index",
			Reason: "must not be negative"}
	}
	if cfg.Params.StageIndex != 0 && cfg.Params.StageIndex != cfg.StageIndex {
		return &errs.ConfigValidationError{Op: op, VideoID: video.ID, StageIndex: cfg.StageIndex, Field: "extraction_params.stage_index",
			Reason: fmt.Sprintf("params name stage %d", cfg.Params.StageIndex)}
	}
	params := cfg.Params
	params.StageIndex = cfg.StageIndex
	// A stage may leave sampling to the extraction request.
	return validateParams(op, video, params, false)
}

// ValidateParams checks a complete (already merged) parameter set.
func (r *StageResolver) ValidateParams(op string, video entity.Video, p entity.ExtractionParams) error {
	return validateParams(op, video, p, true)
}

func validateParams(op string, video entity.Video, p entity.ExtractionParams, requireSampling bool) error {
	invalid := func(field, reason string) error {
		return &errs.ConfigValidationError{Op: op, VideoID: video.ID, StageIndex: p.StageIndex, Field: field, Reason: reason}
	}

	switch {
	case p.IntervalSeconds < 0 || math.IsNaN(p.IntervalSeconds) || math.IsInf(p.IntervalSeconds, 0):
		return invalid("interval_seconds", "must be a positive number")
	case p.Count < 0:
		return invalid("count", "must be positive")
	case p.IntervalSeconds > 0 && p.Count > 0:
		return invalid("interval_seconds", "interval and count are mutually exclusive")
	case requireSampling && p.IntervalSeconds == 0 && p.Count == 0:
		return invalid("interval_seconds", "one of interval or count is required")
	case p.MaxFrames < 0:
		return invalid("max_frames", "must not be negative")
	case p.Quality != 0 && (p.Quality < 1 || p.Quality > 100):
		return invalid("quality", "must be within [1,100]")
	}
	if p.Threshold != nil && (*p.Threshold < 0 || *p.Threshold > 1) {
		return invalid("threshold", "must be within [0,1]")
	}
	if p.Region != nil {
		reg := *p.Region
		if reg.X < 0 || reg.Y < 0 || reg.Width <= 0 || reg.Height <= 0 {
			return invalid("region", "origin must be non-negative and size positive")
		}
		if w, h, ok := video.Dimensions(); ok && (reg.X+reg.Width > w || reg.Y+reg.Height > h) {
			return invalid("region", fmt.Sprintf("%dx%d+%d+%d exceeds frame bounds %dx%d", reg.Width, reg.Height, reg.X, reg.Y, w, h))
		}
	}
	return nil
}

// ForExtraction validates the whole stage set, finds the requested stage and
// fills unset request params from it. Nothing is dispatched if any stage of
// the video is invalid.
func (r *StageResolver) ForExtraction(op string, video entity.Video, configs []entity.StageConfig, req entity.ExtractionParams) (entity.StageConfig, entity.ExtractionParams, error) {
	ordered, err := r.Resolve(op, video, configs)
	if err != nil {
		return entity.StageConfig{}, entity.ExtractionParams{}, err
	}

	idx := slices.IndexFunc(ordered, func(c entity.StageConfig) bool { return c.StageIndex == req.StageIndex })
	if idx < 0 {
		return entity.StageConfig{}, entity.ExtractionParams{}, &errs.ConfigMissingError{Op: op, VideoID: video.ID, StageIndex: req.StageIndex}
	}
	stage := ordered[idx]

	merged := mergeParams(stage.Params, req)
	merged.StageIndex = stage.StageIndex
	if err := r.ValidateParams(op, video, merged); err != nil {
		return entity.StageConfig{}, entity.ExtractionParams{}, err
	}
	return stage, merged, nil
}

// mergeParams overlays the request on the stage defaults. Choosing interval in
// the request drops a stage count and vice versa.
func mergeParams(base, req entity.ExtractionParams) entity.ExtractionParams {
	out := base
	switch {
	case req.IntervalSeconds != 0:
		out.IntervalSeconds, out.Count = req.IntervalSeconds, 0
	case req.Count != 0:
		out.IntervalSeconds, out.Count = 0, req.Count
	}
	if req.Region != nil {
		out.Region = req.Region
	}
	if req.Threshold != nil {
		out.Threshold = req.Threshold
	}
	if req.Quality != 0 {
		out.Quality = req.Quality
	}
	if req.MaxFrames != 0 {
		out.MaxFrames = req.MaxFrames
	}
	return out
}
