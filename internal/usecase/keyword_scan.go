package usecase

import (
	"cmp"
	"slices"
	"strings"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
)

// DefaultMatchPolicy matches the service's own scan: case-insensitive substring.
var DefaultMatchPolicy = entity.MatchPolicy{}

// normalizeKeywords trims, drops blanks and removes repeats, keeping order.
func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func keywordMatches(text, keyword string, policy entity.MatchPolicy) bool {
	if !policy.CaseSensitive {
		text, keyword = strings.ToLower(text), strings.ToLower(keyword)
	}
	if policy.ExactMatch {
		return strings.TrimSpace(text) == keyword
	}
	return strings.Contains(text, keyword)
}

// scanFrame is a frame paired with its result, in timeline order.
type scanFrame struct {
	frame  entity.Frame
	result entity.OCRResult
}

// timeline keeps the frames that have a result at or above the policy's
// confidence floor, ordered by timestamp then frame number. Frames below the
// floor are absent from the timeline, they do not count as disappearances.
func timeline(frames []entity.Frame, results map[entity.FrameID]entity.OCRResult, policy entity.MatchPolicy) []scanFrame {
	out := make([]scanFrame, 0, len(frames))
	for _, f := range frames {
		res, ok := results[f.ID]
		if !ok || res.Confidence < policy.MinConfidence {
			continue
		}
		out = append(out, scanFrame{frame: f, result: res})
	}
	slices.SortStableFunc(out, func(a, b scanFrame) int {
		if c := cmp.Compare(a.frame.TimestampMs, b.frame.TimestampMs); c != 0 {
			return c
		}
		return cmp.Compare(a.frame.FrameNumber, b.frame.FrameNumber)
	})
	return out
}

func scanKeyword(videoID entity.VideoID, stageIndex *int, keyword string, tl []scanFrame, policy entity.MatchPolicy) entity.KeywordAnalysis {
	ka := entity.KeywordAnalysis{
		VideoID:         videoID,
		StageIndex:      stageIndex,
		Keyword:         keyword,
		MatchedFrameIDs: []entity.FrameID{},
	}

	var (
		prevFound   bool
		periodStart int64
		confSum     float64
	)
	for _, sf := range tl {
		ts := sf.frame.TimestampMs
		found := keywordMatches(sf.result.RawText, keyword, policy)
		switch {
		case found:
			ka.MatchedFrameIDs = append(ka.MatchedFrameIDs, sf.frame.ID)
			confSum += sf.result.Confidence
			if ka.FirstAppearanceMs == nil {
				ka.FirstAppearanceMs = ptr(ts)
			}
			ka.LastAppearanceMs = ptr(ts)
			if !prevFound {
				periodStart = ts
			}
		case prevFound:
			if ka.FirstDisappearanceMs == nil {
				ka.FirstDisappearanceMs = ptr(ts)
			}
			ka.ContinuousPeriods = append(ka.ContinuousPeriods, entity.Period{StartMs: periodStart, EndMs: ts, DurationMs: ts - periodStart})
		}
		prevFound = found
	}
	if prevFound {
		last := tl[len(tl)-1].frame.TimestampMs
		ka.ContinuousPeriods = append(ka.ContinuousPeriods, entity.Period{StartMs: periodStart, EndMs: last, DurationMs: last - periodStart})
	}

	ka.MatchCount = len(ka.MatchedFrameIDs)
	if ka.MatchCount > 0 {
		ka.AverageConfidence = confSum / float64(ka.MatchCount)
	}
	return ka
}

func scanKeywords(videoID entity.VideoID, stageIndex *int, keywords []string, tl []scanFrame, policy entity.MatchPolicy) []entity.KeywordAnalysis {
	out := make([]entity.KeywordAnalysis, 0, len(keywords))
	for _, k := range keywords {
		out = append(out, scanKeyword(videoID, stageIndex, k, tl, policy))
	}
	return out
}

// stageBounds spans from the earliest first appearance to the latest first
// disappearance among the stage's keywords.
func stageBounds(sa *entity.StageKeywordAnalysis) {
	for _, ka := range sa.Analyses {
		if ka.FirstAppearanceMs != nil && (sa.StageStartMs == nil || *ka.FirstAppearanceMs < *sa.StageStartMs) {
			sa.StageStartMs = ptr(*ka.FirstAppearanceMs)
		}
		if ka.FirstDisappearanceMs != nil && (sa.StageEndMs == nil || *ka.FirstDisappearanceMs > *sa.StageEndMs) {
			sa.StageEndMs = ptr(*ka.FirstDisappearanceMs)
		}
	}
	if sa.StageStartMs != nil && sa.StageEndMs != nil {
		sa.StageDurationMs = ptr(*sa.StageEndMs - *sa.StageStartMs)
	}
}

func ptr[T any](v T) *T { return &v }
