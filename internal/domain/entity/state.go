package entity

// OCRState is the per-video position in the OCR workflow.
type OCRState string

const (
	OCRStateNotStarted       OCRState = "NOT_STARTED"
	OCRStateInProgress       OCRState = "OCR_IN_PROGRESS"
	OCRStateComplete         OCRState = "OCR_COMPLETE"
	OCRStateFailed           OCRState = "OCR_FAILED"
	OCRStateAnalysisComplete OCRState = "ANALYSIS_COMPLETE"
)

// Complete and AnalysisComplete fall back to NotStarted when the frames the
// results were read from are replaced or deleted. OCRFailed is only left by a
// new run.
var ocrTransitions = map[OCRState][]OCRState{
	OCRStateNotStarted:       {OCRStateInProgress},
	OCRStateInProgress:       {OCRStateComplete, OCRStateFailed},
	OCRStateComplete:         {OCRStateAnalysisComplete, OCRStateInProgress, OCRStateNotStarted},
	OCRStateAnalysisComplete: {OCRStateAnalysisComplete, OCRStateInProgress, OCRStateNotStarted},
	OCRStateFailed:           {OCRStateInProgress},
}

// CanTransition reports whether the state machine allows s -> next.
func (s OCRState) CanTransition(next OCRState) bool {
	for _, allowed := range ocrTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HasResults reports whether results may be read in this state.
func (s OCRState) HasResults() bool {
	return s == OCRStateComplete || s == OCRStateAnalysisComplete
}
