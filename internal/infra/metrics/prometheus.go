package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_analysis_remote_requests_total",
		Help: "Requests issued to the analysis service, by operation and status code class",
	}, []string{"operation", "status"})

	RemoteRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiapx_analysis_remote_request_duration_seconds",
		Help:    "Latency of requests to the analysis service",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300},
	}, []string{"operation"})

	OCRRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_analysis_ocr_runs_total",
		Help: "OCR runs finished, by outcome",
	}, []string{"status"})

	OCRStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_analysis_ocr_state_transitions_total",
		Help: "Per-video OCR state machine transitions",
	}, []string{"from", "to"})

	OCRRunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fiapx_analysis_ocr_runs_in_flight",
		Help: "OCR runs currently waiting on the analysis service",
	})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_analysis_frames_extracted_total",
		Help: "Frames returned by extraction calls",
	})

	KeywordMatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_analysis_keyword_matches_total",
		Help: "Frame matches produced by keyword scans",
	})

	PipelinesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_analysis_pipelines_processed_total",
		Help: "Analysis requests handled by the worker, by outcome",
	}, []string{"status"})

	PipelineStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiapx_analysis_pipeline_stage_duration_seconds",
		Help:    "Duration of analysis pipeline stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fiapx_analysis_active_workers",
		Help: "Workers currently running an analysis request",
	})
)
