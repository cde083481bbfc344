package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fiapx/fiapx-video-analysis/internal/app"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/fiapx/fiapx-video-analysis/internal/domain/port"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/archive"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/localfs"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-video-analysis/internal/plan"
	"github.com/fiapx/fiapx-video-analysis/internal/usecase"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ocrCmd = &cobra.Command{Use: "ocr", Short: "Run OCR and read its results"}

var ocrFlags struct {
	lang       string
	gpu        bool
	requireAll bool
}

var ocrRunCmd = &cobra.Command{
	Use:   "run VIDEO_ID",
	Short: "Run OCR over every frame of a video, replacing earlier results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.VideoID]("video", args[0])
		if err != nil {
			return err
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		params := app.OCRDefaults(sessionFrom(cmd.Context()).cfg)
		if cmd.Flags().Changed("lang") {
			params.Lang = ocrFlags.lang
		}
		if cmd.Flags().Changed("gpu") {
			params.UseGPU = ocrFlags.gpu
		}
		if cmd.Flags().Changed("require-all") {
			params.RequireAllFrames = ocrFlags.requireAll
		}
		report, err := wf.Workflow.ProcessVideoOCR(cmd.Context(), id, params)
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	},
}

// videoCommand builds the many "VERB VIDEO_ID" read commands.
func videoCommand(use, short string, fn func(ctx context.Context, wf *app.Workflow, id entity.VideoID) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " VIDEO_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID[entity.VideoID]("video", args[0])
			if err != nil {
				return err
			}
			wf, err := workflowFor(cmd)
			if err != nil {
				return err
			}
			out, err := fn(cmd.Context(), wf, id)
			if err != nil {
				return err
			}
			if out == nil {
				return nil
			}
			return printJSON(cmd, out)
		},
	}
}

var ocrResultsCmd = videoCommand("results", "Show the current run's results in timeline order",
	func(ctx context.Context, wf *app.Workflow, id entity.VideoID) (any, error) {
		return wf.Workflow.OCRResults(ctx, id)
	})

var ocrEnhancedCmd = videoCommand("enhanced", "Show enhanced OCR results of a completed run",
	func(ctx context.Context, wf *app.Workflow, id entity.VideoID) (any, error) {
		return wf.Workflow.GetEnhancedOCRResults(ctx, id)
	})

var ocrDeleteCmd = videoCommand("delete", "Delete the OCR results of a video",
	func(ctx context.Context, wf *app.Workflow, id entity.VideoID) (any, error) {
		return nil, wf.Workflow.DeleteOCRResults(ctx, id)
	})

var ocrInfoCmd = videoCommand("info", "Show where the service stores a video's OCR output",
	func(ctx context.Context, wf *app.Workflow, id entity.VideoID) (any, error) {
		return wf.Workflow.OCRStorageInfo(ctx, id)
	})

var ocrStateCmd = videoCommand("state", "Resynchronize and show the OCR state of a video",
	func(ctx context.Context, wf *app.Workflow, id entity.VideoID) (any, error) {
		st, err := wf.Workflow.ResyncOCRState(ctx, id)
		if err != nil {
			return nil, err
		}
		out := map[string]any{"video_id": id, "state": st}
		if run, err := wf.Runs.LatestByVideo(ctx, id); err == nil && run != nil {
			out["latest_run"] = run
		}
		return out, nil
	})

var keywordsCmd = &cobra.Command{Use: "keywords", Short: "Analyze keywords over OCR results"}

var matchFlags struct {
	caseSensitive bool
	exact         bool
	minConfidence float64
	remote        bool
}

// matchPolicy is the configured policy with any flags given on cmd applied.
func matchPolicy(cmd *cobra.Command) *entity.MatchPolicy {
	policy := app.MatchPolicy(sessionFrom(cmd.Context()).cfg)
	fs := cmd.Flags()
	if fs.Changed("case-sensitive") {
		policy.CaseSensitive = matchFlags.caseSensitive
	}
	if fs.Changed("exact") {
		policy.ExactMatch = matchFlags.exact
	}
	if fs.Changed("min-confidence") {
		policy.MinConfidence = matchFlags.minConfidence
	}
	return &policy
}

var keywordsAnalyzeCmd = &cobra.Command{
	Use:   "analyze VIDEO_ID KEYWORD...",
	Short: "Find where each keyword appears and disappears",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.VideoID]("video", args[0])
		if err != nil {
			return err
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		if matchFlags.remote {
			out, err := wf.API.AnalyzeKeywords(cmd.Context(), id, args[1:])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		}
		out, err := wf.Workflow.AnalyzeVideoKeywords(cmd.Context(), id, args[1:], matchPolicy(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var keywordsStagesCmd = &cobra.Command{
	Use:   "stages VIDEO_ID",
	Short: "Analyze each stage's keywords over that stage's frames",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.VideoID]("video", args[0])
		if err != nil {
			return err
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		if matchFlags.remote {
			out, err := wf.API.AnalyzeStageKeywords(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		}
		out, err := wf.Workflow.AnalyzeStageKeywords(cmd.Context(), id, matchPolicy(cmd))
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	},
}

var runPlanOut string

var runPlanCmd = &cobra.Command{
	Use:   "run-plan PLAN.yaml",
	Short: "Run a whole analysis plan against the service and write the report locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.Load(args[0])
		if err != nil {
			return err
		}
		if p.Video.Path == "" {
			return errors.New("run-plan needs video.path; use enqueue for plans that name an object key")
		}
		s := sessionFrom(cmd.Context())
		wf, err := s.workflow(cmd.Context())
		if err != nil {
			return err
		}

		store := localfs.NewStore(runPlanOut)
		sink := &planSink{log: s.log}
		uc := usecase.NewRunAnalysisUseCase(wf.Workflow, store, store, archive.NewZipCreator(archive.WithMaxImageWidth(s.cfg.ArchiveMaxWidth)), sink, sink, sink, s.log,
			usecase.RunAnalysisConfig{TempDir: filepath.Join(runPlanOut, ".work"), OCR: app.OCRDefaults(s.cfg)})

		msg := p.Request(uuid.New(), p.Video.Path)
		raw, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := uc.Execute(cmd.Context(), raw); err != nil {
			return err
		}
		if sink.failure != "" {
			return fmt.Errorf("analysis failed: %s", sink.failure)
		}
		report, err := store.Path(usecase.ReportKey(msg.RequestID))
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"request_id": msg.RequestID, "report": report, "status": sink.last})
	},
}

// planSink stands in for the broker and mailer when a plan runs locally.
type planSink struct {
	log     *zap.Logger
	last    json.RawMessage
	failure string
}

func (s *planSink) PublishStatus(_ context.Context, kind string, msg []byte) error {
	s.log.Info("status", zap.String("kind", kind), zap.ByteString("body", msg))
	if kind == port.EventAnalysisStatus {
		s.last = json.RawMessage(msg)
	}
	return nil
}

func (s *planSink) PublishToDLQ(_ context.Context, _ []byte, reason string) error {
	s.failure = reason
	return nil
}

func (s *planSink) NotifyFailure(_ context.Context, email, requestID, _, errMsg string) error {
	s.log.Info("skipping failure e-mail for local run", zap.String("to", email), zap.String("request_id", requestID))
	return nil
}

var enqueueKey string

var enqueueCmd = &cobra.Command{
	Use:   "enqueue PLAN.yaml",
	Short: "Publish a plan as an analysis request for the worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := plan.Load(args[0])
		if err != nil {
			return err
		}
		key := p.Video.Key
		if enqueueKey != "" {
			key = enqueueKey
		}
		if key == "" {
			return errors.New("enqueue needs video.key or --key naming an object in the upload bucket")
		}

		cfg := sessionFrom(cmd.Context()).cfg
		conn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("open channel: %w", err)
		}
		err = rabbitmq.Declare(ch, rabbitmq.ConsumerConfig{
			Queue:       cfg.RabbitMQRequestQueue,
			Exchange:    cfg.RabbitMQExchange,
			DLQ:         cfg.RabbitMQDLQ,
			StatusQueue: cfg.RabbitMQStatusQueue,
		})
		ch.Close()
		if err != nil {
			return err
		}

		pub, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQExchange)
		if err != nil {
			return err
		}
		defer pub.Close()

		msg := p.Request(uuid.New(), key)
		body, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := pub.PublishRequest(cmd.Context(), body); err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"request_id": msg.RequestID, "video_key": key, "queue": cfg.RabbitMQRequestQueue})
	},
}

func init() {
	fs := ocrRunCmd.Flags()
	fs.StringVar(&ocrFlags.lang, "lang", "", "OCR language (default from OCR_LANG)")
	fs.BoolVar(&ocrFlags.gpu, "gpu", false, "run OCR on the GPU")
	fs.BoolVar(&ocrFlags.requireAll, "require-all", false, "fail the run if any frame cannot be recognized")
	ocrCmd.AddCommand(ocrRunCmd, ocrResultsCmd, ocrEnhancedCmd, ocrDeleteCmd, ocrInfoCmd, ocrStateCmd)

	for _, c := range []*cobra.Command{keywordsAnalyzeCmd, keywordsStagesCmd} {
		fs = c.Flags()
		fs.BoolVar(&matchFlags.caseSensitive, "case-sensitive", false, "match case")
		fs.BoolVar(&matchFlags.exact, "exact", false, "require the whole frame text to equal the keyword")
		fs.Float64Var(&matchFlags.minConfidence, "min-confidence", 0, "ignore results below this confidence")
		fs.BoolVar(&matchFlags.remote, "remote", false, "use the service's own keyword scan")
	}
	keywordsCmd.AddCommand(keywordsAnalyzeCmd, keywordsStagesCmd)

	runPlanCmd.Flags().StringVarP(&runPlanOut, "out", "o", "analysis-out", "directory for the report and frame archive")
	enqueueCmd.Flags().StringVar(&enqueueKey, "key", "", "object key overriding video.key")
}
