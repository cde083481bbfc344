package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fiapx/fiapx-video-analysis/internal/app"
	"github.com/fiapx/fiapx-video-analysis/internal/infra/config"
	"github.com/fiapx/fiapx-video-analysis/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel string
	compact  bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "analysisctl",
	Short:        "Drive the video analysis service: upload, extract frames, OCR, keyword analysis",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log, err := logger.NewConsole(logLevel)
		if err != nil {
			return err
		}
		cmd.SetContext(withSession(cmd.Context(), &session{cfg: cfg, log: log}))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if s := sessionFrom(cmd.Context()); s != nil {
			s.close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&compact, "compact", false, "print JSON on a single line")

	rootCmd.AddCommand(projectsCmd, videosCmd, stagesCmd, framesCmd, ocrCmd, keywordsCmd, systemCmd, runPlanCmd, enqueueCmd)
}

type sessionKey struct{}

// session holds what the commands share. The workflow is built lazily so
// commands that never talk to the service need no database or network.
type session struct {
	cfg *config.Config
	log *zap.Logger
	wf  *app.Workflow
}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

func (s *session) workflow(ctx context.Context) (*app.Workflow, error) {
	if s.wf != nil {
		return s.wf, nil
	}
	wf, err := app.NewWorkflow(ctx, s.cfg, s.log, nil)
	if err != nil {
		return nil, err
	}
	s.wf = wf
	return wf, nil
}

func (s *session) close() {
	if s.wf != nil {
		s.wf.Close()
	}
	_ = s.log.Sync()
}

// workflowFor is the common prologue of every service command.
func workflowFor(cmd *cobra.Command) (*app.Workflow, error) {
	s := sessionFrom(cmd.Context())
	if s == nil {
		return nil, errors.New("no session")
	}
	return s.workflow(cmd.Context())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// parseID reads a positive integer id argument.
func parseID[T ~int64](what, arg string) (T, error) {
	n, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, arg)
	}
	return T(n), nil
}
