package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/spf13/cobra"
)

var projectsCmd = &cobra.Command{Use: "projects", Short: "Manage projects"}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		projects, err := wf.Workflow.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, projects)
	},
}

var projectDescription string

var projectsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		p, err := wf.Workflow.CreateProject(cmd.Context(), args[0], projectDescription, nil)
		if err != nil {
			return err
		}
		return printJSON(cmd, p)
	},
}

var projectsGetCmd = &cobra.Command{
	Use:   "get PROJECT_ID",
	Short: "Show a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.ProjectID]("project", args[0])
		if err != nil {
			return err
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		p, err := wf.Workflow.GetProject(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, p)
	},
}

var videosCmd = &cobra.Command{Use: "videos", Short: "Upload and inspect videos"}

var videosListCmd = &cobra.Command{
	Use:   "list PROJECT_ID",
	Short: "List the videos of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.ProjectID]("project", args[0])
		if err != nil {
			return err
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		videos := []entity.Video{}
		for v, err := range wf.Workflow.ListProjectVideos(cmd.Context(), id) {
			if err != nil {
				return err
			}
			videos = append(videos, v)
		}
		return printJSON(cmd, videos)
	},
}

var videosUploadCmd = &cobra.Command{
	Use:   "upload PROJECT_ID FILE",
	Short: "Upload a video file into a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.ProjectID]("project", args[0])
		if err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		stat, err := f.Stat()
		if err != nil {
			return err
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		v, err := wf.Workflow.UploadVideo(cmd.Context(), id, entity.VideoFile{Name: filepath.Base(args[1]), Reader: f, Size: stat.Size()})
		if err != nil {
			return err
		}
		return printJSON(cmd, v)
	},
}

var videosGetCmd = &cobra.Command{
	Use:   "get VIDEO_ID",
	Short: "Show a video",
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
		v, err := wf.Workflow.GetVideo(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, v)
	},
}

var stagesCmd = &cobra.Command{Use: "stages", Short: "Manage per-video stage configs"}

var stagesListCmd = &cobra.Command{
	Use:   "list VIDEO_ID",
	Short: "List stage configs in stage order",
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
		stages, err := wf.Workflow.ListStageConfigs(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, stages)
	},
}

var (
	stageName     string
	stageKeywords []string
	stageParams   extractionFlags
)

var stagesCreateCmd = &cobra.Command{
	Use:   "create VIDEO_ID STAGE_INDEX",
	Short: "Create a stage config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.VideoID]("video", args[0])
		if err != nil {
			return err
		}
		var idx int
		if _, err := fmt.Sscan(args[1], &idx); err != nil {
			return fmt.Errorf("invalid stage index %q", args[1])
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		cfg, err := wf.Workflow.CreateStageConfig(cmd.Context(), entity.StageConfig{
			VideoID:    id,
			StageIndex: idx,
			Name:       stageName,
			Keywords:   stageKeywords,
			Params:     stageParams.params(idx),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, cfg)
	},
}

// extractionFlags binds ExtractionParams to a command's flags.
type extractionFlags struct {
	interval  float64
	count     int
	quality   int
	maxFrames int
	threshold float64
	region    []int
}

func (f *extractionFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.Float64Var(&f.interval, "interval", 0, "seconds between sampled frames")
	fs.IntVar(&f.count, "count", 0, "number of frames to sample")
	fs.IntVar(&f.quality, "quality", 0, "image quality 1-100")
	fs.IntVar(&f.maxFrames, "max-frames", 0, "upper bound on sampled frames")
	fs.Float64Var(&f.threshold, "threshold", -1, "scene-change threshold 0-1")
	fs.IntSliceVar(&f.region, "region", nil, "crop region x,y,width,height")
}

func (f *extractionFlags) params(stage int) entity.ExtractionParams {
	p := entity.ExtractionParams{
		StageIndex:      stage,
		IntervalSeconds: f.interval,
		Count:           f.count,
		Quality:         f.quality,
		MaxFrames:       f.maxFrames,
	}
	if f.threshold >= 0 {
		t := f.threshold
		p.Threshold = &t
	}
	if len(f.region) == 4 {
		p.Region = &entity.Region{X: f.region[0], Y: f.region[1], Width: f.region[2], Height: f.region[3]}
	}
	return p
}

var framesCmd = &cobra.Command{Use: "frames", Short: "Extract and inspect frames"}

var (
	extractStage  int
	extractParams extractionFlags
)

var framesExtractCmd = &cobra.Command{
	Use:   "extract VIDEO_ID",
	Short: "Extract frames for one stage, replacing that stage's frames",
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
		frames, err := wf.Workflow.ExtractFrames(cmd.Context(), id, extractParams.params(extractStage))
		if err != nil {
			return err
		}
		return printJSON(cmd, frames)
	},
}

var framesListCmd = &cobra.Command{
	Use:   "list VIDEO_ID",
	Short: "List the frames of a video",
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
		frames, err := wf.Workflow.ListFrames(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(cmd, frames)
	},
}

var framesGetCmd = &cobra.Command{
	Use:   "get FRAME_ID",
	Short: "Show a frame and its image reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.FrameID]("frame", args[0])
		if err != nil {
			return err
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		f, err := wf.Workflow.GetFrame(cmd.Context(), id)
		if err != nil {
			return err
		}
		ref, err := wf.Workflow.GetFrameImageRef(id)
		if err != nil {
			return err
		}
		return printJSON(cmd, struct {
			*entity.Frame
			ImageURL string `json:"image_url"`
		}{f, ref})
	},
}

var imageOut string

var framesImageCmd = &cobra.Command{
	Use:   "image FRAME_ID",
	Short: "Download a frame image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID[entity.FrameID]("frame", args[0])
		if err != nil {
			return err
		}
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		rc, err := wf.Workflow.FrameImage(cmd.Context(), id)
		if err != nil {
			return err
		}
		defer rc.Close()

		var out io.Writer = cmd.OutOrStdout()
		if imageOut != "" && imageOut != "-" {
			f, err := os.Create(imageOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		_, err = io.Copy(out, rc)
		return err
	},
}

var framesDeleteCmd = &cobra.Command{
	Use:   "delete VIDEO_ID",
	Short: "Delete every frame of a video and its OCR results",
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
		return wf.Workflow.DeleteVideoFrames(cmd.Context(), id)
	},
}

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Show service health and resource counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := workflowFor(cmd)
		if err != nil {
			return err
		}
		info, err := wf.Workflow.SystemInfo(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, info)
	},
}

func init() {
	projectsCreateCmd.Flags().StringVar(&projectDescription, "description", "", "project description")
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd, projectsGetCmd)

	videosCmd.AddCommand(videosListCmd, videosUploadCmd, videosGetCmd)

	stagesCreateCmd.Flags().StringVar(&stageName, "name", "", "stage name")
	stagesCreateCmd.Flags().StringSliceVar(&stageKeywords, "keywords", nil, "keywords expected in this stage")
	stageParams.bind(stagesCreateCmd)
	_ = stagesCreateCmd.MarkFlagRequired("name")
	stagesCmd.AddCommand(stagesListCmd, stagesCreateCmd)

	framesExtractCmd.Flags().IntVar(&extractStage, "stage", 0, "stage index to extract")
	extractParams.bind(framesExtractCmd)
	framesImageCmd.Flags().StringVarP(&imageOut, "output", "o", "-", "output file, - for stdout")
	framesCmd.AddCommand(framesExtractCmd, framesListCmd, framesGetCmd, framesImageCmd, framesDeleteCmd)
}
