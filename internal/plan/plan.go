package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Plan is a declarative analysis run: which project and video, how each
// stage is sampled and which keywords to look for.
type Plan struct {
	Project       Project             `yaml:"project"`
	Video         Video               `yaml:"video"`
	Stages        []Stage             `yaml:"stages"`
	Keywords      []string            `yaml:"keywords"`
	MatchPolicy   *entity.MatchPolicy `yaml:"match_policy"`
	OCR           OCR                 `yaml:"ocr"`
	ArchiveFrames bool                `yaml:"archive_frames"`
	NotifyEmail   string              `yaml:"notify_email"`
}

// Project names an existing project by id or a new one by name.
type Project struct {
	ID   entity.ProjectID `yaml:"id"`
	Name string           `yaml:"name"`
}

// Video is the source file: Path on the local disk, Key in the upload bucket.
type Video struct {
	Path string `yaml:"path"`
	Key  string `yaml:"key"`
}

type Stage struct {
	Index      int                     `yaml:"index"`
	Name       string                  `yaml:"name"`
	Keywords   []string                `yaml:"keywords"`
	Extraction entity.ExtractionParams `yaml:"extraction"`
}

type OCR struct {
	Lang             string `yaml:"lang"`
	UseGPU           bool   `yaml:"use_gpu"`
	RequireAllFrames bool   `yaml:"require_all_frames"`
}

func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a plan, rejecting unknown fields.
func Parse(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks what can be checked without the service. Extraction
// parameters are validated against the video once it is uploaded.
func (p *Plan) Validate() error {
	var problems []error
	if !p.Project.ID.Valid() && strings.TrimSpace(p.Project.Name) == "" {
		problems = append(problems, errors.New("project: one of id or name is required"))
	}
	if p.Video.Path == "" && p.Video.Key == "" {
		problems = append(problems, errors.New("video: one of path or key is required"))
	}
	if len(p.Stages) == 0 {
		problems = append(problems, errors.New("stages: at least one stage is required"))
	}
	seen := make(map[int]bool, len(p.Stages))
	for i, st := range p.Stages {
		if strings.TrimSpace(st.Name) == "" {
			problems = append(problems, fmt.Errorf("stages[%d]: name is required", i))
		}
		if seen[st.Index] {
			problems = append(problems, fmt.Errorf("stages[%d]: index %d is used more than once", i, st.Index))
		}
		seen[st.Index] = true
	}
	if p.MatchPolicy != nil {
		if mc := p.MatchPolicy.MinConfidence; mc < 0 || mc > 1 {
			problems = append(problems, fmt.Errorf("match_policy.min_confidence: must be within [0,1], got %v", mc))
		}
	}
	return errors.Join(problems...)
}

// StageConfigs converts the plan's stages, unbound to any video yet.
func (p *Plan) StageConfigs() []entity.StageConfig {
	out := make([]entity.StageConfig, 0, len(p.Stages))
	for _, st := range p.Stages {
		params := st.Extraction
		params.StageIndex = st.Index
		out = append(out, entity.StageConfig{StageIndex: st.Index, Name: st.Name, Keywords: st.Keywords, Params: params})
	}
	return out
}

// Request builds the queue message for this plan. videoKey is the object the
// worker will read, either the plan's Key or a path for a local source.
func (p *Plan) Request(requestID uuid.UUID, videoKey string) entity.AnalysisRequestMessage {
	return entity.AnalysisRequestMessage{
		RequestID:     requestID,
		ProjectID:     p.Project.ID,
		ProjectName:   p.Project.Name,
		VideoKey:      videoKey,
		Stages:        p.StageConfigs(),
		Keywords:      p.Keywords,
		MatchPolicy:   p.MatchPolicy,
		OCR:           entity.OCRParams{Lang: p.OCR.Lang, UseGPU: p.OCR.UseGPU, RequireAllFrames: p.OCR.RequireAllFrames},
		ArchiveFrames: p.ArchiveFrames,
		NotifyEmail:   p.NotifyEmail,
	}
}
