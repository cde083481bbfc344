package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `
project:
  name: checkout-flow
video:
  path: ./recordings/checkout.mp4
  key: uploads/checkout.mp4
stages:
  - index: 1
    name: payment
    keywords: [Card, CVV]
    extraction:
      interval_seconds: 2
      region: {x: 0, y: 600, width: 1280, height: 120}
  - index: 0
    name: login
    keywords: [Login]
    extraction:
      count: 5
      quality: 85
keywords: [Error]
match_policy:
  min_confidence: 0.6
ocr:
  lang: en
  require_all_frames: true
archive_frames: true
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "checkout-flow", p.Project.Name)
	assert.Equal(t, 0.6, p.MatchPolicy.MinConfidence)
	assert.True(t, p.OCR.RequireAllFrames)

	stages := p.StageConfigs()
	require.Len(t, stages, 2)
	assert.Equal(t, 1, stages[0].StageIndex)
	assert.Equal(t, 1, stages[0].Params.StageIndex)
	assert.Equal(t, 2.0, stages[0].Params.IntervalSeconds)
	assert.Equal(t, &entity.Region{X: 0, Y: 600, Width: 1280, Height: 120}, stages[0].Params.Region)
	assert.Equal(t, 5, stages[1].Params.Count)
	assert.Equal(t, []string{"Login"}, stages[1].Keywords)
}

func TestRequest(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	id := uuid.New()
	msg := p.Request(id, p.Video.Key)
	assert.Equal(t, id, msg.RequestID)
	assert.Equal(t, "uploads/checkout.mp4", msg.VideoKey)
	assert.Equal(t, "checkout-flow", msg.ProjectName)
	assert.Equal(t, entity.OCRParams{Lang: "en", RequireAllFrames: true}, msg.OCR)
	assert.Len(t, msg.Stages, 2)
	assert.True(t, msg.ArchiveFrames)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", "project: {name: a}\nvideo: {key: k}\nstages: [{index: 0, name: s}]\nretries: 3\n", "retries"},
		{"no project", "video: {key: k}\nstages: [{index: 0, name: s}]\n", "project"},
		{"no video", "project: {name: a}\nstages: [{index: 0, name: s}]\n", "video"},
		{"no stages", "project: {name: a}\nvideo: {key: k}\n", "stages"},
		{"duplicate index", "project: {name: a}\nvideo: {key: k}\nstages: [{index: 0, name: s}, {index: 0, name: t}]\n", "more than once"},
		{"unnamed stage", "project: {name: a}\nvideo: {key: k}\nstages: [{index: 0}]\n", "name is required"},
		{"bad confidence", "project: {id: 3}\nvideo: {key: k}\nstages: [{index: 0, name: s}]\nmatch_policy: {min_confidence: 2}\n", "min_confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, p.Stages, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
