// Package memory keeps OCR run records in process memory, for CLI sessions
// without a database and for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fiapx/fiapx-video-analysis/internal/domain/entity"
)

type OCRRunRepository struct {
	mu   sync.RWMutex
	runs map[entity.RunID]entity.OCRRun
	// order preserves insertion so LatestByVideo does not depend on clock resolution.
	order []entity.RunID
}

func NewOCRRunRepository() *OCRRunRepository {
	return &OCRRunRepository{runs: make(map[entity.RunID]entity.OCRRun)}
}

func (r *OCRRunRepository) Create(_ context.Context, run *entity.OCRRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("insert run: %s already exists", run.ID)
	}
	r.runs[run.ID] = *run
	r.order = append(r.order, run.ID)
	return nil
}

func (r *OCRRunRepository) Update(_ context.Context, run *entity.OCRRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		return fmt.Errorf("update run: %s not found", run.ID)
	}
	r.runs[run.ID] = *run
	return nil
}

func (r *OCRRunRepository) FindByID(_ context.Context, id entity.RunID) (*entity.OCRRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("find run by id: %s not found", id)
	}
	return &run, nil
}

// LatestByVideo returns nil, nil when the video has no runs.
func (r *OCRRunRepository) LatestByVideo(_ context.Context, videoID entity.VideoID) (*entity.OCRRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if run := r.runs[r.order[i]]; run.VideoID == videoID {
			return &run, nil
		}
	}
	return nil, nil
}

func (r *OCRRunRepository) CountByVideo(_ context.Context, videoID entity.VideoID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, run := range r.runs {
		if run.VideoID == videoID {
			n++
		}
	}
	return n, nil
}
