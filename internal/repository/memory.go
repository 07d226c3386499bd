package repository

import (
	"context"
	"sync"

	"github.com/imyashkale/fleetd/internal/models"
)

// memoryExecutionRepository keeps the most recent records in a ring
type memoryExecutionRepository struct {
	mu      sync.RWMutex
	records []*models.ExecutionRecord
	next    int
	full    bool
}

// NewMemoryExecutionRepository creates an in-memory repository holding at most size records
func NewMemoryExecutionRepository(size int) ExecutionRepository {
	if size < 1 {
		size = 1
	}
	return &memoryExecutionRepository{
		records: make([]*models.ExecutionRecord, size),
	}
}

func (r *memoryExecutionRepository) Save(_ context.Context, rec *models.ExecutionRecord) error {
	cp := *rec
	cp.Steps = append([]models.StepResult(nil), rec.Steps...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[r.next] = &cp
	r.next = (r.next + 1) % len(r.records)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

func (r *memoryExecutionRepository) List(_ context.Context, deployment string, limit int) ([]*models.ExecutionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = len(r.records)
	}

	out := make([]*models.ExecutionRecord, 0, count)
	for i := 1; i <= count; i++ {
		rec := r.records[(r.next-i+len(r.records))%len(r.records)]
		if deployment != "" && rec.Deployment != deployment {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
