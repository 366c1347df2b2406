package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
)

var ErrBatchNotFound = errors.New("batch not found")

type MemoryBatchStore struct {
	mu      sync.RWMutex
	batches map[string]domain.BatchJob
}

func NewMemoryBatchStore() *MemoryBatchStore {
	return &MemoryBatchStore{
		batches: make(map[string]domain.BatchJob),
	}
}

func (s *MemoryBatchStore) Create(_ context.Context, job domain.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[job.ID] = cloneBatch(job)
	return nil
}

func (s *MemoryBatchStore) Get(_ context.Context, id string) (domain.BatchJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.batches[id]
	if !ok {
		return domain.BatchJob{}, false, nil
	}
	return cloneBatch(job), true, nil
}

func (s *MemoryBatchStore) UpdateStatus(_ context.Context, id, status string) (domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.batches[id]
	if !ok {
		return domain.BatchJob{}, ErrBatchNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.batches[id] = job
	return cloneBatch(job), nil
}

func (s *MemoryBatchStore) UpdateItem(_ context.Context, id string, item domain.BatchItem) (domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.batches[id]
	if !ok {
		return domain.BatchJob{}, ErrBatchNotFound
	}
	if item.Index < 0 || item.Index >= len(job.Items) {
		return domain.BatchJob{}, fmt.Errorf("item index %d out of range", item.Index)
	}

	job.Items[item.Index] = item
	job.Status = rollBatchStatus(job)
	job.UpdatedAt = time.Now().UTC()
	s.batches[id] = job
	return cloneBatch(job), nil
}

func rollBatchStatus(job domain.BatchJob) string {
	if job.Done() {
		return domain.BatchStatusCompleted
	}
	return domain.BatchStatusProcessing
}

func cloneBatch(job domain.BatchJob) domain.BatchJob {
	items := make([]domain.BatchItem, len(job.Items))
	copy(items, job.Items)
	job.Items = items
	return job
}
