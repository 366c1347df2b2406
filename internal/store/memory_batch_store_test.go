package store

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
)

func seedBatch(t *testing.T, s *MemoryBatchStore) domain.BatchJob {
	t.Helper()

	now := time.Now().UTC()
	job := domain.BatchJob{
		ID:     "batch-1",
		Status: domain.BatchStatusQueued,
		Items: []domain.BatchItem{
			{Index: 0, SourceURL: "https://example.com/a.jpg", Status: domain.ItemStatusPending},
			{Index: 1, SourceURL: "https://example.com/b.png", Status: domain.ItemStatusPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return job
}

func TestMemoryBatchStoreGet(t *testing.T) {
	s := NewMemoryBatchStore()
	seedBatch(t, s)

	job, ok, err := s.Get(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected batch to exist")
	}
	if len(job.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(job.Items))
	}

	// Mutating the returned copy must not leak into the store.
	job.Items[0].Status = domain.ItemStatusFailed
	reread, _, _ := s.Get(context.Background(), "batch-1")
	if reread.Items[0].Status != domain.ItemStatusPending {
		t.Fatal("expected stored batch to be isolated from returned copies")
	}

	if _, ok, err := s.Get(context.Background(), "nope"); err != nil || ok {
		t.Fatalf("expected missing batch, ok=%v err=%v", ok, err)
	}
}

func TestMemoryBatchStoreUpdateItemRollsStatus(t *testing.T) {
	s := NewMemoryBatchStore()
	seedBatch(t, s)

	job, err := s.UpdateItem(context.Background(), "batch-1", domain.BatchItem{
		Index:     0,
		SourceURL: "https://example.com/a.jpg",
		Status:    domain.ItemStatusOptimized,
	})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if job.Status != domain.BatchStatusProcessing {
		t.Fatalf("expected processing with one pending item, got %s", job.Status)
	}

	job, err = s.UpdateItem(context.Background(), "batch-1", domain.BatchItem{
		Index:     1,
		SourceURL: "https://example.com/b.png",
		Status:    domain.ItemStatusFailed,
	})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if job.Status != domain.BatchStatusCompleted {
		t.Fatalf("expected completed once all items are terminal, got %s", job.Status)
	}
}

func TestMemoryBatchStoreUpdateItemErrors(t *testing.T) {
	s := NewMemoryBatchStore()
	seedBatch(t, s)

	if _, err := s.UpdateItem(context.Background(), "nope", domain.BatchItem{Index: 0}); err == nil {
		t.Fatal("expected error for unknown batch")
	}
	if _, err := s.UpdateItem(context.Background(), "batch-1", domain.BatchItem{Index: 5}); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
	if _, err := s.UpdateStatus(context.Background(), "nope", domain.BatchStatusQueued); err == nil {
		t.Fatal("expected error for unknown batch")
	}
}
