package store

import (
	"context"

	"github.com/dunamismax/pixelpress/internal/domain"
)

type BatchStore interface {
	Create(ctx context.Context, job domain.BatchJob) error
	Get(ctx context.Context, id string) (domain.BatchJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.BatchJob, error)
	// UpdateItem replaces the item at item.Index and rolls the batch
	// status forward (processing, or completed once every item is
	// terminal).
	UpdateItem(ctx context.Context, id string, item domain.BatchItem) (domain.BatchJob, error)
}
