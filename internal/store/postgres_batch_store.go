package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelpress/internal/domain"
	_ "github.com/lib/pq"
)

const batchSchemaSQL = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	items JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

type PostgresBatchStore struct {
	db *sql.DB
}

func NewPostgresBatchStore(ctx context.Context, dsn string) (*PostgresBatchStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresBatchStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresBatchStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, batchSchemaSQL); err != nil {
		return fmt.Errorf("ensure batches schema: %w", err)
	}
	return nil
}

func (s *PostgresBatchStore) Close() error {
	return s.db.Close()
}

func (s *PostgresBatchStore) Create(ctx context.Context, job domain.BatchJob) error {
	itemsJSON, err := json.Marshal(job.Items)
	if err != nil {
		return fmt.Errorf("marshal batch items: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO batches (id, status, webhook_url, items, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID,
		job.Status,
		job.WebhookURL,
		itemsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	return nil
}

func (s *PostgresBatchStore) Get(ctx context.Context, id string) (domain.BatchJob, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, status, webhook_url, items, created_at, updated_at
		 FROM batches
		 WHERE id = $1`,
		id,
	)

	var (
		job       domain.BatchJob
		itemsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.WebhookURL,
		&itemsJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.BatchJob{}, false, nil
		}
		return domain.BatchJob{}, false, fmt.Errorf("query batch: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &job.Items); err != nil {
		return domain.BatchJob{}, false, fmt.Errorf("unmarshal batch items: %w", err)
	}

	return job, true, nil
}

func (s *PostgresBatchStore) UpdateStatus(ctx context.Context, id, status string) (domain.BatchJob, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE batches
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		now,
		id,
	)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("update batch status: %w", err)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.BatchJob{}, err
	}
	if !ok {
		return domain.BatchJob{}, ErrBatchNotFound
	}

	return job, nil
}

func (s *PostgresBatchStore) UpdateItem(ctx context.Context, id string, item domain.BatchItem) (domain.BatchJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("begin batch update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(
		ctx,
		`SELECT items FROM batches WHERE id = $1 FOR UPDATE`,
		id,
	)

	var itemsJSON []byte
	if err := row.Scan(&itemsJSON); err != nil {
		if err == sql.ErrNoRows {
			return domain.BatchJob{}, ErrBatchNotFound
		}
		return domain.BatchJob{}, fmt.Errorf("query batch items: %w", err)
	}

	var items []domain.BatchItem
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return domain.BatchJob{}, fmt.Errorf("unmarshal batch items: %w", err)
	}
	if item.Index < 0 || item.Index >= len(items) {
		return domain.BatchJob{}, fmt.Errorf("item index %d out of range", item.Index)
	}
	items[item.Index] = item

	status := rollBatchStatus(domain.BatchJob{Items: items})
	updatedJSON, err := json.Marshal(items)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("marshal batch items: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE batches
		 SET items = $1, status = $2, updated_at = $3
		 WHERE id = $4`,
		updatedJSON,
		status,
		now,
		id,
	); err != nil {
		return domain.BatchJob{}, fmt.Errorf("update batch items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.BatchJob{}, fmt.Errorf("commit batch update: %w", err)
	}

	return s.getRequired(ctx, id)
}

// getRequired loads the batch after an item update, mapping absence to
// ErrBatchNotFound since the caller just wrote it.
func (s *PostgresBatchStore) getRequired(ctx context.Context, id string) (domain.BatchJob, error) {
	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.BatchJob{}, err
	}
	if !ok {
		return domain.BatchJob{}, ErrBatchNotFound
	}
	return job, nil
}
