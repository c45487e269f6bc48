package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/big3labs/waveflow/internal/database"
	"github.com/big3labs/waveflow/internal/migration"
	"github.com/big3labs/waveflow/workflow"
)

// migrateTimeout bounds schema migration when the store opens
const migrateTimeout = 30 * time.Second

// resultRecord is the workflow_results row. List and map fields are JSON text.
// The schema itself lives in internal/migration.
type resultRecord struct {
	PlanID         string     `gorm:"column:plan_id;primaryKey"`
	Outcome        string     `gorm:"column:outcome"`
	CompletedNodes string     `gorm:"column:completed_nodes"`
	FailedNodes    string     `gorm:"column:failed_nodes"`
	Outputs        string     `gorm:"column:outputs"`
	Errors         string     `gorm:"column:errors"`
	Attempts       string     `gorm:"column:attempts"`
	StartedAt      time.Time  `gorm:"column:started_at"`
	FinishedAt     time.Time  `gorm:"column:finished_at"`
	ExpiresAt      *time.Time `gorm:"column:expires_at"`
}

func (resultRecord) TableName() string { return "workflow_results" }

// SQLResultStore is a GORM implementation of ResultStore.
type SQLResultStore struct {
	pool *database.PoolManager
	ttl  time.Duration
	now  func() time.Time
}

// NewSQLResultStore opens the configured database and migrates the table
func NewSQLResultStore(config StoreConfig) (*SQLResultStore, error) {
	pool, err := database.Open(config.Database, nil)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLResultStoreWithPool(pool, config)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLResultStoreWithPool uses an existing pool and applies pending schema migrations
func NewSQLResultStoreWithPool(pool *database.PoolManager, config StoreConfig) (*SQLResultStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if err := migration.Up(ctx, pool.SQLDB(), pool.Dialect(), nil); err != nil {
		return nil, fmt.Errorf("failed to migrate workflow_results: %w", err)
	}
	return &SQLResultStore{pool: pool, ttl: config.TTL, now: time.Now}, nil
}

// Save upserts the result of a plan
func (s *SQLResultStore) Save(ctx context.Context, result *workflow.WorkflowResult) error {
	if result == nil || result.PlanID == "" {
		return ErrInvalidInput
	}
	rec, err := s.toRecord(result)
	if err != nil {
		return err
	}

	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
	})
}

// Get retrieves the result of a plan
func (s *SQLResultStore) Get(ctx context.Context, planID string) (*workflow.WorkflowResult, error) {
	var rec resultRecord
	err := s.live(ctx).Where("plan_id = ?", planID).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return rec.toResult()
}

// List returns results, most recently finished first
func (s *SQLResultStore) List(ctx context.Context, limit int) ([]*workflow.WorkflowResult, error) {
	q := s.live(ctx).Order("finished_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []resultRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	results := make([]*workflow.WorkflowResult, 0, len(recs))
	for i := range recs {
		r, err := recs[i].toResult()
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Delete removes the result of a plan
func (s *SQLResultStore) Delete(ctx context.Context, planID string) error {
	res := s.pool.DB().WithContext(ctx).Where("plan_id = ?", planID).Delete(&resultRecord{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete result: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (s *SQLResultStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.pool.DB().WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
		Delete(&resultRecord{})
	return res.RowsAffected, res.Error
}

// Ping checks if the store is healthy
func (s *SQLResultStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the underlying pool
func (s *SQLResultStore) Close() error {
	return s.pool.Close()
}

func (s *SQLResultStore) live(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx).
		Where("expires_at IS NULL OR expires_at > ?", s.now().UTC())
}

func (s *SQLResultStore) toRecord(r *workflow.WorkflowResult) (*resultRecord, error) {
	rec := &resultRecord{
		PlanID:     r.PlanID,
		Outcome:    string(r.Outcome()),
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
	}
	if s.ttl > 0 {
		exp := s.now().UTC().Add(s.ttl)
		rec.ExpiresAt = &exp
	}

	fields := []struct {
		dst *string
		src any
	}{
		{&rec.CompletedNodes, r.CompletedNodes},
		{&rec.FailedNodes, r.FailedNodes},
		{&rec.Outputs, r.Outputs},
		{&rec.Errors, r.Errors},
		{&rec.Attempts, r.Attempts},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result of %s: %w", r.PlanID, err)
		}
		*f.dst = string(data)
	}
	return rec, nil
}

func (rec *resultRecord) toResult() (*workflow.WorkflowResult, error) {
	r := &workflow.WorkflowResult{
		PlanID:     rec.PlanID,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
	}
	fields := []struct {
		src string
		dst any
	}{
		{rec.CompletedNodes, &r.CompletedNodes},
		{rec.FailedNodes, &r.FailedNodes},
		{rec.Outputs, &r.Outputs},
		{rec.Errors, &r.Errors},
		{rec.Attempts, &r.Attempts},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result of %s: %w", rec.PlanID, err)
		}
	}
	return r, nil
}
