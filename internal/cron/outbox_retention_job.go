package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/evwarranty/warranty-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultOutboxBatch     = 500
	maxOutboxBatches       = 20
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	Retention  time.Duration
	BatchSize  int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultOutboxBatch
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxRetentionRepo
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes published events older than the retention window in bounded
// batches so one cycle never holds a long delete.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	for i := 0; i < maxOutboxBatches; i++ {
		rows, err := j.repo.DeletePublishedBefore(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("outbox retention: %w", err)
		}
		deleted += rows
		if rows < int64(j.batch) {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
