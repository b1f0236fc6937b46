package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/metrics"
)

const (
	defaultStaleAge  = 72 * time.Hour
	staleReportLimit = 200
)

type staleLister interface {
	ListStale(ctx context.Context, age time.Duration, limit int) ([]models.ComponentReservation, error)
}

type StaleReservationsJobParams struct {
	Logger       *logger.Logger
	Reservations staleLister
	Metrics      *metrics.WorkflowMetrics
	Age          time.Duration
}

// NewStaleReservationsJob reports units reserved for longer than Age and never
// picked up. It only reports; releasing stock stays a human decision.
func NewStaleReservationsJob(params StaleReservationsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation lister required")
	}
	age := params.Age
	if age <= 0 {
		age = defaultStaleAge
	}
	return &staleReservationsJob{
		logg:    params.Logger,
		lister:  params.Reservations,
		metrics: params.Metrics,
		age:     age,
	}, nil
}

type staleReservationsJob struct {
	logg    *logger.Logger
	lister  staleLister
	metrics *metrics.WorkflowMetrics
	age     time.Duration
}

func (j *staleReservationsJob) Name() string { return "stale-reservations" }

func (j *staleReservationsJob) Run(ctx context.Context) error {
	rows, err := j.lister.ListStale(ctx, j.age, staleReportLimit)
	if err != nil {
		return fmt.Errorf("list stale reservations: %w", err)
	}
	j.metrics.SetStaleReservations(len(rows))
	for _, row := range rows {
		logCtx := j.logg.WithCaseLineID(ctx, row.CaseLineID.String())
		logCtx = j.logg.WithWarehouseID(logCtx, row.WarehouseID.String())
		logCtx = j.logg.WithFields(logCtx, map[string]any{
			"reservation_id": row.ID.String(),
			"reserved_at":    row.CreatedAt,
		})
		j.logg.Warn(logCtx, "reservation waiting for pickup")
	}
	if len(rows) > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", len(rows)), "stale reservations reported")
	}
	return nil
}
