package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/metrics"
)

const defaultDeadLetterWindow = 24 * time.Hour

type deadLetterCounter interface {
	CountByReasonSince(ctx context.Context, since time.Time) (map[enums.OutboxDLQErrorReason]int64, error)
}

type DeadLetterReportJobParams struct {
	Logger  *logger.Logger
	DLQ     deadLetterCounter
	Metrics *metrics.WorkflowMetrics
	Window  time.Duration
}

// NewDeadLetterReportJob publishes how many workflow events the outbox
// publisher dead-lettered recently. Downstream consumers never saw them.
func NewDeadLetterReportJob(params DeadLetterReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DLQ == nil {
		return nil, fmt.Errorf("dlq repository required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultDeadLetterWindow
	}
	return &deadLetterReportJob{
		logg:    params.Logger,
		dlq:     params.DLQ,
		metrics: params.Metrics,
		window:  window,
		now:     time.Now,
	}, nil
}

type deadLetterReportJob struct {
	logg    *logger.Logger
	dlq     deadLetterCounter
	metrics *metrics.WorkflowMetrics
	window  time.Duration
	now     func() time.Time
}

func (j *deadLetterReportJob) Name() string { return "outbox-dead-letters" }

func (j *deadLetterReportJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.window)
	counts, err := j.dlq.CountByReasonSince(ctx, since)
	if err != nil {
		return fmt.Errorf("count dead letters: %w", err)
	}

	var total int64
	fields := map[string]any{"since": since}
	for reason, n := range counts {
		j.metrics.SetDeadLetters(string(reason), n)
		fields[string(reason)] = n
		total += n
	}
	if total > 0 {
		j.logg.Warn(j.logg.WithFields(ctx, fields), "outbox events dead-lettered")
	}
	return nil
}
