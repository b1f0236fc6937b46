package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evwarranty/warranty-backend/pkg/db/dbtest"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/metrics"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
)

func TestDeadLetterReportCountsRecentEntries(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Now().UTC()

	insert := func(reason enums.OutboxDLQErrorReason, failedAt time.Time) {
		row := models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventTransferShipped,
			AggregateType: enums.AggregateTransferRequest,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			ErrorReason:   reason,
			FailedAt:      failedAt,
		}
		require.NoError(t, conn.Create(&row).Error)
	}
	insert(enums.OutboxDLQReasonMaxAttempts, now.Add(-time.Hour))
	insert(enums.OutboxDLQReasonMaxAttempts, now.Add(-2*time.Hour))
	insert(enums.OutboxDLQReasonNonRetryable, now.Add(-48*time.Hour))

	repo := outbox.NewDLQRepository(conn)
	counts, err := repo.CountByReasonSince(context.Background(), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[enums.OutboxDLQReasonMaxAttempts])
	assert.Equal(t, int64(0), counts[enums.OutboxDLQReasonNonRetryable])
	assert.Contains(t, counts, enums.OutboxDLQReasonNoPublisher)

	reg := prometheus.NewRegistry()
	m := metrics.NewWorkflowMetrics(reg)
	job, err := NewDeadLetterReportJob(DeadLetterReportJobParams{Logger: logger.Nop(), DLQ: repo, Metrics: m})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 2.0, deadLetterGauge(mfs, string(enums.OutboxDLQReasonMaxAttempts)))
	assert.Equal(t, 0.0, deadLetterGauge(mfs, string(enums.OutboxDLQReasonNonRetryable)))
}

func deadLetterGauge(mfs []*dto.MetricFamily, reason string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != "warranty_outbox_dead_letters" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "reason" && label.GetValue() == reason {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	return -1
}

func TestDeadLetterReportRequiresRepository(t *testing.T) {
	_, err := NewDeadLetterReportJob(DeadLetterReportJobParams{Logger: logger.Nop()})
	require.Error(t, err)
}
