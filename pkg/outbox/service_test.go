package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/db/dbtest"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	aggregateID := uuid.New()
	actor := &ActorRef{UserID: uuid.New(), Role: enums.ActorRoleTechnician}

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventReservationPickedUp,
			AggregateType: enums.AggregateReservation,
			AggregateID:   aggregateID,
			Actor:         actor,
			Data:          map[string]string{"status": "PICKED_UP"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, aggregateID, rows[0].AggregateID)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	assert.Equal(t, 1, env.Version)
	assert.NotEmpty(t, env.EventID)
	require.NotNil(t, env.Actor)
	assert.Equal(t, actor.UserID, env.Actor.UserID)
	assert.JSONEq(t, `{"status":"PICKED_UP"}`, string(env.Data))
}

func TestEmitRequiresTransactionAndKnownTypes(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))

	conn := dbtest.Open(t)
	err := svc.Emit(context.Background(), conn, DomainEvent{EventType: "bogus", AggregateType: enums.AggregateCaseLine})
	assert.Error(t, err)
}

func TestEmitKeepsCallerTimestampAndVersion(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	occurred := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventStockShortfallDetected,
			AggregateType: enums.AggregateCaseLine,
			AggregateID:   uuid.New(),
			Version:       2,
			OccurredAt:    occurred,
			Data:          map[string]int{"requested": 3},
		})
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	assert.Equal(t, 2, env.Version)
	assert.True(t, occurred.Equal(env.OccurredAt))
	assert.Nil(t, env.Actor)
}

func TestEmitRejectsUnknownAggregate(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	err := svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventCaseLineApproved,
		AggregateType: "invoice",
	})
	assert.ErrorIs(t, err, errUnknownTarget)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)

	rows := []models.OutboxEvent{
		{EventType: enums.EventCaseLineApproved, AggregateType: enums.AggregateCaseLine, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)},
		{EventType: enums.EventCaseLineCompleted, AggregateType: enums.AggregateCaseLine, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)},
		{EventType: enums.EventTransferShipped, AggregateType: enums.AggregateTransferRequest, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)},
	}
	for _, row := range rows {
		require.NoError(t, repo.Insert(conn, row))
	}

	var fetched []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		if err != nil {
			return err
		}
		if err := repo.MarkPublishedTx(tx, fetched[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, fetched[1].ID, errors.New("timeout")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, fetched[2].ID, errors.New("bad payload"), 3)
	}))
	require.Len(t, fetched, 3)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		remaining, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, remaining, 1)
	assert.Equal(t, fetched[1].ID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)
	assert.Equal(t, "timeout", *remaining[0].LastError)

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().UTC().Add(time.Minute), 100)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}
