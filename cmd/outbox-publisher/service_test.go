package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
	"github.com/evwarranty/warranty-backend/pkg/outbox/payloads"
	"github.com/evwarranty/warranty-backend/pkg/outbox/registry"
)

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		newEvent(t, enums.EventCaseLineApproved, enums.AggregateCaseLine, 0),
		newEvent(t, enums.EventCaseLineApproved, enums.AggregateCaseLine, 0),
	}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("transient")},
		fakePublishResult{},
	}}
	svc := newTestService(t, repo, pub, caseLineRegistry(), &fakeDLQRepo{}, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{repo.events[0].ID}, repo.failed)
	assert.Equal(t, []uuid.UUID{repo.events[1].ID}, repo.published)
	require.Len(t, pub.messages, 2)
	assert.Equal(t, string(enums.EventCaseLineApproved), pub.messages[1].Attributes["event_type"])
	assert.Equal(t, repo.events[1].AggregateID.String(), pub.messages[1].Attributes["aggregate_id"])
}

func TestProcessBatchWritesDLQOnUnresolvableEvent(t *testing.T) {
	event := newEvent(t, enums.EventTransferShipped, enums.AggregateTransferRequest, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, &fakePublisher{}, &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}, dlq, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, event.ID, dlq.entries[0].EventID)
	assert.JSONEq(t, string(event.Payload), string(dlq.entries[0].Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
	assert.Equal(t, []uuid.UUID{event.ID}, repo.terminal)
}

func TestProcessBatchWritesDLQOnPermanentGRPCStatus(t *testing.T) {
	event := newEvent(t, enums.EventCaseLineApproved, enums.AggregateCaseLine, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: status.Error(codes.NotFound, "topic deleted")},
	}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, pub, caseLineRegistry(), dlq, nil)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
	assert.Empty(t, repo.failed)
}

func TestProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := newEvent(t, enums.EventCaseLineApproved, enums.AggregateCaseLine, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: status.Error(codes.Unavailable, "try later")},
	}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, pub, caseLineRegistry(), dlq, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
}

func TestPublishersAreReusedPerTopic(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		newEvent(t, enums.EventCaseLineApproved, enums.AggregateCaseLine, 0),
		newEvent(t, enums.EventCaseLineApproved, enums.AggregateCaseLine, 0),
	}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{}}}
	svc := newTestService(t, repo, pub, caseLineRegistry(), &fakeDLQRepo{}, nil)
	created := 0
	svc.factory = func(topic string) publisher {
		created++
		assert.Equal(t, "workflow-topic", topic)
		return pub
	}

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	svc.stopPublishers()
	assert.Equal(t, 1, pub.stopped)
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, retryable(errors.New("connection reset")))
	assert.True(t, retryable(status.Error(codes.Unavailable, "x")))
	assert.True(t, retryable(status.Error(codes.DeadlineExceeded, "x")))
	assert.False(t, retryable(status.Error(codes.PermissionDenied, "x")))
	assert.False(t, retryable(registry.NewNonRetryableError(errors.New("bad"))))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, caseLineRegistry(), &fakeDLQRepo{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrainStopsOnEmptyBatch(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		newEvent(t, enums.EventCaseLineApproved, enums.AggregateCaseLine, 0),
		newEvent(t, enums.EventCaseLineCompleted, enums.AggregateCaseLine, 0),
		newEvent(t, enums.EventCaseLineApproved, enums.AggregateCaseLine, 0),
	}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}, fakePublishResult{}, fakePublishResult{}}}
	svc := newTestService(t, repo, pub, caseLineRegistry(), &fakeDLQRepo{}, nil)

	batches, err := svc.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, batches)
	assert.Len(t, repo.published, 3)
	assert.Equal(t, 1, pub.stopped)
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, reg registryResolver, dlq dlqRepository, override *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
	if override != nil {
		outboxCfg = *override
	}
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.Nop(),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Repository:       repo,
		Registry:         reg,
		PublisherFactory: func(string) publisher { return pub },
		DLQRepository:    dlq,
	})
	require.NoError(t, err)
	return svc
}

func caseLineRegistry() *fakeRegistry {
	return &fakeRegistry{resolved: &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			Topic:         "workflow-topic",
			AggregateType: enums.AggregateCaseLine,
		},
		Payload: &payloads.CaseLineStatusEvent{},
	}}
}

func newEvent(tb testing.TB, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, attempts int) models.OutboxEvent {
	tb.Helper()
	id := uuid.New()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    id.String(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(tb, err)
	return models.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	done := map[uuid.UUID]bool{}
	for _, id := range append(append([]uuid.UUID{}, f.published...), f.terminal...) {
		done[id] = true
	}
	var out []models.OutboxEvent
	for _, event := range f.events {
		if done[event.ID] || len(out) == limit {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error { return nil }

func (f *fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results  []publishResult
	messages []*gcppubsub.Message
	stopped  int
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return nil
	}
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

func (f *fakePublisher) Stop() { f.stopped++ }

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
