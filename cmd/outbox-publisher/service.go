package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
	"github.com/evwarranty/warranty-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Stop()
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
}

// Service drains the outbox table: each batch is claimed with SKIP LOCKED,
// published, and marked in the same transaction.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	pubsub       pubSubClient
	registry     registryResolver
	dlq          dlqRepository
	factory      publisherFactory
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration

	mu         sync.Mutex
	publishers map[string]publisher
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newGCPPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		factory:      factory,
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		publishers:   make(map[string]publisher),
	}, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run polls until ctx ends. Full batches are followed immediately by the next
// one; batch errors back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	defer s.stopPublishers()

	backoff := s.newBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox publisher batch error", err)
			delay, _ := backoff.Next()
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		backoff = s.newBackoff()

		if processed {
			continue
		}
		if err := sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
}

// Drain publishes until a batch comes back empty and then returns. Batch
// errors are returned instead of retried.
func (s *Service) Drain(ctx context.Context) (int, error) {
	if err := s.ensureReadiness(ctx); err != nil {
		return 0, err
	}
	defer s.stopPublishers()

	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return batches, err
		}
		processed, err := s.processBatch(ctx)
		if err != nil {
			return batches, err
		}
		if !processed {
			return batches, nil
		}
		batches++
	}
}

func (s *Service) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.pollInterval)
	b = retry.WithJitter(jitterWindow, b)
	return retry.WithCappedDuration(maxBackoff, b)
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		for _, event := range events {
			if err := s.handle(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// handle publishes one row and records the outcome. Only bookkeeping errors are
// returned; publish failures are recorded on the row.
func (s *Service) handle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, "", nil)
	}

	topic := resolved.Descriptor.Topic
	fields := s.eventFields(event, resolved.Envelope, topic)
	err = s.publishResolved(ctx, event, resolved)
	switch {
	case err == nil:
		if markErr := s.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		s.logg.Debug(s.logg.WithFields(ctx, fields), "outbox event published")
		return nil
	case !retryable(err):
		return s.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, topic, fields)
	}

	nextAttempt := event.AttemptCount + 1
	fields["attempt_count"] = nextAttempt
	if nextAttempt >= s.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		return s.handleTerminal(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err), topic, fields)
	}

	logCtx := s.logg.WithFields(ctx, fields)
	logCtx = s.logg.WithField(logCtx, "error", err.Error())
	s.logg.Warn(logCtx, "outbox publish failed")
	if markErr := s.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
	}
	return nil
}

// retryable treats registry rejections and permanent gRPC statuses as final.
func retryable(err error) bool {
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return false
	}
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return false
	}
	return true
}

func (s *Service) handleTerminal(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, err error, topic string, fields map[string]any) error {
	if fields == nil {
		fields = s.eventFields(event, outbox.PayloadEnvelope{}, topic)
	}
	fields["error_reason"] = reason
	logCtx := s.logg.WithFields(ctx, fields)
	logCtx = s.logg.WithField(logCtx, "error", err.Error())
	s.logg.Warn(logCtx, "outbox event moved to dlq")

	msg := err.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if dlqErr := s.dlq.InsertTx(tx, entry); dlqErr != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, dlqErr)
	}
	if markErr := s.repo.MarkTerminalTx(tx, event.ID, err, s.maxAttempts); markErr != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, markErr)
	}
	return nil
}

func (s *Service) publishResolved(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func (s *Service) publisherFor(topic string) publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.factory(topic)
	if pub != nil {
		s.publishers[topic] = pub
	}
	return pub
}

func (s *Service) stopPublishers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		pub.Stop()
		delete(s.publishers, topic)
	}
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
