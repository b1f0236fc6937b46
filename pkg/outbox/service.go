package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

const currentEnvelopeVersion = 1

var (
	errNoTx          = errors.New("outbox: emit outside a transaction")
	errUnknownEvent  = errors.New("outbox: unknown event type")
	errUnknownTarget = errors.New("outbox: unknown aggregate type")
)

// DomainEvent is a workflow fact to be recorded alongside the state change that
// produced it.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

// Emitter is what workflow services depend on. The event is written in the caller's
// transaction and published later by the outbox publisher.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errNoTx
	}
	row, envelope, err := s.toRow(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return fmt.Errorf("outbox: insert %s: %w", event.EventType, err)
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}

// toRow stamps the event with an id, version and time and wraps it in the
// stored envelope.
func (s *Service) toRow(event DomainEvent) (models.OutboxEvent, PayloadEnvelope, error) {
	switch {
	case !event.EventType.IsValid():
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("%w: %q", errUnknownEvent, event.EventType)
	case !event.AggregateType.IsValid():
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("%w: %q", errUnknownTarget, event.AggregateType)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("outbox: encode %s data: %w", event.EventType, err)
	}
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if envelope.Version == 0 {
		envelope.Version = currentEnvelopeVersion
	}
	if envelope.OccurredAt.IsZero() {
		envelope.OccurredAt = s.now()
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, fmt.Errorf("outbox: encode envelope: %w", err)
	}
	return models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       json.RawMessage(payload),
	}, envelope, nil
}
