package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/pkg/config"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	"github.com/evwarranty/warranty-backend/pkg/outbox"
	"github.com/evwarranty/warranty-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry builds the registry with the configured topic names.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.WorkflowTopic == "" {
		return nil, fmt.Errorf("workflow topic is required")
	}
	if cfg.TransferTopic == "" {
		return nil, fmt.Errorf("transfer topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}

	caseLine := func() interface{} { return &payloads.CaseLineStatusEvent{} }
	for _, evt := range []enums.OutboxEventType{
		enums.EventCaseLineSubmitted,
		enums.EventCaseLineApproved,
		enums.EventCaseLineRejected,
		enums.EventCaseLineReadyForRepair,
		enums.EventCaseLineInRepair,
		enums.EventCaseLineCompleted,
		enums.EventCaseLineCancelled,
	} {
		reg.register(EventDescriptor{EventType: evt, AggregateType: enums.AggregateCaseLine, Topic: cfg.WorkflowTopic, PayloadFactory: caseLine})
	}

	reservation := func() interface{} { return &payloads.ReservationEvent{} }
	for _, evt := range []enums.OutboxEventType{
		enums.EventReservationPickedUp,
		enums.EventReservationInstalled,
		enums.EventReservationReturned,
	} {
		reg.register(EventDescriptor{EventType: evt, AggregateType: enums.AggregateReservation, Topic: cfg.WorkflowTopic, PayloadFactory: reservation})
	}

	reg.register(EventDescriptor{
		EventType:      enums.EventStockShortfallDetected,
		AggregateType:  enums.AggregateCaseLine,
		Topic:          cfg.WorkflowTopic,
		PayloadFactory: func() interface{} { return &payloads.StockShortfallEvent{} },
	})

	transfer := func() interface{} { return &payloads.TransferStatusEvent{} }
	for _, evt := range []enums.OutboxEventType{
		enums.EventTransferCreated,
		enums.EventTransferApproved,
		enums.EventTransferRejected,
		enums.EventTransferShipped,
		enums.EventTransferReceived,
		enums.EventTransferCancelled,
	} {
		reg.register(EventDescriptor{EventType: evt, AggregateType: enums.AggregateTransferRequest, Topic: cfg.TransferTopic, PayloadFactory: transfer})
	}

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
