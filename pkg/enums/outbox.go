package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateCaseLine        OutboxAggregateType = "case_line"
	AggregateReservation     OutboxAggregateType = "component_reservation"
	AggregateTransferRequest OutboxAggregateType = "transfer_request"
	AggregateStockRow        OutboxAggregateType = "stock_row"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCaseLine,
	AggregateReservation,
	AggregateTransferRequest,
	AggregateStockRow,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventCaseLineSubmitted      OutboxEventType = "case_line_submitted"
	EventCaseLineApproved       OutboxEventType = "case_line_approved"
	EventCaseLineRejected       OutboxEventType = "case_line_rejected"
	EventCaseLineReadyForRepair OutboxEventType = "case_line_ready_for_repair"
	EventCaseLineInRepair       OutboxEventType = "case_line_in_repair"
	EventCaseLineCompleted      OutboxEventType = "case_line_completed"
	EventCaseLineCancelled      OutboxEventType = "case_line_cancelled"
	EventReservationPickedUp    OutboxEventType = "reservation_picked_up"
	EventReservationInstalled   OutboxEventType = "reservation_installed"
	EventReservationReturned    OutboxEventType = "reservation_returned"
	EventStockShortfallDetected OutboxEventType = "stock_shortfall_detected"
	EventTransferCreated        OutboxEventType = "transfer_request_created"
	EventTransferApproved       OutboxEventType = "transfer_request_approved"
	EventTransferRejected       OutboxEventType = "transfer_request_rejected"
	EventTransferShipped        OutboxEventType = "transfer_request_shipped"
	EventTransferReceived       OutboxEventType = "transfer_request_received"
	EventTransferCancelled      OutboxEventType = "transfer_request_cancelled"
)

var validEventTypes = []OutboxEventType{
	EventCaseLineSubmitted,
	EventCaseLineApproved,
	EventCaseLineRejected,
	EventCaseLineReadyForRepair,
	EventCaseLineInRepair,
	EventCaseLineCompleted,
	EventCaseLineCancelled,
	EventReservationPickedUp,
	EventReservationInstalled,
	EventReservationReturned,
	EventStockShortfallDetected,
	EventTransferCreated,
	EventTransferApproved,
	EventTransferRejected,
	EventTransferShipped,
	EventTransferReceived,
	EventTransferCancelled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
