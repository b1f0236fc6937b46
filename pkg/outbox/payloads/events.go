package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// CaseLineStatusEvent is emitted on every case line transition.
type CaseLineStatusEvent struct {
	CaseLineID     uuid.UUID            `json:"case_line_id"`
	CaseID         uuid.UUID            `json:"case_id"`
	PreviousStatus enums.CaseLineStatus `json:"previous_status"`
	Status         enums.CaseLineStatus `json:"status"`
	Reason         *string              `json:"reason,omitempty"`
}

// ReservationEvent covers pickup, installation and return of one unit.
type ReservationEvent struct {
	ReservationID uuid.UUID               `json:"reservation_id"`
	CaseLineID    uuid.UUID               `json:"case_line_id"`
	ComponentID   uuid.UUID               `json:"component_id"`
	WarehouseID   uuid.UUID               `json:"warehouse_id"`
	Status        enums.ReservationStatus `json:"status"`
	VehicleVIN    *string                 `json:"vehicle_vin,omitempty"`
	OldSerial     *string                 `json:"old_serial,omitempty"`
}

// StockShortfallEvent tells parts coordinators a line could not be allocated.
type StockShortfallEvent struct {
	CaseLineID      uuid.UUID `json:"case_line_id"`
	WarehouseID     uuid.UUID `json:"warehouse_id"`
	TypeComponentID uuid.UUID `json:"type_component_id"`
	Requested       int       `json:"requested"`
	Available       int       `json:"available"`
}

type TransferItem struct {
	TypeComponentID   uuid.UUID  `json:"type_component_id"`
	QuantityRequested int        `json:"quantity_requested"`
	QuantityApproved  int        `json:"quantity_approved"`
	CaseLineID        *uuid.UUID `json:"case_line_id,omitempty"`
}

// TransferStatusEvent is emitted on every transfer request transition.
type TransferStatusEvent struct {
	TransferRequestID     uuid.UUID            `json:"transfer_request_id"`
	RequestingWarehouseID uuid.UUID            `json:"requesting_warehouse_id"`
	SourcingWarehouseID   *uuid.UUID           `json:"sourcing_warehouse_id,omitempty"`
	Status                enums.TransferStatus `json:"status"`
	Reason                *string              `json:"reason,omitempty"`
	EstimatedDelivery     *time.Time           `json:"estimated_delivery,omitempty"`
	Items                 []TransferItem       `json:"items"`
}
