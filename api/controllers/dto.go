package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evwarranty/warranty-backend/internal/stock"
	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
)

type caseDTO struct {
	ID              uuid.UUID `json:"id"`
	VehicleVIN      string    `json:"vehicle_vin"`
	ServiceCenterID uuid.UUID `json:"service_center_id"`
	WarehouseID     uuid.UUID `json:"warehouse_id"`
	OpenedByUserID  uuid.UUID `json:"opened_by_user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

func toCaseDTO(gc *models.GuaranteeCase) caseDTO {
	return caseDTO{
		ID:              gc.ID,
		VehicleVIN:      gc.VehicleVIN,
		ServiceCenterID: gc.ServiceCenterID,
		WarehouseID:     gc.WarehouseID,
		OpenedByUserID:  gc.OpenedByUserID,
		CreatedAt:       gc.CreatedAt,
	}
}

type caseLineDTO struct {
	ID                   uuid.UUID             `json:"id"`
	CaseID               uuid.UUID             `json:"case_id"`
	DiagnosisText        string                `json:"diagnosis_text"`
	CorrectionText       string                `json:"correction_text"`
	TypeComponentID      *uuid.UUID            `json:"type_component_id,omitempty"`
	Quantity             int                   `json:"quantity"`
	QuantityReserved     int                   `json:"quantity_reserved"`
	WarrantyStatus       *enums.WarrantyStatus `json:"warranty_status,omitempty"`
	Status               enums.CaseLineStatus  `json:"status"`
	CustomerChargeAmount *decimal.Decimal      `json:"customer_charge_amount,omitempty"`
	RejectionReason      *string               `json:"rejection_reason,omitempty"`
	CancellationReason   *string               `json:"cancellation_reason,omitempty"`
	ApprovedByUserID     *uuid.UUID            `json:"approved_by_user_id,omitempty"`
	ApprovedAt           *time.Time            `json:"approved_at,omitempty"`
	CompletedAt          *time.Time            `json:"completed_at,omitempty"`
	CancelledAt          *time.Time            `json:"cancelled_at,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

func toCaseLineDTO(line *models.CaseLine) caseLineDTO {
	dto := caseLineDTO{
		ID:                 line.ID,
		CaseID:             line.CaseID,
		DiagnosisText:      line.DiagnosisText,
		CorrectionText:     line.CorrectionText,
		TypeComponentID:    line.TypeComponentID,
		Quantity:           line.Quantity,
		QuantityReserved:   line.QuantityReserved,
		WarrantyStatus:     line.WarrantyStatus,
		Status:             line.Status,
		RejectionReason:    line.RejectionReason,
		CancellationReason: line.CancellationReason,
		ApprovedByUserID:   line.ApprovedByUserID,
		ApprovedAt:         line.ApprovedAt,
		CompletedAt:        line.CompletedAt,
		CancelledAt:        line.CancelledAt,
		CreatedAt:          line.CreatedAt,
		UpdatedAt:          line.UpdatedAt,
	}
	if line.CustomerChargeAmount.Valid {
		amount := line.CustomerChargeAmount.Decimal
		dto.CustomerChargeAmount = &amount
	}
	return dto
}

func toCaseLineDTOs(lines []models.CaseLine) []caseLineDTO {
	out := make([]caseLineDTO, 0, len(lines))
	for i := range lines {
		out = append(out, toCaseLineDTO(&lines[i]))
	}
	return out
}

type reservationDTO struct {
	ID                 uuid.UUID               `json:"id"`
	CaseLineID         uuid.UUID               `json:"case_line_id"`
	ComponentID        uuid.UUID               `json:"component_id"`
	WarehouseID        uuid.UUID               `json:"warehouse_id"`
	TypeComponentID    uuid.UUID               `json:"type_component_id"`
	Status             enums.ReservationStatus `json:"status"`
	PickedUpBy         *uuid.UUID              `json:"picked_up_by,omitempty"`
	PickedUpAt         *time.Time              `json:"picked_up_at,omitempty"`
	InstalledAt        *time.Time              `json:"installed_at,omitempty"`
	InstalledVIN       *string                 `json:"installed_vin,omitempty"`
	OldComponentSerial *string                 `json:"old_component_serial,omitempty"`
	ReturnedAt         *time.Time              `json:"returned_at,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
}

func toReservationDTO(r *models.ComponentReservation) reservationDTO {
	return reservationDTO{
		ID:                 r.ID,
		CaseLineID:         r.CaseLineID,
		ComponentID:        r.ComponentID,
		WarehouseID:        r.WarehouseID,
		TypeComponentID:    r.TypeComponentID,
		Status:             r.Status,
		PickedUpBy:         r.PickedUpBy,
		PickedUpAt:         r.PickedUpAt,
		InstalledAt:        r.InstalledAt,
		InstalledVIN:       r.InstalledVIN,
		OldComponentSerial: r.OldComponentSerial,
		ReturnedAt:         r.ReturnedAt,
		CreatedAt:          r.CreatedAt,
	}
}

func toReservationDTOs(rows []models.ComponentReservation) []reservationDTO {
	out := make([]reservationDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toReservationDTO(&rows[i]))
	}
	return out
}

type transferItemDTO struct {
	ID                uuid.UUID  `json:"id"`
	TypeComponentID   uuid.UUID  `json:"type_component_id"`
	QuantityRequested int        `json:"quantity_requested"`
	QuantityApproved  int        `json:"quantity_approved"`
	CaseLineID        *uuid.UUID `json:"case_line_id,omitempty"`
}

type transferDTO struct {
	ID                    uuid.UUID            `json:"id"`
	RequestingWarehouseID uuid.UUID            `json:"requesting_warehouse_id"`
	SourcingWarehouseID   *uuid.UUID           `json:"sourcing_warehouse_id,omitempty"`
	Status                enums.TransferStatus `json:"status"`
	RequestedByUserID     uuid.UUID            `json:"requested_by_user_id"`
	ApprovedAt            *time.Time           `json:"approved_at,omitempty"`
	ShippedAt             *time.Time           `json:"shipped_at,omitempty"`
	EstimatedDeliveryDate *time.Time           `json:"estimated_delivery_date,omitempty"`
	ReceivedAt            *time.Time           `json:"received_at,omitempty"`
	Reason                *string              `json:"reason,omitempty"`
	Items                 []transferItemDTO    `json:"items"`
	CreatedAt             time.Time            `json:"created_at"`
}

func toTransferDTO(t *models.TransferRequest) transferDTO {
	dto := transferDTO{
		ID:                    t.ID,
		RequestingWarehouseID: t.RequestingWarehouseID,
		SourcingWarehouseID:   t.SourcingWarehouseID,
		Status:                t.Status,
		RequestedByUserID:     t.RequestedByUserID,
		ApprovedAt:            t.ApprovedAt,
		ShippedAt:             t.ShippedAt,
		EstimatedDeliveryDate: t.EstimatedDeliveryDate,
		ReceivedAt:            t.ReceivedAt,
		Reason:                t.Reason,
		Items:                 make([]transferItemDTO, 0, len(t.Items)),
		CreatedAt:             t.CreatedAt,
	}
	for _, item := range t.Items {
		dto.Items = append(dto.Items, transferItemDTO{
			ID:                item.ID,
			TypeComponentID:   item.TypeComponentID,
			QuantityRequested: item.QuantityRequested,
			QuantityApproved:  item.QuantityApproved,
			CaseLineID:        item.CaseLineID,
		})
	}
	return dto
}

type stockRowDTO struct {
	WarehouseID       uuid.UUID `json:"warehouse_id"`
	TypeComponentID   uuid.UUID `json:"type_component_id"`
	QuantityInStock   int       `json:"quantity_in_stock"`
	QuantityReserved  int       `json:"quantity_reserved"`
	QuantityAvailable int       `json:"quantity_available"`
	QuantityInTransit int       `json:"quantity_in_transit"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toStockRowDTO(row *models.StockRow) stockRowDTO {
	return stockRowDTO{
		WarehouseID:       row.WarehouseID,
		TypeComponentID:   row.TypeComponentID,
		QuantityInStock:   row.QuantityInStock,
		QuantityReserved:  row.QuantityReserved,
		QuantityAvailable: row.Available(),
		QuantityInTransit: row.QuantityInTransit,
		UpdatedAt:         row.UpdatedAt,
	}
}

type componentDTO struct {
	ID              uuid.UUID             `json:"id"`
	SerialNumber    string                `json:"serial_number"`
	TypeComponentID uuid.UUID             `json:"type_component_id"`
	Status          enums.ComponentStatus `json:"status"`
	WarehouseID     *uuid.UUID            `json:"warehouse_id,omitempty"`
	VehicleVIN      *string               `json:"vehicle_vin,omitempty"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func toComponentDTO(c *models.Component) componentDTO {
	return componentDTO{
		ID:              c.ID,
		SerialNumber:    c.SerialNumber,
		TypeComponentID: c.TypeComponentID,
		Status:          c.Status,
		WarehouseID:     c.WarehouseID,
		VehicleVIN:      c.VehicleVIN,
		UpdatedAt:       c.UpdatedAt,
	}
}

func toComponentDTOs(rows []models.Component) []componentDTO {
	out := make([]componentDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toComponentDTO(&rows[i]))
	}
	return out
}

// allocationDTO is returned by approve and allocate. A shortfall is a normal
// outcome, not an error: the line stays APPROVED.
type allocationDTO struct {
	Line      caseLineDTO   `json:"line"`
	Shortfall *shortfallDTO `json:"shortfall,omitempty"`
	Transfer  *transferDTO  `json:"transfer,omitempty"`
}

type shortfallDTO struct {
	stock.Shortfall
	Missing int `json:"missing"`
}
