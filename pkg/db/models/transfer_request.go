package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// TransferRequest moves stock from a sourcing warehouse to a requesting one.
type TransferRequest struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	RequestingWarehouseID uuid.UUID             `gorm:"column:requesting_warehouse_id;type:uuid;not null;index"`
	SourcingWarehouseID   *uuid.UUID            `gorm:"column:sourcing_warehouse_id;type:uuid;index"`
	Status                enums.TransferStatus  `gorm:"column:status;type:transfer_status;not null;index"`
	RequestedByUserID     uuid.UUID             `gorm:"column:requested_by_user_id;type:uuid;not null"`
	ApprovedByUserID      *uuid.UUID            `gorm:"column:approved_by_user_id;type:uuid"`
	ApprovedAt            *time.Time            `gorm:"column:approved_at"`
	ShippedByUserID       *uuid.UUID            `gorm:"column:shipped_by_user_id;type:uuid"`
	ShippedAt             *time.Time            `gorm:"column:shipped_at"`
	EstimatedDeliveryDate *time.Time            `gorm:"column:estimated_delivery_date"`
	ReceivedByUserID      *uuid.UUID            `gorm:"column:received_by_user_id;type:uuid"`
	ReceivedAt            *time.Time            `gorm:"column:received_at"`
	RejectedAt            *time.Time            `gorm:"column:rejected_at"`
	CancelledAt           *time.Time            `gorm:"column:cancelled_at"`
	Reason                *string               `gorm:"column:reason"`
	Items                 []TransferRequestItem `gorm:"foreignKey:TransferRequestID"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *TransferRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// TransferRequestItem is one requested component type. CaseLineID links the item to
// the repair line whose shortfall originated it.
type TransferRequestItem struct {
	ID                uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TransferRequestID uuid.UUID  `gorm:"column:transfer_request_id;type:uuid;not null;index"`
	TypeComponentID   uuid.UUID  `gorm:"column:type_component_id;type:uuid;not null"`
	QuantityRequested int        `gorm:"column:quantity_requested;not null;check:quantity_requested > 0"`
	QuantityApproved  int        `gorm:"column:quantity_approved;not null;default:0"`
	CaseLineID        *uuid.UUID `gorm:"column:case_line_id;type:uuid;index"`
}

func (i *TransferRequestItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
