package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// CaseLine is one diagnosed repair item within a guarantee case.
type CaseLine struct {
	ID                   uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	CaseID               uuid.UUID             `gorm:"column:case_id;type:uuid;not null;index"`
	DiagnosisText        string                `gorm:"column:diagnosis_text;not null;default:''"`
	CorrectionText       string                `gorm:"column:correction_text;not null;default:''"`
	TypeComponentID      *uuid.UUID            `gorm:"column:type_component_id;type:uuid"`
	Quantity             int                   `gorm:"column:quantity;not null;default:0;check:quantity >= 0"`
	WarrantyStatus       *enums.WarrantyStatus `gorm:"column:warranty_status;type:warranty_status"`
	Status               enums.CaseLineStatus  `gorm:"column:status;type:case_line_status;not null;index"`
	QuantityReserved     int                   `gorm:"column:quantity_reserved;not null;default:0"`
	CustomerChargeAmount decimal.NullDecimal   `gorm:"column:customer_charge_amount;type:numeric(12,2)"`
	RejectionReason      *string               `gorm:"column:rejection_reason"`
	CancellationReason   *string               `gorm:"column:cancellation_reason"`
	CreatedByUserID      uuid.UUID             `gorm:"column:created_by_user_id;type:uuid;not null"`
	ApprovedByUserID     *uuid.UUID            `gorm:"column:approved_by_user_id;type:uuid"`
	ApprovedAt           *time.Time            `gorm:"column:approved_at"`
	RejectedByUserID     *uuid.UUID            `gorm:"column:rejected_by_user_id;type:uuid"`
	AllocatedByUserID    *uuid.UUID            `gorm:"column:allocated_by_user_id;type:uuid"`
	CompletedByUserID    *uuid.UUID            `gorm:"column:completed_by_user_id;type:uuid"`
	CompletedAt          *time.Time            `gorm:"column:completed_at"`
	CancelledAt          *time.Time            `gorm:"column:cancelled_at"`
	CreatedAt            time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CaseLine) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// NeedsParts reports whether the line requests physical components.
func (c CaseLine) NeedsParts() bool {
	return c.TypeComponentID != nil && c.Quantity > 0
}
