package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// ComponentReservation binds one physical unit to one case line.
type ComponentReservation struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CaseLineID         uuid.UUID               `gorm:"column:case_line_id;type:uuid;not null;index"`
	ComponentID        uuid.UUID               `gorm:"column:component_id;type:uuid;not null;index"`
	WarehouseID        uuid.UUID               `gorm:"column:warehouse_id;type:uuid;not null"`
	TypeComponentID    uuid.UUID               `gorm:"column:type_component_id;type:uuid;not null"`
	Status             enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;index"`
	PickedUpBy         *uuid.UUID              `gorm:"column:picked_up_by;type:uuid"`
	PickedUpAt         *time.Time              `gorm:"column:picked_up_at"`
	InstalledAt        *time.Time              `gorm:"column:installed_at"`
	InstalledVIN       *string                 `gorm:"column:installed_vin"`
	OldComponentSerial *string                 `gorm:"column:old_component_serial"`
	ReturnedAt         *time.Time              `gorm:"column:returned_at"`
	CancelledAt        *time.Time              `gorm:"column:cancelled_at"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ComponentReservation) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
