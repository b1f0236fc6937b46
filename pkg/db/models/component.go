package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// Component is one physical unit identified by its serial number. It belongs to a
// warehouse or to a vehicle, never both.
type Component struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SerialNumber    string                `gorm:"column:serial_number;not null;uniqueIndex"`
	TypeComponentID uuid.UUID             `gorm:"column:type_component_id;type:uuid;not null;index"`
	Status          enums.ComponentStatus `gorm:"column:status;type:component_status;not null"`
	WarehouseID     *uuid.UUID            `gorm:"column:warehouse_id;type:uuid;index"`
	VehicleVIN      *string               `gorm:"column:vehicle_vin;index"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Component) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
