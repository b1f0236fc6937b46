package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GuaranteeCase groups the repair lines opened for one vehicle visit.
type GuaranteeCase struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VehicleVIN      string    `gorm:"column:vehicle_vin;not null;index"`
	ServiceCenterID uuid.UUID `gorm:"column:service_center_id;type:uuid;not null"`
	WarehouseID     uuid.UUID `gorm:"column:warehouse_id;type:uuid;not null"`
	OpenedByUserID  uuid.UUID `gorm:"column:opened_by_user_id;type:uuid;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (g *GuaranteeCase) BeforeCreate(*gorm.DB) error {
	ensureID(&g.ID)
	return nil
}
