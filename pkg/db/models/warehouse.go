package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// Warehouse is either a service center's local stock room or a company (central) warehouse.
type Warehouse struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Name            string              `gorm:"column:name;not null"`
	Type            enums.WarehouseType `gorm:"column:type;type:warehouse_type;not null"`
	ServiceCenterID *uuid.UUID          `gorm:"column:service_center_id;type:uuid;index"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *Warehouse) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
