package models

import (
	"time"

	"github.com/google/uuid"
)

// StockRow holds the counters for one component type at one warehouse.
// 0 <= quantity_reserved <= quantity_in_stock always holds.
type StockRow struct {
	WarehouseID       uuid.UUID `gorm:"column:warehouse_id;type:uuid;primaryKey"`
	TypeComponentID   uuid.UUID `gorm:"column:type_component_id;type:uuid;primaryKey"`
	QuantityInStock   int       `gorm:"column:quantity_in_stock;not null;default:0;check:quantity_in_stock >= 0"`
	QuantityReserved  int       `gorm:"column:quantity_reserved;not null;default:0;check:quantity_reserved >= 0 AND quantity_reserved <= quantity_in_stock"`
	QuantityInTransit int       `gorm:"column:quantity_in_transit;not null;default:0;check:quantity_in_transit >= 0"`
	Version           int64     `gorm:"column:version;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Available is the stock that can still be reserved.
func (s StockRow) Available() int {
	return s.QuantityInStock - s.QuantityReserved
}
