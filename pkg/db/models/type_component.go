package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TypeComponent is a catalog entry (a part number), not a physical unit.
type TypeComponent struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Code      string          `gorm:"column:code;not null;uniqueIndex"`
	Name      string          `gorm:"column:name;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *TypeComponent) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
