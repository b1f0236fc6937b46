package reservations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// WarehouseSelector orders the warehouses allocation should try for a case.
// The first warehouse able to cover the full quantity wins.
type WarehouseSelector interface {
	Candidates(ctx context.Context, tx *gorm.DB, gc *models.GuaranteeCase, typeComponentID uuid.UUID) ([]uuid.UUID, error)
}

// LocalFirstSelector tries the case's own service-center warehouse, then company
// warehouses holding the type when fallback is enabled.
type LocalFirstSelector struct {
	AllowCompanyFallback bool
}

func (s LocalFirstSelector) Candidates(ctx context.Context, tx *gorm.DB, gc *models.GuaranteeCase, typeComponentID uuid.UUID) ([]uuid.UUID, error) {
	candidates := []uuid.UUID{gc.WarehouseID}
	if !s.AllowCompanyFallback {
		return candidates, nil
	}

	var company []uuid.UUID
	err := tx.WithContext(ctx).
		Model(&models.Warehouse{}).
		Joins("JOIN stock_rows ON stock_rows.warehouse_id = warehouses.id").
		Where("warehouses.type = ? AND stock_rows.type_component_id = ?", enums.WarehouseTypeCompany, typeComponentID).
		Where("warehouses.id <> ?", gc.WarehouseID).
		Order("stock_rows.quantity_in_stock - stock_rows.quantity_reserved DESC, warehouses.id ASC").
		Pluck("warehouses.id", &company).Error
	if err != nil {
		return nil, err
	}
	return append(candidates, company...), nil
}
