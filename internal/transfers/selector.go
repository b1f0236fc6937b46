package transfers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

// SourceSelector picks the warehouse that ships an approved request.
type SourceSelector interface {
	Select(ctx context.Context, tx *gorm.DB, req *models.TransferRequest) (uuid.UUID, error)
}

// CompanyStockSelector picks the company warehouse that can cover the most
// requested units right now, ties broken by id.
type CompanyStockSelector struct{}

func (CompanyStockSelector) Select(ctx context.Context, tx *gorm.DB, req *models.TransferRequest) (uuid.UUID, error) {
	var warehouses []models.Warehouse
	err := tx.WithContext(ctx).
		Where("type = ? AND id <> ?", enums.WarehouseTypeCompany, req.RequestingWarehouseID).
		Order("id ASC").
		Find(&warehouses).Error
	if err != nil {
		return uuid.Nil, err
	}

	best, bestCover := uuid.Nil, -1
	for _, wh := range warehouses {
		cover := 0
		for _, item := range req.Items {
			var row models.StockRow
			err := tx.WithContext(ctx).
				Where("warehouse_id = ? AND type_component_id = ?", wh.ID, item.TypeComponentID).
				Limit(1).
				Find(&row).Error
			if err != nil {
				return uuid.Nil, err
			}
			cover += min(row.Available(), item.QuantityRequested)
		}
		if cover > bestCover {
			best, bestCover = wh.ID, cover
		}
	}
	if best == uuid.Nil {
		return uuid.Nil, pkgerrors.Validation("no company warehouse available to source the transfer")
	}
	return best, nil
}
