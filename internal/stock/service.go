package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes ledger operations that run in their own transaction. Workflow
// packages that already hold a transaction use Ledger.WithTx instead.
type Service interface {
	Receive(ctx context.Context, key Key, qty int) (*models.StockRow, error)
	Get(ctx context.Context, key Key) (*models.StockRow, error)
	ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]models.StockRow, error)
	Audit(ctx context.Context) ([]models.StockRow, error)
}

type service struct {
	ledger *Ledger
	tx     txRunner
	logg   *logger.Logger
}

func NewService(ledger *Ledger, tx txRunner, logg *logger.Logger) (Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{ledger: ledger, tx: tx, logg: logg}, nil
}

// Receive books a goods receipt outside of any transfer.
func (s *service) Receive(ctx context.Context, key Key, qty int) (*models.StockRow, error) {
	var row *models.StockRow
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)
		if err := ledger.Receive(ctx, key, qty); err != nil {
			return err
		}
		var err error
		row, err = ledger.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithWarehouseID(ctx, key.WarehouseID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"type_component_id": key.TypeComponentID.String(),
			"quantity":          qty,
			"in_stock":          row.QuantityInStock,
		})
		s.logg.Info(logCtx, "stock received")
	}
	return row, nil
}

func (s *service) Get(ctx context.Context, key Key) (*models.StockRow, error) {
	return s.ledger.Get(ctx, key)
}

func (s *service) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]models.StockRow, error) {
	return s.ledger.ListByWarehouse(ctx, warehouseID)
}

func (s *service) Audit(ctx context.Context) ([]models.StockRow, error) {
	return s.ledger.Audit(ctx)
}
