package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

// Key identifies one stock row.
type Key struct {
	WarehouseID     uuid.UUID
	TypeComponentID uuid.UUID
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.WarehouseID, k.TypeComponentID)
}

// Shortfall describes a reservation that could not be satisfied. It is an expected
// outcome and travels as a value; Err converts it for callers that must abort.
type Shortfall struct {
	WarehouseID     uuid.UUID `json:"warehouse_id"`
	TypeComponentID uuid.UUID `json:"type_component_id"`
	Requested       int       `json:"requested"`
	Available       int       `json:"available"`
}

// Missing is how many units would have to arrive to satisfy the request.
func (s Shortfall) Missing() int {
	if s.Available >= s.Requested {
		return 0
	}
	return s.Requested - s.Available
}

func (s Shortfall) Err() error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock,
		fmt.Sprintf("requested %d, available %d", s.Requested, s.Available)).WithDetails(s)
}

// Ledger mutates stock rows with single conditional UPDATE statements. The WHERE
// guard carries the invariant, so concurrent callers on the same key cannot both
// pass it; RowsAffected decides the outcome.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx binds the ledger to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx}
}

// Reserve moves qty from available to reserved. A nil Shortfall means success.
func (l *Ledger) Reserve(ctx context.Context, key Key, qty int) (*Shortfall, error) {
	if err := validateQty(qty); err != nil {
		return nil, err
	}
	res := l.rows(ctx).
		Where("warehouse_id = ? AND type_component_id = ?", key.WarehouseID, key.TypeComponentID).
		Where("quantity_in_stock - quantity_reserved >= ?", qty).
		Updates(map[string]any{
			"quantity_reserved": gorm.Expr("quantity_reserved + ?", qty),
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("reserve %s: %w", key, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil, nil
	}

	available := 0
	row, err := l.Get(ctx, key)
	switch {
	case err == nil:
		available = row.Available()
	case !pkgerrors.HasCode(err, pkgerrors.CodeNotFound):
		return nil, err
	}
	return &Shortfall{
		WarehouseID:     key.WarehouseID,
		TypeComponentID: key.TypeComponentID,
		Requested:       qty,
		Available:       available,
	}, nil
}

// Release gives reserved units back to available, floored at zero.
func (l *Ledger) Release(ctx context.Context, key Key, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	res := l.rows(ctx).
		Where("warehouse_id = ? AND type_component_id = ?", key.WarehouseID, key.TypeComponentID).
		Updates(map[string]any{
			"quantity_reserved": gorm.Expr("CASE WHEN quantity_reserved > ? THEN quantity_reserved - ? ELSE 0 END", qty, qty),
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("release %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(key)
	}
	return nil
}

// Consume removes reserved units from the warehouse for good.
func (l *Ledger) Consume(ctx context.Context, key Key, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	res := l.rows(ctx).
		Where("warehouse_id = ? AND type_component_id = ?", key.WarehouseID, key.TypeComponentID).
		Where("quantity_reserved >= ? AND quantity_in_stock >= ?", qty, qty).
		Updates(map[string]any{
			"quantity_in_stock": gorm.Expr("quantity_in_stock - ?", qty),
			"quantity_reserved": gorm.Expr("quantity_reserved - ?", qty),
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("consume %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return l.guardFailure(ctx, key, qty, func(row *models.StockRow) int { return row.QuantityReserved })
	}
	return nil
}

// Receive adds qty to the warehouse, creating the row on first receipt.
func (l *Ledger) Receive(ctx context.Context, key Key, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	if err := l.ensureRow(ctx, key); err != nil {
		return err
	}
	res := l.rows(ctx).
		Where("warehouse_id = ? AND type_component_id = ?", key.WarehouseID, key.TypeComponentID).
		Updates(map[string]any{
			"quantity_in_stock": gorm.Expr("quantity_in_stock + ?", qty),
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("receive %s: %w", key, res.Error)
	}
	return nil
}

// ShipOut moves available units into the in-transit bucket of the source warehouse.
func (l *Ledger) ShipOut(ctx context.Context, key Key, qty int) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	res := l.rows(ctx).
		Where("warehouse_id = ? AND type_component_id = ?", key.WarehouseID, key.TypeComponentID).
		Where("quantity_in_stock - quantity_reserved >= ?", qty).
		Updates(map[string]any{
			"quantity_in_stock":   gorm.Expr("quantity_in_stock - ?", qty),
			"quantity_in_transit": gorm.Expr("quantity_in_transit + ?", qty),
			"version":             gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("ship %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return l.guardFailure(ctx, key, qty, func(row *models.StockRow) int { return row.Available() })
	}
	return nil
}

// LandInTransit clears units that arrived at their destination.
func (l *Ledger) LandInTransit(ctx context.Context, key Key, qty int) error {
	return l.drainTransit(ctx, key, qty, false)
}

// ReturnInTransit puts units that never arrived back on the source shelf.
func (l *Ledger) ReturnInTransit(ctx context.Context, key Key, qty int) error {
	return l.drainTransit(ctx, key, qty, true)
}

func (l *Ledger) drainTransit(ctx context.Context, key Key, qty int, restock bool) error {
	if err := validateQty(qty); err != nil {
		return err
	}
	updates := map[string]any{
		"quantity_in_transit": gorm.Expr("quantity_in_transit - ?", qty),
		"version":             gorm.Expr("version + 1"),
	}
	if restock {
		updates["quantity_in_stock"] = gorm.Expr("quantity_in_stock + ?", qty)
	}
	res := l.rows(ctx).
		Where("warehouse_id = ? AND type_component_id = ?", key.WarehouseID, key.TypeComponentID).
		Where("quantity_in_transit >= ?", qty).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("drain transit %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return l.guardFailure(ctx, key, qty, func(row *models.StockRow) int { return row.QuantityInTransit })
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, key Key) (*models.StockRow, error) {
	var row models.StockRow
	err := l.db.WithContext(ctx).
		Where("warehouse_id = ? AND type_component_id = ?", key.WarehouseID, key.TypeComponentID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(key)
		}
		return nil, err
	}
	return &row, nil
}

func (l *Ledger) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID) ([]models.StockRow, error) {
	var rows []models.StockRow
	err := l.db.WithContext(ctx).
		Where("warehouse_id = ?", warehouseID).
		Order("type_component_id ASC").
		Find(&rows).Error
	return rows, err
}

// Audit returns rows that break the counter invariants. It should always be empty.
func (l *Ledger) Audit(ctx context.Context) ([]models.StockRow, error) {
	var rows []models.StockRow
	err := l.db.WithContext(ctx).
		Where("quantity_reserved < 0 OR quantity_reserved > quantity_in_stock OR quantity_in_stock < 0 OR quantity_in_transit < 0").
		Find(&rows).Error
	return rows, err
}

func (l *Ledger) rows(ctx context.Context) *gorm.DB {
	return l.db.WithContext(ctx).Model(&models.StockRow{})
}

func (l *Ledger) ensureRow(ctx context.Context, key Key) error {
	row := models.StockRow{WarehouseID: key.WarehouseID, TypeComponentID: key.TypeComponentID}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("create stock row %s: %w", key, err)
	}
	return nil
}

func (l *Ledger) guardFailure(ctx context.Context, key Key, qty int, have func(*models.StockRow) int) error {
	row, err := l.Get(ctx, key)
	if err != nil {
		return err
	}
	return Shortfall{
		WarehouseID:     key.WarehouseID,
		TypeComponentID: key.TypeComponentID,
		Requested:       qty,
		Available:       have(row),
	}.Err()
}

func validateQty(qty int) error {
	if qty <= 0 {
		return pkgerrors.Validation("quantity must be positive")
	}
	return nil
}

func notFound(key Key) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no stock row for %s", key))
}
