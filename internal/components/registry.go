package components

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
)

const entity = "component"

var transitions = map[enums.ComponentStatus][]enums.ComponentStatus{
	enums.ComponentStatusInStock:   {enums.ComponentStatusReserved, enums.ComponentStatusDefective},
	enums.ComponentStatusReserved:  {enums.ComponentStatusInStock, enums.ComponentStatusPickedUp},
	enums.ComponentStatusPickedUp:  {enums.ComponentStatusInstalled},
	enums.ComponentStatusInstalled: {enums.ComponentStatusReturned, enums.ComponentStatusDefective},
	enums.ComponentStatusDefective: {enums.ComponentStatusReturned},
}

// CanTransition reports whether a unit may move from one status to another.
func CanTransition(from, to enums.ComponentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Ownership is the location change that accompanies a transition. Exactly one of
// the two is set after the move; nil fields leave the current owner untouched.
type Ownership struct {
	WarehouseID *uuid.UUID
	VehicleVIN  *string
}

// Registry is the repository over physical component units.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	if tx == nil {
		return r
	}
	return &Registry{db: tx}
}

func (r *Registry) Create(ctx context.Context, component *models.Component) error {
	if err := r.db.WithContext(ctx).Create(component).Error; err != nil {
		if isDuplicateSerial(err) {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("serial %s already registered", component.SerialNumber))
		}
		return err
	}
	return nil
}

func (r *Registry) GetByID(ctx context.Context, id uuid.UUID) (*models.Component, error) {
	var c models.Component
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err, id.String())
	}
	return &c, nil
}

func (r *Registry) GetBySerial(ctx context.Context, serial string) (*models.Component, error) {
	var c models.Component
	if err := r.db.WithContext(ctx).Where("serial_number = ?", serial).First(&c).Error; err != nil {
		return nil, notFound(err, serial)
	}
	return &c, nil
}

// LockBySerial loads a unit and holds its row lock until the transaction ends.
func (r *Registry) LockBySerial(ctx context.Context, serial string) (*models.Component, error) {
	var c models.Component
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("serial_number = ?", serial).
		First(&c).Error
	if err != nil {
		return nil, notFound(err, serial)
	}
	return &c, nil
}

func (r *Registry) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Component, error) {
	var rows []models.Component
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Registry) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID, status *enums.ComponentStatus) ([]models.Component, error) {
	q := r.db.WithContext(ctx).Where("warehouse_id = ?", warehouseID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var rows []models.Component
	err := q.Order("serial_number ASC").Find(&rows).Error
	return rows, err
}

func (r *Registry) ListInstalledOnVehicle(ctx context.Context, vin string) ([]models.Component, error) {
	var rows []models.Component
	err := r.db.WithContext(ctx).
		Where("vehicle_vin = ? AND status = ?", vin, enums.ComponentStatusInstalled).
		Order("serial_number ASC").
		Find(&rows).Error
	return rows, err
}

// ClaimInStock moves up to n IN_STOCK units of a type at a warehouse to RESERVED.
// Units locked by another transaction are skipped, so the result may be short.
func (r *Registry) ClaimInStock(ctx context.Context, warehouseID, typeComponentID uuid.UUID, n int) ([]models.Component, error) {
	if n <= 0 {
		return nil, nil
	}
	var candidates []models.Component
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("warehouse_id = ? AND type_component_id = ? AND status = ?", warehouseID, typeComponentID, enums.ComponentStatusInStock).
		Order("created_at ASC, serial_number ASC").
		Limit(n).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("select in-stock components: %w", err)
	}

	claimed := make([]models.Component, 0, len(candidates))
	for i := range candidates {
		c := candidates[i]
		ok, err := r.transition(ctx, &c, enums.ComponentStatusReserved, Ownership{})
		if err != nil {
			return nil, err
		}
		if ok {
			claimed = append(claimed, c)
		}
	}
	return claimed, nil
}

// Mint creates n RESERVED units with generated serials for stock that was counted
// in the ledger but never registered unit by unit.
func (r *Registry) Mint(ctx context.Context, warehouseID, typeComponentID uuid.UUID, n int) ([]models.Component, error) {
	minted := make([]models.Component, 0, n)
	for i := 0; i < n; i++ {
		wh := warehouseID
		c := models.Component{
			SerialNumber:    MintSerial(),
			TypeComponentID: typeComponentID,
			Status:          enums.ComponentStatusReserved,
			WarehouseID:     &wh,
		}
		if err := r.Create(ctx, &c); err != nil {
			return nil, err
		}
		minted = append(minted, c)
	}
	return minted, nil
}

// Transition moves c to the target status and applies the ownership change. It
// fails with InvalidTransition when the table forbids the move or when the row
// changed underneath the caller.
func (r *Registry) Transition(ctx context.Context, c *models.Component, to enums.ComponentStatus, owner Ownership) error {
	if !CanTransition(c.Status, to) {
		return pkgerrors.InvalidTransition(entity, c.Status.String(), to.String())
	}
	ok, err := r.transition(ctx, c, to, owner)
	if err != nil {
		return err
	}
	if !ok {
		current, err := r.GetByID(ctx, c.ID)
		if err != nil {
			return err
		}
		return pkgerrors.InvalidTransition(entity, current.Status.String(), to.String())
	}
	return nil
}

func (r *Registry) transition(ctx context.Context, c *models.Component, to enums.ComponentStatus, owner Ownership) (bool, error) {
	updates := map[string]any{"status": to}
	switch {
	case owner.VehicleVIN != nil:
		updates["vehicle_vin"] = *owner.VehicleVIN
		updates["warehouse_id"] = nil
	case owner.WarehouseID != nil:
		updates["warehouse_id"] = *owner.WarehouseID
		updates["vehicle_vin"] = nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Component{}).
		Where("id = ? AND status = ?", c.ID, c.Status).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("update component %s: %w", c.SerialNumber, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	c.Status = to
	switch {
	case owner.VehicleVIN != nil:
		vin := *owner.VehicleVIN
		c.VehicleVIN, c.WarehouseID = &vin, nil
	case owner.WarehouseID != nil:
		wh := *owner.WarehouseID
		c.WarehouseID, c.VehicleVIN = &wh, nil
	}
	return true, nil
}

// MintSerial returns a serial for a unit created at allocation time.
func MintSerial() string {
	return "MNT-" + uuid.NewString()
}

func notFound(err error, ref string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeComponentNotFound, fmt.Sprintf("component %s not found", ref)).
			WithDetails(map[string]string{"ref": ref})
	}
	return err
}
