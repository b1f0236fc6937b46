package transfers

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

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create stores the request together with its items.
func (r *Repository) Create(ctx context.Context, req *models.TransferRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	var req models.TransferRequest
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("type_component_id ASC") }).
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, notFound(err, id)
	}
	return &req, nil
}

// Lock holds the request row for the rest of the transaction and loads its items.
func (r *Repository) Lock(ctx context.Context, id uuid.UUID) (*models.TransferRequest, error) {
	var req models.TransferRequest
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, notFound(err, id)
	}
	err = r.db.WithContext(ctx).
		Where("transfer_request_id = ?", id).
		Order("type_component_id ASC").
		Find(&req.Items).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListByWarehouse returns requests where the warehouse is the requester or the source.
func (r *Repository) ListByWarehouse(ctx context.Context, warehouseID uuid.UUID, status *enums.TransferStatus) ([]models.TransferRequest, error) {
	q := r.db.WithContext(ctx).
		Preload("Items").
		Where("requesting_warehouse_id = ? OR sourcing_warehouse_id = ?", warehouseID, warehouseID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var rows []models.TransferRequest
	err := q.Order("created_at DESC").Find(&rows).Error
	return rows, err
}

// LockCaseLine takes the row lock on a case line so transfer origination for
// that line is serialized.
func (r *Repository) LockCaseLine(ctx context.Context, caseLineID uuid.UUID) error {
	var line models.CaseLine
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		Where("id = ?", caseLineID).
		Take(&line).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "case line not found")
	}
	return err
}

// OpenForCaseLine lists requests still in flight that carry an item for the line.
func (r *Repository) OpenForCaseLine(ctx context.Context, caseLineID uuid.UUID) ([]models.TransferRequest, error) {
	var rows []models.TransferRequest
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status IN ?", []enums.TransferStatus{
			enums.TransferStatusPendingApproval,
			enums.TransferStatusApproved,
			enums.TransferStatusShipped,
		}).
		Where("id IN (?)", r.db.Model(&models.TransferRequestItem{}).
			Select("transfer_request_id").
			Where("case_line_id = ?", caseLineID)).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) UpdateInStatus(ctx context.Context, req *models.TransferRequest, to enums.TransferStatus, updates map[string]any) error {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.TransferRequest{}).
		Where("id = ? AND status = ?", req.ID, req.Status).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update transfer request %s: %w", req.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := r.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		return pkgerrors.InvalidTransition(Entity, current.Status.String(), to.String())
	}
	items := req.Items
	if err := r.db.WithContext(ctx).Where("id = ?", req.ID).First(req).Error; err != nil {
		return err
	}
	req.Items = items
	return nil
}

func (r *Repository) SetApprovedQuantity(ctx context.Context, itemID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).
		Model(&models.TransferRequestItem{}).
		Where("id = ?", itemID).
		Update("quantity_approved", qty).Error
}

func (r *Repository) WarehouseExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Warehouse{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *Repository) CountTypeComponents(ctx context.Context, ids []uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TypeComponent{}).Where("id IN ?", ids).Count(&count).Error
	return count, err
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("transfer request %s not found", id))
	}
	return err
}
