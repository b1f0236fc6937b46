package caselines

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

func (r *Repository) CreateCase(ctx context.Context, gc *models.GuaranteeCase) error {
	return r.db.WithContext(ctx).Create(gc).Error
}

func (r *Repository) GetCase(ctx context.Context, id uuid.UUID) (*models.GuaranteeCase, error) {
	var gc models.GuaranteeCase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&gc).Error; err != nil {
		return nil, notFound(err, "guarantee case", id)
	}
	return &gc, nil
}

func (r *Repository) CreateLine(ctx context.Context, line *models.CaseLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

func (r *Repository) GetLine(ctx context.Context, id uuid.UUID) (*models.CaseLine, error) {
	var line models.CaseLine
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&line).Error; err != nil {
		return nil, notFound(err, "case line", id)
	}
	return &line, nil
}

// LockLine loads the line and holds its row lock for the rest of the transaction.
func (r *Repository) LockLine(ctx context.Context, id uuid.UUID) (*models.CaseLine, error) {
	var line models.CaseLine
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&line).Error
	if err != nil {
		return nil, notFound(err, "case line", id)
	}
	return &line, nil
}

func (r *Repository) ListByCase(ctx context.Context, caseID uuid.UUID) ([]models.CaseLine, error) {
	var lines []models.CaseLine
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at ASC, id ASC").
		Find(&lines).Error
	return lines, err
}

func (r *Repository) GetTypeComponent(ctx context.Context, id uuid.UUID) (*models.TypeComponent, error) {
	var tc models.TypeComponent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tc).Error; err != nil {
		return nil, notFound(err, "type component", id)
	}
	return &tc, nil
}

// AddReserved adjusts the denormalized reservation count of a line.
func (r *Repository) AddReserved(ctx context.Context, id uuid.UUID, delta int) error {
	return r.db.WithContext(ctx).
		Model(&models.CaseLine{}).
		Where("id = ?", id).
		Update("quantity_reserved", gorm.Expr("CASE WHEN quantity_reserved + ? < 0 THEN 0 ELSE quantity_reserved + ? END", delta, delta)).
		Error
}

// UpdateInStatus applies updates only while the line is still in status. A lost
// race surfaces as InvalidTransition against the state found in the database.
func (r *Repository) UpdateInStatus(ctx context.Context, line *models.CaseLine, status enums.CaseLineStatus, attempted enums.CaseLineStatus, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.CaseLine{}).
		Where("id = ? AND status = ?", line.ID, status).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update case line %s: %w", line.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := r.GetLine(ctx, line.ID)
		if err != nil {
			return err
		}
		return pkgerrors.InvalidTransition(Entity, current.Status.String(), attempted.String())
	}
	return r.db.WithContext(ctx).Where("id = ?", line.ID).First(line).Error
}

func notFound(err error, what string, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("%s %s not found", what, id))
	}
	return err
}
