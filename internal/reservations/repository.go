package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

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

func (r *Repository) CreateBatch(ctx context.Context, rows []models.ComponentReservation) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.ComponentReservation, error) {
	var row models.ComponentReservation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, id)
	}
	return &row, nil
}

func (r *Repository) Lock(ctx context.Context, id uuid.UUID) (*models.ComponentReservation, error) {
	var row models.ComponentReservation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, notFound(err, id)
	}
	return &row, nil
}

func (r *Repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ComponentReservation, error) {
	var rows []models.ComponentReservation
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

// LockByIDs locks the rows in id order so two multi-row callers cannot deadlock.
func (r *Repository) LockByIDs(ctx context.Context, ids []uuid.UUID) ([]models.ComponentReservation, error) {
	var rows []models.ComponentReservation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) LockByCaseLine(ctx context.Context, caseLineID uuid.UUID) ([]models.ComponentReservation, error) {
	var rows []models.ComponentReservation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("case_line_id = ? AND status <> ?", caseLineID, enums.ReservationStatusCancelled).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListByCaseLine(ctx context.Context, caseLineID uuid.UUID) ([]models.ComponentReservation, error) {
	var rows []models.ComponentReservation
	err := r.db.WithContext(ctx).
		Where("case_line_id = ?", caseLineID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// ListReservedBefore returns reservations still waiting for pickup since before cutoff.
func (r *Repository) ListReservedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ComponentReservation, error) {
	var rows []models.ComponentReservation
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.ReservationStatusReserved, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// ListStale returns reservations reserved longer than age and never picked up.
func (r *Repository) ListStale(ctx context.Context, age time.Duration, limit int) ([]models.ComponentReservation, error) {
	return r.ListReservedBefore(ctx, time.Now().UTC().Add(-age), limit)
}

// UpdateInStatus writes updates only while the row is still in from.
func (r *Repository) UpdateInStatus(ctx context.Context, row *models.ComponentReservation, from, to enums.ReservationStatus, updates map[string]any) error {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.ComponentReservation{}).
		Where("id = ? AND status = ?", row.ID, from).
		Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update reservation %s: %w", row.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := r.Get(ctx, row.ID)
		if err != nil {
			return err
		}
		return pkgerrors.InvalidTransition(Entity, current.Status.String(), to.String())
	}
	return r.db.WithContext(ctx).Where("id = ?", row.ID).First(row).Error
}

func notFound(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("reservation %s not found", id))
	}
	return err
}
