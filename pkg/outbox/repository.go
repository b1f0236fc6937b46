package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
)

const maxLastErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish locks the oldest unpublished rows. Concurrent
// publishers skip each other's rows on Postgres.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Update("published_at", time.Now().UTC()).Error
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncate(err.Error()),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkTerminalTx parks the row so FetchUnpublishedForPublish never returns it again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return tx.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncate(err.Error()),
			"attempt_count": terminalAttempts,
		}).Error
}

// DeletePublishedBefore removes published rows older than cutoff, at most limit per call.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	sub := r.db.Model(&models.OutboxEvent{}).
		Select("id").
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", sub).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func truncate(message string) string {
	if len(message) <= maxLastErrorLen {
		return message
	}
	return message[:maxLastErrorLen]
}
