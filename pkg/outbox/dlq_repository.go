package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/evwarranty/warranty-backend/pkg/db/models"
	"github.com/evwarranty/warranty-backend/pkg/enums"
)

// DLQRepository stores events the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a dead letter in the publisher's claim transaction.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !entry.ErrorReason.IsValid() {
		return errors.New("dead letter reason required")
	}
	if entry.ErrorMessage != nil {
		msg := truncate(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// CountByReasonSince groups dead letters that failed at or after since.
// Every known reason is present in the result, zero when absent.
func (r *DLQRepository) CountByReasonSince(ctx context.Context, since time.Time) (map[enums.OutboxDLQErrorReason]int64, error) {
	var rows []struct {
		ErrorReason enums.OutboxDLQErrorReason
		Total       int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.OutboxDLQ{}).
		Select("error_reason, COUNT(*) AS total").
		Where("failed_at >= ?", since).
		Group("error_reason").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[enums.OutboxDLQErrorReason]int64, len(enums.OutboxDLQErrorReasons()))
	for _, reason := range enums.OutboxDLQErrorReasons() {
		counts[reason] = 0
	}
	for _, row := range rows {
		counts[row.ErrorReason] = row.Total
	}
	return counts, nil
}
