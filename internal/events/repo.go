package events

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulseboard/pulseboard-backend/pkg/db/models"
)

// upsertChunkSize keeps multi-row inserts inside sane statement limits; the
// surrounding transaction preserves batch-level atomicity regardless.
const upsertChunkSize = 500

// Repository handles event persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to event operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// UpsertMany writes the batch in a single transaction with insert-or-ignore
// semantics on event_id: the first stored write wins and re-deliveries (or
// duplicate ids inside the batch) change nothing. ON CONFLICT DO NOTHING is
// the policy precisely because it also tolerates in-batch duplicates within
// one multi-row INSERT.
func (r *Repository) UpsertMany(ctx context.Context, rows []models.Event) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "event_id"}},
				DoNothing: true,
			}).
			CreateInBatches(rows, upsertChunkSize).Error
	})
}

// Count returns the number of stored events.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Event{}).Count(&count).Error
	return count, err
}
