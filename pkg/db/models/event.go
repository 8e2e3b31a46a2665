package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the durable unit of record. Rows are written once by the consumer
// and never updated or deleted; event_id is the logical identity, so
// re-delivery of an already stored id must leave the row untouched.
type Event struct {
	EventID    uuid.UUID       `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	OccurredAt time.Time       `gorm:"column:occurred_at;not null;index" json:"occurred_at"`
	UserID     int64           `gorm:"column:user_id;not null;index" json:"user_id"`
	EventType  string          `gorm:"column:event_type;type:varchar(100);not null;index" json:"event_type"`
	Properties json.RawMessage `gorm:"column:properties;type:jsonb;not null" json:"properties"`
}

// TableName pins the table used by migrations.
func (Event) TableName() string {
	return "events"
}
