package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/pkg/db/models"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
)

// MaxEventTypeLen bounds the event_type field.
const MaxEventTypeLen = 100

// EventPayload is one event in the ingestion wire format. Timestamps travel
// in RFC 3339 text form via the standard time.Time JSON encoding.
type EventPayload struct {
	EventID    uuid.UUID      `json:"event_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	UserID     int64          `json:"user_id"`
	EventType  string         `json:"event_type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// BatchPayload is the single message published per accepted batch.
type BatchPayload struct {
	Events []EventPayload `json:"events"`
}

// Encode serializes the batch for publishing.
func (b BatchPayload) Encode() ([]byte, error) {
	return json.Marshal(b)
}

// Model converts the wire event into its storage row. Nil properties become
// an empty JSON object so the column is never null.
func (e EventPayload) Model() (models.Event, error) {
	props := e.Properties
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return models.Event{}, fmt.Errorf("encoding properties: %w", err)
	}
	return models.Event{
		EventID:    e.EventID,
		OccurredAt: e.OccurredAt,
		UserID:     e.UserID,
		EventType:  e.EventType,
		Properties: raw,
	}, nil
}

// wireEvent uses pointers so missing required fields are detectable; user_id 0
// is a valid value and must not be confused with an absent field.
type wireEvent struct {
	EventID    *string        `json:"event_id"`
	OccurredAt *time.Time     `json:"occurred_at"`
	UserID     *int64         `json:"user_id"`
	EventType  *string        `json:"event_type"`
	Properties map[string]any `json:"properties"`
}

type wireBatch struct {
	Events []wireEvent `json:"events"`
}

// DecodeBatch parses and validates a published batch. Any failure is a
// validation error: the message can never succeed on redelivery, so the
// consumer classifies it as non-retryable.
func DecodeBatch(data []byte) (BatchPayload, error) {
	var wire wireBatch
	if err := json.Unmarshal(data, &wire); err != nil {
		return BatchPayload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed batch payload")
	}
	if len(wire.Events) == 0 {
		return BatchPayload{}, pkgerrors.New(pkgerrors.CodeValidation, "batch contains no events")
	}

	batch := BatchPayload{Events: make([]EventPayload, 0, len(wire.Events))}
	for i, we := range wire.Events {
		event, err := we.validate()
		if err != nil {
			return BatchPayload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("event %d invalid", i))
		}
		batch.Events = append(batch.Events, event)
	}
	return batch, nil
}

func (we wireEvent) validate() (EventPayload, error) {
	if we.EventID == nil {
		return EventPayload{}, fmt.Errorf("event_id is required")
	}
	id, err := uuid.Parse(*we.EventID)
	if err != nil {
		return EventPayload{}, fmt.Errorf("event_id: %w", err)
	}
	if we.OccurredAt == nil || we.OccurredAt.IsZero() {
		return EventPayload{}, fmt.Errorf("occurred_at is required")
	}
	if we.UserID == nil {
		return EventPayload{}, fmt.Errorf("user_id is required")
	}
	if we.EventType == nil || *we.EventType == "" {
		return EventPayload{}, fmt.Errorf("event_type is required")
	}
	if len(*we.EventType) > MaxEventTypeLen {
		return EventPayload{}, fmt.Errorf("event_type exceeds %d characters", MaxEventTypeLen)
	}
	return EventPayload{
		EventID:    id,
		OccurredAt: *we.OccurredAt,
		UserID:     *we.UserID,
		EventType:  *we.EventType,
		Properties: we.Properties,
	}, nil
}
