package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/api/responses"
	"github.com/pulseboard/pulseboard-backend/api/validators"
	"github.com/pulseboard/pulseboard-backend/internal/events"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

type ingestEventRequest struct {
	EventID    string         `json:"event_id" validate:"required,uuid"`
	OccurredAt time.Time      `json:"occurred_at" validate:"required"`
	UserID     *int64         `json:"user_id" validate:"required"`
	EventType  string         `json:"event_type" validate:"required,max=100"`
	Properties map[string]any `json:"properties"`
}

type ingestRequest struct {
	Events []ingestEventRequest `json:"events" validate:"required,min=1,dive"`
}

type ingestResponse struct {
	Status      string `json:"status"`
	EventsCount int    `json:"events_count"`
}

// IngestEvents accepts a batch of events and enqueues it for asynchronous
// persistence. 202 means durably queued, not stored.
func IngestEvents(gate *ingest.Gate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req ingestRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		batch := make([]events.EventPayload, 0, len(req.Events))
		for _, e := range req.Events {
			id, err := uuid.Parse(e.EventID)
			if err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeValidation, err, "event_id must be a valid UUID"))
				return
			}
			batch = append(batch, events.EventPayload{
				EventID:    id,
				OccurredAt: e.OccurredAt,
				UserID:     *e.UserID,
				EventType:  e.EventType,
				Properties: e.Properties,
			})
		}

		receipt, err := gate.Accept(ctx, batch)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusAccepted, ingestResponse{
			Status:      "accepted",
			EventsCount: receipt.Accepted,
		})
	}
}
