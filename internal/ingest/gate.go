package ingest

import (
	"context"
	"fmt"

	"github.com/pulseboard/pulseboard-backend/internal/events"
	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/pkg/metrics"
)

// DefaultMaxBatchSize bounds a single ingestion batch.
const DefaultMaxBatchSize = 5000

// Receipt acknowledges an accepted batch. Accepted counts every submitted
// event, duplicates included; deduplication happens at persistence, not here.
type Receipt struct {
	Accepted int
}

// Gate validates inbound batches and hands them to the broker. It performs no
// persistence and no deduplication.
type Gate struct {
	broker   broker.Client
	maxBatch int
	metrics  *metrics.PipelineMetrics
	logg     *logger.Logger
}

// NewGate builds an ingestion gate around the injected broker client.
func NewGate(brokerClient broker.Client, maxBatch int, m *metrics.PipelineMetrics, logg *logger.Logger) (*Gate, error) {
	if brokerClient == nil {
		return nil, fmt.Errorf("broker client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	return &Gate{
		broker:   brokerClient,
		maxBatch: maxBatch,
		metrics:  m,
		logg:     logg,
	}, nil
}

// Accept validates the batch and publishes it to the ingestion subject as one
// message. The batch is accepted only once the publish succeeds.
func (g *Gate) Accept(ctx context.Context, batch []events.EventPayload) (*Receipt, error) {
	if len(batch) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "batch contains no events")
	}
	if len(batch) > g.maxBatch {
		return nil, pkgerrors.New(pkgerrors.CodeBatchTooLarge,
			fmt.Sprintf("too many events: %d, maximum allowed is %d per batch", len(batch), g.maxBatch)).
			WithDetails(map[string]any{"submitted": len(batch), "max": g.maxBatch})
	}
	if !g.broker.Connected() {
		return nil, pkgerrors.New(pkgerrors.CodeBrokerUnavailable, "broker not connected")
	}

	data, err := events.BatchPayload{Events: batch}.Encode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding batch")
	}

	if err := g.broker.Publish(ctx, broker.SubjectIngest, data, nil); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePublishFailed, err, "publishing batch")
	}

	g.metrics.AddAccepted(len(batch))
	logCtx := g.logg.WithFields(ctx, map[string]any{
		"subject":      broker.SubjectIngest,
		"events_count": len(batch),
	})
	g.logg.Info(logCtx, "batch accepted")

	return &Receipt{Accepted: len(batch)}, nil
}
