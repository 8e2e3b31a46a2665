package importer

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/internal/events"
)

var sampleEventTypes = []string{
	"app_open", "view_item", "message_sent", "add_to_cart", "login", "logout", "purchase",
}

// GenerateBatch produces a random batch of plausible events spread over the
// last thirty days. Useful for seeding a dev environment or load-testing the
// ingestion endpoint.
func GenerateBatch(n int) events.BatchPayload {
	base := time.Now().UTC()
	batch := events.BatchPayload{Events: make([]events.EventPayload, 0, n)}
	for range n {
		offset := time.Duration(rand.Intn(3600*24*30)) * time.Second
		batch.Events = append(batch.Events, events.EventPayload{
			EventID:    uuid.New(),
			OccurredAt: base.Add(-offset),
			UserID:     int64(rand.Intn(1001)),
			EventType:  sampleEventTypes[rand.Intn(len(sampleEventTypes))],
			Properties: map[string]any{"generated": true},
		})
	}
	return batch
}

// WriteSampleFile writes a generated batch as indented JSON to path.
func WriteSampleFile(path string, n int) error {
	data, err := json.MarshalIndent(GenerateBatch(n), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sample batch: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
