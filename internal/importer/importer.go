package importer

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/internal/events"
	"github.com/pulseboard/pulseboard-backend/pkg/db/models"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

// DefaultBatchSize is how many rows are flushed to the store per write.
const DefaultBatchSize = 1000

type eventStore interface {
	UpsertMany(ctx context.Context, rows []models.Event) error
}

// Importer loads historical events into the store, bypassing the broker.
// Writes go through the same insert-or-ignore path as the consumer, so
// re-running an import over the same file is harmless.
type Importer struct {
	store     eventStore
	batchSize int
	logg      *logger.Logger
}

// Result summarizes one import run.
type Result struct {
	Read     int
	Imported int
	Skipped  int
}

func New(store eventStore, batchSize int, logg *logger.Logger) (*Importer, error) {
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{store: store, batchSize: batchSize, logg: logg}, nil
}

// ImportCSV reads a header-keyed CSV file. Rows that fail validation are
// counted as skipped rather than aborting the run.
func (i *Importer) ImportCSV(ctx context.Context, path string) (*Result, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer fh.Close()

	reader := csv.NewReader(fh)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	col := map[string]int{}
	for idx, name := range header {
		col[name] = idx
	}
	for _, required := range []string{"event_id", "occurred_at", "user_id", "event_type"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("csv missing required column %q", required)
		}
	}

	result := &Result{}
	pending := make([]models.Event, 0, i.batchSize)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv record: %w", err)
		}
		result.Read++

		row, err := i.csvRow(record, col)
		if err != nil {
			result.Skipped++
			logCtx := i.logg.WithFields(ctx, map[string]any{"line": result.Read + 1, "error": err.Error()})
			i.logg.Warn(logCtx, "skipping invalid row")
			continue
		}

		pending = append(pending, row)
		if len(pending) >= i.batchSize {
			if err := i.flush(ctx, pending, result); err != nil {
				return nil, err
			}
			pending = pending[:0]
		}
	}

	if err := i.flush(ctx, pending, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ImportJSON reads a file containing {"events": [...]}, the same document
// shape the ingestion endpoint accepts.
func (i *Importer) ImportJSON(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	batch, err := events.DecodeBatch(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	result := &Result{Read: len(batch.Events)}
	pending := make([]models.Event, 0, i.batchSize)

	for _, e := range batch.Events {
		row, err := e.Model()
		if err != nil {
			result.Skipped++
			continue
		}
		pending = append(pending, row)
		if len(pending) >= i.batchSize {
			if err := i.flush(ctx, pending, result); err != nil {
				return nil, err
			}
			pending = pending[:0]
		}
	}

	if err := i.flush(ctx, pending, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (i *Importer) flush(ctx context.Context, rows []models.Event, result *Result) error {
	if len(rows) == 0 {
		return nil
	}
	if err := i.store.UpsertMany(ctx, rows); err != nil {
		return fmt.Errorf("writing batch: %w", err)
	}
	result.Imported += len(rows)
	logCtx := i.logg.WithField(ctx, "rows", len(rows))
	i.logg.Info(logCtx, "batch imported")
	return nil
}

func (i *Importer) csvRow(record []string, col map[string]int) (models.Event, error) {
	get := func(name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	id, err := uuid.Parse(get("event_id"))
	if err != nil {
		return models.Event{}, fmt.Errorf("event_id: %w", err)
	}
	occurredAt, err := parseTimestamp(get("occurred_at"))
	if err != nil {
		return models.Event{}, fmt.Errorf("occurred_at: %w", err)
	}
	var userID int64
	if _, err := fmt.Sscanf(get("user_id"), "%d", &userID); err != nil {
		return models.Event{}, fmt.Errorf("user_id: %w", err)
	}
	eventType := get("event_type")
	if eventType == "" {
		return models.Event{}, fmt.Errorf("event_type is required")
	}
	if len(eventType) > events.MaxEventTypeLen {
		return models.Event{}, fmt.Errorf("event_type exceeds %d characters", events.MaxEventTypeLen)
	}

	props := get("properties")
	if props == "" {
		props = get("properties_json")
	}
	if props == "" {
		props = "{}"
	}
	if !json.Valid([]byte(props)) {
		return models.Event{}, fmt.Errorf("properties is not valid JSON")
	}

	return models.Event{
		EventID:    id,
		OccurredAt: occurredAt,
		UserID:     userID,
		EventType:  eventType,
		Properties: json.RawMessage(props),
	}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
