package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pulseboard/pulseboard-backend/pkg/db/models"
)

func setupEventsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS events (
  event_id TEXT PRIMARY KEY,
  occurred_at DATETIME NOT NULL,
  user_id INTEGER NOT NULL,
  event_type TEXT NOT NULL,
  properties TEXT
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func testRow(t *testing.T) models.Event {
	t.Helper()
	return models.Event{
		EventID:    uuid.New(),
		OccurredAt: time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC),
		UserID:     42,
		EventType:  "login",
		Properties: json.RawMessage(`{}`),
	}
}

func TestUpsertMany(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	rows := []models.Event{testRow(t), testRow(t), testRow(t)}
	require.NoError(t, repo.UpsertMany(ctx, rows))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestUpsertManyIdempotentReplay(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	rows := []models.Event{testRow(t), testRow(t)}
	require.NoError(t, repo.UpsertMany(ctx, rows))

	// Redelivering the very same batch must change nothing.
	require.NoError(t, repo.UpsertMany(ctx, rows))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUpsertManyFirstWriteWins(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	row := testRow(t)
	require.NoError(t, repo.UpsertMany(ctx, []models.Event{row}))

	changed := row
	changed.EventType = "overwritten"
	require.NoError(t, repo.UpsertMany(ctx, []models.Event{changed}))

	var stored models.Event
	require.NoError(t, db.First(&stored, "event_id = ?", row.EventID).Error)
	assert.Equal(t, "login", stored.EventType)
}

func TestUpsertManyInBatchDuplicates(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	row := testRow(t)
	rows := []models.Event{row, row, testRow(t)}
	require.NoError(t, repo.UpsertMany(ctx, rows))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUpsertManyEmpty(t *testing.T) {
	db := setupEventsTestDB(t)
	repo := NewRepository(db)

	require.NoError(t, repo.UpsertMany(context.Background(), nil))
}
