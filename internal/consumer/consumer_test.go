package consumer

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-backend/internal/events"
	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	"github.com/pulseboard/pulseboard-backend/pkg/db/models"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

type published struct {
	subject string
	data    []byte
	headers map[string]string
}

type fakeBroker struct {
	publishErr error
	publishes  []published
}

func (f *fakeBroker) Publish(_ context.Context, subject string, data []byte, headers map[string]string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.publishes = append(f.publishes, published{subject: subject, data: data, headers: headers})
	return nil
}

func (f *fakeBroker) Subscribe(context.Context, string, broker.Handler) error { return nil }
func (f *fakeBroker) Connected() bool                                         { return true }
func (f *fakeBroker) Close() error                                            { return nil }

type fakeStore struct {
	err   error
	calls int
	rows  []models.Event
}

func (f *fakeStore) UpsertMany(_ context.Context, rows []models.Event) error {
	f.calls++
	f.rows = rows
	return f.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestService(t *testing.T, fb *fakeBroker, fs *fakeStore) (*Service, *[]time.Duration) {
	t.Helper()

	svc, err := NewService(fb, fs, nil, testLogger(), DefaultMaxRetries, DefaultBackoffBase)
	require.NoError(t, err)

	slept := &[]time.Duration{}
	svc.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	svc.now = func() time.Time { return time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC) }
	return svc, slept
}

func validBatchData(t *testing.T) []byte {
	t.Helper()
	data, err := events.BatchPayload{Events: []events.EventPayload{{
		EventID:    uuid.New(),
		OccurredAt: time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC),
		UserID:     42,
		EventType:  "login",
	}}}.Encode()
	require.NoError(t, err)
	return data
}

func TestHandleCommitsBatch(t *testing.T) {
	fb := &fakeBroker{}
	fs := &fakeStore{}
	svc, slept := newTestService(t, fb, fs)

	msg := broker.Message{Subject: broker.SubjectIngest, Data: validBatchData(t)}
	require.NoError(t, svc.Handle(context.Background(), msg))

	assert.Equal(t, 1, fs.calls)
	assert.Len(t, fs.rows, 1)
	assert.Empty(t, fb.publishes)
	assert.Empty(t, *slept)
}

func TestHandleFirstFailureSchedulesRetry(t *testing.T) {
	fb := &fakeBroker{}
	fs := &fakeStore{err: errors.New("store unavailable")}
	svc, slept := newTestService(t, fb, fs)

	data := validBatchData(t)
	msg := broker.Message{Subject: broker.SubjectIngest, Data: data}
	require.NoError(t, svc.Handle(context.Background(), msg))

	// First failure: 3^1 seconds of backoff, then a re-publish of the
	// original bytes with the retry count bumped to 1.
	require.Len(t, *slept, 1)
	assert.Equal(t, 3*time.Second, (*slept)[0])

	require.Len(t, fb.publishes, 1)
	assert.Equal(t, broker.SubjectIngest, fb.publishes[0].subject)
	assert.Equal(t, data, fb.publishes[0].data)
	assert.Equal(t, "1", fb.publishes[0].headers[broker.HeaderRetryCount])
}

func TestHandleBackoffGrowsWithRetryCount(t *testing.T) {
	fs := &fakeStore{err: errors.New("store unavailable")}

	wantDelays := []time.Duration{3, 9, 27, 81, 243}
	for count, want := range wantDelays {
		fb := &fakeBroker{}
		svc, slept := newTestService(t, fb, fs)

		msg := broker.Message{
			Subject: broker.SubjectIngest,
			Data:    validBatchData(t),
			Headers: map[string]string{broker.HeaderRetryCount: strconv.Itoa(count)},
		}
		require.NoError(t, svc.Handle(context.Background(), msg))

		require.Len(t, *slept, 1)
		assert.Equal(t, want*time.Second, (*slept)[0])
		assert.Equal(t, strconv.Itoa(count+1), fb.publishes[0].headers[broker.HeaderRetryCount])
	}
}

func TestHandleRetriesExhausted(t *testing.T) {
	fb := &fakeBroker{}
	fs := &fakeStore{err: errors.New("store unavailable")}
	svc, slept := newTestService(t, fb, fs)

	data := validBatchData(t)
	msg := broker.Message{
		Subject: broker.SubjectIngest,
		Data:    data,
		Headers: map[string]string{broker.HeaderRetryCount: "5"},
	}
	require.NoError(t, svc.Handle(context.Background(), msg))

	assert.Empty(t, *slept)
	require.Len(t, fb.publishes, 1)

	dlq := fb.publishes[0]
	assert.Equal(t, broker.SubjectDLQ, dlq.subject)
	assert.Equal(t, data, dlq.data)
	assert.Equal(t, broker.SubjectIngest, dlq.headers[broker.HeaderOriginalSubject])
	assert.Equal(t, "store unavailable", dlq.headers[broker.HeaderErrorMessage])
	assert.Equal(t, "5", dlq.headers[broker.HeaderRetryCount])
	assert.Equal(t, "2026-08-10T09:00:00Z", dlq.headers[broker.HeaderFailedAt])
}

func TestHandleNonRetryableStoreError(t *testing.T) {
	fb := &fakeBroker{}
	fs := &fakeStore{err: pkgerrors.New(pkgerrors.CodeValidation, "constraint violated")}
	svc, slept := newTestService(t, fb, fs)

	msg := broker.Message{Subject: broker.SubjectIngest, Data: validBatchData(t)}
	require.NoError(t, svc.Handle(context.Background(), msg))

	// Non-retryable failures skip the retry budget entirely.
	assert.Empty(t, *slept)
	require.Len(t, fb.publishes, 1)
	assert.Equal(t, broker.SubjectDLQ, fb.publishes[0].subject)
}

func TestHandlePoisonMessage(t *testing.T) {
	fb := &fakeBroker{}
	fs := &fakeStore{}
	svc, slept := newTestService(t, fb, fs)

	msg := broker.Message{Subject: broker.SubjectIngest, Data: []byte(`{"events": [`)}
	require.NoError(t, svc.Handle(context.Background(), msg))

	assert.Equal(t, 0, fs.calls)
	assert.Empty(t, *slept)
	require.Len(t, fb.publishes, 1)
	assert.Equal(t, broker.SubjectDLQ, fb.publishes[0].subject)
	assert.Equal(t, "0", fb.publishes[0].headers[broker.HeaderRetryCount])
}

func TestHandleShutdownMidBackoff(t *testing.T) {
	fb := &fakeBroker{}
	fs := &fakeStore{err: errors.New("store unavailable")}
	svc, _ := newTestService(t, fb, fs)
	svc.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	msg := broker.Message{Subject: broker.SubjectIngest, Data: validBatchData(t)}
	err := svc.Handle(context.Background(), msg)

	// The handler errors so the broker redelivers; nothing is re-published.
	require.Error(t, err)
	assert.Empty(t, fb.publishes)
}

func TestHandleRetryPublishFailure(t *testing.T) {
	fb := &fakeBroker{publishErr: errors.New("broker down")}
	fs := &fakeStore{err: errors.New("store unavailable")}
	svc, _ := newTestService(t, fb, fs)

	msg := broker.Message{Subject: broker.SubjectIngest, Data: validBatchData(t)}
	err := svc.Handle(context.Background(), msg)
	require.Error(t, err)
}

func TestHandleDeadLetterPublishFailureSwallowed(t *testing.T) {
	fb := &fakeBroker{publishErr: errors.New("broker down")}
	fs := &fakeStore{}
	svc, _ := newTestService(t, fb, fs)

	// A poison message whose DLQ handoff fails must still be acknowledged.
	msg := broker.Message{Subject: broker.SubjectIngest, Data: []byte(`not json`)}
	require.NoError(t, svc.Handle(context.Background(), msg))
}

func TestRetryCountFrom(t *testing.T) {
	assert.Equal(t, 0, retryCountFrom(broker.Message{}))
	assert.Equal(t, 0, retryCountFrom(broker.Message{Headers: map[string]string{broker.HeaderRetryCount: "junk"}}))
	assert.Equal(t, 0, retryCountFrom(broker.Message{Headers: map[string]string{broker.HeaderRetryCount: "-2"}}))
	assert.Equal(t, 4, retryCountFrom(broker.Message{Headers: map[string]string{broker.HeaderRetryCount: "4"}}))
}
