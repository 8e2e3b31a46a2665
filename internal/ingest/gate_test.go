package ingest

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-backend/internal/events"
	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

type published struct {
	subject string
	data    []byte
	headers map[string]string
}

type fakeBroker struct {
	connected  bool
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
func (f *fakeBroker) Connected() bool                                         { return f.connected }
func (f *fakeBroker) Close() error                                            { return nil }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func testEvent() events.EventPayload {
	return events.EventPayload{
		EventID:    uuid.New(),
		OccurredAt: time.Now().UTC(),
		UserID:     1,
		EventType:  "login",
	}
}

func TestAcceptPublishesBatch(t *testing.T) {
	fb := &fakeBroker{connected: true}
	gate, err := NewGate(fb, 10, nil, testLogger())
	require.NoError(t, err)

	batch := []events.EventPayload{testEvent(), testEvent()}
	receipt, err := gate.Accept(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Accepted)

	require.Len(t, fb.publishes, 1)
	assert.Equal(t, broker.SubjectIngest, fb.publishes[0].subject)

	decoded, err := events.DecodeBatch(fb.publishes[0].data)
	require.NoError(t, err)
	assert.Len(t, decoded.Events, 2)
}

func TestAcceptCountsDuplicates(t *testing.T) {
	fb := &fakeBroker{connected: true}
	gate, err := NewGate(fb, 10, nil, testLogger())
	require.NoError(t, err)

	// The gate does not deduplicate; both copies count as accepted.
	e := testEvent()
	receipt, err := gate.Accept(context.Background(), []events.EventPayload{e, e})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Accepted)
}

func TestAcceptEmptyBatch(t *testing.T) {
	gate, err := NewGate(&fakeBroker{connected: true}, 10, nil, testLogger())
	require.NoError(t, err)

	_, err = gate.Accept(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestAcceptOversizedBatch(t *testing.T) {
	fb := &fakeBroker{connected: true}
	gate, err := NewGate(fb, 2, nil, testLogger())
	require.NoError(t, err)

	_, err = gate.Accept(context.Background(), []events.EventPayload{testEvent(), testEvent(), testEvent()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeBatchTooLarge, pkgerrors.As(err).Code())
	assert.Empty(t, fb.publishes)
}

func TestAcceptBrokerDisconnected(t *testing.T) {
	gate, err := NewGate(&fakeBroker{connected: false}, 10, nil, testLogger())
	require.NoError(t, err)

	_, err = gate.Accept(context.Background(), []events.EventPayload{testEvent()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeBrokerUnavailable, pkgerrors.As(err).Code())
}

func TestAcceptPublishFailure(t *testing.T) {
	fb := &fakeBroker{connected: true, publishErr: errors.New("broker down")}
	gate, err := NewGate(fb, 10, nil, testLogger())
	require.NoError(t, err)

	_, err = gate.Accept(context.Background(), []events.EventPayload{testEvent()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodePublishFailed, pkgerrors.As(err).Code())
}
