package consumer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/events"
	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	"github.com/pulseboard/pulseboard-backend/pkg/db/models"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/pkg/metrics"
)

const (
	// DefaultMaxRetries is how many delayed re-publishes a message gets
	// before it is dead-lettered.
	DefaultMaxRetries = 5
	// DefaultBackoffBase yields delays of 3, 9, 27, 81 and 243 seconds.
	DefaultBackoffBase = 3
)

type eventStore interface {
	UpsertMany(ctx context.Context, rows []models.Event) error
}

// Service is the retrying consumer. It processes the ingestion subject
// strictly one message at a time: retry backoff is a blocking sleep inside
// the handler, so a failing message stalls the lane until it reaches a
// terminal state. That throttling is deliberate; it keeps delivery order and
// bounds pressure on a struggling store.
type Service struct {
	broker      broker.Client
	store       eventStore
	metrics     *metrics.PipelineMetrics
	logg        *logger.Logger
	maxRetries  int
	backoffBase int

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewService wires the consumer against the injected broker and store.
func NewService(brokerClient broker.Client, store eventStore, m *metrics.PipelineMetrics, logg *logger.Logger, maxRetries, backoffBase int) (*Service, error) {
	if brokerClient == nil {
		return nil, fmt.Errorf("broker client required")
	}
	if store == nil {
		return nil, fmt.Errorf("event store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoffBase <= 1 {
		backoffBase = DefaultBackoffBase
	}
	return &Service{
		broker:      brokerClient,
		store:       store,
		metrics:     m,
		logg:        logg,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		sleep:       sleepCtx,
		now:         time.Now,
	}, nil
}

// Run consumes the ingestion subject until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.broker.Subscribe(ctx, broker.SubjectIngest, s.Handle)
}

// Handle processes one delivery. A nil return acknowledges the message; an
// error return leaves it unacknowledged for broker redelivery (used when the
// process is shutting down mid-backoff, or when a retry re-publish fails).
func (s *Service) Handle(ctx context.Context, msg broker.Message) error {
	start := s.now()
	retryCount := retryCountFrom(msg)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subject":     msg.Subject,
		"retry_count": retryCount,
	})

	batch, err := events.DecodeBatch(msg.Data)
	if err != nil {
		// Malformed messages can never succeed; retrying them only burns
		// five backoff cycles. Hand them straight to the dead-letter subject.
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "poison message, dead-lettering")
		s.deadLetter(logCtx, msg, retryCount, err, "validation")
		s.metrics.ObserveProcess(s.now().Sub(start))
		return nil
	}

	rows := make([]models.Event, 0, len(batch.Events))
	for _, e := range batch.Events {
		row, err := e.Model()
		if err != nil {
			s.deadLetter(logCtx, msg, retryCount, err, "validation")
			s.metrics.ObserveProcess(s.now().Sub(start))
			return nil
		}
		rows = append(rows, row)
	}

	if err := s.store.UpsertMany(ctx, rows); err != nil {
		outcome := s.failed(logCtx, msg, retryCount, err)
		s.metrics.ObserveProcess(s.now().Sub(start))
		return outcome
	}

	s.metrics.ObserveCommit(len(rows))
	s.logg.Info(s.logg.WithField(logCtx, "events_count", len(rows)), "batch committed")
	s.metrics.ObserveProcess(s.now().Sub(start))
	return nil
}

// failed routes a failed delivery to either a delayed retry or the
// dead-letter subject, depending on the retry budget and error class.
func (s *Service) failed(ctx context.Context, msg broker.Message, retryCount int, cause error) error {
	if !pkgerrors.Retryable(cause) {
		s.deadLetter(ctx, msg, retryCount, cause, "non_retryable")
		return nil
	}

	if retryCount >= s.maxRetries {
		s.deadLetter(ctx, msg, retryCount, cause, "retries_exhausted")
		return nil
	}

	delay := s.backoffDelay(retryCount)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"error":    cause.Error(),
		"delay_s":  delay.Seconds(),
		"attempt":  retryCount + 1,
		"of_total": s.maxRetries,
	})
	s.logg.Warn(logCtx, "batch failed, scheduling retry")

	if err := s.sleep(ctx, delay); err != nil {
		// Shutdown mid-backoff: leave the message unacknowledged so the
		// broker redelivers it with its current retry count.
		return err
	}

	headers := map[string]string{
		broker.HeaderRetryCount: strconv.Itoa(retryCount + 1),
	}
	if err := s.broker.Publish(ctx, msg.Subject, msg.Data, headers); err != nil {
		s.logg.Error(logCtx, "retry re-publish failed", err)
		return err
	}

	s.metrics.IncRetry()
	return nil
}

// deadLetter publishes the original bytes to the dead-letter subject with the
// failure metadata headers. A failed handoff is logged and swallowed; it must
// never take down the consumer loop.
func (s *Service) deadLetter(ctx context.Context, msg broker.Message, retryCount int, cause error, reason string) {
	headers := map[string]string{
		broker.HeaderOriginalSubject: msg.Subject,
		broker.HeaderErrorMessage:    cause.Error(),
		broker.HeaderFailedAt:        s.now().UTC().Format(time.RFC3339),
		broker.HeaderRetryCount:      strconv.Itoa(retryCount),
	}

	if err := s.broker.Publish(ctx, broker.SubjectDLQ, msg.Data, headers); err != nil {
		s.logg.Error(ctx, "dead-letter publish failed", err)
		return
	}

	s.metrics.IncDeadLetter(reason)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"error":  cause.Error(),
		"reason": reason,
	})
	s.logg.Warn(logCtx, "message dead-lettered")
}

// backoffDelay computes base^(retryCount+1) seconds.
func (s *Service) backoffDelay(retryCount int) time.Duration {
	secs := math.Pow(float64(s.backoffBase), float64(retryCount+1))
	return time.Duration(secs) * time.Second
}

func retryCountFrom(msg broker.Message) int {
	raw := msg.Header(broker.HeaderRetryCount)
	if raw == "" {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
