package dlqmonitor

import (
	"context"
	"fmt"

	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

// Monitor observes the dead-letter subject for operational visibility. It
// never reprocesses, retries or deletes anything; every message is logged and
// acknowledged.
type Monitor struct {
	broker broker.Client
	logg   *logger.Logger
}

// NewMonitor builds a dead-letter monitor around the injected broker client.
func NewMonitor(brokerClient broker.Client, logg *logger.Logger) (*Monitor, error) {
	if brokerClient == nil {
		return nil, fmt.Errorf("broker client required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Monitor{broker: brokerClient, logg: logg}, nil
}

// Run observes the dead-letter subject until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	return m.broker.Subscribe(ctx, broker.SubjectDLQ, m.Handle)
}

// Handle records one dead-lettered message and always acknowledges it.
func (m *Monitor) Handle(ctx context.Context, msg broker.Message) error {
	logCtx := m.logg.WithFields(ctx, map[string]any{
		"subject":          msg.Subject,
		"original_subject": msg.Header(broker.HeaderOriginalSubject),
		"error_message":    msg.Header(broker.HeaderErrorMessage),
		"failed_at":        msg.Header(broker.HeaderFailedAt),
		"retry_count":      msg.Header(broker.HeaderRetryCount),
		"payload_bytes":    len(msg.Data),
	})
	m.logg.Warn(logCtx, "dead-lettered message observed")
	return nil
}
