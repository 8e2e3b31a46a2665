package broker

import "context"

// Subjects used for publish/subscribe routing.
const (
	SubjectIngest = "events.ingest"
	SubjectDLQ    = "events.dlq"
)

// Headers carried alongside messages for retry and dead-letter accounting.
const (
	HeaderRetryCount      = "X-Retry-Count"
	HeaderOriginalSubject = "X-Original-Subject"
	HeaderErrorMessage    = "X-Error-Message"
	HeaderFailedAt        = "X-Failed-At"
)

// Message is a single delivery from the broker.
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// Header returns the named header, or "" when headers are absent.
func (m Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// Handler processes one delivery. A nil return acknowledges the message; a
// non-nil return leaves it unacknowledged so the broker redelivers it.
type Handler func(ctx context.Context, msg Message) error

// Client is the pub/sub transport collaborator. Implementations must be safe
// for concurrent use.
type Client interface {
	// Publish sends data to the subject. Headers may be nil.
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error

	// Subscribe delivers messages from the subject to fn, one at a time, and
	// blocks until ctx is canceled.
	Subscribe(ctx context.Context, subject string, fn Handler) error

	// Connected reports whether the transport is ready to accept publishes.
	Connected() bool

	Close() error
}
