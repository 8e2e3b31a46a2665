package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	"github.com/pulseboard/pulseboard-backend/pkg/config"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

// Client implements broker.Client on Google Cloud Pub/Sub. Logical subjects
// (events.ingest, events.dlq) are mapped onto configured topics and
// subscriptions.
type Client struct {
	client     *pubsub.Client
	projectID  string
	topics     map[string]string
	subs       map[string]string
	publishers map[string]*pubsub.Publisher
	ready      atomic.Bool
}

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errUnknownSubject    = errors.New("unknown subject")
)

// NewClient creates a Pub/Sub v2 client and ensures the configured
// subscriptions exist before reporting readiness.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		topics: map[string]string{
			broker.SubjectIngest: cfg.IngestTopic,
			broker.SubjectDLQ:    cfg.DLQTopic,
		},
		subs: map[string]string{
			broker.SubjectIngest: cfg.IngestSubscription,
			broker.SubjectDLQ:    cfg.DLQSubscription,
		},
	}

	if err := c.ensureSubscriptionsConfigured(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	c.publishers = make(map[string]*pubsub.Publisher, len(c.topics))
	for subject, topic := range c.topics {
		if strings.TrimSpace(topic) == "" {
			_ = psClient.Close()
			return nil, fmt.Errorf("topic for subject %q not configured", subject)
		}
		c.publishers[subject] = psClient.Publisher(c.topicResourceName(topic))
	}
	c.ready.Store(true)

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}

	return c, nil
}

func (c *Client) ensureSubscriptionsConfigured(ctx context.Context) error {
	for subject, name := range c.subs {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("subscription for subject %q not configured", subject)
		}
		if err := c.ensureSubscriptionExists(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) ensureSubscriptionExists(ctx context.Context, name string) error {
	fullName := c.subscriptionResourceName(name)

	_, err := c.client.SubscriptionAdminClient.GetSubscription(
		ctx,
		&pubsubpb.GetSubscriptionRequest{Subscription: fullName},
	)
	if err != nil {
		// v2 uses gRPC errors; NotFound means the subscription doesn't exist.
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("subscription %q does not exist", name)
		}
		return fmt.Errorf("checking subscription %q: %w", name, err)
	}

	return nil
}

// Publish sends data to the topic mapped to subject, carrying headers as
// message attributes, and waits for the server acknowledgement.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	publisher, ok := c.publishers[subject]
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownSubject, subject)
	}

	result := publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: headers,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers messages from the subject's subscription to fn strictly
// one at a time: a single handler goroutine with one outstanding message, so
// a delivery in progress (including its retry backoff) blocks the next one.
func (c *Client) Subscribe(ctx context.Context, subject string, fn broker.Handler) error {
	name, ok := c.subs[subject]
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %q", errUnknownSubject, subject)
	}

	sub := c.client.Subscriber(c.subscriptionResourceName(name))
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	return sub.Receive(ctx, func(innerCtx context.Context, msg *pubsub.Message) {
		delivery := broker.Message{
			Subject: subject,
			Data:    msg.Data,
			Headers: msg.Attributes,
		}
		if err := fn(innerCtx, delivery); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Connected reports whether the client passed its readiness checks.
func (c *Client) Connected() bool {
	return c != nil && c.client != nil && c.ready.Load()
}

// Ping re-verifies Pub/Sub connectivity by checking the configured
// subscriptions exist, and refreshes the readiness flag.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	if err := c.ensureSubscriptionsConfigured(ctx); err != nil {
		c.ready.Store(false)
		return err
	}
	c.ready.Store(true)
	return nil
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.ready.Store(false)
	for _, publisher := range c.publishers {
		publisher.Stop()
	}
	return c.client.Close()
}

func (c *Client) subscriptionResourceName(name string) string {
	n := strings.TrimSpace(name)
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/subscriptions/") {
		return n
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", c.projectID, n)
}

func (c *Client) topicResourceName(name string) string {
	n := strings.TrimSpace(name)
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	return fmt.Sprintf("projects/%s/topics/%s", c.projectID, n)
}
