// Package broadcast moves change notices between devices through Redis
// Pub/Sub. A device publishes after it pushes; notifyd subscribes and fans
// the notices out to the owner's other devices over websocket.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/wellness-sync-engine/internal/types"
)

const (
	defaultTopicPrefix = "sync:owner:"
	maxBackoffDelay    = 30 * time.Second
)

// Message is the wire form of a change notice.
type Message struct {
	Owner      string `json:"owner_identity"`
	Collection string `json:"collection"`
	DeviceID   string `json:"device_id,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// Publisher emits change notices for one device. Implements
// engine.Notifier.
type Publisher struct {
	client      *redis.Client
	deviceID    string
	topicPrefix string
	logger      zerolog.Logger
}

// NewPublisher constructs a publisher identified by deviceID, so the
// originating device can be skipped during fanout.
func NewPublisher(client *redis.Client, deviceID string, logger zerolog.Logger) *Publisher {
	return &Publisher{client: client, deviceID: deviceID, topicPrefix: defaultTopicPrefix, logger: logger}
}

// Publish sends a change notice to the owner's topic, retrying with backoff
// until the context is cancelled.
func (p *Publisher) Publish(ctx context.Context, owner types.Identity, collection types.Collection) error {
	if p == nil || p.client == nil {
		return errors.New("nil publisher")
	}

	msg := Message{
		Owner:      string(owner),
		Collection: string(collection),
		DeviceID:   p.deviceID,
		EnqueuedAt: time.Now().UTC().UnixNano(),
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode change notice: %w", err)
	}

	topic := p.topic(owner)
	backoff := time.Second
	for {
		if err := p.client.Publish(ctx, topic, encoded).Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Warn().Err(err).Str("topic", topic).Dur("backoff", backoff).Msg("redis publish failed; retrying")
			select {
			case <-time.After(backoff):
				backoff = minDuration(backoff*2, maxBackoffDelay)
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}

func (p *Publisher) topic(owner types.Identity) string {
	return p.topicPrefix + string(owner)
}

// Fanout delivers a raw change notice to every connected device of an
// owner, optionally skipping the device the notice came from.
type Fanout interface {
	Notify(owner string, payload []byte, skipDeviceID string) int
}

// Subscriber consumes the Redis topics and hands notices to the fanout.
type Subscriber struct {
	client      *redis.Client
	fanout      Fanout
	topicPrefix string
	logger      zerolog.Logger
	latency     *prometheus.HistogramVec
}

// NewSubscriber builds a subscriber for notifyd.
func NewSubscriber(client *redis.Client, fanout Fanout, logger zerolog.Logger) *Subscriber {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "broadcast",
		Name:      "enqueue_to_fanout_seconds",
		Help:      "Latency between a change notice being published and fanned out.",
		Buckets:   prometheus.LinearBuckets(0.005, 0.005, 12),
	}, []string{"collection"})

	if err := prometheus.Register(histogram); err != nil {
		if regErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			histogram = regErr.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	return &Subscriber{
		client:      client,
		fanout:      fanout,
		topicPrefix: defaultTopicPrefix,
		logger:      logger,
		latency:     histogram,
	}
}

// Start begins consuming in the background, reconnecting with backoff when
// the subscription drops.
func (s *Subscriber) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Subscriber) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := s.client.PSubscribe(ctx, s.topicPrefix+"*")
		if err := s.consume(ctx, pubsub); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("redis subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = minDuration(backoff*2, maxBackoffDelay)
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, pubsub *redis.PubSub) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			if err := s.process(msg); err != nil {
				s.logger.Warn().Err(err).Msg("failed to process change notice")
			}
		}
	}
}

func (s *Subscriber) process(msg *redis.Message) error {
	var notice Message
	if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
		return fmt.Errorf("decode change notice: %w", err)
	}
	if notice.Owner == "" || notice.Collection == "" {
		return errors.New("incomplete change notice")
	}

	if notice.EnqueuedAt > 0 {
		s.latency.WithLabelValues(notice.Collection).Observe(time.Since(time.Unix(0, notice.EnqueuedAt)).Seconds())
	}

	s.fanout.Notify(notice.Owner, []byte(msg.Payload), notice.DeviceID)
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
