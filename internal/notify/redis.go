// Package notify tells other devices that the remote document changed so they
// can pull without waiting for a refocus.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultTopicPrefix = "shelf:changes:"
	defaultDedupeTTL   = 2 * time.Minute
	maxBackoffDelay    = 30 * time.Second
	maxPublishAttempts = 3
)

// Message announces a push of DocumentID by DeviceID.
type Message struct {
	DocumentID string `json:"document_id"`
	DeviceID   string `json:"device_id"`
	PushedAt   int64  `json:"pushed_at"`
}

// RedisNotifier publishes push announcements over Redis pub/sub and invokes a
// callback when another device pushed the document this device follows.
type RedisNotifier struct {
	client   *redis.Client
	deviceID string
	logger   zerolog.Logger

	topicPrefix string
	dedupeTTL   time.Duration

	seenMu sync.Mutex
	seen   map[string]time.Time

	latency *prometheus.HistogramVec
}

// NewRedisNotifier constructs a notifier identified by deviceID.
func NewRedisNotifier(client *redis.Client, deviceID string, logger zerolog.Logger) *RedisNotifier {
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notify",
		Name:      "push_to_receive_seconds",
		Help:      "Observed latency between a push on one device and its announcement arriving on another.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"document_id"})

	if err := prometheus.Register(histogram); err != nil {
		if regErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			histogram = regErr.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	return &RedisNotifier{
		client:      client,
		deviceID:    deviceID,
		logger:      logger,
		topicPrefix: defaultTopicPrefix,
		dedupeTTL:   defaultDedupeTTL,
		seen:        make(map[string]time.Time),
		latency:     histogram,
	}
}

// Publish announces that documentID was pushed from this device. Publishing is
// attempted a bounded number of times since it runs inside a push.
func (n *RedisNotifier) Publish(ctx context.Context, documentID string) error {
	if n == nil || n.client == nil {
		return errors.New("nil notifier")
	}

	encoded, err := json.Marshal(Message{
		DocumentID: documentID,
		DeviceID:   n.deviceID,
		PushedAt:   time.Now().UTC().UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("encode change message: %w", err)
	}

	topic := n.topic(documentID)
	backoff := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := n.client.Publish(ctx, topic, encoded).Err()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || attempt == maxPublishAttempts {
			return fmt.Errorf("publish change: %w", err)
		}
		n.logger.Warn().Err(err).Str("topic", topic).Dur("backoff", backoff).Msg("redis publish failed; retrying")
		select {
		case <-time.After(backoff):
			backoff = minDuration(backoff*2, maxBackoffDelay)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Listen consumes announcements until ctx is done, calling onChange for
// pushes of the document returned by document made by other devices.
// Subscription failures are retried with capped backoff.
func (n *RedisNotifier) Listen(ctx context.Context, document func() string, onChange func()) {
	go n.run(ctx, document, onChange)
}

func (n *RedisNotifier) run(ctx context.Context, document func() string, onChange func()) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := n.client.PSubscribe(ctx, n.topicPrefix+"*")
		if err := n.consume(ctx, pubsub, document, onChange); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Warn().Err(err).Dur("backoff", backoff).Msg("redis subscription interrupted; retrying")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff = minDuration(backoff*2, maxBackoffDelay)
		}
	}
}

func (n *RedisNotifier) consume(ctx context.Context, pubsub *redis.PubSub, document func() string, onChange func()) error {
	defer pubsub.Close()

	ch := pubsub.Channel(redis.WithChannelSize(64))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("pubsub channel closed")
			}
			relevant, err := n.process(msg.Payload, document())
			if err != nil {
				n.logger.Warn().Err(err).Msg("failed to process change message")
				continue
			}
			if relevant {
				onChange()
			}
		}
	}
}

// process reports whether payload announces a foreign push of document.
func (n *RedisNotifier) process(payload, document string) (bool, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return false, fmt.Errorf("decode payload: %w", err)
	}
	if msg.DocumentID == "" || msg.DeviceID == "" {
		return false, errors.New("incomplete payload")
	}
	if msg.DeviceID == n.deviceID || msg.DocumentID != document {
		return false, nil
	}
	if n.isDuplicate(msg) {
		return false, nil
	}

	if msg.PushedAt > 0 {
		n.latency.WithLabelValues(msg.DocumentID).Observe(time.Since(time.Unix(0, msg.PushedAt)).Seconds())
	}
	n.logger.Debug().Str("document", msg.DocumentID).Str("device", msg.DeviceID).Msg("remote document changed")
	return true, nil
}

func (n *RedisNotifier) topic(documentID string) string {
	return n.topicPrefix + documentID
}

func (n *RedisNotifier) isDuplicate(msg Message) bool {
	key := fmt.Sprintf("%s:%s:%d", msg.DocumentID, msg.DeviceID, msg.PushedAt)

	n.seenMu.Lock()
	defer n.seenMu.Unlock()

	if ts, ok := n.seen[key]; ok && time.Since(ts) < n.dedupeTTL {
		return true
	}

	n.seen[key] = time.Now()
	cutoff := time.Now().Add(-n.dedupeTTL)
	for k, ts := range n.seen {
		if ts.Before(cutoff) {
			delete(n.seen, k)
		}
	}
	return false
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
