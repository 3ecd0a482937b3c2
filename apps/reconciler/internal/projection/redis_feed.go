package projection

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisFeed carries changes over Redis Pub/Sub, one channel per collection
type RedisFeed struct {
	client *goredis.Client
	prefix string
}

// NewRedisFeed creates a feed publishing on "<prefix>:<collection>"
func NewRedisFeed(client *goredis.Client, prefix string) *RedisFeed {
	return &RedisFeed{client: client, prefix: prefix}
}

// ChannelKey returns the Pub/Sub channel for a collection
func (f *RedisFeed) ChannelKey(c Collection) string {
	return fmt.Sprintf("%s:%s", f.prefix, c)
}

// Publish sends change as JSON
func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	return f.client.Publish(ctx, f.ChannelKey(change.Collection), payload).Err()
}

// Subscribe listens on the collection channel until Close. Undecodable
// messages are skipped.
func (f *RedisFeed) Subscribe(ctx context.Context, c Collection, p Predicate) (*Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.ChannelKey(c))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", f.ChannelKey(c), err)
	}

	out := make(chan Change, 1)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		defer close(out)

		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var change Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				if p.Matches(change.Document) {
					offer(out, change)
				}
			}
		}
	}()

	return newSubscription(out, func() {
		close(done)
		_ = pubsub.Close()
		<-stopped
	}), nil
}

// Close is a no-op; the Redis client is owned by the caller
func (f *RedisFeed) Close() error {
	return nil
}
