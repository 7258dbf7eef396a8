package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultChannelPrefix = "recovery:changes:"

// RedisBroker publishes events on Redis channels named <prefix><collection>
// so that every replica's subscribers see writes made by any replica.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

// NewRedisBroker connects to redisURL and verifies the connection.
func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBrokerWithClient(client, defaultChannelPrefix), nil
}

// NewRedisBrokerWithClient wraps an existing client.
func NewRedisBrokerWithClient(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisBroker{client: client, prefix: prefix}
}

// Channel returns the Redis channel (or pattern, for AllCollections) used for
// collection.
func (b *RedisBroker) Channel(collection string) string {
	return b.prefix + collection
}

// Publish implements Publisher. Failures are logged and swallowed: the change
// is already committed and a missed event only delays subscribers.
func (b *RedisBroker) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := b.client.Publish(ctx, b.Channel(e.Collection), payload).Err(); err != nil {
		log.Warn().Err(err).Str("collection", e.Collection).Str("id", e.ID).Msg("publish change event")
	}
}

// Subscribe implements Broker.
func (b *RedisBroker) Subscribe(ctx context.Context, collection string) (<-chan Event, func()) {
	var ps *redis.PubSub
	if collection == AllCollections {
		ps = b.client.PSubscribe(ctx, b.Channel(AllCollections))
	} else {
		ps = b.client.Subscribe(ctx, b.Channel(collection))
	}

	out := make(chan Event, subscriberBuffer)
	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				e, err := decodeEvent(m.Payload)
				if err != nil {
					log.Warn().Err(err).Str("channel", m.Channel).Msg("drop malformed change event")
					continue
				}
				select {
				case out <- e:
				default:
				}
			}
		}
	}()
	return out, cancel
}

// Close releases the Redis client.
func (b *RedisBroker) Close() error { return b.client.Close() }

func decodeEvent(payload string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return Event{}, err
	}
	if e.Collection == "" || e.ID == "" {
		return Event{}, fmt.Errorf("incomplete event %q", payload)
	}
	return e, nil
}
