// Package broker publishes model deltas on a Redis pub/sub channel so other
// processes can follow the patchbay without polling its HTTP API.
//
// Delivery is at-most-once, as with any Redis pub/sub channel. Subscribers
// that need the full state should fetch a snapshot and then apply deltas.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"patchbay/internal/domain"
)

// Message is the payload published for each delta
type Message struct {
	Session string       `json:"session"`
	Delta   domain.Delta `json:"delta"`
}

// Publisher publishes deltas to a single channel. It is safe for concurrent use.
type Publisher struct {
	rdb     *redis.Client
	channel string
	session string
}

// NewPublisher creates a publisher for channel. session tags every message.
func NewPublisher(redisOpts *redis.Options, channel, session string) (*Publisher, error) {
	if channel == "" {
		return nil, errors.New("channel name cannot be empty")
	}

	return &Publisher{
		rdb:     redis.NewClient(redisOpts),
		channel: channel,
		session: session,
	}, nil
}

// Channel returns the channel deltas are published on
func (p *Publisher) Channel() string {
	return p.channel
}

// Ping verifies Redis connectivity
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Publish sends one delta and returns how many subscribers received it
func (p *Publisher) Publish(ctx context.Context, d domain.Delta) (int64, error) {
	data, err := json.Marshal(Message{Session: p.session, Delta: d})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal delta: %w", err)
	}

	n, err := p.rdb.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish delta: %w", err)
	}
	return n, nil
}

// Subscription delivers decoded messages from a channel
type Subscription struct {
	messages <-chan Message
	errors   <-chan error
	cancel   context.CancelFunc
}

// Messages returns the channel of received messages. It is closed when
// the subscription ends.
func (s *Subscription) Messages() <-chan Message {
	return s.messages
}

// Errors returns decode errors; undecodable payloads are skipped
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.cancel()
}

// Subscribe listens on channel. It returns once Redis has confirmed the
// subscription, so messages published afterwards are not missed.
func Subscribe(ctx context.Context, redisOpts *redis.Options, channel string) (*Subscription, error) {
	rdb := redis.NewClient(redisOpts)
	pubsub := rdb.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	messages := make(chan Message, 16)
	errs := make(chan error, 4)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(messages)
		defer close(errs)
		defer rdb.Close()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					select {
					case errs <- fmt.Errorf("failed to unmarshal delta message: %w", err):
					default:
					}
					continue
				}

				select {
				case messages <- m:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{messages: messages, errors: errs, cancel: cancel}, nil
}
