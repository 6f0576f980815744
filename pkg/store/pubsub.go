package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/legatus-hq/legatus/pkg/models"
)

// Pub/sub channel names. Agents publish to ChannelAgent; the orchestrator
// publishes commands on ChannelOrchestrator and UI-facing events on
// ChannelCLI.
const (
	ChannelAgent        = "events:agent"
	ChannelOrchestrator = "events:orchestrator"
	ChannelCLI          = "events:cli"
)

// PubSub is the typed message bus over Redis pub/sub.
type PubSub struct {
	client *Client
}

// NewPubSub creates a pub/sub manager on the shared client.
func NewPubSub(client *Client) *PubSub {
	return &PubSub{client: client}
}

// Publish sends a message on a channel. Delivery is fire-and-forget:
// subscribers that are not connected miss the message.
func (p *PubSub) Publish(ctx context.Context, channel string, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := p.client.Redis().Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Subscription delivers decoded messages from one channel until closed.
type Subscription struct {
	// C yields messages as they arrive. It is closed after Close, or when
	// the subscribe context ends.
	C      <-chan *models.Message
	cancel context.CancelFunc
	done   chan struct{}
}

// Close unsubscribes and waits for the decode loop to finish.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe opens a subscription on a channel. Malformed payloads are
// logged and skipped so one bad publisher cannot wedge consumers.
func (p *PubSub) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	pubsub := p.client.Redis().Subscribe(subCtx, channel)
	// Force the subscription onto the wire before returning so callers
	// never miss messages published right after Subscribe returns.
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan *models.Message)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		defer func() { _ = pubsub.Close() }()

		raw := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case redisMsg, ok := <-raw:
				if !ok {
					return
				}
				var msg models.Message
				if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
					slog.Warn("Dropping malformed pub/sub message",
						"channel", channel, "error", err)
					continue
				}
				select {
				case out <- &msg:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel, done: done}, nil
}
