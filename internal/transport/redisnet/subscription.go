package redisnet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/augur/pkg/gameplay"
)

// Subscription delivers inbound messages for one node.
// Caller must call Close() when done.
type Subscription struct {
	messages <-chan *gameplay.Message
	errors   <-chan error
	cancel   func()
	once     sync.Once
}

// Messages returns the inbound message channel. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription) Messages() <-chan *gameplay.Message {
	return s.messages
}

// Errors returns decode failures. The offending message is skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe listens on the channels addressed to this node: the server calls
// channel on the server; the client's own calls channel and the broadcast
// channel on a client.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	var channels []string
	if c.role == gameplay.RoleServer {
		channels = []string{gameplay.ServerCallsChannel(c.instanceName)}
	} else {
		channels = []string{
			gameplay.ClientCallsChannel(c.instanceName, c.clientID),
			gameplay.BroadcastChannel(c.instanceName),
		}
	}

	return listen(ctx, c.rdb.Subscribe(ctx, channels...))
}

// WatchAll listens on every channel of the instance, including calls addressed
// to other nodes. It is meant for observers; a node should use Subscribe.
func (c *Client) WatchAll(ctx context.Context) (*Subscription, error) {
	return listen(ctx, c.rdb.PSubscribe(ctx, gameplay.ChannelPattern(c.instanceName)))
}

func listen(ctx context.Context, pubsub *redis.PubSub) (*Subscription, error) {
	// Wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	messagesChan := make(chan *gameplay.Message, 64)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(messagesChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}

				var msg gameplay.Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal message on %s: %w", raw.Channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case messagesChan <- &msg:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		messages: messagesChan,
		errors:   errorsChan,
		cancel:   cancelFunc,
	}, nil
}
