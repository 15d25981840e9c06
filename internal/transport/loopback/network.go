// Package loopback is an in-memory network of one server and any number of
// clients. Messages queue per destination and are only delivered when pumped,
// so tests and simulations control interleaving across channels while each
// channel stays FIFO.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/replication"
	"github.com/dyluth/augur/pkg/gameplay"
)

// ServerKey names the server's queue.
const ServerKey = "server"

// ErrUnknownClient is returned when the server calls a client that never joined.
var ErrUnknownClient = errors.New("unknown client")

// Handler receives one delivered message.
type Handler func(ctx context.Context, msg *gameplay.Message)

// Network holds the queues and handlers of every endpoint.
type Network struct {
	mu       sync.Mutex
	queues   map[string][]*gameplay.Message
	handlers map[string]Handler
	keys     []string // Join order, server first
	logger   logrus.FieldLogger
}

// NewNetwork creates an empty network with the server endpoint registered.
func NewNetwork(logger logrus.FieldLogger) *Network {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	n := &Network{
		queues:   make(map[string][]*gameplay.Message),
		handlers: make(map[string]Handler),
		logger:   logger.WithField("component", "loopback"),
	}
	n.register(ServerKey)
	return n
}

func (n *Network) register(key string) {
	if _, ok := n.queues[key]; ok {
		return
	}
	n.queues[key] = nil
	n.keys = append(n.keys, key)
}

// Server returns the server's transport.
func (n *Network) Server() *Endpoint {
	return &Endpoint{net: n, key: ServerKey}
}

// Client joins a client and returns its transport.
func (n *Network) Client(id string) *Endpoint {
	n.mu.Lock()
	n.register(id)
	n.mu.Unlock()
	return &Endpoint{net: n, key: id, clientID: id}
}

// Attach sets the handler that receives messages queued for key.
func (n *Network) Attach(key string, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.register(key)
	n.handlers[key] = h
}

// Pending reports how many messages wait for key.
func (n *Network) Pending(key string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queues[key])
}

// Deliver hands the oldest message queued for key to its handler.
// It returns false when the queue is empty or nothing is attached.
func (n *Network) Deliver(ctx context.Context, key string) bool {
	n.mu.Lock()
	queue := n.queues[key]
	h := n.handlers[key]
	if len(queue) == 0 || h == nil {
		n.mu.Unlock()
		return false
	}
	msg := queue[0]
	n.queues[key] = queue[1:]
	n.mu.Unlock()

	h(ctx, msg)
	return true
}

// DeliverNext delivers one message from the first non-empty queue in join order.
func (n *Network) DeliverNext(ctx context.Context) bool {
	n.mu.Lock()
	keys := append([]string(nil), n.keys...)
	n.mu.Unlock()

	for _, key := range keys {
		if n.Deliver(ctx, key) {
			return true
		}
	}
	return false
}

// Pump delivers round-robin across queues until nothing is left or limit
// deliveries were made. A limit <= 0 means no limit. It returns the number delivered.
func (n *Network) Pump(ctx context.Context, limit int) int {
	delivered := 0
	for {
		progressed := false

		n.mu.Lock()
		keys := append([]string(nil), n.keys...)
		n.mu.Unlock()

		for _, key := range keys {
			if limit > 0 && delivered >= limit {
				return delivered
			}
			if n.Deliver(ctx, key) {
				delivered++
				progressed = true
			}
		}
		if !progressed {
			return delivered
		}
	}
}

func (n *Network) enqueue(key string, msg *gameplay.Message) error {
	copied, err := wireCopy(msg)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.queues[key]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, key)
	}
	n.queues[key] = append(n.queues[key], copied)
	n.logger.WithFields(logrus.Fields{
		"to":   key,
		"kind": string(msg.Kind),
	}).Debug("message queued")
	return nil
}

func (n *Network) clientKeys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.keys))
	for _, key := range n.keys {
		if key != ServerKey {
			out = append(out, key)
		}
	}
	return out
}

// wireCopy round-trips msg through JSON so sender and receiver never share memory.
func wireCopy(msg *gameplay.Message) (*gameplay.Message, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	var out gameplay.Message
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &out, nil
}

// Endpoint is one node's view of the network.
type Endpoint struct {
	net      *Network
	key      string
	clientID string
}

var _ replication.Transport = (*Endpoint)(nil)

// CallServer queues msg for the server, stamped with this client's id.
func (e *Endpoint) CallServer(_ context.Context, msg *gameplay.Message) error {
	if e.key == ServerKey {
		return replication.ErrWrongDirection
	}
	stamped := *msg
	stamped.From = e.clientID
	return e.net.enqueue(ServerKey, &stamped)
}

// CallOwningClient queues msg for one client.
func (e *Endpoint) CallOwningClient(_ context.Context, clientID string, msg *gameplay.Message) error {
	if e.key != ServerKey {
		return replication.ErrWrongDirection
	}
	return e.net.enqueue(clientID, msg)
}

// BroadcastAllClients queues msg for every joined client.
func (e *Endpoint) BroadcastAllClients(_ context.Context, msg *gameplay.Message) error {
	if e.key != ServerKey {
		return replication.ErrWrongDirection
	}
	for _, key := range e.net.clientKeys() {
		if err := e.net.enqueue(key, msg); err != nil {
			return err
		}
	}
	return nil
}
