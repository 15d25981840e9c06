// Package wsnet carries replication traffic over websockets: the server runs a
// Hub that accepts one connection per client, and each client dials it.
// Every frame is one JSON-encoded gameplay.Message. A websocket connection is
// ordered, so each leg keeps its send order.
package wsnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/replication"
	"github.com/dyluth/augur/pkg/gameplay"
)

// ClientIDParam is the query parameter a client identifies itself with.
const ClientIDParam = "client_id"

const writeTimeout = 5 * time.Second

// ErrUnknownClient is returned when the server calls a client that is not connected.
var ErrUnknownClient = errors.New("client not connected")

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) writeMessage(msg *gameplay.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Kind, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Hub is the server side: an http.Handler that upgrades client connections and
// a replication.Transport that writes to them. Inbound messages from every
// client are merged onto one channel with From set to the connection's client id.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	conns    map[string]*conn
	inbound  chan *gameplay.Message
	done     chan struct{}
	once     sync.Once
	logger   logrus.FieldLogger
}

var _ replication.Transport = (*Hub)(nil)

// NewHub creates a hub with no connected clients.
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns:   make(map[string]*conn),
		inbound: make(chan *gameplay.Message, 256),
		done:    make(chan struct{}),
		logger:  logger.WithField("component", "wsnet"),
	}
}

// ServeHTTP upgrades one client connection and reads from it until it closes.
// A client that reconnects replaces its previous connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get(ClientIDParam)
	if clientID == "" {
		http.Error(w, "missing "+ClientIDParam, http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).WithField("client_id", clientID).Warn("upgrade failed")
		return
	}

	c := &conn{ws: ws}
	h.mu.Lock()
	previous := h.conns[clientID]
	h.conns[clientID] = c
	h.mu.Unlock()
	if previous != nil {
		previous.ws.Close()
	}

	log := h.logger.WithField("client_id", clientID)
	log.Info("client connected")

	defer func() {
		h.mu.Lock()
		if h.conns[clientID] == c {
			delete(h.conns, clientID)
		}
		h.mu.Unlock()
		ws.Close()
		log.Info("client disconnected")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg gameplay.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.WithError(err).Warn("discarding malformed message")
			continue
		}
		// The connection identity is authoritative, not the claimed sender.
		msg.From = clientID

		select {
		case h.inbound <- &msg:
		case <-h.done:
			return
		}
	}
}

// Inbound returns the merged stream of client messages.
func (h *Hub) Inbound() <-chan *gameplay.Message {
	return h.inbound
}

// Connected reports whether a client currently has a connection.
func (h *Hub) Connected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[clientID]
	return ok
}

// Clients returns the connected client ids, sorted.
func (h *Hub) Clients() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CallServer is not available on the server.
func (h *Hub) CallServer(context.Context, *gameplay.Message) error {
	return replication.ErrWrongDirection
}

// CallOwningClient writes msg to one client.
func (h *Hub) CallOwningClient(_ context.Context, clientID string, msg *gameplay.Message) error {
	h.mu.RLock()
	c, ok := h.conns[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if err := c.writeMessage(msg); err != nil {
		return fmt.Errorf("failed to write to %s: %w", clientID, err)
	}
	return nil
}

// BroadcastAllClients writes msg to every connected client. A failed write to
// one client does not stop delivery to the others.
func (h *Hub) BroadcastAllClients(_ context.Context, msg *gameplay.Message) error {
	h.mu.RLock()
	targets := make(map[string]*conn, len(h.conns))
	for id, c := range h.conns {
		targets[id] = c
	}
	h.mu.RUnlock()

	var errs []error
	for id, c := range targets {
		if err := c.writeMessage(msg); err != nil {
			errs = append(errs, fmt.Errorf("failed to write to %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every client and stops inbound delivery.
func (h *Hub) Close() error {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		for id, c := range h.conns {
			c.writeMu.Lock()
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			c.ws.Close()
			delete(h.conns, id)
		}
		h.mu.Unlock()
	})
	return nil
}
