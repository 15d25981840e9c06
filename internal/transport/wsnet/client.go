package wsnet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/replication"
	"github.com/dyluth/augur/pkg/gameplay"
)

// Client is one client's connection to a Hub.
type Client struct {
	conn     *conn
	clientID string
	inbound  chan *gameplay.Message
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	logger   logrus.FieldLogger
}

var _ replication.Transport = (*Client)(nil)

// Dial connects to the hub at serverURL as clientID.
func Dial(ctx context.Context, serverURL, clientID string, logger logrus.FieldLogger) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id cannot be empty")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	q := u.Query()
	q.Set(ClientIDParam, clientID)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", serverURL, err)
	}

	c := &Client{
		conn:     &conn{ws: ws},
		clientID: clientID,
		inbound:  make(chan *gameplay.Message, 256),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{
			"component": "wsnet",
			"client_id": clientID,
		}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.stopped)
	defer close(c.inbound)
	for {
		_, data, err := c.conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Error("connection lost")
			}
			return
		}

		var msg gameplay.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.WithError(err).Warn("discarding malformed message")
			continue
		}
		select {
		case c.inbound <- &msg:
		case <-c.done:
			return
		}
	}
}

// Inbound returns messages from the server. It is closed when the connection ends.
func (c *Client) Inbound() <-chan *gameplay.Message {
	return c.inbound
}

// CallServer writes msg to the hub, stamped with this client's id.
func (c *Client) CallServer(_ context.Context, msg *gameplay.Message) error {
	stamped := *msg
	stamped.From = c.clientID
	return c.conn.writeMessage(&stamped)
}

// CallOwningClient is not available on a client.
func (c *Client) CallOwningClient(context.Context, string, *gameplay.Message) error {
	return replication.ErrWrongDirection
}

// BroadcastAllClients is not available on a client.
func (c *Client) BroadcastAllClients(context.Context, *gameplay.Message) error {
	return replication.ErrWrongDirection
}

// Close sends a close frame, closes the connection and waits for the read loop
// to stop, even if Inbound is full and nobody is draining it.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.conn.writeMu.Lock()
		c.conn.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.writeMu.Unlock()
		err = c.conn.ws.Close()
		<-c.stopped
	})
	return err
}
