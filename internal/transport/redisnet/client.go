// Package redisnet carries replication traffic over Redis Pub/Sub and keeps the
// authoritative activity collection in Redis hashes so late-joining clients can
// catch up.
//
// Each network leg has its own channel (see the gameplay schema helpers):
//
//	augur:{instance}:server_calls          client -> server
//	augur:{instance}:client:{id}:calls     server -> one client
//	augur:{instance}:broadcast             server -> every client
//
// Pub/Sub delivery is ordered per channel, which is the ordering the dispatcher
// relies on. Messages are JSON-encoded gameplay.Message values.
package redisnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/replication"
	"github.com/dyluth/augur/pkg/gameplay"
)

// Client is one node's connection to the shared Redis instance.
// All keys and channels are namespaced with the instance name.
// The client is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
	role         gameplay.Role
	clientID     string
	logger       logrus.FieldLogger
}

var _ replication.Transport = (*Client)(nil)

// NewClient creates a client for the given instance and role.
// A client-role connection requires a client id.
func NewClient(redisOpts *redis.Options, instanceName string, role gameplay.Role, clientID string, logger logrus.FieldLogger) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	if err := role.Validate(); err != nil {
		return nil, err
	}
	if role == gameplay.RoleClient && clientID == "" {
		return nil, fmt.Errorf("client id cannot be empty for a client connection")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		role:         role,
		clientID:     clientID,
		logger: logger.WithFields(logrus.Fields{
			"component": "redisnet",
			"instance":  instanceName,
		}),
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CallServer publishes msg on the server calls channel, stamped with this client's id.
func (c *Client) CallServer(ctx context.Context, msg *gameplay.Message) error {
	if c.role != gameplay.RoleClient {
		return replication.ErrWrongDirection
	}
	stamped := *msg
	stamped.From = c.clientID
	return c.publish(ctx, gameplay.ServerCallsChannel(c.instanceName), &stamped)
}

// CallOwningClient publishes msg on one client's calls channel.
func (c *Client) CallOwningClient(ctx context.Context, clientID string, msg *gameplay.Message) error {
	if c.role != gameplay.RoleServer {
		return replication.ErrWrongDirection
	}
	if clientID == "" {
		return fmt.Errorf("client id cannot be empty")
	}
	return c.publish(ctx, gameplay.ClientCallsChannel(c.instanceName, clientID), msg)
}

// BroadcastAllClients publishes msg on the broadcast channel.
func (c *Client) BroadcastAllClients(ctx context.Context, msg *gameplay.Message) error {
	if c.role != gameplay.RoleServer {
		return replication.ErrWrongDirection
	}
	return c.publish(ctx, gameplay.BroadcastChannel(c.instanceName), msg)
}

func (c *Client) publish(ctx context.Context, channel string, msg *gameplay.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Kind, err)
	}
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s message: %w", msg.Kind, err)
	}
	return nil
}

// SaveState writes an authoritative activity state and adds it to the index.
// Writing the same state twice is safe.
func (c *Client) SaveState(ctx context.Context, state *gameplay.ActivityState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid activity state: %w", err)
	}

	hash, err := gameplay.ActivityStateToHash(state)
	if err != nil {
		return fmt.Errorf("failed to serialize activity state: %w", err)
	}

	key := gameplay.ActivityKey(c.instanceName, state.ID.String())
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, hash)
		pipe.SAdd(ctx, gameplay.ActivityIndexKey(c.instanceName), state.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write activity state to Redis: %w", err)
	}
	return nil
}

// DeleteState removes an activity state and its index entry.
func (c *Client) DeleteState(ctx context.Context, id uuid.UUID) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, gameplay.ActivityKey(c.instanceName, id.String()))
		pipe.SRem(ctx, gameplay.ActivityIndexKey(c.instanceName), id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete activity state from Redis: %w", err)
	}
	return nil
}

// GetState retrieves one activity state.
// Returns (nil, redis.Nil) if it doesn't exist; use IsNotFound to check.
func (c *Client) GetState(ctx context.Context, id uuid.UUID) (*gameplay.ActivityState, error) {
	hashData, err := c.rdb.HGetAll(ctx, gameplay.ActivityKey(c.instanceName, id.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity state from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	state, err := gameplay.HashToActivityState(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize activity state: %w", err)
	}
	return state, nil
}

// LoadStates returns every stored state ordered by activation time, then id.
// Index entries whose hash has gone are skipped.
func (c *Client) LoadStates(ctx context.Context) ([]gameplay.ActivityState, error) {
	ids, err := c.rdb.SMembers(ctx, gameplay.ActivityIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity index: %w", err)
	}

	states := make([]gameplay.ActivityState, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.logger.WithField("id", raw).Warn("skipping malformed activity index entry")
			continue
		}
		state, err := c.GetState(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}

	sort.Slice(states, func(i, j int) bool {
		if states[i].ActivationTimestamp != states[j].ActivationTimestamp {
			return states[i].ActivationTimestamp < states[j].ActivationTimestamp
		}
		return states[i].ID.String() < states[j].ID.String()
	})
	return states, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
