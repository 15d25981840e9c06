// Package node wires the components of one participant (server or client) and
// runs them on a single goroutine.
//
// None of the components are safe for concurrent use. Run owns them: inbound
// messages, ticks and work submitted through Do all execute on its goroutine.
// Tests and simulations that drive a node directly call HandleMessage and Tick
// from one goroutine instead of calling Run.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/activity"
	"github.com/dyluth/augur/internal/entity"
	"github.com/dyluth/augur/internal/eventbus"
	"github.com/dyluth/augur/internal/reconcile"
	"github.com/dyluth/augur/internal/replication"
	"github.com/dyluth/augur/internal/snapshot"
	"github.com/dyluth/augur/pkg/gameplay"
)

// StateStore persists the authoritative collection for late joiners.
type StateStore interface {
	SaveState(ctx context.Context, state *gameplay.ActivityState) error
	DeleteState(ctx context.Context, id uuid.UUID) error
	LoadStates(ctx context.Context) ([]gameplay.ActivityState, error)
}

// Config describes one node.
type Config struct {
	Role      gameplay.Role
	ClientID  string // Required on a client
	Catalog   *activity.Catalog
	Transport replication.Transport

	// Optional
	Clock        activity.Clock // Defaults to a wall clock started at New
	HistoryLimit int            // Defaults to snapshot.DefaultHistoryLimit
	Retention    float64        // Seconds a finished activity is kept; 0 keeps it forever
	States       StateStore
	Logger       logrus.FieldLogger
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if err := c.Role.Validate(); err != nil {
		return err
	}
	if c.Role == gameplay.RoleClient && c.ClientID == "" {
		return fmt.Errorf("client id is required for a client node")
	}
	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if c.Transport == nil {
		return fmt.Errorf("transport is required")
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention cannot be negative")
	}
	return nil
}

// Node is one participant's context object.
type Node struct {
	Entities   *entity.Registry
	Bus        *eventbus.Bus
	Dispatcher *replication.Dispatcher
	Store      *snapshot.Store
	Runtime    *activity.Runtime
	Reconciler *reconcile.Engine

	role      gameplay.Role
	states    StateStore
	retention float64
	work      chan func()
	logger    logrus.FieldLogger
}

// New builds a node from cfg.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = activity.WallClock(time.Now())
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = snapshot.DefaultHistoryLimit
	}
	clientID := cfg.ClientID
	if cfg.Role == gameplay.RoleServer {
		clientID = ""
	}

	entities := entity.NewRegistry()
	bus := eventbus.New(entities, logger)
	dispatcher := replication.New(bus, cfg.Transport, cfg.Role, clientID, logger)
	store := snapshot.NewStore(cfg.Role, limit)
	runtime := activity.NewRuntime(cfg.Catalog, store, dispatcher, clock, logger)

	fields := logrus.Fields{"component": "node", "role": string(cfg.Role)}
	if clientID != "" {
		fields["client_id"] = clientID
	}

	return &Node{
		Entities:   entities,
		Bus:        bus,
		Dispatcher: dispatcher,
		Store:      store,
		Runtime:    runtime,
		Reconciler: reconcile.New(runtime, logger),
		role:       cfg.Role,
		states:     cfg.States,
		retention:  cfg.Retention,
		work:       make(chan func()),
		logger:     logger.WithFields(fields),
	}, nil
}

// Role returns the node role.
func (n *Node) Role() gameplay.Role { return n.role }

// HandleMessage routes one inbound message to the component that owns its kind.
func (n *Node) HandleMessage(ctx context.Context, msg *gameplay.Message) {
	if err := msg.Validate(); err != nil {
		n.logger.WithError(err).WithField("from", msg.From).Warn("dropping invalid message")
		return
	}

	switch msg.Kind {
	case gameplay.MessageEvent:
		n.Dispatcher.HandleInbound(ctx, msg)
	case gameplay.MessageActivate:
		n.Runtime.HandleActivate(ctx, msg)
	case gameplay.MessageCancel:
		n.Runtime.HandleCancel(ctx, msg)
	case gameplay.MessageDeltas:
		if n.role != gameplay.RoleClient {
			n.logger.WithField("from", msg.From).Warn("server received a deltas message")
			return
		}
		n.Store.Authoritative().Apply(msg.Deltas)
	}
}

// Flush sends the authoritative deltas recorded since the last flush to every
// client and mirrors them into the state store. It is a no-op on a client.
func (n *Node) Flush(ctx context.Context) error {
	if n.role != gameplay.RoleServer {
		return nil
	}
	deltas := n.Store.Authoritative().Flush()
	if len(deltas) == 0 {
		return nil
	}

	var errs []error
	if n.states != nil {
		for i := range deltas {
			d := &deltas[i]
			var err error
			if d.Kind == gameplay.DeltaRemoved {
				err = n.states.DeleteState(ctx, d.State.ID)
			} else {
				err = n.states.SaveState(ctx, &d.State)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to persist %s delta for %s: %w", d.Kind, d.State.ID, err))
			}
		}
	}

	msg := &gameplay.Message{ID: uuid.New(), Kind: gameplay.MessageDeltas, Deltas: deltas}
	if err := n.Dispatcher.Transport().BroadcastAllClients(ctx, msg); err != nil {
		errs = append(errs, fmt.Errorf("failed to broadcast deltas: %w", err))
	}

	n.logger.WithField("deltas", len(deltas)).Debug("flushed authoritative deltas")
	return errors.Join(errs...)
}

// Join loads the persisted authoritative collection into a client's mirror, as
// if each state had just been added. It is a no-op without a state store.
func (n *Node) Join(ctx context.Context) error {
	if n.role != gameplay.RoleClient || n.states == nil {
		return nil
	}
	states, err := n.states.LoadStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load authoritative states: %w", err)
	}

	mirror := n.Store.Authoritative()
	deltas := make([]gameplay.Delta, 0, len(states))
	for _, state := range states {
		if _, known := mirror.Get(state.ID); known {
			continue
		}
		deltas = append(deltas, gameplay.Delta{Kind: gameplay.DeltaAdded, State: state})
	}
	mirror.Apply(deltas)

	n.logger.WithField("states", len(deltas)).Info("joined")
	return nil
}

// Tick advances behaviours by dt seconds, prunes finished activities and, on
// the server, flushes deltas.
func (n *Node) Tick(ctx context.Context, dt float64) error {
	n.Runtime.Tick(dt)
	if n.retention > 0 {
		if pruned := n.Runtime.Prune(n.retention); pruned > 0 {
			n.logger.WithField("pruned", pruned).Debug("pruned finished activities")
		}
	}
	return n.Flush(ctx)
}

// Do runs fn on the Run goroutine and waits for it to finish. It returns
// ctx.Err() if ctx ends first. Do must not be called from the Run goroutine.
func (n *Node) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case n.work <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes inbound messages, ticks every tickInterval and work from Do,
// until ctx is cancelled or inbound is closed.
func (n *Node) Run(ctx context.Context, inbound <-chan *gameplay.Message, tickInterval time.Duration) error {
	if tickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	dt := tickInterval.Seconds()

	n.logger.WithField("tick_interval", tickInterval.String()).Info("node running")

	for {
		select {
		case <-ctx.Done():
			log := n.logger
			if pending := n.Store.Authoritative().PendingDeltas(); n.role == gameplay.RoleServer && pending > 0 {
				log = log.WithField("unflushed", pending)
			}
			log.Info("node shutting down")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				n.logger.Info("inbound closed")
				return nil
			}
			n.HandleMessage(ctx, msg)

		case <-ticker.C:
			if err := n.Tick(ctx, dt); err != nil {
				// Transport failures are not fatal; the next flush carries on.
				n.logger.WithError(err).Error("tick failed")
			}

		case fn := <-n.work:
			fn()
		}
	}
}
