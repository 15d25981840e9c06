package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/augur/internal/activity"
	"github.com/dyluth/augur/internal/entity"
	"github.com/dyluth/augur/internal/eventbus"
	"github.com/dyluth/augur/internal/replication"
	"github.com/dyluth/augur/internal/snapshot"
	"github.com/dyluth/augur/pkg/gameplay"
)

type discardTransport struct{}

func (discardTransport) CallServer(context.Context, *gameplay.Message) error { return nil }
func (discardTransport) CallOwningClient(context.Context, string, *gameplay.Message) error {
	return nil
}
func (discardTransport) BroadcastAllClients(context.Context, *gameplay.Message) error { return nil }

type callbackCounter struct {
	activity.BaseBehaviour
	cancelled int
	ended     int
}

func (p *callbackCounter) OnCancel(gameplay.Status, gameplay.Payload) { p.cancelled++ }
func (p *callbackCounter) OnEnd(gameplay.Status, gameplay.Payload)    { p.ended++ }

type client struct {
	runtime  *activity.Runtime
	clock    *activity.ManualClock
	engine   *Engine
	mirror   *snapshot.Collection
	counters []*callbackCounter
	matches  []Match
}

const (
	meleeClass   gameplay.Tag = "Ability.Melee.Heavy"
	channelClass gameplay.Tag = "Ability.Channel"
)

var channeler = &gameplay.EntityRef{ID: "player-1", Owner: "client-1"}

func newClient(t *testing.T, role gameplay.Role) *client {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	c := &client{}

	catalog := activity.NewCatalog()
	require.NoError(t, catalog.Register(activity.Class{
		Name:             meleeClass,
		ActivationPolicy: gameplay.ClientPredicted,
		NewBehaviour: func() activity.Behaviour {
			p := &callbackCounter{}
			c.counters = append(c.counters, p)
			return p
		},
	}))
	require.NoError(t, catalog.Register(activity.Class{
		Name:             channelClass,
		ActivationPolicy: gameplay.ClientPredicted,
		InstancePolicy:   activity.SingleInstanceCancellable,
		Cooldown:         2 * time.Second,
		NewBehaviour: func() activity.Behaviour {
			p := &callbackCounter{}
			c.counters = append(c.counters, p)
			return p
		},
	}))

	bus := eventbus.New(entity.NewRegistry(), logger)
	clientID := "client-1"
	if role == gameplay.RoleServer {
		clientID = ""
	}
	dispatcher := replication.New(bus, discardTransport{}, role, clientID, logger)
	c.clock = &activity.ManualClock{}
	c.runtime = activity.NewRuntime(catalog, snapshot.NewStore(role, 16), dispatcher, c.clock, logger)
	c.engine = New(c.runtime, logger)
	c.mirror = c.runtime.Store().Authoritative()

	require.True(t, c.engine.RegisterResolver("Ability.Melee", Resolution{
		Func: func(m Match) { c.matches = append(c.matches, m) },
	}))
	return c
}

// predict seeds a predicted copy with the given snapshot tags, numbered from 1.
func (c *client) predict(t *testing.T, id uuid.UUID, tags ...gameplay.Tag) {
	t.Helper()
	state := gameplay.ActivityState{
		ID:               id,
		Class:            meleeClass,
		Status:           gameplay.StatusActivationSuccess,
		ActivationPolicy: gameplay.ClientPredicted,
	}
	for i, tag := range tags {
		state.SnapshotHistory = append(state.SnapshotHistory, gameplay.Snapshot{
			SequenceNumber: uint32(i + 1),
			StateTag:       tag,
			StateData:      gameplay.MustPayload("predicted", i),
		})
	}
	require.NoError(t, c.runtime.Store().Local().Add(state))
}

func authState(id uuid.UUID, status gameplay.Status, snaps ...gameplay.Snapshot) gameplay.ActivityState {
	return gameplay.ActivityState{
		ID:               id,
		Class:            meleeClass,
		Status:           status,
		ActivationPolicy: gameplay.ClientPredicted,
		SnapshotHistory:  snaps,
	}
}

func snap(seq uint32, tag gameplay.Tag) gameplay.Snapshot {
	return gameplay.Snapshot{SequenceNumber: seq, StateTag: tag, StateData: gameplay.MustPayload("authoritative", seq)}
}

func local(t *testing.T, c *client, id uuid.UUID) *gameplay.ActivityState {
	t.Helper()
	state, ok := c.runtime.Store().Local().Get(id)
	require.True(t, ok)
	return state
}

func TestEngine_FastForwardUnknownActivity(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id := uuid.New()

	c.mirror.Apply([]gameplay.Delta{{
		Kind:  gameplay.DeltaAdded,
		State: authState(id, gameplay.StatusActivationSuccess, snap(1, "State.Windup")),
	}})

	state := local(t, c, id)
	assert.Equal(t, gameplay.StatusActivationSuccess, state.Status)
	assert.False(t, c.runtime.Running(id), "no behaviour side effects replayed")
	require.Len(t, state.SnapshotHistory, 1)
	assert.True(t, state.SnapshotHistory[0].Resolved)
	assert.Empty(t, c.matches)
	assert.Equal(t, 1, c.engine.Stats().FastForwarded)
}

func TestEngine_ExactMatchResolves(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id := uuid.New()
	c.predict(t, id, "State.Windup", "State.Strike")

	c.mirror.Apply([]gameplay.Delta{{
		Kind:  gameplay.DeltaAdded,
		State: authState(id, gameplay.StatusActivationSuccess, snap(1, "State.Windup")),
	}})

	require.Len(t, c.matches, 1)
	m := c.matches[0]
	assert.Equal(t, id, m.ActivityID)
	assert.Equal(t, gameplay.Tag("State.Windup"), m.Predicted.StateTag)
	assert.True(t, m.Authoritative.StateData.Is("authoritative"))
	assert.True(t, m.Predicted.StateData.Is("predicted"))

	state := local(t, c, id)
	assert.True(t, state.SnapshotHistory[0].Resolved)
	assert.False(t, state.SnapshotHistory[1].Resolved)
}

func TestEngine_TagOnlyFallbackOldestFirst(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id := uuid.New()
	c.predict(t, id, "State.Hit", "State.Miss", "State.Hit")

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded,
		State: authState(id, gameplay.StatusActivationSuccess, snap(7, "State.Hit"))}})
	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaChanged,
		State: authState(id, gameplay.StatusActivationSuccess, snap(7, "State.Hit"), snap(8, "State.Hit"))}})

	require.Len(t, c.matches, 2)
	assert.Equal(t, uint32(1), c.matches[0].Predicted.SequenceNumber, "oldest unresolved first")
	assert.Equal(t, uint32(3), c.matches[1].Predicted.SequenceNumber)

	state := local(t, c, id)
	assert.True(t, state.SnapshotHistory[0].Resolved)
	assert.False(t, state.SnapshotHistory[1].Resolved)
	assert.True(t, state.SnapshotHistory[2].Resolved)
}

func TestEngine_ExactMatchPreferredOverOlder(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id := uuid.New()
	c.predict(t, id, "State.Hit", "State.Hit")

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded,
		State: authState(id, gameplay.StatusActivationSuccess, snap(2, "State.Hit"))}})

	require.Len(t, c.matches, 1)
	assert.Equal(t, uint32(2), c.matches[0].Predicted.SequenceNumber)
}

func TestEngine_RepeatedChangeDoesNotResolveTwice(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id := uuid.New()
	c.predict(t, id, "State.Windup")

	delta := gameplay.Delta{Kind: gameplay.DeltaChanged,
		State: authState(id, gameplay.StatusActivationSuccess, snap(1, "State.Windup"))}
	c.mirror.Apply([]gameplay.Delta{delta})
	c.mirror.Apply([]gameplay.Delta{delta})

	assert.Len(t, c.matches, 1)
	assert.Len(t, local(t, c, id).SnapshotHistory, 1)
}

func TestEngine_AdoptsHistoryWhenNothingPredicted(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id := uuid.New()
	c.predict(t, id)

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaChanged,
		State: authState(id, gameplay.StatusActivationSuccess, snap(1, "State.A"), snap(2, "State.B"))}})

	state := local(t, c, id)
	require.Len(t, state.SnapshotHistory, 2)
	assert.Equal(t, gameplay.Tag("State.B"), state.SnapshotHistory[1].StateTag)
	assert.True(t, state.SnapshotHistory[1].Resolved)
	assert.Empty(t, c.matches)
	assert.Equal(t, 1, c.engine.Stats().Adopted)
}

func TestEngine_MissAppendsAuthoritativeSnapshot(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id := uuid.New()
	c.predict(t, id, "State.Windup", "State.Strike", "State.Recover")

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaChanged,
		State: authState(id, gameplay.StatusActivationSuccess, snap(2, "State.Parried"))}})

	state := local(t, c, id)
	require.Len(t, state.SnapshotHistory, 4)
	adopted := state.SnapshotHistory[3]
	assert.Equal(t, gameplay.Tag("State.Parried"), adopted.StateTag)
	assert.Equal(t, uint32(4), adopted.SequenceNumber, "renumbered after the local history")
	assert.True(t, adopted.Resolved)
	assert.Empty(t, c.matches)
	assert.Equal(t, 1, c.engine.Stats().Missed)
}

func TestEngine_AuthoritativeCancellationCancelsLocal(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id, ok := c.runtime.Activate(context.Background(), meleeClass, gameplay.Payload{}, nil, nil)
	require.True(t, ok)

	cancelled := authState(id, gameplay.StatusCancelled)
	cancelled.EndingContext = gameplay.MustPayload("reason", "stunned")
	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded, State: cancelled}})

	state := local(t, c, id)
	assert.Equal(t, gameplay.StatusCancelled, state.Status)
	assert.True(t, state.EndingContext.Is("reason"))
	require.Len(t, c.counters, 1)
	assert.Equal(t, 1, c.counters[0].cancelled)
	assert.Equal(t, 1, c.engine.Stats().Followed)
}

func TestEngine_ActivationFailedRollsBackPrediction(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id, ok := c.runtime.Activate(context.Background(), meleeClass, gameplay.Payload{}, nil, nil)
	require.True(t, ok)

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded, State: authState(id, gameplay.StatusActivationFailed)}})

	assert.Equal(t, gameplay.StatusCancelled, local(t, c, id).Status)
	assert.Equal(t, 1, c.counters[0].cancelled)
}

func TestEngine_AuthoritativeEndEndsLocal(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id, ok := c.runtime.Activate(context.Background(), meleeClass, gameplay.Payload{}, nil, nil)
	require.True(t, ok)

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded, State: authState(id, gameplay.StatusEnded)}})

	assert.Equal(t, gameplay.StatusEnded, local(t, c, id).Status)
	assert.Equal(t, 1, c.counters[0].ended)
}

func TestEngine_LocalCancellationWithoutReplacementIsKept(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id, ok := c.runtime.Activate(context.Background(), meleeClass, gameplay.Payload{}, nil, nil)
	require.True(t, ok)
	require.True(t, c.runtime.CancelLocal(id, gameplay.Payload{}))

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded, State: authState(id, gameplay.StatusActivationSuccess)}})

	assert.Equal(t, gameplay.StatusCancelled, local(t, c, id).Status)
}

// channel activates channelClass for channeler, then moves the clock past the cooldown.
func (c *client) channel(t *testing.T) uuid.UUID {
	t.Helper()
	id, ok := c.runtime.Activate(context.Background(), channelClass, gameplay.Payload{}, nil, channeler)
	require.True(t, ok)
	c.clock.Advance(3)
	return id
}

func channelState(id uuid.UUID, status gameplay.Status) gameplay.ActivityState {
	state := authState(id, status)
	state.Class = channelClass
	state.Instigator = channeler
	return state
}

func TestEngine_RefusedReplacementRestoresCancelledInstance(t *testing.T) {
	tests := []struct {
		name         string
		refusalFirst bool
	}{
		{"kept instance first", false},
		{"refusal first", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, gameplay.RoleClient)
			first := c.channel(t)
			second := c.channel(t)
			require.Equal(t, gameplay.StatusCancelled, local(t, c, first).Status, "replaced locally at once")

			kept := gameplay.Delta{Kind: gameplay.DeltaAdded, State: channelState(first, gameplay.StatusActivationSuccess)}
			refused := gameplay.Delta{Kind: gameplay.DeltaAdded, State: channelState(second, gameplay.StatusActivationFailed)}
			if tt.refusalFirst {
				c.mirror.Apply([]gameplay.Delta{refused})
				c.mirror.Apply([]gameplay.Delta{kept})
			} else {
				c.mirror.Apply([]gameplay.Delta{kept})
				c.mirror.Apply([]gameplay.Delta{refused})
			}

			restored := local(t, c, first)
			assert.Equal(t, gameplay.StatusActivationSuccess, restored.Status)
			assert.Zero(t, restored.EndTimestamp)
			assert.False(t, c.runtime.Running(first), "no behaviour side effects replayed")
			assert.Equal(t, gameplay.StatusCancelled, local(t, c, second).Status)

			stats := c.engine.Stats()
			assert.Equal(t, 1, stats.Restored)
			assert.Equal(t, 1, stats.Followed)
			require.Len(t, c.counters, 2)
			assert.Equal(t, 1, c.counters[0].cancelled, "the restored instance is not activated again")

			c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaChanged, State: channelState(first, gameplay.StatusEnded)}})
			assert.Equal(t, gameplay.StatusEnded, local(t, c, first).Status, "restored copy follows the server")
		})
	}
}

func TestEngine_AcceptedReplacementKeepsCancellation(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	first := c.channel(t)
	second := c.channel(t)

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded, State: channelState(first, gameplay.StatusActivationSuccess)}})
	assert.Equal(t, gameplay.StatusCancelled, local(t, c, first).Status, "server has not answered the replacement yet")

	c.mirror.Apply([]gameplay.Delta{
		{Kind: gameplay.DeltaAdded, State: channelState(second, gameplay.StatusActivationSuccess)},
		{Kind: gameplay.DeltaChanged, State: channelState(first, gameplay.StatusCancelled)},
	})

	assert.Equal(t, gameplay.StatusCancelled, local(t, c, first).Status)
	assert.Equal(t, gameplay.StatusActivationSuccess, local(t, c, second).Status)
	assert.Zero(t, c.engine.Stats().Restored)
}

func TestEngine_RefusedPredictionReleasesCooldown(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	ctx := context.Background()

	id, ok := c.runtime.Activate(ctx, channelClass, gameplay.Payload{}, nil, channeler)
	require.True(t, ok)
	_, ok = c.runtime.Activate(ctx, channelClass, gameplay.Payload{}, nil, channeler)
	require.False(t, ok, "cooldown applies to the prediction")

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded, State: channelState(id, gameplay.StatusActivationFailed)}})

	_, ok = c.runtime.Activate(ctx, channelClass, gameplay.Payload{}, nil, channeler)
	assert.True(t, ok, "a refused activation leaves no cooldown behind")
}

func TestEngine_RemoveForgetsLocal(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	id := uuid.New()
	c.predict(t, id, "State.Windup")
	state := authState(id, gameplay.StatusEnded)

	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded, State: state}})
	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaRemoved, State: state}})

	_, ok := c.runtime.Store().Local().Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, c.mirror.Len())
}

func TestEngine_Deterministic(t *testing.T) {
	id := uuid.New()
	deltas := [][]gameplay.Delta{
		{{Kind: gameplay.DeltaAdded, State: authState(id, gameplay.StatusActivationSuccess, snap(1, "State.Windup"))}},
		{{Kind: gameplay.DeltaChanged, State: authState(id, gameplay.StatusActivationSuccess, snap(1, "State.Windup"), snap(2, "State.Hit"))}},
		{{Kind: gameplay.DeltaChanged, State: authState(id, gameplay.StatusActivationSuccess, snap(1, "State.Windup"), snap(2, "State.Hit"), snap(3, "State.Hit"))}},
		{{Kind: gameplay.DeltaChanged, State: authState(id, gameplay.StatusCancelled, snap(1, "State.Windup"), snap(2, "State.Hit"), snap(3, "State.Hit"))}},
	}

	run := func() *client {
		c := newClient(t, gameplay.RoleClient)
		c.predict(t, id, "State.Windup", "State.Hit", "State.Recover", "State.Hit")
		for _, batch := range deltas {
			c.mirror.Apply(batch)
		}
		return c
	}

	a, b := run(), run()

	assert.Equal(t, a.matches, b.matches)
	assert.Equal(t, *local(t, a, id), *local(t, b, id))
	assert.Equal(t, a.engine.Stats(), b.engine.Stats())
	require.Len(t, a.matches, 3)
	assert.Equal(t, uint32(4), a.matches[2].Predicted.SequenceNumber, "third match falls back to the remaining Hit")
}

type countingResolver struct{ calls int }

func (r *countingResolver) Resolve(Match) { r.calls++ }

func TestEngine_RegisterResolver(t *testing.T) {
	c := newClient(t, gameplay.RoleClient)
	r := &countingResolver{}

	assert.False(t, c.engine.RegisterResolver(meleeClass, Resolution{}), "neither form")
	assert.False(t, c.engine.RegisterResolver(meleeClass, Resolution{Func: func(Match) {}, Resolver: r}), "both forms")
	assert.False(t, c.engine.RegisterResolver("", Resolution{Resolver: r}))

	// The exact class wins over the parent registered by newClient.
	require.True(t, c.engine.RegisterResolver(meleeClass, Resolution{Resolver: r}))

	id := uuid.New()
	c.predict(t, id, "State.Windup")
	c.mirror.Apply([]gameplay.Delta{{Kind: gameplay.DeltaAdded,
		State: authState(id, gameplay.StatusActivationSuccess, snap(1, "State.Windup"))}})

	assert.Equal(t, 1, r.calls)
	assert.Empty(t, c.matches)
}

func TestEngine_InertOnServer(t *testing.T) {
	c := newClient(t, gameplay.RoleServer)
	id := uuid.New()

	require.NoError(t, c.mirror.Add(authState(id, gameplay.StatusActivationSuccess, snap(1, "State.A"))))

	assert.Equal(t, 0, c.runtime.Store().Local().Len())
	assert.Equal(t, Stats{}, c.engine.Stats())
}
