package gameplay

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type swing struct {
	Damage int `json:"damage"`
}

func TestPayload(t *testing.T) {
	t.Run("decodes matching type", func(t *testing.T) {
		p, err := NewPayload("melee.swing", swing{Damage: 12})
		require.NoError(t, err)

		var out swing
		require.NoError(t, p.Decode("melee.swing", &out))
		assert.Equal(t, 12, out.Damage)
	})

	t.Run("rejects mismatched type", func(t *testing.T) {
		p := MustPayload("melee.swing", swing{Damage: 1})

		var out swing
		err := p.Decode("ranged.shot", &out)
		assert.ErrorIs(t, err, ErrPayloadType)
	})

	t.Run("empty payload", func(t *testing.T) {
		assert.True(t, Payload{}.IsZero())
		assert.False(t, MustPayload("x", 1).IsZero())
	})

	t.Run("requires type name", func(t *testing.T) {
		_, err := NewPayload("", 1)
		assert.Error(t, err)
	})

	t.Run("clone does not share bytes", func(t *testing.T) {
		p := MustPayload("x", swing{Damage: 3})
		c := p.Clone()
		c.Data[0] = ' '
		assert.False(t, p.Equal(c))
	})
}

func TestEventEnvelopeValidate(t *testing.T) {
	valid := EventEnvelope{
		ID:       uuid.New(),
		EventTag: "Event.Hit",
		Sender:   &EntityRef{ID: "player-1", Owner: "client-1"},
	}

	t.Run("valid envelope", func(t *testing.T) {
		env := valid
		assert.NoError(t, env.Validate())
	})

	t.Run("nil id", func(t *testing.T) {
		env := valid
		env.ID = uuid.Nil
		assert.Error(t, env.Validate())
	})

	t.Run("bad domain tag", func(t *testing.T) {
		env := valid
		env.DomainTag = "Domain..Bad"
		err := env.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid domain tag")
	})

	t.Run("sender without id", func(t *testing.T) {
		env := valid
		env.Sender = &EntityRef{}
		assert.Error(t, env.Validate())
	})
}

func TestPolicyValidate(t *testing.T) {
	for _, p := range []ReplicationPolicy{NoReplication, ClientToServer, ServerToClient,
		ServerToClientPredicted, ServerToAll, ServerToAllPredicted} {
		assert.NoError(t, p.Validate())
	}
	assert.Error(t, ReplicationPolicy("sideways").Validate())

	for _, p := range []ActivationPolicy{LocalOnly, ClientOnly, ServerOnly, ClientPredicted,
		ServerInitiatedFromClient, ServerInitiated} {
		assert.NoError(t, p.Validate())
	}
	assert.Error(t, ActivationPolicy("whenever").Validate())

	assert.True(t, ClientPredicted.Replicated())
	assert.True(t, ClientPredicted.Predicted())
	assert.True(t, ServerInitiatedFromClient.Replicated())
	assert.False(t, ServerInitiatedFromClient.Predicted())
	assert.False(t, LocalOnly.Replicated())
	assert.False(t, ServerOnly.Replicated())
}

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		from     Status
		to       Status
		expected bool
	}{
		{StatusPreActivation, StatusActivationSuccess, true},
		{StatusPreActivation, StatusActivationFailed, true},
		{StatusPreActivation, StatusEnded, false},
		{StatusActivationSuccess, StatusEnded, true},
		{StatusActivationSuccess, StatusCancelled, true},
		{StatusActivationSuccess, StatusActivationFailed, false},
		{StatusActivationFailed, StatusActivationSuccess, false},
		{StatusEnded, StatusCancelled, false},
		{StatusCancelled, StatusEnded, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.from.CanTransition(tc.to))
		})
	}

	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusActivationSuccess.IsTerminal())
	assert.True(t, StatusActivationSuccess.IsActive())
}

func TestActivityStateValidate(t *testing.T) {
	newState := func() ActivityState {
		return ActivityState{
			ID:               uuid.New(),
			Class:            "Ability.Melee.Heavy",
			Status:           StatusActivationSuccess,
			ActivationPolicy: ClientPredicted,
			SnapshotHistory: []Snapshot{
				{SequenceNumber: 1, StateTag: "State.Windup"},
				{SequenceNumber: 2, StateTag: "State.Strike"},
			},
		}
	}

	t.Run("valid state", func(t *testing.T) {
		state := newState()
		assert.NoError(t, state.Validate())
	})

	t.Run("non increasing sequence", func(t *testing.T) {
		state := newState()
		state.SnapshotHistory[1].SequenceNumber = 1
		err := state.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not increasing")
	})

	t.Run("zero sequence", func(t *testing.T) {
		state := newState()
		state.SnapshotHistory[0].SequenceNumber = 0
		assert.Error(t, state.Validate())
	})

	t.Run("unknown status", func(t *testing.T) {
		state := newState()
		state.Status = "sleeping"
		assert.Error(t, state.Validate())
	})

	t.Run("latest snapshot", func(t *testing.T) {
		state := newState()
		latest, ok := state.LatestSnapshot()
		require.True(t, ok)
		assert.Equal(t, uint32(2), latest.SequenceNumber)

		empty := ActivityState{}
		_, ok = empty.LatestSnapshot()
		assert.False(t, ok)
	})

	t.Run("clone is deep", func(t *testing.T) {
		state := newState()
		state.Instigator = &EntityRef{ID: "p1"}
		clone := state.Clone()
		clone.SnapshotHistory[0].Resolved = true
		clone.Instigator.ID = "p2"

		assert.False(t, state.SnapshotHistory[0].Resolved)
		assert.Equal(t, "p1", state.Instigator.ID)
	})
}

func TestMessageValidate(t *testing.T) {
	t.Run("event message needs envelope and policy", func(t *testing.T) {
		msg := Message{Kind: MessageEvent}
		assert.Error(t, msg.Validate())

		msg.Event = &EventEnvelope{ID: uuid.New(), EventTag: "Event.Hit"}
		assert.Error(t, msg.Validate())

		msg.Policy = ServerToAll
		assert.NoError(t, msg.Validate())
	})

	t.Run("activate message needs id and class", func(t *testing.T) {
		msg := Message{Kind: MessageActivate, Activation: &ActivationRequest{
			Class:  "Ability.Dash",
			Policy: ClientPredicted,
		}}
		assert.Error(t, msg.Validate())

		msg.Activation.ActivityID = uuid.New()
		assert.NoError(t, msg.Validate())
	})

	t.Run("cancel message needs id", func(t *testing.T) {
		msg := Message{Kind: MessageCancel, Cancel: &CancelRequest{}}
		assert.Error(t, msg.Validate())
	})

	t.Run("deltas must have known kinds", func(t *testing.T) {
		msg := Message{Kind: MessageDeltas, Deltas: []Delta{{Kind: "moved"}}}
		assert.Error(t, msg.Validate())
	})

	t.Run("unknown kind", func(t *testing.T) {
		msg := Message{Kind: "gossip"}
		assert.Error(t, msg.Validate())
	})
}
