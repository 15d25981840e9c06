package activity

import (
	"context"

	"github.com/google/uuid"

	"github.com/dyluth/augur/pkg/gameplay"
)

// Lifecycle event tags published on the local bus. The domain tag of each
// event is the activity class, so listeners can filter by class prefix.
var (
	LifecycleActivated = gameplay.MustTag("Activity.Lifecycle.Activated")
	LifecycleEnded     = gameplay.MustTag("Activity.Lifecycle.Ended")
	LifecycleCancelled = gameplay.MustTag("Activity.Lifecycle.Cancelled")
	LifecycleFailed    = gameplay.MustTag("Activity.Lifecycle.Failed")
)

// LifecyclePayloadType is the payload type of lifecycle events.
const LifecyclePayloadType = "activity.lifecycle"

// Lifecycle is the payload of lifecycle events.
type Lifecycle struct {
	ActivityID uuid.UUID       `json:"activity_id"`
	Class      gameplay.Tag    `json:"class"`
	Status     gameplay.Status `json:"status"`
	Authority  bool            `json:"authority"`
	Timestamp  float64         `json:"timestamp"`
}

func lifecycleTag(status gameplay.Status) gameplay.Tag {
	switch status {
	case gameplay.StatusActivationSuccess:
		return LifecycleActivated
	case gameplay.StatusEnded:
		return LifecycleEnded
	case gameplay.StatusCancelled:
		return LifecycleCancelled
	default:
		return LifecycleFailed
	}
}

// announce publishes a lifecycle event on this node only.
func (r *Runtime) announce(ctx context.Context, state *gameplay.ActivityState, authority bool) {
	payload, err := gameplay.NewPayload(LifecyclePayloadType, Lifecycle{
		ActivityID: state.ID,
		Class:      state.Class,
		Status:     state.Status,
		Authority:  authority,
		Timestamp:  r.clock.Now(),
	})
	if err != nil {
		r.logger.WithError(err).Error("failed to encode lifecycle event")
		return
	}
	r.dispatcher.Send(ctx, lifecycleTag(state.Status), state.Class, payload, state.Instigator, gameplay.NoReplication)
}
