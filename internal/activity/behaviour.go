// Package activity runs activity instances through their lifecycle:
// PreActivation -> ActivationSuccess -> Ended | Cancelled, or
// PreActivation -> ActivationFailed.
//
// Where an activation executes depends on its ActivationPolicy and the node role.
// Business logic plugs in through Behaviour; the runtime owns all bookkeeping.
package activity

import (
	"github.com/google/uuid"

	"github.com/dyluth/augur/pkg/gameplay"
)

// ActivationContext is handed to a Behaviour for the lifetime of one instance.
type ActivationContext struct {
	ActivityID uuid.UUID
	Class      gameplay.Tag
	Policy     gameplay.ActivationPolicy
	Role       gameplay.Role
	Payload    gameplay.Payload
	Instigator *gameplay.EntityRef

	// Authority is true when this node's copy is the source of truth.
	Authority bool
	// Predicted is true for a client copy that the server will reconcile.
	Predicted bool

	Runtime *Runtime
}

// Behaviour is the business logic of an activity class. One value is created
// per activation.
type Behaviour interface {
	// CanActivate gates activation. Returning false rejects it without side effects.
	CanActivate(ac *ActivationContext) bool
	// OnActivate runs once when the instance becomes active.
	OnActivate(ac *ActivationContext)
	// OnTick advances an active instance by dt seconds.
	OnTick(dt float64)
	// OnEnd runs when the instance ends normally.
	OnEnd(status gameplay.Status, ending gameplay.Payload)
	// OnCancel runs when the instance is interrupted or its prediction is rolled back.
	OnCancel(status gameplay.Status, ending gameplay.Payload)
}

// BaseBehaviour implements Behaviour with no-ops and always allows activation.
// Embed it to implement only the hooks you need.
type BaseBehaviour struct{}

func (BaseBehaviour) CanActivate(*ActivationContext) bool { return true }
func (BaseBehaviour) OnActivate(*ActivationContext) {}
func (BaseBehaviour) OnTick(float64) {}
func (BaseBehaviour) OnEnd(gameplay.Status, gameplay.Payload) {}
func (BaseBehaviour) OnCancel(gameplay.Status, gameplay.Payload) {}
