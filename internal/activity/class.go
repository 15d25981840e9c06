package activity

import (
	"fmt"
	"sort"
	"time"

	"github.com/dyluth/augur/pkg/gameplay"
)

// InstancePolicy decides what happens when a class is activated while an
// instance of it is already running for the same instigator.
type InstancePolicy string

const (
	// MultipleInstances lets instances run side by side.
	MultipleInstances InstancePolicy = "multiple_instances"

	// SingleInstanceCancellable cancels the running instance, then activates.
	SingleInstanceCancellable InstancePolicy = "single_instance_cancellable"

	// SingleInstanceNonCancellable rejects the new activation.
	SingleInstanceNonCancellable InstancePolicy = "single_instance_non_cancellable"
)

// Validate checks if the InstancePolicy is a valid enum value.
func (p InstancePolicy) Validate() error {
	switch p {
	case MultipleInstances, SingleInstanceCancellable, SingleInstanceNonCancellable:
		return nil
	default:
		return fmt.Errorf("unknown instance policy: %q", p)
	}
}

// Class describes one kind of activity.
type Class struct {
	Name             gameplay.Tag
	ActivationPolicy gameplay.ActivationPolicy
	InstancePolicy   InstancePolicy
	Cooldown         time.Duration
	HistoryLimit     int // 0 uses the store default
	NewBehaviour     func() Behaviour
}

// Validate checks the class definition.
func (c *Class) Validate() error {
	if err := c.Name.Validate(); err != nil {
		return fmt.Errorf("invalid class name: %w", err)
	}
	if err := c.ActivationPolicy.Validate(); err != nil {
		return fmt.Errorf("class %s: %w", c.Name, err)
	}
	if c.InstancePolicy != "" {
		if err := c.InstancePolicy.Validate(); err != nil {
			return fmt.Errorf("class %s: %w", c.Name, err)
		}
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("class %s: cooldown cannot be negative", c.Name)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("class %s: history limit cannot be negative", c.Name)
	}
	return nil
}

func (c *Class) instancePolicy() InstancePolicy {
	if c.InstancePolicy == "" {
		return MultipleInstances
	}
	return c.InstancePolicy
}

func (c *Class) behaviour() Behaviour {
	if c.NewBehaviour == nil {
		return BaseBehaviour{}
	}
	if b := c.NewBehaviour(); b != nil {
		return b
	}
	return BaseBehaviour{}
}

// Catalog maps class names to definitions.
type Catalog struct {
	classes map[gameplay.Tag]*Class
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{classes: make(map[gameplay.Tag]*Class)}
}

// Register adds a class. Names must be unique.
func (c *Catalog) Register(class Class) error {
	if err := class.Validate(); err != nil {
		return err
	}
	if _, exists := c.classes[class.Name]; exists {
		return fmt.Errorf("class %s already registered", class.Name)
	}
	c.classes[class.Name] = &class
	return nil
}

// Get returns a class by name.
func (c *Catalog) Get(name gameplay.Tag) (*Class, bool) {
	class, ok := c.classes[name]
	return class, ok
}

// SetBehaviour installs the behaviour factory of a registered class.
func (c *Catalog) SetBehaviour(name gameplay.Tag, factory func() Behaviour) error {
	class, ok := c.classes[name]
	if !ok {
		return fmt.Errorf("class %s not registered", name)
	}
	class.NewBehaviour = factory
	return nil
}

// Names returns the registered class names in lexical order.
func (c *Catalog) Names() []gameplay.Tag {
	names := make([]gameplay.Tag, 0, len(c.classes))
	for name := range c.classes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
