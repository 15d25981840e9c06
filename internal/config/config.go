package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/augur/internal/activity"
	"github.com/dyluth/augur/pkg/gameplay"
)

// CatalogConfig represents the top-level activity catalog file (augur.yml)
type CatalogConfig struct {
	Version      string                    `yaml:"version"`
	HistoryLimit int                       `yaml:"history_limit,omitempty"` // Default snapshot history cap for every class
	Tags         []string                  `yaml:"tags,omitempty"`          // Extra tags to intern up front (state tags, event tags)
	Activities   map[string]ActivityConfig `yaml:"activities"`
}

// ActivityConfig represents a single activity class
type ActivityConfig struct {
	ActivationPolicy string `yaml:"activation_policy"`
	InstancePolicy   string `yaml:"instance_policy,omitempty"` // Default: multiple_instances
	Cooldown         string `yaml:"cooldown,omitempty"`        // Go duration, e.g. "1.5s"
	HistoryLimit     int    `yaml:"history_limit,omitempty"`   // Overrides the catalog default
}

// ValidationError reports the first problem found in a catalog.
type ValidationError struct {
	Activity string // Empty for catalog-level problems
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Activity == "" {
		return e.Reason
	}
	return fmt.Sprintf("activity '%s': %s", e.Activity, e.Reason)
}

// Validate performs strict validation on the catalog
func (c *CatalogConfig) Validate() error {
	if c.Version != "1.0" {
		return &ValidationError{Reason: fmt.Sprintf("unsupported version: %s (expected: 1.0)", c.Version)}
	}

	if len(c.Activities) == 0 {
		return &ValidationError{Reason: "no activities defined"}
	}

	if c.HistoryLimit < 0 {
		return &ValidationError{Reason: fmt.Sprintf("history_limit must be >= 0, got %d", c.HistoryLimit)}
	}

	for _, tag := range c.Tags {
		if err := gameplay.Tag(tag).Validate(); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("invalid tag %q: %v", tag, err)}
		}
	}

	// Validate in name order so the reported error is stable.
	for _, name := range c.activityNames() {
		a := c.Activities[name]
		if err := a.Validate(name); err != nil {
			return err
		}
	}

	return nil
}

// Validate performs validation on a single activity configuration
func (a *ActivityConfig) Validate(name string) error {
	if err := gameplay.Tag(name).Validate(); err != nil {
		return &ValidationError{Activity: name, Reason: fmt.Sprintf("invalid class name: %v", err)}
	}

	if a.ActivationPolicy == "" {
		return &ValidationError{Activity: name, Reason: "activation_policy is required"}
	}
	if err := gameplay.ActivationPolicy(a.ActivationPolicy).Validate(); err != nil {
		return &ValidationError{Activity: name, Reason: err.Error()}
	}

	if a.InstancePolicy != "" {
		if err := activity.InstancePolicy(a.InstancePolicy).Validate(); err != nil {
			return &ValidationError{Activity: name, Reason: err.Error()}
		}
	}

	if _, err := a.cooldown(); err != nil {
		return &ValidationError{Activity: name, Reason: err.Error()}
	}

	if a.HistoryLimit < 0 {
		return &ValidationError{Activity: name, Reason: fmt.Sprintf("history_limit must be >= 0, got %d", a.HistoryLimit)}
	}

	return nil
}

func (a *ActivityConfig) cooldown() (time.Duration, error) {
	if a.Cooldown == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(a.Cooldown)
	if err != nil {
		return 0, fmt.Errorf("invalid cooldown %q: %w", a.Cooldown, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("cooldown cannot be negative: %s", a.Cooldown)
	}
	return d, nil
}

func (c *CatalogConfig) activityNames() []string {
	names := make([]string, 0, len(c.Activities))
	for name := range c.Activities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build interns the declared tags and registers every activity class.
// Behaviours are attached afterwards with Catalog.SetBehaviour.
func (c *CatalogConfig) Build() (*activity.Catalog, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	for _, tag := range c.Tags {
		if _, err := gameplay.RequestTag(tag); err != nil {
			return nil, fmt.Errorf("failed to register tag %q: %w", tag, err)
		}
	}

	catalog := activity.NewCatalog()
	for _, name := range c.activityNames() {
		a := c.Activities[name]
		class, err := gameplay.RequestTag(name)
		if err != nil {
			return nil, fmt.Errorf("failed to register class %q: %w", name, err)
		}
		cooldown, _ := a.cooldown()
		limit := a.HistoryLimit
		if limit == 0 {
			limit = c.HistoryLimit
		}

		if err := catalog.Register(activity.Class{
			Name:             class,
			ActivationPolicy: gameplay.ActivationPolicy(a.ActivationPolicy),
			InstancePolicy:   activity.InstancePolicy(a.InstancePolicy),
			Cooldown:         cooldown,
			HistoryLimit:     limit,
		}); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*CatalogConfig, error) {
	var config CatalogConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Load reads and validates a catalog from the specified path
func Load(path string) (*CatalogConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}
