package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/augur/internal/activity"
	"github.com/dyluth/augur/pkg/gameplay"
)

const validCatalog = `version: "1.0"
history_limit: 16
tags:
  - State.Windup
  - State.Strike
activities:
  Ability.Melee.Heavy:
    activation_policy: client_predicted
    instance_policy: single_instance_cancellable
    cooldown: 1.5s
    history_limit: 8
  Modifier.Burning:
    activation_policy: server_initiated
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "augur.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func validConfig() *CatalogConfig {
	return &CatalogConfig{
		Version: "1.0",
		Activities: map[string]ActivityConfig{
			"Ability.Dash": {ActivationPolicy: "client_predicted"},
		},
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	config, err := Load(writeCatalog(t, validCatalog))
	require.NoError(t, err)

	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, 16, config.HistoryLimit)
	assert.Equal(t, []string{"State.Windup", "State.Strike"}, config.Tags)
	require.Len(t, config.Activities, 2)
	heavy := config.Activities["Ability.Melee.Heavy"]
	assert.Equal(t, "client_predicted", heavy.ActivationPolicy)
	assert.Equal(t, "1.5s", heavy.Cooldown)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/augur.yml")
	assert.Nil(t, config)
	assert.ErrorContains(t, err, "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	invalidYAML := `version: "1.0"
activities:
  - this is invalid
    yaml syntax
`
	config, err := Load(writeCatalog(t, invalidYAML))
	assert.Nil(t, config)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	config, err := Load(writeCatalog(t, `version: "1.0"`))
	assert.Nil(t, config)
	assert.ErrorContains(t, err, "invalid configuration: no activities defined")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*CatalogConfig)
		activity string
		errMsg   string
	}{
		{
			name:   "unsupported version",
			mutate: func(c *CatalogConfig) { c.Version = "2.0" },
			errMsg: "unsupported version: 2.0",
		},
		{
			name:   "no activities",
			mutate: func(c *CatalogConfig) { c.Activities = nil },
			errMsg: "no activities defined",
		},
		{
			name:   "negative history limit",
			mutate: func(c *CatalogConfig) { c.HistoryLimit = -1 },
			errMsg: "history_limit must be >= 0",
		},
		{
			name:   "invalid tag",
			mutate: func(c *CatalogConfig) { c.Tags = []string{"State..Windup"} },
			errMsg: "invalid tag",
		},
		{
			name: "invalid class name",
			mutate: func(c *CatalogConfig) {
				c.Activities[".Bad"] = ActivityConfig{ActivationPolicy: "local_only"}
			},
			activity: ".Bad",
			errMsg:   "invalid class name",
		},
		{
			name: "missing activation policy",
			mutate: func(c *CatalogConfig) {
				c.Activities["Ability.Dash"] = ActivityConfig{}
			},
			activity: "Ability.Dash",
			errMsg:   "activation_policy is required",
		},
		{
			name: "unknown activation policy",
			mutate: func(c *CatalogConfig) {
				c.Activities["Ability.Dash"] = ActivityConfig{ActivationPolicy: "whenever"}
			},
			activity: "Ability.Dash",
			errMsg:   "unknown activation policy",
		},
		{
			name: "unknown instance policy",
			mutate: func(c *CatalogConfig) {
				c.Activities["Ability.Dash"] = ActivityConfig{ActivationPolicy: "local_only", InstancePolicy: "many"}
			},
			activity: "Ability.Dash",
			errMsg:   "unknown instance policy",
		},
		{
			name: "malformed cooldown",
			mutate: func(c *CatalogConfig) {
				c.Activities["Ability.Dash"] = ActivityConfig{ActivationPolicy: "local_only", Cooldown: "soon"}
			},
			activity: "Ability.Dash",
			errMsg:   "invalid cooldown",
		},
		{
			name: "negative cooldown",
			mutate: func(c *CatalogConfig) {
				c.Activities["Ability.Dash"] = ActivityConfig{ActivationPolicy: "local_only", Cooldown: "-1s"}
			},
			activity: "Ability.Dash",
			errMsg:   "cooldown cannot be negative",
		},
		{
			name: "negative class history limit",
			mutate: func(c *CatalogConfig) {
				c.Activities["Ability.Dash"] = ActivityConfig{ActivationPolicy: "local_only", HistoryLimit: -2}
			},
			activity: "Ability.Dash",
			errMsg:   "history_limit must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.activity, verr.Activity)
		})
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})
}

func TestValidate_ReportsFirstActivityByName(t *testing.T) {
	config := &CatalogConfig{
		Version: "1.0",
		Activities: map[string]ActivityConfig{
			"Ability.Zeta":  {},
			"Ability.Alpha": {},
		},
	}

	var verr *ValidationError
	require.True(t, errors.As(config.Validate(), &verr))
	assert.Equal(t, "Ability.Alpha", verr.Activity)
}

func TestBuild(t *testing.T) {
	config, err := Parse([]byte(validCatalog))
	require.NoError(t, err)

	catalog, err := config.Build()
	require.NoError(t, err)

	assert.Equal(t, []gameplay.Tag{"Ability.Melee.Heavy", "Modifier.Burning"}, catalog.Names())

	heavy, ok := catalog.Get("Ability.Melee.Heavy")
	require.True(t, ok)
	assert.Equal(t, gameplay.ClientPredicted, heavy.ActivationPolicy)
	assert.Equal(t, activity.SingleInstanceCancellable, heavy.InstancePolicy)
	assert.Equal(t, 1500*time.Millisecond, heavy.Cooldown)
	assert.Equal(t, 8, heavy.HistoryLimit)

	burning, ok := catalog.Get("Modifier.Burning")
	require.True(t, ok)
	assert.Equal(t, 16, burning.HistoryLimit, "catalog default applies")
	assert.Zero(t, burning.Cooldown)

	assert.Contains(t, gameplay.RegisteredTags(), gameplay.Tag("State.Windup"))
	assert.Contains(t, gameplay.RegisteredTags(), gameplay.Tag("Ability.Melee.Heavy"))
}

func TestBuild_Invalid(t *testing.T) {
	_, err := (&CatalogConfig{Version: "1.0"}).Build()
	assert.Error(t, err)
}
