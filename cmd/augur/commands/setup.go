package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dyluth/augur/internal/activity"
	"github.com/dyluth/augur/internal/config"
	"github.com/dyluth/augur/internal/transport/redisnet"
	"github.com/dyluth/augur/pkg/gameplay"
)

// loadNodeConfig reads the environment, applies flag overrides and validates the result.
func loadNodeConfig(role gameplay.Role, override func(*config.NodeConfig)) (*config.NodeConfig, error) {
	cfg, err := config.LoadNodeConfig()
	if err != nil {
		return nil, out.Error(
			"invalid environment",
			err.Error(),
			[]string{"Check the AUGUR_* environment variables"},
		)
	}

	cfg.Role = role
	if role == gameplay.RoleServer {
		cfg.ClientID = ""
	}
	if override != nil {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, out.Error("invalid node configuration", err.Error(), nil)
	}
	return cfg, nil
}

// loadCatalog reads the activity catalog and registers its classes.
func loadCatalog(path string) (*config.CatalogConfig, *activity.Catalog, error) {
	catalogCfg, err := config.Load(path)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			details := map[string]string{"reason": verr.Reason}
			if verr.Activity != "" {
				details["activity"] = verr.Activity
			}
			return nil, nil, out.ErrorWithContext(
				"invalid catalog",
				fmt.Sprintf("Catalog %s failed validation.", path),
				details,
				nil,
			)
		}
		return nil, nil, out.Error(
			"catalog not loaded",
			err.Error(),
			[]string{fmt.Sprintf("Point AUGUR_CATALOG or --catalog at a valid file (current: %s)", path)},
		)
	}

	catalog, err := catalogCfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	return catalogCfg, catalog, nil
}

// connectRedis opens and pings a redis transport for the given role.
func connectRedis(ctx context.Context, cfg *config.NodeConfig, logger logrus.FieldLogger) (*redisnet.Client, error) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client, err := redisnet.NewClient(redisOpts, cfg.InstanceName, cfg.Role, cfg.ClientID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis transport: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, out.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", cfg.RedisURL),
			map[string]string{"instance": cfg.InstanceName},
			[]string{
				"Check that Redis is running and REDIS_URL is correct",
				"Use the websocket transport:\n  AUGUR_TRANSPORT=websocket",
			},
		)
	}
	return client, nil
}

// logSubscriptionErrors logs decode failures until errs closes or ctx ends.
func logSubscriptionErrors(ctx context.Context, errs <-chan error, logger logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.WithError(err).Warn("skipping malformed message")
		}
	}
}
