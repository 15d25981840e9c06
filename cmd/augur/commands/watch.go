package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dyluth/augur/internal/config"
	"github.com/dyluth/augur/internal/filter"
	"github.com/dyluth/augur/internal/transport/redisnet"
	"github.com/dyluth/augur/internal/watch"
	"github.com/dyluth/augur/pkg/gameplay"
)

var (
	watchOutputFormat string
	watchClass        string
	watchEvents       []string
	watchDomains      []string
	watchPayloadTypes []string
	watchWait         string
	watchTimeout      time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor replication traffic in real time",
	Long: `Monitor replication traffic on a redis instance.

Streams events, activation and cancel requests, and authoritative state
deltas on every channel of the instance as they are published.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch everything on the instance from AUGUR_INSTANCE_NAME
  augur watch

  # Only melee activities and hit events
  augur watch --class Ability.Melee --event Event.Hit

  # Export traffic as JSON
  augur watch --output=json > traffic.jsonl

  # Block until an activity has finished, then print its final state
  augur watch --wait 0d5f2a8e-8b1c-4a4a-9b9b-2f6f0c1d2e3f --timeout 1m`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchClass, "class", "", "Activity class prefix for requests and deltas")
	watchCmd.Flags().StringSliceVar(&watchEvents, "event", nil, "Event tag prefixes to show (repeatable)")
	watchCmd.Flags().StringSliceVar(&watchDomains, "domain", nil, "Domain tag prefixes to show (repeatable)")
	watchCmd.Flags().StringSliceVar(&watchPayloadTypes, "payload-type", nil, "Event payload types to show (repeatable)")
	watchCmd.Flags().StringVar(&watchWait, "wait", "", "Wait for this activity id to reach a terminal status instead of streaming")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 30*time.Second, "How long --wait polls the state store")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format, err := watch.ParseOutputFormat(watchOutputFormat)
	if err != nil {
		return out.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	var waitID uuid.UUID
	if watchWait != "" {
		if waitID, err = uuid.Parse(watchWait); err != nil {
			return out.Error(
				"invalid activity id",
				fmt.Sprintf("--wait needs a full activity id, got: %s", watchWait),
				[]string{"Full ids are in 'augur watch --output=json' output"},
			)
		}
	}

	criteria := filter.Criteria{
		EventTags:    toTags(watchEvents),
		DomainTags:   toTags(watchDomains),
		PayloadTypes: watchPayloadTypes,
	}
	opts := watch.Options{
		Format: format,
		Events: criteria,
		Class:  gameplay.Tag(watchClass),
	}
	watcher, err := watch.New(out.Out(), opts)
	if err != nil {
		return out.Error("invalid filter", err.Error(), nil)
	}

	// The observer never sends, so it connects with the server role.
	cfg, err := loadNodeConfig(gameplay.RoleServer, func(c *config.NodeConfig) {
		c.Transport = config.TransportRedis
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logrus.StandardLogger().WithField("instance", cfg.InstanceName)
	client, err := connectRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if waitID != uuid.Nil {
		return waitForActivity(ctx, client, watcher, waitID, watchTimeout)
	}

	if format == watch.OutputFormatDefault {
		out.Step("Watching instance %s\n", cfg.InstanceName)
		if opts.Filtered() {
			out.Info("Filters active; unmatched traffic is hidden\n")
		}
	}

	sub, err := client.WatchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	return watch.Stream(ctx, watcher, sub.Messages(), sub.Errors())
}

// waitForActivity polls the state store until the activity is terminal and prints it.
func waitForActivity(ctx context.Context, store watch.StateGetter, wt *watch.Watcher, id uuid.UUID, timeout time.Duration) error {
	state, err := watch.PollForState(ctx, store, id, func(s *gameplay.ActivityState) bool {
		return s.Status.IsTerminal()
	}, redisnet.IsNotFound, timeout)
	if err != nil {
		return out.Error(
			"activity did not finish",
			err.Error(),
			[]string{
				"Increase --timeout",
				"Check AUGUR_INSTANCE_NAME matches the server's instance",
			},
		)
	}
	return wt.WriteState(state)
}

func toTags(values []string) []gameplay.Tag {
	if len(values) == 0 {
		return nil
	}
	tags := make([]gameplay.Tag, len(values))
	for i, v := range values {
		tags[i] = gameplay.Tag(v)
	}
	return tags
}
