package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dyluth/augur/internal/activity"
	"github.com/dyluth/augur/internal/config"
	"github.com/dyluth/augur/internal/node"
	"github.com/dyluth/augur/internal/reconcile"
	"github.com/dyluth/augur/internal/transport/wsnet"
	"github.com/dyluth/augur/pkg/gameplay"
)

var (
	clientID        string
	clientCatalog   string
	clientTransport string
	clientServerURL string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Run a predicting client node with an interactive console",
	Long: `Run a client node.

The client predicts its own activities immediately, mirrors the server's
authoritative collection and reconciles predicted snapshots against it.
Commands are read from stdin, one per line; type 'help' for the list.

Examples:
  # Join over redis as player-1
  augur client --client-id player-1

  # Join a websocket server
  augur client --client-id player-1 --transport websocket --server ws://game:8080/ws`,
	RunE: runClient,
}

func init() {
	clientCmd.Flags().StringVar(&clientID, "client-id", "", "Client id (overrides AUGUR_CLIENT_ID)")
	clientCmd.Flags().StringVarP(&clientCatalog, "catalog", "c", "", "Activity catalog path (overrides AUGUR_CATALOG)")
	clientCmd.Flags().StringVarP(&clientTransport, "transport", "t", "", "Transport: redis or websocket (overrides AUGUR_TRANSPORT)")
	clientCmd.Flags().StringVar(&clientServerURL, "server", "", "Websocket server URL (overrides AUGUR_SERVER_URL)")
	rootCmd.AddCommand(clientCmd)
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadNodeConfig(gameplay.RoleClient, func(c *config.NodeConfig) {
		if clientID != "" {
			c.ClientID = clientID
		}
		if clientCatalog != "" {
			c.Catalog = clientCatalog
		}
		if clientTransport != "" {
			c.Transport = clientTransport
		}
		if clientServerURL != "" {
			c.ServerURL = clientServerURL
		}
	})
	if err != nil {
		return err
	}

	_, catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logrus.StandardLogger().WithFields(logrus.Fields{
		"instance":  cfg.InstanceName,
		"client_id": cfg.ClientID,
	})
	nodeCfg := node.Config{
		Role:         gameplay.RoleClient,
		ClientID:     cfg.ClientID,
		Catalog:      catalog,
		HistoryLimit: cfg.HistoryLimit,
		Retention:    cfg.Retention.Seconds(),
		Logger:       logger,
	}

	var inbound <-chan *gameplay.Message
	switch cfg.Transport {
	case config.TransportRedis:
		client, err := connectRedis(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		sub, err := client.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		defer sub.Close()
		go logSubscriptionErrors(ctx, sub.Errors(), logger)

		nodeCfg.Transport = client
		nodeCfg.States = client
		inbound = sub.Messages()

	default:
		conn, err := wsnet.Dial(ctx, cfg.ServerURL, cfg.ClientID, logger)
		if err != nil {
			return out.Error(
				"connection failed",
				fmt.Sprintf("Could not connect to %s: %v", cfg.ServerURL, err),
				[]string{"Start a websocket server:\n  augur server --transport websocket"},
			)
		}
		defer conn.Close()

		nodeCfg.Transport = conn
		inbound = conn.Inbound()
	}

	n, err := node.New(nodeCfg)
	if err != nil {
		return err
	}
	con, err := newConsole(n, catalog, cfg.ClientID, logger)
	if err != nil {
		return err
	}

	if err := n.Join(ctx); err != nil {
		return fmt.Errorf("failed to join: %w", err)
	}
	out.Success("Joined instance '%s' as %s via %s\n", cfg.InstanceName, cfg.ClientID, cfg.Transport)

	// runCtx ends when Run returns so a pending Do cannot block.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- n.Run(runCtx, inbound, cfg.TickInterval)
		cancel()
	}()

	return con.serve(runCtx, n, cmd.InOrStdin(), runErr)
}

// newConsole spawns the client's entity, prints events it receives and logs
// reconciliation matches for every predicted class.
func newConsole(n *node.Node, catalog *activity.Catalog, clientID string, logger logrus.FieldLogger) (*console, error) {
	self := gameplay.EntityRef{ID: clientID, Owner: clientID}
	handle, err := n.Entities.Spawn(self)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn client entity: %w", err)
	}

	con := &console{node: n, self: self, out: out}
	n.Bus.Listen(handle, con.printEvent)

	for _, name := range catalog.Names() {
		class, _ := catalog.Get(name)
		if !class.ActivationPolicy.Predicted() {
			continue
		}
		n.Reconciler.RegisterResolver(name, reconcile.Resolution{Func: func(m reconcile.Match) {
			logger.WithFields(logrus.Fields{
				"activity_id": m.ActivityID.String(),
				"class":       string(m.Class),
				"state_tag":   string(m.Authoritative.StateTag),
				"diverged":    !m.Authoritative.StateData.Equal(m.Predicted.StateData),
			}).Debug("prediction reconciled")
		}})
	}
	return con, nil
}

func (c *console) printEvent(env *gameplay.EventEnvelope) {
	sender := "-"
	if env.Sender != nil {
		sender = env.Sender.ID
	}
	c.out.Info("📨 %s domain=%s sender=%s\n", env.EventTag, env.DomainTag, sender)
}

// serve reads commands until ctx ends or the node stops. End of input leaves
// the node running.
func (c *console) serve(ctx context.Context, n *node.Node, in io.Reader, runErr <-chan error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return <-runErr

		case err := <-runErr:
			return err

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			var execErr error
			if err := n.Do(ctx, func() { execErr = c.exec(ctx, line) }); err != nil {
				return <-runErr
			}
			if execErr != nil {
				c.out.Warning("%v\n", execErr)
			}
		}
	}
}
