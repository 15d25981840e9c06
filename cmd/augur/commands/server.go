package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dyluth/augur/internal/config"
	"github.com/dyluth/augur/internal/node"
	"github.com/dyluth/augur/internal/transport/wsnet"
	"github.com/dyluth/augur/pkg/gameplay"
)

const shutdownTimeout = 5 * time.Second

var (
	serverCatalog   string
	serverTransport string
	serverListen    string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the authoritative server node",
	Long: `Run the authoritative server node.

The server validates activation requests from clients, runs the
authoritative copy of every replicated activity, and broadcasts the
resulting state deltas to every client on each tick.

Transports:
  redis     - Pub/Sub legs plus a stored state index for late joiners
  websocket - Clients connect to ws://<listen-addr>/ws?client_id=<id>

Examples:
  # Run with the environment defaults (redis, augur.yml)
  augur server

  # Serve websocket clients on port 9000
  augur server --transport websocket --listen :9000`,
	RunE: runServer,
}

func init() {
	serverCmd.Flags().StringVarP(&serverCatalog, "catalog", "c", "", "Activity catalog path (overrides AUGUR_CATALOG)")
	serverCmd.Flags().StringVarP(&serverTransport, "transport", "t", "", "Transport: redis or websocket (overrides AUGUR_TRANSPORT)")
	serverCmd.Flags().StringVar(&serverListen, "listen", "", "Websocket listen address (overrides AUGUR_LISTEN_ADDR)")
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadNodeConfig(gameplay.RoleServer, func(c *config.NodeConfig) {
		if serverCatalog != "" {
			c.Catalog = serverCatalog
		}
		if serverTransport != "" {
			c.Transport = serverTransport
		}
		if serverListen != "" {
			c.ListenAddr = serverListen
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

	logger := logrus.StandardLogger().WithField("instance", cfg.InstanceName)
	nodeCfg := node.Config{
		Role:         gameplay.RoleServer,
		Catalog:      catalog,
		HistoryLimit: cfg.HistoryLimit,
		Retention:    cfg.Retention.Seconds(),
		Logger:       logger,
	}

	switch cfg.Transport {
	case config.TransportRedis:
		return serveRedis(ctx, cfg, nodeCfg, logger)
	default:
		return serveWebsocket(ctx, cfg, nodeCfg, logger)
	}
}

func serveRedis(ctx context.Context, cfg *config.NodeConfig, nodeCfg node.Config, logger logrus.FieldLogger) error {
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
	n, err := node.New(nodeCfg)
	if err != nil {
		return err
	}

	out.Success("Server running on instance '%s' via redis\n", cfg.InstanceName)
	return n.Run(ctx, sub.Messages(), cfg.TickInterval)
}

func serveWebsocket(ctx context.Context, cfg *config.NodeConfig, nodeCfg node.Config, logger logrus.FieldLogger) error {
	hub := wsnet.NewHub(logger)
	defer hub.Close()

	nodeCfg.Transport = hub
	n, err := node.New(nodeCfg)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return out.Error(
			"listen failed",
			fmt.Sprintf("Could not listen on %s: %v", cfg.ListenAddr, err),
			[]string{"Choose another address:\n  augur server --transport websocket --listen :9000"},
		)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	out.Success("Server listening on %s\n", listener.Addr())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	runErr := n.Run(runCtx, hub.Inbound(), cfg.TickInterval)

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server shutdown")
	}
	return runErr
}
