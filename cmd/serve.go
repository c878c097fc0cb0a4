package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/zulipgate/internal/agent"
	"github.com/nextlevelbuilder/zulipgate/internal/bus"
	"github.com/nextlevelbuilder/zulipgate/internal/channels"
	"github.com/nextlevelbuilder/zulipgate/internal/channels/zulip"
	"github.com/nextlevelbuilder/zulipgate/internal/config"
	"github.com/nextlevelbuilder/zulipgate/internal/gateway"
	"github.com/nextlevelbuilder/zulipgate/internal/status"
	"github.com/nextlevelbuilder/zulipgate/internal/store"
	"github.com/nextlevelbuilder/zulipgate/internal/store/file"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event loops and gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open state stores", "error", err)
		os.Exit(1)
	}

	msgBus := bus.New()
	tracker := status.NewTracker(msgBus)

	responder, err := agent.NewAnthropicResponder(cfg.Agent)
	if err != nil {
		slog.Error("failed to create responder", "error", err)
		os.Exit(1)
	}

	channelMgr := channels.NewManager(msgBus)
	if cfg.Channels.Zulip.Enabled {
		ch, err := zulip.NewChannel(cfg, stores, responder, tracker)
		if err != nil {
			slog.Error("failed to create zulip channel", "error", err)
			os.Exit(1)
		}
		channelMgr.Register(ch)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	slog.Info("zulipgate starting",
		"version", Version,
		"accounts", len(cfg.ResolveAccounts()),
		"dm_policy", cfg.Channels.Zulip.DMPolicy,
	)

	server := gateway.NewServer(cfg.Gateway, msgBus, tracker)
	server.SetOutbound(msgBus, stores.Routes)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(runCtx)
	})
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			slog.Info("graceful shutdown initiated", "signal", sig)
			channelMgr.StopAll(context.Background())
			cancel()
		case <-runCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

// openStores opens the file-backed stores under the resolved state dir.
func openStores(cfg *config.Config) (*store.Stores, error) {
	dir := cfg.ResolveStateDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	pairing, err := file.NewPairingStore(dir)
	if err != nil {
		return nil, err
	}
	routes, err := file.NewRouteStore(dir)
	if err != nil {
		return nil, err
	}
	return &store.Stores{Pairing: pairing, Routes: routes}, nil
}
