package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	nodehttp "schemadb/internal/http"
	"schemadb/pkg/gossip"
	"schemadb/pkg/metrics"
	"schemadb/pkg/migrate"
	"schemadb/pkg/schema"
	"schemadb/pkg/transport"
	"schemadb/pkg/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("schemadb exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	initLogger(&cfg)

	store, err := schema.NewStore(filepath.Join(cfg.Node.DataDir, "schema"))
	if err != nil {
		return err
	}

	feed, err := gossip.NewZKFeed(cfg.Zookeeper.Servers, cfg.Zookeeper.RootPath, types.NodeID(cfg.Node.Addr))
	if err != nil {
		return err
	}
	defer feed.Close()

	collector := metrics.NewInMemory()
	mgr := migrate.NewManager(migrate.Options{
		Schema:      schema.New(),
		Store:       store,
		Feed:        feed,
		Transport:   transport.NewClient(cfg.Migration.PullTimeout),
		Metrics:     collector,
		Voter:       cfg.Node.Voter,
		GraceWindow: cfg.Migration.GraceWindow,
		PullTimeout: cfg.Migration.PullTimeout,
	})
	defer mgr.Stop()

	if err := mgr.Restore(); err != nil {
		return err
	}

	if err := feed.Join(gossip.State{
		SchemaVersion: mgr.Schema().Version().String(),
		ProtoVersion:  transport.CurrentVersion,
		Voter:         cfg.Node.Voter,
	}); err != nil {
		return fmt.Errorf("join membership feed: %w", err)
	}
	feed.Run(ctx)
	mgr.Start()

	server := nodehttp.NewServer(mgr, strconv.Itoa(cfg.Server.Port)).WithMetrics(collector)
	if err := server.Start(); err != nil {
		return err
	}

	slog.Info("schemadb node started", "addr", cfg.Node.Addr, "version", mgr.Schema().Version())

	<-ctx.Done()

	slog.Info("shutting down")
	return server.Stop()
}
