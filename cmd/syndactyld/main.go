// Command syndactyld runs the syndactyl peer-to-peer file synchronization
// daemon: it watches configured observer directories, gossips file
// events to the mesh, and serves and fetches file content on demand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/keagster/syndactyl/internal/config"
	"github.com/keagster/syndactyl/internal/logging"
	"github.com/keagster/syndactyl/internal/orchestrator"
	"github.com/keagster/syndactyl/internal/transfer"
	"github.com/keagster/syndactyl/internal/transport"
	"github.com/keagster/syndactyl/internal/watcher"
)

// Version is set at release time; dev builds report "dev".
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config.toml (defaults to the platform config directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "syndactyld: load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "syndactyld: invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "syndactyld: create directories: %v\n", err)
		os.Exit(1)
	}

	logLevel, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logLevel = logging.LevelInfo
	}
	logFormat := logging.FormatText
	if cfg.Logging.Format == "json" {
		logFormat = logging.FormatJSON
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logLevel
	logCfg.Format = logFormat
	if cfg.Logging.Output != "" {
		logCfg.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}

	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "syndactyld: init logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(log)
	defer log.Close()

	log.Info("starting syndactyld", "version", Version, "observers", len(cfg.Observers))

	identity, err := transport.LoadOrGenerateIdentity(config.KeypairPath())
	if err != nil {
		log.Error("failed to load or generate identity key", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenIP := cfg.Network.ListenAddr
	if listenIP == "" {
		listenIP = "0.0.0.0"
	}
	listenAddr := fmt.Sprintf("/ip4/%s/tcp/%d", listenIP, cfg.Network.Port)
	engine, err := transport.NewLibP2P(ctx, listenAddr, identity, log)
	if err != nil {
		log.Error("failed to start transport", "error", err)
		os.Exit(1)
	}
	log.Info("transport identity", "peer_id", engine.ID())

	for _, bp := range cfg.Network.BootstrapPeers {
		addr := fmt.Sprintf("/ip4/%s/tcp/%d", bp.IP, bp.Port)
		if err := engine.Connect(ctx, bp.PeerID, addr); err != nil {
			log.Warn("failed to connect to bootstrap peer", "peer_id", bp.PeerID, "error", err)
		}
	}

	w := watcher.New(log)
	observers := make([]watcher.Observer, 0, len(cfg.Observers))
	for _, obs := range cfg.Observers {
		observers = append(observers, watcher.Observer{Name: obs.Name, Path: obs.Path})
	}
	if err := w.Start(observers); err != nil {
		log.Error("failed to start watcher", "error", err)
		os.Exit(1)
	}

	tracker := transfer.New()
	orch := orchestrator.New(cfg, tracker, engine, w.Announcements(), log)

	go func() {
		if err := orch.Run(ctx); err != nil {
			log.Error("orchestrator exited with error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("shutting down")
	cancel()
	w.Stop()
	if err := engine.Close(); err != nil {
		log.Warn("error closing transport", "error", err)
	}
	log.Info("syndactyld stopped")
}
