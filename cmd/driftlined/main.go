// Command driftlined runs the driftline broker: load config, open the
// catalog, start the configured transports, and serve until signalled.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/pkg/dispatch"
	"github.com/driftline/driftline/pkg/session"
	"github.com/driftline/driftline/pkg/system"
	"github.com/driftline/driftline/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	lg := logging.New(os.Stderr, logging.LevelInfo)

	cfg, err := config.Load(*configPath)
	if err != nil {
		lg.Log(logging.LevelError, "failed to load config", "error", err.Error())
		os.Exit(1)
	}

	sys, err := system.Open(cfg, lg)
	if err != nil {
		lg.Log(logging.LevelError, "failed to open system", "error", err.Error())
		os.Exit(1)
	}

	d := dispatch.New(lg)
	sys.RegisterHandlers(d)

	tcpListener, err := transport.ListenTCP(cfg.TCPAddr, sys.Sessions, d, lg)
	if err != nil {
		lg.Log(logging.LevelError, "failed to start tcp listener", "addr", cfg.TCPAddr, "error", err.Error())
		os.Exit(1)
	}
	lg.Log(logging.LevelInfo, "tcp listener started", "addr", tcpListener.Addr().String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go serveIdleEviction(ctx, sys.Sessions, cfg, lg)

	errCh := make(chan error, 1)
	go func() { errCh <- tcpListener.Serve(ctx) }()

	select {
	case <-ctx.Done():
		lg.Log(logging.LevelInfo, "shutdown signal received")
	case err := <-errCh:
		if err != nil {
			lg.Log(logging.LevelError, "tcp listener stopped unexpectedly", "error", err.Error())
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := tcpListener.Shutdown(shutdownCtx, cfg.ShutdownGrace); err != nil {
		lg.Log(logging.LevelWarn, "tcp listener shutdown error", "error", err.Error())
	}
	if err := sys.Shutdown(); err != nil {
		lg.Log(logging.LevelWarn, "system shutdown error", "error", err.Error())
	}
}

func serveIdleEviction(ctx context.Context, sessions *session.Registry, cfg config.Config, lg *logging.Logger) {
	if cfg.SessionIdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.SessionIdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, clientID := range sessions.EvictIdle(now, cfg.SessionIdleTimeout) {
				lg.Log(logging.LevelDebug, "evicted idle session", "client_id", clientID)
			}
		}
	}
}
