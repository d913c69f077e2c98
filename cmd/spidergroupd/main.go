package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/flo-mic/spidergroup/internal/config"
	"github.com/flo-mic/spidergroup/internal/gateway"
	"github.com/flo-mic/spidergroup/internal/groups"
	"github.com/flo-mic/spidergroup/internal/inventory"
)

func main() {
	cfgPath := flag.String("config", "/etc/spidergroup/server.yaml", "Path to server config")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating log dir: %v\n", err)
		os.Exit(1)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "spidergroupd.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if *debug {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, logFile), opts))
	slog.SetDefault(logger)

	reg := inventory.NewRegistry(cfg.Nodes, cfg.RequestTimeout)
	srv := gateway.NewServer(gateway.Options{
		Addr:          cfg.Listen,
		Token:         cfg.Token,
		SessionTTL:    cfg.SessionTTL,
		SettleTimeout: 3*cfg.RequestTimeout + 5*time.Second,
		Logger:        logger,
	}, reg, groups.NewFileStore(cfg.GroupsDir))

	slog.Info("spidergroupd starting", "listen", cfg.Listen, "nodes", len(cfg.Nodes))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	case s := <-sig:
		slog.Info("shutting down", "signal", s.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown", "err", err)
		}
	}
}
