// Command cconnectd is the connectivity daemon: it discovers peers over
// UDP, accepts and dials TLS sessions, drives pairing, and dispatches
// packets into the plugin fabric, exposing everything to local clients
// over a unix-socket HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cconnectdaemon "github.com/cosmic-connect/cconnectd/internal/daemon"
	"github.com/cosmic-connect/cconnectd/internal/config"
)

var (
	configPath   = flag.String("config", "", "path to daemon.toml (defaults baked in if unset)")
	dataDir      = flag.String("data-dir", defaultDataDir(), "directory for device id, certificate, registry, and plugin state")
	listenAddr   = flag.String("listen", ":1716", "address to accept inbound peer TLS sessions on")
	sockFile     = flag.String("sock-file", defaultSockFile(), "path to the host IPC unix domain socket")
	metricsAddr  = flag.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables metrics")
	verbose      = flag.Bool("v", false, "enable debug logging")
	versionFlag  = flag.Bool("version", false, "print build version and exit")

	version = "dev"
	commit  = "none"
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *versionFlag {
		fmt.Printf("cconnectd %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(*dataDir, 0700); err != nil {
		slog.Error("failed to create data directory", "path", *dataDir, "error", err)
		os.Exit(1)
	}

	d, err := cconnectdaemon.New(cfg, *dataDir)
	if err != nil {
		slog.Error("failed to initialize daemon", "error", err)
		os.Exit(1)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Debug("sd_notify READY failed", "error", err)
	} else if ok {
		slog.Debug("sd_notify READY delivered")
	}

	slog.Info("cconnectd starting", "listen", *listenAddr, "sock_file", *sockFile, "data_dir", *dataDir)
	err = d.Run(ctx, *listenAddr, *sockFile)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err != nil {
		slog.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("cconnectd stopped")
}

func serveMetrics(addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("failed to start metrics listener", "error", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics server started", "address", lis.Addr().String())
	if err := http.Serve(lis, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cconnectd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/cconnectd"
	}
	return filepath.Join(home, ".local", "share", "cconnectd")
}

func defaultSockFile() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "cconnectd.sock")
	}
	return "/var/run/cconnectd/cconnectd.sock"
}
