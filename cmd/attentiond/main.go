// attentiond - classroom attention monitoring over one or more cameras
// Serves live stats, snapshots, an MJPEG composite and recordings over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-attention/internal/config"
	"github.com/teslashibe/go-attention/internal/log"
	"github.com/teslashibe/go-attention/pkg/app"
)

func main() {
	cfg := parseFlags()

	log.Init(cfg.LogLevel)
	logger := log.L()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := a.Init(); err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer a.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
	}
}

// parseFlags loads the configuration and applies command line overrides.
func parseFlags() config.Config {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "YAML config file (overrides defaults, overridden by env)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	port := flag.String("port", "", "HTTP port (overrides PORT env var)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	if *port != "" {
		cfg.Port = *port
	}
	return cfg
}
