// Avatar - browser-rendered talking head driven by a realtime voice session.
// Serves the control API, the pose stream and the pointer stream.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-avatar/internal/config"
	"github.com/teslashibe/go-avatar/internal/log"
	"github.com/teslashibe/go-avatar/pkg/avatar"
)

func main() {
	configFile := flag.String("config", "", "Optional YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	addr := flag.String("addr", "", "Listen address (overrides AVATAR_SERVER_ADDR)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.L().Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	logger := log.Init(cfg.LogLevel)

	app, err := avatar.New(cfg, logger)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Init(ctx); err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
}
