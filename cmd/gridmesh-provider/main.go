package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridmesh/gridmesh/internal/config"
	"github.com/gridmesh/gridmesh/internal/logx"
	"github.com/gridmesh/gridmesh/internal/provider"
)

func main() {
	var cfg config.ProviderConfig
	cfg.BindFlags()
	flag.Parse()
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config file")
		}
		// Flags win over the file.
		flag.Parse()
	}
	logx.Configure(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logx.Log.Info().Str("provider_name", cfg.ProviderName)
	if cfg.Token != "" {
		log = log.Bool("auth", true)
	}
	log.Msg("provider starting")

	if err := provider.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logx.Log.Fatal().Err(err).Msg("provider exited")
	}
}
