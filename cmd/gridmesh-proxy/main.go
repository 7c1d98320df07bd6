package main

import (
	"context"
	"errors"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/gridmesh/gridmesh/internal/config"
	"github.com/gridmesh/gridmesh/internal/logx"
	"github.com/gridmesh/gridmesh/internal/payment"
	"github.com/gridmesh/gridmesh/internal/proxy"
	"github.com/gridmesh/gridmesh/internal/wallet"
)

func main() {
	var cfg config.ProxyConfig
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

	if cfg.PrivateKey == "" {
		logx.Log.Fatal().Msg("a signing key is required (--private-key or PRIVATE_KEY)")
	}
	signer, err := wallet.NewLocalSigner(cfg.PrivateKey)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("load signing key")
	}

	var ceiling *big.Int
	if cfg.MaxAmount != "" {
		n, ok := new(big.Int).SetString(cfg.MaxAmount, 10)
		if !ok {
			logx.Log.Fatal().Str("max_amount", cfg.MaxAmount).Msg("max amount must be a base-10 integer")
		}
		ceiling = n
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logx.Log.Info().Str("address", signer.Address().Hex()).Str("upstream", cfg.UpstreamURL).Msg("proxy starting")

	srv := proxy.New(proxy.Config{
		UpstreamURL: cfg.UpstreamURL,
		Authorizer:  payment.NewAuthorizer(signer, ceiling),
	})
	if err := srv.Serve(ctx, cfg.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
		logx.Log.Fatal().Err(err).Msg("proxy exited")
	}
}
