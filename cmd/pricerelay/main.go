package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"pricerelay/internal/infrastructure/config"
	"pricerelay/internal/infrastructure/logger"
	"pricerelay/internal/infrastructure/svc"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	logger.Setup("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc, err := svc.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service initialization failed")
	}
	defer sc.Close()

	log.Info().
		Str("config", *configPath).
		Str("listen", cfg.App.ListenAddr).
		Strs("sources", cfg.GetEnabledSources()).
		Strs("symbols", cfg.Symbols.List).
		Msg("pricerelay started")

	if err := sc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("pricerelay exited")
		return
	}
	log.Info().Msg("pricerelay stopped")
}
