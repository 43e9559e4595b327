package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kalshi-ladder-feed/internal/alerting"
	"github.com/kalshi-ladder-feed/internal/config"
	"github.com/kalshi-ladder-feed/internal/feed"
	"github.com/kalshi-ladder-feed/internal/resolver"
	"github.com/kalshi-ladder-feed/internal/server"
)

func main() {
	var (
		configPath string
		listenAddr string
		logLevel   string
	)

	root := &cobra.Command{
		Use:   "ladderfeed",
		Short: "Real-time ladder analytics over sports binary markets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.BindAddress = listenAddr
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			return run(cfg)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to TOML config file")
	root.Flags().StringVar(&listenAddr, "listen", "", "bind address override")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	var signer *feed.Signer
	if cfg.Kalshi.APIKeyID != "" && cfg.Kalshi.PrivateKeyPath != "" {
		signer, err = feed.NewSigner(cfg.Kalshi.APIKeyID, cfg.Kalshi.PrivateKeyPath)
		if err != nil {
			return err
		}
		log.Info().Msg("request signing enabled")
	} else {
		log.Warn().Msg("no credentials configured, streaming unauthenticated")
	}

	res := resolver.NewClient(cfg.Kalshi.APIBaseURL, signer, log)
	alerts := alerting.NewManager(cfg.Alerting, log)
	srv := server.New(cfg, res, signer, alerts, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		cancel()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := alerts.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("alert manager error")
		}
	}()

	err = srv.Run(ctx)
	cancel()
	wg.Wait()
	return err
}
