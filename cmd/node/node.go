package node

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/router"
	"github.com/ulfberto/zerocloud/internal/config"
	"github.com/ulfberto/zerocloud/internal/observability"
	"github.com/ulfberto/zerocloud/internal/util"
)

const shutdownTimeout = 10 * time.Second

func New() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a compute node",
		Long: `Runs a compute node: joins the mesh over gRPC, probes the local device,
exchanges heartbeats and serves the HTTP API.

Configuration is read from ZC_* environment variables and optionally
overlaid with a YAML file.`,
		Run: func(cmd *cobra.Command, args []string) {
			runNode(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Optional YAML config file")
	return cmd
}

func runNode(configPath string) {
	cfg := config.DefaultServiceConfigFromEnv()
	if configPath != "" {
		if err := config.LoadFile(configPath, &cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to load config file")
		}
	}
	util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.Pretty)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	shutdownTracing, err := observability.InitTracing("zerocloud-node", cfg.Tracing)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	s, err := api.InitNewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	router.Init(s)

	go func() {
		if err := s.Start(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				log.Info().Msg("Server closed")
			} else {
				log.Fatal().Err(err).Msg("Failed to start server")
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if errs := s.Shutdown(ctx); len(errs) > 0 {
		log.Error().Errs("shutdownErrors", errs).Msg("Failed to gracefully shut down server")
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}
}
