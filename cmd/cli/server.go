package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-sync/internal/api"
	"github.com/theblitlabs/parity-sync/internal/api/handlers"
	"github.com/theblitlabs/parity-sync/internal/auth"
	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/monitoring/metrics"
	"github.com/theblitlabs/parity-sync/internal/scheduler"
	"github.com/theblitlabs/parity-sync/internal/storage"
	syncengine "github.com/theblitlabs/parity-sync/internal/sync"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the sync engine with its local API and scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer() {
	log := logger.WithComponent("server")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Sync.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid sync configuration")
	}

	if cfg.Runner.DeviceID == "" {
		deviceID, err := auth.GetDeviceID()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to resolve device ID")
		}
		cfg.Runner.DeviceID = deviceID
	}

	db, err := storage.Connect(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to local store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close local store")
		}
	}()

	store := storage.NewPostgresStore(db, cfg.Runner.DeviceID)
	gateway := syncengine.NewHTTPGatewayClient(cfg.Gateway, cfg.Runner, cfg.Sync.RequestTimeout, nil)

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSyncMetrics(registry)

	service := syncengine.NewService(cfg.Sync, gateway, store, syncengine.WithRunObserver(syncMetrics))

	sched := scheduler.NewScheduler(service, cfg.Sync)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer sched.Stop()

	router := api.NewRouter(handlers.NewSyncHandler(service), registry)
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Sync API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API shutdown failed")
	}
}
