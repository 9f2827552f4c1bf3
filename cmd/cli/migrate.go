package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/storage"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the local store schema",
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("migrate")

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load config")
		}

		db, err := storage.Connect(cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to local store")
		}
		defer func() { _ = db.Close() }()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := storage.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}

		log.Info().Msg("Migrations applied")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
