package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-sync/internal/models"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe sync engine health",
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("cli.health")
		service, cleanup, err := newService()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize sync engine")
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		health := service.CheckSyncHealth(ctx)
		out, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(out))

		if health.Status == models.HealthStatusUnhealthy {
			os.Exit(1)
		}
	},
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run the sync diagnostics battery",
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("cli.diagnose")
		service, cleanup, err := newService()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize sync engine")
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		diagnostics := service.PerformSyncDiagnostics(ctx)
		out, _ := json.MarshalIndent(diagnostics, "", "  ")
		fmt.Println(string(out))

		if diagnostics.Status == models.CheckFail {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(diagnoseCmd)
}
