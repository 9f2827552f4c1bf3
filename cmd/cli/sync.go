package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-sync/internal/auth"
	"github.com/theblitlabs/parity-sync/internal/config"
	"github.com/theblitlabs/parity-sync/internal/models"
	"github.com/theblitlabs/parity-sync/internal/storage"
	syncengine "github.com/theblitlabs/parity-sync/internal/sync"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:       "sync [tasks|earnings|all]",
	Short:     "Run a sync manually",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"tasks", "earnings", "all"},
	Run: func(cmd *cobra.Command, args []string) {
		target := "all"
		if len(args) > 0 {
			target = args[0]
		}
		runSync(target)
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Ignore the watermark and resync everything")
	rootCmd.AddCommand(syncCmd)
}

// newService wires an orchestrator the same way the server command does,
// minus scheduler and API.
func newService() (*syncengine.Service, func(), error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Runner.DeviceID == "" {
		deviceID, err := auth.GetDeviceID()
		if err != nil {
			return nil, nil, err
		}
		cfg.Runner.DeviceID = deviceID
	}

	db, err := storage.Connect(cfg.Database.DSN())
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = db.Close() }

	store := storage.NewPostgresStore(db, cfg.Runner.DeviceID)
	gateway := syncengine.NewHTTPGatewayClient(cfg.Gateway, cfg.Runner, cfg.Sync.RequestTimeout, nil)

	return syncengine.NewService(cfg.Sync, gateway, store), cleanup, nil
}

func runSync(target string) {
	log := logger.WithComponent("cli.sync")

	service, cleanup, err := newService()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize sync engine")
	}
	defer cleanup()

	ctx := context.Background()
	exitCode := 0

	if target == "tasks" || target == "all" {
		if !reportRun(ctx, service, models.SyncTypeTasks) {
			exitCode = 1
		}
	}
	if target == "earnings" || target == "all" {
		if !reportRun(ctx, service, models.SyncTypeEarnings) {
			exitCode = 1
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func reportRun(ctx context.Context, service *syncengine.Service, syncType models.SyncType) bool {
	log := logger.WithComponent("cli.sync")

	var result *models.SyncResult
	var err error
	switch {
	case syncType == models.SyncTypeTasks && syncFull:
		result, err = service.SyncTasksFull(ctx)
	case syncType == models.SyncTypeTasks:
		result, err = service.SyncTasks(ctx)
	case syncFull:
		result, err = service.SyncEarningsFull(ctx)
	default:
		result, err = service.SyncEarnings(ctx)
	}
	if err != nil {
		log.Error().Err(err).Str("type", string(syncType)).Msg("Sync failed")
		return false
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Printf("%s sync:\n%s\n", syncType, out)
	return result.Success
}
