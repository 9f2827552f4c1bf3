package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-sync/internal/auth"
	"github.com/theblitlabs/parity-sync/pkg/logger"
)

var deviceKey string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Mint and store a gateway auth token for this device",
	Run: func(cmd *cobra.Command, args []string) {
		executeAuth(deviceKey)
	},
}

func init() {
	authCmd.Flags().StringVarP(&deviceKey, "key", "k", "", "Device key issued at registration")
	_ = authCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(authCmd)
}

func executeAuth(key string) {
	log := logger.WithComponent("auth")

	deviceID, err := auth.GetDeviceID()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve device ID")
	}

	token, err := auth.CreateAuthToken(deviceID, key, 30*24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create auth token")
	}

	path, err := auth.SaveAuthToken(token)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save auth token")
	}

	log.Info().
		Str("device_id", deviceID).
		Str("path", path).
		Msg("Device authenticated")
}
