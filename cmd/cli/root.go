package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-sync/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "parity-sync",
	Short: "Parity Sync",
	Long:  `Bidirectional synchronization of task and earnings records between this device and the Parity gateway`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "Path to config file")
}
