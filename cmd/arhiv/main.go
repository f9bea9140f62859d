package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/arhiv/pkg/log"
	"github.com/cuemby/arhiv/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arhiv",
	Short: "Arhiv - a personal, multi-device, encrypted document store",
	Long: `Arhiv keeps a password-encrypted archive of your documents on every
device you open it from, syncing directly between devices with no server
and no account.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"arhiv version %s\ncommit: %s\nbuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("root", "./arhiv-data", "Vault root directory")
	rootCmd.PersistentFlags().Bool("dev", false, "Use storage-debug directories and a cheap KDF cost, never for real data")
	rootCmd.PersistentFlags().String("config", "", "Path to arhiv.yaml (defaults to <root>/arhiv.yaml)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase logging verbosity (repeatable)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
	metrics.SetVersion(Version)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(applyMigrationsCmd)
	rootCmd.AddCommand(backupCmd)
}

func initLogging() {
	verbosity, _ := rootCmd.PersistentFlags().GetCount("verbose")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	level := log.InfoLevel
	if verbosity >= 1 {
		level = log.DebugLevel
	}

	log.Init(log.Config{
		Level:      level,
		JSONOutput: logJSON,
	})
}
