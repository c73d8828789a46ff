package main

import (
	"github.com/spf13/cobra"

	"go-repub/internal/config"
	"go-repub/internal/container"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "repub",
	Short: "Crop, deskew and assemble scanned book pages into a searchable PDF",
	Long: `repub turns a set of scanned page images into one PDF.

Each page is cropped to its content and deskewed, crops are reconciled
across the whole book, suspicious pages are flagged for review, and the
corrected pages are assembled with an optional OCR text layer.`,
	Version:      container.Version,
	SilenceUsage: true,
}

// loadConfig reads the config file and REPUB_* environment, then applies
// the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: $REPUB_CONFIG)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error",
	)
}
