package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoiceguard/internal/config"
	"invoiceguard/internal/logger"
)

var version = "1.0.0"

var (
	appConfig    *config.Config
	appConfigErr error
)

var rootCmd = &cobra.Command{
	Use:   "invoiceguard",
	Short: "Invoiceguard - tamper checks for invoice images and PDFs",
	Long: `Invoiceguard checks whether an invoice document shows signs of digital tampering.

Every document runs through the same pipeline:
  1. The first page is rasterized (PDFs are rendered at 300 DPI).
  2. The page is binarized and transcribed with OCR.
  3. The transcript must show at least 4 of 6 invoice fields
     (invoice, date, total, tax, subtotal, shipping).
  4. The transcript must not contain tamper vocabulary (edited, photoshop, ...).
  5. Error Level Analysis recompresses the page and flags unusual error levels.

The run stops at the first failed check. Settings are read from the environment
and an optional .env file; see the README for the full list.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("Invoiceguard CLI executed")

		fmt.Println("Welcome to Invoiceguard!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

// Execute runs the CLI with the configuration loaded at startup. A
// configuration error is reported by the commands that need it.
func Execute(cfg *config.Config, cfgErr error) {
	appConfig = cfg
	appConfigErr = cfgErr

	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

// requireConfig returns the startup configuration or the reason it is missing.
func requireConfig() (*config.Config, error) {
	if appConfig == nil {
		if appConfigErr != nil {
			return nil, fmt.Errorf("invalid configuration: %w", appConfigErr)
		}
		return nil, fmt.Errorf("configuration not loaded")
	}
	return appConfig, nil
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
