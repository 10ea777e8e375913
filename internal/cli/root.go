package cli

import (
	"os"

	"github.com/spf13/cobra"

	apperr "github.com/ksyq12/mtlsctl/internal/errors"
	"github.com/ksyq12/mtlsctl/internal/logger"
	"github.com/ksyq12/mtlsctl/internal/output"
)

var (
	jsonOutput bool
	verbose    bool
	envFile    string
	version    = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mtlsctl",
	Short: "Private CA and mTLS gateway certificate manager",
	Long: `mtlsctl runs a private certificate authority for internal mTLS identities,
obtains public certificates over ACME, and keeps an nginx gateway chained to
the backend over mutual TLS.

Configuration is read from MTLSCTL_* environment variables, optionally loaded
from a .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	// Initialize logger based on flags (parsed by cobra)
	cobra.OnInitialize(func() {
		logger.Init(verbose)
		if jsonOutput {
			logger.SetFormat(logger.FormatJSON)
		}
	})

	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints the final failure line of a command
func reportError(err error) {
	if jsonOutput {
		_ = output.JSON(errorResult{
			Success: false,
			Code:    string(apperr.CodeOf(err)),
			Error:   err.Error(),
		})
		return
	}
	output.Summary(false, "%v", err)
}

// SetVersion sets the version string for the CLI
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging for debugging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
}
