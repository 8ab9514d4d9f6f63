package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blinkup",
	Short: "Provision imp devices over Bluetooth Low Energy",
	Long: `Bluetooth Low Energy (BLE) provisioning tool for imp devices:

- Scan for nearby imps and read their identity (serial, model, agent URL, OS version)
- List the Wi-Fi networks an imp can see
- Write Wi-Fi credentials and enroll the imp with the cloud service
- Clear the Wi-Fi settings of an imp
- Keep the enrollment API key in an encrypted local store

Imps that require the BlinkUp PIN are retried until the PIN is entered on the device.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("blinkup {{.Version}} (commit %s, built %s)\n", commit, date))

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(apikeyCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default is $XDG_CONFIG_HOME/blinkup/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "BLE backend (goble, tinygo)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
