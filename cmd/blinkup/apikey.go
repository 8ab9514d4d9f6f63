package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/blinkup/internal/enroll"
	"github.com/srg/blinkup/internal/provision"
)

// apikeyCmd groups the API key subcommands
var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage the stored enrollment API key",
	Long: `Manage the enrollment API key kept in the encrypted credential store.

The stored key is used by 'blinkup provision' unless --api-key, BLINKUP_API_KEY
or --no-enroll say otherwise.`,
}

var apikeySetCmd = &cobra.Command{
	Use:   "set [key]",
	Short: "Store the API key (prompted when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAPIKeySet,
}

var apikeyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored API key, masked",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyShow,
}

var apikeyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored API key",
	Args:  cobra.NoArgs,
	RunE:  runAPIKeyClear,
}

func init() {
	apikeyCmd.AddCommand(apikeySetCmd)
	apikeyCmd.AddCommand(apikeyShowCmd)
	apikeyCmd.AddCommand(apikeyClearCmd)
}

func runAPIKeySet(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	store, err := a.keyStore()
	if err != nil {
		return err
	}

	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		if key, err = newPrompter(cmd).secret("API key: "); err != nil {
			return err
		}
	}
	key = strings.TrimSpace(key)
	if err := enroll.ValidateAPIKey(key); err != nil {
		return err
	}

	cmd.SilenceUsage = true
	if err := store.Set(provision.APIKeyCredential, key); err != nil {
		return fmt.Errorf("store API key: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "API key %s stored\n", maskKey(key))
	return nil
}

func runAPIKeyShow(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	store, err := a.keyStore()
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	key, ok, err := store.Get(provision.APIKeyCredential)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoAPIKey
	}
	fmt.Fprintln(cmd.OutOrStdout(), maskKey(key))
	return nil
}

func runAPIKeyClear(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	store, err := a.keyStore()
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true
	if err := store.Delete(provision.APIKeyCredential); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "API key removed")
	return nil
}

// maskKey hides all but the last four characters.
func maskKey(key string) string {
	const visible = 4
	if len(key) <= visible {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-visible) + key[len(key)-visible:]
}
