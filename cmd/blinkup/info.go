package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/atotto/clipboard"
	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/srg/blinkup/internal/bledb"
	"github.com/srg/blinkup/internal/imp"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <device-address>",
	Short: "Show the identity of an imp",
	Long: `Find an imp by address, probe it and show its identity and GATT layout.

With --open the device's agent URL is opened in the default browser; with
--copy it is copied to the clipboard.`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var (
	infoFormat string
	infoOpen   bool
	infoCopy   bool
)

func init() {
	infoCmd.Flags().StringVarP(&infoFormat, "format", "f", "", "Output format (table, json; default from config)")
	infoCmd.Flags().BoolVar(&infoOpen, "open", false, "Open the agent URL in a browser")
	infoCmd.Flags().BoolVar(&infoCopy, "copy", false, "Copy the agent URL to the clipboard")
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, args[0], infoFormat, func(ctx context.Context, a *app, rec *imp.Record, format string) error {
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), deviceDetails(rec))
		}
		if err := writeInfo(cmd.OutOrStdout(), rec); err != nil {
			return err
		}
		shareAgentURL(a, rec.AgentURL(), infoCopy, infoOpen)
		return nil
	})
}

// details is the JSON form of the info command.
type details struct {
	imp.Info
	OSVersion       string                       `json:"os_version,omitempty"`
	Characteristics []imp.ServiceCharacteristics `json:"gatt"`
}

func deviceDetails(rec *imp.Record) details {
	info := rec.Info()
	return details{
		Info:            info,
		OSVersion:       shortVersion(info.FirmwareVersion),
		Characteristics: rec.CharacteristicTable(),
	}
}

func writeInfo(w io.Writer, rec *imp.Record) error {
	d := deviceDetails(rec)
	label := color.New(color.Bold).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", label("Address:"), d.Address)
	fmt.Fprintf(tw, "%s\t%s\n", label("Name:"), orDash(d.Name))
	fmt.Fprintf(tw, "%s\t%d dBm\n", label("RSSI:"), d.RSSI)
	fmt.Fprintf(tw, "%s\t%s\n", label("Device ID:"), d.DeviceID)
	fmt.Fprintf(tw, "%s\t%s\n", label("Model:"), orDash(d.Model))
	fmt.Fprintf(tw, "%s\t%s\n", label("OS version:"), orDash(d.OSVersion))
	fmt.Fprintf(tw, "%s\t%s\n", label("Agent URL:"), orDash(d.AgentURL))
	fmt.Fprintf(tw, "%s\t%t\n", label("Requires PIN:"), d.RequiresPin)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	for _, svc := range d.Characteristics {
		fmt.Fprintf(w, "Service %s\n", describeUUID(svc.Service, bledb.LookupService(svc.Service)))
		for _, c := range svc.Characteristics {
			fmt.Fprintf(w, "  %s\n", describeUUID(c, bledb.LookupCharacteristic(c)))
		}
	}
	return nil
}

func describeUUID(uuid, name string) string {
	if name == "" {
		return uuid
	}
	return fmt.Sprintf("%s (%s)", uuid, name)
}

// shareAgentURL copies and opens the agent URL when asked to.
// Failures are reported but never fail the command.
func shareAgentURL(a *app, agentURL string, copyURL, open bool) {
	if !copyURL && !open {
		return
	}
	if !strings.HasPrefix(agentURL, "http://") && !strings.HasPrefix(agentURL, "https://") {
		a.logger.WithField("agent_url", agentURL).Warn("device reported no agent URL")
		return
	}
	if copyURL {
		if err := clipboard.WriteAll(agentURL); err != nil {
			a.logger.WithError(err).Warn("could not copy the agent URL to the clipboard")
		}
	}
	if open {
		if err := browser.OpenURL(agentURL); err != nil {
			a.logger.WithError(err).Warn("could not open the agent URL")
		}
	}
}

// withDevice loads the app, validates the output format, finds the device
// and runs fn with a signal-aware context.
func withDevice(cmd *cobra.Command, address, formatFlag string, fn func(ctx context.Context, a *app, rec *imp.Record, format string) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	format, err := outputFormat(formatFlag, a.cfg.OutputFormat)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s := a.newScanner(a.sink())
	rec, err := a.findDevice(ctx, cmd, s, address)
	if err != nil {
		return err
	}
	defer a.release(rec)
	return fn(ctx, a, rec, format)
}

// release closes the link a PIN-gated device kept after the command.
func (a *app) release(rec *imp.Record) {
	conn := rec.DetachConnection()
	if conn == nil {
		return
	}
	if err := conn.Disconnect(); err != nil {
		a.logger.WithError(err).WithField("address", rec.Address()).Warn("Failed to disconnect")
	}
}
