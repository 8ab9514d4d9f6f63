package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blinkup/internal/imp"
	"github.com/srg/blinkup/internal/provision"
	"github.com/srg/blinkup/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for imp devices",
	Long: `Scan for imp devices in range and read their identity.

Every imp advertising the provisioning service is connected to and probed for
its serial number, model, agent URL and OS version. Only devices whose probe
completes before the scan ends are listed. Devices that require the BlinkUp
PIN are retried while the scan runs.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration between 15s and 32s (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json; default from config)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only probe devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Never probe devices with these addresses")
}

func runScan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	format, err := outputFormat(scanFormat, a.cfg.OutputFormat)
	if err != nil {
		return err
	}
	opts := &scanner.ScanOptions{
		Timeout:   a.cfg.ScanTimeout,
		AllowList: scanAllowList,
		BlockList: scanBlockList,
	}
	if scanDuration > 0 {
		opts.Timeout = scanDuration
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := a.progress(cmd, "Scanning for imps", "Scanning", opts.Timeout)
	defer progress.Stop()
	s := a.newScanner(a.sink(scanCountSink(a)))

	outcome, err := s.Run(ctx, opts)
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.WithError(err).Error("scan failed")
		return err
	}
	a.logger.WithField("found", outcome.Found).WithField("reason", outcome.Reason).Debug("scan finished")

	return writeDevices(cmd.OutOrStdout(), s.Registry().Ready(), format)
}

// scanCountSink logs devices as they become ready or are dropped.
func scanCountSink(a *app) provision.Sink {
	return provision.SinkFunc(func(ev provision.Event) {
		switch ev.Kind {
		case provision.EventDeviceReady:
			a.logger.WithField("address", ev.Address).WithField("device_id", ev.Device).Info("imp ready")
		case provision.EventDeviceDropped:
			a.logger.WithField("address", ev.Address).WithField("error", ev.Error).Info("imp dropped")
		}
	})
}

// outputFormat picks the flag value over the configured one and validates it.
func outputFormat(flag, configured string) (string, error) {
	format := configured
	if flag != "" {
		format = flag
	}
	switch format {
	case "table", "json":
		return format, nil
	default:
		return "", fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
}

func writeDevices(w io.Writer, records []*imp.Record, format string) error {
	infos := make([]imp.Info, 0, len(records))
	for _, rec := range records {
		infos = append(infos, rec.Info())
	}

	if format == "json" {
		return writeJSON(w, infos)
	}

	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No imps found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tDEVICE ID\tMODEL\tOS VERSION\tPIN")
	for _, info := range infos {
		pin := ""
		if info.RequiresPin {
			pin = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			info.Address, orDash(info.Name), info.RSSI, info.DeviceID,
			orDash(info.Model), orDash(shortVersion(info.FirmwareVersion)), pin)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// shortVersion renders the semantic part of an imp OS version string, or the
// raw string when it does not parse.
func shortVersion(raw string) string {
	if raw == "" {
		return ""
	}
	v, err := imp.ParseFirmwareVersion(raw)
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return v.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
