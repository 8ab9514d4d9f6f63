package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blinkup/internal/imp"
	"github.com/srg/blinkup/internal/provision"
	"golang.org/x/term"
)

// provisionCmd represents the provision command
var provisionCmd = &cobra.Command{
	Use:   "provision <device-address>",
	Short: "Write Wi-Fi settings to an imp and enroll it",
	Long: `Find an imp by address, write the Wi-Fi network and password to it and
apply the settings.

When an API key is available (--api-key, BLINKUP_API_KEY or the key stored
with 'blinkup apikey set') the device is also enrolled: a setup token is
created before anything is written, and after the settings are applied the
enrollment service is polled until the device checks in.

Without --ssid the networks visible to the device are listed and one can be
picked interactively; the password is prompted for when the network is locked.`,
	Example: `  blinkup provision AA:BB:CC:DD:EE:FF --ssid Home --password secret
  blinkup provision AA:BB:CC:DD:EE:FF --ssid Lab --hidden --no-enroll`,
	Args: cobra.ExactArgs(1),
	RunE: runProvision,
}

// networksCmd represents the networks command
var networksCmd = &cobra.Command{
	Use:   "networks <device-address>",
	Short: "List the Wi-Fi networks an imp can see",
	Args:  cobra.ExactArgs(1),
	RunE:  runNetworks,
}

// clearCmd represents the clear command
var clearCmd = &cobra.Command{
	Use:   "clear <device-address>",
	Short: "Clear the Wi-Fi and enrollment settings of an imp",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

var (
	provisionSSID     string
	provisionPassword string
	provisionHidden   bool
	provisionAPIKey   string
	provisionNoEnroll bool
	provisionNoStore  bool
	provisionFormat   string
	provisionOpen     bool
	provisionCopy     bool

	networksFormat string
	clearFormat    string
)

func init() {
	provisionCmd.Flags().StringVar(&provisionSSID, "ssid", "", "Network to join (prompted when empty)")
	provisionCmd.Flags().StringVar(&provisionPassword, "password", "", "Network password (prompted for locked networks)")
	provisionCmd.Flags().BoolVar(&provisionHidden, "hidden", false, "Join the hidden network the device reports, by --ssid")
	provisionCmd.Flags().StringVar(&provisionAPIKey, "api-key", "", "Enrollment API key (default: BLINKUP_API_KEY or the stored key)")
	provisionCmd.Flags().BoolVar(&provisionNoEnroll, "no-enroll", false, "Only write Wi-Fi settings, skip enrollment")
	provisionCmd.Flags().BoolVar(&provisionNoStore, "no-store", false, "Ignore the stored API key")
	provisionCmd.Flags().StringVarP(&provisionFormat, "format", "f", "", "Output format (table, json; default from config)")
	provisionCmd.Flags().BoolVar(&provisionOpen, "open", false, "Open the agent URL in a browser when done")
	provisionCmd.Flags().BoolVar(&provisionCopy, "copy", false, "Copy the agent URL to the clipboard when done")

	networksCmd.Flags().StringVarP(&networksFormat, "format", "f", "", "Output format (table, json; default from config)")
	clearCmd.Flags().StringVarP(&clearFormat, "format", "f", "", "Output format (table, json; default from config)")
}

func runNetworks(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, args[0], networksFormat, func(ctx context.Context, a *app, rec *imp.Record, format string) error {
		p, err := a.provisioner(a.sink(), false)
		if err != nil {
			return err
		}
		networks, err := p.FetchNetworks(ctx, rec)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), networks)
		}
		writeNetworks(cmd.OutOrStdout(), networks)
		return nil
	})
}

func runClear(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, args[0], clearFormat, func(ctx context.Context, a *app, rec *imp.Record, format string) error {
		progress := NewProgressPrinter(cmd.OutOrStdout(), "Clearing "+rec.Address(), "connecting",
			string(provision.EventCleared), string(provision.EventFailed))
		defer progress.Stop()
		p, err := a.provisioner(a.sink(progress.Sink()), false)
		if err != nil {
			return err
		}
		if isTerminal(cmd.OutOrStdout()) && format != "json" {
			progress.Start()
		}
		res, err := p.Clear(ctx, rec)
		progress.Stop()
		if err != nil {
			return err
		}
		return writeResult(cmd.OutOrStdout(), res, format)
	})
}

func runProvision(cmd *cobra.Command, args []string) error {
	if provisionHidden && provisionSSID == "" {
		return fmt.Errorf("%w: --hidden needs --ssid", provision.ErrConfigurationInvalid)
	}
	if provisionAPIKey != "" && provisionNoEnroll {
		return fmt.Errorf("%w: --api-key and --no-enroll are mutually exclusive", provision.ErrConfigurationInvalid)
	}

	return withDevice(cmd, args[0], provisionFormat, func(ctx context.Context, a *app, rec *imp.Record, format string) error {
		progress := NewProgressPrinter(cmd.OutOrStdout(), "Provisioning "+rec.Address(), "connecting",
			string(provision.EventCompleted), string(provision.EventFailed))
		defer progress.Stop()
		p, err := a.provisioner(a.sink(progress.Sink()), !provisionNoStore)
		if err != nil {
			return err
		}

		req := provision.Request{
			SSID:           provisionSSID,
			Password:       provisionPassword,
			Hidden:         provisionHidden,
			APIKey:         provisionAPIKey,
			SkipEnrollment: provisionNoEnroll,
		}
		if req.APIKey == "" && !req.SkipEnrollment {
			req.APIKey = a.cfg.APIKey
		}

		if req.SSID == "" {
			prompt := newPrompter(cmd)
			networks, err := p.FetchNetworks(ctx, rec)
			if err != nil {
				return err
			}
			network, err := prompt.chooseNetwork(networks)
			if err != nil {
				return err
			}
			req.SSID, req.Hidden = network.SSID, network.Hidden()
			if req.Hidden {
				if req.SSID, err = prompt.line("Hidden network name: "); err != nil {
					return err
				}
			}
			if network.Locked && req.Password == "" {
				if req.Password, err = prompt.secret(fmt.Sprintf("Password for %s: ", req.SSID)); err != nil {
					return err
				}
			}
		}

		if isTerminal(cmd.OutOrStdout()) && format != "json" {
			progress.Start()
		}
		res, err := p.Provision(ctx, rec, req)
		progress.Stop()
		if res == nil {
			return err
		}

		if werr := writeResult(cmd.OutOrStdout(), res, format); werr != nil {
			return werr
		}
		if errors.Is(err, provision.ErrEnrollmentTimedOut) {
			// Settings were applied; only the enrollment outcome is unknown.
			color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "WARNING: %s\n", FormatUserError(err))
			err = nil
		}
		if err == nil {
			shareAgentURL(a, res.AgentURL, provisionCopy, provisionOpen)
		}
		return err
	})
}

func writeNetworks(w io.Writer, networks []imp.Network) {
	for i, n := range networks {
		state := "open"
		if n.Locked {
			state = "locked"
		}
		fmt.Fprintf(w, "%2d) %-32s %s\n", i+1, n.DisplayName(), state)
	}
}

func writeResult(w io.Writer, res *provision.Result, format string) error {
	if format == "json" {
		return writeJSON(w, res)
	}

	var headline string
	switch res.Status {
	case provision.StatusEnrolled:
		headline = color.GreenString("Device enrolled")
	case provision.StatusCompleted:
		headline = color.GreenString("Wi-Fi settings applied")
	case provision.StatusEnrollmentUnknown:
		headline = color.YellowString("Wi-Fi settings applied, enrollment status unknown")
	case provision.StatusCleared:
		headline = color.GreenString("Device settings cleared")
	default:
		headline = string(res.Status)
	}
	fmt.Fprintln(w, headline)
	fmt.Fprintf(w, "  Device ID: %s\n", res.DeviceID)
	if res.Status != provision.StatusCleared {
		fmt.Fprintf(w, "  Network:   %s\n", res.Network.DisplayName())
	}
	if res.AgentURL != "" {
		fmt.Fprintf(w, "  Agent URL: %s\n", res.AgentURL)
	}
	return nil
}

// prompter asks questions on the command's stdin and stdout.
type prompter struct {
	in  *bufio.Reader
	raw io.Reader
	out io.Writer
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{
		in:  bufio.NewReader(cmd.InOrStdin()),
		raw: cmd.InOrStdin(),
		out: cmd.OutOrStdout(),
	}
}

func (p *prompter) line(question string) (string, error) {
	fmt.Fprint(p.out, question)
	answer, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || answer == "") {
		return "", fmt.Errorf("%w: %w", ErrNoSelection, err)
	}
	return strings.TrimRight(answer, "\r\n"), nil
}

// secret reads without echo when stdin is a terminal.
func (p *prompter) secret(question string) (string, error) {
	f, ok := p.raw.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.line(question)
	}
	fmt.Fprint(p.out, question)
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *prompter) chooseNetwork(networks []imp.Network) (imp.Network, error) {
	writeNetworks(p.out, networks)
	answer, err := p.line(fmt.Sprintf("Select a network [1-%d]: ", len(networks)))
	if err != nil {
		return imp.Network{}, err
	}
	return pickNetwork(networks, answer)
}

// pickNetwork resolves an answer given as a list number or an SSID.
func pickNetwork(networks []imp.Network, answer string) (imp.Network, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return imp.Network{}, ErrNoSelection
	}
	if i, err := strconv.Atoi(answer); err == nil {
		if i < 1 || i > len(networks) || networks[i-1].IsPlaceholder() {
			return imp.Network{}, fmt.Errorf("%w: %d is not in the list", ErrNoSelection, i)
		}
		return networks[i-1], nil
	}
	if n, ok := imp.FindNetwork(networks, answer, false); ok {
		return n, nil
	}
	return imp.Network{}, fmt.Errorf("%w: %q is not in the list", ErrNoSelection, answer)
}
