package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blinkup/internal/credstore"
	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/devicefactory"
	"github.com/srg/blinkup/internal/enroll"
	"github.com/srg/blinkup/internal/imp"
	"github.com/srg/blinkup/internal/notify"
	"github.com/srg/blinkup/internal/provision"
	"github.com/srg/blinkup/pkg/config"
	"github.com/srg/blinkup/scanner"
	"golang.org/x/term"
)

// app carries what every command needs: configuration, logger, the BLE
// adapter and the optional MQTT event sink.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	adapter device.Adapter
	mqtt    *notify.MQTTSink
}

// loadApp reads configuration and logger settings only; commands that do not
// talk to devices use it directly.
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backend, _ := cmd.Flags().GetString("backend"); backend != "" {
		cfg.Backend = backend
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// newApp loads the configuration and creates the BLE adapter and, when a
// broker is configured, the MQTT sink.
func newApp(cmd *cobra.Command) (*app, error) {
	a, err := loadApp(cmd)
	if err != nil {
		return nil, err
	}

	a.adapter, err = devicefactory.AdapterFactory(a.cfg.Backend, a.logger)
	if err != nil {
		return nil, err
	}

	if a.cfg.MQTT.Broker != "" {
		a.mqtt, err = notify.Dial(notify.Options{
			Broker:   a.cfg.MQTT.Broker,
			Topic:    a.cfg.MQTT.Topic,
			ClientID: a.cfg.MQTT.ClientID,
			Username: a.cfg.MQTT.Username,
			Password: a.cfg.MQTT.Password,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("event publishing: %w", err)
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.mqtt != nil {
		a.mqtt.Close()
	}
}

// sink combines the MQTT sink (if any) with command-local sinks.
func (a *app) sink(extra ...provision.Sink) provision.Sink {
	var sinks provision.MultiSink
	if a.mqtt != nil {
		sinks = append(sinks, a.mqtt)
	}
	return append(sinks, extra...)
}

func (a *app) newScanner(sink provision.Sink) *scanner.Scanner {
	prober := provision.NewProber(a.adapter, a.cfg.PinRetry, a.cfg.ConnectTimeout, sink, a.logger)
	return scanner.NewScanner(a.adapter, prober, imp.NewRegistry(), sink, a.logger)
}

func (a *app) keyStore() (*credstore.FileStore, error) {
	dir := a.cfg.Credentials.Dir
	if dir == "" {
		var err error
		if dir, err = credstore.DefaultDir(); err != nil {
			return nil, err
		}
	}
	return credstore.NewFileStore(dir), nil
}

// provisioner builds a Provisioner. Without persistentKeys the stored API key
// is never read and nothing touches the credential directory.
func (a *app) provisioner(sink provision.Sink, persistentKeys bool) (*provision.Provisioner, error) {
	var keys credstore.Store = credstore.NewMemoryStore()
	if persistentKeys {
		fs, err := a.keyStore()
		if err != nil {
			return nil, err
		}
		keys = fs
	}
	client := enroll.NewClient(enroll.Options{
		BaseURL:        a.cfg.Enrollment.BaseURL,
		PollInterval:   a.cfg.Enrollment.PollInterval,
		RequestTimeout: a.cfg.Enrollment.RequestTimeout,
		Logger:         a.logger,
	})
	return provision.NewProvisioner(a.adapter, client, keys, a.cfg.SessionConfig(), sink, a.logger), nil
}

// findDevice scans until the imp at address is Ready.
func (a *app) findDevice(ctx context.Context, cmd *cobra.Command, s *scanner.Scanner, address string) (*imp.Record, error) {
	progress := a.progress(cmd, fmt.Sprintf("Looking for %s", address), "Scanning", a.cfg.ScanTimeout)
	defer progress.Stop()

	rec, err := s.Find(ctx, address, &scanner.ScanOptions{Timeout: a.cfg.ScanTimeout})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// progress returns a started countdown printer, or a stopped one when stdout
// is not a terminal.
func (a *app) progress(cmd *cobra.Command, prefix, phase string, d time.Duration) *ProgressPrinter {
	p := NewCountdownProgressPrinter(cmd.OutOrStdout(), prefix, phase, d)
	if isTerminal(cmd.OutOrStdout()) {
		p.Start()
	}
	return p
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(cmd.Context())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
