// Package tinygo implements the blinkup transport contract on tinygo.org/x/bluetooth
// (BlueZ over D-Bus on Linux, CoreBluetooth on macOS, WinRT on Windows).
package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
	"tinygo.org/x/bluetooth"
)

// Adapter wraps a bluetooth.Adapter. Addresses seen while scanning are cached so
// Connect can reuse the exact platform address value.
type Adapter struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	mu          sync.Mutex
	seen        map[string]bluetooth.Address
	connections map[string]*Connection
}

var _ device.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter on bluetooth.DefaultAdapter
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		adapter:     bluetooth.DefaultAdapter,
		logger:      logger,
		seen:        make(map[string]bluetooth.Address),
		connections: make(map[string]*Connection),
	}
}

func (a *Adapter) Enable(ctx context.Context) error {
	a.enableOnce.Do(func() {
		_, a.enableErr = device.Await(ctx, func() (struct{}, error) {
			return struct{}{}, a.adapter.Enable()
		})
		if a.enableErr != nil {
			a.enableErr = fmt.Errorf("%w: %v", device.ErrBluetoothOff, a.enableErr)
			return
		}

		// The platform reports peer disconnects through the adapter-level handler.
		a.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
			if connected {
				return
			}
			addr := d.Address.String()
			a.mu.Lock()
			conn, ok := a.connections[addr]
			delete(a.connections, addr)
			a.mu.Unlock()
			if ok {
				a.logger.WithField("address", addr).Debug("Peripheral reported disconnection")
				conn.markClosed()
			}
		})
	})
	return a.enableErr
}

func (a *Adapter) Scan(ctx context.Context, services []string, handler func(device.Advertisement)) error {
	if err := a.Enable(ctx); err != nil {
		return err
	}

	wanted := make([]bluetooth.UUID, 0, len(services))
	for _, s := range services {
		u, err := parseUUID(s)
		if err != nil {
			return fmt.Errorf("invalid service UUID %q: %w", s, err)
		}
		wanted = append(wanted, u)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := a.adapter.StopScan(); err != nil {
				a.logger.WithError(err).Debug("StopScan failed")
			}
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !matchesAny(result, wanted) {
			return
		}
		addr := result.Address.String()
		a.mu.Lock()
		a.seen[addr] = result.Address
		a.mu.Unlock()
		handler(&advertisement{result: result, services: services})
	})
	if err != nil && ctx.Err() == nil {
		return device.NormalizeError(fmt.Errorf("scan failed: %w", err))
	}
	return nil
}

func matchesAny(result bluetooth.ScanResult, wanted []bluetooth.UUID) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, u := range wanted {
		if result.HasServiceUUID(u) {
			return true
		}
	}
	return false
}

func (a *Adapter) Connect(ctx context.Context, address string) (device.Connection, error) {
	if err := a.Enable(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	addr, ok := a.seen[address]
	a.mu.Unlock()
	if !ok {
		addr.Set(address)
	}

	a.logger.WithField("address", address).Debug("Connecting with tinygo bluetooth...")
	dev, err := device.Await(ctx, func() (bluetooth.Device, error) {
		return a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}

	conn := newConnection(address, dev, a.logger)
	a.mu.Lock()
	a.connections[address] = conn
	a.mu.Unlock()
	return conn, nil
}

func parseUUID(s string) (bluetooth.UUID, error) {
	n := device.NormalizeUUID(s)
	if len(n) == 4 {
		var v uint16
		if _, err := fmt.Sscanf(n, "%04x", &v); err != nil {
			return bluetooth.UUID{}, err
		}
		return bluetooth.New16BitUUID(v), nil
	}
	if len(n) != 32 {
		return bluetooth.UUID{}, fmt.Errorf("unsupported UUID length %d", len(n))
	}
	return bluetooth.ParseUUID(n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:])
}

type advertisement struct {
	result   bluetooth.ScanResult
	services []string
}

func (a *advertisement) LocalName() string { return a.result.LocalName() }
func (a *advertisement) Connectable() bool { return true }
func (a *advertisement) RSSI() int         { return int(a.result.RSSI) }
func (a *advertisement) Addr() string      { return a.result.Address.String() }

// Services reports the requested services the advertisement matched.
func (a *advertisement) Services() []string {
	matched := make([]string, 0, len(a.services))
	for _, s := range a.services {
		if u, err := parseUUID(s); err == nil && a.result.HasServiceUUID(u) {
			matched = append(matched, device.NormalizeUUID(s))
		}
	}
	return matched
}
