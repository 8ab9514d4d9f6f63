package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
)

// ScanDialer is the part of ble.Device the adapter relies on.
type ScanDialer interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ScanDialer, error) {
	return newPlatformDevice()
}

// Adapter implements device.Adapter on top of go-ble.
// The platform device is created lazily on first use and shared by all connections.
type Adapter struct {
	mu     sync.Mutex
	dev    ScanDialer
	logger *logrus.Logger
}

// NewAdapter creates a go-ble backed adapter
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

var _ device.Adapter = (*Adapter)(nil)

// Enable creates the platform device. CoreBluetooth refuses to initialise while
// the radio is off, which surfaces here as device.ErrBluetoothOff.
func (a *Adapter) Enable(ctx context.Context) error {
	_, err := a.device(ctx)
	return err
}

func (a *Adapter) device(ctx context.Context) (ScanDialer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev != nil {
		return a.dev, nil
	}

	dev, err := device.Await(ctx, DeviceFactory)
	if err != nil {
		a.logger.WithError(err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", device.NormalizeError(err))
	}
	a.dev = dev
	return dev, nil
}

// Scan filters advertisements by service UUID and forwards the matches to handler.
func (a *Adapter) Scan(ctx context.Context, services []string, handler func(device.Advertisement)) error {
	dev, err := a.device(ctx)
	if err != nil {
		return err
	}

	wanted := device.NormalizeUUIDs(services)
	a.logger.WithField("services", wanted).Debug("Starting go-ble scan...")

	err = dev.Scan(ctx, false, func(adv ble.Advertisement) {
		wrapped := NewBLEAdvertisement(adv)
		if !advertisesAny(wrapped, wanted) {
			return
		}
		handler(wrapped)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil
		}
		return device.NormalizeError(err)
	}
	return nil
}

// Connect dials the peripheral and wraps the resulting client.
func (a *Adapter) Connect(ctx context.Context, address string) (device.Connection, error) {
	dev, err := a.device(ctx)
	if err != nil {
		return nil, err
	}

	a.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}

	return newConnection(address, client, a.logger), nil
}
