package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/groutine"
)

// BLEConnection represents a live go-ble client link.
// GATT operations are serialized; go-ble does not order concurrent requests.
type BLEConnection struct {
	address string
	client  ble.Client
	logger  *logrus.Logger

	opMutex  sync.Mutex
	services map[string]*ble.Service
	chars    map[string]map[string]*ble.Characteristic

	done      chan struct{}
	closeOnce sync.Once
}

var _ device.Connection = (*BLEConnection)(nil)

func newConnection(address string, client ble.Client, logger *logrus.Logger) *BLEConnection {
	c := &BLEConnection{
		address:  address,
		client:   client,
		logger:   logger,
		services: make(map[string]*ble.Service),
		chars:    make(map[string]map[string]*ble.Characteristic),
		done:     make(chan struct{}),
	}

	// Monitor go-ble client Disconnected() channel
	if notifier, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "goble-disconnect-monitor", func(context.Context) {
			select {
			case <-notifier.Disconnected():
				c.logger.WithField("address", address).Debug("Peripheral reported disconnection")
				c.markClosed()
			case <-c.done:
			}
		})
	}
	return c
}

func (c *BLEConnection) Address() string { return c.address }

func (c *BLEConnection) DiscoverServices(ctx context.Context) ([]string, error) {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	svcs, err := device.Await(ctx, func() ([]*ble.Service, error) {
		return c.client.DiscoverServices(nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
	}

	uuids := make([]string, 0, len(svcs))
	for _, s := range svcs {
		u := device.NormalizeUUID(s.UUID.String())
		if _, seen := c.services[u]; !seen {
			uuids = append(uuids, u)
		}
		c.services[u] = s
	}
	return uuids, nil
}

func (c *BLEConnection) DiscoverCharacteristics(ctx context.Context, service string) ([]string, error) {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	svcUUID := device.NormalizeUUID(service)
	svc, ok := c.services[svcUUID]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}

	chars, err := device.Await(ctx, func() ([]*ble.Characteristic, error) {
		return c.client.DiscoverCharacteristics(nil, svc)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics of %s: %w", svcUUID, device.NormalizeError(err))
	}

	byUUID := make(map[string]*ble.Characteristic, len(chars))
	uuids := make([]string, 0, len(chars))
	for _, ch := range chars {
		u := device.NormalizeUUID(ch.UUID.String())
		if _, seen := byUUID[u]; !seen {
			uuids = append(uuids, u)
		}
		byUUID[u] = ch
	}
	c.chars[svcUUID] = byUUID

	c.logger.WithFields(logrus.Fields{
		"address":         c.address,
		"service_uuid":    svcUUID,
		"characteristics": len(uuids),
	}).Debug("Characteristics discovered")
	return uuids, nil
}

func (c *BLEConnection) characteristic(service, uuid string) (*ble.Characteristic, error) {
	chars, ok := c.chars[device.NormalizeUUID(service)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	ch, ok := chars[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return ch, nil
}

func (c *BLEConnection) Read(ctx context.Context, service, characteristic string) ([]byte, error) {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	ch, err := c.characteristic(service, characteristic)
	if err != nil {
		return nil, err
	}

	data, err := device.Await(ctx, func() ([]byte, error) {
		return c.client.ReadCharacteristic(ch)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", device.NormalizeUUID(characteristic), device.NormalizeError(err))
	}
	return data, nil
}

func (c *BLEConnection) Write(ctx context.Context, service, characteristic string, data []byte) error {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	ch, err := c.characteristic(service, characteristic)
	if err != nil {
		return err
	}

	_, err = device.Await(ctx, func() (struct{}, error) {
		return struct{}{}, c.client.WriteCharacteristic(ch, data, false)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", device.NormalizeUUID(characteristic), device.NormalizeError(err))
	}
	return nil
}

// Disconnect cancels the link. Calling it on a closed connection is a no-op.
func (c *BLEConnection) Disconnect() error {
	select {
	case <-c.done:
		c.logger.WithField("address", c.address).Debug("Disconnect called but already disconnected")
		return nil
	default:
	}

	c.logger.WithField("address", c.address).Info("Disconnecting BLE device...")
	err := c.client.CancelConnection()
	c.markClosed()
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", device.NormalizeError(err))
	}
	return nil
}

func (c *BLEConnection) Disconnected() <-chan struct{} { return c.done }

func (c *BLEConnection) markClosed() {
	c.closeOnce.Do(func() { close(c.done) })
}
