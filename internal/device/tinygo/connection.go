package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
	"tinygo.org/x/bluetooth"
)

// readBufferSize covers the longest attribute value the ATT layer can return.
const readBufferSize = 512

// Connection is a tinygo bluetooth link implementing device.Connection.
type Connection struct {
	address string
	dev     bluetooth.Device
	logger  *logrus.Logger

	opMutex  sync.Mutex
	services map[string]bluetooth.DeviceService
	chars    map[string]map[string]bluetooth.DeviceCharacteristic

	done      chan struct{}
	closeOnce sync.Once
}

var _ device.Connection = (*Connection)(nil)

func newConnection(address string, dev bluetooth.Device, logger *logrus.Logger) *Connection {
	return &Connection{
		address:  address,
		dev:      dev,
		logger:   logger,
		services: make(map[string]bluetooth.DeviceService),
		chars:    make(map[string]map[string]bluetooth.DeviceCharacteristic),
		done:     make(chan struct{}),
	}
}

func (c *Connection) Address() string { return c.address }

func (c *Connection) DiscoverServices(ctx context.Context) ([]string, error) {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	svcs, err := device.Await(ctx, func() ([]bluetooth.DeviceService, error) {
		return c.dev.DiscoverServices(nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
	}

	uuids := make([]string, 0, len(svcs))
	for _, s := range svcs {
		u := device.NormalizeUUID(s.UUID().String())
		if _, seen := c.services[u]; !seen {
			uuids = append(uuids, u)
		}
		c.services[u] = s
	}
	return uuids, nil
}

func (c *Connection) DiscoverCharacteristics(ctx context.Context, service string) ([]string, error) {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	svcUUID := device.NormalizeUUID(service)
	svc, ok := c.services[svcUUID]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}

	chars, err := device.Await(ctx, func() ([]bluetooth.DeviceCharacteristic, error) {
		return svc.DiscoverCharacteristics(nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics of %s: %w", svcUUID, device.NormalizeError(err))
	}

	byUUID := make(map[string]bluetooth.DeviceCharacteristic, len(chars))
	uuids := make([]string, 0, len(chars))
	for _, ch := range chars {
		u := device.NormalizeUUID(ch.UUID().String())
		if _, seen := byUUID[u]; !seen {
			uuids = append(uuids, u)
		}
		byUUID[u] = ch
	}
	c.chars[svcUUID] = byUUID
	return uuids, nil
}

func (c *Connection) characteristic(service, uuid string) (bluetooth.DeviceCharacteristic, error) {
	chars, ok := c.chars[device.NormalizeUUID(service)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	ch, ok := chars[device.NormalizeUUID(uuid)]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return ch, nil
}

func (c *Connection) Read(ctx context.Context, service, characteristic string) ([]byte, error) {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	ch, err := c.characteristic(service, characteristic)
	if err != nil {
		return nil, err
	}

	data, err := device.Await(ctx, func() ([]byte, error) {
		buf := make([]byte, readBufferSize)
		n, err := ch.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", device.NormalizeUUID(characteristic), device.NormalizeError(err))
	}
	return data, nil
}

func (c *Connection) Write(ctx context.Context, service, characteristic string, data []byte) error {
	c.opMutex.Lock()
	defer c.opMutex.Unlock()

	ch, err := c.characteristic(service, characteristic)
	if err != nil {
		return err
	}

	_, err = device.Await(ctx, func() (int, error) {
		return ch.Write(data)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", device.NormalizeUUID(characteristic), device.NormalizeError(err))
	}
	return nil
}

func (c *Connection) Disconnect() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.logger.WithField("address", c.address).Info("Disconnecting BLE device...")
	err := c.dev.Disconnect()
	c.markClosed()
	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", device.NormalizeError(err))
	}
	return nil
}

func (c *Connection) Disconnected() <-chan struct{} { return c.done }

func (c *Connection) markClosed() {
	c.closeOnce.Do(func() { close(c.done) })
}
