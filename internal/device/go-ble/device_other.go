//go:build !darwin && !linux

package goble

import (
	"fmt"

	"github.com/srg/blinkup/internal/device"
)

func newPlatformDevice() (ScanDialer, error) {
	return nil, fmt.Errorf("go-ble backend: %w on this platform", device.ErrUnsupported)
}
