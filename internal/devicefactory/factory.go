// Package devicefactory builds the transport backend selected by configuration.
package devicefactory

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
	goble "github.com/srg/blinkup/internal/device/go-ble"
	"github.com/srg/blinkup/internal/device/tinygo"
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"
)

var backends = map[string]func(*logrus.Logger) device.Adapter{
	BackendGoBLE:  func(l *logrus.Logger) device.Adapter { return goble.NewAdapter(l) },
	BackendTinyGo: func(l *logrus.Logger) device.Adapter { return tinygo.NewAdapter(l) },
}

// AdapterFactory creates the device.Adapter for a backend name.
// This is a variable so that it can be overridden in tests.
var AdapterFactory = func(backend string, logger *logrus.Logger) (device.Adapter, error) {
	if backend == "" {
		backend = BackendGoBLE
	}
	build, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("unknown BLE backend %q (available: %v)", backend, Backends())
	}
	return build(logger), nil
}

// Backends lists the names accepted by AdapterFactory.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
