package devicefactory

import (
	"testing"

	goble "github.com/srg/blinkup/internal/device/go-ble"
	"github.com/srg/blinkup/internal/device/tinygo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterFactory(t *testing.T) {
	a, err := AdapterFactory("", nil)
	require.NoError(t, err)
	assert.IsType(t, &goble.Adapter{}, a, "empty backend MUST default to go-ble")

	a, err = AdapterFactory(BackendTinyGo, nil)
	require.NoError(t, err)
	assert.IsType(t, &tinygo.Adapter{}, a)

	_, err = AdapterFactory("bluez-raw", nil)
	assert.ErrorContains(t, err, "unknown BLE backend")
}

func TestBackends(t *testing.T) {
	assert.Equal(t, []string{"goble", "tinygo"}, Backends())
}
