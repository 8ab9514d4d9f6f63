package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blinkup/internal/device"
)

// BLEAdvertisement wraps ble.Advertisement to implement device.Advertisement interface
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement creates a new BLEAdvertisement wrapper
func NewBLEAdvertisement(adv ble.Advertisement) *BLEAdvertisement {
	return &BLEAdvertisement{adv: adv}
}

var _ device.Advertisement = (*BLEAdvertisement)(nil)

func (a *BLEAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *BLEAdvertisement) Connectable() bool { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a *BLEAdvertisement) Addr() string      { return a.adv.Addr().String() }

// Services returns advertised and overflow service UUIDs, normalized.
func (a *BLEAdvertisement) Services() []string {
	advertised := a.adv.Services()
	overflow := a.adv.OverflowService()
	result := make([]string, 0, len(advertised)+len(overflow))
	for _, svc := range advertised {
		result = append(result, device.NormalizeUUID(svc.String()))
	}
	for _, svc := range overflow {
		result = append(result, device.NormalizeUUID(svc.String()))
	}
	return result
}

// advertisesAny reports whether the advertisement carries one of the wanted (normalized) services.
func advertisesAny(adv device.Advertisement, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, svc := range adv.Services() {
		for _, w := range wanted {
			if svc == w {
				return true
			}
		}
	}
	return false
}
