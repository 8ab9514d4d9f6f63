// Package device defines the transport contract blinkup uses to talk to BLE
// peripherals, independent of the backing BLE library.
//
// A backend implements Adapter (power check, filtered scanning, connecting)
// and Connection (service/characteristic discovery, reads, writes). Every
// call blocks the calling goroutine until the transport completes or the
// context is cancelled; callers serialize operations per peripheral.
package device
