// Package imp models imp devices as seen over BLE: the GATT contract they
// expose, the per-device record built while probing them, and the registry of
// devices discovered in a scan.
package imp

import "github.com/srg/blinkup/internal/device"

// Provisioning service and its characteristics. Values must match device firmware.
var (
	ProvisioningService = device.NormalizeUUID("FADA47BE-C455-48C9-A5F2-AF7CF368D719")

	CharNetworkList  = device.NormalizeUUID("57A9ED95-ADD5-4913-8494-57759B79A46C")
	CharSSID         = device.NormalizeUUID("5EBA1956-32D3-47C6-81A6-A7E59F18DAC0")
	CharPassword     = device.NormalizeUUID("ED694AB9-4756-4528-AA3A-799A4FD11117")
	CharPlanID       = device.NormalizeUUID("A90AB0DC-7B5C-439A-9AB5-2107E0BD816E")
	CharToken        = device.NormalizeUUID("BD107D3E-4878-4F6D-AF3D-DA3B234FF584")
	CharApplyTrigger = device.NormalizeUUID("F299C342-8A8A-4544-AC42-08C841737B1B")
	CharClearTrigger = device.NormalizeUUID("2BE5DDBA-3286-4D09-A652-F24FAA514AF5")
)

// Device information service (Bluetooth SIG 0x180A) as used by imp firmware.
var (
	DeviceInfoService = device.NormalizeUUID("180A")

	CharSerial   = device.NormalizeUUID("2A25")
	CharModel    = device.NormalizeUUID("2A24")
	CharAgentURL = device.NormalizeUUID("2A23")
	CharVersion  = device.NormalizeUUID("2A26")
)

// Fixed trigger payloads. Firmware only reacts to the write event.
var (
	ApplyPayload = []byte("reset")
	ClearPayload = []byte("clear")
)

// UnknownDeviceID is shown for devices that do not expose a serial number.
const UnknownDeviceID = "Unknown"
