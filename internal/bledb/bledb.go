// Package bledb normalizes BLE UUIDs and names the attributes blinkup talks to.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID (0000xxxx-0000-1000-8000-00805f9b34fb)
// in normalized form.
const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"180a":                             "Device Information",
	"fada47bec45548c9a5f2af7cf368d719": "imp Provisioning",
}

var characteristics = map[string]string{
	"2a23":                             "Agent URL",
	"2a24":                             "Model Number String",
	"2a25":                             "Serial Number String",
	"2a26":                             "Firmware Revision String",
	"57a9ed95add54913849457759b79a46c": "WiFi Network List",
	"5eba195632d347c681a6a7e59f18dac0": "WiFi SSID",
	"ed694ab947564528aa3a799a4fd11117": "WiFi Password",
	"a90ab0dc7b5c439a9ab52107e0bd816e": "Enrollment Plan ID",
	"bd107d3e48784f6daf3dda3b234ff584": "Enrollment Token",
	"f299c3428a8a4544ac4208c841737b1b": "Apply Settings",
	"2be5ddba32864d09a652f24faa514af5": "Clear Settings",
}

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Strips a 0x prefix and surrounding braces. Full 128-bit UUIDs built on the
// Bluetooth SIG base are reduced to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.Trim(u, "{}")
	u = strings.ReplaceAll(u, "-", "")

	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// LookupService returns the known name of a service, or "" if unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the known name of a characteristic, or "" if unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}
