package main

import (
	"errors"
	"fmt"

	"github.com/srg/blinkup/internal/credstore"
	"github.com/srg/blinkup/internal/enroll"
	"github.com/srg/blinkup/internal/provision"
	"github.com/srg/blinkup/scanner"
)

// Command-level errors
var (
	// ErrNoAPIKey is returned by "apikey show" when nothing is stored.
	ErrNoAPIKey = errors.New("no API key stored")

	// ErrNoSelection is returned when an interactive prompt gets no usable answer.
	ErrNoSelection = errors.New("no network selected")
)

// userHints maps error kinds to advice, checked in order.
var userHints = []struct {
	target error
	hint   string
}{
	{provision.ErrBluetoothUnavailable, "turn Bluetooth on and allow this program to use it"},
	{scanner.ErrDeviceNotFound, "make sure the imp is powered and in range, then scan again"},
	{provision.ErrNotProvisionable, "the device is not an imp that accepts BLE provisioning"},
	{provision.ErrPinTimeout, "enter the BlinkUp PIN on the device when asked, then try again"},
	{provision.ErrConnectTimeout, "move closer to the device or power-cycle it"},
	{provision.ErrNoNetworksAvailable, "the imp sees no Wi-Fi networks; check the access point"},
	{enroll.ErrInvalidAPIKey, "check the API key, or store a new one with 'blinkup apikey set'"},
	{provision.ErrEnrollmentSetupFailed, "the enrollment service could not be reached; retry or use --no-enroll"},
	{provision.ErrEnrollmentTimedOut, "the settings were written but the device did not check in yet"},
	{provision.ErrSessionBusy, "another operation is already running on this device"},
	{credstore.ErrCorrupt, "remove the credential store and set the API key again"},
	{ErrNoAPIKey, "store one with 'blinkup apikey set'"},
}

// FormatUserError renders err for the terminal, adding a hint for known failures.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	for _, h := range userHints {
		if errors.Is(err, h.target) {
			return fmt.Sprintf("%s\n  hint: %s", err, h.hint)
		}
	}
	return err.Error()
}
