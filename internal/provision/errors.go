package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/imp"
)

// Error taxonomy shared by the identity probe and the provisioning session.
var (
	ErrBluetoothUnavailable  = errors.New("bluetooth unavailable")
	ErrTransport             = errors.New("transport error")
	ErrConnectTimeout        = errors.New("connect timed out")
	ErrPinTimeout            = errors.New("PIN authorization timed out")
	ErrNotProvisionable      = errors.New("device does not expose the provisioning service")
	ErrNoNetworksAvailable   = errors.New("device sees no Wi-Fi networks")
	ErrConfigurationInvalid  = errors.New("invalid configuration")
	ErrEnrollmentSetupFailed = errors.New("enrollment setup failed")
	ErrWriteFailed           = errors.New("write failed")
	ErrEnrollmentTimedOut    = errors.New("enrollment timed out")
	ErrSessionBusy           = errors.New("session already in progress")
	ErrNotReady              = errors.New("device is not ready")

	// ErrPending marks a read that has to be retried (PIN not yet accepted).
	ErrPending = errors.New("read pending")
)

// WriteError reports the characteristic whose write aborted a session.
type WriteError struct {
	Characteristic string
	Err            error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to %s failed: %v", charName(e.Characteristic), e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrWriteFailed, e.Err} }

// ProbeError is the Failed(reason) terminal state of an identity probe.
type ProbeError struct {
	Phase Phase
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe failed while %s: %v", e.Phase, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// transportErr classifies an adapter error into the taxonomy, keeping the cause.
func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case device.IsConnectionState(err, device.BluetoothOff):
		return fmt.Errorf("%s: %w: %w", op, ErrBluetoothUnavailable, err)
	case errors.Is(err, ErrTransport):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}
}

// busyErr maps a record contention error to ErrSessionBusy.
func busyErr(err error) error {
	if errors.Is(err, imp.ErrBusy) {
		return fmt.Errorf("%w: %w", ErrSessionBusy, err)
	}
	return err
}
