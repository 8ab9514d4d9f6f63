package imp

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// NoNetworksSentinel is what firmware reports when it sees no networks.
	NoNetworksSentinel = "!no_local_networks!"

	// HiddenLabel is the display label of a network broadcasting an empty SSID.
	HiddenLabel = "[Hidden]"

	// PlaceholderSSID names the entry shown before any network list was read.
	PlaceholderSSID = "None"

	lockedToken = "locked"
)

var (
	// ErrNoNetworks is returned when the device reports that no networks are visible.
	ErrNoNetworks = errors.New("no networks visible to device")

	// ErrMalformedNetworkList is returned for payloads that do not follow the list encoding.
	ErrMalformedNetworkList = errors.New("malformed network list")
)

// Network is one Wi-Fi network visible to the device.
type Network struct {
	SSID   string `json:"ssid"`
	Locked bool   `json:"locked"`
}

// Placeholder is the entry used while no network list is known.
var Placeholder = Network{SSID: PlaceholderSSID}

// Hidden reports whether the network does not broadcast its SSID.
func (n Network) Hidden() bool { return n.SSID == "" }

// IsPlaceholder reports whether n is the "None" placeholder entry.
func (n Network) IsPlaceholder() bool { return n == Placeholder }

// DisplayName is the name shown to users.
func (n Network) DisplayName() string {
	if n.Hidden() {
		return HiddenLabel
	}
	return n.SSID
}

func (n Network) String() string {
	state := "unlocked"
	if n.Locked {
		state = lockedToken
	}
	return fmt.Sprintf("%s (%s)", n.DisplayName(), state)
}

// ParseNetworks decodes the network-list characteristic.
//
// Entries are separated by a blank line; within an entry the first line is
// the SSID (empty for hidden networks) and the second the lock state.
func ParseNetworks(payload []byte) ([]Network, error) {
	text := strings.TrimRight(string(payload), "\x00")
	if text == "" || text == NoNetworksSentinel {
		return nil, ErrNoNetworks
	}

	entries := strings.Split(text, "\n\n")
	networks := make([]Network, 0, len(entries))
	for i, entry := range entries {
		fields := strings.Split(entry, "\n")
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: entry %d has %d field(s)", ErrMalformedNetworkList, i, len(fields))
		}
		networks = append(networks, Network{
			SSID:   fields[0],
			Locked: fields[1] == lockedToken,
		})
	}
	return networks, nil
}

// FindNetwork looks up a network by SSID. With hidden set it returns the first
// hidden entry instead.
func FindNetwork(networks []Network, ssid string, hidden bool) (Network, bool) {
	for _, n := range networks {
		if hidden && n.Hidden() {
			return n, true
		}
		if !hidden && !n.Hidden() && n.SSID == ssid {
			return n, true
		}
	}
	return Network{}, false
}
