package imp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/srg/blinkup/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is the connection/discovery state of a device record.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Discovering
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Discovering:
		return "discovering"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrBusy is returned by Acquire while another operation owns the record.
	ErrBusy = errors.New("device record busy")

	// ErrNotDiscovering guards the characteristic table outside discovery.
	ErrNotDiscovering = errors.New("characteristics can only change while discovering")
)

// Record is everything known about one discovered imp.
// All methods are safe for concurrent use.
type Record struct {
	mu sync.RWMutex

	address string
	name    string
	rssi    int

	serial          string
	model           string
	firmwareVersion string
	agentURL        string

	state       State
	requiresPin bool

	services        *orderedmap.OrderedMap[string, bool]
	characteristics *orderedmap.OrderedMap[string, []string]
	networks        []Network

	conn     device.Connection
	activeOp string
}

// NewRecord creates a disconnected record for a peripheral address.
func NewRecord(address, name string) *Record {
	return &Record{
		address:         address,
		name:            name,
		services:        orderedmap.New[string, bool](),
		characteristics: orderedmap.New[string, []string](),
		networks:        []Network{Placeholder},
	}
}

func (r *Record) Address() string { return r.address }

func (r *Record) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// UpdateAdvertisement refreshes the advertised name and signal strength.
func (r *Record) UpdateAdvertisement(name string, rssi int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != "" {
		r.name = name
	}
	r.rssi = rssi
}

func (r *Record) RSSI() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rssi
}

func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Record) SetState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// RequiresPin reports whether a PIN-gated read was ever observed on this device.
func (r *Record) RequiresPin() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requiresPin
}

func (r *Record) MarkRequiresPin() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requiresPin = true
}

// SetIdentity stores the value read from one of the device-information characteristics.
func (r *Record) SetIdentity(char, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch device.NormalizeUUID(char) {
	case CharSerial:
		r.serial = value
	case CharModel:
		r.model = value
	case CharAgentURL:
		r.agentURL = value
	case CharVersion:
		r.firmwareVersion = value
	}
}

func (r *Record) Serial() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.serial
}

// DeviceID is the serial number, or UnknownDeviceID when the device did not report one.
func (r *Record) DeviceID() string {
	if s := r.Serial(); s != "" {
		return s
	}
	return UnknownDeviceID
}

func (r *Record) Model() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model
}

func (r *Record) FirmwareVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.firmwareVersion
}

func (r *Record) AgentURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agentURL
}

// SetServices records the discovered services in device order.
func (r *Record) SetServices(uuids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range uuids {
		r.services.Set(device.NormalizeUUID(u), true)
	}
}

func (r *Record) HasService(uuid string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, _ := r.services.Get(device.NormalizeUUID(uuid))
	return found
}

// Services returns the discovered service UUIDs in discovery order.
func (r *Record) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, r.services.Len())
	for pair := r.services.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// SetCharacteristics replaces the characteristic list of a service.
// Duplicates are dropped, first occurrence wins.
func (r *Record) SetCharacteristics(service string, chars []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Discovering && r.state != Ready {
		return fmt.Errorf("%w (state %s)", ErrNotDiscovering, r.state)
	}

	seen := make(map[string]struct{}, len(chars))
	list := make([]string, 0, len(chars))
	for _, c := range chars {
		n := device.NormalizeUUID(c)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		list = append(list, n)
	}
	r.characteristics.Set(device.NormalizeUUID(service), list)
	return nil
}

// Characteristics returns the characteristic UUIDs of a service in discovery order.
func (r *Record) Characteristics(service string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, _ := r.characteristics.Get(device.NormalizeUUID(service))
	return append([]string(nil), list...)
}

func (r *Record) HasCharacteristic(service, char string) bool {
	want := device.NormalizeUUID(char)
	for _, c := range r.Characteristics(service) {
		if c == want {
			return true
		}
	}
	return false
}

// ServiceCharacteristics pairs a service with its characteristics.
type ServiceCharacteristics struct {
	Service         string   `json:"service"`
	Characteristics []string `json:"characteristics"`
}

// CharacteristicTable returns every discovered service with its characteristics, in discovery order.
func (r *Record) CharacteristicTable() []ServiceCharacteristics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceCharacteristics, 0, r.characteristics.Len())
	for pair := r.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, ServiceCharacteristics{
			Service:         pair.Key,
			Characteristics: append([]string(nil), pair.Value...),
		})
	}
	return out
}

// Networks returns the last network list read from the device. Never empty.
func (r *Record) Networks() []Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Network(nil), r.networks...)
}

// SetNetworks replaces the network list wholesale; an empty list restores the placeholder.
func (r *Record) SetNetworks(networks []Network) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(networks) == 0 {
		r.networks = []Network{Placeholder}
		return
	}
	r.networks = append([]Network(nil), networks...)
}

// Connection returns the link kept open between operations, if any.
func (r *Record) Connection() device.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil {
		return nil
	}
	select {
	case <-r.conn.Disconnected():
		return nil
	default:
		return r.conn
	}
}

// AttachConnection keeps conn with the record for reuse by the next operation.
func (r *Record) AttachConnection(conn device.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = conn
}

// DetachConnection removes and returns the kept link.
func (r *Record) DetachConnection() device.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn := r.conn
	r.conn = nil
	return conn
}

// Acquire claims the record for one operation (probe or provisioning session).
// It fails immediately with ErrBusy while another operation holds it.
func (r *Record) Acquire(op string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeOp != "" {
		return nil, fmt.Errorf("%w: %s in progress", ErrBusy, r.activeOp)
	}
	r.activeOp = op

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.activeOp = ""
			r.mu.Unlock()
		})
	}, nil
}

// ActiveOperation names the operation currently holding the record, or "".
func (r *Record) ActiveOperation() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeOp
}

// Info is a point-in-time copy of a record for display and serialization.
type Info struct {
	Address         string    `json:"address"`
	Name            string    `json:"name"`
	RSSI            int       `json:"rssi"`
	DeviceID        string    `json:"device_id"`
	Model           string    `json:"model,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	AgentURL        string    `json:"agent_url,omitempty"`
	State           string    `json:"state"`
	RequiresPin     bool      `json:"requires_pin"`
	Networks        []Network `json:"networks,omitempty"`
}

func (r *Record) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := r.serial
	if id == "" {
		id = UnknownDeviceID
	}
	var networks []Network
	if !(len(r.networks) == 1 && r.networks[0].IsPlaceholder()) {
		networks = append(networks, r.networks...)
	}
	return Info{
		Address:         r.address,
		Name:            r.name,
		RSSI:            r.rssi,
		DeviceID:        id,
		Model:           r.model,
		FirmwareVersion: r.firmwareVersion,
		AgentURL:        r.agentURL,
		State:           r.state.String(),
		RequiresPin:     r.requiresPin,
		Networks:        networks,
	}
}
