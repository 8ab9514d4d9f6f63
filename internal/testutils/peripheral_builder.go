package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/imp"
)

// CharacteristicConfig represents a characteristic of a fake peripheral
type CharacteristicConfig struct {
	UUID  string   `json:"uuid"`
	Reads []string `json:"reads,omitempty"` // successive read results, the last one repeats
}

// ServiceConfig represents a service of a fake peripheral
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig is the JSON form accepted by PeripheralBuilder.FromJSON
type PeripheralConfig struct {
	Address    string          `json:"address"`
	Name       string          `json:"name"`
	Advertised []string        `json:"advertised,omitempty"` // defaults to every service
	Services   []ServiceConfig `json:"services"`
}

// PeripheralBuilder builds FakePeripheral values with a fluent API
type PeripheralBuilder struct {
	cfg           PeripheralConfig
	readErrs      map[string]error
	writeErrs     map[string][]error
	connectErr    error
	connectHang   bool
	disconnectErr error
	onWrite       func(char string)
}

// NewPeripheralBuilder creates a builder for an empty peripheral
func NewPeripheralBuilder(address, name string) *PeripheralBuilder {
	return &PeripheralBuilder{
		cfg:       PeripheralConfig{Address: address, Name: name},
		readErrs:  make(map[string]error),
		writeErrs: make(map[string][]error),
	}
}

// ImpPeripheral returns a builder preloaded with a complete, PIN-free imp profile.
func ImpPeripheral(address, name string) *PeripheralBuilder {
	return NewPeripheralBuilder(address, name).
		WithService(imp.ProvisioningService).
		WithCharacteristic(imp.CharNetworkList, "Home\nunlocked\n\nOffice\nlocked").
		WithCharacteristic(imp.CharSSID).
		WithCharacteristic(imp.CharPassword).
		WithCharacteristic(imp.CharPlanID).
		WithCharacteristic(imp.CharToken).
		WithCharacteristic(imp.CharApplyTrigger).
		WithCharacteristic(imp.CharClearTrigger).
		WithService(imp.DeviceInfoService).
		WithCharacteristic(imp.CharSerial, "0c2a6901234567ee").
		WithCharacteristic(imp.CharModel, "imp004m").
		WithCharacteristic(imp.CharAgentURL, "https://agent.electricimp.com/abc123").
		WithCharacteristic(imp.CharVersion, "b60c3b6 - release-36.12 - Tue Jun 13 14:44:26 2017").
		WithAdvertisedServices(imp.ProvisioningService)
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.cfg.Services = append(b.cfg.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithoutService removes a service from the profile
func (b *PeripheralBuilder) WithoutService(uuid string) *PeripheralBuilder {
	kept := b.cfg.Services[:0]
	for _, s := range b.cfg.Services {
		if !device.SameUUID(s.UUID, uuid) {
			kept = append(kept, s)
		}
	}
	b.cfg.Services = kept
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid string, reads ...string) *PeripheralBuilder {
	if len(b.cfg.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.cfg.Services) - 1
	b.cfg.Services[last].Characteristics = append(b.cfg.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Reads: reads})
	return b
}

// WithReads replaces the read results of an existing characteristic
func (b *PeripheralBuilder) WithReads(uuid string, reads ...string) *PeripheralBuilder {
	for si := range b.cfg.Services {
		for ci := range b.cfg.Services[si].Characteristics {
			if device.SameUUID(b.cfg.Services[si].Characteristics[ci].UUID, uuid) {
				b.cfg.Services[si].Characteristics[ci].Reads = reads
				return b
			}
		}
	}
	panic(fmt.Sprintf("WithReads: characteristic %s not in profile", uuid))
}

// WithReadError makes every read of the characteristic fail
func (b *PeripheralBuilder) WithReadError(uuid string, err error) *PeripheralBuilder {
	b.readErrs[device.NormalizeUUID(uuid)] = err
	return b
}

// WithWriteError makes the next writes of the characteristic fail, one error per write
func (b *PeripheralBuilder) WithWriteError(uuid string, errs ...error) *PeripheralBuilder {
	key := device.NormalizeUUID(uuid)
	b.writeErrs[key] = append(b.writeErrs[key], errs...)
	return b
}

// WithConnectError makes Connect fail
func (b *PeripheralBuilder) WithConnectError(err error) *PeripheralBuilder {
	b.connectErr = err
	return b
}

// WithConnectHang makes Connect block until its context is done
func (b *PeripheralBuilder) WithConnectHang() *PeripheralBuilder {
	b.connectHang = true
	return b
}

// WithDisconnectError makes Disconnect return err after closing the link
func (b *PeripheralBuilder) WithDisconnectError(err error) *PeripheralBuilder {
	b.disconnectErr = err
	return b
}

// WithWriteHook registers fn to run before every write is acknowledged
func (b *PeripheralBuilder) WithWriteHook(fn func(char string)) *PeripheralBuilder {
	b.onWrite = fn
	return b
}

// WithAdvertisedServices sets the services carried in the advertisement
func (b *PeripheralBuilder) WithAdvertisedServices(uuids ...string) *PeripheralBuilder {
	b.cfg.Advertised = uuids
	return b
}

// FromJSON fills the profile from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var cfg PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	for _, svc := range cfg.Services {
		uuids := []string{svc.UUID}
		for _, c := range svc.Characteristics {
			uuids = append(uuids, c.UUID)
		}
		if _, err := device.ValidateUUID(uuids...); err != nil {
			panic(fmt.Sprintf("PeripheralBuilder.FromJSON: service %q: %v", svc.UUID, err))
		}
	}
	if cfg.Address == "" {
		cfg.Address = b.cfg.Address
	}
	if cfg.Name == "" {
		cfg.Name = b.cfg.Name
	}
	b.cfg = cfg
	return b
}

// Build creates the fake peripheral
func (b *PeripheralBuilder) Build() *FakePeripheral {
	p := &FakePeripheral{
		Address:       b.cfg.Address,
		Name:          b.cfg.Name,
		reads:         make(map[string][]string),
		cursor:        make(map[string]int),
		readErrs:      b.readErrs,
		writeErrs:     b.writeErrs,
		connectErr:    b.connectErr,
		connectHang:   b.connectHang,
		disconnectErr: b.disconnectErr,
		onWrite:       b.onWrite,
	}

	for _, svc := range b.cfg.Services {
		s := fakeService{uuid: device.NormalizeUUID(svc.UUID)}
		for _, c := range svc.Characteristics {
			u := device.NormalizeUUID(c.UUID)
			s.chars = append(s.chars, u)
			p.reads[u] = c.Reads
		}
		p.services = append(p.services, s)
	}

	if len(b.cfg.Advertised) > 0 {
		p.advertised = device.NormalizeUUIDs(b.cfg.Advertised)
	} else {
		for _, s := range p.services {
			p.advertised = append(p.advertised, s.uuid)
		}
	}
	return p
}
