package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/blinkup/internal/device"
)

// Op is one transport operation observed by FakeAdapter.
type Op struct {
	Address string
	Kind    string // connect, discover-services, discover-characteristics, read, write, write-error, disconnect
	Service string
	Char    string
	Data    string
}

func (o Op) String() string {
	switch o.Kind {
	case "read", "write-error":
		return fmt.Sprintf("%s %s", o.Kind, o.Char)
	case "write":
		return fmt.Sprintf("write %s=%q", o.Char, o.Data)
	case "discover-characteristics":
		return fmt.Sprintf("%s %s", o.Kind, o.Service)
	default:
		return o.Kind
	}
}

type fakeService struct {
	uuid  string
	chars []string
}

// FakePeripheral is a scripted peripheral served by FakeAdapter.
type FakePeripheral struct {
	Address string
	Name    string

	services   []fakeService
	advertised []string

	mu          sync.Mutex
	reads       map[string][]string
	cursor      map[string]int
	readErrs    map[string]error
	writeErrs   map[string][]error
	connectErr  error
	connectHang bool
	onWrite     func(char string)

	disconnectErr error
}

func (p *FakePeripheral) hasChar(service, char string) bool {
	for _, s := range p.services {
		if s.uuid != service {
			continue
		}
		for _, c := range s.chars {
			if c == char {
				return true
			}
		}
	}
	return false
}

func (p *FakePeripheral) nextRead(char string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.readErrs[char]; err != nil {
		return nil, err
	}
	reads := p.reads[char]
	if len(reads) == 0 {
		return nil, nil
	}
	i := p.cursor[char]
	if i >= len(reads) {
		i = len(reads) - 1
	} else {
		p.cursor[char] = i + 1
	}
	return []byte(reads[i]), nil
}

func (p *FakePeripheral) nextWriteErr(char string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	errs := p.writeErrs[char]
	if len(errs) == 0 {
		return nil
	}
	p.writeErrs[char] = errs[1:]
	return errs[0]
}

type fakeAdvertisement struct {
	p *FakePeripheral
}

func (a fakeAdvertisement) LocalName() string  { return a.p.Name }
func (a fakeAdvertisement) Services() []string { return append([]string(nil), a.p.advertised...) }
func (a fakeAdvertisement) Connectable() bool  { return true }
func (a fakeAdvertisement) RSSI() int          { return -60 }
func (a fakeAdvertisement) Addr() string       { return a.p.Address }

// FakeAdapter is an in-memory device.Adapter that records every operation in order.
type FakeAdapter struct {
	EnableErr error
	ScanErr   error

	mu          sync.Mutex
	peripherals []*FakePeripheral
	ops         []Op
	open        map[string]int
}

var _ device.Adapter = (*FakeAdapter)(nil)

func NewFakeAdapter(peripherals ...*FakePeripheral) *FakeAdapter {
	return &FakeAdapter{
		peripherals: peripherals,
		open:        make(map[string]int),
	}
}

func (a *FakeAdapter) record(op Op) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, op)
}

func (a *FakeAdapter) peripheral(address string) *FakePeripheral {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.peripherals {
		if p.Address == address {
			return p
		}
	}
	return nil
}

func (a *FakeAdapter) Enable(context.Context) error {
	return a.EnableErr
}

// Scan reports every matching peripheral once, then waits for ctx.
func (a *FakeAdapter) Scan(ctx context.Context, services []string, handler func(device.Advertisement)) error {
	if a.ScanErr != nil {
		return a.ScanErr
	}
	wanted := device.NormalizeUUIDs(services)

	a.mu.Lock()
	peripherals := append([]*FakePeripheral(nil), a.peripherals...)
	a.mu.Unlock()

	for _, p := range peripherals {
		if matches(p.advertised, wanted) {
			handler(fakeAdvertisement{p: p})
		}
	}
	<-ctx.Done()
	return nil
}

func matches(advertised, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, a := range advertised {
		for _, w := range wanted {
			if a == w {
				return true
			}
		}
	}
	return false
}

func (a *FakeAdapter) Connect(ctx context.Context, address string) (device.Connection, error) {
	p := a.peripheral(address)
	if p == nil {
		return nil, &device.NotFoundError{Resource: "peripheral", UUIDs: []string{address}}
	}
	a.record(Op{Address: address, Kind: "connect"})

	if p.connectHang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.connectErr != nil {
		return nil, p.connectErr
	}

	a.mu.Lock()
	a.open[address]++
	a.mu.Unlock()
	return &FakeConnection{adapter: a, p: p, done: make(chan struct{}), discovered: make(map[string]bool)}, nil
}

// Ops returns the operations issued against address, in order.
func (a *FakeAdapter) Ops(address string) []Op {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Op
	for _, op := range a.ops {
		if op.Address == address {
			out = append(out, op)
		}
	}
	return out
}

// OpStrings is Ops rendered with Op.String.
func (a *FakeAdapter) OpStrings(address string) []string {
	ops := a.Ops(address)
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

// Writes returns the successful writes to address, in order.
func (a *FakeAdapter) Writes(address string) []Op {
	return a.opsOfKind(address, "write")
}

// Count returns how many operations of kind were issued against address.
func (a *FakeAdapter) Count(address, kind string) int {
	return len(a.opsOfKind(address, kind))
}

func (a *FakeAdapter) opsOfKind(address, kind string) []Op {
	var out []Op
	for _, op := range a.Ops(address) {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// OpenConnections returns how many links to address are currently open.
func (a *FakeAdapter) OpenConnections(address string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open[address]
}

// FakeConnection is the device.Connection handed out by FakeAdapter.
type FakeConnection struct {
	adapter    *FakeAdapter
	p          *FakePeripheral
	mu         sync.Mutex
	discovered map[string]bool
	done       chan struct{}
	closeOnce  sync.Once
}

var _ device.Connection = (*FakeConnection)(nil)

func (c *FakeConnection) Address() string { return c.p.Address }

func (c *FakeConnection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *FakeConnection) DiscoverServices(ctx context.Context) ([]string, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.adapter.record(Op{Address: c.p.Address, Kind: "discover-services"})

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.p.services))
	for _, s := range c.p.services {
		c.discovered[s.uuid] = true
		out = append(out, s.uuid)
	}
	return out, nil
}

func (c *FakeConnection) DiscoverCharacteristics(ctx context.Context, service string) ([]string, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	svc := device.NormalizeUUID(service)
	c.adapter.record(Op{Address: c.p.Address, Kind: "discover-characteristics", Service: svc})

	c.mu.Lock()
	ok := c.discovered[svc]
	c.mu.Unlock()
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	for _, s := range c.p.services {
		if s.uuid == svc {
			return append([]string(nil), s.chars...), nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

func (c *FakeConnection) Read(ctx context.Context, service, characteristic string) ([]byte, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	svc, char := device.NormalizeUUID(service), device.NormalizeUUID(characteristic)
	if !c.p.hasChar(svc, char) {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	c.adapter.record(Op{Address: c.p.Address, Kind: "read", Service: svc, Char: char})
	return c.p.nextRead(char)
}

func (c *FakeConnection) Write(ctx context.Context, service, characteristic string, data []byte) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	svc, char := device.NormalizeUUID(service), device.NormalizeUUID(characteristic)
	if !c.p.hasChar(svc, char) {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, characteristic}}
	}
	if c.p.onWrite != nil {
		c.p.onWrite(char)
	}
	if err := c.p.nextWriteErr(char); err != nil {
		c.adapter.record(Op{Address: c.p.Address, Kind: "write-error", Service: svc, Char: char})
		return err
	}
	c.adapter.record(Op{Address: c.p.Address, Kind: "write", Service: svc, Char: char, Data: string(data)})
	return nil
}

func (c *FakeConnection) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed() {
		return device.ErrNotConnected
	}
	return nil
}

func (c *FakeConnection) Disconnect() error {
	c.closeOnce.Do(func() {
		c.adapter.record(Op{Address: c.p.Address, Kind: "disconnect"})
		c.adapter.mu.Lock()
		c.adapter.open[c.p.Address]--
		c.adapter.mu.Unlock()
		close(c.done)
	})
	return c.p.disconnectErr
}

func (c *FakeConnection) Disconnected() <-chan struct{} { return c.done }
