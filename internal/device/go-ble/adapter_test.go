package goble

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const provisioningService = "FADA47BE-C455-48C9-A5F2-AF7CF368D719"

type mockScanDialer struct {
	mock.Mock
	advs []ble.Advertisement
}

func (m *mockScanDialer) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	for _, a := range m.advs {
		h(a)
	}
	return args.Error(0)
}

func (m *mockScanDialer) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

// fakeAdvertisement overrides the parts of ble.Advertisement the adapter reads.
type fakeAdvertisement struct {
	ble.Advertisement
	name     string
	addr     string
	services []ble.UUID
}

func (a *fakeAdvertisement) LocalName() string           { return a.name }
func (a *fakeAdvertisement) Addr() ble.Addr              { return ble.NewAddr(a.addr) }
func (a *fakeAdvertisement) RSSI() int                   { return -50 }
func (a *fakeAdvertisement) Connectable() bool           { return true }
func (a *fakeAdvertisement) Services() []ble.UUID        { return a.services }
func (a *fakeAdvertisement) OverflowService() []ble.UUID { return nil }

type AdapterTestSuite struct {
	suite.Suite
	originalFactory func() (ScanDialer, error)
	dev             *mockScanDialer
	adapter         *Adapter
}

func (s *AdapterTestSuite) SetupTest() {
	s.originalFactory = DeviceFactory
	s.dev = &mockScanDialer{}
	DeviceFactory = func() (ScanDialer, error) { return s.dev, nil }

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	s.adapter = NewAdapter(logger)
}

func (s *AdapterTestSuite) TearDownTest() {
	DeviceFactory = s.originalFactory
}

func (s *AdapterTestSuite) TestScan_FiltersByService() {
	// GOAL: Verify only advertisements carrying the requested service reach the handler
	//
	// TEST SCENARIO: two advertisements, one with the provisioning service → scan → handler sees one

	s.dev.advs = []ble.Advertisement{
		&fakeAdvertisement{name: "imp-1", addr: "aa:bb:cc:dd:ee:01", services: []ble.UUID{ble.MustParse(provisioningService)}},
		&fakeAdvertisement{name: "heart", addr: "aa:bb:cc:dd:ee:02", services: []ble.UUID{ble.UUID16(0x180d)}},
	}
	s.dev.On("Scan", mock.Anything, false, mock.Anything).Return(nil)

	var seen []string
	err := s.adapter.Scan(context.Background(), []string{provisioningService}, func(adv device.Advertisement) {
		seen = append(seen, adv.LocalName())
	})

	s.Require().NoError(err)
	s.Equal([]string{"imp-1"}, seen, "only provisioning devices MUST be reported")
}

func (s *AdapterTestSuite) TestScan_NormalizesErrors() {
	// GOAL: Verify platform power-off errors surface as device.ErrBluetoothOff and cancellation is not an error

	s.Run("bluetooth off", func() {
		s.dev.ExpectedCalls = nil
		s.dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")).Once()

		err := s.adapter.Scan(context.Background(), nil, func(device.Advertisement) {})
		s.ErrorIs(err, device.ErrBluetoothOff, "error chain MUST contain ErrBluetoothOff")
	})

	s.Run("context canceled", func() {
		s.dev.ExpectedCalls = nil
		s.dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(context.Canceled).Once()

		err := s.adapter.Scan(context.Background(), nil, func(device.Advertisement) {})
		s.NoError(err, "cancellation MUST end the scan without error")
	})
}

func (s *AdapterTestSuite) TestEnable_FactoryFailure() {
	DeviceFactory = func() (ScanDialer, error) {
		return nil, errors.New("bluetooth is turned off")
	}
	adapter := NewAdapter(nil)

	err := adapter.Enable(context.Background())
	s.ErrorIs(err, device.ErrBluetoothOff, "factory power-off error MUST be normalized")
}

func (s *AdapterTestSuite) TestConnect_DialFailure() {
	s.dev.On("Dial", mock.Anything, mock.Anything).Return(nil, errors.New("device not connected"))

	conn, err := s.adapter.Connect(context.Background(), "aa:bb:cc:dd:ee:01")
	s.Nil(conn)
	s.ErrorIs(err, device.ErrNotConnected)
	s.Contains(err.Error(), "aa:bb:cc:dd:ee:01", "error MUST name the address")
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}
