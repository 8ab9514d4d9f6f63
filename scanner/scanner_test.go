package scanner_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/imp"
	"github.com/srg/blinkup/internal/provision"
	"github.com/srg/blinkup/internal/testutils"
	"github.com/srg/blinkup/scanner"
	suitelib "github.com/stretchr/testify/suite"
)

const (
	addr1 = "AA:BB:CC:DD:EE:01"
	addr2 = "AA:BB:CC:DD:EE:02"
	addr3 = "AA:BB:CC:DD:EE:03"
)

type ScannerTestSuite struct {
	suitelib.Suite
	helper *testutils.TestHelper
	sink   *testutils.RecordingSink
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.sink = testutils.NewRecordingSink()
}

func (suite *ScannerTestSuite) newScanner(peripherals ...*testutils.FakePeripheral) (*scanner.Scanner, *testutils.FakeAdapter) {
	adapter := testutils.NewFakeAdapter(peripherals...)
	prober := provision.NewProber(adapter, testutils.FastRetry(3), 0, suite.sink, suite.helper.Logger)
	return scanner.NewScanner(adapter, prober, imp.NewRegistry(), suite.sink, suite.helper.Logger), adapter
}

func opts(timeout time.Duration) *scanner.ScanOptions {
	return &scanner.ScanOptions{Timeout: timeout}
}

func (suite *ScannerTestSuite) TestRunKeepsOnlyReadyDevices() {
	// GOAL: Verify discovery probes every candidate and keeps only Ready ones
	//
	// TEST SCENARIO: two imps + one without provisioning service → probes → timeout → Found(2)
	s, adapter := suite.newScanner(
		testutils.ImpPeripheral(addr1, "imp-b").Build(),
		testutils.ImpPeripheral(addr2, "imp-a").Build(),
		testutils.ImpPeripheral(addr3, "impostor").WithoutService(imp.ProvisioningService).Build(),
	)

	out, err := s.Run(context.Background(), opts(200*time.Millisecond))
	suite.Require().NoError(err)
	suite.Equal(scanner.Outcome{Found: 2, Reason: scanner.ReasonTimeout}, out)
	suite.Equal(scanner.Idle, s.State())

	ready := s.Registry().Ready()
	suite.Require().Len(ready, 2)
	suite.Equal("imp-a", ready[0].Name(), "ready devices MUST be sorted by name")
	_, ok := s.Registry().Get(addr3)
	suite.False(ok, "non-provisionable device MUST be dropped")
	suite.Zero(adapter.OpenConnections(addr3))

	kinds := suite.sink.Kinds()
	suite.Contains(kinds, provision.EventDeviceReady)
	suite.Contains(kinds, provision.EventDeviceDropped)
	suite.Equal(provision.EventFound, kinds[len(kinds)-1])
}

func (suite *ScannerTestSuite) TestRunNoneFound() {
	s, _ := suite.newScanner(
		testutils.NewPeripheralBuilder(addr1, "heart-rate").WithService("180D").Build(),
	)

	out, err := s.Run(context.Background(), opts(50*time.Millisecond))
	suite.Require().NoError(err)
	suite.Zero(out.Found)

	kinds := suite.sink.Kinds()
	suite.Equal([]provision.EventKind{provision.EventNoneFound}, kinds, "non-imp peripherals MUST NOT be probed")
}

func (suite *ScannerTestSuite) TestBluetoothUnavailable() {
	s, adapter := suite.newScanner(testutils.ImpPeripheral(addr1, "imp").Build())
	adapter.EnableErr = device.ErrBluetoothOff

	_, err := s.Run(context.Background(), opts(50*time.Millisecond))
	suite.ErrorIs(err, provision.ErrBluetoothUnavailable)
	suite.Empty(adapter.Ops(addr1))
	suite.Equal(scanner.Idle, s.State())
}

func (suite *ScannerTestSuite) TestStopEndsScan() {
	s, _ := suite.newScanner(testutils.ImpPeripheral(addr1, "imp").Build())

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Stop()
	}()

	start := time.Now()
	out, err := s.Run(context.Background(), opts(10*time.Second))
	suite.Require().NoError(err)
	suite.Equal(scanner.ReasonStopped, out.Reason)
	suite.Equal(1, out.Found)
	suite.Less(time.Since(start), 5*time.Second)
}

func (suite *ScannerTestSuite) TestUnfinishedProbesAreCancelledAndDropped() {
	// GOAL: Records that never reach Ready are dropped and their connection attempt cancelled
	//
	// TEST SCENARIO: connect hangs → scan times out → probe cancelled → record dropped → NoneFound
	s, adapter := suite.newScanner(testutils.ImpPeripheral(addr1, "imp").WithConnectHang().Build())

	out, err := s.Run(context.Background(), opts(50*time.Millisecond))
	suite.Require().NoError(err)
	suite.Zero(out.Found)
	suite.Zero(s.Registry().Len())
	suite.Zero(adapter.OpenConnections(addr1))
	suite.Contains(suite.sink.Kinds(), provision.EventNoneFound)
}

func (suite *ScannerTestSuite) TestContextCancellation() {
	s, _ := suite.newScanner(testutils.ImpPeripheral(addr1, "imp").Build())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Run(ctx, opts(10*time.Second))
	suite.ErrorIs(err, context.DeadlineExceeded)
}

func (suite *ScannerTestSuite) TestRunResetsRegistry() {
	s, _ := suite.newScanner(testutils.ImpPeripheral(addr1, "imp").Build())
	stale, _ := s.Registry().GetOrCreate("00:00:00:00:00:00", "stale")
	stale.SetState(imp.Ready)

	_, err := s.Run(context.Background(), opts(50*time.Millisecond))
	suite.Require().NoError(err)
	_, ok := s.Registry().Get("00:00:00:00:00:00")
	suite.False(ok, "each scan MUST start from an empty registry")
}

func (suite *ScannerTestSuite) TestRescanClosesKeptConnections() {
	// GOAL: Verify a new scan never leaves links of discarded records open
	//
	// TEST SCENARIO: PIN-gated imp kept connected after run 1 → run 2 resets the registry → old link closed
	s, adapter := suite.newScanner(
		testutils.ImpPeripheral(addr1, "imp-1").WithReads(imp.CharSerial, "", "0c2a6901234567ee").Build(),
	)

	_, err := s.Run(context.Background(), opts(100*time.Millisecond))
	suite.Require().NoError(err)
	first, ok := s.Registry().Get(addr1)
	suite.Require().True(ok)
	suite.Require().NotNil(first.Connection(), "PIN-gated device MUST keep its link after the probe")
	suite.Require().Equal(1, adapter.OpenConnections(addr1))

	_, err = s.Run(context.Background(), opts(100*time.Millisecond))
	suite.Require().NoError(err)
	suite.Nil(first.Connection(), "discarded record MUST NOT hold a link")
	suite.Zero(adapter.OpenConnections(addr1), "links of discarded records MUST be closed")
	suite.Equal(2, adapter.Count(addr1, "disconnect"))
}

func (suite *ScannerTestSuite) TestRescanLogsDisconnectFailure() {
	var logs bytes.Buffer
	suite.helper.Logger.SetOutput(&logs)
	s, adapter := suite.newScanner(
		testutils.ImpPeripheral(addr1, "imp-1").
			WithReads(imp.CharSerial, "", "0c2a6901234567ee").
			WithDisconnectError(errors.New("hci: command disallowed")).
			Build(),
	)

	for range 2 {
		_, err := s.Run(context.Background(), opts(100*time.Millisecond))
		suite.Require().NoError(err)
	}
	suite.Zero(adapter.OpenConnections(addr1))
	suite.Contains(logs.String(), `msg="Failed to disconnect" address="AA:BB:CC:DD:EE:01"`,
		"disconnect failures MUST be logged, not dropped")
}

func (suite *ScannerTestSuite) TestFilters() {
	tests := []struct {
		name string
		opts *scanner.ScanOptions
		want []string
	}{
		{
			name: "allow list",
			opts: &scanner.ScanOptions{Timeout: 100 * time.Millisecond, AllowList: []string{"aa:bb:cc:dd:ee:02"}},
			want: []string{addr2},
		},
		{
			name: "block list",
			opts: &scanner.ScanOptions{Timeout: 100 * time.Millisecond, BlockList: []string{addr2}},
			want: []string{addr1},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			s, _ := suite.newScanner(
				testutils.ImpPeripheral(addr1, "imp-1").Build(),
				testutils.ImpPeripheral(addr2, "imp-2").Build(),
			)
			_, err := s.Run(context.Background(), tt.opts)
			suite.Require().NoError(err)

			var got []string
			for _, rec := range s.Registry().Ready() {
				got = append(got, rec.Address())
			}
			suite.Equal(tt.want, got)
		})
	}
}

func (suite *ScannerTestSuite) TestFind() {
	suite.Run("returns as soon as the target is ready", func() {
		s, _ := suite.newScanner(
			testutils.ImpPeripheral(addr1, "imp-1").Build(),
			testutils.ImpPeripheral(addr2, "imp-2").Build(),
		)

		start := time.Now()
		rec, err := s.Find(context.Background(), "aa:bb:cc:dd:ee:02", opts(10*time.Second))
		suite.Require().NoError(err)
		suite.Equal(addr2, rec.Address())
		suite.Equal(imp.Ready, rec.State())
		suite.Less(time.Since(start), 5*time.Second)
	})

	suite.Run("unknown address", func() {
		s, _ := suite.newScanner(testutils.ImpPeripheral(addr1, "imp-1").Build())

		_, err := s.Find(context.Background(), addr3, opts(50*time.Millisecond))
		suite.ErrorIs(err, scanner.ErrDeviceNotFound)
	})

	suite.Run("target is not provisionable", func() {
		s, _ := suite.newScanner(testutils.ImpPeripheral(addr1, "imp-1").WithoutService(imp.ProvisioningService).Build())

		_, err := s.Find(context.Background(), addr1, opts(10*time.Second))
		suite.ErrorIs(err, provision.ErrNotProvisionable)
	})
}

func (suite *ScannerTestSuite) TestScanOptionsValidate() {
	suite.NoError(scanner.DefaultScanOptions().Validate())
	suite.NoError(opts(32 * time.Second).Validate())
	suite.Error(opts(14 * time.Second).Validate())
	suite.Error(opts(33 * time.Second).Validate())
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}
