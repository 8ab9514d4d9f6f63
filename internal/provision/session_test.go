package provision_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/enroll"
	"github.com/srg/blinkup/internal/imp"
	"github.com/srg/blinkup/internal/provision"
	"github.com/srg/blinkup/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

type mockEnroller struct {
	mock.Mock
}

func (m *mockEnroller) CreateConfig(ctx context.Context, apiKey string) (enroll.Config, error) {
	args := m.Called(ctx, apiKey)
	return args.Get(0).(enroll.Config), args.Error(1)
}

func (m *mockEnroller) Poll(ctx context.Context, cfg enroll.Config, timeout time.Duration) enroll.PollResult {
	args := m.Called(ctx, cfg, timeout)
	return args.Get(0).(enroll.PollResult)
}

type mockKeyStore struct {
	mock.Mock
}

func (m *mockKeyStore) Get(key string) (string, bool, error) {
	args := m.Called(key)
	return args.String(0), args.Bool(1), args.Error(2)
}

var testEnrollment = enroll.Config{Token: "tok-1", PlanID: "plan-1"}

type SessionTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	sink     *testutils.RecordingSink
	enroller *mockEnroller
	keys     *mockKeyStore
	cfg      provision.SessionConfig
}

func (s *SessionTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.sink = testutils.NewRecordingSink()
	s.enroller = new(mockEnroller)
	s.keys = new(mockKeyStore)
	s.keys.On("Get", provision.APIKeyCredential).Return("", false, nil).Maybe()
	s.cfg = provision.SessionConfig{
		ConnectTimeout: time.Second,
		GraceDelay:     time.Millisecond,
		PollTimeout:    time.Second,
		Retry:          testutils.FastRetry(3),
	}
}

func (s *SessionTestSuite) TearDownTest() {
	s.enroller.AssertExpectations(s.T())
}

// ready probes p so the returned record is Ready, then clears the recorded events.
func (s *SessionTestSuite) ready(p *testutils.FakePeripheral) (*testutils.FakeAdapter, *imp.Record, *provision.Provisioner) {
	adapter := testutils.NewFakeAdapter(p)
	rec := imp.NewRecord(p.Address, p.Name)
	err := provision.NewProber(adapter, s.cfg.Retry, s.cfg.ConnectTimeout, nil, s.helper.Logger).Probe(context.Background(), rec)
	s.Require().NoError(err)
	s.Require().Equal(imp.Ready, rec.State())

	prov := provision.NewProvisioner(adapter, s.enroller, s.keys, s.cfg, s.sink, s.helper.Logger)
	return adapter, rec, prov
}

func writeChars(ops []testutils.Op) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Char)
	}
	return out
}

func (s *SessionTestSuite) TestProvisionWithoutEnrollment() {
	// GOAL: Verify the non-enrolling path writes credentials, then triggers, then disconnects
	//
	// TEST SCENARIO: fetch networks → validate → write SSID, password → trigger → grace → disconnect
	adapter, rec, prov := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())

	res, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Office", Password: "secret"})
	s.Require().NoError(err)

	s.Equal(provision.StatusCompleted, res.Status)
	s.True(res.NoPoll)
	s.Equal("0c2a6901234567ee", res.DeviceID)
	s.Equal(imp.Network{SSID: "Office", Locked: true}, res.Network)

	writes := adapter.Writes(testAddr)
	s.Equal([]string{imp.CharSSID, imp.CharPassword, imp.CharApplyTrigger}, writeChars(writes))
	s.Equal("Office", writes[0].Data)
	s.Equal("secret", writes[1].Data)
	s.Equal(string(imp.ApplyPayload), writes[2].Data)

	s.Equal([]imp.Network{{SSID: "Home"}, {SSID: "Office", Locked: true}}, rec.Networks())
	s.Zero(adapter.OpenConnections(testAddr), "session MUST disconnect non-PIN devices")
	s.Nil(rec.Connection())

	kinds := s.sink.Kinds()
	s.Equal(provision.EventCompleted, kinds[len(kinds)-1])
	s.NotContains(kinds, provision.EventFailed)
}

func (s *SessionTestSuite) TestProvisionWithEnrollment() {
	// GOAL: Verify the enrolling path writes token and plan ID before the trigger and reports the agent URL
	//
	// TEST SCENARIO: create config → write SSID, password, token, plan → trigger → poll Responded → Enrolled
	adapter, rec, prov := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	s.enroller.On("CreateConfig", mock.Anything, testAPIKey).Return(testEnrollment, nil).Once()
	s.enroller.On("Poll", mock.Anything, testEnrollment, s.cfg.PollTimeout).Return(enroll.PollResult{
		Status:   enroll.Responded,
		DeviceID: "0c2a6901234567ee",
		AgentURL: "https://agent.electricimp.com/new",
	}).Once()

	res, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home", APIKey: testAPIKey})
	s.Require().NoError(err)

	s.Equal(provision.StatusEnrolled, res.Status)
	s.False(res.NoPoll)
	s.Equal("https://agent.electricimp.com/new", res.AgentURL)

	writes := adapter.Writes(testAddr)
	s.Require().Len(writes, 5)
	s.ElementsMatch([]string{imp.CharSSID, imp.CharPassword, imp.CharToken, imp.CharPlanID}, writeChars(writes[:4]))
	s.Equal(imp.CharApplyTrigger, writes[4].Char, "trigger MUST be the last write")
	s.Equal("", writes[1].Data, "open network MUST get an empty password write")
	s.Zero(adapter.OpenConnections(testAddr))
}

func (s *SessionTestSuite) TestStoredAPIKeyEnablesEnrollment() {
	_, rec, _ := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	keys := new(mockKeyStore)
	keys.On("Get", provision.APIKeyCredential).Return(testAPIKey, true, nil).Once()
	s.enroller.On("CreateConfig", mock.Anything, testAPIKey).Return(testEnrollment, nil).Once()
	s.enroller.On("Poll", mock.Anything, testEnrollment, mock.Anything).Return(enroll.PollResult{Status: enroll.Responded}).Once()

	adapter := testutils.NewFakeAdapter(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	prov := provision.NewProvisioner(adapter, s.enroller, keys, s.cfg, s.sink, s.helper.Logger)

	res, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
	s.Require().NoError(err)
	s.Equal(provision.StatusEnrolled, res.Status)
	s.Equal("0c2a6901234567ee", res.DeviceID, "device ID MUST fall back to the probed serial")
	keys.AssertExpectations(s.T())
}

func (s *SessionTestSuite) TestSkipEnrollmentIgnoresStoredKey() {
	adapter, rec, _ := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	keys := new(mockKeyStore)
	prov := provision.NewProvisioner(adapter, s.enroller, keys, s.cfg, s.sink, s.helper.Logger)

	res, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home", SkipEnrollment: true})
	s.Require().NoError(err)
	s.True(res.NoPoll)
	keys.AssertNotCalled(s.T(), "Get", mock.Anything)
}

func (s *SessionTestSuite) TestInvalidSelectionWritesNothing() {
	// GOAL: Validation failures abort before any GATT write
	//
	// TEST SCENARIO: bad request → ConfigurationInvalid → zero writes → disconnected
	tests := []struct {
		name string
		req  provision.Request
	}{
		{"locked network without password", provision.Request{SSID: "Office"}},
		{"no network chosen", provision.Request{}},
		{"placeholder network", provision.Request{SSID: imp.PlaceholderSSID}},
		{"network not visible", provision.Request{SSID: "Elsewhere", Password: "x"}},
		{"hidden without ssid", provision.Request{Hidden: true}},
		{"hidden but device sees none", provision.Request{SSID: "Secret", Hidden: true, Password: "x"}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			adapter, rec, prov := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())

			res, err := prov.Provision(context.Background(), rec, tt.req)
			s.Nil(res)
			s.ErrorIs(err, provision.ErrConfigurationInvalid)
			s.Empty(adapter.Writes(testAddr), "invalid request MUST NOT write to the device")
			s.Zero(adapter.OpenConnections(testAddr))
		})
	}
}

func (s *SessionTestSuite) TestHiddenNetwork() {
	p := testutils.ImpPeripheral(testAddr, "imp-1").
		WithReads(imp.CharNetworkList, "Home\nunlocked\n\n\nlocked").
		Build()
	adapter, rec, prov := s.ready(p)

	res, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Secret", Password: "pw", Hidden: true, SkipEnrollment: true})
	s.Require().NoError(err)
	s.Equal(imp.Network{SSID: "Secret", Locked: true}, res.Network)
	s.Equal("Secret", adapter.Writes(testAddr)[0].Data)
}

func (s *SessionTestSuite) TestEnrollmentSetupFailureWritesNothing() {
	adapter, rec, prov := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	s.enroller.On("CreateConfig", mock.Anything, testAPIKey).Return(enroll.Config{}, enroll.ErrInvalidAPIKey).Once()

	res, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home", APIKey: testAPIKey})
	s.Nil(res)
	s.ErrorIs(err, provision.ErrEnrollmentSetupFailed)
	s.ErrorIs(err, enroll.ErrInvalidAPIKey)
	s.Empty(adapter.Writes(testAddr))
	s.Zero(adapter.OpenConnections(testAddr))

	kinds := s.sink.Kinds()
	failed := 0
	for _, k := range kinds {
		if k == provision.EventFailed {
			failed++
		}
	}
	s.Equal(1, failed, "terminal error MUST be reported exactly once")
}

func (s *SessionTestSuite) TestEnrollmentUnknownTearsDownLink() {
	// GOAL: Poll timeout and poll error both mean "enrollment status unknown"
	//
	// TEST SCENARIO: writes + trigger succeed → poll TimedOut/Error → EnrollmentTimedOut → link closed
	for _, poll := range []enroll.PollResult{
		{Status: enroll.TimedOut},
		{Status: enroll.Error, Err: errors.New("HTTP 502")},
	} {
		s.Run(poll.Status.String(), func() {
			s.enroller = new(mockEnroller)
			adapter, rec, prov := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())
			s.enroller.On("CreateConfig", mock.Anything, testAPIKey).Return(testEnrollment, nil).Once()
			s.enroller.On("Poll", mock.Anything, testEnrollment, mock.Anything).Return(poll).Once()

			res, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home", APIKey: testAPIKey})
			s.ErrorIs(err, provision.ErrEnrollmentTimedOut)
			s.Require().NotNil(res)
			s.Equal(provision.StatusEnrollmentUnknown, res.Status)
			s.Len(adapter.Writes(testAddr), 5)
			s.Zero(adapter.OpenConnections(testAddr), "link MUST be torn down after the poll")
			s.NotContains(s.sink.Kinds(), provision.EventFailed)
			s.enroller.AssertExpectations(s.T())
		})
	}
}

func (s *SessionTestSuite) TestEnrollmentUnknownKeepsPinLink() {
	p := testutils.ImpPeripheral(testAddr, "imp-1").WithReads(imp.CharSerial, "", "0c2a6901234567ee").Build()
	adapter, rec, prov := s.ready(p)
	s.Require().True(rec.RequiresPin())
	s.enroller.On("CreateConfig", mock.Anything, testAPIKey).Return(testEnrollment, nil).Once()
	s.enroller.On("Poll", mock.Anything, testEnrollment, mock.Anything).Return(enroll.PollResult{Status: enroll.TimedOut}).Once()

	_, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home", APIKey: testAPIKey})
	s.ErrorIs(err, provision.ErrEnrollmentTimedOut)
	s.Equal(1, adapter.OpenConnections(testAddr), "PIN-gated device MUST stay connected")
	s.Equal(1, adapter.Count(testAddr, "connect"), "kept link MUST be reused instead of reconnecting")
	s.NotNil(rec.Connection())
}

func (s *SessionTestSuite) TestNoNetworksAvailable() {
	for _, payload := range []string{imp.NoNetworksSentinel, "\x00"} {
		s.Run(payload, func() {
			p := testutils.ImpPeripheral(testAddr, "imp-1").WithReads(imp.CharNetworkList, payload).Build()
			adapter, rec, prov := s.ready(p)

			_, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
			s.ErrorIs(err, provision.ErrNoNetworksAvailable)
			s.Equal([]imp.Network{imp.Placeholder}, rec.Networks(), "network list MUST fall back to the placeholder")
			s.Empty(adapter.Writes(testAddr))
		})
	}
}

func (s *SessionTestSuite) TestNetworkListPinRetry() {
	p := testutils.ImpPeripheral(testAddr, "imp-1").
		WithReads(imp.CharNetworkList, "", "Home\nunlocked").
		Build()
	adapter, rec, prov := s.ready(p)

	networks, err := prov.FetchNetworks(context.Background(), rec)
	s.Require().NoError(err)
	s.Equal([]imp.Network{{SSID: "Home"}}, networks)
	s.True(rec.RequiresPin())
	s.Equal(1, adapter.OpenConnections(testAddr))
}

func (s *SessionTestSuite) TestMalformedNetworkListIsRetried() {
	p := testutils.ImpPeripheral(testAddr, "imp-1").WithReads(imp.CharNetworkList, "Home").Build()
	adapter, rec, prov := s.ready(p)

	_, err := prov.FetchNetworks(context.Background(), rec)
	s.ErrorIs(err, provision.ErrPinTimeout)
	s.Equal(3, countOps(adapter.Ops(testAddr), "read", imp.CharNetworkList))
	s.Zero(adapter.OpenConnections(testAddr))
}

func (s *SessionTestSuite) TestWriteFailureNeverTriggers() {
	// GOAL: A failed credential write aborts before the trigger
	//
	// TEST SCENARIO: password write fails → WriteError(password) → no trigger write → disconnected
	p := testutils.ImpPeripheral(testAddr, "imp-1").
		WithWriteError(imp.CharPassword, device.ErrNotConnected).
		Build()
	adapter, rec, prov := s.ready(p)

	_, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
	s.Require().ErrorIs(err, provision.ErrWriteFailed)
	var werr *provision.WriteError
	s.Require().ErrorAs(err, &werr)
	s.Equal(imp.CharPassword, werr.Characteristic)

	s.Equal(1, adapter.Count(testAddr, "write"), "only the SSID write MUST have succeeded")
	s.Zero(countOps(adapter.Ops(testAddr), "write", imp.CharApplyTrigger))
	s.Zero(adapter.OpenConnections(testAddr))
}

func (s *SessionTestSuite) TestTriggerRetriedOnce() {
	p := testutils.ImpPeripheral(testAddr, "imp-1").
		WithWriteError(imp.CharApplyTrigger, device.ErrNotConnected).
		Build()
	adapter, rec, prov := s.ready(p)

	res, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
	s.Require().NoError(err)
	s.Equal(provision.StatusCompleted, res.Status)
	s.Equal(1, countOps(adapter.Ops(testAddr), "write-error", imp.CharApplyTrigger))
	s.Equal(1, countOps(adapter.Ops(testAddr), "write", imp.CharApplyTrigger))
}

func (s *SessionTestSuite) TestTriggerFailsAfterOneRetry() {
	p := testutils.ImpPeripheral(testAddr, "imp-1").
		WithWriteError(imp.CharApplyTrigger, device.ErrNotConnected, device.ErrNotConnected, device.ErrNotConnected).
		Build()
	adapter, rec, prov := s.ready(p)

	_, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
	var werr *provision.WriteError
	s.Require().ErrorAs(err, &werr)
	s.Equal(imp.CharApplyTrigger, werr.Characteristic)
	s.Equal(2, countOps(adapter.Ops(testAddr), "write-error", imp.CharApplyTrigger), "trigger MUST be attempted exactly twice")
}

func (s *SessionTestSuite) TestConnectTimeout() {
	p := testutils.ImpPeripheral(testAddr, "imp-1").Build()
	_, rec, _ := s.ready(p)

	hanging := testutils.NewFakeAdapter(testutils.ImpPeripheral(testAddr, "imp-1").WithConnectHang().Build())
	s.cfg.ConnectTimeout = 20 * time.Millisecond
	prov := provision.NewProvisioner(hanging, s.enroller, s.keys, s.cfg, s.sink, s.helper.Logger)

	_, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
	s.ErrorIs(err, provision.ErrConnectTimeout)
	s.Empty(hanging.Writes(testAddr))
}

func (s *SessionTestSuite) TestCancellationBeforeWritesShortCircuits() {
	_, rec, _ := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	ctx, cancel := context.WithCancel(context.Background())

	s.enroller.On("CreateConfig", mock.Anything, testAPIKey).Run(func(mock.Arguments) { cancel() }).
		Return(testEnrollment, nil).Once()
	adapter := testutils.NewFakeAdapter(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	prov := provision.NewProvisioner(adapter, s.enroller, s.keys, s.cfg, s.sink, s.helper.Logger)

	_, err := prov.Provision(ctx, rec, provision.Request{SSID: "Home", APIKey: testAPIKey})
	s.ErrorIs(err, context.Canceled)
	s.Empty(adapter.Writes(testAddr), "cancelled session MUST NOT write")
	s.Zero(adapter.OpenConnections(testAddr))
}

func (s *SessionTestSuite) TestCancellationDuringWritesIsDeferred() {
	// GOAL: Cancelling mid-write never leaves the device half configured
	//
	// TEST SCENARIO: cancel on SSID write → password + trigger still written → cancellation reported afterwards
	ctx, cancel := context.WithCancel(context.Background())
	p := testutils.ImpPeripheral(testAddr, "imp-1").
		WithWriteHook(func(char string) {
			if char == imp.CharSSID {
				cancel()
			}
		}).
		Build()
	adapter, rec, prov := s.ready(p)

	_, err := prov.Provision(ctx, rec, provision.Request{SSID: "Home"})
	s.ErrorIs(err, context.Canceled)
	s.Equal([]string{imp.CharSSID, imp.CharPassword, imp.CharApplyTrigger}, writeChars(adapter.Writes(testAddr)))
	s.Zero(adapter.OpenConnections(testAddr))
}

func (s *SessionTestSuite) TestClear() {
	// GOAL: Clear writes the clear sentinel and follows the PIN link policy
	//
	// TEST SCENARIO: non-PIN → clear → disconnected; PIN → clear → link kept
	s.Run("plain device", func() {
		adapter, rec, prov := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())

		res, err := prov.Clear(context.Background(), rec)
		s.Require().NoError(err)
		s.Equal(provision.StatusCleared, res.Status)

		writes := adapter.Writes(testAddr)
		s.Require().Len(writes, 1)
		s.Equal(imp.CharClearTrigger, writes[0].Char)
		s.Equal(string(imp.ClearPayload), writes[0].Data)
		s.Zero(countOps(adapter.Ops(testAddr), "read", imp.CharNetworkList), "clear MUST NOT fetch networks")
		s.Zero(adapter.OpenConnections(testAddr))
		s.Contains(s.sink.Kinds(), provision.EventCleared)
	})

	s.Run("PIN device", func() {
		p := testutils.ImpPeripheral(testAddr, "imp-1").WithReads(imp.CharSerial, "", "0c2a6901234567ee").Build()
		adapter, rec, prov := s.ready(p)

		_, err := prov.Clear(context.Background(), rec)
		s.Require().NoError(err)
		s.Equal(1, adapter.OpenConnections(testAddr), "PIN-gated device MUST stay connected after clear")
	})
}

func (s *SessionTestSuite) TestConcurrentSessionIsRejected() {
	// GOAL: At most one session per record
	//
	// TEST SCENARIO: provision blocks in its SSID write → clear and probe are rejected immediately
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	p := testutils.ImpPeripheral(testAddr, "imp-1").
		WithWriteHook(func(char string) {
			if char == imp.CharSSID {
				once.Do(func() { close(entered) })
				<-unblock
			}
		}).
		Build()
	adapter, rec, prov := s.ready(p)

	done := make(chan error, 1)
	go func() {
		_, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
		done <- err
	}()
	<-entered

	_, err := prov.Clear(context.Background(), rec)
	s.ErrorIs(err, provision.ErrSessionBusy)
	err = provision.NewProber(adapter, s.cfg.Retry, s.cfg.ConnectTimeout, nil, s.helper.Logger).Probe(context.Background(), rec)
	s.ErrorIs(err, provision.ErrSessionBusy)

	close(unblock)
	s.NoError(<-done)
	s.Zero(countOps(adapter.Ops(testAddr), "write", imp.CharClearTrigger), "rejected session MUST NOT write")
}

func (s *SessionTestSuite) TestRecordMustBeReady() {
	adapter := testutils.NewFakeAdapter(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	prov := provision.NewProvisioner(adapter, s.enroller, s.keys, s.cfg, s.sink, s.helper.Logger)

	rec := imp.NewRecord(testAddr, "imp-1")
	_, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
	s.ErrorIs(err, provision.ErrNotReady)
	s.Empty(adapter.Ops(testAddr))
	s.Empty(rec.ActiveOperation(), "rejected session MUST release the record")
}

func (s *SessionTestSuite) TestRecordOwnedByProbeIsBusy() {
	// GOAL: Verify the record is claimed before its state is checked
	//
	// TEST SCENARIO: probe holds the record mid-connect → Provision → ErrSessionBusy, probe keeps ownership
	adapter := testutils.NewFakeAdapter(testutils.ImpPeripheral(testAddr, "imp-1").Build())
	prov := provision.NewProvisioner(adapter, s.enroller, s.keys, s.cfg, s.sink, s.helper.Logger)

	rec := imp.NewRecord(testAddr, "imp-1")
	release, err := rec.Acquire("probe")
	s.Require().NoError(err)
	defer release()
	rec.SetState(imp.Connecting)

	_, err = prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
	s.ErrorIs(err, provision.ErrSessionBusy)
	s.NotErrorIs(err, provision.ErrNotReady)
	s.Equal("probe", rec.ActiveOperation(), "the owner MUST keep the record")
	s.Empty(adapter.Ops(testAddr))
}

func (s *SessionTestSuite) TestEventsCarrySessionID() {
	_, rec, prov := s.ready(testutils.ImpPeripheral(testAddr, "imp-1").Build())

	_, err := prov.Provision(context.Background(), rec, provision.Request{SSID: "Home"})
	s.Require().NoError(err)

	evs := s.sink.Events()
	s.Require().NotEmpty(evs)
	id := evs[0].SessionID
	s.NotEmpty(id)
	for _, ev := range evs {
		s.Equal(id, ev.SessionID)
		s.False(ev.Time.IsZero())
	}
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
