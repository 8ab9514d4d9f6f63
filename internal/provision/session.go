package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/enroll"
	"github.com/srg/blinkup/internal/imp"
)

// APIKeyCredential is the credential-store key holding the enrollment API key.
const APIKeyCredential = "api-key"

// Enroller is the cloud enrollment collaborator.
type Enroller interface {
	CreateConfig(ctx context.Context, apiKey string) (enroll.Config, error)
	Poll(ctx context.Context, cfg enroll.Config, timeout time.Duration) enroll.PollResult
}

// KeyStore is the read side of the credential store.
type KeyStore interface {
	Get(key string) (string, bool, error)
}

// SessionConfig holds the timings of a provisioning session.
type SessionConfig struct {
	ConnectTimeout time.Duration
	GraceDelay     time.Duration
	PollTimeout    time.Duration
	Retry          RetryPolicy
}

// DefaultSessionConfig returns the timings used when nothing is configured.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout: 15 * time.Second,
		GraceDelay:     3 * time.Second,
		PollTimeout:    60 * time.Second,
		Retry:          DefaultRetryPolicy(),
	}
}

// Request is what the user commits to when provisioning a device.
type Request struct {
	SSID     string
	Password string
	// Hidden selects the device's hidden network entry; SSID must name it.
	Hidden bool
	// APIKey enables enrollment. When empty the key is loaded from the KeyStore.
	APIKey string
	// SkipEnrollment only changes Wi-Fi settings, ignoring any stored key.
	SkipEnrollment bool
}

// Status is the outcome of a successful session.
type Status string

const (
	StatusCompleted         Status = "completed"
	StatusEnrolled          Status = "enrolled"
	StatusEnrollmentUnknown Status = "enrollment_unknown"
	StatusCleared           Status = "cleared"
)

// Result describes a finished session.
type Result struct {
	Status   Status      `json:"status"`
	NoPoll   bool        `json:"no_poll,omitempty"`
	DeviceID string      `json:"device_id"`
	AgentURL string      `json:"agent_url,omitempty"`
	Network  imp.Network `json:"network"`
}

// Provisioner runs provisioning sessions against Ready device records.
type Provisioner struct {
	adapter  device.Adapter
	enroller Enroller
	keys     KeyStore
	cfg      SessionConfig
	sink     Sink
	logger   *logrus.Logger
}

// NewProvisioner creates a Provisioner. enroller and keys may be nil, which
// disables enrollment and stored-key lookup respectively.
func NewProvisioner(adapter device.Adapter, enroller Enroller, keys KeyStore, cfg SessionConfig, sink Sink, logger *logrus.Logger) *Provisioner {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = NopSink{}
	}
	cfg.Retry = cfg.Retry.normalized()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultSessionConfig().ConnectTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultSessionConfig().PollTimeout
	}
	return &Provisioner{
		adapter:  adapter,
		enroller: enroller,
		keys:     keys,
		cfg:      cfg,
		sink:     sink,
		logger:   logger,
	}
}

// session is one run against one record. It owns the record until done.
type session struct {
	p       *Provisioner
	rec     *imp.Record
	id      string
	log     *logrus.Entry
	conn    device.Connection
	release func()
}

func (p *Provisioner) begin(rec *imp.Record, op string) (*session, error) {
	id := uuid.NewString()
	log := p.logger.WithFields(logrus.Fields{
		"address":    rec.Address(),
		"device":     rec.Name(),
		"session_id": id,
	})
	s := &session{p: p, rec: rec, id: id, log: log}

	release, err := rec.Acquire(op)
	if err != nil {
		return s, busyErr(err)
	}
	if st := rec.State(); st != imp.Ready {
		release()
		return s, fmt.Errorf("%w (state %s)", ErrNotReady, st)
	}
	s.release = release
	log.WithField("operation", op).Debug("Session started")
	return s, nil
}

// FetchNetworks connects to rec and reads the Wi-Fi networks it can see.
func (p *Provisioner) FetchNetworks(ctx context.Context, rec *imp.Record) ([]imp.Network, error) {
	s, err := p.begin(rec, "networks")
	if err != nil {
		s.fail(err)
		return nil, err
	}
	defer s.release()

	if err := s.connect(ctx); err != nil {
		err = s.abort(err)
		s.fail(err)
		return nil, err
	}
	networks, err := s.fetchNetworks(ctx)
	if err != nil {
		err = s.abort(err)
		s.fail(err)
		return nil, err
	}
	s.settle()
	return networks, nil
}

// Provision writes Wi-Fi (and, with an API key, enrollment) settings to rec
// and applies them. Validation and enrollment setup happen before any write.
//
// Cancelling ctx aborts the session up to the write phase; once writes have
// started the session runs through the trigger first. When enrollment status
// cannot be determined the result has StatusEnrollmentUnknown and the error
// wraps ErrEnrollmentTimedOut.
func (p *Provisioner) Provision(ctx context.Context, rec *imp.Record, req Request) (*Result, error) {
	s, err := p.begin(rec, "provision")
	if err != nil {
		s.fail(err)
		return nil, err
	}
	defer s.release()

	res, err := s.provision(ctx, req)
	switch {
	case res != nil:
		s.complete(EventCompleted, res, err)
	default:
		s.fail(err)
	}
	return res, err
}

// Clear wipes the Wi-Fi and enrollment settings stored on rec.
func (p *Provisioner) Clear(ctx context.Context, rec *imp.Record) (*Result, error) {
	s, err := p.begin(rec, "clear")
	if err != nil {
		s.fail(err)
		return nil, err
	}
	defer s.release()

	if err := s.connect(ctx); err != nil {
		err = s.abort(err)
		s.fail(err)
		return nil, err
	}

	s.phase(PhaseClearing)
	wctx := context.WithoutCancel(ctx)
	if err := s.trigger(wctx, imp.CharClearTrigger, imp.ClearPayload); err != nil {
		err = s.abort(err)
		s.fail(err)
		return nil, err
	}
	s.log.Info("Device settings cleared")

	s.graceAndSettle(ctx)
	res := &Result{Status: StatusCleared, NoPoll: true, DeviceID: rec.DeviceID()}
	s.complete(EventCleared, res, nil)
	return res, nil
}

func (s *session) provision(ctx context.Context, req Request) (*Result, error) {
	if err := s.connect(ctx); err != nil {
		return nil, s.abort(err)
	}

	networks, err := s.fetchNetworks(ctx)
	if err != nil {
		return nil, s.abort(err)
	}

	s.phase(PhaseValidating)
	network, err := selectNetwork(networks, req)
	if err != nil {
		return nil, s.abort(err)
	}

	apiKey, err := s.apiKey(req)
	if err != nil {
		return nil, s.abort(err)
	}

	var enrollment *enroll.Config
	if apiKey != "" {
		s.phase(PhaseEnrolling)
		if s.p.enroller == nil {
			return nil, s.abort(fmt.Errorf("%w: no enrollment client configured", ErrEnrollmentSetupFailed))
		}
		cfg, err := s.p.enroller.CreateConfig(ctx, apiKey)
		if err != nil {
			if ctx.Err() != nil {
				return nil, s.abort(ctx.Err())
			}
			return nil, s.abort(fmt.Errorf("%w: %w", ErrEnrollmentSetupFailed, err))
		}
		enrollment = &cfg
	}

	if err := ctx.Err(); err != nil {
		return nil, s.abort(err)
	}

	// From here on the device gets written to; cancellation waits for the trigger.
	wctx := context.WithoutCancel(ctx)

	s.phase(PhaseWriting)
	writes := []struct {
		char  string
		value string
	}{
		{imp.CharSSID, req.SSID},
		{imp.CharPassword, req.Password},
	}
	if enrollment != nil {
		writes = append(writes,
			struct{ char, value string }{imp.CharToken, enrollment.Token},
			struct{ char, value string }{imp.CharPlanID, enrollment.PlanID},
		)
	}
	for _, w := range writes {
		if err := s.write(wctx, w.char, []byte(w.value)); err != nil {
			return nil, s.abort(err)
		}
	}

	s.phase(PhaseTriggering)
	if err := s.trigger(wctx, imp.CharApplyTrigger, imp.ApplyPayload); err != nil {
		return nil, s.abort(err)
	}
	s.log.WithField("ssid", network.DisplayName()).Info("Wi-Fi settings applied")

	res := &Result{
		Status:   StatusCompleted,
		DeviceID: s.rec.DeviceID(),
		AgentURL: s.rec.AgentURL(),
		Network:  network,
	}

	if err := ctx.Err(); err != nil {
		s.teardown()
		return nil, fmt.Errorf("cancelled after settings were applied: %w", err)
	}

	if enrollment == nil {
		res.NoPoll = true
		s.graceAndSettle(ctx)
		return res, nil
	}

	s.phase(PhasePolling)
	poll := s.p.enroller.Poll(ctx, *enrollment, s.p.cfg.PollTimeout)
	s.settle()

	switch poll.Status {
	case enroll.Responded:
		res.Status = StatusEnrolled
		if poll.DeviceID != "" {
			res.DeviceID = poll.DeviceID
		}
		if poll.AgentURL != "" {
			res.AgentURL = poll.AgentURL
		}
		s.log.WithField("agent_url", res.AgentURL).Info("Device enrolled")
		return res, nil
	case enroll.Error:
		s.log.WithError(poll.Err).Warn("Enrollment poll failed, enrollment status unknown")
		res.Status = StatusEnrollmentUnknown
		return res, fmt.Errorf("%w: %w", ErrEnrollmentTimedOut, poll.Err)
	default:
		s.log.Info("Enrollment poll timed out, enrollment status unknown")
		res.Status = StatusEnrollmentUnknown
		return res, ErrEnrollmentTimedOut
	}
}

// connect reuses the link kept for PIN-gated devices or opens a new one.
func (s *session) connect(ctx context.Context) error {
	s.phase(PhaseConnecting)
	if conn := s.rec.Connection(); conn != nil {
		s.log.Debug("Reusing kept connection")
		s.conn = conn
		return nil
	}

	conn, err := dial(ctx, s.p.adapter, s.rec.Address(), s.p.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	s.conn = conn
	s.log.Debug("Connected")
	return nil
}

// dial opens a link bounded by timeout. Running out of time maps to
// ErrConnectTimeout unless ctx itself ended.
func dial(ctx context.Context, adapter device.Adapter, address string, timeout time.Duration) (device.Connection, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := adapter.Connect(cctx, address)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrConnectTimeout, timeout)
		}
		return nil, transportErr("connect", err)
	}
	return conn, nil
}

func (s *session) fetchNetworks(ctx context.Context) ([]imp.Network, error) {
	s.phase(PhaseFetchingNetworks)

	networks, err := Retry(ctx, s.p.cfg.Retry, func(attempt int) {
		s.log.WithField("attempt", attempt).Debug("Network list not readable yet, retrying")
	}, func(ctx context.Context) ([]imp.Network, error) {
		data, err := s.conn.Read(ctx, imp.ProvisioningService, imp.CharNetworkList)
		if err != nil {
			return nil, transportErr("read network list", err)
		}
		if len(data) == 0 {
			s.rec.MarkRequiresPin()
			return nil, ErrPending
		}
		networks, err := imp.ParseNetworks(data)
		if errors.Is(err, imp.ErrMalformedNetworkList) {
			s.log.WithError(err).Debug("Malformed network list")
			return nil, fmt.Errorf("%w: %w", ErrPending, err)
		}
		return networks, err
	})

	switch {
	case errors.Is(err, imp.ErrNoNetworks):
		s.rec.SetNetworks(nil)
		return nil, fmt.Errorf("%w: %w", ErrNoNetworksAvailable, err)
	case err != nil:
		return nil, err
	}

	s.rec.SetNetworks(networks)
	s.log.WithField("count", len(networks)).Debug("Fetched network list")
	return networks, nil
}

// selectNetwork resolves the requested network against what the device sees.
func selectNetwork(networks []imp.Network, req Request) (imp.Network, error) {
	if req.Hidden {
		if req.SSID == "" {
			return imp.Network{}, fmt.Errorf("%w: a hidden network needs an SSID", ErrConfigurationInvalid)
		}
		hidden, ok := imp.FindNetwork(networks, "", true)
		if !ok {
			return imp.Network{}, fmt.Errorf("%w: device sees no hidden network", ErrConfigurationInvalid)
		}
		network := imp.Network{SSID: req.SSID, Locked: hidden.Locked}
		if network.Locked && req.Password == "" {
			return imp.Network{}, fmt.Errorf("%w: network %q is locked and no password was given", ErrConfigurationInvalid, req.SSID)
		}
		return network, nil
	}

	if req.SSID == "" {
		return imp.Network{}, fmt.Errorf("%w: no network chosen", ErrConfigurationInvalid)
	}
	network, ok := imp.FindNetwork(networks, req.SSID, false)
	if !ok {
		return imp.Network{}, fmt.Errorf("%w: network %q is not visible to the device", ErrConfigurationInvalid, req.SSID)
	}
	if network.IsPlaceholder() {
		return imp.Network{}, fmt.Errorf("%w: no network chosen", ErrConfigurationInvalid)
	}
	if network.Locked && req.Password == "" {
		return imp.Network{}, fmt.Errorf("%w: network %q is locked and no password was given", ErrConfigurationInvalid, req.SSID)
	}
	return network, nil
}

func (s *session) apiKey(req Request) (string, error) {
	if req.SkipEnrollment {
		return "", nil
	}
	if req.APIKey != "" {
		return req.APIKey, nil
	}
	if s.p.keys == nil {
		return "", nil
	}
	key, ok, err := s.p.keys.Get(APIKeyCredential)
	if err != nil {
		return "", fmt.Errorf("%w: load API key: %w", ErrEnrollmentSetupFailed, err)
	}
	if !ok {
		s.log.Debug("No stored API key, skipping enrollment")
		return "", nil
	}
	return key, nil
}

func (s *session) write(ctx context.Context, char string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.p.cfg.ConnectTimeout)
	defer cancel()

	if err := s.conn.Write(ctx, imp.ProvisioningService, char, data); err != nil {
		return &WriteError{Characteristic: char, Err: transportErr("write", err)}
	}
	s.log.WithField("char_uuid", char).Debug("Wrote characteristic")
	return nil
}

// trigger writes a trigger payload, retrying once on a transport error.
func (s *session) trigger(ctx context.Context, char string, payload []byte) error {
	_, err := retryWhile(ctx, 2, s.p.cfg.Retry.Delay, func(err error) bool {
		if errors.Is(err, ErrTransport) {
			s.log.WithError(err).Warn("Trigger write failed, retrying once")
			return true
		}
		return false
	}, func() (struct{}, error) {
		return struct{}{}, s.write(ctx, char, payload)
	})
	return err
}

// settle ends the session's use of the link: PIN-gated devices keep it, others are disconnected.
func (s *session) settle() {
	if s.conn == nil {
		return
	}
	if s.rec.RequiresPin() {
		s.rec.AttachConnection(s.conn)
		s.log.Debug("Keeping PIN-gated device connected")
		return
	}
	s.teardown()
}

// graceAndSettle waits the grace delay before a disconnect so the last write can be acknowledged.
func (s *session) graceAndSettle(ctx context.Context) {
	if s.conn != nil && !s.rec.RequiresPin() && s.p.cfg.GraceDelay > 0 {
		timer := time.NewTimer(s.p.cfg.GraceDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	s.settle()
}

func (s *session) teardown() {
	s.rec.DetachConnection()
	if s.conn == nil {
		return
	}
	s.phase(PhaseDisconnecting)
	if err := s.conn.Disconnect(); err != nil {
		s.log.WithError(err).Warn("Failed to disconnect")
	}
	s.conn = nil
}

// abort tears the link down after a failure and returns err.
func (s *session) abort(err error) error {
	s.teardown()
	return err
}

func (s *session) phase(phase Phase) {
	s.p.sink.Publish(stamp(Event{
		Kind:      EventSessionPhase,
		Address:   s.rec.Address(),
		Device:    s.rec.Name(),
		SessionID: s.id,
		Phase:     phase,
	}))
}

func (s *session) complete(kind EventKind, res *Result, err error) {
	s.p.sink.Publish(stamp(Event{
		Kind:      kind,
		Address:   s.rec.Address(),
		Device:    s.rec.Name(),
		SessionID: s.id,
		Result:    res,
		Err:       err,
	}))
}

func (s *session) fail(err error) {
	if errors.Is(err, context.Canceled) {
		s.log.WithError(err).Info("Session cancelled")
	} else {
		s.log.WithError(err).Error("Session failed")
	}
	s.p.sink.Publish(stamp(Event{
		Kind:      EventFailed,
		Address:   s.rec.Address(),
		Device:    s.rec.Name(),
		SessionID: s.id,
		Err:       err,
	}))
}
