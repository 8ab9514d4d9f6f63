package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/bledb"
	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/groutine"
	"github.com/srg/blinkup/internal/imp"
)

// identityReads is the fixed order in which identity characteristics are read.
var identityReads = []struct {
	phase Phase
	char  string
}{
	{PhaseReadingSerial, imp.CharSerial},
	{PhaseReadingModel, imp.CharModel},
	{PhaseReadingAgentURL, imp.CharAgentURL},
	{PhaseReadingVersion, imp.CharVersion},
}

// Prober resolves the identity of discovered peripherals.
type Prober struct {
	adapter        device.Adapter
	policy         RetryPolicy
	connectTimeout time.Duration
	sink           Sink
	logger         *logrus.Logger
}

// NewProber creates a Prober. Every connect is bounded by connectTimeout, zero
// selects the default. A nil sink discards events, a nil logger logs to stderr.
func NewProber(adapter device.Adapter, policy RetryPolicy, connectTimeout time.Duration, sink Sink, logger *logrus.Logger) *Prober {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = NopSink{}
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultSessionConfig().ConnectTimeout
	}
	return &Prober{
		adapter:        adapter,
		policy:         policy.normalized(),
		connectTimeout: connectTimeout,
		sink:           sink,
		logger:         logger,
	}
}

// Probe connects to rec, discovers its services and characteristics and reads
// its identity. On success the record is Ready; the link is kept with the record
// when the device turned out to be PIN-gated and closed otherwise. On failure
// the link is torn down and a *ProbeError is returned.
func (p *Prober) Probe(ctx context.Context, rec *imp.Record) error {
	release, err := rec.Acquire("probe")
	if err != nil {
		return busyErr(err)
	}
	defer release()

	log := p.logger.WithFields(logrus.Fields{
		"address": rec.Address(),
		"device":  rec.Name(),
	})
	if worker := groutine.GetName(ctx); worker != "" {
		log = log.WithField("goroutine", worker)
	}
	started := time.Now()

	conn, err := p.run(ctx, rec, log)
	if err != nil {
		if conn != nil {
			if derr := conn.Disconnect(); derr != nil {
				log.WithError(derr).Warn("Failed to disconnect after probe failure")
			}
		}
		rec.DetachConnection()
		rec.SetState(imp.Disconnected)
		log.WithError(err).Info("Identity probe failed")
		return err
	}

	rec.SetState(imp.Ready)
	if rec.RequiresPin() {
		rec.AttachConnection(conn)
		log.Debug("Keeping PIN-gated device connected")
	} else {
		rec.DetachConnection()
		if derr := conn.Disconnect(); derr != nil {
			log.WithError(derr).Warn("Failed to disconnect after probe")
		}
	}
	p.phase(rec, PhaseReady)

	log.WithFields(logrus.Fields{
		"device_id": rec.DeviceID(),
		"model":     rec.Model(),
		"elapsed":   time.Since(started).Round(time.Millisecond),
	}).Info("Device identity resolved")
	return nil
}

// run executes the probe phases; the returned connection is non-nil whenever a link was opened.
func (p *Prober) run(ctx context.Context, rec *imp.Record, log *logrus.Entry) (device.Connection, error) {
	p.phase(rec, PhaseConnecting)
	rec.SetState(imp.Connecting)

	conn := rec.Connection()
	if conn == nil {
		var err error
		conn, err = dial(ctx, p.adapter, rec.Address(), p.connectTimeout)
		if err != nil {
			return nil, &ProbeError{Phase: PhaseConnecting, Err: err}
		}
	}
	rec.SetState(imp.Connected)
	log.Debug("Connected")

	p.phase(rec, PhaseDiscoveringServices)
	rec.SetState(imp.Discovering)
	services, err := conn.DiscoverServices(ctx)
	if err != nil {
		return conn, &ProbeError{Phase: PhaseDiscoveringServices, Err: transportErr("discover services", err)}
	}
	rec.SetServices(services)
	if !rec.HasService(imp.ProvisioningService) {
		return conn, &ProbeError{Phase: PhaseDiscoveringServices, Err: ErrNotProvisionable}
	}

	p.phase(rec, PhaseDiscoveringChars)
	for _, svc := range []string{imp.ProvisioningService, imp.DeviceInfoService} {
		if !rec.HasService(svc) {
			log.WithField("service_uuid", svc).Debug("Service not exposed, skipping")
			continue
		}
		chars, err := conn.DiscoverCharacteristics(ctx, svc)
		if err != nil {
			return conn, &ProbeError{Phase: PhaseDiscoveringChars, Err: transportErr("discover characteristics", err)}
		}
		if err := rec.SetCharacteristics(svc, chars); err != nil {
			return conn, &ProbeError{Phase: PhaseDiscoveringChars, Err: err}
		}
		log.WithFields(logrus.Fields{
			"service_uuid": svc,
			"count":        len(chars),
		}).Debug("Discovered characteristics")
	}

	for _, step := range identityReads {
		if !rec.HasCharacteristic(imp.DeviceInfoService, step.char) {
			continue
		}
		p.phase(rec, step.phase)
		value, err := ReadPinGated(ctx, conn, rec, imp.DeviceInfoService, step.char, p.policy, log)
		if err != nil {
			return conn, &ProbeError{Phase: step.phase, Err: err}
		}
		rec.SetIdentity(step.char, value)
	}
	return conn, nil
}

func (p *Prober) phase(rec *imp.Record, phase Phase) {
	p.sink.Publish(stamp(Event{
		Kind:    EventProbePhase,
		Address: rec.Address(),
		Device:  rec.Name(),
		Phase:   phase,
	}))
}

// ReadPinGated reads a characteristic under the retry policy. An empty read
// marks the record as PIN-gated and is retried after the policy delay.
func ReadPinGated(ctx context.Context, conn device.Connection, rec *imp.Record, service, char string, policy RetryPolicy, log *logrus.Entry) (string, error) {
	return Retry(ctx, policy, func(attempt int) {
		log.WithFields(logrus.Fields{
			"char_uuid": char,
			"attempt":   attempt,
		}).Debug("Empty read, waiting for PIN authorization")
	}, func(ctx context.Context) (string, error) {
		data, err := conn.Read(ctx, service, char)
		if err != nil {
			return "", transportErr(fmt.Sprintf("read %s", charName(char)), err)
		}
		if len(data) == 0 {
			rec.MarkRequiresPin()
			return "", ErrPending
		}
		return strings.TrimRight(string(data), "\x00 \r\n"), nil
	})
}

func charName(char string) string {
	if name := bledb.LookupCharacteristic(char); name != "" {
		return name
	}
	return char
}

// IsNotProvisionable reports whether a probe failed because the device lacks the provisioning service.
func IsNotProvisionable(err error) bool {
	return errors.Is(err, ErrNotProvisionable)
}
