package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/device"
	"github.com/srg/blinkup/internal/groutine"
	"github.com/srg/blinkup/internal/imp"
	"github.com/srg/blinkup/internal/provision"
)

// Scan timeout bounds accepted by ScanOptions.Validate.
const (
	MinScanTimeout = 15 * time.Second
	MaxScanTimeout = 32 * time.Second
)

var (
	// ErrAlreadyScanning is returned when Run is called on a scanner that is already scanning.
	ErrAlreadyScanning = errors.New("scan already in progress")
	// ErrDeviceNotFound is returned by Find when the target never became ready.
	ErrDeviceNotFound = errors.New("device not found")
)

// State is the discovery session state.
type State int32

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}

// StopReason tells why a scan ended.
type StopReason int

const (
	ReasonTimeout StopReason = iota
	ReasonStopped
	ReasonTargetFound
)

func (r StopReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonStopped:
		return "stopped"
	case ReasonTargetFound:
		return "target found"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Outcome summarises a finished scan.
type Outcome struct {
	Found  int
	Reason StopReason
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Timeout   time.Duration
	AllowList []string
	BlockList []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{Timeout: MinScanTimeout}
}

// Validate checks the scan timeout range.
func (o *ScanOptions) Validate() error {
	if o.Timeout < MinScanTimeout || o.Timeout > MaxScanTimeout {
		return fmt.Errorf("scan timeout %s out of range [%s, %s]", o.Timeout, MinScanTimeout, MaxScanTimeout)
	}
	return nil
}

// Scanner is the discovery session: it scans for imps, probes every candidate
// concurrently and keeps the ones that became Ready in its registry.
type Scanner struct {
	adapter  device.Adapter
	prober   *provision.Prober
	registry *imp.Registry
	sink     provision.Sink
	logger   *logrus.Logger

	state   atomic.Int32
	mu      sync.Mutex
	stopCh  chan struct{}
	stopped atomic.Bool
}

// NewScanner creates a Scanner that fills registry.
func NewScanner(adapter device.Adapter, prober *provision.Prober, registry *imp.Registry, sink provision.Sink, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if sink == nil {
		sink = provision.NopSink{}
	}
	if registry == nil {
		registry = imp.NewRegistry()
	}
	return &Scanner{
		adapter:  adapter,
		prober:   prober,
		registry: registry,
		sink:     sink,
		logger:   logger,
	}
}

func (s *Scanner) Registry() *imp.Registry { return s.registry }

func (s *Scanner) State() State { return State(s.state.Load()) }

// Stop ends a running scan. A stop requested while a timeout fires still wins.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil && s.stopped.CompareAndSwap(false, true) {
		close(s.stopCh)
	}
}

// Run scans until the timeout, Stop or ctx cancellation, then drops every record
// that did not become Ready and publishes Found or NoneFound. Records from a
// previous run are discarded first and any links they kept are closed.
func (s *Scanner) Run(ctx context.Context, opts *ScanOptions) (Outcome, error) {
	out, _, err := s.run(ctx, opts, "")
	return out, err
}

// Find scans until the device with the given address is Ready and returns its record.
func (s *Scanner) Find(ctx context.Context, address string, opts *ScanOptions) (*imp.Record, error) {
	out, target, err := s.run(ctx, opts, address)
	if err != nil {
		return nil, err
	}
	if out.Reason != ReasonTargetFound || target == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	return target, nil
}

type targetResult struct {
	rec *imp.Record
	err error
}

func (s *Scanner) run(ctx context.Context, opts *ScanOptions, target string) (Outcome, *imp.Record, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if !s.state.CompareAndSwap(int32(Idle), int32(Scanning)) {
		return Outcome{}, nil, ErrAlreadyScanning
	}
	defer s.state.Store(int32(Idle))

	if err := s.adapter.Enable(ctx); err != nil {
		if errors.Is(err, device.ErrBluetoothOff) {
			return Outcome{}, nil, fmt.Errorf("%w: %w", provision.ErrBluetoothUnavailable, err)
		}
		return Outcome{}, nil, fmt.Errorf("%w: enable adapter: %w", provision.ErrTransport, err)
	}

	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.stopped.Store(false)
	stopCh := s.stopCh
	s.mu.Unlock()

	for _, rec := range s.registry.Records() {
		s.release(rec)
	}
	s.registry.Reset()
	s.logger.WithField("timeout", opts.Timeout).Info("Starting BLE scan...")

	scanCtx, cancelScan := context.WithCancel(ctx)
	probeCtx, cancelProbes := context.WithCancel(ctx)
	defer cancelScan()
	defer cancelProbes()

	var probes sync.WaitGroup
	targetCh := make(chan targetResult, 1)

	scanErr := make(chan error, 1)
	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		scanErr <- s.adapter.Scan(ctx, []string{imp.ProvisioningService}, func(adv device.Advertisement) {
			s.handleAdvertisement(probeCtx, &probes, adv, opts, target, targetCh)
		})
	})

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	var (
		reason    StopReason
		runErr    error
		targetRec *imp.Record
		scanDone  bool
	)
	select {
	case <-timer.C:
		reason = ReasonTimeout
		if s.stopped.Load() {
			reason = ReasonStopped
		}
	case <-stopCh:
		reason = ReasonStopped
	case <-ctx.Done():
		reason = ReasonStopped
		runErr = ctx.Err()
	case err := <-scanErr:
		scanDone = true
		reason = ReasonStopped
		if err != nil {
			runErr = fmt.Errorf("scan failed: %w", device.NormalizeError(err))
		}
	case res := <-targetCh:
		reason = ReasonTargetFound
		targetRec, runErr = res.rec, res.err
	}

	cancelScan()
	if !scanDone {
		if err := <-scanErr; err != nil && runErr == nil {
			s.logger.WithError(err).Warn("Scan ended with error")
		}
	}
	cancelProbes()
	probes.Wait()

	found := s.dropUnready()
	s.logger.WithFields(logrus.Fields{
		"device_count": found,
		"reason":       reason.String(),
	}).Info("BLE scan completed")

	if found == 0 {
		s.publish(provision.Event{Kind: provision.EventNoneFound})
	} else {
		s.publish(provision.Event{Kind: provision.EventFound, Count: found})
	}
	return Outcome{Found: found, Reason: reason}, targetRec, runErr
}

// handleAdvertisement registers new peripherals and starts their identity probe.
func (s *Scanner) handleAdvertisement(ctx context.Context, wg *sync.WaitGroup, adv device.Advertisement, opts *ScanOptions, target string, targetCh chan<- targetResult) {
	addr := adv.Addr()
	if !shouldInclude(addr, opts) {
		return
	}

	rec, created := s.registry.GetOrCreate(addr, adv.LocalName())
	rec.UpdateAdvertisement(adv.LocalName(), adv.RSSI())
	if !created {
		return
	}
	rec.SetState(imp.Connecting)

	log := s.logger.WithFields(logrus.Fields{
		"device":  rec.Name(),
		"address": addr,
		"rssi":    adv.RSSI(),
	})
	log.Info("Discovered new device")

	isTarget := target != "" && strings.EqualFold(addr, target)
	groutine.GoTracked(ctx, wg, "probe-"+addr, func(ctx context.Context) {
		err := s.prober.Probe(ctx, rec)
		if err != nil {
			s.registry.Remove(addr)
			if ctx.Err() == nil {
				log.WithError(err).Warn("Dropping device")
			}
			s.publish(provision.Event{Kind: provision.EventDeviceDropped, Address: addr, Device: rec.Name(), Err: err})
			if isTarget {
				sendTarget(targetCh, targetResult{err: err})
			}
			return
		}
		s.publish(provision.Event{Kind: provision.EventDeviceReady, Address: addr, Device: rec.Name()})
		if isTarget {
			sendTarget(targetCh, targetResult{rec: rec})
		}
	})
}

func sendTarget(ch chan<- targetResult, res targetResult) {
	select {
	case ch <- res:
	default:
	}
}

// dropUnready removes records that never became Ready and returns how many remain.
func (s *Scanner) dropUnready() int {
	for _, rec := range s.registry.Records() {
		if rec.State() == imp.Ready {
			continue
		}
		s.release(rec)
		if s.registry.Remove(rec.Address()) {
			s.publish(provision.Event{Kind: provision.EventDeviceDropped, Address: rec.Address(), Device: rec.Name()})
		}
	}
	return s.registry.Len()
}

// release closes the link a PIN-gated record kept from its probe or last session.
func (s *Scanner) release(rec *imp.Record) {
	conn := rec.DetachConnection()
	if conn == nil {
		return
	}
	if err := conn.Disconnect(); err != nil {
		s.logger.WithError(err).WithField("address", rec.Address()).Warn("Failed to disconnect")
	}
}

func (s *Scanner) publish(ev provision.Event) {
	ev.Time = time.Now()
	if ev.Err != nil {
		ev.Error = ev.Err.Error()
	}
	s.sink.Publish(ev)
}

// shouldInclude applies the allow and block lists.
func shouldInclude(addr string, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) == 0 {
		return true
	}
	for _, a := range opts.AllowList {
		if strings.EqualFold(addr, a) {
			return true
		}
	}
	return false
}
