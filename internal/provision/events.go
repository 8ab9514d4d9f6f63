package provision

import (
	"time"

	"github.com/srg/blinkup/internal/events"
)

// Phase names a step of the identity probe or the provisioning session.
type Phase string

// Identity probe phases.
const (
	PhaseConnecting          Phase = "connecting"
	PhaseDiscoveringServices Phase = "discovering services"
	PhaseDiscoveringChars    Phase = "discovering characteristics"
	PhaseReadingSerial       Phase = "reading serial"
	PhaseReadingModel        Phase = "reading model"
	PhaseReadingAgentURL     Phase = "reading agent URL"
	PhaseReadingVersion      Phase = "reading firmware version"
	PhaseReady               Phase = "ready"
)

// Provisioning session phases.
const (
	PhaseFetchingNetworks Phase = "fetching networks"
	PhaseValidating       Phase = "validating"
	PhaseEnrolling        Phase = "creating enrollment"
	PhaseWriting          Phase = "writing settings"
	PhaseTriggering       Phase = "applying settings"
	PhasePolling          Phase = "waiting for enrollment"
	PhaseClearing         Phase = "clearing settings"
	PhaseDisconnecting    Phase = "disconnecting"
)

// EventKind classifies an Event.
type EventKind string

const (
	EventProbePhase    EventKind = "probe_phase"
	EventDeviceReady   EventKind = "device_ready"
	EventDeviceDropped EventKind = "device_dropped"
	EventFound         EventKind = "found"
	EventNoneFound     EventKind = "none_found"
	EventSessionPhase  EventKind = "session_phase"
	EventCompleted     EventKind = "completed"
	EventCleared       EventKind = "cleared"
	EventFailed        EventKind = "failed"
)

// Event is what the core reports upward to the user interface.
type Event struct {
	Kind      EventKind `json:"kind"`
	Address   string    `json:"address,omitempty"`
	Device    string    `json:"device,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Phase     Phase     `json:"phase,omitempty"`
	Count     int       `json:"count,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Err       error     `json:"-"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Sink receives events. Publish must not block the caller for long.
type Sink interface {
	Publish(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// ChannelSink publishes to a drop-oldest ring channel so a slow consumer never
// stalls a device pipeline.
type ChannelSink struct {
	ch *events.RingChannel[Event]
}

func NewChannelSink(capacity int) *ChannelSink {
	return &ChannelSink{ch: events.NewRingChannel[Event](capacity)}
}

func (s *ChannelSink) Publish(ev Event) {
	s.ch.Send(ev)
}

// C returns the channel to consume events from.
func (s *ChannelSink) C() <-chan Event { return s.ch.C() }

// Dropped returns how many events were overwritten before being consumed.
func (s *ChannelSink) Dropped() int64 { return s.ch.GetMetrics().Overwritten }

func (s *ChannelSink) Close() { s.ch.Close() }

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}

func stamp(ev Event) Event {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Err != nil && ev.Error == "" {
		ev.Error = ev.Err.Error()
	}
	return ev
}
