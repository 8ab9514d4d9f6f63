package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/provision"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// FastRetry is a PIN retry policy short enough for unit tests.
func FastRetry(attempts int) provision.RetryPolicy {
	return provision.RetryPolicy{MaxAttempts: attempts, Delay: time.Millisecond}
}

// RecordingSink collects published events.
type RecordingSink struct {
	events chan provision.Event
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{events: make(chan provision.Event, 1024)}
}

func (s *RecordingSink) Publish(ev provision.Event) {
	s.events <- ev
}

// Events drains and returns everything published so far.
func (s *RecordingSink) Events() []provision.Event {
	var out []provision.Event
	for {
		select {
		case ev := <-s.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Kinds drains the sink and returns the event kinds in publish order.
func (s *RecordingSink) Kinds() []provision.EventKind {
	evs := s.Events()
	out := make([]provision.EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}
