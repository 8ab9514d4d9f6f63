package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/blinkup/internal/provision"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	progressEventBuffer    = 32
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps a single status line updated with the current phase
// and elapsed (or remaining) seconds.
//
// Usage:
//
//	p := NewProgressPrinter(w, ...)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Start may be called at most once; Stop is
// safe to call any number of times.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	phase      atomic.Value        // stores string - current phase name
	stopPhases map[string]struct{} // set of phases that trigger a graceful shutdown
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{} // closed when goroutine exits
	cleared    chan struct{} // closed once the line is cleared
	started    atomic.Bool
	countUp    bool          // true for count up, false for countdown
	duration   time.Duration // for countdown mode

	events   *provision.ChannelSink
	consume  sync.Once
	consumed chan struct{} // closed when the event consumer exits
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(out, prefix, phase, true, 0, stopPhases)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from the duration.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(out, prefix, phase, false, duration, stopPhases)
}

func newProgressPrinter(out io.Writer, prefix, phase string, countUp bool, duration time.Duration, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
		countUp:    countUp,
		duration:   duration,
		events:     provision.NewChannelSink(progressEventBuffer),
		consumed:   make(chan struct{}),
		cleared:    make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.startProgressLoop(ticker)
}

func (p *ProgressPrinter) printProgress(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) startProgressLoop(ticker *time.Ticker) {
	p.printProgress(p.phase.Load().(string), 0)

	go func() {
		defer close(p.done)

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				currentPhase := p.phase.Load().(string)
				if _, isStopPhase := p.stopPhases[currentPhase]; isStopPhase {
					return
				}
				p.printProgress(currentPhase, p.seconds(time.Since(p.startTime)))
			}
		}
	}()
}

// seconds is the elapsed time when counting up, otherwise the remaining time
// rounded to the nearest second and floored at zero.
func (p *ProgressPrinter) seconds(elapsed time.Duration) int {
	if p.countUp {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}

// Callback returns a function that updates the phase.
// If the new phase is a stop phase, Stop() is called automatically.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// Sink feeds probe and session phases into the printer through a drop-oldest
// ChannelSink drained on a separate goroutine. Terminal events are forwarded
// by their kind, so they can be used as stop phases.
func (p *ProgressPrinter) Sink() provision.Sink {
	p.consume.Do(func() {
		update := p.Callback()
		go func() {
			defer close(p.consumed)
			for ev := range p.events.C() {
				switch ev.Kind {
				case provision.EventSessionPhase, provision.EventProbePhase:
					update(string(ev.Phase))
				case provision.EventFound, provision.EventNoneFound,
					provision.EventCompleted, provision.EventCleared, provision.EventFailed:
					update(string(ev.Kind))
				}
			}
		}()
	})
	return p.events
}

// Stop stops the progress display, clears the line and ends event
// consumption. Only the first call clears the line; later calls return once
// it is cleared.
func (p *ProgressPrinter) Stop() {
	p.events.Close()

	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		if p.started.Load() {
			<-p.cleared
		}
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Fprint(p.out, clearLineSequence)
	close(p.cleared)
}
