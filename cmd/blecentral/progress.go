package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps one status line updated with the time left in a
// countdown, or the elapsed time when the duration is zero.
//
// Usage:
//
//	p := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", 10*time.Second)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Stop may be called any number of times.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	duration time.Duration

	mu      sync.Mutex
	phase   string
	started time.Time
	stop    chan struct{}
	done    chan struct{}
}

// NewProgressPrinter creates a printer writing to out.
func NewProgressPrinter(out io.Writer, prefix string, duration time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		duration: duration,
		phase:    "Scanning",
	}
}

// isTerminal reports whether w is an interactive terminal. Progress lines
// are only drawn there so piped output stays clean.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SetPhase changes the label shown in the status line.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

// Start draws the status line until Stop. It does nothing when out is not a terminal.
func (p *ProgressPrinter) Start() {
	if !isTerminal(p.out) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		panic("ProgressPrinter.Start called more than once")
	}
	p.started = time.Now()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.loop(p.stop, p.done)
}

func (p *ProgressPrinter) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	for {
		fmt.Fprint(p.out, p.line(time.Now()))
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// line renders the status for now.
func (p *ProgressPrinter) line(now time.Time) string {
	p.mu.Lock()
	phase, started := p.phase, p.started
	p.mu.Unlock()

	elapsed := now.Sub(started)
	var seconds int
	if p.duration > 0 {
		// Round to the nearest second, e.g. 3.7s -> 4s; show 0s once elapsed
		if remaining := p.duration - elapsed; remaining > 0 {
			seconds = int(remaining.Seconds() + 0.5)
		}
	} else {
		seconds = int(elapsed.Seconds())
	}

	if seconds > 0 {
		return fmt.Sprintf("\r%s (%s %ds)   ", p.prefix, phase, seconds)
	}
	return fmt.Sprintf("\r%s (%s...)   ", p.prefix, phase)
}

// Stop ends the display and clears the line.
func (p *ProgressPrinter) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	fmt.Fprint(p.out, clearLineSequence)
}
