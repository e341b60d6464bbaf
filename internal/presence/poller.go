package presence

import (
	"sync"
	"time"

	appLog "calpresence/internal/log"
	"calpresence/internal/model"
)

// DefaultPollInterval is how often a device's presence is re-read.
const DefaultPollInterval = 10 * time.Second

// Sink receives presence readings.
type Sink interface {
	PublishPresence(state model.PresenceState) error
}

// Sinks is the set of destinations a Poller publishes to. Each member keeps
// its own last published state, so a failing sink is retried on the next
// tick without re-notifying the others.
type Sinks []Sink

// Reader is what a Poller needs from the matcher.
type Reader interface {
	IsPresent(name string) bool
}

// Poller periodically reads presence for one device and publishes it to
// each sink on the first reading and on every change.
type Poller struct {
	device   string
	interval time.Duration
	reader   Reader
	sinks    Sinks
	now      func() time.Time

	mu      sync.Mutex
	reading *bool
	last    []*bool // per sink, parallel to sinks
	stopped bool

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPoller builds a Poller. interval <= 0 uses DefaultPollInterval and a
// nil now uses time.Now.
func NewPoller(device string, interval time.Duration, reader Reader, sinks Sinks, now func() time.Time) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Poller{
		device:   device,
		interval: interval,
		reader:   reader,
		sinks:    sinks,
		now:      now,
		last:     make([]*bool, len(sinks)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start polls once immediately and then on every interval until Stop.
// Only the first call has an effect.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		ticker := time.NewTicker(p.interval)
		ticks := make(chan time.Time, 1)
		ticks <- p.now()
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-p.stop:
					return
				case t := <-ticker.C:
					select {
					case ticks <- t:
					default:
					}
				}
			}
		}()
		go p.runLoop(ticks)
	})
}

// Stop halts polling. No publish happens after Stop returns.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.stop)
	})
}

// Done is closed once the poll loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) runLoop(ticks <-chan time.Time) {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case <-ticks:
			p.Poll()
		}
	}
}

// Poll takes one reading and publishes it to every sink that has not yet
// received that value. A sink whose publish fails keeps its previous state
// and is retried on the next call. Poll reports whether any publish was
// attempted.
func (p *Poller) Poll() bool {
	present := p.reader.IsPresent(p.device)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}

	if p.reading == nil || *p.reading != present {
		appLog.Info("presence changed", "device", p.device, "present", present)
	}
	p.reading = &present

	attempted := false
	state := model.PresenceState{Device: p.device, Present: present, At: p.now()}
	for i, sink := range p.sinks {
		if p.last[i] != nil && *p.last[i] == present {
			continue
		}
		attempted = true
		if err := sink.PublishPresence(state); err != nil {
			appLog.Error("presence publish failed", err, "device", p.device)
			continue
		}
		p.last[i] = &present
	}
	return attempted
}
