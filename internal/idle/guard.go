// Package idle ends the session after a stretch without user input.
package idle

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/loggo"
)

var logger = loggo.GetLogger("ailearning.client.idle")

// Activity is a kind of user input that keeps the session alive.
type Activity string

const (
	PointerMove Activity = "pointermove"
	KeyPress    Activity = "keypress"
	Scroll      Activity = "scroll"
	Click       Activity = "click"
	Touch       Activity = "touch"
)

func (a Activity) qualifies() bool {
	switch a {
	case PointerMove, KeyPress, Scroll, Click, Touch:
		return true
	}
	return false
}

type State int

const (
	Stopped State = iota
	Active
	Expired
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	}
	return "stopped"
}

// Guard runs Active -> Expired once per Start. Activity only records a timestamp;
// the timer checks it when it fires and re-arms for the remainder.
type Guard struct {
	clock    clock.Clock
	timeout  time.Duration
	onExpire func()

	mu    sync.Mutex
	state State
	epoch uint64
	last  time.Time
	timer clock.Timer
}

func NewGuard(clk clock.Clock, timeout time.Duration, onExpire func()) *Guard {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Guard{clock: clk, timeout: timeout, onExpire: onExpire}
}

// Start arms the guard. Starting an active guard restarts its window.
func (g *Guard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.epoch++
	g.state = Active
	g.last = g.clock.Now()
	g.armLocked(g.timeout)
}

// Stop disarms the guard without expiring. It is safe to call from onExpire.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	if g.state == Active {
		g.state = Stopped
	}
}

// Record notes qualifying input. It has no effect unless the guard is active.
func (g *Guard) Record(a Activity) {
	if !a.qualifies() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Active {
		g.last = g.clock.Now()
	}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) stopLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Guard) armLocked(after time.Duration) {
	epoch := g.epoch
	g.timer = g.clock.AfterFunc(after, func() { g.fire(epoch) })
}

func (g *Guard) fire(epoch uint64) {
	g.mu.Lock()
	if g.state != Active || g.epoch != epoch {
		g.mu.Unlock()
		return
	}
	if idle := g.clock.Now().Sub(g.last); idle < g.timeout {
		g.armLocked(g.timeout - idle)
		g.mu.Unlock()
		return
	}
	g.state = Expired
	g.timer = nil
	g.mu.Unlock()

	logger.Infof("no activity for %s, expiring session", g.timeout)
	if g.onExpire != nil {
		g.onExpire()
	}
}
