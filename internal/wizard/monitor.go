package wizard

import (
	"sync"
	"time"
)

// IdleMonitor abandons an unattended session after a quiet period. Each
// wizard step arms it when the step begins waiting for input and disarms it
// when a reply arrives, so it only fires if no progress happens for a full
// period. A generation counter ties each scheduled fire to the Arm call
// that created it, which guarantees at most one callback per armed window
// and makes a late fire from a superseded window a no-op.
type IdleMonitor struct {
	mu     sync.Mutex
	period time.Duration
	timer  *time.Timer
	gen    uint64
	onIdle func()
}

// NewIdleMonitor creates a monitor that invokes onIdle after the configured
// quiet period. The monitor starts disarmed.
func NewIdleMonitor(period time.Duration, onIdle func()) *IdleMonitor {
	return &IdleMonitor{
		period: period,
		onIdle: onIdle,
	}
}

// Arm starts (or restarts) the idle window. A previously scheduled fire is
// cancelled; the window begins anew from now.
func (m *IdleMonitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	gen := m.gen
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.period, func() {
		m.fire(gen)
	})
}

// Disarm cancels the pending idle window, if any.
func (m *IdleMonitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Armed reports whether an idle window is pending.
func (m *IdleMonitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

func (m *IdleMonitor) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		// Superseded by a later Arm or Disarm.
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.onIdle()
}
