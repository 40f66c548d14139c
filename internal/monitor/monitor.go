// Package monitor watches source contacts for new chat activity and turns
// observed changes into activity events on the bus.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"infobot/internal/bus"
	"infobot/internal/config"
	"infobot/internal/domain"
	"infobot/internal/metrics"
)

// newActivitySignal is the marker carried on activity events. Detection is
// change-based, so the signal names the fact of activity rather than its
// content.
const newActivitySignal = "檢測到新活動"

// Monitor runs one polling unit per watched contact. Each iteration a unit
// re-opens the contact's chat window and waits up to its poll interval for a
// DOM change; a detected change publishes an ActivityEvent. Units are
// independent so one slow or broken contact never starves the others.
type Monitor struct {
	driver domain.Driver
	bus    *bus.EventBus
	cfg    config.MonitorConfig
	logger *slog.Logger

	mu        sync.Mutex
	units     map[string]*unit
	live      int
	lastCheck time.Time

	wg sync.WaitGroup
}

type unit struct {
	contact  string
	interval time.Duration
	cancel   context.CancelFunc
}

// MonitorConfig configures the monitor.
type MonitorConfig struct {
	Driver domain.Driver
	Bus    *bus.EventBus
	Config config.MonitorConfig
	Logger *slog.Logger
}

func New(cfg MonitorConfig) *Monitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{
		driver: cfg.Driver,
		bus:    cfg.Bus,
		cfg:    cfg.Config,
		logger: cfg.Logger,
		units:  make(map[string]*unit),
	}
}

// Watch starts a polling unit for one contact with the given extra poll
// delay. Watching an already-watched contact is a warned no-op.
func (m *Monitor) Watch(ctx context.Context, contact string, extraDelay time.Duration) {
	m.mu.Lock()
	if _, exists := m.units[contact]; exists {
		m.mu.Unlock()
		m.logger.Warn("contact already watched", "contact", contact)
		return
	}
	interval := time.Duration(m.cfg.CheckIntervalSeconds)*time.Second + extraDelay
	unitCtx, cancel := context.WithCancel(ctx)
	u := &unit{contact: contact, interval: interval, cancel: cancel}
	m.units[contact] = u
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(unitCtx, contact, interval)
	m.logger.Info("watching contact", "contact", contact, "interval", interval)
}

// WatchAll starts units for every contact in order. Poll intervals are
// staggered per index and unit starts are spaced so the chat windows do not
// all open in the same instant.
func (m *Monitor) WatchAll(ctx context.Context, contacts []string) {
	stagger := time.Duration(m.cfg.StaggerSeconds) * time.Second
	spacing := time.Duration(m.cfg.StartSpacingMillis) * time.Millisecond

	for i, contact := range contacts {
		m.Watch(ctx, contact, time.Duration(i)*stagger)
		if spacing > 0 && i < len(contacts)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(spacing):
			}
		}
	}
}

// Unwatch stops the unit for one contact. The stop takes effect on the
// unit's next poll iteration; an in-flight wait is never preempted.
func (m *Monitor) Unwatch(contact string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[contact]
	if !ok {
		return false
	}
	u.cancel()
	delete(m.units, contact)
	m.logger.Info("stopped watching contact", "contact", contact)
	return true
}

// UnwatchAll stops every unit and waits for their goroutines to return.
func (m *Monitor) UnwatchAll() {
	m.mu.Lock()
	for contact, u := range m.units {
		u.cancel()
		delete(m.units, contact)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Status reports the watched set, the number of units still polling, and the
// wall-clock time of the most recent check.
func (m *Monitor) Status() domain.MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	watched := make([]string, 0, len(m.units))
	for contact := range m.units {
		watched = append(watched, contact)
	}
	sort.Strings(watched)

	last := ""
	if !m.lastCheck.IsZero() {
		last = m.lastCheck.Format("15:04:05")
	}
	return domain.MonitorStatus{
		Watched:   watched,
		LiveUnits: m.live,
		LastCheck: last,
	}
}

func (m *Monitor) run(ctx context.Context, contact string, interval time.Duration) {
	defer m.wg.Done()

	m.setLive(+1)
	defer m.setLive(-1)

	for {
		if ctx.Err() != nil {
			return
		}

		// Re-open the chat every iteration so the change wait always
		// observes this contact's window, not whichever one another unit
		// focused last.
		if !m.driver.Open(ctx, contact) {
			metrics.DriverFailures.Inc()
			m.logger.Warn("cannot open chat for monitoring, backing off", "contact", contact)
			if !sleep(ctx, 2*interval) {
				return
			}
			continue
		}

		changed := m.driver.WaitForChange(ctx, interval)
		m.touch()
		if changed {
			m.logger.Info("activity detected", "contact", contact)
			m.bus.Publish(domain.ActivityEvent{
				Contact: contact,
				Signal:  newActivitySignal,
				At:      time.Now(),
			})
		}
	}
}

func (m *Monitor) setLive(delta int) {
	m.mu.Lock()
	m.live += delta
	m.mu.Unlock()
	if delta > 0 {
		metrics.LiveMonitors.Inc()
	} else {
		metrics.LiveMonitors.Dec()
	}
}

func (m *Monitor) touch() {
	m.mu.Lock()
	m.lastCheck = time.Now()
	m.mu.Unlock()
}

// sleep blocks for d or until ctx is cancelled, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Describe summarizes the monitor for status output.
func (m *Monitor) Describe() string {
	st := m.Status()
	return fmt.Sprintf("%d watched, %d live, last check %s", len(st.Watched), st.LiveUnits, st.LastCheck)
}
