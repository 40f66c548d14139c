// Package dispatch delivers outgoing text through the automation driver.
// All delivery is sequential: the driver session is a single UI and is not
// safe for simultaneous operations.
package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"infobot/internal/domain"
	"infobot/internal/metrics"
)

// Dispatcher fans one message out to N target contacts with per-recipient
// outcome bookkeeping. A failure for one contact never aborts the loop.
type Dispatcher struct {
	driver domain.Driver
	logger *slog.Logger

	mu     sync.Mutex
	opened map[string]bool
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	Driver domain.Driver
	Logger *slog.Logger
}

func New(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		driver: cfg.Driver,
		logger: cfg.Logger,
		opened: make(map[string]bool),
	}
}

// Send transmits text to one contact. Returns the driver's success boolean;
// driver failures are logged and counted, never propagated.
func (d *Dispatcher) Send(ctx context.Context, contact, text string) bool {
	ok := d.driver.SendText(ctx, contact, text)
	metrics.MessagesSent.Inc()
	if ok {
		d.markOpened(contact)
		d.logger.Info("message sent", "contact", contact)
	} else {
		metrics.DriverFailures.Inc()
		d.logger.Error("message send failed", "contact", contact)
	}
	return ok
}

// Reply is Send under a different name; it exists so auto-replies are
// attributed separately in the statistics.
func (d *Dispatcher) Reply(ctx context.Context, contact, text string) bool {
	return d.Send(ctx, contact, text)
}

// Broadcast delivers text to every contact in the list sequentially and
// returns the full per-contact outcome map, even when every send fails.
func (d *Dispatcher) Broadcast(ctx context.Context, contacts []string, text string) map[string]bool {
	results := make(map[string]bool, len(contacts))

	d.logger.Info("broadcast starting", "targets", len(contacts))
	for _, contact := range contacts {
		results[contact] = d.Send(ctx, contact, text)
	}

	success := SuccessCount(results)
	d.logger.Info("broadcast finished", "ok", success, "total", len(contacts))
	return results
}

// OpenWindows opens the chat window for each contact without sending,
// recording which opens succeeded. Run at startup so later sends land on
// a warm window.
func (d *Dispatcher) OpenWindows(ctx context.Context, contacts []string) map[string]bool {
	results := make(map[string]bool, len(contacts))
	for _, contact := range contacts {
		ok := d.driver.Open(ctx, contact)
		results[contact] = ok
		if ok {
			d.markOpened(contact)
		} else {
			metrics.DriverFailures.Inc()
			d.logger.Warn("cannot open chat window", "contact", contact)
		}
	}
	return results
}

// OpenedWindows returns the contacts whose chat windows have been opened,
// sorted for stable output.
func (d *Dispatcher) OpenedWindows() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.opened))
	for c := range d.opened {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CloseWindow removes a contact from the opened-window record. Returns
// false when the contact was not recorded.
func (d *Dispatcher) CloseWindow(contact string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.opened[contact] {
		return false
	}
	delete(d.opened, contact)
	return true
}

func (d *Dispatcher) markOpened(contact string) {
	d.mu.Lock()
	d.opened[contact] = true
	d.mu.Unlock()
}

// SuccessCount tallies the true outcomes in a broadcast result map.
func SuccessCount(results map[string]bool) int {
	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n
}
