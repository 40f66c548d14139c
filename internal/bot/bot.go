// Package bot is the orchestrator: it consumes activity events, routes each
// resulting message by sender role, and drives the housekeeping schedule.
// It is the single consumer of the queue; monitor units only produce.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"infobot/internal/bus"
	"infobot/internal/config"
	"infobot/internal/decision"
	"infobot/internal/dispatch"
	"infobot/internal/domain"
	"infobot/internal/metrics"
	"infobot/internal/monitor"
	"infobot/internal/queue"
)

// Archiver records processed messages and per-recipient delivery outcomes.
// A nil Archiver disables archiving.
type Archiver interface {
	RecordMessage(ctx context.Context, msg *domain.Message, forwarded bool) error
	RecordDelivery(ctx context.Context, messageID, target string, ok bool, at time.Time) error
}

// Bot wires the pipeline together and owns its lifecycle.
type Bot struct {
	cfg        *config.Config
	roles      *domain.Roles
	driver     domain.Driver
	bus        *bus.EventBus
	store      *queue.Store
	engine     *decision.Engine
	dispatcher *dispatch.Dispatcher
	monitor    *monitor.Monitor
	scheduler  *Scheduler
	archive    Archiver
	logger     *slog.Logger

	running   atomic.Bool
	startedMu sync.Mutex
	startedAt time.Time

	received    atomic.Int64
	sent        atomic.Int64
	forwarded   atomic.Int64
	autoReplies atomic.Int64
}

// BotConfig carries the bot's collaborators. Driver, Bus, Store, Engine,
// Dispatcher and Monitor are required; Archiver is optional.
type BotConfig struct {
	Config     *config.Config
	Roles      *domain.Roles
	Driver     domain.Driver
	Bus        *bus.EventBus
	Store      *queue.Store
	Engine     *decision.Engine
	Dispatcher *dispatch.Dispatcher
	Monitor    *monitor.Monitor
	Archiver   Archiver
	Logger     *slog.Logger
}

func New(cfg BotConfig) *Bot {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bot{
		cfg:        cfg.Config,
		roles:      cfg.Roles,
		driver:     cfg.Driver,
		bus:        cfg.Bus,
		store:      cfg.Store,
		engine:     cfg.Engine,
		dispatcher: cfg.Dispatcher,
		monitor:    cfg.Monitor,
		scheduler:  NewScheduler(cfg.Logger),
		archive:    cfg.Archiver,
		logger:     cfg.Logger,
	}
}

// Start performs the session preflight, registers housekeeping, begins
// monitoring source contacts and warms all chat windows.
func (b *Bot) Start(ctx context.Context) error {
	if b.running.Load() {
		b.logger.Warn("bot already running")
		return nil
	}

	if !b.driver.IsLoggedIn(ctx) {
		return errors.New("chat session is not logged in")
	}

	b.setupSchedule()

	sources := b.roles.Sources()
	targets := b.roles.Targets()

	if len(sources) > 0 {
		b.monitor.WatchAll(ctx, sources)
		b.logger.Info("monitoring started", "sources", len(sources))
	} else {
		b.logger.Warn("no source contacts configured, nothing to monitor")
	}

	all := append(append([]string{}, sources...), targets...)
	if len(all) > 0 {
		results := b.dispatcher.OpenWindows(ctx, all)
		b.logger.Info("chat windows opened",
			"ok", dispatch.SuccessCount(results), "total", len(all))
	}

	b.startedMu.Lock()
	b.startedAt = time.Now()
	b.startedMu.Unlock()
	b.running.Store(true)

	b.logger.Info("bot started")
	return nil
}

// Run starts the bot and blocks processing events until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	events := b.bus.Subscribe()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return nil
		case ev, ok := <-events:
			if !ok {
				b.Stop()
				return nil
			}
			b.ingest(ev)
			b.drainPending(ctx)
		case now := <-ticker.C:
			b.scheduler.RunPending(ctx, now)
			b.drainPending(ctx)
		}
	}
}

// Stop halts monitoring and logs the lifetime summary. Safe to call twice.
func (b *Bot) Stop() {
	if !b.running.CompareAndSwap(true, false) {
		b.logger.Warn("bot is not running")
		return
	}

	b.logger.Info("stopping bot")
	b.monitor.UnwatchAll()
	b.logger.Info(finalReport(b.stats(), b.uptime()))
	b.logger.Info("bot stopped")
}

func (b *Bot) setupSchedule() {
	retention := time.Duration(b.cfg.Queue.RetentionDays) * 24 * time.Hour

	b.scheduler.Every("queue-sweep", time.Hour, func(ctx context.Context) {
		removed := b.store.Sweep(retention)
		if removed > 0 {
			b.logger.Info("old messages swept", "removed", removed)
		}
	})

	if err := b.scheduler.DailyAt("daily-report", "23:59", func(ctx context.Context) {
		b.logger.Info(b.DailyReport())
	}); err != nil {
		b.logger.Error("cannot schedule daily report", "err", err)
	}

	b.scheduler.Every("health-check", 30*time.Minute, b.healthCheck)
}

// ingest converts one activity event into a queued message.
func (b *Bot) ingest(ev domain.ActivityEvent) {
	b.received.Add(1)
	metrics.MessagesReceived.Inc()

	msg := b.store.Ingest(ev.Contact, ev.Signal)
	metrics.PendingMessages.Set(int64(b.store.PendingCount()))
	b.logger.Info("activity ingested", "contact", ev.Contact, "role", msg.Role)
}

// drainPending walks the pending partition and routes every message.
// Pending messages survive orchestrator hiccups, so the drain runs both
// after each event and on a fixed cadence.
func (b *Bot) drainPending(ctx context.Context) {
	pending := b.store.Pending()
	if len(pending) == 0 {
		return
	}
	b.logger.Debug("draining pending messages", "count", len(pending))
	for _, msg := range pending {
		if ctx.Err() != nil {
			return
		}
		b.route(ctx, msg)
	}
	metrics.PendingMessages.Set(int64(b.store.PendingCount()))
}

// route applies the role policy to one message and marks it processed
// exactly once.
func (b *Bot) route(ctx context.Context, msg *domain.Message) {
	forwarded := false

	switch msg.Role {
	case domain.RoleSource:
		b.autoReply(ctx, msg)
		if b.engine.ShouldForward(ctx, msg) {
			forwarded = b.forward(ctx, msg)
		}
	case domain.RoleTarget:
		b.logger.Info("target message noted", "sender", msg.Sender)
	case domain.RoleUnknown:
		b.logger.Warn("message from unknown sender", "sender", msg.Sender)
	}

	if !b.store.MarkProcessed(msg) {
		b.logger.Warn("message was already processed", "id", msg.ID)
		return
	}
	if b.archive != nil {
		if err := b.archive.RecordMessage(ctx, msg, forwarded); err != nil {
			b.logger.Error("archive write failed", "id", msg.ID, "err", err)
		}
	}
}

func (b *Bot) autoReply(ctx context.Context, msg *domain.Message) {
	reply := b.engine.AutoReplyFor(msg)
	if b.dispatcher.Reply(ctx, msg.Sender, reply) {
		b.autoReplies.Add(1)
		metrics.AutoReplies.Inc()
		b.logger.Info("auto reply sent", "contact", msg.Sender)
	} else {
		b.logger.Error("auto reply failed", "contact", msg.Sender)
	}
}

// forward synthesizes the outgoing notice and fans it out to every target.
// Reports whether at least one delivery succeeded.
func (b *Bot) forward(ctx context.Context, msg *domain.Message) bool {
	targets := b.roles.Targets()
	if len(targets) == 0 {
		b.logger.Warn("no target contacts configured, skipping forward")
		return false
	}

	text := b.engine.Synthesize(msg)
	results := b.dispatcher.Broadcast(ctx, targets, text)

	success := dispatch.SuccessCount(results)
	b.forwarded.Add(int64(success))
	b.sent.Add(int64(len(targets)))
	metrics.MessagesForwarded.Add(int64(success))

	if b.archive != nil {
		now := time.Now()
		for target, ok := range results {
			if err := b.archive.RecordDelivery(ctx, msg.ID, target, ok, now); err != nil {
				b.logger.Error("archive delivery write failed", "id", msg.ID, "err", err)
			}
		}
	}

	b.logger.Info("message forwarded", "ok", success, "total", len(targets))
	return success > 0
}

// healthCheck probes the driver session and tries a recovery when it looks
// dead.
func (b *Bot) healthCheck(ctx context.Context) {
	loggedIn := b.driver.IsLoggedIn(ctx)
	st := b.monitor.Status()
	pending := b.store.PendingCount()

	b.logger.Info("health check",
		"session_ok", loggedIn,
		"live_monitors", st.LiveUnits,
		"pending", pending)

	if !loggedIn {
		b.logger.Warn("chat session looks dead, activating")
		if !b.driver.Activate(ctx) {
			b.logger.Error("session recovery failed")
		}
	}
}

// SendManual delivers one operator-initiated message.
func (b *Bot) SendManual(ctx context.Context, contact, text string) bool {
	b.logger.Info("manual send", "contact", contact)
	ok := b.dispatcher.Send(ctx, contact, text)
	if ok {
		b.sent.Add(1)
	}
	return ok
}

// BroadcastAll delivers one operator-initiated message to every target.
func (b *Bot) BroadcastAll(ctx context.Context, text string) map[string]bool {
	targets := b.roles.Targets()
	results := b.dispatcher.Broadcast(ctx, targets, text)
	b.sent.Add(int64(len(targets)))
	return results
}

// DailyReport renders the current statistics summary.
func (b *Bot) DailyReport() string {
	return dailyReport(b.stats(), b.uptime(), b.store.CountSourceMessages(24*time.Hour))
}

// Status returns the operator-facing snapshot.
func (b *Bot) Status() domain.StatusSnapshot {
	return domain.StatusSnapshot{
		Running:       b.running.Load(),
		StartedAt:     b.started(),
		Uptime:        b.uptime(),
		Stats:         b.stats(),
		Monitoring:    b.monitor.Status(),
		OpenedWindows: b.dispatcher.OpenedWindows(),
		PendingCount:  b.store.PendingCount(),
	}
}

func (b *Bot) stats() domain.RunStats {
	return domain.RunStats{
		Received:    b.received.Load(),
		Sent:        b.sent.Load(),
		Forwarded:   b.forwarded.Load(),
		AutoReplies: b.autoReplies.Load(),
	}
}

func (b *Bot) started() time.Time {
	b.startedMu.Lock()
	defer b.startedMu.Unlock()
	return b.startedAt
}

func (b *Bot) uptime() time.Duration {
	if t := b.started(); !t.IsZero() {
		return time.Since(t)
	}
	return 0
}
