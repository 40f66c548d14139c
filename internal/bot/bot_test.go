package bot

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"infobot/internal/bus"
	"infobot/internal/config"
	"infobot/internal/decision"
	"infobot/internal/dispatch"
	"infobot/internal/domain"
	"infobot/internal/monitor"
	"infobot/internal/queue"
)

type fakeDriver struct {
	mu       sync.Mutex
	loggedIn bool
	sendFail map[string]bool
	sends    []sendCall
}

type sendCall struct {
	contact string
	text    string
}

func (d *fakeDriver) Open(ctx context.Context, contact string) bool { return true }

func (d *fakeDriver) WaitForChange(ctx context.Context, timeout time.Duration) bool { return false }

func (d *fakeDriver) SendText(ctx context.Context, contact, text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, sendCall{contact: contact, text: text})
	return !d.sendFail[contact]
}

func (d *fakeDriver) IsLoggedIn(ctx context.Context) bool { return d.loggedIn }
func (d *fakeDriver) Activate(ctx context.Context) bool   { return true }

func (d *fakeDriver) sentTo(contact string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var texts []string
	for _, c := range d.sends {
		if c.contact == contact {
			texts = append(texts, c.text)
		}
	}
	return texts
}

type fakeAnalyzer struct {
	label string
	err   error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, content, senderContext string) (string, error) {
	return a.label, a.err
}

type memArchive struct {
	mu         sync.Mutex
	messages   []*domain.Message
	forwarded  map[string]bool
	deliveries map[string][]string
}

func newMemArchive() *memArchive {
	return &memArchive{
		forwarded:  make(map[string]bool),
		deliveries: make(map[string][]string),
	}
}

func (a *memArchive) RecordMessage(ctx context.Context, msg *domain.Message, forwarded bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg)
	a.forwarded[msg.ID] = forwarded
	return nil
}

func (a *memArchive) RecordDelivery(ctx context.Context, messageID, target string, ok bool, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deliveries[messageID] = append(a.deliveries[messageID], target)
	return nil
}

type fixture struct {
	bot     *Bot
	driver  *fakeDriver
	store   *queue.Store
	archive *memArchive
}

func newFixture(t *testing.T, label string) *fixture {
	t.Helper()

	driver := &fakeDriver{loggedIn: true}
	roles := domain.NewRoles([]string{"张老师"}, []string{"王同学", "李同学"})
	store := queue.NewStore(queue.StoreConfig{Roles: roles})
	engine := decision.NewEngine(decision.EngineConfig{
		Prompts: config.PromptsConfig{
			UseAIForAnalysis: true,
			MinMessageLength: 5,
		},
		Analyzer: &fakeAnalyzer{label: label},
	})
	dispatcher := dispatch.New(dispatch.DispatcherConfig{Driver: driver})
	b := bus.New(16, slog.Default())
	t.Cleanup(b.Close)
	mon := monitor.New(monitor.MonitorConfig{
		Driver: driver,
		Bus:    b,
		Config: config.MonitorConfig{CheckIntervalSeconds: 1},
	})

	archive := newMemArchive()
	cfg := &config.Config{}
	cfg.Queue.RetentionDays = 7

	return &fixture{
		bot: New(BotConfig{
			Config:     cfg,
			Roles:      roles,
			Driver:     driver,
			Bus:        b,
			Store:      store,
			Engine:     engine,
			Dispatcher: dispatcher,
			Monitor:    mon,
			Archiver:   archive,
		}),
		driver:  driver,
		store:   store,
		archive: archive,
	}
}

func TestRoute_SourceMessageForwarded(t *testing.T) {
	f := newFixture(t, "需要轉發")
	ctx := context.Background()

	f.bot.ingest(domain.ActivityEvent{Contact: "张老师", Signal: "檢測到新活動", At: time.Now()})
	f.bot.drainPending(ctx)

	// Auto-reply to the source.
	replies := f.driver.sentTo("张老师")
	if len(replies) != 1 || replies[0] != "收到！" {
		t.Fatalf("expected one auto-reply to source, got %v", replies)
	}

	// Forward to every target.
	for _, target := range []string{"王同学", "李同学"} {
		sent := f.driver.sentTo(target)
		if len(sent) != 1 {
			t.Fatalf("expected one forward to %s, got %v", target, sent)
		}
	}

	if f.store.PendingCount() != 0 {
		t.Fatalf("message must be marked processed, pending=%d", f.store.PendingCount())
	}

	stats := f.bot.stats()
	if stats.Received != 1 || stats.AutoReplies != 1 || stats.Forwarded != 2 || stats.Sent != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRoute_RejectedSourceMessageStillAutoReplied(t *testing.T) {
	f := newFixture(t, "普通閒聊")
	ctx := context.Background()

	f.bot.ingest(domain.ActivityEvent{Contact: "张老师", Signal: "檢測到新活動", At: time.Now()})
	f.bot.drainPending(ctx)

	if got := f.driver.sentTo("张老师"); len(got) != 1 {
		t.Fatalf("rejected message must still be auto-replied, got %v", got)
	}
	if got := f.driver.sentTo("王同学"); len(got) != 0 {
		t.Fatalf("rejected message must not be forwarded, got %v", got)
	}

	stats := f.bot.stats()
	if stats.Forwarded != 0 {
		t.Fatalf("forwarded stat must stay zero, got %d", stats.Forwarded)
	}
}

func TestRoute_TargetAndUnknownProcessedSilently(t *testing.T) {
	f := newFixture(t, "需要轉發")
	ctx := context.Background()

	f.bot.ingest(domain.ActivityEvent{Contact: "王同学", Signal: "檢測到新活動", At: time.Now()})
	f.bot.ingest(domain.ActivityEvent{Contact: "路人甲", Signal: "檢測到新活動", At: time.Now()})
	f.bot.drainPending(ctx)

	if len(f.driver.sends) != 0 {
		t.Fatalf("non-source messages must trigger no sends, got %v", f.driver.sends)
	}
	if f.store.PendingCount() != 0 {
		t.Fatalf("non-source messages must still be marked processed, pending=%d", f.store.PendingCount())
	}
}

func TestRoute_PartialBroadcastFailureCounted(t *testing.T) {
	f := newFixture(t, "需要轉發")
	f.driver.sendFail = map[string]bool{"李同学": true}
	ctx := context.Background()

	f.bot.ingest(domain.ActivityEvent{Contact: "张老师", Signal: "檢測到新活動", At: time.Now()})
	f.bot.drainPending(ctx)

	stats := f.bot.stats()
	if stats.Forwarded != 1 {
		t.Fatalf("forwarded must count only successful deliveries, got %d", stats.Forwarded)
	}
	if stats.Sent != 2 {
		t.Fatalf("sent must count every attempted target, got %d", stats.Sent)
	}
}

func TestRoute_ArchivesMessagesAndDeliveries(t *testing.T) {
	f := newFixture(t, "需要轉發")
	ctx := context.Background()

	f.bot.ingest(domain.ActivityEvent{Contact: "张老师", Signal: "檢測到新活動", At: time.Now()})
	f.bot.drainPending(ctx)

	if len(f.archive.messages) != 1 {
		t.Fatalf("expected one archived message, got %d", len(f.archive.messages))
	}
	msg := f.archive.messages[0]
	if !f.archive.forwarded[msg.ID] {
		t.Fatal("archived message must be flagged as forwarded")
	}
	if got := len(f.archive.deliveries[msg.ID]); got != 2 {
		t.Fatalf("expected 2 archived deliveries, got %d", got)
	}
}

func TestDrainPending_IsIdempotent(t *testing.T) {
	f := newFixture(t, "需要轉發")
	ctx := context.Background()

	f.bot.ingest(domain.ActivityEvent{Contact: "张老师", Signal: "檢測到新活動", At: time.Now()})
	f.bot.drainPending(ctx)
	f.bot.drainPending(ctx)

	// A second drain over an empty pending partition must not re-send.
	if got := f.driver.sentTo("王同学"); len(got) != 1 {
		t.Fatalf("message must be delivered exactly once per target, got %v", got)
	}
}

func TestStart_FailsWhenNotLoggedIn(t *testing.T) {
	f := newFixture(t, "需要轉發")
	f.driver.loggedIn = false

	if err := f.bot.Start(context.Background()); err == nil {
		t.Fatal("start must fail on a logged-out session")
	}
	if f.bot.running.Load() {
		t.Fatal("bot must not be marked running after failed start")
	}
}

func TestStatus_Snapshot(t *testing.T) {
	f := newFixture(t, "需要轉發")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.bot.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer f.bot.Stop()

	f.bot.ingest(domain.ActivityEvent{Contact: "张老师", Signal: "檢測到新活動", At: time.Now()})

	st := f.bot.Status()
	if !st.Running {
		t.Fatal("status must report running")
	}
	if st.PendingCount != 1 {
		t.Fatalf("pending count: got %d, want 1", st.PendingCount)
	}
	if st.StartedAt.IsZero() {
		t.Fatal("status must carry the start time")
	}
	if len(st.Monitoring.Watched) != 1 {
		t.Fatalf("expected one watched contact, got %v", st.Monitoring.Watched)
	}
	if len(st.OpenedWindows) != 3 {
		t.Fatalf("expected 3 opened windows, got %v", st.OpenedWindows)
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	f := newFixture(t, "需要轉發")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.bot.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.bot.Stop()
	f.bot.Stop() // must not panic or double-report

	if f.bot.running.Load() {
		t.Fatal("bot must be stopped")
	}
}

func TestSendManual_CountsOnlySuccess(t *testing.T) {
	f := newFixture(t, "需要轉發")
	f.driver.sendFail = map[string]bool{"王同学": true}
	ctx := context.Background()

	if f.bot.SendManual(ctx, "王同学", "hi") {
		t.Fatal("manual send must report driver failure")
	}
	if f.bot.SendManual(ctx, "李同学", "hi") != true {
		t.Fatal("manual send must report success")
	}
	if got := f.bot.stats().Sent; got != 1 {
		t.Fatalf("sent stat must count only successes, got %d", got)
	}
}

func TestBroadcastAll_HitsEveryTarget(t *testing.T) {
	f := newFixture(t, "需要轉發")
	results := f.bot.BroadcastAll(context.Background(), "全體注意")
	if len(results) != 2 || !results["王同学"] || !results["李同学"] {
		t.Fatalf("unexpected broadcast results: %v", results)
	}
}
