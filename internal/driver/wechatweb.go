// Package driver automates the WeChat Web client through a real Chrome
// instance. The browser session is the only channel to the chat platform,
// so every operation is best effort: failures are logged and reported as
// booleans, never propagated as errors.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"infobot/internal/config"
)

// selectorSet holds the CSS selectors for the WeChat Web client.
type selectorSet struct {
	URL          string // chat client URL
	Search       string // contact search input
	SearchResult string // first item in the search result list
	ChatTitle    string // title bar of the active conversation
	MessageArea  string // container of the active conversation's messages
	Input        string // message compose box
	SendButton   string // send button
	Avatar       string // account avatar, present only after login
}

func wechatSelectors() selectorSet {
	return selectorSet{
		URL:          "https://wx.qq.com",
		Search:       "#search_bar input",
		SearchResult: ".search_result .contact_item",
		ChatTitle:    "#chatArea .title_name",
		MessageArea:  "#chatArea .chat_bd",
		Input:        "#editArea",
		SendButton:   ".btn_send",
		Avatar:       ".avatar .img",
	}
}

// WeChatWeb drives one logged-in WeChat Web session. The underlying page is
// a single UI, so all operations serialize on an internal lock.
type WeChatWeb struct {
	profileDir string
	headless   bool
	timeout    time.Duration
	sel        selectorSet
	logger     *slog.Logger

	mu       sync.Mutex
	taskCtx  context.Context
	cancel   context.CancelFunc
	active   string            // contact whose window is frontmost
	lastSeen map[string]string // per-contact snapshot of the newest message
}

// WeChatWebConfig configures the driver.
type WeChatWebConfig struct {
	Driver config.DriverConfig
	Logger *slog.Logger
}

func NewWeChatWeb(cfg WeChatWebConfig) *WeChatWeb {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	timeout := time.Duration(cfg.Driver.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WeChatWeb{
		profileDir: cfg.Driver.ProfileDir,
		headless:   cfg.Driver.Headless,
		timeout:    timeout,
		sel:        wechatSelectors(),
		logger:     cfg.Logger,
		lastSeen:   make(map[string]string),
	}
}

// Start launches Chrome with the persistent profile and navigates to the
// chat client. The profile directory keeps the login session across runs.
func (w *WeChatWeb) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(w.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
	)
	if w.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	w.mu.Lock()
	w.taskCtx = taskCtx
	w.cancel = func() {
		taskCancel()
		allocCancel()
	}
	w.mu.Unlock()

	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(w.sel.URL),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("open chat client: %w", err)
	}

	w.logger.Info("browser session started", "profile", w.profileDir, "headless", w.headless)
	return nil
}

// Stop tears down the browser session.
func (w *WeChatWeb) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
		w.taskCtx = nil
	}
}

// Login opens a visible browser so the QR code can be scanned, then waits
// until the caller's context is cancelled. The session persists in the
// profile directory.
func (w *WeChatWeb) Login(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(w.profileDir),
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(w.sel.URL)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	w.logger.Info("browser opened. Scan the QR code, then press Ctrl+C.")
	<-ctx.Done()
	w.logger.Info("login session saved", "profile", w.profileDir)
	return nil
}

// Open brings the named contact's conversation to the front by driving the
// search box.
func (w *WeChatWeb) Open(ctx context.Context, contact string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.taskCtx == nil {
		w.logger.Error("browser session not started")
		return false
	}

	run, cancel := w.opCtx(ctx)
	defer cancel()

	err := chromedp.Run(run,
		chromedp.WaitVisible(w.sel.Search, chromedp.ByQuery),
		chromedp.Click(w.sel.Search, chromedp.ByQuery),
		clearField(w.sel.Search),
		chromedp.SendKeys(w.sel.Search, contact, chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Click(w.sel.SearchResult, chromedp.ByQuery),
		chromedp.WaitVisible(w.sel.ChatTitle, chromedp.ByQuery),
	)
	if err != nil {
		w.logger.Error("cannot open chat window", "contact", contact, "err", err)
		return false
	}

	var title string
	if err := chromedp.Run(run, chromedp.Text(w.sel.ChatTitle, &title, chromedp.ByQuery)); err == nil && title != contact {
		w.logger.Warn("opened chat title differs from contact", "contact", contact, "title", title)
	}

	w.active = contact
	return true
}

// WaitForChange polls the active conversation for a new last message,
// returning true as soon as the snapshot differs from the previous poll.
// The very first observation of a conversation seeds the snapshot and
// reports no change.
func (w *WeChatWeb) WaitForChange(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if ctx.Err() != nil {
			return false
		}

		snapshot, ok := w.readSnapshot(ctx)
		if ok {
			w.mu.Lock()
			contact := w.active
			prev, seen := w.lastSeen[contact]
			w.lastSeen[contact] = snapshot
			w.mu.Unlock()

			if seen && prev != snapshot {
				return true
			}
		}

		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// SendText types text into the active compose box and clicks send. The
// contact's window is opened first when it is not already frontmost.
func (w *WeChatWeb) SendText(ctx context.Context, contact, text string) bool {
	w.mu.Lock()
	needOpen := w.active != contact
	w.mu.Unlock()

	if needOpen && !w.Open(ctx, contact) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.taskCtx == nil {
		return false
	}

	run, cancel := w.opCtx(ctx)
	defer cancel()

	err := chromedp.Run(run,
		chromedp.WaitVisible(w.sel.Input, chromedp.ByQuery),
		chromedp.Click(w.sel.Input, chromedp.ByQuery),
		chromedp.SendKeys(w.sel.Input, text, chromedp.ByQuery),
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Click(w.sel.SendButton, chromedp.ByQuery),
	)
	if err != nil {
		w.logger.Error("send failed", "contact", contact, "err", err)
		return false
	}
	return true
}

// IsLoggedIn reports whether the session shows a logged-in account.
func (w *WeChatWeb) IsLoggedIn(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.taskCtx == nil {
		return false
	}

	run, cancel := w.opCtx(ctx)
	defer cancel()

	var loggedIn bool
	err := chromedp.Run(run, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelector('%s') !== null`, w.sel.Avatar),
		&loggedIn,
	))
	if err != nil {
		w.logger.Error("login probe failed", "err", err)
		return false
	}
	return loggedIn
}

// Activate tries to recover an unresponsive session by reloading the chat
// client page.
func (w *WeChatWeb) Activate(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.taskCtx == nil {
		return false
	}

	run, cancel := w.opCtx(ctx)
	defer cancel()

	err := chromedp.Run(run,
		chromedp.Navigate(w.sel.URL),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		w.logger.Error("session activation failed", "err", err)
		return false
	}
	w.active = ""
	return true
}

// readSnapshot extracts the newest message text of the active conversation.
func (w *WeChatWeb) readSnapshot(ctx context.Context) (string, bool) {
	w.mu.Lock()
	if w.taskCtx == nil {
		w.mu.Unlock()
		return "", false
	}
	run, cancel := w.opCtx(ctx)
	w.mu.Unlock()
	defer cancel()

	var snapshot string
	err := chromedp.Run(run, chromedp.Evaluate(
		fmt.Sprintf(`
			(function() {
				var area = document.querySelector('%s');
				if (!area) return '';
				var messages = area.querySelectorAll('.message');
				if (messages.length === 0) return '';
				var last = messages[messages.length - 1];
				return messages.length + '|' + (last.innerText || last.textContent || '');
			})()
		`, w.sel.MessageArea),
		&snapshot,
	))
	if err != nil {
		return "", false
	}
	return snapshot, true
}

// opCtx derives a bounded chromedp context for one operation. The caller
// context only gates cancellation; the page context carries the session.
func (w *WeChatWeb) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	run, cancel := context.WithTimeout(w.taskCtx, w.timeout)
	stop := context.AfterFunc(ctx, cancel)
	return run, func() {
		stop()
		cancel()
	}
}

// clearField empties an input element before new keys are typed into it.
func clearField(sel string) chromedp.Action {
	return chromedp.Evaluate(fmt.Sprintf(`
		(function() {
			var el = document.querySelector('%s');
			if (el) { el.value = ''; el.innerText = ''; }
		})()
	`, sel), nil)
}
