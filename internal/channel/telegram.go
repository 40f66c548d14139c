// Package channel provides the remote operator surface. Operators control
// the pipeline over Telegram; chat-platform traffic never flows here.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"infobot/internal/config"
	"infobot/internal/dispatch"
	"infobot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Operator is the slice of the orchestrator the Telegram surface needs.
type Operator interface {
	Status() domain.StatusSnapshot
	SendManual(ctx context.Context, contact, text string) bool
	BroadcastAll(ctx context.Context, text string) map[string]bool
	DailyReport() string
}

// Telegram polls a Telegram bot for operator commands.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	parseMode string

	bot      *tgbotapi.BotAPI
	operator Operator
	logger   *slog.Logger
}

// TelegramConfig configures the operator channel.
type TelegramConfig struct {
	Config   config.TelegramConfig
	Operator Operator
	Logger   *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.Config.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	parseMode := cfg.Config.ParseMode
	if parseMode == "" {
		parseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Config.Token,
		allowFrom: allowed,
		parseMode: parseMode,
		operator:  cfg.Operator,
		logger:    cfg.Logger,
	}
}

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram operator channel connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	if !update.Message.IsCommand() {
		t.sendMessage(chatID, "This bot is command driven. Type /help.")
		return
	}
	t.handleCommand(ctx, chatID, update.Message)
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		t.sendMessage(chatID, "📖 *InfoBot control*\n\n"+
			"/status — pipeline status\n"+
			"/report — today's statistics\n"+
			"/send <contact> <text> — send one message\n"+
			"/broadcast <text> — send to every target contact\n"+
			"/help — this message")

	case "status":
		t.sendMessage(chatID, renderStatus(t.operator.Status()))

	case "report":
		t.sendMessage(chatID, t.operator.DailyReport())

	case "send":
		contact, text, ok := splitSendArgs(args)
		if !ok {
			t.sendMessage(chatID, "Usage: /send <contact> <text>")
			return
		}
		if t.operator.SendManual(ctx, contact, text) {
			t.sendMessage(chatID, fmt.Sprintf("✅ Sent to %s", contact))
		} else {
			t.sendMessage(chatID, fmt.Sprintf("❌ Send to %s failed", contact))
		}

	case "broadcast":
		if args == "" {
			t.sendMessage(chatID, "Usage: /broadcast <text>")
			return
		}
		results := t.operator.BroadcastAll(ctx, args)
		t.sendMessage(chatID, fmt.Sprintf("📤 Broadcast: %d/%d delivered",
			dispatch.SuccessCount(results), len(results)))

	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

// splitSendArgs separates "<contact> <text...>" on the first space.
func splitSendArgs(args string) (contact, text string, ok bool) {
	contact, text, found := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	if !found || contact == "" || text == "" {
		return "", "", false
	}
	return contact, text, true
}

func renderStatus(st domain.StatusSnapshot) string {
	state := "🔴 stopped"
	if st.Running {
		state = "🟢 running"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", state)
	fmt.Fprintf(&b, "Uptime: %s\n", st.Uptime.Round(time.Second))
	fmt.Fprintf(&b, "Received: %d  Sent: %d\n", st.Stats.Received, st.Stats.Sent)
	fmt.Fprintf(&b, "Forwarded: %d  Auto-replies: %d\n", st.Stats.Forwarded, st.Stats.AutoReplies)
	fmt.Fprintf(&b, "Pending: %d\n", st.PendingCount)
	fmt.Fprintf(&b, "Monitors: %d live / %d watched", st.Monitoring.LiveUnits, len(st.Monitoring.Watched))
	if st.Monitoring.LastCheck != "" {
		fmt.Fprintf(&b, " (last check %s)", st.Monitoring.LastCheck)
	}
	if len(st.OpenedWindows) > 0 {
		fmt.Fprintf(&b, "\nWindows: %s", strings.Join(st.OpenedWindows, ", "))
	}
	return b.String()
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendMessage splits text into Telegram-sized chunks, preferring newline
// boundaries.
func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitChunks(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// splitChunks cuts text into pieces of at most maxLen bytes, preferring a
// newline near the end of a piece. A forced cut lands on a rune boundary so
// CJK text is never torn mid-character.
func splitChunks(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				_, cutAt = utf8.DecodeRuneInString(text)
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// sendChunk sends one chunk with rate-limit backoff and a plain-text retry
// when the configured parse mode rejects the text.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram parse error, retrying as plain text", "err", err)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
