// Package decision implements the forwarding policy chain: role gate,
// blacklist, minimum length, then AI-or-keyword judgment. The first
// matching rule short-circuits.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"infobot/internal/config"
	"infobot/internal/domain"
	"infobot/internal/metrics"
)

// acceptLabel is the literal token the classification call must return for
// a message to be accepted for forwarding.
const acceptLabel = "需要轉發"

// Engine decides redistribution eligibility and synthesizes outgoing text.
// It reads messages but never alters their content or sender.
type Engine struct {
	prompts  config.PromptsConfig
	analyzer domain.Analyzer
	logger   *slog.Logger
}

// EngineConfig configures the decision engine. Analyzer may be nil, in
// which case the keyword path is always used.
type EngineConfig struct {
	Prompts  config.PromptsConfig
	Analyzer domain.Analyzer
	Logger   *slog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Prompts.MinMessageLength <= 0 {
		cfg.Prompts.MinMessageLength = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		prompts:  cfg.Prompts,
		analyzer: cfg.Analyzer,
		logger:   cfg.Logger,
	}
}

// ShouldForward runs the ordered policy chain over a message.
func (e *Engine) ShouldForward(ctx context.Context, msg *domain.Message) bool {
	// 1. Role gate: only source-authored messages are ever redistributed.
	if msg.Role != domain.RoleSource {
		return false
	}

	// 2. Blacklist, case-insensitive substring match.
	content := strings.ToLower(msg.Content)
	for _, kw := range e.prompts.BlacklistKeywords {
		if kw != "" && strings.Contains(content, strings.ToLower(kw)) {
			e.logger.Info("message blacklisted, not forwarding",
				"sender", msg.Sender, "keyword", kw)
			return false
		}
	}

	// 3. Minimum length over trimmed content.
	if len([]rune(strings.TrimSpace(msg.Content))) < e.prompts.MinMessageLength {
		e.logger.Info("message too short, not forwarding", "sender", msg.Sender)
		return false
	}

	// 4. AI-or-keyword judgment.
	return e.analyze(ctx, msg)
}

// analyze asks the external classifier when enabled and falls back to
// keyword analysis on any failure. Classification errors never block the
// decision.
func (e *Engine) analyze(ctx context.Context, msg *domain.Message) bool {
	if !e.prompts.UseAIForAnalysis || e.analyzer == nil {
		return e.checkKeywords(msg.Content)
	}

	label, err := e.analyzer.Analyze(ctx, msg.Content, fmt.Sprintf("發送者: %s", msg.Sender))
	if err != nil {
		e.logger.Warn("classification call failed, falling back to keywords",
			"sender", msg.Sender, "err", err)
		metrics.AnalyzerFallbacks.Inc()
		return e.checkKeywords(msg.Content)
	}
	return strings.Contains(label, acceptLabel)
}

// checkKeywords is the keyword fallback: important keywords accept,
// unimportant keywords reject, and anything else is accepted when it meets
// the minimum-length threshold.
func (e *Engine) checkKeywords(content string) bool {
	lower := strings.ToLower(content)

	for _, kw := range e.prompts.ImportantKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	for _, kw := range e.prompts.UnimportantKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return len([]rune(strings.TrimSpace(content))) >= e.prompts.MinMessageLength
}

// Synthesize builds the outgoing forward text. The original content is
// preserved verbatim and framed with a source banner, a minute-precision
// timestamp and a closing attribution line.
func (e *Engine) Synthesize(msg *domain.Message) string {
	return fmt.Sprintf(`📢 【班級通知】
來源：%s
時間：%s

%s

請大家注意查看！
---
班長轉發`, msg.Sender, msg.DetectedAt.Format("2006-01-02 15:04"), msg.Content)
}

// AutoReplyFor returns the fixed acknowledgment for the message's role.
// No policy chain runs here.
func (e *Engine) AutoReplyFor(msg *domain.Message) string {
	if msg.Role == domain.RoleSource {
		return "收到！"
	}
	return "收到您的消息，我會盡快處理。"
}
