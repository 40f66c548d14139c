// Package analyzer implements the external classification call against a
// SiliconFlow (OpenAI-compatible) chat-completions endpoint.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"infobot/internal/config"
)

const defaultHTTPTimeout = 60 * time.Second

// analysisSystemPrompt instructs the model to answer with exactly one label.
const analysisSystemPrompt = `你是一個智能微信機器人助手，專門幫助大學班長判斷老師的消息是否需要轉發給學生。

請判斷以下消息是否需要轉發給全班同學：
- 如果是班級相關的重要通知、學業安排、科研信息、保研通知、集體活動等，回答"需要轉發"
- 如果是私人聊天、個人問候、非正式交流等，回答"不需要轉發"

只需要回答"需要轉發"或"不需要轉發"，不要添加其他內容。`

// forwardSystemPrompt is used by the optional AI forward formatter.
const forwardSystemPrompt = `你是一個大學班長，負責將老師的消息轉發給同學們。
請將老師的原始消息整理成適合轉發給同學們的格式。

要求：
1. 保持原始信息的完整性
2. 添加適當的標題和來源說明
3. 使用正式但友好的語調
4. 突出重要信息`

// SiliconFlow implements domain.Analyzer over the SiliconFlow API.
type SiliconFlow struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

func NewSiliconFlow(cfg config.SiliconFlowConfig, logger *slog.Logger) *SiliconFlow {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.siliconflow.cn/v1"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SiliconFlow{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		logger:      logger,
	}
}

type sfMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sfRequest struct {
	Model       string      `json:"model"`
	Messages    []sfMessage `json:"messages"`
	Stream      bool        `json:"stream"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
}

type sfResponse struct {
	Choices []struct {
		Message sfMessage `json:"message"`
	} `json:"choices"`
}

// Analyze submits the message content with a sender-context note and returns
// the raw classification label. Callers treat any error as "fall back to
// keyword analysis".
func (s *SiliconFlow) Analyze(ctx context.Context, content, senderContext string) (string, error) {
	user := fmt.Sprintf("上下文：%s\n\n消息內容：%s", senderContext, content)
	return s.complete(ctx, analysisSystemPrompt, user)
}

// GenerateForward asks the model to format a forward message. On any failure
// a plain template is returned instead so delivery is never blocked.
func (s *SiliconFlow) GenerateForward(ctx context.Context, content, source string) string {
	user := fmt.Sprintf("老師姓名：%s\n原始消息：%s", source, content)
	out, err := s.complete(ctx, forwardSystemPrompt, user)
	if err != nil || strings.TrimSpace(out) == "" {
		s.logger.Warn("AI forward formatting failed, using template", "err", err)
		return fmt.Sprintf("📢 【通知】\n來源：%s\n\n%s\n\n請大家注意查看！", source, content)
	}
	return out
}

func (s *SiliconFlow) complete(ctx context.Context, system, user string) (string, error) {
	body := sfRequest{
		Model: s.model,
		Messages: []sfMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream:      false,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	sfResp, err := s.post(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("siliconflow request: %w", err)
	}
	if len(sfResp.Choices) == 0 {
		return "", fmt.Errorf("siliconflow: empty choices in response")
	}

	return strings.TrimSpace(sfResp.Choices[0].Message.Content), nil
}

// completionAttempts bounds how often a single classification call hits the
// API. The endpoint rate-limits aggressively, so transient failures are the
// norm rather than the exception.
const completionAttempts = 3

const retryBaseDelay = 500 * time.Millisecond

// post sends one chat-completions payload, reattempting rate-limited and
// server-side failures. Client-side errors (bad key, malformed request) fail
// immediately since no retry can fix them.
func (s *SiliconFlow) post(ctx context.Context, payload []byte) (*sfResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= completionAttempts; attempt++ {
		if attempt > 1 {
			delay := retryBaseDelay << (attempt - 2)
			delay += time.Duration(rand.Int63n(int64(delay)))
			s.logger.Warn("classification call failed, reattempting",
				"attempt", attempt, "delay", delay, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			var out sfResponse
			if err := json.Unmarshal(data, &out); err != nil {
				return nil, fmt.Errorf("decode: %w", err)
			}
			return &out, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		default:
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
	}

	return nil, fmt.Errorf("gave up after %d attempts: %w", completionAttempts, lastErr)
}
