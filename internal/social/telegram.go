package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"HyvBase/internal/agent"
	xerrors "HyvBase/internal/errors"
	"HyvBase/pkg/logger"
)

const (
	defaultTelegramBaseURL = "https://api.telegram.org"
	defaultTelegramTimeout = 15 * time.Second
)

// TelegramConfig describes access to the Telegram Bot API.
type TelegramConfig struct {
	BotToken      string
	DefaultChatID string
	BaseURL       string
	Timeout       time.Duration

	// RequestsPerMinute caps outbound calls, 0 means the default of 30.
	RequestsPerMinute float64
}

// MessageResult is the payload returned after sending a message.
type MessageResult struct {
	MessageID int64  `json:"message_id"`
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
}

// TelegramTool sends messages through a Telegram bot.
//
// Supported commands:
//
//	send <chat_id> <text>   send to an explicit chat
//	message <text>          send to the configured default chat
//	analytics               usage counters for this adapter
type TelegramTool struct {
	base
	botToken      string
	defaultChatID string
	baseURL       string
	httpClient    *http.Client
}

// NewTelegramTool creates the adapter.
func NewTelegramTool(cfg TelegramConfig) (*TelegramTool, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultTelegramBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTelegramTimeout
	}

	return &TelegramTool{
		base:          newBase(cfg.RequestsPerMinute),
		botToken:      token,
		defaultChatID: strings.TrimSpace(cfg.DefaultChatID),
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

// Name implements agent.Tool.
func (t *TelegramTool) Name() string { return "telegram" }

// Capabilities implements agent.Tool.
func (t *TelegramTool) Capabilities() []agent.Capability {
	return []agent.Capability{agent.CapabilitySocialWrite, agent.CapabilityAnalytics}
}

// ValidateCommand implements agent.Tool.
func (t *TelegramTool) ValidateCommand(command string) error {
	action, argument := splitCommand(command)
	switch action {
	case "send":
		chatID, text := splitCommand(argument)
		if chatID == "" || strings.TrimSpace(text) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "send requires a chat id and message text")
		}
		return nil
	case "message":
		if t.defaultChatID == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "no default chat configured, use send <chat_id> <text>")
		}
		if strings.TrimSpace(argument) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "message text cannot be empty")
		}
		return nil
	case "analytics":
		return nil
	default:
		return unsupportedAction("telegram", action)
	}
}

// Execute implements agent.Tool.
func (t *TelegramTool) Execute(ctx context.Context, command string) (*agent.Response, error) {
	started := time.Now()
	if err := t.ValidateCommand(command); err != nil {
		return nil, err
	}
	action, argument := splitCommand(command)

	var resp *agent.Response
	switch action {
	case "send":
		chatID, text := splitCommand(argument)
		resp = t.sendMessage(ctx, chatID, text)
	case "message":
		resp = t.sendMessage(ctx, t.defaultChatID, argument)
	case "analytics":
		resp = agent.OK(t.analytics(), "telegram usage counters")
	}
	return resp.WithElapsed(time.Since(started)), nil
}

// Send delivers a plain text message to the given chat. It exists so the
// bot can double as a notification channel outside the command flow.
func (t *TelegramTool) Send(ctx context.Context, chatID, text string) error {
	resp := t.sendMessage(ctx, chatID, text)
	if resp == nil {
		return xerrors.New(xerrors.CodeExternalService, "telegram send returned no response")
	}
	if !resp.Success {
		return xerrors.New(xerrors.CodeExternalService, resp.Error)
	}
	return nil
}

func (t *TelegramTool) sendMessage(ctx context.Context, chatID, text string) *agent.Response {
	if err := t.wait(ctx); err != nil {
		return agent.FailErr("message not sent", err)
	}

	form := url.Values{}
	form.Set("chat_id", chatID)
	form.Set("text", text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return agent.FailErr("message not sent", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		t.recordFailure("send", err)
		return agent.FailErr("message not sent", xerrors.Wrap(xerrors.CodeExternalService, err, "telegram request failed"))
	}
	defer httpResp.Body.Close()

	var decoded struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		if err := json.Unmarshal(body, &decoded); err != nil || decoded.Description == "" {
			decoded.Description = strings.TrimSpace(string(body))
		}
		statusErr := t.statusError(httpResp.StatusCode, decoded.Description)
		t.recordFailure("send", statusErr)
		return agent.FailErr("message not sent", statusErr)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		t.recordFailure("send", err)
		return agent.FailErr("message not sent", err)
	}
	if !decoded.OK {
		err := xerrors.New(xerrors.CodeExternalService, "telegram rejected the message: "+decoded.Description)
		t.recordFailure("send", err)
		return agent.FailErr("message not sent", err)
	}

	t.recordSuccess("send")
	logger.Named("social").Info("telegram message sent",
		"chat_id", chatID, "message_id", decoded.Result.MessageID)

	result := MessageResult{MessageID: decoded.Result.MessageID, ChatID: chatID, Text: text}
	return agent.OK(result, "message sent to chat "+chatID)
}

func (t *TelegramTool) statusError(status int, description string) error {
	message := "telegram returned status " + strconv.Itoa(status)
	if description != "" {
		message += ": " + description
	}
	if status == http.StatusTooManyRequests {
		return xerrors.New(xerrors.CodeRateLimited, message, xerrors.WithRetryable(true))
	}
	if status >= http.StatusInternalServerError {
		return xerrors.New(xerrors.CodeExternalService, message, xerrors.WithRetryable(true))
	}
	return xerrors.New(xerrors.CodeExternalService, message)
}
