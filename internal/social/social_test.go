package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	xerrors "HyvBase/internal/errors"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		input    string
		action   string
		argument string
	}{
		{"tweet hello world", "tweet", "hello world"},
		{"  mentions  ", "mentions", ""},
		{"send 12345 hi there", "send", "12345 hi there"},
		{"", "", ""},
	}
	for _, tc := range cases {
		action, argument := splitCommand(tc.input)
		if action != tc.action || argument != tc.argument {
			t.Fatalf("splitCommand(%q) = (%q, %q)", tc.input, action, argument)
		}
	}
}

func TestTwitterPostTweet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tweets" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing bearer token")
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": "190001", "text": body["text"]},
		})
	}))
	defer server.Close()

	tool, err := NewTwitterTool(TwitterConfig{BearerToken: "token", BaseURL: server.URL, RequestsPerMinute: 6000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := tool.Execute(context.Background(), "tweet gm starknet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("tweet failed: %s", resp.Error)
	}
	result, ok := resp.Result.(TweetResult)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result.TweetID != "190001" || result.Text != "gm starknet" {
		t.Fatalf("unexpected result: %+v", result)
	}

	analytics := tool.analytics()
	if analytics.Sent != 1 || analytics.ByAction["tweet"] != 1 {
		t.Fatalf("unexpected analytics: %+v", analytics)
	}
}

func TestTwitterRejectsOverlongTweet(t *testing.T) {
	tool, err := NewTwitterTool(TwitterConfig{BearerToken: "token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	long := strings.Repeat("x", 300)
	if err := tool.ValidateCommand("tweet " + long); err == nil {
		t.Fatalf("expected length error")
	} else if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}

	if err := tool.ValidateCommand("tweet "); err == nil {
		t.Fatalf("expected empty text error")
	}
	if err := tool.ValidateCommand("dance"); err == nil {
		t.Fatalf("expected unsupported action error")
	}
}

func TestTwitterMentions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/42/mentions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"id": "1", "author_id": "9", "text": "hey"},
				{"id": "2", "author_id": "8", "text": "hello"},
			},
		})
	}))
	defer server.Close()

	tool, err := NewTwitterTool(TwitterConfig{
		BearerToken: "token", UserID: "42", BaseURL: server.URL, RequestsPerMinute: 6000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := tool.Execute(context.Background(), "mentions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mentions, ok := resp.Result.([]Mention)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if len(mentions) != 2 || mentions[0].TweetID != "1" {
		t.Fatalf("unexpected mentions: %+v", mentions)
	}
}

func TestTwitterRateLimitResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	tool, err := NewTwitterTool(TwitterConfig{BearerToken: "token", BaseURL: server.URL, RequestsPerMinute: 6000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := tool.Execute(context.Background(), "tweet hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected failure envelope")
	}
	if tool.analytics().Failed != 1 {
		t.Fatalf("failure not recorded")
	}
}

func TestTelegramSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		r.ParseForm()
		if r.Form.Get("chat_id") != "12345" || r.Form.Get("text") != "trade executed" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 77},
		})
	}))
	defer server.Close()

	tool, err := NewTelegramTool(TelegramConfig{BotToken: "bot-token", BaseURL: server.URL, RequestsPerMinute: 6000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := tool.Execute(context.Background(), "send 12345 trade executed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("send failed: %s", resp.Error)
	}
	result, ok := resp.Result.(MessageResult)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if result.MessageID != 77 || result.ChatID != "12345" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTelegramDefaultChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("chat_id") != "777" {
			t.Errorf("unexpected chat id: %s", r.Form.Get("chat_id"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 5},
		})
	}))
	defer server.Close()

	tool, err := NewTelegramTool(TelegramConfig{
		BotToken: "bot-token", DefaultChatID: "777", BaseURL: server.URL, RequestsPerMinute: 6000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := tool.Execute(context.Background(), "message position closed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success {
		t.Fatalf("send failed: %s", resp.Error)
	}

	noDefault, err := NewTelegramTool(TelegramConfig{BotToken: "bot-token", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := noDefault.ValidateCommand("message hi"); err == nil {
		t.Fatalf("expected error without default chat")
	}
}

func TestTelegramAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"description": "chat not found",
		})
	}))
	defer server.Close()

	tool, err := NewTelegramTool(TelegramConfig{BotToken: "bot-token", BaseURL: server.URL, RequestsPerMinute: 6000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := tool.Execute(context.Background(), "send 1 hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected failure envelope")
	}
	if !strings.Contains(resp.Error, "chat not found") {
		t.Fatalf("unexpected error text: %s", resp.Error)
	}
}
