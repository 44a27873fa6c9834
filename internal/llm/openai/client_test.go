package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"HyvBase/internal/llm"
	"HyvBase/internal/nlp"
)

func newChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing api key header")
		}
		switch r.URL.Path {
		case "/chat/completions":
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"content": content}},
				},
			})
		case "/embeddings":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"embedding": []float32{0.1, 0.2, 0.3}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestParseCommand(t *testing.T) {
	server := newChatServer(t, `{"action":"trade","token_from":"ETH","token_to":"USDC","amount":0.5}`)
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmd, err := client.ParseCommand(context.Background(), "system prompt", "swap half an eth to usdc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Action != nlp.ActionTrade || cmd.TokenFrom != "ETH" || cmd.Amount != 0.5 {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseCommandStripsCodeFence(t *testing.T) {
	server := newChatServer(t, "```json\n{\"action\":\"quote\",\"token_from\":\"ETH\",\"token_to\":\"USDC\",\"amount\":1}\n```")
	defer server.Close()

	client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	cmd, err := client.ParseCommand(context.Background(), "system", "price of eth")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Action != nlp.ActionQuote {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseCommandRejectsUnknown(t *testing.T) {
	server := newChatServer(t, `{"action":"unknown"}`)
	defer server.Close()

	client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if _, err := client.ParseCommand(context.Background(), "system", "gibberish"); err == nil {
		t.Fatalf("期望 unknown 命令报错")
	}
}

func TestGenerate(t *testing.T) {
	server := newChatServer(t, "已为你提交兑换交易。")
	defer server.Close()

	client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	resp, err := client.Generate(context.Background(), llm.Request{
		System: "you are a trading assistant",
		Prompt: "summarise the trade",
		History: []llm.Exchange{
			{User: "swap 1 eth", Assistant: "confirmed"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Reply != "已为你提交兑换交易。" {
		t.Fatalf("unexpected reply: %s", resp.Reply)
	}
}

func TestEmbed(t *testing.T) {
	server := newChatServer(t, "")
	defer server.Close()

	client, _ := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	vector, err := client.Embed(context.Background(), "swap history")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 3 || vector[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", vector)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("缺少 API Key 应报错")
	}
}
