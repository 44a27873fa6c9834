package hyvbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthenticateStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/token" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var creds Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if creds.Username != "operator" {
			t.Fatalf("unexpected username: %q", creds.Username)
		}
		_ = json.NewEncoder(w).Encode(Token{AccessToken: "abc123", TokenType: "Bearer", ExpiresIn: 3600})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	if _, err := client.Authenticate(context.Background(), Credentials{Username: "operator", Password: "secret"}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got := client.AccessToken(); got != "abc123" {
		t.Fatalf("expected token abc123, got %q", got)
	}
}

func TestSubmitCommandSendsBearerToken(t *testing.T) {
	submitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token":
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "token"})
		case "/api/v1/commands":
			if r.Header.Get("Authorization") != "Bearer token" {
				t.Fatalf("expected bearer token, got %q", r.Header.Get("Authorization"))
			}
			submitted = true
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Command{ID: "cmd-1", Status: "pending"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	if _, err := client.Authenticate(context.Background(), Credentials{}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	cmd, err := client.SubmitCommand(context.Background(), CommandSubmission{Input: "swap 1 eth for usdc"})
	if err != nil {
		t.Fatalf("submit command: %v", err)
	}
	if cmd.ID != "cmd-1" || cmd.Status != "pending" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if !submitted {
		t.Fatal("command was not submitted")
	}
}

func TestWaitForCommandPollsUntilTerminal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/commands/cmd-wait" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		calls++
		status := "running"
		var result *CommandOutcome
		if calls >= 3 {
			status = "succeeded"
			result = &CommandOutcome{Success: true, Message: "done", Tool: "starknet_swap"}
		}
		_ = json.NewEncoder(w).Encode(Command{ID: "cmd-wait", Status: status, Result: result})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd, err := client.WaitForCommand(ctx, "cmd-wait", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for command: %v", err)
	}
	if cmd.Status != "succeeded" || cmd.Result == nil || cmd.Result.Tool != "starknet_swap" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestGetCommandError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "命令不存在", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.GetCommand(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
}

func TestChatDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(ChatResponse{
			Success:       true,
			Message:       "余额查询成功",
			Result:        map[string]any{"balance": "1.5"},
			ExecutionTime: 0.42,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	resp, err := client.Chat(context.Background(), "check my eth balance")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !resp.Success || resp.ExecutionTime != 0.42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
