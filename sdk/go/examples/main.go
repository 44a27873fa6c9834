package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"HyvBase/sdk/go/hyvbase"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(hyvbase.Token{AccessToken: "demo-token", TokenType: "Bearer", ExpiresIn: 3600})
	})
	mux.HandleFunc("/api/v1/commands", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(hyvbase.Command{ID: "cmd-demo", Input: "swap 1 eth for usdc", Status: "pending"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/commands/cmd-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(hyvbase.Command{
			ID:     "cmd-demo",
			Input:  "swap 1 eth for usdc",
			Status: "succeeded",
			Result: &hyvbase.CommandOutcome{
				Success:   true,
				Message:   "兑换完成",
				Tool:      "starknet_swap",
				ElapsedMS: 1200,
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := hyvbase.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := client.Authenticate(ctx, hyvbase.Credentials{Username: "demo", Password: "secret"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("authenticated with token %s\n", token.AccessToken)

	cmd, err := client.SubmitCommand(ctx, hyvbase.CommandSubmission{Input: "swap 1 eth for usdc"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted command %s (status=%s)\n", cmd.ID, cmd.Status)

	done, err := client.WaitForCommand(ctx, cmd.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("command %s finished: %s (tool=%s)\n", done.ID, done.Result.Message, done.Result.Tool)
}
