package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %q", cfg.Server.Address)
	}
	if cfg.Storage.History.Driver != "memory" {
		t.Fatalf("unexpected history driver: %q", cfg.Storage.History.Driver)
	}
	if cfg.Queue.Driver != "memory" || cfg.Queue.Worker != 4 || cfg.Queue.Retries != 3 {
		t.Fatalf("unexpected queue defaults: %+v", cfg.Queue)
	}
	if cfg.Memory.CacheSize != 1000 || cfg.Memory.SearchTopK != 5 {
		t.Fatalf("unexpected memory defaults: %+v", cfg.Memory)
	}
	if cfg.Memory.VectorMaxAge() != 0 {
		t.Fatalf("vector max age should default to no expiry: %s", cfg.Memory.VectorMaxAge())
	}
	if !cfg.Agent.ConfirmationRequired() {
		t.Fatalf("confirmation should default to required")
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("unexpected auth mode: %q", cfg.Auth.Mode)
	}
	if cfg.StarkNet.MaxSlippage != 1.0 {
		t.Fatalf("unexpected slippage: %v", cfg.StarkNet.MaxSlippage)
	}
}

func TestLoadParsesVectorMaxAge(t *testing.T) {
	path := writeConfigFile(t, `{"memory":{"vector_max_age_seconds":604800}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Memory.VectorMaxAgeSeconds != 604800 {
		t.Fatalf("unexpected vector max age seconds: %d", cfg.Memory.VectorMaxAgeSeconds)
	}
	if cfg.Memory.VectorMaxAge() != 7*24*time.Hour {
		t.Fatalf("unexpected vector max age: %s", cfg.Memory.VectorMaxAge())
	}
}

func TestLoadResolvesSecretsFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TWITTER_BEARER_TOKEN", "tw-test")
	path := writeConfigFile(t, `{"llm":{"provider":"openai"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LLM.OpenAI.APIKey != "sk-test" {
		t.Fatalf("api key not resolved: %q", cfg.LLM.OpenAI.APIKey)
	}
	if cfg.Social.Twitter.BearerToken != "tw-test" {
		t.Fatalf("bearer token not resolved: %q", cfg.Social.Twitter.BearerToken)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HYVBASE_JWT_SECRET=from-env-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"auth":{"mode":"jwt"}}`), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("HYVBASE_JWT_SECRET", "")
	os.Unsetenv("HYVBASE_JWT_SECRET")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env-file" {
		t.Fatalf("jwt secret not resolved from env file: %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadRejectsInvalidInput(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := writeConfigFile(t, `{not-json`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
