package main

import (
	"testing"
	"time"

	"HyvBase/internal/config"
)

func TestMemoryManagerConfigCarriesVectorMaxAge(t *testing.T) {
	cfg := &config.Config{}
	cfg.Memory.CacheSize = 100
	cfg.Memory.VectorMaxSize = 1000
	cfg.Memory.SearchTopK = 3
	cfg.Memory.VectorMaxAgeSeconds = 3600

	mc := memoryManagerConfig(cfg)
	if mc.VectorMaxAge != time.Hour {
		t.Fatalf("unexpected vector max age: %s", mc.VectorMaxAge)
	}
	if mc.CacheSize != 100 || mc.VectorMaxSize != 1000 || mc.SearchTopK != 3 {
		t.Fatalf("unexpected manager config: %+v", mc)
	}
}

func TestMemoryManagerConfigZeroAgeDisablesCleanup(t *testing.T) {
	cfg := &config.Config{}
	if got := memoryManagerConfig(cfg).VectorMaxAge; got != 0 {
		t.Fatalf("expected zero max age, got %s", got)
	}
}
