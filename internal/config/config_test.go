package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort == "" {
		t.Error("HTTPPort default missing")
	}
	if cfg.Currency != "USDT" {
		t.Errorf("Currency = %q, want USDT", cfg.Currency)
	}
	if cfg.HouseEdge != 0.04 {
		t.Errorf("HouseEdge = %v, want 0.04", cfg.HouseEdge)
	}
	if cfg.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v, want 100ms", cfg.TickInterval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HOUSE_EDGE", "0.02")
	t.Setenv("BETTING_WINDOW", "7s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("TABLE_ID", "vip")

	cfg := Load()
	if cfg.HouseEdge != 0.02 {
		t.Errorf("HouseEdge = %v, want 0.02", cfg.HouseEdge)
	}
	if cfg.BettingWindow != 7*time.Second {
		t.Errorf("BettingWindow = %v, want 7s", cfg.BettingWindow)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3", cfg.RedisDB)
	}
	if cfg.TableID != "vip" {
		t.Errorf("TableID = %q, want vip", cfg.TableID)
	}
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("HOUSE_EDGE", "not-a-number")
	t.Setenv("TICK_INTERVAL", "fast")

	cfg := Load()
	if cfg.HouseEdge != 0.04 {
		t.Errorf("HouseEdge = %v, want default 0.04", cfg.HouseEdge)
	}
	if cfg.TickInterval != 100*time.Millisecond {
		t.Errorf("TickInterval = %v, want default 100ms", cfg.TickInterval)
	}
}
