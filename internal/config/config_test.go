package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  name: streakwatch-test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.App.Name != "streakwatch-test" {
		t.Fatalf("app.name = %q", cfg.App.Name)
	}
	if cfg.Session.FeedCapacity != 10 {
		t.Fatalf("feed capacity = %d, want 10", cfg.Session.FeedCapacity)
	}
	if cfg.Trade.SettleDelay != 2*time.Second {
		t.Fatalf("settle delay = %s, want 2s", cfg.Trade.SettleDelay)
	}
	if cfg.Session.MaxFeeBps != 30 || cfg.Session.DiscountFeeBps != 15 || cfg.Session.HotStreakThreshold != 3 {
		t.Fatalf("unexpected policy defaults: %+v", cfg.Session)
	}
	if cfg.Trade.Tokens["USDC"] != 6 {
		t.Fatalf("token keys should be upper-cased: %#v", cfg.Trade.Tokens)
	}
	if cfg.Logging.Output != "stderr" {
		t.Fatalf("log output = %q, want stderr", cfg.Logging.Output)
	}
	if cfg.Database.Enabled() {
		t.Fatal("database should be disabled without a dsn")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "presentation:\n  theme: classic\n")
	t.Setenv("STREAKWATCH_ETHEREUM_HOOK_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("STREAKWATCH_SESSION_POLL_INTERVAL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ethereum.HookAddress != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("hook address override not applied: %q", cfg.Ethereum.HookAddress)
	}
	if cfg.Session.PollInterval != 30*time.Second {
		t.Fatalf("poll interval = %s", cfg.Session.PollInterval)
	}
	if cfg.Presentation.Theme != "classic" {
		t.Fatalf("theme = %q", cfg.Presentation.Theme)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"theme":        "presentation:\n  theme: neon\n",
		"hook":         "ethereum:\n  hook_address: not-an-address\n",
		"capacity":     "session:\n  feed_capacity: 0\n",
		"discount":     "session:\n  discount_fee_bps: 40\n",
		"telegram":     "alerting:\n  telegram:\n    enabled: true\n",
		"defaultToken": "trade:\n  default_token: WBTC\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if got := cfg.ResolveMaxPoints(0); got != 500 {
		t.Fatalf("default = %d", got)
	}
	if got := cfg.ResolveMaxPoints(20); got != 20 {
		t.Fatalf("override = %d", got)
	}
}
