package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Exchange.Timezone != "America/New_York" {
		t.Errorf("timezone = %s", cfg.Exchange.Timezone)
	}
	if cfg.Orders.StopLossTrigger != "below" {
		t.Errorf("stop_loss_trigger = %s, want below", cfg.Orders.StopLossTrigger)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	content := `
server:
  port: 9090

database:
  url: "postgres://localhost/stockpit"

redis:
  enabled: true
  url: "localhost:6379"
  cache_ttl: 30s

marketdata:
  base_url: "https://quotes.example.com"
  requests_per_minute: 60

orders:
  stop_loss_trigger: above
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())
	if _, err := tmpfile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpfile.Close()

	cfg, err := Load(tmpfile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Redis.CacheTTL != 30*time.Second {
		t.Errorf("cache_ttl = %s, want 30s", cfg.Redis.CacheTTL)
	}
	if cfg.Orders.StopLossTrigger != "above" {
		t.Errorf("stop_loss_trigger = %s, want above", cfg.Orders.StopLossTrigger)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	base := func() *Config {
		cfg, _ := Load("")
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"redis enabled without url", func(c *Config) { c.Redis.Enabled = true }},
		{"empty marketdata url", func(c *Config) { c.MarketData.BaseURL = "" }},
		{"bad timezone", func(c *Config) { c.Exchange.Timezone = "Mars/Olympus" }},
		{"bad stop loss trigger", func(c *Config) { c.Orders.StopLossTrigger = "sideways" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate should fail")
			}
		})
	}
}
