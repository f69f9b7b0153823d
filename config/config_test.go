package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.ServerConfig.Port)
	}
	if cfg.DatabaseConfig.Host != "localhost" {
		t.Errorf("default db host = %q, want localhost", cfg.DatabaseConfig.Host)
	}
	if cfg.MarketConfig.IndicatorInterval != "3m" {
		t.Errorf("default indicator interval = %q, want 3m", cfg.MarketConfig.IndicatorInterval)
	}
	if cfg.LeaderboardConfig.QuoteSuffix != "USDT" {
		t.Errorf("default quote suffix = %q, want USDT", cfg.LeaderboardConfig.QuoteSuffix)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("WEB_PORT", "9999")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("AUTH_PASSWORD", "hunter2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerConfig.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.ServerConfig.Port)
	}
	if cfg.DatabaseConfig.Host != "db.internal" {
		t.Errorf("db host = %q, want db.internal", cfg.DatabaseConfig.Host)
	}
	if cfg.AuthConfig.Password != "hunter2" {
		t.Errorf("auth password not overridden")
	}
	if cfg.LoggingConfig.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LoggingConfig.Level)
	}
}

func TestBadEnvIntFallsBack(t *testing.T) {
	t.Setenv("WEB_PORT", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("port = %d, want default 8080", cfg.ServerConfig.Port)
	}
}
