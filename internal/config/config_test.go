package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// unset clears keys for the duration of the test.
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unset(t, "PORT", "DB_PATH", "USERS_DIR", "BAN_LIST_PATH", "BCRYPT_COST",
		"CLONE_COMMAND", "INSTALL_COMMAND", "RUN_COMMAND",
		"AUTOSTART_ENABLED", "AUTOSTART_COMMAND", "METRICS_ENABLED", "SHUTDOWN_TIMEOUT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.UsersDir != "./users" {
		t.Errorf("UsersDir = %q, want ./users", cfg.UsersDir)
	}
	if cfg.BanListPath != "" {
		t.Errorf("BanListPath = %q, want empty", cfg.BanListPath)
	}
	if cfg.Commands.Clone != "git clone {url} ." || cfg.Commands.Install != "yarn install" || cfg.Commands.Run != "node {file}" {
		t.Errorf("Commands = %+v", cfg.Commands)
	}
	if cfg.Autostart.Enabled {
		t.Error("Autostart should be disabled by default")
	}
	if !cfg.MetricsEnabled {
		t.Error("Metrics should be enabled by default")
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("USERS_DIR", "/srv/users")
	t.Setenv("BAN_LIST_PATH", "/srv/banned.json")
	t.Setenv("RUN_COMMAND", "bun {file}")
	t.Setenv("AUTOSTART_ENABLED", "yes")
	t.Setenv("BCRYPT_COST", "12")
	t.Setenv("SHUTDOWN_TIMEOUT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" || cfg.UsersDir != "/srv/users" || cfg.BanListPath != "/srv/banned.json" {
		t.Errorf("unexpected cfg %+v", cfg)
	}
	if cfg.Commands.Run != "bun {file}" {
		t.Errorf("Run = %q", cfg.Commands.Run)
	}
	if !cfg.Autostart.Enabled {
		t.Error("Autostart should be enabled")
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:            "8080",
			DBPath:          "db",
			UsersDir:        "users",
			BcryptCost:      10,
			ShutdownTimeout: time.Second,
			Commands:        CommandConfig{Clone: "git clone {url} .", Install: "yarn install", Run: "node {file}"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"empty port", func(c *Config) { c.Port = "" }, "PORT"},
		{"empty users dir", func(c *Config) { c.UsersDir = "" }, "USERS_DIR"},
		{"bad cost", func(c *Config) { c.BcryptCost = 2 }, "BCRYPT_COST"},
		{"clone without url", func(c *Config) { c.Commands.Clone = "git clone" }, "{url}"},
		{"run without file", func(c *Config) { c.Commands.Run = "node" }, "{file}"},
		{"empty install", func(c *Config) { c.Commands.Install = " " }, "INSTALL_COMMAND"},
		{"autostart without command", func(c *Config) { c.Autostart = AutostartConfig{Enabled: true} }, "AUTOSTART_COMMAND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "1m30s")
	if got := getEnvDuration("X_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("got %v, want 90s", got)
	}
	t.Setenv("X_DURATION", "garbage")
	if got := getEnvDuration("X_DURATION", time.Second); got != time.Second {
		t.Errorf("got %v, want fallback", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	unset(t, "APP_ENV")

	if !(&Config{}).IsDevelopment() {
		t.Error("empty frontend URL is development")
	}
	if !(&Config{FrontendURL: "http://localhost:5173"}).IsDevelopment() {
		t.Error("localhost is development")
	}
	if (&Config{FrontendURL: "https://runner.example.com"}).IsDevelopment() {
		t.Error("public URL is production")
	}
}
