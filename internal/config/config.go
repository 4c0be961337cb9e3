// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	UsersDir        string
	BanListPath     string // empty = bans live in the database
	BcryptCost      int
	MetricsEnabled  bool
	ShutdownTimeout time.Duration
	Commands        CommandConfig
	Autostart       AutostartConfig
}

// CommandConfig holds the argv templates for each workflow stage.
// {url} and {file} are substituted per argument.
type CommandConfig struct {
	Clone   string
	Install string
	Run     string
}

// AutostartConfig controls the boot-time start of provisioned projects.
type AutostartConfig struct {
	Enabled bool
	Command string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/runner.db"),
		UsersDir:        getEnv("USERS_DIR", "./users"),
		BanListPath:     getEnv("BAN_LIST_PATH", ""),
		BcryptCost:      getEnvInt("BCRYPT_COST", 10),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Commands: CommandConfig{
			Clone:   getEnv("CLONE_COMMAND", "git clone {url} ."),
			Install: getEnv("INSTALL_COMMAND", "yarn install"),
			Run:     getEnv("RUN_COMMAND", "node {file}"),
		},
		Autostart: AutostartConfig{
			Enabled: getEnvBool("AUTOSTART_ENABLED", false),
			Command: getEnv("AUTOSTART_COMMAND", "npm start"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.UsersDir == "" {
		return fmt.Errorf("USERS_DIR cannot be empty")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(c.Commands.Clone) == "" {
		return fmt.Errorf("CLONE_COMMAND cannot be empty")
	}
	if !strings.Contains(c.Commands.Clone, "{url}") {
		return fmt.Errorf("CLONE_COMMAND must contain {url}")
	}
	if strings.TrimSpace(c.Commands.Install) == "" {
		return fmt.Errorf("INSTALL_COMMAND cannot be empty")
	}
	if strings.TrimSpace(c.Commands.Run) == "" {
		return fmt.Errorf("RUN_COMMAND cannot be empty")
	}
	if !strings.Contains(c.Commands.Run, "{file}") {
		return fmt.Errorf("RUN_COMMAND must contain {file}")
	}
	if c.Autostart.Enabled && strings.TrimSpace(c.Autostart.Command) == "" {
		return fmt.Errorf("AUTOSTART_COMMAND cannot be empty when AUTOSTART_ENABLED is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
