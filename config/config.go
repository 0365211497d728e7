// Package config loads mevguard settings from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/metachris/mevguard/common"
)

type Config struct {
	// Chain provider
	RPCHTTPURL string
	RPCWSURL   string // optional, enables push ingestion
	Network    string

	// Private relay
	RelayURL        string
	RelaySigningKey string // optional hex private key, enables request signing
	RelayTimeout    time.Duration

	// Private bundle feed
	FeedWSURL          string
	FeedRESTURL        string
	FeedReconnectDelay time.Duration

	// Notifications (each optional)
	NATSURL        string
	DiscordWebhook string
	MinNotifyRisk  int

	// Ingestion
	PollInterval time.Duration
	WindowSize   int

	// Server
	ServerAddr string
	LogLevel   string
}

// Load reads the configuration from environment variables and validates it.
// All validation errors are reported at once.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.RPCHTTPURL = getEnvOrDefault("RPC_HTTP_URL", "http://localhost:8545")
	cfg.RPCWSURL = os.Getenv("RPC_WS_URL")
	cfg.Network = getEnvOrDefault("NETWORK", "mainnet")

	cfg.RelayURL = getEnvOrDefault("RELAY_URL", "https://relay.flashbots.net")
	cfg.RelaySigningKey = os.Getenv("RELAY_SIGNING_KEY")

	cfg.FeedWSURL = os.Getenv("FEED_WS_URL")
	cfg.FeedRESTURL = os.Getenv("FEED_REST_URL")

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.DiscordWebhook = os.Getenv("DISCORD_WEBHOOK")

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	var err error
	if cfg.RelayTimeout, err = parseDuration("RELAY_TIMEOUT", "10s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.FeedReconnectDelay, err = parseDuration("FEED_RECONNECT_DELAY", "5s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.PollInterval, err = parseDuration("POLL_INTERVAL", "2s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.WindowSize, err = parseInt("WINDOW_SIZE", 1000); err != nil {
		errs = append(errs, err)
	}
	if cfg.MinNotifyRisk, err = parseInt("MIN_NOTIFY_RISK", 50); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, common.InvalidRequest("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics if the configuration is invalid
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []error

	if err := validateURL("RPC_HTTP_URL", c.RPCHTTPURL, true, "http", "https", "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("RPC_WS_URL", c.RPCWSURL, false, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("RELAY_URL", c.RelayURL, true, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("FEED_WS_URL", c.FeedWSURL, false, "ws", "wss"); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("FEED_REST_URL", c.FeedRESTURL, false, "http", "https"); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("NATS_URL", c.NATSURL, false, "nats", "tls"); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("DISCORD_WEBHOOK", c.DiscordWebhook, false, "https"); err != nil {
		errs = append(errs, err)
	}

	if c.RelaySigningKey != "" {
		if _, err := crypto.HexToECDSA(strings.TrimPrefix(c.RelaySigningKey, "0x")); err != nil {
			errs = append(errs, fmt.Errorf("RELAY_SIGNING_KEY is not a valid private key"))
		}
	}

	if c.Network == "" {
		errs = append(errs, fmt.Errorf("NETWORK must not be empty"))
	}
	if c.PollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be at least 100ms"))
	}
	if c.RelayTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RELAY_TIMEOUT must be positive"))
	}
	if c.FeedReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("FEED_RECONNECT_DELAY must be positive"))
	}
	if c.WindowSize < 1 {
		errs = append(errs, fmt.Errorf("WINDOW_SIZE must be at least 1"))
	}
	if c.MinNotifyRisk < 0 || c.MinNotifyRisk > 100 {
		errs = append(errs, fmt.Errorf("MIN_NOTIFY_RISK must be between 0 and 100"))
	}
	if _, ok := logLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if len(errs) > 0 {
		return common.InvalidRequest("configuration validation failed: %v", errs)
	}
	return nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	if level, ok := logLevels[strings.ToLower(c.LogLevel)]; ok {
		return level
	}
	return slog.LevelInfo
}

func validateURL(key, value string, required bool, schemes ...string) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s is required", key)
		}
		return nil
	}

	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s: invalid url %q", key, value)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%s: scheme %q not one of %s", key, u.Scheme, strings.Join(schemes, ", "))
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
