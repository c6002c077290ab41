// Package config assembles the client configuration from defaults, an
// optional .env file and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/homefix/messenger/internal/ratelimit"
)

// Token slot keys. The homeowner/provider app and the admin dashboard keep
// separate sessions.
const (
	TokenKey      = "authToken"
	AdminTokenKey = "admin_token"
)

// Token store backends.
const (
	BackendPebble = "pebble"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds every tunable of the messenger client.
type Config struct {
	APIBaseURL   string // REST + realtime host
	RealtimePath string // path of the realtime endpoint on APIBaseURL

	TokenBackend string // pebble | redis | memory
	TokenDir     string // pebble directory
	TokenKey     string // slot key (authToken or admin_token)
	RedisAddr    string

	NATSURL string // empty disables event fan-out

	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	SendRate          float64 // sends per second
	SendBurst         int

	LogLevel    string
	MetricsAddr string // empty disables the metrics listener
}

// Default returns a Config with sensible local-development defaults.
func Default() Config {
	dir := ".messenger"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".messenger")
	}
	return Config{
		APIBaseURL:        "http://localhost:8000",
		RealtimePath:      "/ws",
		TokenBackend:      BackendPebble,
		TokenDir:          dir,
		TokenKey:          TokenKey,
		RedisAddr:         "localhost:6379",
		RequestTimeout:    10 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		ReconnectInitial:  500 * time.Millisecond,
		ReconnectMax:      30 * time.Second,
		SendRate:          float64(ratelimit.RuleSend.Rate),
		SendBurst:         ratelimit.RuleSend.Burst,
		LogLevel:          "info",
	}
}

// Load reads envFile (ignored when missing) and applies environment
// overrides on top of Default. Unparseable values keep the default.
func Load(envFile string) Config {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	cfg := Default()

	if v := os.Getenv("NEXT_PUBLIC_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("MESSENGER_REALTIME_PATH"); v != "" {
		cfg.RealtimePath = v
	}
	if v := os.Getenv("MESSENGER_TOKEN_BACKEND"); v != "" {
		switch v {
		case BackendPebble, BackendRedis, BackendMemory:
			cfg.TokenBackend = v
		}
	}
	if v := os.Getenv("MESSENGER_TOKEN_DIR"); v != "" {
		cfg.TokenDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("MESSENGER_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}
	if v := os.Getenv("MESSENGER_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("MESSENGER_RECONNECT_INITIAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ReconnectInitial = d
		}
	}
	if v := os.Getenv("MESSENGER_RECONNECT_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ReconnectMax = d
		}
	}
	if v := os.Getenv("MESSENGER_SEND_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.SendRate = f
		}
	}
	if v := os.Getenv("MESSENGER_SEND_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendBurst = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	return cfg
}

// RealtimeURL derives the WebSocket endpoint from APIBaseURL: http becomes
// ws, https becomes wss.
func (c Config) RealtimeURL() (string, error) {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return "", fmt.Errorf("config: parse api base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("config: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.RealtimePath
	return u.String(), nil
}
