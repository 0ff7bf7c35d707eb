package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

const (
	TransportWebsocket = "websocket"
	TransportRedis     = "redis"

	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	APIBaseURL        string
	PushURL           string
	PushTransport     string
	PushTopicTemplate string
	ReconnectDelay    time.Duration
	IdleTimeout       time.Duration
	RedirectDelay     time.Duration
	ResyncInterval    time.Duration
	ResyncTimeout     time.Duration
	CallbackHTTPAddr  string
	DurableBackend    string
	StatePath         string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DatabaseURL       string
	LogLevel          string
	OpenBrowser       bool
}

func Load() Config {
	return Config{
		APIBaseURL:        strings.TrimRight(getenv("API_BASE_URL", "http://localhost:8080/api"), "/"),
		PushURL:           getenv("PUSH_URL", "ws://localhost:8080/ws"),
		PushTransport:     strings.ToLower(getenv("PUSH_TRANSPORT", TransportWebsocket)),
		PushTopicTemplate: getenv("PUSH_TOPIC_TEMPLATE", "/user/{principal}/queue/notifications"),
		ReconnectDelay:    getenvDuration("RECONNECT_DELAY", 5*time.Second),
		IdleTimeout:       getenvDuration("IDLE_TIMEOUT", 15*time.Minute),
		RedirectDelay:     getenvDuration("REDIRECT_DELAY", 3*time.Second),
		ResyncInterval:    getenvDuration("RESYNC_INTERVAL", 0),
		ResyncTimeout:     getenvDuration("RESYNC_TIMEOUT", 10*time.Second),
		CallbackHTTPAddr:  getenv("CALLBACK_HTTP_ADDR", "127.0.0.1:3000"),
		DurableBackend:    strings.ToLower(getenv("DURABLE_BACKEND", BackendFile)),
		StatePath:         getenv("STATE_PATH", defaultStatePath()),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		DatabaseURL:       getenv("DATABASE_URL", ""),
		LogLevel:          getenv("LOG_LEVEL", "INFO"),
		OpenBrowser:       getenvBool("OPEN_BROWSER", false),
	}
}

// Validate reports the first setting the client cannot run with.
func (c Config) Validate() error {
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return errors.NotValidf("API_BASE_URL %q", c.APIBaseURL)
	}
	switch c.PushTransport {
	case TransportWebsocket:
		if _, err := url.ParseRequestURI(c.PushURL); err != nil {
			return errors.NotValidf("PUSH_URL %q", c.PushURL)
		}
	case TransportRedis:
		if c.RedisAddr == "" {
			return errors.NotValidf("PUSH_TRANSPORT redis without REDIS_ADDR")
		}
	default:
		return errors.NotValidf("PUSH_TRANSPORT %q", c.PushTransport)
	}
	if !strings.Contains(c.PushTopicTemplate, "{principal}") {
		return errors.NotValidf("PUSH_TOPIC_TEMPLATE without {principal}")
	}
	switch c.DurableBackend {
	case BackendFile:
		if c.StatePath == "" {
			return errors.NotValidf("empty STATE_PATH")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.NotValidf("DURABLE_BACKEND redis without REDIS_ADDR")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.NotValidf("DURABLE_BACKEND postgres without DATABASE_URL")
		}
	default:
		return errors.NotValidf("DURABLE_BACKEND %q", c.DurableBackend)
	}
	if c.ReconnectDelay <= 0 {
		return errors.NotValidf("RECONNECT_DELAY %s", c.ReconnectDelay)
	}
	if c.IdleTimeout <= 0 {
		return errors.NotValidf("IDLE_TIMEOUT %s", c.IdleTimeout)
	}
	if c.RedirectDelay < 0 {
		return errors.NotValidf("REDIRECT_DELAY %s", c.RedirectDelay)
	}
	return nil
}

// Topic renders the push topic for a principal (email or user id).
func (c Config) Topic(principal string) string {
	return strings.ReplaceAll(c.PushTopicTemplate, "{principal}", principal)
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ailearning-client.json"
	}
	return filepath.Join(home, ".ailearning-client.json")
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
