package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "TANDEM"
	defaultHTTPAddress     = "0.0.0.0:3000"
	defaultLogLevel        = "info"
	defaultStoreDriver     = StoreDriverMemory
	defaultDatabasePath    = "file:tandem?mode=memory&cache=shared"
	defaultAllowedOrigins  = "http://localhost:5173"
	defaultMaxMessageBytes = 1 << 20
	defaultSendBuffer      = 256
	defaultPongWaitSeconds = 60
	defaultQueueSize       = 1024
)

// Supported room store backends.
const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
)

// AppConfig captures runtime configuration for the collaboration server.
type AppConfig struct {
	HTTPAddress      string
	LogLevel         string
	StoreDriver      string
	DatabasePath     string
	AllowedOrigins   []string
	MaxMessageBytes  int64
	SendBuffer       int
	PongWait         time.Duration
	SessionQueueSize int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
	configViper.SetDefault("websocket.max_message_bytes", defaultMaxMessageBytes)
	configViper.SetDefault("websocket.send_buffer", defaultSendBuffer)
	configViper.SetDefault("websocket.pong_wait_seconds", defaultPongWaitSeconds)
	configViper.SetDefault("session.queue_size", defaultQueueSize)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:         configViper.GetString("log.level"),
		StoreDriver:      strings.ToLower(strings.TrimSpace(configViper.GetString("store.driver"))),
		DatabasePath:     strings.TrimSpace(configViper.GetString("database.path")),
		AllowedOrigins:   splitList(configViper.GetStringSlice("cors.allowed_origins")),
		MaxMessageBytes:  configViper.GetInt64("websocket.max_message_bytes"),
		SendBuffer:       configViper.GetInt("websocket.send_buffer"),
		PongWait:         time.Duration(configViper.GetInt("websocket.pong_wait_seconds")) * time.Second,
		SessionQueueSize: configViper.GetInt("session.queue_size"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.HTTPAddress == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database.path is required for the %s store", StoreDriverSQLite)
		}
	default:
		return fmt.Errorf("store.driver %q is not one of %s, %s", c.StoreDriver, StoreDriverMemory, StoreDriverSQLite)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("websocket.max_message_bytes must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be positive")
	}
	if c.PongWait <= 0 {
		return fmt.Errorf("websocket.pong_wait_seconds must be positive")
	}
	if c.SessionQueueSize <= 0 {
		return fmt.Errorf("session.queue_size must be positive")
	}
	return nil
}

// splitList accepts both list values and comma separated strings, the form
// environment variables arrive in.
func splitList(values []string) []string {
	var items []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
	}
	return items
}
