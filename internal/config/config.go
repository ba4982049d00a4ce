package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv reads .env only outside production (in containers/prod the config
// comes from real environment variables only).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// Config holds the client settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	// Chat service endpoints.
	APIBaseURL string `yaml:"api_base_url"`
	WSURL      string `yaml:"ws_url"`

	// Reconnect policy for the realtime connection.
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"-"`

	// Timers for typing and read receipts.
	TypingStopDelay time.Duration `yaml:"-"`
	TypingExpiry    time.Duration `yaml:"-"`
	SeenGraceDelay  time.Duration `yaml:"-"`

	// WebSocket tuning.
	WSSendBufferSize int `yaml:"ws_send_buffer_size"`
	WSWriteTimeout   int `yaml:"ws_write_timeout"`
	WSPongTimeout    int `yaml:"ws_pong_timeout"`
	WSMaxMessageSize int `yaml:"ws_max_message_size"`

	// REST call timeout.
	RequestTimeout time.Duration `yaml:"-"`

	LogLevel string `yaml:"log_level"`
}

// yamlConfig is the intermediate struct for parsing the YAML file
// (durations as plain numbers).
type yamlConfig struct {
	APIBaseURL        string `yaml:"api_base_url"`
	WSURL             string `yaml:"ws_url"`
	ReconnectAttempts int    `yaml:"reconnect_attempts"`
	ReconnectDelayMS  int    `yaml:"reconnect_delay_ms"`
	TypingStopDelayMS int    `yaml:"typing_stop_delay_ms"`
	TypingExpiryMS    int    `yaml:"typing_expiry_ms"`
	SeenGraceDelayMS  int    `yaml:"seen_grace_delay_ms"`
	WSSendBufferSize  int    `yaml:"ws_send_buffer_size"`
	WSWriteTimeout    int    `yaml:"ws_write_timeout"`
	WSPongTimeout     int    `yaml:"ws_pong_timeout"`
	WSMaxMessageSize  int    `yaml:"ws_max_message_size"`
	RequestTimeout    int    `yaml:"request_timeout"`
	LogLevel          string `yaml:"log_level"`
}

// Load loads the configuration.
// .env variables are applied first (if present), then YAML, then env vars
// (env has the highest priority).
func Load() *Config {
	loadEnv()
	// Defaults
	yc := yamlConfig{
		APIBaseURL:        "http://localhost:8080",
		WSURL:             "ws://localhost:8080/ws",
		ReconnectAttempts: 5,
		ReconnectDelayMS:  1000,
		TypingStopDelayMS: 3000,
		TypingExpiryMS:    6000,
		SeenGraceDelayMS:  1000,
		WSSendBufferSize:  256,
		WSWriteTimeout:    10,
		WSPongTimeout:     60,
		WSMaxMessageSize:  4096,
		RequestTimeout:    15,
		LogLevel:          "info",
	}

	// Config file: CONFIG_PATH > config/client.yaml
	paths := []string{os.Getenv("CONFIG_PATH"), "config/client.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (using defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	cfg := &Config{
		APIBaseURL:        envStr("API_BASE_URL", yc.APIBaseURL),
		WSURL:             envStr("WS_URL", yc.WSURL),
		ReconnectAttempts: envInt("RECONNECT_ATTEMPTS", yc.ReconnectAttempts),
		ReconnectDelay:    time.Duration(envInt("RECONNECT_DELAY_MS", yc.ReconnectDelayMS)) * time.Millisecond,
		TypingStopDelay:   time.Duration(envInt("TYPING_STOP_DELAY_MS", yc.TypingStopDelayMS)) * time.Millisecond,
		TypingExpiry:      time.Duration(envInt("TYPING_EXPIRY_MS", yc.TypingExpiryMS)) * time.Millisecond,
		SeenGraceDelay:    time.Duration(envInt("SEEN_GRACE_DELAY_MS", yc.SeenGraceDelayMS)) * time.Millisecond,
		WSSendBufferSize:  envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		WSWriteTimeout:    envInt("WS_WRITE_TIMEOUT", yc.WSWriteTimeout),
		WSPongTimeout:     envInt("WS_PONG_TIMEOUT", yc.WSPongTimeout),
		WSMaxMessageSize:  envInt("WS_MAX_MESSAGE_SIZE", yc.WSMaxMessageSize),
		RequestTimeout:    time.Duration(envInt("REQUEST_TIMEOUT", yc.RequestTimeout)) * time.Second,
		LogLevel:          envStr("LOG_LEVEL", yc.LogLevel),
	}

	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}
	return cfg
}

// envStr returns the environment variable value or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric environment variable value or fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
