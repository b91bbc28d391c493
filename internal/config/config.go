package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	HTTP          struct {
		Listen string `json:"listen"`
	} `json:"http"`
	Relay struct {
		AllowedOrigins []string `json:"allowed_origins"`
		RedisURL       string   `json:"redis_url"`
		LaneBuffer     int      `json:"lane_buffer"`
	} `json:"relay"`
	Backend struct {
		BaseURL        string `json:"base_url"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"backend"`
	Room struct {
		AlertTTLSeconds  int    `json:"alert_ttl_seconds"`
		HintTTLSeconds   int    `json:"hint_ttl_seconds"`
		MaxHints         int    `json:"max_hints"`
		IdleAfterSeconds int    `json:"idle_after_seconds"`
		IdleSweep        string `json:"idle_sweep"`
	} `json:"room"`
	Telegram struct {
		Token string `json:"token"`
	} `json:"telegram"`
	Notify struct {
		Targets []string `json:"targets"`
	} `json:"notify"`
}

// DefaultPath returns ~/.aegis/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".aegis", "config.json")
}

func defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".aegis"),
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.HTTP.Listen = "127.0.0.1:8080"
	cfg.Relay.AllowedOrigins = []string{}
	cfg.Relay.LaneBuffer = 100
	cfg.Backend.TimeoutSeconds = 30
	cfg.Room.AlertTTLSeconds = 8
	cfg.Room.HintTTLSeconds = 10
	cfg.Room.MaxHints = 3
	cfg.Room.IdleAfterSeconds = 30
	cfg.Room.IdleSweep = "@every 1s"
	cfg.Notify.Targets = []string{}
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if listen := os.Getenv("AEGIS_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if baseURL := os.Getenv("AEGIS_BACKEND_URL"); baseURL != "" {
		cfg.Backend.BaseURL = baseURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Relay.RedisURL = redisURL
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}

	return cfg, nil
}

// BackendTimeout returns the backend request timeout.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// PIDPath returns the path of the serve process PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "aegis.pid")
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeDefaults(path string, cfg *Config) error {
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into a nested map with JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns every config value keyed by dot path, with secrets
// masked when mask is true.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored at a dot-separated key. The file is
// created with defaults if it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value at a dot-separated key. value is parsed as JSON
// when possible ("16", "true", "[\"a\"]"), otherwise stored as a string.
// The result must still load: a bare value for a string field is kept as
// text, a bare string for a list field becomes a comma-separated list, and
// any other type mismatch is rejected without touching the file.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}

	data, err := withValue(m, key, parsed)
	if err != nil {
		return err
	}
	if err := validate(data); err != nil {
		var te *json.UnmarshalTypeError
		if !errors.As(err, &te) {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		switch te.Type.Kind() {
		case reflect.String:
			parsed = value
		case reflect.Slice:
			s, ok := parsed.(string)
			if !ok {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
			parsed = splitList(s)
		default:
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if data, err = withValue(m, key, parsed); err != nil {
			return err
		}
		if err := validate(data); err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return writeAtomic(path, data)
}

// withValue returns the encoded config m with key set to v. m is not
// modified.
func withValue(m map[string]any, key string, v any) ([]byte, error) {
	flat := Flatten(m)
	flat[key] = v
	// A new leaf replaces any subtree previously stored under the key.
	for k := range flat {
		if strings.HasPrefix(k, key+".") {
			delete(flat, k)
		}
	}
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return append(data, '\n'), nil
}

func validate(data []byte) error {
	var cfg Config
	return json.Unmarshal(data, &cfg)
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
