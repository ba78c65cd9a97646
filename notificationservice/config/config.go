// Package config loads and validates the gateway's YAML configuration
// (spec.md §6): one HTTP/log/metrics/proxy block plus a map of app_id to
// pushkin configuration.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// HTTPConfig controls the notify listener.
type HTTPConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	MaxRequestBytes int64  `yaml:"max_request_bytes"`
}

// LogConfig controls the slog handler built at startup.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // parsed but not read: cmd/sygnal always logs JSON
}

// MetricsConfig controls the optional /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ProxyConfig is the global HTTP CONNECT proxy, overridable per app.
type ProxyConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig, if Addr is set, backs the pushkin degrade-state store with
// Redis instead of the in-process map, so a fleet of gateways shares it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AppConfig is one app_id's pushkin configuration. Only the fields
// relevant to Type need be set; unused fields are ignored.
type AppConfig struct {
	Type string `yaml:"type"` // "apns", "fcm", or "webpush"

	// apns
	CertFile      string `yaml:"certfile"`
	KeyFile       string `yaml:"keyfile"`
	KeyID         string `yaml:"key_id"`
	TeamID        string `yaml:"team_id"`
	Topic         string `yaml:"topic"`
	Platform      string `yaml:"platform"`
	PushType      string `yaml:"push_type"`
	ExpirySeconds int    `yaml:"expiry_seconds"`

	// fcm
	APIVersion         string `yaml:"api_version"`
	APIKey             string `yaml:"api_key"`
	ProjectID          string `yaml:"project_id"`
	ServiceAccountFile string `yaml:"service_account_file"`

	// webpush
	VAPIDPublicKey   string   `yaml:"vapid_public_key"`
	VAPIDPrivateKey  string   `yaml:"vapid_private_key"`
	Subscriber       string   `yaml:"subscriber"`
	DefaultTTL       int      `yaml:"default_ttl"`
	AllowedEndpoints []string `yaml:"allowed_endpoints"`

	// shared across all three
	ProxyURL       string `yaml:"proxy_url"`
	MaxConnections int    `yaml:"max_connections"`
	MaxInFlight    int    `yaml:"max_in_flight"`
}

// AppEntry pairs one app_id with its pushkin config.
type AppEntry struct {
	AppID     string
	AppConfig AppConfig
}

// AppList is the "apps" block, decoded in file order rather than into a
// map. The registry's glob tie-break (spec.md §3: "on ties the
// first-loaded wins") depends on registration order matching the YAML
// file's declaration order, which a map[string]AppConfig would lose to
// Go's randomized map iteration.
type AppList []AppEntry

// UnmarshalYAML walks the mapping node's Content pairs directly instead
// of decoding into a map, preserving declaration order.
func (a *AppList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("config: apps must be a mapping of app_id to config")
	}
	entries := make(AppList, 0, len(value.Content)/2)
	for i := 0; i < len(value.Content); i += 2 {
		var appID string
		if err := value.Content[i].Decode(&appID); err != nil {
			return fmt.Errorf("config: apps: %w", err)
		}
		var app AppConfig
		if err := value.Content[i+1].Decode(&app); err != nil {
			return fmt.Errorf("config: apps.%s: %w", appID, err)
		}
		entries = append(entries, AppEntry{AppID: appID, AppConfig: app})
	}
	*a = entries
	return nil
}

// Find returns the config registered under appID, for callers (tests,
// mostly) that want map-like lookup without caring about order.
func (a AppList) Find(appID string) (AppConfig, bool) {
	for _, e := range a {
		if e.AppID == appID {
			return e.AppConfig, true
		}
	}
	return AppConfig{}, false
}

// Config is the gateway's fully resolved configuration.
type Config struct {
	HTTP    HTTPConfig
	Log     LogConfig
	Metrics MetricsConfig
	Proxy   ProxyConfig
	Redis   RedisConfig
	Apps    AppList
}

type yamlConfig struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Redis   RedisConfig   `yaml:"redis"`
	Apps    AppList       `yaml:"apps"`
}

// Load reads and validates the YAML file at path, then applies the
// SYGNAL_* environment overrides (the teacher's two-stage YAML-then-env
// pattern, generalized past its original pubsub-only fields).
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &Config{
		HTTP:    y.HTTP,
		Log:     y.Log,
		Metrics: y.Metrics,
		Proxy:   y.Proxy,
		Redis:   y.Redis,
		Apps:    y.Apps,
	}
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SYGNAL_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := os.Getenv("SYGNAL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SYGNAL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SYGNAL_PROXY_URL"); v != "" {
		cfg.Proxy.URL = v
	}
	if v := os.Getenv("SYGNAL_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
}

func (c *Config) validate() error {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8090"
	}
	if c.HTTP.MaxRequestBytes <= 0 {
		c.HTTP.MaxRequestBytes = 512 * 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if len(c.Apps) == 0 {
		return fmt.Errorf("config: apps must configure at least one app_id")
	}
	for _, entry := range c.Apps {
		appID, app := entry.AppID, entry.AppConfig
		switch app.Type {
		case "apns":
			if app.CertFile == "" && app.KeyFile == "" {
				return fmt.Errorf("config: app %s: apns requires certfile or keyfile", appID)
			}
		case "fcm":
			if app.APIVersion == "v1" {
				if app.ProjectID == "" || app.ServiceAccountFile == "" {
					return fmt.Errorf("config: app %s: fcm v1 requires project_id and service_account_file", appID)
				}
			} else if app.APIKey == "" {
				return fmt.Errorf("config: app %s: fcm legacy requires api_key", appID)
			}
		case "webpush":
			if app.VAPIDPublicKey == "" || app.VAPIDPrivateKey == "" {
				return fmt.Errorf("config: app %s: webpush requires vapid_public_key and vapid_private_key", appID)
			}
		default:
			return fmt.Errorf("config: app %s: unknown type %q", appID, app.Type)
		}
	}
	return nil
}
