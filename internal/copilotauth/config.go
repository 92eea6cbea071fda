package copilotauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses from human-friendly strings (e.g., "30s") or numeric seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	}
	var seconds int64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	d.Duration = time.Duration(seconds) * time.Second
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err == nil {
			d.Duration = parsed
			return nil
		}
	}
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		d.Duration = time.Duration(seconds) * time.Second
		return nil
	}
	return errors.New("invalid duration format")
}

// User is a local client allowed to use the proxy.
type User struct {
	Name  string `json:"name" yaml:"name"`
	Token string `json:"token" yaml:"token"`
}

type Config struct {
	Listen         string   `json:"listen" yaml:"listen"`
	LogLevel       string   `json:"log_level" yaml:"log_level"`
	TokenEnv       string   `json:"token_env" yaml:"token_env"`
	TokenEndpoint  string   `json:"token_endpoint" yaml:"token_endpoint"`
	APIBaseURL     string   `json:"api_base_url" yaml:"api_base_url"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
	RefreshMargin  Duration `json:"refresh_margin" yaml:"refresh_margin"`
	Session        Session  `json:"session" yaml:"session"`
	Users          []User   `json:"users" yaml:"users"`
}

// PersonalToken reads the long-lived GitHub token from the configured variable.
func (c *Config) PersonalToken() string {
	return os.Getenv(c.TokenEnv)
}

func DefaultConfig() Config {
	return Config{
		Listen:         "127.0.0.1:8787",
		LogLevel:       "info",
		TokenEnv:       defaultTokenEnv,
		TokenEndpoint:  defaultTokenEndpoint,
		APIBaseURL:     defaultAPIBaseURL,
		RequestTimeout: Duration{Duration: 30 * time.Second},
		RefreshMargin:  Duration{Duration: defaultRefreshMargin},
		Session:        DefaultSession(),
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		format := detectFormat(path)
		if err := decodeConfig(format, data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}

	ensureDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address cannot be empty")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.TokenEnv == "" {
		return errors.New("token_env cannot be empty")
	}
	if err := validateURL("token_endpoint", c.TokenEndpoint); err != nil {
		return err
	}
	if err := validateURL("api_base_url", c.APIBaseURL); err != nil {
		return err
	}

	if c.RequestTimeout.Duration <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.RefreshMargin.Duration < 0 {
		return errors.New("refresh_margin cannot be negative")
	}

	if c.Session.Version == "" || c.Session.IntegrationID == "" {
		return errors.New("session.version and session.integration_id must be set")
	}

	seen := make(map[string]string, len(c.Users))
	for _, user := range c.Users {
		if user.Name == "" {
			return errors.New("user name cannot be empty")
		}
		if len(user.Token) < 16 {
			return fmt.Errorf("user %s: token too short (minimum 16 characters)", user.Name)
		}
		if existingUser, exists := seen[user.Token]; exists {
			return fmt.Errorf("duplicate token for users %s and %s", existingUser, user.Name)
		}
		seen[user.Token] = user.Name
	}

	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute url, got %q", field, raw)
	}
	return nil
}

func detectFormat(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return "json"
	case ".yml", ".yaml":
		return "yaml"
	default:
		return "yaml" // prefer YAML when ambiguous
	}
}

func decodeConfig(format string, data []byte, cfg *Config) error {
	switch format {
	case "json":
		return json.Unmarshal(data, cfg)
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}
}

func ensureDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Listen == "" {
		cfg.Listen = defaults.Listen
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.TokenEnv == "" {
		cfg.TokenEnv = defaults.TokenEnv
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = defaults.TokenEndpoint
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if cfg.RequestTimeout.Duration == 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.RefreshMargin.Duration == 0 {
		cfg.RefreshMargin = defaults.RefreshMargin
	}
	if cfg.Session.Product == "" {
		cfg.Session.Product = defaults.Session.Product
	}
	if cfg.Session.Version == "" {
		cfg.Session.Version = defaults.Session.Version
	}
	if cfg.Session.IntegrationID == "" {
		cfg.Session.IntegrationID = defaults.Session.IntegrationID
	}
}
