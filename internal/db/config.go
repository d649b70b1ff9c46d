// Package db supplies relational connections resolved from environment or
// YAML configuration, and the set-based upsert sink.
package db

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables checked before the YAML config file.
const (
	EnvDSN        = "DB_DSN"
	EnvConfigPath = "DB_CONFIG_PATH"
)

// ConfigError reports bad or missing database configuration. Fatal, never
// retried.
type ConfigError struct {
	msg string
	err error
}

func (e *ConfigError) Error() string { return e.msg }
func (e *ConfigError) Unwrap() error { return e.err }

func configErrorf(err error, format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...), err: err}
}

// Config is one database connection entry.
type Config struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Options  string `yaml:"options"`
}

// BuildDSN returns the DSN, constructing a postgres URL from the individual
// fields when no explicit DSN is configured.
func (c Config) BuildDSN() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	if c.Host == "" || c.Port == 0 || c.User == "" || c.Password == "" || c.Database == "" {
		return "", configErrorf(nil,
			"incomplete DB configuration: host, port, user, password, database are required")
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Database)
	if c.Options != "" {
		dsn += "?" + c.Options
	}
	return dsn, nil
}

// ResolveConfig returns the connection configuration for an alias. The
// DB_DSN environment variable wins outright; otherwise the alias is looked
// up in the YAML config file (DB_CONFIG_PATH overrides the configured path).
func ResolveConfig(alias, configPath string) (Config, error) {
	if dsn := os.Getenv(EnvDSN); dsn != "" {
		return Config{DSN: dsn}, nil
	}

	path := configPath
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		path = envPath
	}

	configs, err := loadConfigFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, ok := configs[alias]
	if !ok {
		return Config{}, configErrorf(nil, "DB config alias %q is not defined in %s", alias, path)
	}
	return cfg, nil
}

func loadConfigFile(path string) (map[string]Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, configErrorf(err, "DB config file not found: %s", path)
		}
		return nil, configErrorf(err, "failed to read DB config file: %s", path)
	}

	var configs map[string]Config
	if err := yaml.Unmarshal(raw, &configs); err != nil {
		return nil, configErrorf(err, "failed to parse YAML in %s: %v", path, err)
	}
	if configs == nil {
		configs = map[string]Config{}
	}
	return configs, nil
}

var passwordKV = regexp.MustCompile(`(?i)(password|passwd|pwd)=[^\s;]*`)

// MaskDSN hides credentials in a connection string so diagnostics can show
// the rest of it. Both URL userinfo and key=value style passwords are
// masked.
func MaskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		// Rebuild the userinfo textually; url.String would percent-encode
		// the mask characters.
		u.User = nil
		rest := strings.TrimPrefix(u.String(), u.Scheme+"://")
		return u.Scheme + "://****:****@" + rest
	}
	return passwordKV.ReplaceAllString(dsn, "$1=****")
}
