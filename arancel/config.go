// CLAUDE:SUMMARY Service configuration: defaults, YAML file, .env file and ARANCEL_* environment overrides.
package arancel

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/arancel/dbopen"
)

// EnvPrefix prefixes every environment override, e.g. ARANCEL_DATA_DIR.
const EnvPrefix = "ARANCEL_"

// Config holds the snapshot engine and server configuration.
type Config struct {
	DataDir      string `yaml:"data_dir" env:"DATA_DIR"`
	Prefix       string `yaml:"prefix" env:"PREFIX"`
	Extension    string `yaml:"extension" env:"EXTENSION"`
	LatestName   string `yaml:"latest_name" env:"LATEST_NAME"`
	LegacyPath   string `yaml:"legacy_path" env:"LEGACY_PATH"`
	TemplatePath string `yaml:"template_path" env:"TEMPLATE_PATH"`

	BatchSize   int `yaml:"batch_size" env:"BATCH_SIZE"`
	TxAttempts  int `yaml:"tx_attempts" env:"TX_ATTEMPTS"`
	RomanMax    int `yaml:"roman_max" env:"ROMAN_MAX"`
	LookupLimit int `yaml:"lookup_limit" env:"LOOKUP_LIMIT"`

	// OpsDB is the operations log; "off" disables it.
	OpsDB    string `yaml:"ops_db" env:"OPS_DB"`
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`
	MCPStdio bool   `yaml:"mcp_stdio" env:"MCP_STDIO"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Prefix == "" {
		c.Prefix = "arancel"
	}
	c.Extension = strings.TrimPrefix(c.Extension, ".")
	if c.Extension == "" {
		c.Extension = "sqlite3"
	}
	if c.LatestName == "" {
		c.LatestName = c.Prefix + "_latest." + c.Extension
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.TxAttempts <= 0 {
		c.TxAttempts = dbopen.DefaultAttempts
	}
	if c.RomanMax <= 0 {
		c.RomanMax = 21
	}
	if c.LookupLimit <= 0 {
		c.LookupLimit = 50
	}
	if c.OpsDB == "" {
		c.OpsDB = filepath.Join(c.DataDir, c.Prefix+"_ops.db")
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// OpsEnabled reports whether the operations log is configured.
func (c *Config) OpsEnabled() bool { return c.OpsDB != "off" }

// Level parses LogLevel, falling back to info.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig builds the effective configuration. Sources, lowest to
// highest precedence: defaults, the YAML file at path, the dotenv file at
// envFile, the process environment. Empty path or envFile skips that
// source; a missing envFile is not an error.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		c, err := LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("arancel: config %s: %w", path, err)
		}
		cfg = c
	}
	if envFile != "" {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("arancel: env file %s: %w", envFile, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("arancel: parse env: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}
