// Package config loads server configuration from YAML or JSON files and
// EXPRTREE_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lemonberrylabs/exprtree/pkg/expr"
)

// Config holds server settings.
type Config struct {
	HTTPAddr            string `yaml:"http_addr" json:"http_addr"`
	GRPCAddr            string `yaml:"grpc_addr" json:"grpc_addr"`
	StorePath           string `yaml:"store_path" json:"store_path"`
	ContextsFile        string `yaml:"contexts_file" json:"contexts_file"`
	RulesDir            string `yaml:"rules_dir" json:"rules_dir"`
	MaxDepth            int    `yaml:"max_depth" json:"max_depth"`
	MaxExpressionLength int    `yaml:"max_expression_length" json:"max_expression_length"`
	LogLevel            string `yaml:"log_level" json:"log_level"`
	LogFormat           string `yaml:"log_format" json:"log_format"`
}

// Default returns the built-in configuration. An empty StorePath keeps rules
// in memory.
func Default() Config {
	return Config{
		HTTPAddr:            "0.0.0.0:8787",
		GRPCAddr:            "0.0.0.0:8788",
		MaxDepth:            expr.DefaultMaxDepth,
		MaxExpressionLength: expr.DefaultMaxLength,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// FromFile loads configuration from a file, auto-detecting format by
// extension. Fields absent from the file keep their defaults.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data over the defaults.
func FromYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, cfg.Validate()
}

// FromJSON parses JSON data over the defaults.
func FromJSON(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from EXPRTREE_* variables read through getenv.
// A nil getenv means os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	envOrDefault := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}
	intOrDefault := func(key string, fallback int) (int, error) {
		v := getenv(key)
		if v == "" {
			return fallback, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	}

	c.HTTPAddr = envOrDefault("EXPRTREE_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = envOrDefault("EXPRTREE_GRPC_ADDR", c.GRPCAddr)
	c.StorePath = envOrDefault("EXPRTREE_STORE_PATH", c.StorePath)
	c.ContextsFile = envOrDefault("EXPRTREE_CONTEXTS_FILE", c.ContextsFile)
	c.RulesDir = envOrDefault("EXPRTREE_RULES_DIR", c.RulesDir)
	c.LogLevel = envOrDefault("EXPRTREE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("EXPRTREE_LOG_FORMAT", c.LogFormat)

	var err error
	if c.MaxDepth, err = intOrDefault("EXPRTREE_MAX_DEPTH", c.MaxDepth); err != nil {
		return err
	}
	if c.MaxExpressionLength, err = intOrDefault("EXPRTREE_MAX_EXPRESSION_LENGTH", c.MaxExpressionLength); err != nil {
		return err
	}
	return c.Validate()
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", c.MaxDepth)
	}
	if c.MaxExpressionLength < 0 {
		return fmt.Errorf("max_expression_length must not be negative, got %d", c.MaxExpressionLength)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// ExprOptions returns the compile options implied by the limits.
func (c Config) ExprOptions() []expr.Option {
	return []expr.Option{
		expr.WithMaxDepth(c.MaxDepth),
		expr.WithMaxLength(c.MaxExpressionLength),
	}
}

// ParseLevel maps a level name to a slog.Level. An empty name is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
