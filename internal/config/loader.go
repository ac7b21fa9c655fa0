// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader resolves an AppConfig from defaults, an optional YAML file and the environment.
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader for configPath. An empty path means ENV-only.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path the loader reads.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(name, defaultVal string) string {
	return ParseString(l.key(name), defaultVal)
}

func (l *Loader) envBool(name string, defaultVal bool) bool {
	return ParseBool(l.key(name), defaultVal)
}

func (l *Loader) envInt(name string, defaultVal int) int {
	return ParseInt(l.key(name), defaultVal)
}

func (l *Loader) envDuration(name string, defaultVal time.Duration) time.Duration {
	return ParseDuration(l.key(name), defaultVal)
}

func (l *Loader) envFloat(name string, defaultVal float64) float64 {
	return ParseFloat(l.key(name), defaultVal)
}

func (l *Loader) envList(name string, defaultVal []string) []string {
	return ParseStringList(l.key(name), defaultVal)
}

func (l *Loader) key(name string) string {
	k := EnvPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

// Load loads configuration with precedence ENV > file > defaults and validates
// the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if cfg.DataDir != "" {
		if abs, err := filepath.Abs(cfg.DataDir); err == nil {
			cfg.DataDir = abs
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path strictly onto cfg, so keys absent from the file keep
// their current values.
func loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrMultipleDocuments
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)

	s := &cfg.Server
	s.ListenAddr = l.envString("LISTEN", s.ListenAddr)
	s.MetricsAddr = l.envString("METRICS_LISTEN", s.MetricsAddr)
	s.ReadTimeout = l.envDuration("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = l.envDuration("SERVER_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = l.envDuration("SERVER_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = l.envDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxHeaderBytes = l.envInt("SERVER_MAX_HEADER_BYTES", s.MaxHeaderBytes)

	st := &cfg.Store
	st.Backend = l.envString("STORE_BACKEND", st.Backend)
	st.Redis.Addr = l.envString("REDIS_ADDR", st.Redis.Addr)
	st.Redis.Password = l.envString("REDIS_PASSWORD", st.Redis.Password)
	st.Redis.DB = l.envInt("REDIS_DB", st.Redis.DB)
	st.Redis.KeyPrefix = l.envString("REDIS_KEY_PREFIX", st.Redis.KeyPrefix)
	st.Redis.MaxEvents = l.envInt("REDIS_MAX_EVENTS", st.Redis.MaxEvents)

	a := &cfg.API
	a.RequireUser = l.envBool("REQUIRE_USER", a.RequireUser)
	a.RateLimit = l.envInt("RATELIMIT", a.RateLimit)
	a.RateWindow = l.envDuration("RATELIMIT_WINDOW", a.RateWindow)
	a.RateLimitWhitelist = l.envList("RATELIMIT_WHITELIST", a.RateLimitWhitelist)

	c := &cfg.Client
	c.BaseURL = l.envString("API_BASE_URL", c.BaseURL)
	c.UserID = l.envString("USER_ID", c.UserID)
	c.Timeout = l.envDuration("API_TIMEOUT", c.Timeout)
	c.BreakerThreshold = l.envInt("API_BREAKER_THRESHOLD", c.BreakerThreshold)
	c.BreakerReset = l.envDuration("API_BREAKER_RESET", c.BreakerReset)

	t := &cfg.Tracker
	t.MonitorInterval = l.envDuration("MONITOR_INTERVAL", t.MonitorInterval)
	t.SaveInterval = l.envDuration("SAVE_INTERVAL", t.SaveInterval)
	t.CompleteRatio = l.envFloat("COMPLETE_RATIO", t.CompleteRatio)
	t.ResumeWait = l.envDuration("RESUME_WAIT", t.ResumeWait)
	t.PersistTimeout = l.envDuration("PERSIST_TIMEOUT", t.PersistTimeout)
	t.FlushOnClose = l.envBool("FLUSH_ON_CLOSE", t.FlushOnClose)

	o := &cfg.Telemetry
	o.Enabled = l.envBool("TELEMETRY_ENABLED", o.Enabled)
	o.Endpoint = l.envString("OTEL_ENDPOINT", o.Endpoint)
	o.Protocol = l.envString("OTEL_PROTOCOL", o.Protocol)
	o.ServiceName = l.envString("OTEL_SERVICE_NAME", o.ServiceName)
	o.SamplingRate = l.envFloat("OTEL_SAMPLING_RATE", o.SamplingRate)
	o.Insecure = l.envBool("OTEL_INSECURE", o.Insecure)
}
