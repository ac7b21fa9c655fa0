// SPDX-License-Identifier: MIT

// Package config loads watchtrack configuration.
//
// Precedence is ENV > file > defaults. The file is YAML and decoded strictly:
// unknown keys fail the load.
package config

import (
	"time"

	"github.com/vidmember/watchtrack/internal/tracker"
	"github.com/vidmember/watchtrack/internal/watchstore"
)

// AppConfig is the full configuration shared by watchd and playtrack.
type AppConfig struct {
	LogLevel  string          `yaml:"logLevel"`
	DataDir   string          `yaml:"dataDir"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Client    ClientConfig    `yaml:"client"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the watchd HTTP listeners.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	MetricsAddr     string        `yaml:"metricsAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MaxHeaderBytes  int           `yaml:"maxHeaderBytes"`
}

// StoreConfig selects the watch-event backend.
type StoreConfig struct {
	Backend string                 `yaml:"backend"`
	Redis   watchstore.RedisConfig `yaml:"redis"`
}

// APIConfig configures the watch-events API surface.
type APIConfig struct {
	RequireUser        bool          `yaml:"requireUser"`
	RateLimit          int           `yaml:"rateLimit"`
	RateWindow         time.Duration `yaml:"rateWindow"`
	RateLimitWhitelist []string      `yaml:"rateLimitWhitelist,omitempty"`
}

// ClientConfig points the tracker at a watch-event backend.
type ClientConfig struct {
	BaseURL string        `yaml:"baseURL"`
	UserID  string        `yaml:"userID"`
	Timeout time.Duration `yaml:"timeout"`

	// BreakerThreshold consecutive backend outages open the client circuit
	// breaker for BreakerReset. 0 disables the breaker.
	BreakerThreshold int           `yaml:"breakerThreshold"`
	BreakerReset     time.Duration `yaml:"breakerReset"`
}

// TrackerConfig mirrors tracker.Config in file form.
type TrackerConfig struct {
	MonitorInterval time.Duration `yaml:"monitorInterval"`
	SaveInterval    time.Duration `yaml:"saveInterval"`
	CompleteRatio   float64       `yaml:"completeRatio"`
	ResumeWait      time.Duration `yaml:"resumeWait"`
	PersistTimeout  time.Duration `yaml:"persistTimeout"`
	FlushOnClose    bool          `yaml:"flushOnClose"`
}

// TelemetryConfig configures OpenTelemetry tracing export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	Protocol     string  `yaml:"protocol"`
	ServiceName  string  `yaml:"serviceName"`
	SamplingRate float64 `yaml:"samplingRate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns a configuration that runs out of the box with the memory store.
func Default() AppConfig {
	tc := tracker.DefaultConfig()
	return AppConfig{
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:      ":8088",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		Store: StoreConfig{
			Redis: watchstore.RedisConfig{Addr: "localhost:6379", KeyPrefix: "watchtrack", MaxEvents: 500},
		},
		API: APIConfig{
			RateLimit:  120,
			RateWindow: time.Minute,
		},
		Client: ClientConfig{
			BaseURL:          "http://localhost:8088",
			Timeout:          10 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     30 * time.Second,
		},
		Tracker: TrackerConfig{
			MonitorInterval: tc.MonitorInterval,
			SaveInterval:    tc.SaveInterval,
			CompleteRatio:   tc.CompleteRatio,
			ResumeWait:      tc.ResumeWait,
			PersistTimeout:  tc.PersistTimeout,
			FlushOnClose:    tc.FlushOnClose,
		},
		Telemetry: TelemetryConfig{
			Protocol:     "grpc",
			ServiceName:  "watchtrack",
			SamplingRate: 1.0,
		},
	}
}

// TrackerPolicy converts the file form into a tracker.Config.
func (c AppConfig) TrackerPolicy() tracker.Config {
	return tracker.Config{
		MonitorInterval: c.Tracker.MonitorInterval,
		SaveInterval:    c.Tracker.SaveInterval,
		CompleteRatio:   c.Tracker.CompleteRatio,
		ResumeWait:      c.Tracker.ResumeWait,
		PersistTimeout:  c.Tracker.PersistTimeout,
		FlushOnClose:    c.Tracker.FlushOnClose,
	}
}

// StoreSettings returns the watchstore factory input.
func (c AppConfig) StoreSettings() watchstore.Config {
	return watchstore.Config{
		Backend: c.Store.Backend,
		DataDir: c.DataDir,
		Redis:   c.Store.Redis,
	}
}
