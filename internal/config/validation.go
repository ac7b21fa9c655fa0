// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"

	"github.com/vidmember/watchtrack/internal/validate"
)

var (
	storeBackends      = []string{"", "memory", "sqlite", "redis"}
	telemetryProtocols = []string{"grpc", "http"}
)

// Validate validates an AppConfig using the centralized validation package.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if lvl := validate.LogLevel(strings.ToLower(cfg.LogLevel)); !lvl.IsValid() {
		v.AddError("LogLevel", fmt.Sprintf("must be one of %v", validate.LogLevels), cfg.LogLevel)
	}
	if cfg.DataDir != "" {
		v.Directory("DataDir", cfg.DataDir, false)
	}

	v.ListenAddr("Server.ListenAddr", cfg.Server.ListenAddr)
	if cfg.Server.MetricsAddr != "" {
		v.ListenAddr("Server.MetricsAddr", cfg.Server.MetricsAddr)
	}
	v.NonNegativeDuration("Server.ReadTimeout", cfg.Server.ReadTimeout)
	v.NonNegativeDuration("Server.WriteTimeout", cfg.Server.WriteTimeout)
	v.NonNegativeDuration("Server.IdleTimeout", cfg.Server.IdleTimeout)
	v.PositiveDuration("Server.ShutdownTimeout", cfg.Server.ShutdownTimeout)
	v.Range("Server.MaxHeaderBytes", cfg.Server.MaxHeaderBytes, 1024, 16<<20)

	backend := strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	v.OneOf("Store.Backend", backend, storeBackends)
	if backend == "sqlite" && cfg.DataDir == "" {
		v.AddError("DataDir", "required by the sqlite store", cfg.DataDir)
	}
	if backend == "redis" {
		v.NotEmpty("Store.Redis.Addr", cfg.Store.Redis.Addr)
		v.Range("Store.Redis.DB", cfg.Store.Redis.DB, 0, 15)
	}

	v.Range("API.RateLimit", cfg.API.RateLimit, 0, 100000)
	if cfg.API.RateLimit > 0 {
		v.PositiveDuration("API.RateWindow", cfg.API.RateWindow)
	}
	v.IPOrCIDR("API.RateLimitWhitelist", cfg.API.RateLimitWhitelist)

	if cfg.Client.BaseURL != "" {
		v.URL("Client.BaseURL", cfg.Client.BaseURL, []string{"http", "https"})
	}
	v.NonNegativeDuration("Client.Timeout", cfg.Client.Timeout)
	v.Range("Client.BreakerThreshold", cfg.Client.BreakerThreshold, 0, 1000)
	if cfg.Client.BreakerThreshold > 0 {
		v.PositiveDuration("Client.BreakerReset", cfg.Client.BreakerReset)
	}

	if err := cfg.TrackerPolicy().Validate(); err != nil {
		v.AddError("Tracker", err.Error(), cfg.Tracker)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("Telemetry.Protocol", cfg.Telemetry.Protocol, telemetryProtocols)
		v.NotEmpty("Telemetry.ServiceName", cfg.Telemetry.ServiceName)
		v.FloatRange("Telemetry.SamplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	return v.Err()
}
