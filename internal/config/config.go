// SPDX-License-Identifier: Apache-2.0
// Package config loads the forwarding object manager's runtime
// configuration via viper, grounded on the cobra+viper CLI pattern
// shared by mardim91-opi-evpn-bridge/cmd/main.go and firestige-Otus/cmd.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the agent's full runtime configuration, bound from flags,
// environment variables (L3FWDMGR_* prefix), and an optional config file.
type Config struct {
	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	MetricsAddr string `mapstructure:"metrics-addr"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `mapstructure:"log-level"`
	// LogJSON selects JSON-formatted log output instead of text.
	LogJSON bool `mapstructure:"log-json"`
	// HostTableCapable reports whether the attached platform can serve
	// /32 and /128 next-hop routes directly out of the Host Table.
	HostTableCapable bool `mapstructure:"host-table-capable"`
	// NdpSolicitTimeout sets the deadline recorded on each pending
	// Neighbor Solicitation entry; the ND handler does not expire
	// pending entries when that deadline passes.
	NdpSolicitTimeout time.Duration `mapstructure:"ndp-solicit-timeout"`
	// WarmBoot selects whether the agent reconciles against a warm-boot
	// cache at startup instead of treating every entry as a cold add.
	WarmBoot bool `mapstructure:"warm-boot"`
}

// Default returns the configuration's baseline values, applied before
// flags/env/file overrides.
func Default() Config {
	return Config{
		MetricsAddr:       ":9100",
		LogLevel:          "info",
		LogJSON:           false,
		HostTableCapable:  true,
		NdpSolicitTimeout: 3 * time.Second,
		WarmBoot:          false,
	}
}

// Load binds v (already populated with flags/env/config-file sources
// by the caller) into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.MetricsAddr == "" {
		return fmt.Errorf("metrics-addr must not be empty")
	}
	if cfg.NdpSolicitTimeout <= 0 {
		return fmt.Errorf("ndp-solicit-timeout must be positive, got %s", cfg.NdpSolicitTimeout)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log-level must be one of debug/info/warn/error, got %q", cfg.LogLevel)
	}
	return nil
}
