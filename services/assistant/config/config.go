// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the assistant configuration:
// defaults, overlaid by an optional YAML file, overlaid by environment
// variables. Operating hours and pricing are hot-reloaded through the
// Watcher; everything wired at boot (server, store, limits) is not.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianEngage/services/assistant/dialog"
	"github.com/AleutianAI/AleutianEngage/services/assistant/messaging"
	"github.com/AleutianAI/AleutianEngage/services/assistant/preprocess"
	"github.com/AleutianAI/AleutianEngage/services/assistant/rules"
)

// =============================================================================
// Configuration Shape
// =============================================================================

// ServerConfig holds HTTP listener settings. Not hot-reloadable.
type ServerConfig struct {
	// Addr is the listen address. Env: ENGAGE_HTTP_ADDR.
	Addr string `yaml:"addr" json:"addr" validate:"required"`
}

// StoreConfig holds persistence settings. Not hot-reloadable.
type StoreConfig struct {
	// Path is the on-disk database directory. Env: ENGAGE_STORE_PATH.
	Path string `yaml:"path" json:"path" validate:"required"`

	// ArchiveAfterHours is the idle age after which a conversation is
	// archived. Default: 720 (30 days).
	ArchiveAfterHours int `yaml:"archive_after_hours" json:"archive_after_hours" validate:"min=1"`

	// ArchiveIntervalMinutes is how often the archival sweep runs.
	// Default: 60.
	ArchiveIntervalMinutes int `yaml:"archive_interval_minutes" json:"archive_interval_minutes" validate:"min=1"`

	// DedupTTLMinutes is how long message-id markers persist. Default: 10.
	DedupTTLMinutes int `yaml:"dedup_ttl_minutes" json:"dedup_ttl_minutes" validate:"min=1"`
}

// RateLimitConfig holds the per-identity admission budget.
type RateLimitConfig struct {
	Limit         int `yaml:"limit" json:"limit" validate:"min=1"`
	WindowMinutes int `yaml:"window_minutes" json:"window_minutes" validate:"min=1"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" validate:"min=1"`
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold" validate:"min=1"`
	CooldownSeconds  int `yaml:"cooldown_seconds" json:"cooldown_seconds" validate:"min=1"`
}

// RecoveryConfig holds downstream call policy.
type RecoveryConfig struct {
	CallTimeoutSeconds int `yaml:"call_timeout_seconds" json:"call_timeout_seconds" validate:"min=1"`
	RetryBackoffMillis int `yaml:"retry_backoff_millis" json:"retry_backoff_millis" validate:"min=1"`
}

// TelemetryConfig selects trace export. Not hot-reloadable.
type TelemetryConfig struct {
	// TraceExporter selects the exporter: "otlp" or "none".
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter" validate:"oneof=otlp none"`

	// OTLPEndpoint is the collector address for the otlp exporter.
	// Env: OTEL_EXPORTER_OTLP_ENDPOINT.
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
}

// Config is the full assistant configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker" json:"breaker"`
	Recovery  RecoveryConfig  `yaml:"recovery" json:"recovery"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	Hours   rules.Schedule    `yaml:"hours" json:"hours"`
	Pricing rules.PricePolicy `yaml:"pricing" json:"pricing"`

	Dialog  dialog.Config      `yaml:"dialog" json:"dialog"`
	Replies preprocess.Replies `yaml:"replies" json:"replies"`

	WhatsApp messaging.WhatsAppConfig `yaml:"whatsapp" json:"whatsapp"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8086"},
		Store: StoreConfig{
			Path:                   "data/engage",
			ArchiveAfterHours:      720,
			ArchiveIntervalMinutes: 60,
			DedupTTLMinutes:        10,
		},
		RateLimit: RateLimitConfig{Limit: 50, WindowMinutes: 60},
		Breaker:   BreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, CooldownSeconds: 30},
		Recovery:  RecoveryConfig{CallTimeoutSeconds: 5, RetryBackoffMillis: 200},
		Telemetry: TelemetryConfig{TraceExporter: "none"},
		Hours:     rules.DefaultSchedule(),
		Pricing:   rules.DefaultPricePolicy(),
		Dialog:    dialog.DefaultConfig(),
		Replies:   preprocess.DefaultReplies(),
	}
}

// RateWindow returns the admission window as a duration.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMinutes) * time.Minute
}

// =============================================================================
// Loading
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (if path is non-empty), overlaid by environment variables,
// then validated. A missing file at an explicitly given path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural constraints plus the schedule and pricing
// rules that the struct tags cannot express.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Hours.Validate(); err != nil {
		return fmt.Errorf("invalid operating hours: %w", err)
	}
	if cfg.Pricing.SubjectFeeCents < 0 || cfg.Pricing.EnrollmentFeeCents < 0 {
		return fmt.Errorf("invalid pricing: fees must not be negative")
	}
	return nil
}

// applyEnv overlays environment variables. Secrets only ever come from
// the environment, never from the file.
func applyEnv(cfg *Config) {
	if addr := os.Getenv("ENGAGE_HTTP_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := os.Getenv("ENGAGE_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.OTLPEndpoint = endpoint
	}
	if token := os.Getenv("WHATSAPP_ACCESS_TOKEN"); token != "" {
		cfg.WhatsApp.AccessToken = token
	} else {
		slog.Warn("WHATSAPP_ACCESS_TOKEN not set, outbound delivery will use the noop messenger")
	}
	if phoneID := os.Getenv("WHATSAPP_PHONE_NUMBER_ID"); phoneID != "" {
		cfg.WhatsApp.PhoneNumberID = phoneID
	}
}

// =============================================================================
// Provider
// =============================================================================

// Provider hands out the current configuration. The watcher swaps the
// value atomically; readers always see a complete, validated snapshot.
type Provider struct {
	value atomic.Pointer[Config]
}

// NewProvider seeds a provider with an initial configuration.
func NewProvider(cfg Config) *Provider {
	p := &Provider{}
	p.value.Store(&cfg)
	return p
}

// Current returns the active configuration snapshot.
func (p *Provider) Current() Config {
	return *p.value.Load()
}

// Replace swaps in a new configuration.
func (p *Provider) Replace(cfg Config) {
	p.value.Store(&cfg)
}

// Schedule is the accessor the preprocessor reads on every message.
func (p *Provider) Schedule() rules.Schedule {
	return p.value.Load().Hours
}

// Pricing is the accessor the dialog machine reads when quoting.
func (p *Provider) Pricing() rules.PricePolicy {
	return p.value.Load().Pricing
}
