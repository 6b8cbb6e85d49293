// Package config provides the configuration structure for the tts-proxy.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Authentication strategies.
const (
	AuthStrategyPassword = "password"
	AuthStrategyToken    = "token"
)

// Default values applied to zero fields.
const (
	defaultRPCSubjectPrefix    = "tts"
	defaultCredentialBucket    = "TTS_SESSION"
	defaultAudioBucket         = "TTS_AUDIO"
	defaultAudioReadySubject   = "tts.audio.ready"
	defaultTimeoutSeconds      = 30
	defaultPollIntervalMS      = 1500
	defaultPollMaxAttempts     = 60
	defaultPollEscalateAfter   = 3
	defaultRetryAttempts       = 3
	defaultRetryDelayMS        = 1000
	defaultSearchTerm          = "a"
	defaultModelCacheEntries   = 256
	defaultRequestsPerSecond   = 5.0
	defaultRequestBurst        = 1
	defaultProviderBaseURL     = "https://api.fakeyou.com"
	defaultCDNOrigin           = "https://cdn-2.fakeyou.com"
	defaultLegacyStorageOrigin = "https://storage.googleapis.com/vocodes-public"
)

// Static errors.
var (
	ErrNATSURLEmpty        = errors.New("nats url cannot be empty")
	ErrProviderURLEmpty    = errors.New("provider base url cannot be empty")
	ErrUnknownAuthStrategy = errors.New("unknown auth strategy")
	ErrTokenEmpty          = errors.New("auth token cannot be empty for the token strategy")
	ErrEscalateAfterRange  = errors.New("escalate_after must be at least 1")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	RPCSubjectPrefix       string `toml:"rpc_subject_prefix"`
	CredentialBucket       string `toml:"credential_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
	AudioReadySubject      string `toml:"audio_ready_subject"`
}

// ProviderConfig describes the remote TTS API.
type ProviderConfig struct {
	BaseURL             string  `toml:"base_url"`
	CDNOrigin           string  `toml:"cdn_origin"`
	LegacyStorageOrigin string  `toml:"legacy_storage_origin"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	RequestsPerSecond   float64 `toml:"requests_per_second"`
	Burst               int     `toml:"burst"`
}

// AuthConfig selects the credential acquisition strategy.
type AuthConfig struct {
	Strategy string `toml:"strategy"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
}

// PollingConfig controls PollUntilTerminal.
type PollingConfig struct {
	IntervalMS    int `toml:"interval_ms"`
	MaxAttempts   int `toml:"max_attempts"`
	EscalateAfter int `toml:"escalate_after"`
}

// RetryConfig controls retries of a single remote operation.
type RetryConfig struct {
	Attempts int `toml:"attempts"`
	DelayMS  int `toml:"delay_ms"`
}

// ModelsConfig controls the voice model cache.
type ModelsConfig struct {
	DefaultSearchTerm string `toml:"default_search_term"`
	CacheTTLSeconds   int    `toml:"cache_ttl_seconds"`
	CacheMaxEntries   int    `toml:"cache_max_entries"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Provider ProviderConfig `toml:"provider"`
	Auth     AuthConfig     `toml:"auth"`
	Polling  PollingConfig  `toml:"polling"`
	Retry    RetryConfig    `toml:"retry"`
	Models   ModelsConfig   `toml:"models"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the tts-proxy.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every zero-valued setting with its default.
func (c *Config) ApplyDefaults() {
	setString(&c.NATS.RPCSubjectPrefix, defaultRPCSubjectPrefix)
	setString(&c.NATS.CredentialBucket, defaultCredentialBucket)
	setString(&c.NATS.AudioObjectStoreBucket, defaultAudioBucket)
	setString(&c.NATS.AudioReadySubject, defaultAudioReadySubject)

	setString(&c.Provider.BaseURL, defaultProviderBaseURL)
	setString(&c.Provider.CDNOrigin, defaultCDNOrigin)
	setString(&c.Provider.LegacyStorageOrigin, defaultLegacyStorageOrigin)
	setInt(&c.Provider.TimeoutSeconds, defaultTimeoutSeconds)
	setInt(&c.Provider.Burst, defaultRequestBurst)

	if c.Provider.RequestsPerSecond <= 0 {
		c.Provider.RequestsPerSecond = defaultRequestsPerSecond
	}

	setString(&c.Auth.Strategy, AuthStrategyPassword)

	setInt(&c.Polling.IntervalMS, defaultPollIntervalMS)
	setInt(&c.Polling.MaxAttempts, defaultPollMaxAttempts)
	setInt(&c.Polling.EscalateAfter, defaultPollEscalateAfter)

	setInt(&c.Retry.Attempts, defaultRetryAttempts)
	setInt(&c.Retry.DelayMS, defaultRetryDelayMS)

	setString(&c.Models.DefaultSearchTerm, defaultSearchTerm)
	setInt(&c.Models.CacheMaxEntries, defaultModelCacheEntries)
}

// Validate checks that the configuration can drive the service.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.NATS.URL) == "" {
		return ErrNATSURLEmpty
	}

	if strings.TrimSpace(c.Provider.BaseURL) == "" {
		return ErrProviderURLEmpty
	}

	switch c.Auth.Strategy {
	case AuthStrategyPassword:
	case AuthStrategyToken:
		if c.Auth.Token == "" {
			return ErrTokenEmpty
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAuthStrategy, c.Auth.Strategy)
	}

	if c.Polling.EscalateAfter < 1 {
		return fmt.Errorf("%w: got %d", ErrEscalateAfterRange, c.Polling.EscalateAfter)
	}

	return nil
}

// Timeout is the per-request HTTP timeout for the provider.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Interval is the sleep between two status queries.
func (p PollingConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// Delay is the fixed wait between two attempts.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// CacheTTL is how long a search result stays cached. Zero disables expiry.
func (m ModelsConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

func setString(field *string, fallback string) {
	if strings.TrimSpace(*field) == "" {
		*field = fallback
	}
}

func setInt(field *int, fallback int) {
	if *field <= 0 {
		*field = fallback
	}
}
