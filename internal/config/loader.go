package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/edgard/bothost/internal/errs"
)

// EnvPrefix is the prefix of environment overrides, e.g. BOTHOST_LOG_LEVEL.
const EnvPrefix = "BOTHOST"

// Load loads and validates configuration from:
//  1. Default values
//  2. the YAML file at path (optional; a missing file is not an error)
//  3. BOTHOST_* environment variables
func Load(path string) (*Config, error) {
	startTime := time.Now()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, errs.Config(fmt.Sprintf("failed to read config file %q", path), err)
		}
		slog.Info("configuration file not found, using defaults", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.Config("failed to parse config", err)
	}
	if len(cfg.Scheduler.Tasks) == 0 {
		cfg.Scheduler.Tasks = defaultTasks(cfg.Journal.Enabled)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("configuration loaded",
		"path", path,
		"log_level", cfg.Log.Level,
		"sandbox_timeout", cfg.Sandbox.Timeout,
		"journal_enabled", cfg.Journal.Enabled,
		"bots", len(cfg.Bots),
		"duration_ms", time.Since(startTime).Milliseconds())

	return cfg, nil
}

// isMissingFile covers SetConfigFile, which reports a plain fs error
// instead of ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("provider.api_url", "")
	v.SetDefault("provider.poll_timeout", DefaultProviderPollTimeout)
	v.SetDefault("provider.request_timeout", DefaultProviderRequestTimeout)
	v.SetDefault("provider.verify_on_start", DefaultProviderVerifyOnStart)
	v.SetDefault("provider.breaker_failures", DefaultProviderBreakerFailures)

	v.SetDefault("sandbox.timeout", DefaultSandboxTimeout)
	v.SetDefault("sandbox.interrupt_grace", DefaultSandboxInterruptGrace)
	v.SetDefault("sandbox.max_replies", DefaultSandboxMaxReplies)
	v.SetDefault("sandbox.max_reply_length", DefaultSandboxMaxReplyLength)
	v.SetDefault("sandbox.max_source_length", DefaultSandboxMaxSourceLength)
	v.SetDefault("sandbox.max_concurrent", DefaultSandboxMaxConcurrent)
	v.SetDefault("sandbox.max_abandoned", DefaultSandboxMaxAbandoned)

	v.SetDefault("messages.default_start", DefaultMessageStart)
	v.SetDefault("messages.ping_ack", DefaultMessagePingAck)
	v.SetDefault("messages.ping_result_fmt", DefaultMessagePingResult)

	v.SetDefault("lifecycle.stop_timeout", DefaultLifecycleStopTimeout)
	v.SetDefault("lifecycle.connect_retries", DefaultLifecycleConnectRetries)
	v.SetDefault("lifecycle.connect_backoff", DefaultLifecycleConnectBackoff)

	v.SetDefault("journal.enabled", DefaultJournalEnabled)
	v.SetDefault("journal.path", DefaultJournalPath)
	v.SetDefault("journal.retention", DefaultJournalRetention)
}

// Default returns a validated configuration built from defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	cfg.Scheduler.Tasks = defaultTasks(cfg.Journal.Enabled)
	return cfg
}
