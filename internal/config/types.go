// Package config manages application configuration from environment variables,
// config files, and default values.
package config

import "time"

// Config is the root configuration for the bot host.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Messages  MessagesConfig  `mapstructure:"messages"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Bots      []BotConfig     `mapstructure:"bots"      validate:"dive"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ProviderConfig contains messaging provider settings.
type ProviderConfig struct {
	// APIURL overrides the provider endpoint; empty uses the library default.
	APIURL         string        `mapstructure:"api_url"         validate:"omitempty,url"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"    validate:"min=1s,max=5m"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=1s,max=5m"`
	VerifyOnStart  bool          `mapstructure:"verify_on_start"`
	// BreakerFailures is the number of consecutive provider outages that
	// open the circuit breaker.
	BreakerFailures int `mapstructure:"breaker_failures" validate:"min=1,max=100"`
}

// SandboxConfig bounds handler execution.
type SandboxConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"           validate:"min=10ms,max=1m"`
	InterruptGrace  time.Duration `mapstructure:"interrupt_grace"   validate:"min=0,max=10s"`
	MaxReplies      int           `mapstructure:"max_replies"       validate:"min=1,max=1000"`
	MaxReplyLength  int           `mapstructure:"max_reply_length"  validate:"min=1,max=65536"`
	MaxSourceLength int           `mapstructure:"max_source_length" validate:"min=1,max=1048576"`
	MaxConcurrent   int64         `mapstructure:"max_concurrent"    validate:"min=1,max=1024"`
	// MaxAbandoned caps runtimes that ignored interruption and are still
	// running; new script runs are refused while it is reached.
	MaxAbandoned int `mapstructure:"max_abandoned" validate:"min=1,max=1024"`
}

// MessagesConfig holds the built-in reply texts.
type MessagesConfig struct {
	DefaultStart string `mapstructure:"default_start" validate:"required"`
	PingAck      string `mapstructure:"ping_ack"      validate:"required"`
	// PingResultFmt receives the round-trip time in milliseconds.
	PingResultFmt string `mapstructure:"ping_result_fmt" validate:"required"`
}

// LifecycleConfig contains session lifecycle settings.
type LifecycleConfig struct {
	StopTimeout    time.Duration `mapstructure:"stop_timeout"    validate:"min=100ms,max=5m"`
	ConnectRetries int           `mapstructure:"connect_retries" validate:"min=0,max=10"`
	ConnectBackoff time.Duration `mapstructure:"connect_backoff" validate:"min=0,max=1m"`
}

// JournalConfig contains event journal settings.
type JournalConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"      validate:"required_if=Enabled true"`
	Retention time.Duration `mapstructure:"retention" validate:"min=1m"`
}

// SchedulerConfig holds settings for the task scheduler.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig defines the configuration for a single scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// BotConfig declares a bot registered at boot.
type BotConfig struct {
	Name      string            `mapstructure:"name"      validate:"required,max=64"`
	Token     string            `mapstructure:"token"     validate:"required"`
	Autostart bool              `mapstructure:"autostart"`
	Commands  map[string]string `mapstructure:"commands"`
}
