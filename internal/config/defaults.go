package config

import "time"

// Default values for configuration
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false

	DefaultProviderPollTimeout     = 10 * time.Second
	DefaultProviderRequestTimeout  = 15 * time.Second
	DefaultProviderVerifyOnStart   = true
	DefaultProviderBreakerFailures = 5

	DefaultSandboxTimeout         = 3 * time.Second
	DefaultSandboxInterruptGrace  = 500 * time.Millisecond
	DefaultSandboxMaxReplies      = 20
	DefaultSandboxMaxReplyLength  = 4096 // Telegram's maximum message length
	DefaultSandboxMaxSourceLength = 64 * 1024
	DefaultSandboxMaxConcurrent   = 8
	DefaultSandboxMaxAbandoned    = 4

	DefaultMessageStart      = "🚀 Bot online!"
	DefaultMessagePingAck    = "🏓 Pong!"
	DefaultMessagePingResult = "Round-trip: %d ms"

	DefaultLifecycleStopTimeout    = 10 * time.Second
	DefaultLifecycleConnectRetries = 1
	DefaultLifecycleConnectBackoff = 500 * time.Millisecond

	DefaultJournalEnabled   = false
	DefaultJournalPath      = "journal.db"
	DefaultJournalRetention = 7 * 24 * time.Hour
)

// DefaultTasks are the scheduler tasks used when the config file names none.
// journal_prune is switched on by defaultTasks only when the journal is.
var DefaultTasks = map[string]TaskConfig{
	"credential_check": {Enabled: true, Schedule: "0 */15 * * * *"},
	"journal_prune":    {Enabled: false, Schedule: "0 30 3 * * *"},
}

func defaultTasks(journalEnabled bool) map[string]TaskConfig {
	tasks := make(map[string]TaskConfig, len(DefaultTasks))
	for name, task := range DefaultTasks {
		tasks[name] = task
	}
	prune := tasks["journal_prune"]
	prune.Enabled = journalEnabled
	tasks["journal_prune"] = prune
	return tasks
}
