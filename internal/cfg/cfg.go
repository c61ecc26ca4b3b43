package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Mailbox store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string
	ClaudeAPIKey          string
	ClaudeModel           string
	ClaudeBaseURL         string
	MailStore             string
	DatabaseURL           string
	SQLitePath            string
	SlowQueryMillis       int
	MailboxOwner          string
	SeedMailbox           bool
	PromptsFile           string
	SlackWebhookURL       string
	StageTimeoutSeconds   int
	RequireReport         bool
	MaxToolRounds         int
	MaxTokens             int
	MaxConcurrentJobs     int
	JobTTLMinutes         int
	ToolLogLevel          string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma separated bearer tokens accepted by the API (empty = no auth)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.ClaudeBaseURL, "claude-base-url", "", "override the Anthropic API base URL")
	fs.StringVar(&c.MailStore, "mail-store", StoreMemory, "mailbox backend: memory, sqlite or postgres")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the postgres mailbox backend")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "data/courier.db", "database file for the sqlite mailbox backend")
	fs.IntVar(&c.SlowQueryMillis, "slow-query-ms", 0, "only log successful postgres queries slower than this (0 = log all)")
	fs.StringVar(&c.MailboxOwner, "mailbox-owner", "user@example.com", "address of the mailbox owner; mail from it is filed as sent")
	fs.BoolVar(&c.SeedMailbox, "seed-mailbox", false, "fill an empty mailbox with sample emails at startup")
	fs.StringVar(&c.PromptsFile, "prompts-file", "", "YAML file overriding the built-in stage prompts")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.IntVar(&c.StageTimeoutSeconds, "stage-timeout-seconds", 300, "timeout for each triage stage (0 = none)")
	fs.BoolVar(&c.RequireReport, "require-report", false, "fail jobs whose classification skipped the review report")
	fs.IntVar(&c.MaxToolRounds, "max-tool-rounds", 15, "tool calls allowed per stage invocation")
	fs.IntVar(&c.MaxTokens, "max-tokens", 50000, "tokens allowed per stage invocation")
	fs.IntVar(&c.MaxConcurrentJobs, "max-concurrent-jobs", 4, "triage jobs running at once (0 = unbounded)")
	fs.IntVar(&c.JobTTLMinutes, "job-ttl-minutes", 60, "minutes finished jobs stay queryable (0 = forever)")
	fs.StringVar(&c.ToolLogLevel, "tool-log-level", "info", "tool call logging: info logs failures, debug logs every call")
}

// Tokens returns the configured API tokens.
func (c *Config) Tokens() []string {
	var out []string
	for _, t := range strings.Split(c.APITokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// StageTimeout returns the per-stage timeout.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// JobTTL returns how long finished jobs are kept.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(c.JobTTLMinutes) * time.Minute
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	switch c.MailStore {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite mail store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres mail store"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid MAIL_STORE %q (must be memory, sqlite or postgres)", c.MailStore))
	}

	if c.SlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid SLOW_QUERY_MS %d (must be >= 0)", c.SlowQueryMillis))
	}
	if c.StageTimeoutSeconds < 0 || c.StageTimeoutSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid STAGE_TIMEOUT_SECONDS %d (must be 0..3600)", c.StageTimeoutSeconds))
	}
	if c.MaxToolRounds <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_TOOL_ROUNDS %d (must be > 0)", c.MaxToolRounds))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_TOKENS %d (must be > 0)", c.MaxTokens))
	}
	if c.MaxConcurrentJobs < 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENT_JOBS %d (must be >= 0)", c.MaxConcurrentJobs))
	}
	if c.JobTTLMinutes < 0 {
		errs = append(errs, fmt.Errorf("invalid JOB_TTL_MINUTES %d (must be >= 0)", c.JobTTLMinutes))
	}
	if c.ToolLogLevel != "info" && c.ToolLogLevel != "debug" {
		errs = append(errs, fmt.Errorf("invalid TOOL_LOG_LEVEL %q (must be info or debug)", c.ToolLogLevel))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
