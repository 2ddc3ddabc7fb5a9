package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "Asia/Karachi"
	configPathEnv   = "SCHOLARSNAP_CONFIG"

	recipientsEnv      = "NOTIFY_EMAIL"
	logLevelEnv        = "LOG_LEVEL"
	logFormatEnv       = "LOG_FORMAT"
	timezoneEnv        = "SCHEDULER_TIMEZONE"
	intervalMinutesEnv = "INTERVAL_MINUTES"
	cronExpressionEnv  = "SCHEDULER_CRON"
	databaseDriverEnv  = "DB_DRIVER"
	databaseDSNEnv     = "DATABASE_DSN"
	dbHostEnv          = "DB_HOST"
	dbPortEnv          = "DB_PORT"
	dbNameEnv          = "DB_NAME"
	dbUserEnv          = "DB_USER"
	dbPasswordEnv      = "DB_PASSWORD"
	redisURLEnv        = "REDIS_URL"
	brokerURLEnv       = "CELERY_BROKER_URL"
	providerEnv        = "SUMMARIZER_PROVIDER"
	openAIAPIKeyEnv    = "OPENAI_API_KEY"
	openAIModelEnv     = "OPENAI_MODEL"
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	mailTransportEnv   = "MAIL_TRANSPORT"
	mailFromEnv        = "MAIL_FROM"
	gmailCredsEnv      = "GMAIL_CREDENTIALS_FILE"
	gmailTokenEnv      = "GMAIL_TOKEN_FILE"
	smtpHostEnv        = "SMTP_HOST"
	smtpPortEnv        = "SMTP_PORT"
	smtpUsernameEnv    = "SMTP_USERNAME"
	smtpPasswordEnv    = "SMTP_PASSWORD"
	metricsAddrEnv     = "METRICS_ADDR"
	telegramTokenEnv   = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv  = "TELEGRAM_CHAT_ID"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Recipients    []string           `yaml:"recipients"`
	Database      DatabaseConfig     `yaml:"database"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Queue         QueueConfig        `yaml:"queue"`
	Source        SourceConfig       `yaml:"source"`
	Extractor     ExtractorConfig    `yaml:"extractor"`
	Summarizer    SummarizerConfig   `yaml:"summarizer"`
	Mail          MailConfig         `yaml:"mail"`
	Pipeline      PipelineConfig     `yaml:"pipeline"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the notification log connection.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslMode"`
	Table    string `yaml:"table"`
}

// ConnectionString returns DSN when set, otherwise assembles a lib/pq
// key/value string from the discrete fields.
func (d DatabaseConfig) ConnectionString() string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == DriverSQLite {
		return "scholarsnap.db"
	}

	parts := []string{}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, quoteConnValue(v)))
		}
	}
	add("host", d.Host)
	if d.Port > 0 {
		add("port", strconv.Itoa(d.Port))
	}
	add("dbname", d.Name)
	add("user", d.User)
	add("password", d.Password)
	add("sslmode", d.SSLMode)
	return strings.Join(parts, " ")
}

func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SchedulerConfig defines when the in-process trigger fires.
type SchedulerConfig struct {
	Mode           string         `yaml:"mode"`
	Interval       time.Duration  `yaml:"interval"`
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	RunOnStart     bool           `yaml:"runOnStart"`
	location       *time.Location `yaml:"-"`
}

// Scheduler modes.
const (
	ModeInterval = "interval"
	ModeCron     = "cron"
)

// Location resolves the scheduler timezone string to a time.Location.
// The same zone defines the calendar day of the dedup window.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// QueueConfig wires the Redis Streams task dispatcher.
type QueueConfig struct {
	RedisURL       string        `yaml:"redisUrl"`
	Stream         string        `yaml:"stream"`
	Group          string        `yaml:"group"`
	Consumer       string        `yaml:"consumer"`
	BeatCron       string        `yaml:"beatCron"`
	ResultTTL      time.Duration `yaml:"resultTtl"`
	ClaimIdle      time.Duration `yaml:"claimIdle"`
	Block          time.Duration `yaml:"block"`
	InitBeforeTask bool          `yaml:"initBeforeTask"`
}

// SourceConfig describes the paper catalog query.
type SourceConfig struct {
	Strategy        string        `yaml:"strategy"`
	Endpoint        string        `yaml:"endpoint"`
	ListingURL      string        `yaml:"listingUrl"`
	Category        string        `yaml:"category"`
	MaxResults      int           `yaml:"maxResults"`
	SortBy          string        `yaml:"sortBy"`
	SortOrder       string        `yaml:"sortOrder"`
	UserAgent       string        `yaml:"userAgent"`
	RequestInterval time.Duration `yaml:"requestInterval"`
}

// ExtractorConfig bounds document downloads.
type ExtractorConfig struct {
	MaxBytes int64 `yaml:"maxBytes"`
}

// SummarizerConfig defines how to contact the language model.
type SummarizerConfig struct {
	Provider      string  `yaml:"provider"`
	Endpoint      string  `yaml:"endpoint"`
	Model         string  `yaml:"model"`
	APIKey        string  `yaml:"apiKey"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"maxTokens"`
	MaxInputChars int     `yaml:"maxInputChars"`
}

// Summarizer providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
}

// MailConfig selects the outbound transport.
type MailConfig struct {
	Transport     string      `yaml:"transport"`
	From          string      `yaml:"from"`
	SubjectPrefix string      `yaml:"subjectPrefix"`
	Gmail         GmailConfig `yaml:"gmail"`
	SMTP          SMTPConfig  `yaml:"smtp"`
}

// Mail transports.
const (
	TransportGmail = "gmail"
	TransportSMTP  = "smtp"
)

// GmailConfig points at the OAuth client secrets and the refreshable token.
type GmailConfig struct {
	CredentialsFile string `yaml:"credentialsFile"`
	TokenFile       string `yaml:"tokenFile"`
	User            string `yaml:"user"`
	Endpoint        string `yaml:"endpoint"`
}

// SMTPConfig carries static SMTP credentials.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PipelineConfig tunes orchestrator policy.
type PipelineConfig struct {
	EmptyText  string         `yaml:"emptyText"`
	LogWorkers int            `yaml:"logWorkers"`
	Timeouts   TimeoutsConfig `yaml:"timeouts"`
}

// Empty-text policies.
const (
	EmptyTextAbstract = "abstract"
	EmptyTextProceed  = "proceed"
	EmptyTextFail     = "fail"
)

// TimeoutsConfig bounds each external call of a run.
type TimeoutsConfig struct {
	Fetch     time.Duration `yaml:"fetch"`
	Extract   time.Duration `yaml:"extract"`
	Summarize time.Duration `yaml:"summarize"`
	Notify    time.Duration `yaml:"notify"`
	Store     time.Duration `yaml:"store"`
}

// MetricsConfig exposes prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// NotificationConfig encapsulates operator-facing channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send run alerts.
type TelegramConfig struct {
	BotToken     string `yaml:"botToken"`
	ChatID       string `yaml:"chatId"`
	OnlyFailures bool   `yaml:"onlyFailures"`
}

// Load reads YAML configuration (if present), applies environment overrides
// and validates the result. An empty path falls back to SCHOLARSNAP_CONFIG;
// when neither is set only defaults and environment are used.
func Load(path string) (Config, error) {
	cfg, err := read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadQueue is Load for processes that only talk to the task queue (beat,
// enqueue, result). Pipeline settings such as recipients, summarizer key and
// mail credentials are not required.
func LoadQueue(path string) (Config, error) {
	cfg, err := read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ValidateQueue(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Config{}, err
	}
	cfg.Recipients = NormalizeRecipients(cfg.Recipients)

	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(recipientsEnv); v != "" {
		c.Recipients = ParseRecipients(v)
	}

	envString(logLevelEnv, &c.Logging.Level)
	envString(logFormatEnv, &c.Logging.Format)
	envString(timezoneEnv, &c.Scheduler.Timezone)
	envString(cronExpressionEnv, &c.Scheduler.CronExpression)

	if v := os.Getenv(intervalMinutesEnv); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not an integer", intervalMinutesEnv, v)
		}
		c.Scheduler.Interval = time.Duration(minutes) * time.Minute
	}

	envString(databaseDriverEnv, &c.Database.Driver)
	envString(databaseDSNEnv, &c.Database.DSN)
	envString(dbHostEnv, &c.Database.Host)
	envString(dbNameEnv, &c.Database.Name)
	envString(dbUserEnv, &c.Database.User)
	envString(dbPasswordEnv, &c.Database.Password)
	if v := os.Getenv(dbPortEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not a port", dbPortEnv, v)
		}
		c.Database.Port = port
	}

	envString(brokerURLEnv, &c.Queue.RedisURL)
	envString(redisURLEnv, &c.Queue.RedisURL)

	envString(providerEnv, &c.Summarizer.Provider)
	switch c.Summarizer.Provider {
	case ProviderAnthropic:
		envString(anthropicAPIKeyEnv, &c.Summarizer.APIKey)
	default:
		envString(openAIAPIKeyEnv, &c.Summarizer.APIKey)
		envString(openAIModelEnv, &c.Summarizer.Model)
	}

	if c.Summarizer.Model == "" {
		c.Summarizer.Model = defaultModels[c.Summarizer.Provider]
	}

	envString(mailTransportEnv, &c.Mail.Transport)
	envString(mailFromEnv, &c.Mail.From)
	envString(gmailCredsEnv, &c.Mail.Gmail.CredentialsFile)
	envString(gmailTokenEnv, &c.Mail.Gmail.TokenFile)
	envString(smtpHostEnv, &c.Mail.SMTP.Host)
	envString(smtpUsernameEnv, &c.Mail.SMTP.Username)
	envString(smtpPasswordEnv, &c.Mail.SMTP.Password)
	if v := os.Getenv(smtpPortEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not a port", smtpPortEnv, v)
		}
		c.Mail.SMTP.Port = port
	}

	envString(metricsAddrEnv, &c.Metrics.Addr)
	envString(telegramTokenEnv, &c.Notifications.Telegram.BotToken)
	envString(telegramChatIDEnv, &c.Notifications.Telegram.ChatID)
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("config: unknown timezone %q: %w", tz, err)
	}
	c.Scheduler.Timezone = tz
	c.Scheduler.location = loc
	return nil
}

// Validate reports every problem that would prevent the process from starting.
func (c Config) Validate() error {
	var errs []error

	if len(c.Recipients) == 0 {
		errs = append(errs, fmt.Errorf("recipients are required (set %s)", recipientsEnv))
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (postgres, sqlite)", c.Database.Driver))
	}
	if c.Database.Table == "" {
		errs = append(errs, errors.New("database.table is required"))
	}

	switch c.Scheduler.Mode {
	case ModeInterval:
		if c.Scheduler.Interval <= 0 {
			errs = append(errs, errors.New("scheduler.interval must be positive"))
		}
	case ModeCron:
		if _, err := cron.ParseStandard(c.Scheduler.CronExpression); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.cronExpression: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("scheduler.mode %q is not supported (interval, cron)", c.Scheduler.Mode))
	}
	if _, err := cron.ParseStandard(c.Queue.BeatCron); err != nil {
		errs = append(errs, fmt.Errorf("queue.beatCron: %w", err))
	}

	switch c.Source.Strategy {
	case "api", "listing":
	default:
		errs = append(errs, fmt.Errorf("source.strategy %q is not supported (api, listing)", c.Source.Strategy))
	}
	if c.Source.MaxResults <= 0 {
		errs = append(errs, errors.New("source.maxResults must be positive"))
	}

	switch c.Summarizer.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("summarizer.provider %q is not supported (openai, anthropic)", c.Summarizer.Provider))
	}
	if c.Summarizer.APIKey == "" {
		errs = append(errs, errors.New("summarizer.apiKey is required"))
	}
	if c.Summarizer.Model == "" {
		errs = append(errs, errors.New("summarizer.model is required"))
	}

	switch c.Mail.Transport {
	case TransportGmail:
		if c.Mail.Gmail.CredentialsFile == "" || c.Mail.Gmail.TokenFile == "" {
			errs = append(errs, errors.New("mail.gmail.credentialsFile and mail.gmail.tokenFile are required"))
		}
	case TransportSMTP:
		if c.Mail.SMTP.Host == "" {
			errs = append(errs, errors.New("mail.smtp.host is required"))
		}
		if c.Mail.From == "" {
			errs = append(errs, errors.New("mail.from is required for smtp"))
		}
	default:
		errs = append(errs, fmt.Errorf("mail.transport %q is not supported (gmail, smtp)", c.Mail.Transport))
	}

	switch c.Pipeline.EmptyText {
	case EmptyTextAbstract, EmptyTextProceed, EmptyTextFail:
	default:
		errs = append(errs, fmt.Errorf("pipeline.emptyText %q is not supported (abstract, proceed, fail)", c.Pipeline.EmptyText))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// ValidateQueue checks only the settings a queue client needs.
func (c Config) ValidateQueue() error {
	var errs []error
	if c.Queue.RedisURL == "" {
		errs = append(errs, errors.New("queue.redisUrl is required"))
	}
	if c.Queue.Stream == "" {
		errs = append(errs, errors.New("queue.stream is required"))
	}
	if _, err := cron.ParseStandard(c.Queue.BeatCron); err != nil {
		errs = append(errs, fmt.Errorf("queue.beatCron: %w", err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// ParseRecipients splits a comma-separated list into a normalized recipient list.
func ParseRecipients(raw string) []string {
	return NormalizeRecipients(strings.Split(raw, ","))
}

// NormalizeRecipients trims, lower-cases and de-duplicates addresses while
// keeping first-seen order.
func NormalizeRecipients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Default returns the built-in configuration before any file or environment
// overrides; it does not validate.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			Driver:  DriverPostgres,
			Host:    "localhost",
			Port:    5432,
			Name:    "scholarsnap",
			SSLMode: "disable",
			Table:   "logs",
		},
		Scheduler: SchedulerConfig{
			Mode:           ModeInterval,
			Interval:       5 * time.Minute,
			CronExpression: "0 * * * *",
			Timezone:       defaultTimezone,
			RunOnStart:     true,
		},
		Queue: QueueConfig{
			RedisURL:       "redis://localhost:6379/0",
			Stream:         "scholarsnap:tasks",
			Group:          "scholarsnap-workers",
			BeatCron:       "0 * * * *",
			ResultTTL:      24 * time.Hour,
			ClaimIdle:      15 * time.Minute,
			Block:          5 * time.Second,
			InitBeforeTask: true,
		},
		Source: SourceConfig{
			Strategy:        "api",
			Endpoint:        "https://export.arxiv.org/api/query",
			ListingURL:      "https://arxiv.org/list/cs/new",
			Category:        "cs.*",
			MaxResults:      1,
			SortBy:          "submittedDate",
			SortOrder:       "descending",
			UserAgent:       "ScholarSnap/1.0",
			RequestInterval: 3 * time.Second,
		},
		Extractor: ExtractorConfig{MaxBytes: 50 << 20},
		Summarizer: SummarizerConfig{
			Provider:    ProviderOpenAI,
			Temperature: 0.5,
			MaxTokens:   1024,
		},
		Mail: MailConfig{
			Transport:     TransportGmail,
			SubjectPrefix: "📚 New paper summary: ",
			Gmail: GmailConfig{
				CredentialsFile: "credentials.json",
				TokenFile:       "token.json",
				User:            "me",
			},
			SMTP: SMTPConfig{Port: 587},
		},
		Pipeline: PipelineConfig{
			EmptyText:  EmptyTextAbstract,
			LogWorkers: 4,
			Timeouts: TimeoutsConfig{
				Fetch:     60 * time.Second,
				Extract:   2 * time.Minute,
				Summarize: 3 * time.Minute,
				Notify:    time.Minute,
				Store:     10 * time.Second,
			},
		},
	}
}
