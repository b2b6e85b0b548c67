package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Mailbox   MailboxConfig   `yaml:"mailbox" mapstructure:"mailbox"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Collector CollectorConfig `yaml:"collector" mapstructure:"collector"`
	Alerts    AlertsConfig    `yaml:"alerts" mapstructure:"alerts"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MailboxConfig holds IMAP credentials and the monitored forwarder list.
type MailboxConfig struct {
	IMAPServer  string   `yaml:"imap_server" mapstructure:"imap_server"`
	IMAPPort    int      `yaml:"imap_port" mapstructure:"imap_port"`
	Username    string   `yaml:"username" mapstructure:"username"`
	Password    string   `yaml:"password" mapstructure:"password"`
	Forwarders  []string `yaml:"forwarders" mapstructure:"forwarders"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	Model          string `yaml:"model" mapstructure:"model"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	ClassifyTokens int64  `yaml:"classify_tokens" mapstructure:"classify_tokens"`
	ExtractTokens  int64  `yaml:"extract_tokens" mapstructure:"extract_tokens"`
}

// CollectorConfig configures the collection run.
type CollectorConfig struct {
	AttachmentsDir string `yaml:"attachments_dir" mapstructure:"attachments_dir"`
	BodyCharLimit  int    `yaml:"body_char_limit" mapstructure:"body_char_limit"`
}

// AlertsConfig configures the escalation mailer.
type AlertsConfig struct {
	SMTPServer string   `yaml:"smtp_server" mapstructure:"smtp_server"`
	SMTPPort   int      `yaml:"smtp_port" mapstructure:"smtp_port"`
	GPEmails   []string `yaml:"gp_emails" mapstructure:"gp_emails"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	// Optional .env for local development, same convention as the dashboard.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TWEENER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tracker.db")
	v.SetDefault("mailbox.imap_server", "imap.gmail.com")
	v.SetDefault("mailbox.imap_port", 993)
	v.SetDefault("mailbox.timeout_secs", 30)
	// Credential keys need a default registered or viper never consults the
	// TWEENER_* environment for them during Unmarshal.
	v.SetDefault("mailbox.username", "")
	v.SetDefault("mailbox.password", "")
	v.SetDefault("mailbox.forwarders", []string{})
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_retries", 2)
	v.SetDefault("anthropic.classify_tokens", 1024)
	v.SetDefault("anthropic.extract_tokens", 2048)
	v.SetDefault("collector.attachments_dir", "attachments")
	v.SetDefault("collector.body_char_limit", 8000)
	v.SetDefault("alerts.smtp_server", "smtp.gmail.com")
	v.SetDefault("alerts.smtp_port", 587)
	v.SetDefault("alerts.gp_emails", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
