// Package config provides environment-variable-first configuration loading
// with optional YAML file and .env fallbacks for the relay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSubjectLabel prefixes the notice derived from a mail subject.
	DefaultSubjectLabel = "🍻 Birrificio: "
	// DefaultPDFLabel prefixes the dated notice sent with the PDF.
	DefaultPDFLabel = "🏪 Iperal: Menu settimana del "

	defaultIMAPPort    = 993
	defaultMailbox     = "INBOX"
	defaultTelegramAPI = "https://api.telegram.org"
)

// Flow identifies which relay path a configuration is validated for.
type Flow string

const (
	FlowMail Flow = "mail"
	FlowPDF  Flow = "pdf"
)

// Config holds the complete application configuration. It is loaded once at
// startup and treated as read-only afterwards.
type Config struct {
	Channel  string         `yaml:"channel"`
	IMAP     IMAPConfig     `yaml:"imap"`
	Telegram TelegramConfig `yaml:"telegram"`
	SES      SESConfig      `yaml:"ses"`
	PDF      PDFConfig      `yaml:"pdf"`
	Labels   LabelsConfig   `yaml:"labels"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// IMAPConfig holds the mailbox connection and filter settings.
type IMAPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	Mailbox            string `yaml:"mailbox"`
	Sender             string `yaml:"sender"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Addr returns the host:port pair to dial.
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
	APIURL    string `yaml:"api_url"`
}

// SESConfig holds AWS SES settings for the email channel.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
	Recipient       string `yaml:"recipient"`
}

// PDFConfig holds the source of the scheduled PDF.
type PDFConfig struct {
	URL string `yaml:"url"`
}

// LabelsConfig holds the fixed prefixes of outgoing text notices.
type LabelsConfig struct {
	Subject string `yaml:"subject"`
	PDF     string `yaml:"pdf"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadEnvFile loads variables from a .env file into the process environment.
// Variables that are already set are left alone. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that every field the given flow needs is present, including
// the settings of the selected channel.
func (c *Config) Validate(flow Flow) error {
	var missing []string

	switch flow {
	case FlowMail:
		if c.IMAP.Host == "" {
			missing = append(missing, "IMAP_SERVER")
		}
		if c.IMAP.Username == "" {
			missing = append(missing, "EMAIL_ACCOUNT")
		}
		if c.IMAP.Password == "" {
			missing = append(missing, "PASSWORD")
		}
		if c.IMAP.Sender == "" {
			missing = append(missing, "SENDER_TO_MONITOR")
		}
	case FlowPDF:
		if c.PDF.URL == "" {
			missing = append(missing, "IPERAL_PDF_LINK")
		}
	default:
		return fmt.Errorf("unknown flow %q", flow)
	}

	switch c.Channel {
	case "telegram":
		if c.Telegram.BotToken == "" {
			missing = append(missing, "TELEGRAM_BOT_TOKEN")
		}
		if c.Telegram.ChannelID == "" {
			missing = append(missing, "TELEGRAM_CHANNEL_ID")
		}
	case "ses":
		if c.SES.Region == "" {
			missing = append(missing, "SES_REGION")
		}
		if c.SES.Sender == "" {
			missing = append(missing, "SES_SENDER")
		}
		if c.SES.Recipient == "" {
			missing = append(missing, "SES_RECIPIENT")
		}
	case "stdout":
	default:
		return fmt.Errorf("unknown channel %q", c.Channel)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Channel = "telegram"
	c.IMAP.Port = defaultIMAPPort
	c.IMAP.Mailbox = defaultMailbox
	c.Telegram.APIURL = defaultTelegramAPI
	c.Labels.Subject = DefaultSubjectLabel
	c.Labels.PDF = DefaultPDFLabel
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("CHANNEL"); v != "" {
		c.Channel = strings.ToLower(v)
	}

	if v := os.Getenv("IMAP_SERVER"); v != "" {
		c.IMAP.Host = v
	}
	if v := os.Getenv("IMAP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid IMAP_PORT %q: %w", v, err)
		}
		c.IMAP.Port = port
	}
	if v := os.Getenv("IMAP_MAILBOX"); v != "" {
		c.IMAP.Mailbox = v
	}
	if v := os.Getenv("IMAP_CA_FILE"); v != "" {
		c.IMAP.CAFile = v
	}
	if v := os.Getenv("IMAP_INSECURE_SKIP_VERIFY"); v != "" {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid IMAP_INSECURE_SKIP_VERIFY %q: %w", v, err)
		}
		c.IMAP.InsecureSkipVerify = skip
	}
	if v := os.Getenv("EMAIL_ACCOUNT"); v != "" {
		c.IMAP.Username = v
	}
	if v := os.Getenv("PASSWORD"); v != "" {
		c.IMAP.Password = v
	}
	if v := os.Getenv("SENDER_TO_MONITOR"); v != "" {
		c.IMAP.Sender = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHANNEL_ID"); v != "" {
		c.Telegram.ChannelID = v
	}
	if v := os.Getenv("TELEGRAM_API_URL"); v != "" {
		c.Telegram.APIURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}
	if v := os.Getenv("SES_RECIPIENT"); v != "" {
		c.SES.Recipient = v
	}

	if v := os.Getenv("IPERAL_PDF_LINK"); v != "" {
		c.PDF.URL = v
	}

	if v := os.Getenv("SUBJECT_LABEL"); v != "" {
		c.Labels.Subject = v
	}
	if v := os.Getenv("PDF_LABEL"); v != "" {
		c.Labels.PDF = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}

	return nil
}
