package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrMissingEnv is returned when a required variable is unset.
var ErrMissingEnv = errors.New("missing required environment variables")

// Config aggregates every setting of the service.
type Config struct {
	Server   ServerConfig
	Telegram TelegramConfig
	Mail     MailConfig
	Storage  StorageConfig
	Session  SessionConfig
}

// ServerConfig describes the HTTP listener used for webhooks and health checks.
type ServerConfig struct {
	Port             string `env:"PORT" envDefault:"8080"`
	WebSocketEnabled bool   `env:"WS_ENABLED" envDefault:"false"`
	Addr             string
}

// TelegramConfig describes the bot credentials and delivery mode.
type TelegramConfig struct {
	Token       string `env:"BOT_TOKEN"`
	WebhookURL  string `env:"WEBHOOK_URL"`
	PollTimeout int    `env:"TELEGRAM_POLL_TIMEOUT" envDefault:"60"`
	Debug       bool   `env:"TELEGRAM_DEBUG" envDefault:"false"`
}

// MailConfig describes the outbound SMTP account and the fixed recipient.
type MailConfig struct {
	Host     string        `env:"SMTP_HOST" envDefault:"smtp.mail.ru"`
	Port     int           `env:"SMTP_PORT" envDefault:"587"`
	Sender   string        `env:"EMAIL_SENDER"`
	Password string        `env:"EMAIL_PASSWORD"`
	Receiver string        `env:"EMAIL_RECEIVER"`
	Timeout  time.Duration `env:"SMTP_TIMEOUT" envDefault:"30s"`
}

// StorageConfig locates attachment payloads on disk.
type StorageConfig struct {
	Dir string `env:"ATTACHMENT_DIR" envDefault:"photos"`
}

// SessionConfig controls the idle-session sweep. A zero TTL disables it.
type SessionConfig struct {
	IdleTTL       time.Duration `env:"SESSION_IDLE_TTL" envDefault:"24h"`
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"10m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := listenAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WebhookEnabled reports whether updates are pushed by Telegram.
func (c TelegramConfig) WebhookEnabled() bool {
	return c.WebhookURL != ""
}

// WebhookPath is the route Telegram posts updates to.
func (c TelegramConfig) WebhookPath() string {
	return "/" + c.Token
}

func (c *Config) validate() error {
	var missing []string
	for name, value := range map[string]string{
		"BOT_TOKEN":      c.Telegram.Token,
		"EMAIL_SENDER":   c.Mail.Sender,
		"EMAIL_PASSWORD": c.Mail.Password,
		"EMAIL_RECEIVER": c.Mail.Receiver,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return nil
}

// listenAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func listenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}
