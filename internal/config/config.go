package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queue backends.
const (
	QueueMemory   = "memory"
	QueueAMQP     = "amqp"
	QueuePostgres = "postgres"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	MLLPAddr    string   `mapstructure:"MLLP_ADDR"`
	HL7MaxBody  string   `mapstructure:"HL7_MAX_BODY"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	QueueBackend string `mapstructure:"QUEUE_BACKEND"`
	QueueURL     string `mapstructure:"QUEUE_URL"`
	QueueName    string `mapstructure:"QUEUE_NAME"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`

	ManagementInterfaceBaseURL string        `mapstructure:"MANAGEMENT_INTERFACE_BASE_URL"`
	ManagementInterfaceTimeout time.Duration `mapstructure:"MANAGEMENT_INTERFACE_TIMEOUT"`
	ManagementInterfaceRetries int           `mapstructure:"MANAGEMENT_INTERFACE_RETRIES"`
	AttachCareProvider         bool          `mapstructure:"ATTACH_CARE_PROVIDER"`
	RedisURL                   string        `mapstructure:"REDIS_URL"`
	CareProviderCacheTTL       time.Duration `mapstructure:"CARE_PROVIDER_CACHE_TTL"`

	NotifyAPIKey  string `mapstructure:"NOTIFY_API_KEY"`
	NotifyBaseURL string `mapstructure:"NOTIFY_BASE_URL"`

	PDSEnabled    bool   `mapstructure:"PDS_ENABLED"`
	PDSBaseURL    string `mapstructure:"PDS_BASE_URL"`
	PDSTokenURL   string `mapstructure:"PDS_TOKEN_URL"`
	PDSClientID   string `mapstructure:"PDS_CLIENT_ID"`
	PDSPrivateKey string `mapstructure:"PDS_PRIVATE_KEY"`
	PDSKeyID      string `mapstructure:"PDS_KEY_ID"`

	SiteConfigFile string `mapstructure:"SITE_CONFIG_FILE"`
}

var keys = []string{
	"PORT", "ENV", "MLLP_ADDR", "HL7_MAX_BODY", "CORS_ORIGINS",
	"QUEUE_BACKEND", "QUEUE_URL", "QUEUE_NAME", "DATABASE_URL",
	"MANAGEMENT_INTERFACE_BASE_URL", "MANAGEMENT_INTERFACE_TIMEOUT", "MANAGEMENT_INTERFACE_RETRIES",
	"ATTACH_CARE_PROVIDER", "REDIS_URL", "CARE_PROVIDER_CACHE_TTL",
	"NOTIFY_API_KEY", "NOTIFY_BASE_URL",
	"PDS_ENABLED", "PDS_BASE_URL", "PDS_TOKEN_URL", "PDS_CLIENT_ID", "PDS_PRIVATE_KEY", "PDS_KEY_ID",
	"SITE_CONFIG_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("HL7_MAX_BODY", "1M")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("QUEUE_BACKEND", QueueMemory)
	v.SetDefault("QUEUE_NAME", "hans-bundles")
	v.SetDefault("MANAGEMENT_INTERFACE_BASE_URL", "http://localhost:8000")
	v.SetDefault("MANAGEMENT_INTERFACE_TIMEOUT", "5s")
	v.SetDefault("MANAGEMENT_INTERFACE_RETRIES", 5)
	v.SetDefault("CARE_PROVIDER_CACHE_TTL", "10m")
	v.SetDefault("NOTIFY_BASE_URL", "https://api.notifications.service.gov.uk")
	v.SetDefault("PDS_BASE_URL", "https://int.api.service.nhs.uk")
	v.SetDefault("PDS_TOKEN_URL", "https://int.api.service.nhs.uk/oauth2/token")
	v.SetDefault("PDS_KEY_ID", "int-1")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	switch c.QueueBackend {
	case QueueMemory:
		if !c.IsDev() {
			return fmt.Errorf("QUEUE_BACKEND %q loses accepted bundles on restart; set %q or %q when ENV is %q", QueueMemory, QueueAMQP, QueuePostgres, c.Env)
		}
	case QueueAMQP:
		if c.QueueURL == "" {
			return fmt.Errorf("QUEUE_URL is required when QUEUE_BACKEND is %q", QueueAMQP)
		}
	case QueuePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when QUEUE_BACKEND is %q", QueuePostgres)
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be %q, %q or %q, got %q", QueueMemory, QueueAMQP, QueuePostgres, c.QueueBackend)
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME must not be empty")
	}
	if c.ManagementInterfaceRetries < 1 {
		return fmt.Errorf("MANAGEMENT_INTERFACE_RETRIES must be at least 1, got %d", c.ManagementInterfaceRetries)
	}

	if c.PDSEnabled {
		if c.PDSClientID == "" {
			return fmt.Errorf("PDS_CLIENT_ID is required when PDS_ENABLED is true")
		}
		if c.PDSPrivateKey == "" {
			return fmt.Errorf("PDS_PRIVATE_KEY is required when PDS_ENABLED is true")
		}
	}

	return nil
}

// ValidateNotifier checks the extra settings the notify worker needs.
func (c *Config) ValidateNotifier() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.NotifyAPIKey == "" {
		return fmt.Errorf("NOTIFY_API_KEY is required for the notify worker")
	}
	if c.QueueBackend == QueueMemory {
		return fmt.Errorf("the notify worker needs a shared queue; QUEUE_BACKEND %q is process local", QueueMemory)
	}
	return nil
}
