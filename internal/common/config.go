package common

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Templates TemplatesConfig
	OCR       OCRConfig
	Remote    RemoteConfig
	Pipeline  PipelineConfig
	Audit     AuditConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr          string `mapstructure:"INTAKE_ADDR"`
	MaxUploadMB   int    `mapstructure:"INTAKE_MAX_UPLOAD_MB"`
	ShutdownGrace time.Duration
}

// TemplatesConfig holds template registry configuration
type TemplatesConfig struct {
	Dir            string `mapstructure:"INTAKE_TEMPLATES_DIR"`
	DefaultVersion string `mapstructure:"INTAKE_DEFAULT_TEMPLATE"`
}

// OCRConfig holds local recognizer configuration
type OCRConfig struct {
	Tesseract   string `mapstructure:"INTAKE_TESSERACT"`
	Language    string `mapstructure:"INTAKE_TESSERACT_LANG"`
	TessdataDir string `mapstructure:"TESSDATA_PREFIX"`
	OEM         int    `mapstructure:"INTAKE_TESSERACT_OEM"`
	Parallelism int    `mapstructure:"INTAKE_OCR_PARALLELISM"`
}

// RemoteConfig holds the cloud document-analysis fallback configuration
type RemoteConfig struct {
	Enabled  bool          `mapstructure:"INTAKE_REMOTE_ENABLED"`
	Endpoint string        `mapstructure:"INTAKE_REMOTE_ENDPOINT"`
	APIKey   string        `mapstructure:"INTAKE_REMOTE_API_KEY"`
	Timeout  time.Duration `mapstructure:"INTAKE_REMOTE_TIMEOUT"`
}

// PipelineConfig holds extraction pipeline tunables
type PipelineConfig struct {
	FallbackThreshold float64 `mapstructure:"INTAKE_FALLBACK_THRESHOLD"`
}

// AuditConfig holds audit trail sink configuration
type AuditConfig struct {
	Driver string `mapstructure:"INTAKE_AUDIT_DRIVER"` // sqlite | postgres | log
	DSN    string `mapstructure:"INTAKE_AUDIT_DSN"`
}

// LoadConfig reads configuration from .env (if present) and the environment.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("INTAKE_ADDR", ":8085")
	v.SetDefault("INTAKE_MAX_UPLOAD_MB", 10)
	v.SetDefault("INTAKE_TEMPLATES_DIR", "./templates")
	v.SetDefault("INTAKE_DEFAULT_TEMPLATE", "1.0")
	v.SetDefault("INTAKE_TESSERACT", "tesseract")
	v.SetDefault("INTAKE_TESSERACT_LANG", "eng")
	v.SetDefault("INTAKE_OCR_PARALLELISM", 4)
	v.SetDefault("INTAKE_REMOTE_ENABLED", false)
	v.SetDefault("INTAKE_REMOTE_TIMEOUT", "15s")
	v.SetDefault("INTAKE_FALLBACK_THRESHOLD", 60.0)
	v.SetDefault("INTAKE_AUDIT_DRIVER", "sqlite")
	v.SetDefault("INTAKE_AUDIT_DSN", "./intake_audit.db")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"INTAKE_ADDR",
		"INTAKE_MAX_UPLOAD_MB",
		"INTAKE_TEMPLATES_DIR",
		"INTAKE_DEFAULT_TEMPLATE",
		"INTAKE_TESSERACT",
		"INTAKE_TESSERACT_LANG",
		"TESSDATA_PREFIX",
		"INTAKE_TESSERACT_OEM",
		"INTAKE_OCR_PARALLELISM",
		"INTAKE_REMOTE_ENABLED",
		"INTAKE_REMOTE_ENDPOINT",
		"INTAKE_REMOTE_API_KEY",
		"INTAKE_REMOTE_TIMEOUT",
		"INTAKE_FALLBACK_THRESHOLD",
		"INTAKE_AUDIT_DRIVER",
		"INTAKE_AUDIT_DSN",
	} {
		_ = v.BindEnv(key)
	}

	// Missing .env is fine; the environment still applies.
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Addr:          v.GetString("INTAKE_ADDR"),
			MaxUploadMB:   v.GetInt("INTAKE_MAX_UPLOAD_MB"),
			ShutdownGrace: 10 * time.Second,
		},
		Templates: TemplatesConfig{
			Dir:            v.GetString("INTAKE_TEMPLATES_DIR"),
			DefaultVersion: v.GetString("INTAKE_DEFAULT_TEMPLATE"),
		},
		OCR: OCRConfig{
			Tesseract:   v.GetString("INTAKE_TESSERACT"),
			Language:    v.GetString("INTAKE_TESSERACT_LANG"),
			TessdataDir: v.GetString("TESSDATA_PREFIX"),
			OEM:         v.GetInt("INTAKE_TESSERACT_OEM"),
			Parallelism: v.GetInt("INTAKE_OCR_PARALLELISM"),
		},
		Remote: RemoteConfig{
			Enabled:  v.GetBool("INTAKE_REMOTE_ENABLED"),
			Endpoint: v.GetString("INTAKE_REMOTE_ENDPOINT"),
			APIKey:   v.GetString("INTAKE_REMOTE_API_KEY"),
			Timeout:  v.GetDuration("INTAKE_REMOTE_TIMEOUT"),
		},
		Pipeline: PipelineConfig{
			FallbackThreshold: v.GetFloat64("INTAKE_FALLBACK_THRESHOLD"),
		},
		Audit: AuditConfig{
			Driver: v.GetString("INTAKE_AUDIT_DRIVER"),
			DSN:    v.GetString("INTAKE_AUDIT_DSN"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "INTAKE_ADDR is required", ErrInvalidInput)
	}
	if c.Server.MaxUploadMB <= 0 {
		return NewAppError("CONFIG_ERROR", "INTAKE_MAX_UPLOAD_MB must be positive", ErrInvalidInput)
	}
	if c.Templates.Dir == "" {
		return NewAppError("CONFIG_ERROR", "INTAKE_TEMPLATES_DIR is required", ErrInvalidInput)
	}
	if c.Pipeline.FallbackThreshold < 0 || c.Pipeline.FallbackThreshold > 100 {
		return NewAppError("CONFIG_ERROR", "INTAKE_FALLBACK_THRESHOLD must be within 0..100", ErrInvalidInput)
	}
	if c.Remote.Enabled && c.Remote.Endpoint == "" {
		return NewAppError("CONFIG_ERROR", "INTAKE_REMOTE_ENDPOINT is required when the remote fallback is enabled", ErrInvalidInput)
	}
	switch c.Audit.Driver {
	case "sqlite", "postgres", "log":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown audit driver %q", c.Audit.Driver), ErrInvalidInput)
	}
	if (c.Audit.Driver == "sqlite" || c.Audit.Driver == "postgres") && c.Audit.DSN == "" {
		return NewAppError("CONFIG_ERROR", "INTAKE_AUDIT_DSN is required for database audit drivers", ErrInvalidInput)
	}
	return nil
}
