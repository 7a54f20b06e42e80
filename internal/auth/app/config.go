package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/service"
	"github.com/spf13/viper"
)

// Config is loaded from the environment, with an optional .env file in the
// working directory. Environment variables win over .env.
type Config struct {
	Env                  string        `mapstructure:"ENV"`                   // dev, staging, production (default: dev)
	LogLevel             string        `mapstructure:"LOG_LEVEL"`             // debug, info, warn, error (default: info)
	LogFormat            string        `mapstructure:"LOG_FORMAT"`            // json, text (default: json)
	Port                 int           `mapstructure:"PORT"`                  // default: 8080
	ShutdownGracePeriod  time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"` // default: 10s
	HousekeepingInterval time.Duration `mapstructure:"HOUSEKEEPING_INTERVAL"` // memory driver sweep (default: 1m)

	Issuer      string        `mapstructure:"AUTH_ISSUER"`       // default: farmgate-auth
	TokenSecret string        `mapstructure:"AUTH_TOKEN_SECRET"` // HS256 key, at least 32 bytes. Generated per process outside production when empty.
	AccessTTL   time.Duration `mapstructure:"AUTH_ACCESS_TTL"`   // default: 15m
	RefreshTTL  time.Duration `mapstructure:"AUTH_REFRESH_TTL"`  // default: 168h
	OTPTTL      time.Duration `mapstructure:"AUTH_OTP_TTL"`      // 5m to 10m (default: 5m)
	PendingTTL  time.Duration `mapstructure:"AUTH_PENDING_TTL"`  // default: 5m

	// ExposeOTP echoes the one-time code in the login-start response. Local
	// development only.
	ExposeOTP bool `mapstructure:"AUTH_EXPOSE_OTP"`
	// FixedOTP replaces generated codes with a constant. Tests only.
	FixedOTP string `mapstructure:"AUTH_FIXED_OTP"`

	DatabaseFile string `mapstructure:"AUTH_DATABASE_FILE"` // default: auth.db
	PepperFile   string `mapstructure:"AUTH_PEPPER_FILE"`   // default: pepper

	EphemeralDriver string `mapstructure:"AUTH_EPHEMERAL_DRIVER"` // memory, redis (default: memory)
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisDB         int    `mapstructure:"REDIS_DB"`

	AdminIdentifier  string `mapstructure:"ADMIN_IDENTIFIER"`
	AdminPassword    string `mapstructure:"ADMIN_PASSWORD"`
	AdminDisplayName string `mapstructure:"ADMIN_DISPLAY_NAME"`

	Notifier           string `mapstructure:"NOTIFIER"` // log, webhook (default: log)
	NotifierWebhookURL string `mapstructure:"NOTIFIER_WEBHOOK_URL"`
	NotifierAPIKey     string `mapstructure:"NOTIFIER_API_KEY"`
}

const minSecretLen = 32

var defaults = map[string]any{
	"ENV":                   "dev",
	"LOG_LEVEL":             "info",
	"LOG_FORMAT":            "json",
	"PORT":                  8080,
	"SHUTDOWN_GRACE_PERIOD": "10s",
	"HOUSEKEEPING_INTERVAL": "1m",
	"AUTH_ISSUER":           "farmgate-auth",
	"AUTH_TOKEN_SECRET":     "",
	"AUTH_ACCESS_TTL":       "15m",
	"AUTH_REFRESH_TTL":      "168h",
	"AUTH_OTP_TTL":          service.DefaultOTPTTL.String(),
	"AUTH_PENDING_TTL":      service.DefaultPendingTTL.String(),
	"AUTH_EXPOSE_OTP":       false,
	"AUTH_FIXED_OTP":        "",
	"AUTH_DATABASE_FILE":    "auth.db",
	"AUTH_PEPPER_FILE":      "pepper",
	"AUTH_EPHEMERAL_DRIVER": "memory",
	"REDIS_ADDR":            "localhost:6379",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"ADMIN_IDENTIFIER":      "",
	"ADMIN_PASSWORD":        "",
	"ADMIN_DISPLAY_NAME":    "",
	"NOTIFIER":              "log",
	"NOTIFIER_WEBHOOK_URL":  "",
	"NOTIFIER_API_KEY":      "",
}

// LoadConfig reads .env (if present) and the environment, then validates.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether Env names a production deployment.
func (c Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func (c Config) Validate() error {
	var errs []error

	if (c.TokenSecret != "" || c.IsProduction()) && len(c.TokenSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("config: AUTH_TOKEN_SECRET must be at least %d bytes", minSecretLen))
	}
	if c.OTPTTL < service.MinOTPTTL || c.OTPTTL > service.MaxOTPTTL {
		errs = append(errs, fmt.Errorf("config: AUTH_OTP_TTL must be between %s and %s", service.MinOTPTTL, service.MaxOTPTTL))
	}
	if c.PendingTTL <= 0 {
		errs = append(errs, errors.New("config: AUTH_PENDING_TTL must be positive"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("config: PORT is out of range"))
	}

	switch c.EphemeralDriver {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("config: REDIS_ADDR must be set when AUTH_EPHEMERAL_DRIVER=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown AUTH_EPHEMERAL_DRIVER %q", c.EphemeralDriver))
	}

	switch c.Notifier {
	case "log":
	case "webhook":
		if c.NotifierWebhookURL == "" {
			errs = append(errs, errors.New("config: NOTIFIER_WEBHOOK_URL must be set when NOTIFIER=webhook"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown NOTIFIER %q", c.Notifier))
	}

	if c.IsProduction() {
		if c.ExposeOTP {
			errs = append(errs, errors.New("config: AUTH_EXPOSE_OTP must not be set in production"))
		}
		if c.FixedOTP != "" {
			errs = append(errs, errors.New("config: AUTH_FIXED_OTP must not be set in production"))
		}
		if c.Notifier == "log" {
			errs = append(errs, errors.New("config: NOTIFIER=log cannot deliver codes in production"))
		}
	}

	return errors.Join(errs...)
}
