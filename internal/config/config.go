package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const minSecretLength = 32

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	AppOrigin   string
	LogLevel    string

	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	OtpLength         int
	OtpExpiry         time.Duration
	OtpMaxAttempts    int
	OtpResendCooldown time.Duration

	SMSProvider string // "console" or "twilio"
	TwilioSID   string
	TwilioToken string
	TwilioFrom  string

	OtpRateLimitMax    int
	OtpRateLimitWindow time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		AppOrigin: getEnv("APP_ORIGIN", "http://localhost:3000"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	cfg.JWTAccessSecret = os.Getenv("JWT_ACCESS_SECRET")
	if len(cfg.JWTAccessSecret) < minSecretLength {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET must be at least %d characters", minSecretLength)
	}

	cfg.JWTRefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	if len(cfg.JWTRefreshSecret) < minSecretLength {
		return nil, fmt.Errorf("JWT_REFRESH_SECRET must be at least %d characters", minSecretLength)
	}

	// Distinct signing keys: an access-key compromise must not forge refresh tokens.
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	var err error
	if cfg.AccessTokenTTL, err = getEnvDuration("JWT_ACCESS_EXPIRY", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = getEnvDuration("JWT_REFRESH_EXPIRY", 30*24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.OtpLength, err = getEnvInt("OTP_LENGTH", 6); err != nil {
		return nil, err
	}
	expiryMinutes, err := getEnvInt("OTP_EXPIRY_MINUTES", 5)
	if err != nil {
		return nil, err
	}
	cfg.OtpExpiry = time.Duration(expiryMinutes) * time.Minute
	if cfg.OtpMaxAttempts, err = getEnvInt("OTP_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	cooldownSeconds, err := getEnvInt("OTP_RESEND_COOLDOWN_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	cfg.OtpResendCooldown = time.Duration(cooldownSeconds) * time.Second

	cfg.SMSProvider = getEnv("SMS_PROVIDER", "console")
	cfg.TwilioSID = os.Getenv("TWILIO_SID")
	cfg.TwilioToken = os.Getenv("TWILIO_TOKEN")
	cfg.TwilioFrom = os.Getenv("TWILIO_FROM")

	switch cfg.SMSProvider {
	case "console":
	case "twilio":
		if cfg.TwilioSID == "" || cfg.TwilioToken == "" || cfg.TwilioFrom == "" {
			return nil, fmt.Errorf("SMS_PROVIDER=twilio requires TWILIO_SID, TWILIO_TOKEN and TWILIO_FROM")
		}
	default:
		return nil, fmt.Errorf("SMS_PROVIDER must be \"console\" or \"twilio\", got %q", cfg.SMSProvider)
	}

	if cfg.OtpRateLimitMax, err = getEnvInt("OTP_RATE_LIMIT_MAX", 5); err != nil {
		return nil, err
	}
	if cfg.OtpRateLimitWindow, err = getEnvDuration("OTP_RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 15m or 720h: %w", key, err)
	}
	return d, nil
}
