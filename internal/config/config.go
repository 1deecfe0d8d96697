package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// All values come from env, optionally seeded from a .env file (ENV_FILE or ./.env).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Calls    CallsConfig
	Presence PresenceConfig
	Notify   NotifyConfig
	HTTP     HTTPConfig
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// DBConfig is optional outside production. With no DB_HOST, audit events and
// recording metadata are kept in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

func (c DBConfig) Enabled() bool { return c.Host != "" }

// RedisConfig is optional outside production. With no REDIS_HOST, sessions and
// device liveness live in process memory and a single instance must be run.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type CallsConfig struct {
	RingTimeout time.Duration
	// RequireDeviceOnline rejects calls to locations without a live endpoint.
	RequireDeviceOnline bool
	// StrictUpdates makes session updates optimistic transactions.
	StrictUpdates    bool
	RecordingEnabled bool
	MediaRegion      string
	// MediaBaseURL is where the local meeting provider places media URLs.
	MediaBaseURL string
}

type PresenceConfig struct {
	HeartbeatInterval time.Duration
	OfflineThreshold  int
}

// NotifyConfig configures the TV integration API. Leave BaseURL empty to disable it.
type NotifyConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	SystemName   string
}

func (c NotifyConfig) Enabled() bool { return c.BaseURL != "" }

type HTTPConfig struct {
	WebhookSecret  string
	AllowedOrigins []string
}

func Load() (Config, error) {
	if f := strings.TrimSpace(os.Getenv("ENV_FILE")); f != "" {
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	} else {
		// A missing .env is normal outside local runs.
		_ = godotenv.Load()
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Host != "" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	{
		d, err := optionalDuration("JWT_ACCESS_TTL", 0)
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Auth.AccessTokenTTL = d
	}

	{
		d, err := optionalDuration("CALL_RING_TIMEOUT", 0)
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Calls.RingTimeout = d
	}
	{
		b, err := optionalBool("REQUIRE_DEVICE_ONLINE", c.App.Env == "production")
		b, parseErrs = appendParseErr(parseErrs, b, err)
		c.Calls.RequireDeviceOnline = b
	}
	{
		b, err := optionalBool("SESSION_STRICT_UPDATES", false)
		b, parseErrs = appendParseErr(parseErrs, b, err)
		c.Calls.StrictUpdates = b
	}
	{
		b, err := optionalBool("RECORDING_ENABLED", false)
		b, parseErrs = appendParseErr(parseErrs, b, err)
		c.Calls.RecordingEnabled = b
	}
	c.Calls.MediaRegion = strings.TrimSpace(os.Getenv("MEDIA_REGION"))
	c.Calls.MediaBaseURL = strings.TrimSpace(os.Getenv("MEDIA_BASE_URL"))

	{
		d, err := optionalDuration("DEVICE_HEARTBEAT_INTERVAL", 0)
		d, parseErrs = appendParseErr(parseErrs, d, err)
		c.Presence.HeartbeatInterval = d
	}
	{
		n, err := optionalInt("DEVICE_OFFLINE_THRESHOLD", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Presence.OfflineThreshold = n
	}

	c.Notify.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("NOTIFY_BASE_URL")), "/")
	c.Notify.TokenURL = strings.TrimSpace(os.Getenv("NOTIFY_TOKEN_URL"))
	c.Notify.ClientID = strings.TrimSpace(os.Getenv("NOTIFY_CLIENT_ID"))
	c.Notify.ClientSecret = os.Getenv("NOTIFY_CLIENT_SECRET")
	c.Notify.SystemName = strings.TrimSpace(os.Getenv("NOTIFY_SYSTEM_NAME"))

	c.HTTP.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	c.HTTP.AllowedOrigins = splitList(os.Getenv("WS_ALLOWED_ORIGINS"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.DB.Enabled() && c.DB.SSLMode == "" && !c.IsProduction() {
		// Local-friendly default; production must be explicit.
		c.DB.SSLMode = "disable"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Calls.RingTimeout <= 0 {
		c.Calls.RingTimeout = 60 * time.Second
	}
	if c.Calls.MediaRegion == "" {
		c.Calls.MediaRegion = "us-east-1"
	}
	if c.Presence.HeartbeatInterval <= 0 {
		c.Presence.HeartbeatInterval = 10 * time.Second
	}
	if c.Presence.OfflineThreshold <= 0 {
		c.Presence.OfflineThreshold = 3
	}
	if c.Notify.SystemName == "" {
		c.Notify.SystemName = "VirtualCare"
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Enabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if c.DB.SSLMode == "" {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else if !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("DB_HOST is required in production"))
	}

	if c.Redis.Enabled() {
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	} else if c.IsProduction() {
		errs = append(errs, errors.New("REDIS_HOST is required in production"))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.HTTP.WebhookSecret == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required in production"))
		}
	}

	if c.Calls.RingTimeout <= 0 {
		errs = append(errs, errors.New("CALL_RING_TIMEOUT must be positive"))
	}
	if c.Presence.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("DEVICE_HEARTBEAT_INTERVAL must be positive"))
	}
	if c.Presence.OfflineThreshold <= 0 {
		errs = append(errs, errors.New("DEVICE_OFFLINE_THRESHOLD must be positive"))
	}

	if c.Notify.Enabled() {
		if c.Notify.TokenURL == "" {
			errs = append(errs, errors.New("NOTIFY_TOKEN_URL is required when NOTIFY_BASE_URL is set"))
		}
		if c.Notify.ClientID == "" || c.Notify.ClientSecret == "" {
			errs = append(errs, errors.New("NOTIFY_CLIENT_ID and NOTIFY_CLIENT_SECRET are required when NOTIFY_BASE_URL is set"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// StrictNotify reports whether a failed digital knock aborts the call.
func (c Config) StrictNotify() bool {
	return c.IsProduction()
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func optionalDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func optionalBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendParseErr[T any](errs []error, v T, err error) (T, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
