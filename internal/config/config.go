// Package config loads service configuration from the environment (and an optional .env file)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"booking-service/internal/logger"
)

// Env is a namespaced view over environment variables
type Env struct{ prefix string }

// NewEnv returns a root view with no prefix
func NewEnv() Env { return Env{} }

// Prefix returns a child view, e.g. env.Prefix("GOOGLE_")
func (e Env) Prefix(p string) Env { return Env{prefix: e.prefix + p} }

func (e Env) key(k string) string { return e.prefix + k }

func (e Env) raw(k string) string { return strings.TrimSpace(os.Getenv(e.key(k))) }

// MayString returns the value or def when unset
func (e Env) MayString(k, def string) string {
	if v := e.raw(k); v != "" {
		return v
	}
	return def
}

// MayInt returns the value or def when unset; invalid values log and fall back to def
func (e Env) MayInt(k string, def int) int {
	s := e.raw(k)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		logger.Get().Warn().Str("key", e.key(k)).Str("value", s).Int("default", def).Msg("invalid int; using default")
		return def
	}
	return v
}

// MayFloat returns the value or def when unset; invalid values log and fall back to def
func (e Env) MayFloat(k string, def float64) float64 {
	s := e.raw(k)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		logger.Get().Warn().Str("key", e.key(k)).Str("value", s).Float64("default", def).Msg("invalid float; using default")
		return def
	}
	return v
}

// MayBool returns the value or def when unset; invalid values log and fall back to def
func (e Env) MayBool(k string, def bool) bool {
	s := e.raw(k)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		logger.Get().Warn().Str("key", e.key(k)).Str("value", s).Bool("default", def).Msg("invalid bool; using default")
		return def
	}
	return v
}

// MayDuration returns the value or def when unset; invalid values log and fall back to def
func (e Env) MayDuration(k string, def time.Duration) time.Duration {
	s := e.raw(k)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		logger.Get().Warn().Str("key", e.key(k)).Str("value", s).Dur("default", def).Msg("invalid duration; using default")
		return def
	}
	return d
}

// MayCSV splits a comma separated value, dropping blanks
func (e Env) MayCSV(k string, def []string) []string {
	s := e.raw(k)
	if s == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Calendar providers
const (
	CalendarGoogle = "google"
	CalendarDemo   = "demo"
)

// Config is the full service configuration
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	SchedulingEnabled bool
	CalendarProvider  string
	CalendarID        string
	CalendarTimeout   time.Duration
	Google            GoogleConfig

	BusinessTimezone string
	MorningStart     int
	MorningEnd       int
	AfternoonStart   int
	AfternoonEnd     int
	MeetingDurations []int
	LeadTime         time.Duration
	HoldTTL          time.Duration

	NotificationsEnabled bool
	ResendAPIKey         string
	EmailFrom            string
	OwnerEmail           string
	EmailTimeout         time.Duration
	EmailMaxAttempts     int
	EmailHourlyCap       int
	EmailDailyCap        int
	EmailCooldown        time.Duration

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
	APIRPS               float64
	APIBurst             int
	CORSOrigins          []string

	StaticTokens  []string
	JWTHMACSecret string

	AuditCapacity int
}

// GoogleConfig holds calendar credentials; either a refresh token triple or a credentials file
type GoogleConfig struct {
	ClientID        string
	ClientSecret    string
	RefreshToken    string
	CredentialsFile string
}

// HasCredentials reports whether any usable credential set is present
func (g GoogleConfig) HasCredentials() bool {
	if g.CredentialsFile != "" {
		return true
	}
	return g.ClientID != "" && g.ClientSecret != "" && g.RefreshToken != ""
}

// ErrMissingCalendarCredentials is returned when the google provider is selected without credentials
var ErrMissingCalendarCredentials = errors.New("google calendar credentials missing")

// Load reads .env (if present) and the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Get().Warn().Err(err).Msg("could not read .env")
	}
	return FromEnv(NewEnv())
}

// FromEnv builds and validates a Config from env
func FromEnv(env Env) (*Config, error) {
	durations, err := parseDurations(env.MayCSV("MEETING_DURATIONS", []string{"30", "60"}))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        env.MayString("PORT", "8080"),
		DatabaseURL: env.MayString("DATABASE_URL", ""),
		RedisURL:    env.MayString("REDIS_URL", ""),

		SchedulingEnabled: env.MayBool("SCHEDULING_ENABLED", true),
		CalendarProvider:  strings.ToLower(env.MayString("CALENDAR_PROVIDER", CalendarGoogle)),
		CalendarID:        env.MayString("GOOGLE_CALENDAR_ID", "primary"),
		CalendarTimeout:   env.MayDuration("CALENDAR_TIMEOUT", 15*time.Second),
		Google: GoogleConfig{
			ClientID:        env.MayString("GOOGLE_CLIENT_ID", ""),
			ClientSecret:    env.MayString("GOOGLE_CLIENT_SECRET", ""),
			RefreshToken:    env.MayString("GOOGLE_REFRESH_TOKEN", ""),
			CredentialsFile: env.MayString("GOOGLE_CREDENTIALS_FILE", ""),
		},

		BusinessTimezone: env.MayString("BUSINESS_TIMEZONE", "America/New_York"),
		MorningStart:     env.MayInt("BUSINESS_MORNING_START", 9),
		MorningEnd:       env.MayInt("BUSINESS_MORNING_END", 12),
		AfternoonStart:   env.MayInt("BUSINESS_AFTERNOON_START", 12),
		AfternoonEnd:     env.MayInt("BUSINESS_AFTERNOON_END", 18),
		MeetingDurations: durations,
		LeadTime:         env.MayDuration("BOOKING_LEAD_TIME", 30*time.Minute),
		HoldTTL:          env.MayDuration("BOOKING_HOLD_TTL", 2*time.Minute),

		NotificationsEnabled: env.MayBool("NOTIFICATIONS_ENABLED", true),
		ResendAPIKey:         env.MayString("RESEND_API_KEY", ""),
		EmailFrom:            env.MayString("EMAIL_FROM", ""),
		OwnerEmail:           env.MayString("OWNER_EMAIL", ""),
		EmailTimeout:         env.MayDuration("EMAIL_TIMEOUT", 10*time.Second),
		EmailMaxAttempts:     env.MayInt("EMAIL_MAX_ATTEMPTS", 3),
		EmailHourlyCap:       env.MayInt("EMAIL_HOURLY_CAP", 10),
		EmailDailyCap:        env.MayInt("EMAIL_DAILY_CAP", 50),
		EmailCooldown:        env.MayDuration("EMAIL_COOLDOWN", 5*time.Minute),

		RateLimitWindow:      env.MayDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		RateLimitMaxRequests: env.MayInt("RATE_LIMIT_MAX_REQUESTS", 5),
		APIRPS:               env.MayFloat("API_RPS", 5),
		APIBurst:             env.MayInt("API_BURST", 10),
		CORSOrigins:          env.MayCSV("CORS_ORIGINS", []string{"*"}),

		StaticTokens:  env.MayCSV("STATIC_TOKENS", nil),
		JWTHMACSecret: env.MayString("JWT_HMAC_SECRET", ""),

		AuditCapacity: env.MayInt("AUDIT_CAPACITY", 500),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints; missing credentials for the live calendar are fatal
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.BusinessTimezone); err != nil {
		return fmt.Errorf("BUSINESS_TIMEZONE %q: %w", c.BusinessTimezone, err)
	}
	if c.MorningStart >= c.MorningEnd || c.AfternoonStart >= c.AfternoonEnd {
		return fmt.Errorf("business hours must have start before end")
	}
	if c.MorningStart < 0 || c.AfternoonEnd > 24 {
		return fmt.Errorf("business hours must fall within 0..24")
	}
	switch c.CalendarProvider {
	case CalendarGoogle:
		if c.SchedulingEnabled && !c.Google.HasCredentials() {
			return ErrMissingCalendarCredentials
		}
	case CalendarDemo:
	default:
		return fmt.Errorf("CALENDAR_PROVIDER %q: expected google or demo", c.CalendarProvider)
	}
	if c.NotificationsEnabled && c.ResendAPIKey != "" && c.EmailFrom == "" {
		return fmt.Errorf("EMAIL_FROM required when RESEND_API_KEY is set")
	}
	if c.EmailMaxAttempts < 1 {
		c.EmailMaxAttempts = 1
	}
	return nil
}

func parseDurations(raw []string) ([]int, error) {
	out := make([]int, 0, len(raw))
	for _, s := range raw {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MEETING_DURATIONS: %q is not a positive number of minutes", s)
		}
		out = append(out, n)
	}
	return out, nil
}
