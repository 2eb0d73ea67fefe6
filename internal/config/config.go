package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI              string
	MongoDbName           string
	LifecycleTransactions bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret       string
	JwtTTL          time.Duration
	CaptchaTokenTTL time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string
	AllowedOrigins []string

	// Logging
	LogLevel string
	LogFile  string

	// Cloudflare
	CloudflareTurnstileSecretKey string
	CloudflareSiteVerifyURL      string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string
	MockServices    bool
	LogEmailsPath   string

	// AWS S3
	AwsAccessKeyID      string
	AwsSecretAccessKey  string
	AwsRegion           string
	AwsS3Bucket         string
	AttachmentBaseURL   string
	ImageMaxDimension   int
	AttachmentMaxSizeMB int

	// App
	AppName            string
	AppBaseURL         string
	PasswordRegexp     string
	GetCacheTTL        time.Duration
	ResetAccessLinkTTL time.Duration
	WizardDraftTTL     time.Duration
	NotifyPoolSize     int

	// Scheduled jobs
	DueReminderCron       string
	DueReminderWindowDays int
	StaleDigestCron       string
	StaleRequestAge       time.Duration
	OverdueCheckCron      string

	// Rate Limiting Defaults
	RateLimitSoftBucketSize int
	RateLimitSoftRefillRate int // tokens per second
	RateLimitHardBucketSize int
	RateLimitHardRefillRate int // tokens per second
}

var defaults = map[string]string{
	"MONGO_DB_NAME":                   "portal",
	"LIFECYCLE_TRANSACTIONS":          "true",
	"REDIS_ADDR":                      "localhost:6379",
	"REDIS_DB":                        "0",
	"JWT_TTL_SECONDS":                 "3600",
	"CAPTCHA_TOKEN_TTL":               "1200",
	"API_PORT":                        "8080",
	"SERVICE_API_PORT":                "12345",
	"ALLOWED_ORIGINS":                 "*",
	"LOG_LEVEL":                       "info",
	"CLOUDFLARE_SITEVERIFY_URL":       "https://challenges.cloudflare.com/turnstile/v0/siteverify",
	"SMTP_PORT":                       "587",
	"SMTP_FROM_ADDRESS":               "noreply@webwhisperer.example.com",
	"MOCK_SERVICES":                   "false",
	"IMAGE_MAX_DIMENSION":             "2048",
	"ATTACHMENT_MAX_SIZE_MB":          "10",
	"APP_NAME":                        "Web Whisperer",
	"APP_BASE_URL":                    "http://localhost:5173",
	"PASSWORD_REGEXP":                 "^.{8,}$",
	"GET_CACHE_TTL_SECONDS":           "60",
	"RESET_ACCESS_LINK_TTL_MINUTES":   "20",
	"WIZARD_DRAFT_TTL_HOURS":          "24",
	"NOTIFY_POOL_SIZE":                "8",
	"DUE_REMINDER_CRON":               "0 8 * * *",
	"DUE_REMINDER_WINDOW_DAYS":        "3",
	"STALE_DIGEST_CRON":               "0 9 * * 1-5",
	"STALE_REQUEST_AGE_HOURS":         "48",
	"OVERDUE_CHECK_CRON":              "30 8 * * *",
	"RATE_LIMIT_SOFT_BUCKET_SIZE":     "2",
	"RATE_LIMIT_SOFT_REFILL_RATE":     "1",
	"RATE_LIMIT_HARD_BUCKET_SIZE":     "8",
	"RATE_LIMIT_HARD_REFILL_RATE":     "4",
}

// Load reads configuration from the environment, with .env as a fallback source.
// RunMode comes from the command line.
func Load(runMode string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return fromViper(v, runMode)
}

func fromViper(v *viper.Viper, runMode string) (*Config, error) {
	r := reader{v: v}
	cfg := &Config{RunMode: runMode}

	cfg.MongoURI = r.required("MONGO_URI")
	cfg.JwtSecret = r.required("JWT_SECRET")
	cfg.MongoDbName = v.GetString("MONGO_DB_NAME")
	cfg.LifecycleTransactions = r.boolean("LIFECYCLE_TRANSACTIONS")

	cfg.RedisAddr = v.GetString("REDIS_ADDR")
	cfg.RedisPassword = v.GetString("REDIS_PASSWORD")
	cfg.RedisDB = r.integer("REDIS_DB")

	cfg.JwtTTL = r.duration("JWT_TTL_SECONDS", time.Second)
	cfg.CaptchaTokenTTL = r.duration("CAPTCHA_TOKEN_TTL", time.Second)

	cfg.ApiPort = v.GetString("API_PORT")
	cfg.ServiceApiPort = v.GetString("SERVICE_API_PORT")
	cfg.AllowedOrigins = splitList(v.GetString("ALLOWED_ORIGINS"))

	cfg.LogLevel = v.GetString("LOG_LEVEL")
	cfg.LogFile = v.GetString("LOG_FILE")

	cfg.CloudflareTurnstileSecretKey = v.GetString("CLOUDFLARE_TURNSTILE_SECRET_KEY")
	cfg.CloudflareSiteVerifyURL = v.GetString("CLOUDFLARE_SITEVERIFY_URL")

	cfg.SmtpHost = v.GetString("SMTP_HOST")
	cfg.SmtpPort = r.integer("SMTP_PORT")
	cfg.SmtpUsername = v.GetString("SMTP_USERNAME")
	cfg.SmtpPassword = v.GetString("SMTP_PASSWORD")
	cfg.SmtpFromAddress = v.GetString("SMTP_FROM_ADDRESS")
	cfg.MockServices = r.boolean("MOCK_SERVICES")
	cfg.LogEmailsPath = v.GetString("LOG_EMAILS")

	cfg.AwsAccessKeyID = v.GetString("AWS_ACCESS_KEY_ID")
	cfg.AwsSecretAccessKey = v.GetString("AWS_SECRET_ACCESS_KEY")
	cfg.AwsRegion = v.GetString("AWS_REGION")
	cfg.AwsS3Bucket = v.GetString("AWS_S3_BUCKET")
	cfg.AttachmentBaseURL = v.GetString("ATTACHMENT_BASE_URL")
	cfg.ImageMaxDimension = r.integer("IMAGE_MAX_DIMENSION")
	cfg.AttachmentMaxSizeMB = r.integer("ATTACHMENT_MAX_SIZE_MB")

	cfg.AppName = v.GetString("APP_NAME")
	cfg.AppBaseURL = strings.TrimRight(v.GetString("APP_BASE_URL"), "/")
	cfg.PasswordRegexp = v.GetString("PASSWORD_REGEXP")
	cfg.GetCacheTTL = r.duration("GET_CACHE_TTL_SECONDS", time.Second)
	cfg.ResetAccessLinkTTL = r.duration("RESET_ACCESS_LINK_TTL_MINUTES", time.Minute)
	cfg.WizardDraftTTL = r.duration("WIZARD_DRAFT_TTL_HOURS", time.Hour)
	cfg.NotifyPoolSize = r.integer("NOTIFY_POOL_SIZE")

	cfg.DueReminderCron = v.GetString("DUE_REMINDER_CRON")
	cfg.DueReminderWindowDays = r.integer("DUE_REMINDER_WINDOW_DAYS")
	cfg.StaleDigestCron = v.GetString("STALE_DIGEST_CRON")
	cfg.StaleRequestAge = r.duration("STALE_REQUEST_AGE_HOURS", time.Hour)
	cfg.OverdueCheckCron = v.GetString("OVERDUE_CHECK_CRON")

	cfg.RateLimitSoftBucketSize = r.integer("RATE_LIMIT_SOFT_BUCKET_SIZE")
	cfg.RateLimitSoftRefillRate = r.integer("RATE_LIMIT_SOFT_REFILL_RATE")
	cfg.RateLimitHardBucketSize = r.integer("RATE_LIMIT_HARD_BUCKET_SIZE")
	cfg.RateLimitHardRefillRate = r.integer("RATE_LIMIT_HARD_REFILL_RATE")

	if r.err != nil {
		return nil, r.err
	}
	return cfg, nil
}

// reader keeps the first parse error so Load can report it once.
type reader struct {
	v   *viper.Viper
	err error
}

func (r *reader) required(key string) string {
	s := r.v.GetString(key)
	if s == "" && r.err == nil {
		r.err = fmt.Errorf("missing required environment variable: %s", key)
	}
	return s
}

func (r *reader) integer(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.v.GetString(key)))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return n
}

func (r *reader) boolean(key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(r.v.GetString(key)))
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return b
}

func (r *reader) duration(key string, unit time.Duration) time.Duration {
	n, err := strconv.ParseInt(strings.TrimSpace(r.v.GetString(key)), 10, 64)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(n) * unit
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
