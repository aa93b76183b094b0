package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/clubinhonerd/clubinhonerd/internal/urls"
)

// Email backends
const (
	EmailConsole = "console"
	EmailSMTP    = "smtp"
)

// Media backends
const (
	MediaLocal = "local"
	MediaS3    = "s3"
)

const defaultSecretKey = "insecure-development-key-change-me"

// Config holds the static settings read at startup. Runtime settings that
// can change while the site runs live in the settings table instead.
type Config struct {
	Bind    string `validate:"omitempty,ip"`
	Port    int    `validate:"min=1,max=65535"`
	DBPath  string `validate:"required"`
	BaseURL string `validate:"omitempty,url"`

	SecretKey string `validate:"required,min=16"`
	Debug     bool
	Dev       bool // reload templates from disk

	MediaBackend string `validate:"oneof=local s3"`
	MediaRoot    string `validate:"required_if=MediaBackend local"`
	MediaURL     string `validate:"required,startswith=/|url"`
	StaticURL    string `validate:"required,startswith=/"`
	TemplateDir  string // used in dev mode

	S3Bucket    string `validate:"required_if=MediaBackend s3"`
	S3Region    string
	S3Endpoint  string `validate:"omitempty,url"`
	S3PublicURL string `validate:"omitempty,url"`

	EmailBackend string `validate:"oneof=console smtp"`
	SMTPHost     string `validate:"required_if=EmailBackend smtp"`
	SMTPPort     int    `validate:"min=0,max=65535"`
	SMTPUsername string
	SMTPPassword string
	DefaultFrom  string `validate:"required,email"`
	ContactEmail string `validate:"required,email"`

	// Route names, resolved with urls.Reverse
	LoginURL         string `validate:"required"`
	LoginRedirectURL string `validate:"required"`
	LogoutURL        string `validate:"required"`

	// Subnets allowed to reach the admin pages, empty for any
	AdminSubnets []string `validate:"dive,cidr"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Bind:             "0.0.0.0",
		Port:             8000,
		DBPath:           "clubinhonerd.db",
		SecretKey:        defaultSecretKey,
		MediaBackend:     MediaLocal,
		MediaRoot:        "media",
		MediaURL:         "/media/",
		StaticURL:        "/static/",
		TemplateDir:      "internal/web/templates/html",
		EmailBackend:     EmailConsole,
		SMTPPort:         587,
		DefaultFrom:      "nao-responda@clubinhonerd.com.br",
		ContactEmail:     "contato@clubinhonerd.com.br",
		LoginURL:         urls.RouteLogin,
		LoginRedirectURL: urls.RouteHome,
		LogoutURL:        urls.RouteLogout,
	}
}

// Load reads an optional .env file and then the environment on top of the
// defaults. envFile may be empty to skip the .env file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			log.Debug().Str("file", envFile).Msg("No env file found, using process environment")
		}
	}

	cfg := Default()
	cfg.Bind = getEnv("CLUBINHO_BIND", cfg.Bind)
	cfg.Port = getEnvInt("CLUBINHO_PORT", cfg.Port)
	cfg.DBPath = getEnv("CLUBINHO_DB", cfg.DBPath)
	cfg.BaseURL = getEnv("BASE_URL", cfg.BaseURL)
	cfg.SecretKey = getEnv("SECRET_KEY", cfg.SecretKey)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.Dev = getEnvBool("CLUBINHO_DEV", cfg.Dev)
	cfg.MediaBackend = getEnv("MEDIA_BACKEND", cfg.MediaBackend)
	cfg.MediaRoot = getEnv("MEDIA_ROOT", cfg.MediaRoot)
	cfg.MediaURL = getEnv("MEDIA_URL", cfg.MediaURL)
	cfg.StaticURL = getEnv("STATIC_URL", cfg.StaticURL)
	cfg.TemplateDir = getEnv("TEMPLATE_DIR", cfg.TemplateDir)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3PublicURL = getEnv("S3_PUBLIC_URL", cfg.S3PublicURL)
	cfg.EmailBackend = getEnv("EMAIL_BACKEND", cfg.EmailBackend)
	cfg.SMTPHost = getEnv("EMAIL_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getEnvInt("EMAIL_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = getEnv("EMAIL_HOST_USER", cfg.SMTPUsername)
	cfg.SMTPPassword = getEnv("EMAIL_HOST_PASSWORD", cfg.SMTPPassword)
	cfg.DefaultFrom = getEnv("DEFAULT_FROM_EMAIL", cfg.DefaultFrom)
	cfg.ContactEmail = getEnv("CONTACT_EMAIL", cfg.ContactEmail)
	cfg.LoginURL = getEnv("LOGIN_URL", cfg.LoginURL)
	cfg.LoginRedirectURL = getEnv("LOGIN_REDIRECT_URL", cfg.LoginRedirectURL)
	cfg.LogoutURL = getEnv("LOGOUT_URL", cfg.LogoutURL)
	if subnets := getEnv("ADMIN_SUBNETS", ""); subnets != "" {
		cfg.AdminSubnets = splitList(subnets)
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks the configuration and resolves the route names
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, name := range []string{c.LoginURL, c.LoginRedirectURL, c.LogoutURL} {
		if _, err := urls.Reverse(name); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if c.SecretKey == defaultSecretKey && !c.Debug {
		log.Warn().Msg("Using the default SECRET_KEY; set one before running in production")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// LoginPath returns the path of the configured login route
func (c *Config) LoginPath() string {
	return urls.MustReverse(c.LoginURL)
}

// LoginRedirectPath returns where users land after logging in
func (c *Config) LoginRedirectPath() string {
	return urls.MustReverse(c.LoginRedirectURL)
}

// LogoutPath returns the path of the configured logout route
func (c *Config) LogoutPath() string {
	return urls.MustReverse(c.LogoutURL)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-integer environment variable")
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-boolean environment variable")
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
