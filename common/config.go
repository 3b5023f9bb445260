package common

import (
	"errors"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the process reads from the environment.
type Config struct {
	Port         string `env:"PORT" envDefault:"3000"`
	DatabaseFile string `env:"SQLITE_DB" envDefault:"inkpress.db"`

	// SessionSecret authenticates session cookies, CookieSecret encrypts
	// them. Both feed the cookie store's key pair.
	SessionSecret string `env:"SESSION_SECRET"`
	CookieSecret  string `env:"COOKIE_SECRET"`

	// BaseURL is the public address used when building links in outgoing
	// mail (e.g. the password reset link).
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:3000"`

	UploadDir string `env:"UPLOAD_DIR" envDefault:"uploads"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     string `env:"SMTP_PORT" envDefault:"25"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	// When MinioEndpoint is set, uploads go to MinIO instead of the local
	// upload directory.
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET" envDefault:"inkpress-uploads"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

// LoadConfig parses the environment into a Config.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("SESSION_SECRET environment variable not set")
	}
	return cfg, nil
}

// SessionKeys returns the key pair for the cookie store. The encryption key
// is optional; without it cookies are signed but not encrypted.
func (c *Config) SessionKeys() [][]byte {
	keys := [][]byte{[]byte(c.SessionSecret)}
	if c.CookieSecret != "" {
		keys = append(keys, []byte(c.CookieSecret))
	}
	return keys
}
