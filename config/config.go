// Package config holds the service configuration, loaded from the
// environment with optional .env files for local development.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full service configuration.
type Config struct {
	// dev | staging | prod
	AppEnv     string
	ListenAddr string

	Key   KeyConfig
	Cert  CertConfig
	Sign  SignConfig
	TSA   TSAConfig
	Stamp StampConfig

	Storage  StorageConfig
	Delivery DeliveryConfig
}

type KeyConfig struct {
	// Path wins over the inline PEM when both are set.
	Path string
	PEM  string
}

type CertConfig struct {
	CommonName   string
	Email        string
	Organization string
}

type SignConfig struct {
	Reason      string
	Location    string
	ContactInfo string
}

type TSAConfig struct {
	URL      string
	Username string
	Password string

	// AddDocTimeStamp appends a document timestamp after signing.
	AddDocTimeStamp bool

	// Timeout for a single timestamp request.
	Timeout time.Duration
}

type StampConfig struct {
	ImagePath string
	X         float64
	Y         float64
	Width     float64
	Height    float64
	// Page is 1-based, -1 stamps every page.
	Page int
}

type StorageConfig struct {
	Dir string
	// DownloadTokenTTL bounds how long a download link stays valid.
	DownloadTokenTTL time.Duration
}

type DeliveryConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SMSGatewayURL string
}

// Load builds the configuration from the environment. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		AppEnv:     envStr("APP_ENV", "dev"),
		ListenAddr: envStr("LISTEN_ADDR", ":8080"),
		Key: KeyConfig{
			Path: envStr("PRIVATE_KEY_PATH", ""),
			PEM:  envStr("PRIVATE_KEY_PEM", ""),
		},
		Cert: CertConfig{
			CommonName:   envStr("SIGNER_NAME", "Document Signing Service"),
			Email:        envStr("SIGNER_EMAIL", "signer@localhost"),
			Organization: envStr("SIGNER_COMPANY", "DocSeal"),
		},
		Sign: SignConfig{
			Reason:      envStr("SIGNATURE_REASON", "Document certification"),
			Location:    envStr("SIGNATURE_LOCATION", ""),
			ContactInfo: envStr("SIGNATURE_CONTACT", ""),
		},
		TSA: TSAConfig{
			URL:             envStr("TSA_URL", "http://timestamp.digicert.com"),
			Username:        envStr("TSA_USERNAME", ""),
			Password:        envStr("TSA_PASSWORD", ""),
			AddDocTimeStamp: envBool("TSA_ADD_DOCTIMESTAMP", false),
			Timeout:         envDur("TSA_TIMEOUT", 15*time.Second),
		},
		Stamp: StampConfig{
			ImagePath: envStr("SIGNATURE_IMAGE_PATH", ""),
			X:         envFloat("SIGNATURE_POSITION_X", 400),
			Y:         envFloat("SIGNATURE_POSITION_Y", 40),
			Width:     envFloat("SIGNATURE_WIDTH", 0),
			Height:    envFloat("SIGNATURE_HEIGHT", 0),
			Page:      envInt("SIGNATURE_PAGE", -1),
		},
		Storage: StorageConfig{
			Dir:              envStr("STORAGE_DIR", "./data/documents"),
			DownloadTokenTTL: envDur("DOWNLOAD_TOKEN_TTL", 24*time.Hour),
		},
		Delivery: DeliveryConfig{
			SMTPHost:      envStr("SMTP_HOST", ""),
			SMTPPort:      envInt("SMTP_PORT", 587),
			SMTPUsername:  envStr("SMTP_USERNAME", ""),
			SMTPPassword:  envStr("SMTP_PASSWORD", ""),
			SMTPFrom:      envStr("SMTP_FROM", ""),
			SMSGatewayURL: envStr("SMS_GATEWAY_URL", ""),
		},
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the constraints that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Key.Path == "" && c.Key.PEM == "" {
		return errors.New("config: PRIVATE_KEY_PATH or PRIVATE_KEY_PEM must be set")
	}
	if c.Cert.Email == "" {
		return errors.New("config: SIGNER_EMAIL must not be empty")
	}
	if c.Stamp.Page == 0 {
		return errors.New("config: SIGNATURE_PAGE must be 1-based or -1 for all pages")
	}
	if c.Storage.DownloadTokenTTL <= 0 {
		return errors.New("config: DOWNLOAD_TOKEN_TTL must be positive")
	}
	return nil
}

// IsProd reports whether the service runs with production settings.
func (c *Config) IsProd() bool {
	return strings.EqualFold(c.AppEnv, "prod")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return fallback
}
