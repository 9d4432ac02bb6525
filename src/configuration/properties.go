package configuration

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type (
	Properties struct {
		LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
		Timezone string `env:"TIMEZONE" envDefault:"Asia/Kolkata"`
		FontPath string `env:"FONT_PATH" envDefault:"arial.ttf"`

		Auth    AuthProperties       `envPrefix:"AUTH_"`
		Session SessionProperties    `envPrefix:"SESSION_"`
		Server  HttpServerProperties `envPrefix:"HTTP_"`
		Storage StorageProperties    `envPrefix:"STATIC_"`
		Caption CaptionProperties    `envPrefix:"CAPTION_"`
		S3      S3Properties         `envPrefix:"S3_"`
	}

	AuthProperties struct {
		Host        string        `env:"HOST" envDefault:"https://accounts.google.com"`
		ID          string        `env:"ID"`
		Secret      string        `env:"SECRET"`
		Redirect    string        `env:"REDIRECT_URL"`
		Issuers     []string      `env:"ISSUERS" envSeparator:"," envDefault:"https://accounts.google.com,accounts.google.com"`
		ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	}

	SessionProperties struct {
		Name   string `env:"NAME" envDefault:"google-login-session"`
		Secret string `env:"SECRET"`
		MaxAge int    `env:"MAX_AGE" envDefault:"86400"`
		Secure bool   `env:"SECURE" envDefault:"false"`
	}

	HttpServerProperties struct {
		Name            string        `env:"NAME" envDefault:"newsthumb"`
		Port            string        `env:"PORT" envDefault:"8088"`
		ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
		Pprof           bool          `env:"PPROF" envDefault:"false"`
		CorsOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
		MaxUploadMB     int64         `env:"MAX_UPLOAD_MB" envDefault:"32"`
	}

	StorageProperties struct {
		Root string `env:"ROOT" envDefault:"static"`
	}

	// CaptionProperties may be left empty: the caption client then always
	// answers with its fallback text.
	CaptionProperties struct {
		URL     string        `env:"URL"`
		Key     string        `env:"KEY"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	}

	S3Properties struct {
		Host      string `env:"HOST"`
		AccessKey string `env:"ACCESS_KEY"`
		SecretKey string `env:"SECRET_KEY"`
		Bucket    string `env:"BUCKET" envDefault:"app"`
		SSL       bool   `env:"SSL" envDefault:"true"`
	}
)

// ReadProperties loads an optional .env file and parses the environment.
func ReadProperties() (*Properties, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	config := &Properties{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}
	return config, nil
}

// CaptionEnabled reports whether the caption service has both an endpoint and a credential.
func (p *Properties) CaptionEnabled() bool {
	return p.Caption.URL != "" && p.Caption.Key != ""
}

func (p *Properties) S3Enabled() bool {
	return p.S3.Host != ""
}

// Location resolves the page clock timezone, falling back to UTC.
func (p *Properties) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
