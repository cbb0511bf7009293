// Package config provides functionality for managing configuration options
// for the application using command-line flags, a config file and environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Options holds the configuration values for the application.
type Options struct {
	Server     ServerOptions     `json:"server" yaml:"server"`
	Database   DatabaseOptions   `json:"database" yaml:"database"`
	Auth       AuthOptions       `json:"auth" yaml:"auth"`
	Onboarding OnboardingOptions `json:"onboarding" yaml:"onboarding"`
	Blob       BlobOptions       `json:"blob" yaml:"blob"`
	Notify     NotifyOptions     `json:"notify" yaml:"notify"`
	Redis      RedisOptions      `json:"redis" yaml:"redis"`
	Log        LogOptions        `json:"log" yaml:"log"`

	// Config is the path to the config file. It is never read from the file itself.
	Config string `json:"-" yaml:"-"`
}

// ServerOptions configures the HTTP listener.
type ServerOptions struct {
	// Addr defines the server's listening address (ip:port).
	Addr            string        `json:"addr" yaml:"addr" env:"SERVER_ADDRESS" env-default:"localhost:8080"`
	TLSCert         string        `json:"tls_cert" yaml:"tls_cert" env:"SERVER_TLS_CERT"`
	TLSKey          string        `json:"tls_key" yaml:"tls_key" env:"SERVER_TLS_KEY"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	// MaxBodyBytes bounds every request body, blob uploads included.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES" env-default:"20971520"`
}

// DatabaseOptions configures the PostgreSQL connection.
type DatabaseOptions struct {
	// DSN holds the database connection string for the application.
	DSN             string        `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME" env-default:"1h"`
}

// AuthOptions configures credentials and session tokens.
type AuthOptions struct {
	JWTSecret  string `json:"jwt_secret" yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer  string `json:"jwt_issuer" yaml:"jwt_issuer" env:"JWT_ISSUER" env-default:"storink"`
	BcryptCost int    `json:"bcrypt_cost" yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST" env-default:"12"`
	// AllowAdminBootstrap exposes POST /auth/create/admin. Disable it once the first admin exists.
	AllowAdminBootstrap bool `json:"allow_admin_bootstrap" yaml:"allow_admin_bootstrap" env:"AUTH_ALLOW_ADMIN_BOOTSTRAP" env-default:"true"`
}

// OnboardingOptions configures one-time codes and pending-record cleanup.
type OnboardingOptions struct {
	CodeTTL         time.Duration `json:"code_ttl" yaml:"code_ttl" env:"ONBOARDING_CODE_TTL" env-default:"10m"`
	MaxCodeAttempts int           `json:"max_code_attempts" yaml:"max_code_attempts" env:"ONBOARDING_MAX_CODE_ATTEMPTS" env-default:"5"`
	CleanerInterval time.Duration `json:"cleaner_interval" yaml:"cleaner_interval" env:"ONBOARDING_CLEANER_INTERVAL" env-default:"1h"`
	// CleanerRetention is how long an expired, unverified registration is kept.
	CleanerRetention time.Duration `json:"cleaner_retention" yaml:"cleaner_retention" env:"ONBOARDING_CLEANER_RETENTION" env-default:"24h"`
}

// BlobOptions configures the evidence blob store.
type BlobOptions struct {
	Root    string `json:"root" yaml:"root" env:"BLOB_ROOT" env-default:"data/blobs"`
	BaseURL string `json:"base_url" yaml:"base_url" env:"BLOB_BASE_URL" env-default:"http://localhost:8080/blob"`
	MaxSize int64  `json:"max_size" yaml:"max_size" env:"BLOB_MAX_SIZE" env-default:"20971520"`
}

// NotifyOptions selects the outbound notification transport.
type NotifyOptions struct {
	// Driver is "log" or "kafka".
	Driver  string        `json:"driver" yaml:"driver" env:"NOTIFY_DRIVER" env-default:"log"`
	Brokers []string      `json:"brokers" yaml:"brokers" env:"NOTIFY_BROKERS" env-separator:","`
	Topic   string        `json:"topic" yaml:"topic" env:"NOTIFY_TOPIC" env-default:"storink.notifications"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"NOTIFY_TIMEOUT" env-default:"10s"`
}

// RedisOptions configures the shared attempt limiter. An empty URL selects the in-memory limiter.
type RedisOptions struct {
	URL string `json:"url" yaml:"url" env:"REDIS_URL"`
}

// LogOptions configures the zap logger.
type LogOptions struct {
	Level string `json:"level" yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	// Env is "development" or "production".
	Env string `json:"env" yaml:"env" env:"APP_ENV" env-default:"production"`
}

// Parse reads configuration in increasing priority: env-default tags, the config
// file, environment variables (a .env file is loaded first if present), then
// command-line flags that were set explicitly.
func Parse(args []string) (*Options, error) {
	fs := flag.NewFlagSet("storink", flag.ContinueOnError)
	var addr, dsn, cfgPath string
	fs.StringVar(&addr, "a", "", "run on ip:port server")
	fs.StringVar(&dsn, "d", "", "db address")
	fs.StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	fs.StringVar(&cfgPath, "c", "config.yaml", "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		cfgPath = configPath
	}

	options := &Options{Config: cfgPath}
	if _, err := os.Stat(cfgPath); err == nil {
		if err := cleanenv.ReadConfig(cfgPath, options); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", cfgPath, err)
		}
	} else if err := cleanenv.ReadEnv(options); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			options.Server.Addr = addr
		case "d":
			options.Database.DSN = dsn
		}
	})

	if err := options.Validate(); err != nil {
		return nil, err
	}
	return options, nil
}

// Validate reports the first setting that makes the server unable to start.
func (o *Options) Validate() error {
	switch {
	case o.Database.DSN == "":
		return errors.New("config: database dsn is required")
	case o.Auth.JWTSecret == "":
		return errors.New("config: jwt secret is required")
	case len(o.Auth.JWTSecret) < 16:
		return errors.New("config: jwt secret must be at least 16 bytes")
	case o.Auth.BcryptCost < 4 || o.Auth.BcryptCost > 31:
		return fmt.Errorf("config: bcrypt cost %d out of range", o.Auth.BcryptCost)
	case o.Onboarding.CodeTTL <= 0:
		return errors.New("config: onboarding code ttl must be positive")
	case o.Onboarding.MaxCodeAttempts <= 0:
		return errors.New("config: onboarding max code attempts must be positive")
	case o.Notify.Driver != "log" && o.Notify.Driver != "kafka":
		return fmt.Errorf("config: unknown notify driver %q", o.Notify.Driver)
	case o.Notify.Driver == "kafka" && len(o.Notify.Brokers) == 0:
		return errors.New("config: kafka notify driver needs brokers")
	case (o.Server.TLSCert == "") != (o.Server.TLSKey == ""):
		return errors.New("config: tls cert and key must be set together")
	case o.Server.MaxBodyBytes <= 0:
		return errors.New("config: server max body bytes must be positive")
	case o.Blob.MaxSize <= 0 || o.Blob.MaxSize > o.Server.MaxBodyBytes:
		return fmt.Errorf("config: blob max size %d must be positive and fit in max body bytes %d", o.Blob.MaxSize, o.Server.MaxBodyBytes)
	}
	return nil
}
