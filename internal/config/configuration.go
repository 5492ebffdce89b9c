package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int `mapstructure:"WEBSERVER_PORT"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`
	MigrateOnStart  bool   `mapstructure:"MIGRATE_ON_START"`

	// Local scratch space for downloads and derivative work
	SpoolDir string `mapstructure:"SPOOL_DIR" validate:"required"`

	// Background work
	IngestWorkers int           `mapstructure:"INGEST_WORKERS" validate:"gte=1"`
	DeriveWorkers int           `mapstructure:"DERIVE_WORKERS" validate:"gte=1"`
	JobRetention  time.Duration `mapstructure:"JOB_RETENTION"`

	Blob        BlobConfig        `mapstructure:",squash"`
	Fetch       FetchConfig       `mapstructure:",squash"`
	Resolve     ResolveConfig     `mapstructure:",squash"`
	Fingerprint FingerprintConfig `mapstructure:",squash"`
	Match       MatchConfig       `mapstructure:",squash"`

	NotifyWebhookURL string `mapstructure:"NOTIFY_WEBHOOK_URL" validate:"omitempty,url"`
}

type BlobConfig struct {
	Backend    string `mapstructure:"BLOB_BACKEND" validate:"oneof=local s3"`
	LocalDir   string `mapstructure:"BLOB_LOCAL_DIR"`
	PublicURL  string `mapstructure:"BLOB_PUBLIC_URL"`
	SigningKey string `mapstructure:"BLOB_SIGNING_KEY"`

	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3Region    string `mapstructure:"S3_REGION"`
	S3Bucket    string `mapstructure:"S3_BUCKET" validate:"required_if=Backend s3"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`
}

type FetchConfig struct {
	Timeout     time.Duration `mapstructure:"FETCH_TIMEOUT"`
	MaxRetries  int           `mapstructure:"FETCH_MAX_RETRIES" validate:"gte=0"`
	BackoffBase time.Duration `mapstructure:"FETCH_BACKOFF_BASE"`
	HostLimit   int           `mapstructure:"FETCH_HOST_LIMIT" validate:"gte=1"`
}

type ResolveConfig struct {
	Deadline  time.Duration `mapstructure:"RESOLVE_DEADLINE"`
	Grace     time.Duration `mapstructure:"RESOLVE_GRACE"`
	YtdlpPath string        `mapstructure:"YTDLP_PATH"`
}

type FingerprintConfig struct {
	ServiceURL string `mapstructure:"FINGERPRINT_URL" validate:"omitempty,url"`
	FpcalcPath string `mapstructure:"FPCALC_PATH"`
}

type MatchConfig struct {
	ShortThreshold   int   `mapstructure:"MATCH_SHORT_THRESHOLD" validate:"gte=0"`
	LongThreshold    int   `mapstructure:"MATCH_LONG_THRESHOLD" validate:"gte=0"`
	ShortFrames      int   `mapstructure:"MATCH_SHORT_FRAMES" validate:"gte=0"`
	DurationMarginMS int64 `mapstructure:"MATCH_DURATION_MARGIN_MS" validate:"gte=0"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")
		squash := strings.HasPrefix(tag, ",")

		if tag != "" && !squash {
			viper.BindEnv(tag)
		}

		// Handle nested structs
		if field.Type.Kind() == reflect.Struct && (tag == "" || squash) {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
		}
	}
}

func setDefaults() {
	viper.SetDefault("WEBSERVER_PORT", 8080)
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("MIGRATE_ON_START", true)
	viper.SetDefault("SPOOL_DIR", "/spool")
	viper.SetDefault("INGEST_WORKERS", 4)
	viper.SetDefault("DERIVE_WORKERS", 2)
	viper.SetDefault("JOB_RETENTION", time.Hour)

	viper.SetDefault("BLOB_BACKEND", "local")
	viper.SetDefault("BLOB_LOCAL_DIR", "/blobs")
	viper.SetDefault("BLOB_PUBLIC_URL", "http://localhost:8080/blobs")
	viper.SetDefault("S3_REGION", "us-east-1")

	viper.SetDefault("FETCH_TIMEOUT", 20*time.Second)
	viper.SetDefault("FETCH_MAX_RETRIES", 3)
	viper.SetDefault("FETCH_BACKOFF_BASE", 500*time.Millisecond)
	viper.SetDefault("FETCH_HOST_LIMIT", 4)

	viper.SetDefault("RESOLVE_DEADLINE", 8*time.Second)
	viper.SetDefault("RESOLVE_GRACE", 750*time.Millisecond)

	viper.SetDefault("FPCALC_PATH", "fpcalc")

	viper.SetDefault("MATCH_SHORT_THRESHOLD", 24)
	viper.SetDefault("MATCH_LONG_THRESHOLD", 12)
	viper.SetDefault("MATCH_SHORT_FRAMES", 20)
	viper.SetDefault("MATCH_DURATION_MARGIN_MS", 500)
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()
	setDefaults()

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	slog.Info("Loaded configuration",
		"webserver_port", cfg.WebServerPort,
		"spool_dir", cfg.SpoolDir,
		"blob_backend", cfg.Blob.Backend,
		"ingest_workers", cfg.IngestWorkers,
		"derive_workers", cfg.DeriveWorkers,
		"fingerprint_remote", cfg.Fingerprint.ServiceURL != "",
	)

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
