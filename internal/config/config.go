package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	// Server
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// NATS / storage. With NATS_EMBEDDED the daemon runs its own
	// in-process JetStream server and needs no external broker.
	NatsURL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsEmbedded bool   `env:"NATS_EMBEDDED" envDefault:"false"`
	NatsStoreDir string `env:"NATS_STORE_DIR" envDefault:"./data"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	// LogFile enables size-rotated file logging in addition to stdout.
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`

	// Intake authentication
	SourcesConfigPath  string        `env:"SOURCES_CONFIG_PATH,required"`
	SignatureTolerance time.Duration `env:"SIGNATURE_TOLERANCE" envDefault:"5m"`
	// AppendRetries bounds internal retries of a durable append before
	// the caller gets a 503.
	AppendRetries int `env:"APPEND_RETRIES" envDefault:"3"`

	// Delivery scheduler
	DeliverURL      string        `env:"DELIVER_URL"`
	DeliverSecret   string        `env:"DELIVER_SECRET"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"8"`
	BackoffBase     time.Duration `env:"BACKOFF_BASE" envDefault:"10s"`
	BackoffCap      time.Duration `env:"BACKOFF_CAP" envDefault:"30m"`
	BackoffJitter   float64       `env:"BACKOFF_JITTER" envDefault:"0.2"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"30s"`
	DeliveryWorkers int           `env:"DELIVERY_WORKERS" envDefault:"4"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s"`
	// InFlightTimeout is the staleness bound after which a claimed but
	// unacknowledged delivery is treated as crashed and re-scheduled.
	InFlightTimeout time.Duration `env:"INFLIGHT_TIMEOUT" envDefault:"2m"`

	// CORS (admin API)
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
