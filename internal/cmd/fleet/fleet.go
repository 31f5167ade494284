// Package fleet parses fleet command configuration and starts the fleet
// process.
package fleet

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/motorpool/internal/platform/cmd"
	server "github.com/louisbranch/motorpool/internal/services/fleet/app"
	"github.com/louisbranch/motorpool/internal/services/fleet/projection"
	"github.com/louisbranch/motorpool/internal/services/fleet/service"
)

// Config holds fleet command configuration.
type Config struct {
	HTTPAddr   string `env:"MOTORPOOL_FLEET_HTTP_ADDR" envDefault:":8080"`
	HealthPort int    `env:"MOTORPOOL_FLEET_HEALTH_PORT" envDefault:"8090"`

	EventsBackend string `env:"MOTORPOOL_FLEET_EVENTS_BACKEND" envDefault:"sqlite"`
	EventsDBPath  string `env:"MOTORPOOL_FLEET_EVENTS_DB_PATH" envDefault:"data/fleet-events.db"`
	PostgresDSN   string `env:"MOTORPOOL_FLEET_POSTGRES_DSN"`

	ProjectionsBackend string `env:"MOTORPOOL_FLEET_PROJECTIONS_BACKEND" envDefault:"sqlite"`
	ProjectionsDBPath  string `env:"MOTORPOOL_FLEET_PROJECTIONS_DB_PATH" envDefault:"data/fleet-projections.db"`
	MongoURI           string `env:"MOTORPOOL_FLEET_MONGO_URI"`
	MongoDatabase      string `env:"MOTORPOOL_FLEET_MONGO_DATABASE" envDefault:"motorpool"`

	ProjectionsEnabled bool          `env:"MOTORPOOL_FLEET_PROJECTIONS_ENABLED" envDefault:"true"`
	BatchSize          int           `env:"MOTORPOOL_FLEET_BATCH_SIZE" envDefault:"100"`
	PollInterval       time.Duration `env:"MOTORPOOL_FLEET_POLL_INTERVAL" envDefault:"500ms"`
	RetryBackoff       time.Duration `env:"MOTORPOOL_FLEET_RETRY_BACKOFF" envDefault:"1s"`
	RetryMaxDelay      time.Duration `env:"MOTORPOOL_FLEET_RETRY_MAX_DELAY" envDefault:"1m"`
	ApplyTimeout       time.Duration `env:"MOTORPOOL_FLEET_APPLY_TIMEOUT" envDefault:"30s"`
	TransientRetries   int           `env:"MOTORPOOL_FLEET_TRANSIENT_RETRIES" envDefault:"5"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.IntVar(&cfg.HealthPort, "health-port", cfg.HealthPort, "gRPC health server port")
	fs.StringVar(&cfg.EventsBackend, "events-backend", cfg.EventsBackend, "Event store backend (sqlite, postgres)")
	fs.StringVar(&cfg.ProjectionsBackend, "projections-backend", cfg.ProjectionsBackend, "Projection store backend (sqlite, mongo, memory)")
	fs.BoolVar(&cfg.ProjectionsEnabled, "projections", cfg.ProjectionsEnabled, "Run projection runners in this process")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.TransientRetries < 0 {
		return Config{}, fmt.Errorf("transient retries must not be negative, got %d", cfg.TransientRetries)
	}
	return cfg, nil
}

// ServerConfig converts command configuration into the process config.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		HTTPAddr:   c.HTTPAddr,
		HealthAddr: fmt.Sprintf(":%d", c.HealthPort),
		Storage: server.StorageConfig{
			EventsBackend:      c.EventsBackend,
			EventsDBPath:       c.EventsDBPath,
			PostgresDSN:        c.PostgresDSN,
			ProjectionsBackend: c.ProjectionsBackend,
			ProjectionsDBPath:  c.ProjectionsDBPath,
			MongoURI:           c.MongoURI,
			MongoDatabase:      c.MongoDatabase,
		},
		ProjectionsEnabled: c.ProjectionsEnabled,
		Projection: projection.Options{
			BatchSize:        c.BatchSize,
			PollInterval:     c.PollInterval,
			RetryBackoff:     c.RetryBackoff,
			RetryMaxDelay:    c.RetryMaxDelay,
			ApplyTimeout:     c.ApplyTimeout,
			TransientRetries: c.TransientRetries,
		},
		Service: service.Options{
			TransientRetries: c.TransientRetries,
			RetryMaxDelay:    time.Second,
		},
	}
}

// Run starts the fleet process.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceFleet, func(ctx context.Context) error {
		return server.Run(ctx, cfg.ServerConfig())
	})
}
