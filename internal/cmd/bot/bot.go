// Package bot parses bot command flags and launches the bot runtime.
package bot

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/concordbot/concord/internal/platform/cmd"
	botserver "github.com/concordbot/concord/internal/services/bot/app"
)

// Config holds bot command configuration.
type Config struct {
	Port          int           `env:"CONCORD_BOT_PORT" envDefault:"8090"`
	DataDir       string        `env:"CONCORD_BOT_DATA_DIR" envDefault:"data"`
	Consumer      string        `env:"CONCORD_BOT_CONSUMER" envDefault:"bot-dispatcher"`
	PollInterval  time.Duration `env:"CONCORD_BOT_POLL_INTERVAL" envDefault:"2s"`
	BatchSize     int           `env:"CONCORD_BOT_BATCH_SIZE" envDefault:"16"`
	LeaseTTL      time.Duration `env:"CONCORD_BOT_LEASE_TTL" envDefault:"30s"`
	MaxAttempts   int           `env:"CONCORD_BOT_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff  time.Duration `env:"CONCORD_BOT_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay time.Duration `env:"CONCORD_BOT_RETRY_MAX_DELAY" envDefault:"5m"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The bot health gRPC server port")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "The SQLite storage directory")
	fs.StringVar(&cfg.Consumer, "consumer", cfg.Consumer, "Activity event consumer name")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Activity event poll interval")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Activity events leased per poll")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "Activity event lease duration")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Maximum processing attempts before dead-letter")
	fs.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Base retry backoff delay")
	fs.DurationVar(&cfg.RetryMaxDelay, "retry-max-delay", cfg.RetryMaxDelay, "Maximum retry delay")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the bot runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceBot, func(context.Context) error {
		return botserver.Run(ctx, botserver.RuntimeConfig{
			Port:          cfg.Port,
			DataDir:       cfg.DataDir,
			Consumer:      cfg.Consumer,
			PollInterval:  cfg.PollInterval,
			BatchSize:     cfg.BatchSize,
			LeaseTTL:      cfg.LeaseTTL,
			MaxAttempts:   cfg.MaxAttempts,
			RetryBackoff:  cfg.RetryBackoff,
			RetryMaxDelay: cfg.RetryMaxDelay,
		})
	})
}
