package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
	log "github.com/sirupsen/logrus"
)

func NewEngineOptions() *EngineOptions {
	opts := &EngineOptions{Ctx: context.Background(), Logger: log.StandardLogger()}
	defaults.SetDefaults(opts)
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	return opts
}

type EngineOptions struct {
	Ctx    context.Context
	Logger log.FieldLogger
	/**
	 * default: 64
	 * upper bound of executions ticked concurrently; also sizes the
	 * worker pool.
	 */
	MaxConcurrentExecutions int `default:"64"`
	/**
	 * default: true, can set it to false and *important*
	 * caller should call Engine.RunOnce() looply.
	 */
	AutoStart bool `default:"true"`
	/**
	 * default: true, only set it to false when doing debugging or testing.
	 * If TickAsync is true each runnable execution's tick is submitted to
	 * the worker pool; otherwise RunOnce ticks them inline one by one and
	 * returns after all finished.
	 */
	TickAsync bool `default:"true"`
	/**
	 * default: 10ms, the idle sleep of the auto-start poll loop between
	 * RunOnce rounds.
	 */
	PollInterval time.Duration
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// PostgreSQL store configuration.
	// If both MemStore and PostgresConfig are set, PostgresConfig takes precedence.
	PostgresConfig *PostgresConfig
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type EngineOption func(*EngineOptions)

func WithContext(ctx context.Context) EngineOption {
	return func(opts *EngineOptions) {
		opts.Ctx = ctx
	}
}

func WithLogger(logger log.FieldLogger) EngineOption {
	return func(opts *EngineOptions) {
		opts.Logger = logger
	}
}

func SetMaxConcurrentExecutions(n int) EngineOption {
	return func(opts *EngineOptions) {
		opts.MaxConcurrentExecutions = n
	}
}

func SetPollInterval(d time.Duration) EngineOption {
	return func(opts *EngineOptions) {
		opts.PollInterval = d
	}
}

func DisableAutoStart() EngineOption {
	return func(opts *EngineOptions) {
		opts.AutoStart = false
	}
}

func DisableTickAsync() EngineOption {
	return func(opts *EngineOptions) {
		opts.TickAsync = false
	}
}

func EnableMemStore() EngineOption {
	return func(opts *EngineOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig configures the engine to use the PostgreSQL store
func WithPostgresConfig(config *PostgresConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.PostgresConfig = config
	}
}
