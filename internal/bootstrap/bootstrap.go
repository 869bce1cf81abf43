// Package bootstrap wires the engine's components — config, logger,
// Landscape store, payload store, work queue, rate limiters, telemetry —
// in the staged order cmd/elspeth's verbs depend on.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/elslog"
	"github.com/tachyon-beep/elspeth/internal/landscape"
	"github.com/tachyon-beep/elspeth/internal/queue"
	"github.com/tachyon-beep/elspeth/internal/ratelimit"
	"github.com/tachyon-beep/elspeth/internal/telemetry"
)

// Setup initializes the components a cmd/elspeth verb needs, in
// dependency order: config, logger, Landscape store, payload store,
// work queue, rate limiters, telemetry.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Configuration.
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Logger.
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = elslog.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	}
	components.Logger.Info("initializing service", "service", serviceName)

	// 3. Landscape store (Postgres).
	if !options.skipDB {
		components.Logger.Info("connecting to landscape store")
		components.DB, err = landscape.NewDB(ctx, cfg, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to landscape store: %w", err)
		}
		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})
		components.Store = landscape.NewStore(components.DB)

		if options.dbInitHook != nil {
			components.Logger.Info("running landscape store init hook")
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("landscape store init hook failed: %w", err)
			}
		}

		components.Payloads = landscape.NewPayloadStore(cfg.Database.Database + "-payloads")
	}

	// 4. Work queue.
	if !options.skipQueue {
		components.Logger.Info("initializing work queue", "backend", cfg.Queue.Backend)
		switch cfg.Queue.Backend {
		case "memory":
			components.Queue = queue.NewMemoryQueue(cfg.Queue.HighWaterMark, components.Logger)
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
			components.Queue = queue.NewRedisQueue(client, serviceName+":tasks", cfg.Queue.HighWaterMark, components.Logger)
			components.addCleanup(client.Close)
		default:
			return nil, fmt.Errorf("unknown queue backend: %s", cfg.Queue.Backend)
		}
		components.addCleanup(func() error {
			components.Logger.Info("closing work queue")
			return components.Queue.Close()
		})
	}

	// 5. Rate limiters.
	if !options.skipLimiters {
		components.Logger.Info("initializing rate limiters", "backend", cfg.Queue.Backend)
		limitConfigs := map[string]ratelimit.Config{
			"default": {Capacity: int64(cfg.RateLimit.DefaultBurst), RefillRate: cfg.RateLimit.DefaultRPS},
		}
		switch cfg.Queue.Backend {
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr})
			components.Limiters = ratelimit.NewRedisLimiter(client, limitConfigs, components.Logger)
			components.addCleanup(client.Close)
		default:
			components.Limiters = ratelimit.NewLocalLimiter(limitConfigs)
		}
	}

	// 6. Telemetry.
	if !options.skipTelemetry && cfg.Telemetry.Enabled {
		components.Logger.Info("initializing telemetry")
		components.Telemetry = telemetry.New(cfg.Telemetry.PprofPort, cfg.Telemetry.QueueDepth, cfg.Telemetry.QueueMode, components.Logger)
		if err := components.Telemetry.Start(ctx); err != nil {
			components.Logger.Warn("failed to start telemetry", "error", err)
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"queue", components.Queue != nil,
		"limiters", components.Limiters != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error, for callers that can't
// proceed without a successfully wired Components.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}
