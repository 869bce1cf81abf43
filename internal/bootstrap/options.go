package bootstrap

import (
	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/elslog"
	"github.com/tachyon-beep/elspeth/internal/landscape"
)

// Option configures the bootstrap process.
type Option func(*options)

type options struct {
	skipDB        bool
	skipQueue     bool
	skipLimiters  bool
	skipTelemetry bool
	customLogger  *elslog.Logger
	customConfig  *config.Config
	dbInitHook    func(*landscape.DB) error
}

// WithoutDB skips Landscape store initialization, for verbs that don't
// touch Postgres (e.g. a pure dry-run graph validation).
func WithoutDB() Option {
	return func(o *options) { o.skipDB = true }
}

// WithoutQueue skips work-queue initialization.
func WithoutQueue() Option {
	return func(o *options) { o.skipQueue = true }
}

// WithoutLimiters skips rate-limiter initialization.
func WithoutLimiters() Option {
	return func(o *options) { o.skipLimiters = true }
}

// WithoutTelemetry skips telemetry initialization.
func WithoutTelemetry() Option {
	return func(o *options) { o.skipTelemetry = true }
}

// WithCustomLogger uses a caller-supplied logger instead of building one
// from config, useful for tests.
func WithCustomLogger(log *elslog.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses a caller-supplied config instead of loading one
// from the environment, useful for tests.
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithDBInitHook runs a custom function right after the Landscape store
// connects, before any other component initializes (for example, to
// apply the schema against a fresh database in development).
func WithDBInitHook(hook func(*landscape.DB) error) Option {
	return func(o *options) { o.dbInitHook = hook }
}

func defaultOptions() *options {
	return &options{}
}
