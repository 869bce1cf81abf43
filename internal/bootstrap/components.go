package bootstrap

import (
	"context"
	"fmt"

	"github.com/tachyon-beep/elspeth/internal/config"
	"github.com/tachyon-beep/elspeth/internal/elslog"
	"github.com/tachyon-beep/elspeth/internal/landscape"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/queue"
	"github.com/tachyon-beep/elspeth/internal/telemetry"
)

// Components holds every initialized engine dependency a cmd/elspeth verb
// needs: the Landscape store, the payload blob store, the work queue, the
// rate-limit registry, and optional telemetry.
type Components struct {
	Config    *config.Config
	Logger    *elslog.Logger
	DB        *landscape.DB
	Store     *landscape.Store
	Payloads  *landscape.PayloadStore
	Queue     queue.Queue
	Limiters  plugin.LimiterRegistry
	Telemetry *telemetry.Telemetry

	cleanupFuncs []func() error
}

// Shutdown runs every registered cleanup in LIFO order, so components
// initialized later (which may depend on earlier ones) tear down first.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks the Landscape store's reachability. The queue and
// telemetry components are either in-process or self-reporting via their
// own metrics and don't need a separate health probe here.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("landscape store unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
