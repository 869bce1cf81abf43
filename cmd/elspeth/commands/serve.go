package commands

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/tachyon-beep/elspeth/internal/bootstrap"
	"github.com/tachyon-beep/elspeth/internal/landscape"
)

// NewServeCommand builds the `serve` verb: a read-only HTTP facade over
// the landscape store for operator tooling, exposing the same lineage
// queries as the explain verb over HTTP.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose a read-only HTTP facade over the landscape store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			components, err := bootstrap.Setup(ctx, "elspeth-serve", bootstrap.WithoutQueue(), bootstrap.WithoutLimiters())
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer components.Shutdown(ctx)

			e := echo.New()
			e.HideBanner = true
			e.Use(middleware.Logger())
			e.Use(middleware.Recover())
			e.Use(middleware.RequestID())

			e.GET("/health", func(c echo.Context) error {
				if err := components.Health(c.Request().Context()); err != nil {
					return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				}
				return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "elspeth"})
			})

			registerExplainRoutes(e, components.Store)

			port := components.Config.Service.Port
			components.Logger.Info("starting explain facade", "port", port)
			if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func registerExplainRoutes(e *echo.Echo, store *landscape.Store) {
	rows := e.Group("/api/v1/rows")
	rows.GET("/:id/lineage", func(c echo.Context) error {
		lineage, err := store.LineageForRow(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, lineage)
	})

	tokens := e.Group("/api/v1/tokens")
	tokens.GET("/:id/lineage", func(c echo.Context) error {
		lineage, err := store.LineageForToken(c.Request().Context(), c.Param("id"))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, lineage)
	})
}
