package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tachyon-beep/elspeth/internal/bootstrap"
	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/landscape"
	"github.com/tachyon-beep/elspeth/internal/orchestrator"
	"github.com/tachyon-beep/elspeth/internal/pipeline"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/plugin/builtin"
	"github.com/tachyon-beep/elspeth/internal/processor"
	"github.com/tachyon-beep/elspeth/internal/sysinfo"
	"github.com/tachyon-beep/elspeth/internal/token"
)

// NewRunCommand builds the `run` verb: compile and validate the graph,
// then drive every source row through it, recording lineage to the
// Landscape store.
func NewRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := os.ReadFile(configPath)
			if err != nil {
				return UserError(fmt.Errorf("read config: %w", err))
			}
			settings, err := graph.ParseSettings(data)
			if err != nil {
				return UserError(fmt.Errorf("parse settings: %w", err))
			}

			reg := plugin.NewRegistry()
			builtin.Register(reg)

			g, plugins, err := pipeline.Compile(settings, reg)
			if err != nil {
				return UserError(err)
			}
			if err := g.Validate(); err != nil {
				return UserError(err)
			}

			components, err := bootstrap.Setup(ctx, "elspeth-run")
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer components.Shutdown(ctx)

			info := sysinfo.Capture()
			components.Logger.Info("starting run",
				"host", info.Hostname, "os", info.OSVersion, "cpus", info.CPULogical, "memory_mb", info.TotalMemoryMB)

			runID := uuid.NewString()
			if err := components.Store.CreateRun(ctx, &landscape.Run{
				RunID:             runID,
				Status:            "running",
				ConfigFingerprint: fmt.Sprintf("%x", len(data)),
			}); err != nil {
				return fmt.Errorf("create run: %w", err)
			}

			proc := processor.New(components.Store, components.Payloads, components.Config.Retry, components.Logger)
			tokens := token.NewManager(components.Store)

			orch := orchestrator.New(g, plugins, proc, tokens, components.Store, components.Queue, components.Config.Queue, components.Logger)

			runErr := orch.Run(ctx, runID, "source")

			status := "completed"
			if runErr != nil {
				status = "failed"
			}
			if err := components.Store.FinishRun(ctx, runID, status); err != nil {
				components.Logger.Error("failed to finish run", "error", err)
			}

			if runErr != nil {
				return fmt.Errorf("run %s: %w", runID, runErr)
			}

			nonSuccess, err := components.Store.NonSuccessOutcomeCount(ctx, runID)
			if err != nil {
				components.Logger.Error("failed to count quarantined/failed outcomes", "error", err)
			}
			if nonSuccess > 0 {
				return PartialError(fmt.Errorf("run %s: %d row(s) quarantined or failed", runID, nonSuccess))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "run %s completed\n", runID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the pipeline settings document (required)")
	cmd.MarkFlagRequired("config")

	return cmd
}
