package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tachyon-beep/elspeth/internal/graph"
	"github.com/tachyon-beep/elspeth/internal/pipeline"
	"github.com/tachyon-beep/elspeth/internal/plugin"
	"github.com/tachyon-beep/elspeth/internal/plugin/builtin"
)

// NewValidateCommand builds the `validate` verb: parse config, build and
// validate the graph, exit 0 on success or 1 on any user-facing problem,
// including schema incompatibilities detected at build time.
func NewValidateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse config, build and validate the pipeline graph",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			g, _, err := pipeline.Compile(settings, reg)
			if err != nil {
				return UserError(err)
			}

			if err := g.Validate(); err != nil {
				return UserError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "settings valid: %d nodes, %d edges\n", len(g.Nodes), len(g.Edges))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the pipeline settings document (required)")
	cmd.MarkFlagRequired("config")

	return cmd
}
