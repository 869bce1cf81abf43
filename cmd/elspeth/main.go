// Command elspeth is the CLI entrypoint: validate | run | explain | serve.
// Exit codes: 0 success; 1 user error (config invalid, unreachable node);
// 2 runtime error; 3 partial (some rows quarantined); 64 unexpected.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tachyon-beep/elspeth/cmd/elspeth/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "elspeth",
		Short: "ELSPETH row-processing engine",
		Long: `ELSPETH drives rows through a configured DAG of sources, transforms,
gates and sinks, recording an auditable lineage of every token's path.

Commands:
  validate   parse config, build and validate the graph
  run        execute a pipeline run
  explain    print a row or token's recorded lineage
  serve      expose a read-only HTTP facade over the landscape store`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		commands.NewValidateCommand(),
		commands.NewRunCommand(),
		commands.NewExplainCommand(),
		commands.NewServeCommand(),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(commands.ExitCodeFor(err))
	}
}
