package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tachyon-beep/elspeth/internal/bootstrap"
	"github.com/tachyon-beep/elspeth/internal/landscape"
)

// NewExplainCommand builds the `explain` verb: given a row_id or
// token_id, print the recorded lineage derived from the landscape. The
// result is stable once a run has finished.
func NewExplainCommand() *cobra.Command {
	var rowID, tokenID string

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print a row or token's recorded lineage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rowID == "" && tokenID == "" {
				return UserError(fmt.Errorf("one of --row-id or --token-id is required"))
			}

			ctx := cmd.Context()
			components, err := bootstrap.Setup(ctx, "elspeth-explain", bootstrap.WithoutQueue(), bootstrap.WithoutLimiters())
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer components.Shutdown(ctx)

			lineage, err := explainLineage(ctx, components.Store, rowID, tokenID)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(lineage, "", "  ")
			if err != nil {
				return fmt.Errorf("encode lineage: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&rowID, "row-id", "", "row ID to explain")
	cmd.Flags().StringVar(&tokenID, "token-id", "", "token ID to explain")

	return cmd
}

func explainLineage(ctx context.Context, store *landscape.Store, rowID, tokenID string) (*landscape.Lineage, error) {
	if rowID != "" {
		return store.LineageForRow(ctx, rowID)
	}
	return store.LineageForToken(ctx, tokenID)
}
