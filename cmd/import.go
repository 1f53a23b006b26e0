package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vgrid/internal/ingest"
)

func newImportCmd(a *app) *cobra.Command {
	var selector, idPath string
	cmd := &cobra.Command{
		Use:   "import [data.json] [output.db]",
		Short: "Build a SQLite results table from a JSON dataset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, name, err := localFS(args[0])
			if err != nil {
				return err
			}
			records, err := ingest.LoadJSON(fs, name, selector)
			if err != nil {
				return err
			}
			var ids func(int, any) string
			if idPath != "" {
				if ids, err = ingest.PathID(idPath); err != nil {
					return err
				}
			}

			start := time.Now()
			n, err := ingest.WriteResults(cmd.Context(), args[1], records, ids, a.logger)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			a.logger.Info("import finished", "records", n, "output", args[1], "elapsed", time.Since(start))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records into %s\n", n, args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&selector, "select", ingest.DefaultSelector, "JSONPath selecting the records")
	cmd.Flags().StringVar(&idPath, "id", "", "JSONPath of the record id (default: position)")
	return cmd
}
