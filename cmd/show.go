package cmd

import (
	"github.com/spf13/cobra"

	"github.com/agentic-research/vgrid/internal/row"
)

func newShowCmd(a *app) *cobra.Command {
	var (
		flags        gridFlags
		start, count int
	)
	cmd := &cobra.Command{
		Use:   "show [dataset]",
		Short: "Print the flattened rows of a grouped dataset",
		Long: `Load a JSON dataset or SQLite results table, group it, and print the
flattened rows including group headers and summary rows.

  vgrid show sales.json --group region --sum value
  vgrid show sales.db --layout grid.json --toggle 0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.buildGrid(cmd.Context(), args[0], &flags)
			if err != nil {
				return err
			}
			n := count
			if n <= 0 {
				n = g.src.RowCount() - start
			}
			var rows []row.Row
			if n > 0 {
				page, err := g.src.GetPage(cmd.Context(), row.PageRequest{Start: start, Count: n})
				if err != nil {
					return err
				}
				rows = page.Items
			}
			renderRows(cmd.OutOrStdout(), rows, start, g.columns, g.reg)
			a.logger.Debug("rows rendered", "start", start, "rows", len(rows), "total", g.src.RowCount())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&start, "start", 0, "First row to print")
	cmd.Flags().IntVar(&count, "count", 0, "Rows to print (default: all)")
	return cmd
}
