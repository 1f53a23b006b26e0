package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/agentic-research/vgrid/internal/provider"
	"github.com/agentic-research/vgrid/internal/row"
	"github.com/agentic-research/vgrid/internal/viewport"
)

func parseViewport(s string, radius int) (row.ViewportRequest, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return row.ViewportRequest{}, fmt.Errorf("invalid viewport %q, want start:count", s)
	}
	start, err := strconv.Atoi(a)
	if err != nil {
		return row.ViewportRequest{}, fmt.Errorf("viewport %q: %w", s, err)
	}
	count, err := strconv.Atoi(b)
	if err != nil {
		return row.ViewportRequest{}, fmt.Errorf("viewport %q: %w", s, err)
	}
	v := row.ViewportRequest{Start: start, Count: count, PrefetchRadius: radius}
	return v, v.Validate()
}

func newScrollCmd(a *app) *cobra.Command {
	var (
		viewports []string
		radius    int
		cacheSize int
	)
	cmd := &cobra.Command{
		Use:   "scroll [results.db]",
		Short: "Drive the row scheduler over a SQLite results table",
		Long: `Replay a sequence of viewports against a SQLite-backed page provider and
report what the scheduler admitted, dropped and materialized.

  vgrid scroll sales.db --viewport 0:40 --viewport 35:40 --viewport 1000:40`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("radius") {
				radius = a.cfg.Virtualization.PrefetchRadius
			}
			if len(viewports) == 0 {
				viewports = []string{fmt.Sprintf("0:%d", max(1, a.cfg.Virtualization.PageSize))}
			}
			reqs := make([]row.ViewportRequest, len(viewports))
			for i, s := range viewports {
				v, err := parseViewport(s, radius)
				if err != nil {
					return err
				}
				reqs[i] = v
			}

			src, err := provider.OpenSQLite(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }() // safe to ignore

			opts := []provider.CachedOption{provider.WithLogger(a.logger)}
			if cacheSize > 0 {
				opts = append(opts, provider.WithCacheSize(cacheSize))
			}
			if a.cfg.Virtualization.ShowPlaceholderSkeletons {
				opts = append(opts, provider.WithPlaceholders(func(int) provider.Record { return provider.Record{} }))
			}
			rows, err := provider.NewCached[provider.Record](src, opts...)
			if err != nil {
				return err
			}
			defer func() { _ = rows.Close() }() // safe to ignore

			sched := viewport.New[provider.Record](viewport.Rows, rows, a.cfg.Virtualization.Scheduler(), viewport.WithLogger(a.logger))
			defer sched.Dispose()

			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.AddRow(headerStyle.Sprint("viewport"), headerStyle.Sprint("gen"), headerStyle.Sprint("admitted"),
				headerStyle.Sprint("dropped"), headerStyle.Sprint("progress"), headerStyle.Sprint("cached"))
			for _, v := range reqs {
				pass, err := sched.Request(v)
				if err != nil {
					return err
				}
				sched.Wait()
				p := sched.Snapshot()
				label := fmt.Sprintf("%d:%d", v.Start, v.Count)
				if pass.Skipped {
					label += " (unchanged)"
				}
				tbl.AddRow(label, pass.Generation, pass.Admitted, pass.Dropped,
					fmt.Sprintf("%d/%d", p.Completed, p.Target), rows.Materialized())
			}

			if cols := a.cfg.Columns; len(cols) > 0 {
				colSrc, err := provider.NewColumnSource(cols)
				if err != nil {
					return err
				}
				colSched := viewport.NewColumnScheduler(colSrc, a.cfg.Virtualization.Scheduler(), viewport.WithLogger(a.logger))
				if _, err := colSched.Request(row.ViewportRequest{Start: 0, Count: len(cols)}); err != nil {
					return err
				}
				colSched.Wait()
				colSched.Dispose()
				_ = colSrc.Close()
				a.logger.Debug("columns materialized", "columns", colSrc.Materialized())
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records\n", args[0], rows.Count())
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), tbl)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&viewports, "viewport", nil, "Viewport start:count, repeatable (default 0:page_size)")
	cmd.Flags().IntVar(&radius, "radius", 0, "Prefetch radius (default from config)")
	cmd.Flags().IntVar(&cacheSize, "cache", 0, "Cached records (default provider size)")
	return cmd
}
