package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentic-research/vgrid/internal/groupstate"
	"github.com/agentic-research/vgrid/internal/mcpserver"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		flags     gridFlags
		transport string
		addr      string
	)
	cmd := &cobra.Command{
		Use:   "serve [dataset]",
		Short: "Expose a grouped dataset as MCP tools",
		Long: `Serve grid_rows, grid_toggle, grid_group and grid_layout over MCP.
With --layout, grid_layout can persist the current layout back to that file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, err := a.buildGrid(ctx, args[0], &flags)
			if err != nil {
				return err
			}
			svc := mcpserver.NewService(g.src, g.reg, g.columns, g.aggregates)
			if flags.layoutPath != "" {
				fs, name, err := localFS(flags.layoutPath)
				if err != nil {
					return err
				}
				svc.WithLayoutFile(groupstate.LayoutFile{FS: fs, Path: name})
			}
			return mcpserver.Runner{
				Service:        svc,
				Name:           "vgrid",
				Version:        "dev",
				Logger:         a.logger,
				Transport:      mcpserver.Transport(transport),
				HTTPListenAddr: addr,
			}.Do(ctx)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&transport, "transport", string(mcpserver.TransportStdio), "MCP transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address for the http transport")
	return cmd
}
