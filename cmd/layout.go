package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/agentic-research/vgrid/internal/groupstate"
)

func newLayoutCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Save and inspect grouping layouts",
	}
	cmd.AddCommand(newLayoutSaveCmd(a), newLayoutShowCmd())
	return cmd
}

func newLayoutSaveCmd(a *app) *cobra.Command {
	var flags gridFlags
	cmd := &cobra.Command{
		Use:   "save [dataset] [layout.json]",
		Short: "Group a dataset and persist the grouping layout with its expansion state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.buildGrid(cmd.Context(), args[0], &flags)
			if err != nil {
				return err
			}
			fs, name, err := localFS(args[1])
			if err != nil {
				return err
			}
			if err := (groupstate.LayoutFile{FS: fs, Path: name}).Save(g.src.Store()); err != nil {
				return err
			}
			a.logger.Info("layout saved", "path", args[1], "groups", len(g.src.Store().Descriptors()))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved layout to %s\n", args[1])
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newLayoutShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [layout.json]",
		Short: "Print a layout file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, name, err := localFS(args[0])
			if err != nil {
				return err
			}
			store := groupstate.NewStore()
			found, err := groupstate.LayoutFile{FS: fs, Path: name}.Load(store)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("layout %s: file not found", filepath.Clean(args[0]))
			}
			layout := store.CreateSnapshot().Layout()

			w := cmd.OutOrStdout()
			groups := uitable.New()
			groups.Separator = "  "
			groups.AddRow(headerStyle.Sprint("level"), headerStyle.Sprint("column"),
				headerStyle.Sprint("direction"), headerStyle.Sprint("expanded"))
			for i, gl := range layout.Groups {
				groups.AddRow(i, gl.ColumnKey, gl.SortDirection, gl.DefaultExpanded)
			}
			_, _ = fmt.Fprintf(w, "version %d\n", layout.Version)
			_, _ = fmt.Fprintln(w, groups)

			states := uitable.New()
			states.Separator = "  "
			states.AddRow(headerStyle.Sprint("path"), headerStyle.Sprint("expanded"))
			for _, st := range layout.ExpansionStates {
				states.AddRow(st.Path, st.IsExpanded)
			}
			_, _ = fmt.Fprintln(w, states)
			return nil
		},
	}
}
