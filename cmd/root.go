package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/vgrid/internal/config"
)

// app carries the flag values and loaded configuration of one invocation.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default(), logger: slog.Default()}
	root := &cobra.Command{
		Use:           "vgrid",
		Short:         "vgrid: grouping, flattening and paging for virtualized grids",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to an HCL config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(
		newImportCmd(a),
		newShowCmd(a),
		newScrollCmd(a),
		newLayoutCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads the config file, applies flag overrides and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if a.configPath != "" {
		fs, name, err := localFS(a.configPath)
		if err != nil {
			return err
		}
		cfg, err := config.Load(fs, name)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if cmd.Flags().Changed("log-level") {
		a.cfg.Log.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		a.cfg.Log.Format = a.logFormat
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.logger = config.NewLogger(a.cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}

// localFS roots an OS filesystem at the directory of path and returns the
// file name within it.
func localFS(path string) (billy.Filesystem, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return osfs.New(filepath.Dir(abs)), filepath.Base(abs), nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
