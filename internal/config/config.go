// Package config loads vgrid settings from HCL files.
//
//	virtualization {
//	  page_size            = 50
//	  prefetch_radius      = 25
//	  max_concurrent_loads = 4
//	}
//	log { level = "debug" }
//	column "region" { path = "$.region"  header = "Region" }
//	group "region" { sort_direction = "descending" }
//	aggregate "value" { function = "sum"  placement = "both" }
package config

import (
	"errors"
	"fmt"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/agentic-research/vgrid/api"
	"github.com/agentic-research/vgrid/internal/row"
	"github.com/agentic-research/vgrid/internal/viewport"
)

// Virtualization holds the paging settings. The two Show flags are UI hints
// carried through for hosts; nothing in the engine reads them.
type Virtualization struct {
	PageSize                 int
	PrefetchRadius           int
	MaxPages                 int
	MaxConcurrentLoads       int
	ResetThrottleDelayMS     int
	ShowLoadingOverlay       bool
	ShowPlaceholderSkeletons bool
}

// Scheduler converts the block into scheduler settings.
func (v Virtualization) Scheduler() viewport.Settings {
	return viewport.Settings{
		PageSize:           v.PageSize,
		MaxPages:           v.MaxPages,
		MaxConcurrentLoads: v.MaxConcurrentLoads,
		ResetThrottle:      time.Duration(v.ResetThrottleDelayMS) * time.Millisecond,
	}
}

// Log selects the slog handler.
type Log struct {
	Level  string
	Format string
}

// Aggregate is a configured aggregate column.
type Aggregate struct {
	Column    string
	Function  string
	Placement string
}

// Config is the decoded configuration.
type Config struct {
	Virtualization Virtualization
	Log            Log
	Columns        []row.Column
	Groups         []api.GroupLayout
	Aggregates     []Aggregate
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Virtualization: Virtualization{
			PageSize:                 50,
			PrefetchRadius:           25,
			MaxConcurrentLoads:       4,
			ResetThrottleDelayMS:     150,
			ShowLoadingOverlay:       true,
			ShowPlaceholderSkeletons: true,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Validate rejects negative sizes and unknown log settings.
func (c Config) Validate() error {
	v := c.Virtualization
	var errs []error
	for _, f := range []struct {
		name string
		n    int
	}{
		{"page_size", v.PageSize},
		{"prefetch_radius", v.PrefetchRadius},
		{"max_pages", v.MaxPages},
		{"max_concurrent_loads", v.MaxConcurrentLoads},
		{"reset_throttle_delay_ms", v.ResetThrottleDelayMS},
	} {
		if f.n < 0 {
			errs = append(errs, fmt.Errorf("virtualization.%s must not be negative, got %d", f.name, f.n))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	seen := make(map[string]bool)
	for _, col := range c.Columns {
		if seen[col.Key] {
			errs = append(errs, fmt.Errorf("column %q defined twice", col.Key))
		}
		seen[col.Key] = true
	}
	return errors.Join(errs...)
}

type fileRoot struct {
	Virtualization *virtualizationBlock `hcl:"virtualization,block"`
	Log            *logBlock            `hcl:"log,block"`
	Columns        []*columnBlock       `hcl:"column,block"`
	Groups         []*groupBlock        `hcl:"group,block"`
	Aggregates     []*aggregateBlock    `hcl:"aggregate,block"`
}

type virtualizationBlock struct {
	PageSize                 *int  `hcl:"page_size,optional"`
	PrefetchRadius           *int  `hcl:"prefetch_radius,optional"`
	MaxPages                 *int  `hcl:"max_pages,optional"`
	MaxConcurrentLoads       *int  `hcl:"max_concurrent_loads,optional"`
	ResetThrottleDelayMS     *int  `hcl:"reset_throttle_delay_ms,optional"`
	ShowLoadingOverlay       *bool `hcl:"show_loading_overlay,optional"`
	ShowPlaceholderSkeletons *bool `hcl:"show_placeholder_skeletons,optional"`
}

type logBlock struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

type columnBlock struct {
	Key    string  `hcl:"key,label"`
	Path   *string `hcl:"path,optional"`
	Header *string `hcl:"header,optional"`
	Width  *int    `hcl:"width,optional"`
}

type groupBlock struct {
	Column          string            `hcl:"column,label"`
	SortDirection   *string           `hcl:"sort_direction,optional"`
	DefaultExpanded *bool             `hcl:"default_expanded,optional"`
	Metadata        map[string]string `hcl:"metadata,optional"`
}

type aggregateBlock struct {
	Column    string  `hcl:"column,label"`
	Function  string  `hcl:"function"`
	Placement *string `hcl:"placement,optional"`
}

// Parse decodes HCL source on top of the defaults.
func Parse(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	cfg := Default()
	if v := root.Virtualization; v != nil {
		setInt(&cfg.Virtualization.PageSize, v.PageSize)
		setInt(&cfg.Virtualization.PrefetchRadius, v.PrefetchRadius)
		setInt(&cfg.Virtualization.MaxPages, v.MaxPages)
		setInt(&cfg.Virtualization.MaxConcurrentLoads, v.MaxConcurrentLoads)
		setInt(&cfg.Virtualization.ResetThrottleDelayMS, v.ResetThrottleDelayMS)
		setBool(&cfg.Virtualization.ShowLoadingOverlay, v.ShowLoadingOverlay)
		setBool(&cfg.Virtualization.ShowPlaceholderSkeletons, v.ShowPlaceholderSkeletons)
	}
	if l := root.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
		setString(&cfg.Log.Format, l.Format)
	}
	for _, c := range root.Columns {
		col := row.Column{Key: c.Key, Header: c.Key, Path: "$." + c.Key}
		setString(&col.Path, c.Path)
		setString(&col.Header, c.Header)
		setInt(&col.Width, c.Width)
		cfg.Columns = append(cfg.Columns, col)
	}
	for _, g := range root.Groups {
		gl := api.GroupLayout{ColumnKey: g.Column, DefaultExpanded: true, Metadata: g.Metadata}
		setString(&gl.SortDirection, g.SortDirection)
		setBool(&gl.DefaultExpanded, g.DefaultExpanded)
		cfg.Groups = append(cfg.Groups, gl)
	}
	for _, a := range root.Aggregates {
		agg := Aggregate{Column: a.Column, Function: a.Function}
		setString(&agg.Placement, a.Placement)
		cfg.Aggregates = append(cfg.Aggregates, agg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", filename, err)
	}
	return cfg, nil
}

// Load reads and parses path from fs.
func Load(fs billy.Filesystem, path string) (Config, error) {
	src, err := util.ReadFile(fs, path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(src, path)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
