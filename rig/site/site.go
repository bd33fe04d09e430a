// Package site describes a whole front-end site in one configuration file and rigs the bundler, asset copier, page
// renderer and development server from it.
package site

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/api"
	"github.com/swdunlop/pagerig/rig/assets"
	"github.com/swdunlop/pagerig/rig/discover"
	"github.com/swdunlop/pagerig/rig/esbuild"
	"github.com/swdunlop/pagerig/rig/jrpc"
	"github.com/swdunlop/pagerig/rig/pages"
	"github.com/swdunlop/pagerig/rig/www"
	"gopkg.in/yaml.v3"
)

// Config describes a site.  Relative paths are relative to the directory holding the configuration file.
type Config struct {
	// Output is the directory that receives the built site.
	Output string `yaml:"output"`

	Pages  Pages  `yaml:"pages"`
	Bundle Bundle `yaml:"bundle"`
	Copy   []Copy `yaml:"copy"`
	Serve  Serve  `yaml:"serve"`
}

// Pages describes the page templates of a site.
type Pages struct {
	// Source holds the page templates, every file below it becomes a page.
	Source string `yaml:"source"`

	// Prefix places the pages below this directory in the output.
	Prefix string `yaml:"prefix"`

	// Partials are glob patterns of layouts and fragments available to every page.
	Partials []string `yaml:"partials"`

	// FirstDot strips everything after the first dot of a template name instead of only its last extension.
	FirstDot bool `yaml:"first_dot"`

	Beautify bool `yaml:"beautify"`

	// Data is made available to every template as .Data.
	Data map[string]any `yaml:"data"`
}

// Bundle describes the scripts and styles of a site.
type Bundle struct {
	Entry     []string          `yaml:"entry"`
	Alias     map[string]string `yaml:"alias"`
	Minify    bool              `yaml:"minify"`
	SourceMap *bool             `yaml:"source_map"`

	workDir string
}

// Copy describes a directory of assets to copy into the output.
type Copy struct {
	From     string   `yaml:"from"`
	To       string   `yaml:"to"`
	Patterns []string `yaml:"patterns"`
}

// Serve describes the development server.
type Serve struct {
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file is given: templates in src/app/modules render to dist/app,
// src/app.js is bundled, and src/assets/images is copied to dist/assets/images.
func Default() Config {
	return Config{
		Output: `dist`,
		Pages: Pages{
			Source:   `src/app/modules`,
			Prefix:   `app`,
			Beautify: true,
		},
		Bundle: Bundle{
			Entry: []string{`src/app.js`},
			Alias: map[string]string{`@scss`: `./src/scss`},
		},
		Copy: []Copy{
			{From: `src/assets/images`, To: `assets/images`},
		},
		Serve: Serve{Address: rig.DefaultAddress},
	}
}

// Load reads a configuration file over the defaults and resolves its relative paths.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, fmt.Errorf(`%w while parsing %q`, err, path)
	}
	cfg.Resolve(filepath.Dir(path))
	return cfg, cfg.Validate()
}

// Resolve makes the relative paths in cfg relative to dir instead.
func (cfg *Config) Resolve(dir string) {
	resolve := func(path *string) {
		if *path != `` && !filepath.IsAbs(*path) {
			*path = filepath.Join(dir, *path)
		}
	}
	resolve(&cfg.Output)
	resolve(&cfg.Pages.Source)
	for i := range cfg.Pages.Partials {
		resolve(&cfg.Pages.Partials[i])
	}
	for i := range cfg.Bundle.Entry {
		resolve(&cfg.Bundle.Entry[i])
	}
	for i := range cfg.Copy {
		resolve(&cfg.Copy[i].From)
	}
	if dir != `.` && len(cfg.Bundle.Alias) > 0 {
		// esbuild resolves aliases against its working directory
		cfg.Bundle.workDir = dir
	}
}

// Validate reports configuration that cannot be built.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Output == `` {
		errs = append(errs, errors.New(`no output directory`))
	}
	if cfg.Pages.Source == `` {
		errs = append(errs, errors.New(`no page source directory`))
	}
	for i, c := range cfg.Copy {
		if c.From == `` {
			errs = append(errs, fmt.Errorf(`copy %v has no source`, i+1))
		}
	}
	return errors.Join(errs...)
}

// Discover returns the pages the site would render.
func (cfg *Config) Discover() ([]discover.Page, error) {
	return discover.Discover(cfg.Pages.Source, cfg.discoverOptions()...)
}

func (cfg *Config) discoverOptions() []discover.Option {
	options := []discover.Option{discover.Prefix(cfg.Pages.Prefix)}
	if cfg.Pages.FirstDot {
		options = append(options, discover.WithNaming(discover.FirstDot))
	}
	return options
}

func (cfg *Config) pageOptions() []pages.Option {
	options := []pages.Option{
		pages.Source(cfg.Pages.Source),
		pages.Output(cfg.Output),
		pages.Prefix(cfg.Pages.Prefix),
		pages.Partials(cfg.Pages.Partials...),
		pages.Beautify(cfg.Pages.Beautify),
		pages.WithData(cfg.Pages.Data),
	}
	if cfg.Pages.FirstDot {
		options = append(options, pages.Naming(discover.FirstDot))
	}
	return options
}

func (cfg *Config) bundleOptions() []esbuild.Option {
	entries := make([]string, len(cfg.Bundle.Entry))
	for i, entry := range cfg.Bundle.Entry {
		entries[i] = entry
		if abs, err := filepath.Abs(entry); err == nil {
			entries[i] = abs
		}
	}
	options := []esbuild.Option{
		esbuild.EntryPoint(entries...),
		esbuild.Output(cfg.Output),
		esbuild.Minify(cfg.Bundle.Minify),
	}
	if cfg.Bundle.SourceMap != nil {
		options = append(options, esbuild.SourceMap(*cfg.Bundle.SourceMap))
	}
	for name, target := range cfg.Bundle.Alias {
		options = append(options, esbuild.Alias(name, target))
	}
	if cfg.Bundle.workDir != `` {
		dir, err := filepath.Abs(cfg.Bundle.workDir)
		if err == nil {
			options = append(options, esbuild.WorkingDir(dir))
		}
	}
	return options
}

// Options returns the rig options that build the site and keep it up to date while it is served.  Copy sources that do
// not exist are skipped with a warning.
func (cfg *Config) Options() []rig.Option {
	var options []rig.Option
	for _, c := range cfg.existingCopies(context.Background()) {
		options = append(options, assets.Rig(c.From, filepath.Join(cfg.Output, c.To), c.Patterns...))
	}
	if len(cfg.Bundle.Entry) > 0 {
		options = append(options, esbuild.Rig(cfg.bundleOptions()...))
	}
	options = append(options,
		pages.Rig(cfg.pageOptions()...),
		cfg.rpc,
		www.Rig(cfg.Output, www.Reload()),
	)
	return options
}

// RPCPath is where the site answers JSON-RPC requests while it is served.
const RPCPath = `/_rig/rpc`

// rpc offers "pages", which lists the pages of the site, and "build", which rebuilds the whole site.  Every open socket
// is sent a "built" notification after a build requested through the socket.
func (cfg *Config) rpc(r *rig.Config) error {
	hub := new(jrpc.Hub)
	return api.Rig(jrpc.API(`GET `+RPCPath,
		jrpc.Sessions(hub),
		jrpc.Fn(`pages`, func(_ *jrpc.Scope, _ struct{}) ([]discover.Page, error) {
			return cfg.Discover()
		}),
		jrpc.Fn(`build`, func(ctx *jrpc.Scope, _ struct{}) (bool, error) {
			err := r.Build(ctx)
			if err != nil {
				return false, err
			}
			r.Announce(ctx, `build`)
			hub.Broadcast(ctx, `built`, nil)
			return true, nil
		}),
	))(r)
}

func (cfg *Config) existingCopies(ctx context.Context) []Copy {
	copies := make([]Copy, 0, len(cfg.Copy))
	for _, c := range cfg.Copy {
		_, err := os.Stat(c.From)
		if err != nil {
			hog.From(ctx).Warn().Err(err).Str(`from`, c.From).Msg(`skipping assets`)
			continue
		}
		copies = append(copies, c)
	}
	return copies
}

// Build builds the site once: assets are copied, the bundle is built and then the pages are rendered.
func (cfg *Config) Build(ctx context.Context) error {
	err := os.MkdirAll(cfg.Output, 0o755)
	if err != nil {
		return err
	}
	for _, c := range cfg.existingCopies(ctx) {
		n, err := assets.Copy(ctx, c.From, filepath.Join(cfg.Output, c.To), c.Patterns...)
		if err != nil {
			return err
		}
		hog.From(ctx).Info().Str(`from`, c.From).Int(`copied`, n).Msg(`assets copied`)
	}
	if len(cfg.Bundle.Entry) > 0 {
		err = esbuild.Build(ctx, cfg.bundleOptions()...)
		if err != nil {
			return err
		}
	}
	_, err = pages.Build(ctx, cfg.pageOptions()...)
	if err != nil {
		return err
	}
	hog.From(ctx).Info().Str(`output`, cfg.Output).Msg(`site built`)
	return nil
}
