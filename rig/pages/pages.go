// Package pages renders every template found below a source directory into an HTML page.  Templates are discovered
// with the discover package, so the page for "blog/post.tmpl" is "blog/post.html" below the output directory.
package pages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"maps"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/assets"
	"github.com/swdunlop/pagerig/rig/discover"
	"github.com/swdunlop/pagerig/rig/esbuild"
	"github.com/swdunlop/pagerig/rig/hook"
	"github.com/swdunlop/pagerig/rig/watcher"
)

// Data is passed to every page template.
type Data struct {
	// Page describes the page being rendered.
	Page discover.Page

	// Root is the relative path from the page to the output directory, such as "../" for "app/index.html", and is
	// empty for pages at the top of the output directory.
	Root string

	// Data is the site data supplied with the Data option.
	Data any
}

// An Option adjusts how pages are rendered.
type Option func(*config)

type config struct {
	source   string
	output   string
	partials []string
	beautify bool
	data     any
	funcs    template.FuncMap
	discover []discover.Option
	rig      *rig.Config // set by Rig
}

// Source sets the directory that holds the page templates.  Every file below it is rendered as a page.
func Source(dir string) Option {
	return func(cfg *config) { cfg.source = dir }
}

// Output sets the directory that pages are written to.
func Output(dir string) Option {
	return func(cfg *config) { cfg.output = dir }
}

// Prefix places pages below dest in the output directory.
func Prefix(dest string) Option {
	return func(cfg *config) { cfg.discover = append(cfg.discover, discover.Prefix(dest)) }
}

// Naming selects how template names are split from their extensions.
func Naming(naming discover.Naming) Option {
	return func(cfg *config) { cfg.discover = append(cfg.discover, discover.WithNaming(naming)) }
}

// Partials adds glob patterns for templates that are parsed alongside every page, so pages can use {{template}} to
// include layouts and fragments.  Partials should live outside the source directory or they will be rendered as pages.
func Partials(patterns ...string) Option {
	return func(cfg *config) { cfg.partials = append(cfg.partials, patterns...) }
}

// Beautify reindents rendered pages.
func Beautify(ok bool) Option {
	return func(cfg *config) { cfg.beautify = ok }
}

// WithData supplies the value available to templates as .Data.
func WithData(data any) Option {
	return func(cfg *config) { cfg.data = data }
}

// Funcs adds functions to every page template.
func Funcs(funcs template.FuncMap) Option {
	return func(cfg *config) { maps.Copy(cfg.funcs, funcs) }
}

func newConfig(options ...Option) (*config, error) {
	cfg := &config{funcs: template.FuncMap{
		"safe": func(s string) template.HTML {
			return template.HTML(s) //nolint:gosec
		},
	}}
	for _, option := range options {
		option(cfg)
	}
	if cfg.source == `` {
		return nil, errors.New(`pages: no source directory specified`)
	}
	if cfg.output == `` {
		return nil, errors.New(`pages: no output directory specified`)
	}
	for _, pattern := range cfg.partials {
		_, err := filepath.Match(pattern, ``)
		if err != nil {
			return nil, fmt.Errorf(`%w in %q`, err, pattern)
		}
	}
	return cfg, nil
}

// Build renders every page found below the source directory and returns the pages that were written.
func Build(ctx context.Context, options ...Option) ([]discover.Page, error) {
	cfg, err := newConfig(options...)
	if err != nil {
		return nil, err
	}
	return cfg.build(ctx)
}

func (cfg *config) build(ctx context.Context) ([]discover.Page, error) {
	pages, err := discover.Discover(cfg.source, cfg.discover...)
	if err != nil {
		return nil, err
	}
	layouts, err := cfg.layouts()
	if err != nil {
		return nil, err
	}
	for _, page := range pages {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = cfg.render(page, layouts)
		if err != nil {
			return nil, fmt.Errorf(`%w while rendering %q`, err, page.Template)
		}
	}
	hog.From(ctx).Info().Str(`source`, cfg.source).Int(`pages`, len(pages)).Msg(`pages rendered`)
	return pages, nil
}

// layouts parses the partials once; every page is parsed into its own clone of the result so that definitions in the
// page replace blocks of the same name in the partials.
func (cfg *config) layouts() (*template.Template, error) {
	layouts := template.New(``).Funcs(cfg.funcs)
	var files []string
	for _, pattern := range cfg.partials {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return layouts, nil
	}
	return layouts.ParseFiles(files...)
}

func (cfg *config) render(page discover.Page, layouts *template.Template) error {
	src, err := os.ReadFile(page.Template)
	if err != nil {
		return err
	}
	tmpl, err := layouts.Clone()
	if err != nil {
		return err
	}
	// named by full path, partials are named by base name
	tmpl, err = tmpl.New(page.Template).Parse(string(src))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, Data{
		Page: page,
		Root: strings.Repeat(`../`, strings.Count(page.Output, `/`)),
		Data: cfg.data,
	})
	if err != nil {
		return err
	}
	out := buf.Bytes()
	if cfg.beautify {
		out, err = Pretty(out)
		if err != nil {
			return err
		}
	}

	name := filepath.Join(cfg.output, filepath.FromSlash(path.Clean(`/` + page.Output)))
	err = os.MkdirAll(filepath.Dir(name), 0o755)
	if err != nil {
		return err
	}
	return os.WriteFile(name, out, 0o644)
}

// Rig returns a rig option that renders pages before the rig starts serving, after any bundle and assets, and again
// whenever a template changes.  Changes to the rendered pages are announced to pages watching the rig.
func Rig(options ...Option) rig.Option {
	return func(r *rig.Config) error {
		cfg, err := newConfig(options...)
		if err != nil {
			return err
		}
		cfg.rig = r
		r.Hook(cfg)
		return r.Watch(cfg.output, `*.html`)
	}
}

var (
	_ hook.Builder   = (*config)(nil)
	_ hook.Starter   = (*config)(nil)
	_ hook.Dependent = (*config)(nil)
)

// DependsOn implements hook.Dependent so pages render after the bundle and assets they reference.
func (cfg *config) DependsOn() []string { return []string{esbuild.Provides, assets.Provides} }

// RigBuild implements hook.Builder.
func (cfg *config) RigBuild(ctx context.Context) error {
	_, err := cfg.build(ctx)
	return err
}

// RigStart implements hook.Starter by rendering pages again whenever a template or partial changes.
func (cfg *config) RigStart(ctx context.Context) error {
	dirs := []string{cfg.source}
	for _, pattern := range cfg.partials {
		dir := filepath.Dir(pattern)
		if _, err := os.Stat(dir); err == nil && !strings.ContainsAny(dir, `*?[`) {
			dirs = append(dirs, dir)
		}
	}
	wr, err := watcher.Start(watcher.Directory(dirs...))
	if err != nil {
		return err
	}
	go func() {
		defer wr.Shutdown()
		for {
			select {
			case <-ctx.Done():
				return
			case <-wr.Alert():
				err := cfg.rig.Rebuild(func() error {
					_, err := cfg.build(ctx)
					return err
				})
				if err != nil {
					hog.From(ctx).Error().Err(err).Msg(`could not render pages`)
				}
			}
		}
	}()
	return nil
}
