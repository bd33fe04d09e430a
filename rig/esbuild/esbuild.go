// Package esbuild bundles a site's scripts and styles with esbuild.  Images and fonts referenced from them are emitted
// as separate files in the output directory.
package esbuild

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/hook"
)

// Provides is the name other hooks can depend on to run after the bundle has been built.
const Provides = `esbuild`

// Rig returns a rig option that builds the bundle before the rig starts serving, then rebuilds it whenever its
// sources change.  Changes to the output are announced to pages watching the rig.
func Rig(options ...Option) rig.Option {
	cfg := newConfig(options...)
	return cfg.rigOption
}

// Build runs a single build with the given options.
func Build(ctx context.Context, options ...Option) error {
	cfg := newConfig(options...)
	err := cfg.validate()
	if err != nil {
		return err
	}
	return cfg.RigBuild(ctx)
}

// Option is a function that can manipulate the esbuild API build options structure.
type Option func(*config)

type config struct {
	build esbuild.BuildOptions
	watch esbuild.WatchOptions
}

// fileTypes are emitted as files by default, matching the image and font types a page commonly references from CSS.
var fileTypes = []string{`.png`, `.jpg`, `.jpeg`, `.gif`, `.svg`, `.webp`, `.woff`, `.woff2`, `.ttf`, `.eot`}

func newConfig(options ...Option) *config {
	var cfg config
	cfg.build.LogLevel = esbuild.LogLevelSilent // messages are logged through zerolog instead
	cfg.build.Bundle = true
	cfg.build.Write = true
	cfg.build.Sourcemap = esbuild.SourceMapLinked
	cfg.build.EntryNames = `[name].bundle`
	cfg.build.AssetNames = `assets/[name]-[hash]`
	cfg.build.Loader = make(map[string]esbuild.Loader, len(fileTypes))
	for _, ext := range fileTypes {
		cfg.build.Loader[ext] = esbuild.LoaderFile
	}
	for _, option := range options {
		option(&cfg)
	}
	return &cfg
}

func (cfg *config) validate() error {
	if cfg.build.Outdir == "" && cfg.build.Outfile == "" {
		return fmt.Errorf(`esbuild: no output directory or file specified`)
	}
	if len(cfg.build.EntryPoints) == 0 {
		return fmt.Errorf(`esbuild: no entry points specified`)
	}
	return nil
}

var (
	_ hook.Builder  = (*config)(nil)
	_ hook.Starter  = (*config)(nil)
	_ hook.Provider = (*config)(nil)
)

func (cfg *config) rigOption(r *rig.Config) error {
	err := cfg.validate()
	if err != nil {
		return err
	}
	r.Hook(cfg)
	if cfg.build.Outdir != `` {
		return r.Watch(cfg.build.Outdir, `*.css`, `*.js`)
	}
	return r.Watch(filepath.Dir(cfg.build.Outfile), filepath.Base(cfg.build.Outfile))
}

// Provides implements hook.Provider so that page rendering can wait for the bundle.
func (cfg *config) Provides() []string { return []string{Provides} }

// RigBuild implements hook.Builder with a single build.
func (cfg *config) RigBuild(ctx context.Context) error {
	ret := esbuild.Build(cfg.build)
	logMessages(hog.From(ctx), zerolog.WarnLevel, ret.Warnings)
	logMessages(hog.From(ctx), zerolog.ErrorLevel, ret.Errors)
	if len(ret.Errors) > 0 {
		return fmt.Errorf(`esbuild: %v error(s) building %v`, len(ret.Errors), strings.Join(cfg.build.EntryPoints, `, `))
	}
	hog.From(ctx).Info().Strs(`entrypoints`, cfg.build.EntryPoints).Int(`files`, len(ret.OutputFiles)).Msg(`bundle built`)
	return nil
}

// RigStart implements hook.Starter by watching the bundle's sources until the rig shuts down.
func (cfg *config) RigStart(ctx context.Context) error {
	bc, ctxErr := esbuild.Context(cfg.build)
	if ctxErr != nil {
		logMessages(hog.From(ctx), zerolog.ErrorLevel, ctxErr.Errors)
		return fmt.Errorf(`esbuild failed to start`)
	}
	err := bc.Watch(cfg.watch)
	if err != nil {
		bc.Dispose()
		return fmt.Errorf(`%w while starting esbuild watch`, err)
	}
	go func() {
		<-ctx.Done()
		bc.Dispose()
	}()
	return nil
}

func logMessages(log *zerolog.Logger, level zerolog.Level, messages []esbuild.Message) {
	for _, msg := range messages {
		evt := log.WithLevel(level).Str(`tool`, `esbuild`)
		if msg.Location != nil {
			evt = evt.Str(`file`, msg.Location.File).Int(`line`, msg.Location.Line).Int(`column`, msg.Location.Column)
		}
		evt.Msg(msg.Text)
	}
}

// Output returns an option that sets the output directory for the esbuild build.
func Output(outdir string) Option {
	return func(cfg *config) { cfg.build.Outdir = outdir }
}

// EntryPoint appends entry points to the esbuild build options.
func EntryPoint(entryPoints ...string) Option {
	return func(cfg *config) { cfg.build.EntryPoints = append(cfg.build.EntryPoints, entryPoints...) }
}

// Bundle configures esbuild to bundle the output if true, otherwise it will not bundle.
func Bundle(ok bool) Option {
	return func(cfg *config) { cfg.build.Bundle = ok }
}

// Minify turns on whitespace, identifier and syntax minification for scripts and styles.
func Minify(ok bool) Option {
	return func(cfg *config) {
		cfg.build.MinifyWhitespace = ok
		cfg.build.MinifyIdentifiers = ok
		cfg.build.MinifySyntax = ok
	}
}

// SourceMap controls whether linked source maps are written next to the output, which they are by default.
func SourceMap(ok bool) Option {
	return func(cfg *config) {
		if ok {
			cfg.build.Sourcemap = esbuild.SourceMapLinked
		} else {
			cfg.build.Sourcemap = esbuild.SourceMapNone
		}
	}
}

// Alias makes imports of name resolve to target, such as "@scss" to "./src/scss".
func Alias(name, target string) Option {
	return func(cfg *config) {
		if cfg.build.Alias == nil {
			cfg.build.Alias = make(map[string]string)
		}
		cfg.build.Alias[name] = target
	}
}

// Loader sets the esbuild loader used for files with the given extension.
func Loader(ext string, loader esbuild.Loader) Option {
	return func(cfg *config) {
		if !strings.HasPrefix(ext, `.`) {
			ext = `.` + ext
		}
		cfg.build.Loader[ext] = loader
	}
}

// AssetNames sets the path template for files emitted by the file loader, relative to the output directory.
func AssetNames(template string) Option {
	return func(cfg *config) { cfg.build.AssetNames = template }
}

// EntryNames sets the path template for bundles, relative to the output directory.  The default is "[name].bundle".
func EntryNames(template string) Option {
	return func(cfg *config) { cfg.build.EntryNames = template }
}

// WorkingDir sets the absolute directory that relative entry points and aliases are resolved against.  Defaults to
// the current working directory.
func WorkingDir(dir string) Option {
	return func(cfg *config) { cfg.build.AbsWorkingDir = dir }
}

// BuildOption returns an option that can manipulate the esbuild API build options structure.
// See https://esbuild.github.io/api for information on how to use esbuild options.
func BuildOption(fn func(*esbuild.BuildOptions)) Option {
	return func(cfg *config) { fn(&cfg.build) }
}

// WatchOption returns an option that can manipulate the esbuild API watch options structure.
// See https://esbuild.github.io/api for information on how to use esbuild options.
func WatchOption(fn func(*esbuild.WatchOptions)) Option {
	return func(cfg *config) { fn(&cfg.watch) }
}
