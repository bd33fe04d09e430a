// Package rig manages a configuration of HTTP handlers rigged together in a way that will rebuild them when their inputs change.
// Web pages can observe when a rebuild has occurred by subscribing to server sent events at /_rig/build, or simply by
// loading the script at /_rig/reload.js.
package rig

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pagerig/rig/hook"
	"github.com/swdunlop/pagerig/rig/watcher"
	sse "github.com/tmaxmax/go-sse"
)

// DefaultAddress is where a rig listens when no listener has been hooked.
const DefaultAddress = `localhost:3000`

// Paths used by the rig for its own handlers.
const (
	BuildPath  = `/_rig/build`
	ReloadPath = `/_rig/reload.js`
)

// ReloadScript is served at ReloadPath; it reloads the page whenever the rig announces a build.
const ReloadScript = `(function () {
  var events = new EventSource("` + BuildPath + `");
  events.onmessage = function () { location.reload(); };
})();
`

// Main is intended to be used as your main function and will serve a rig with the given options until interrupted.
func Main(options ...Option) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cfg, err := New(options...)
	if err != nil {
		return err
	}
	return cfg.Serve(ctx)
}

// Serve will serve a rig configured with the given options until the context is cancelled.
func Serve(ctx context.Context, options ...Option) error {
	cfg, err := New(options...)
	if err != nil {
		return err
	}
	return cfg.Serve(ctx)
}

// New returns a new rig configuration.
func New(options ...Option) (*Config, error) {
	cfg := new(Config)
	err := cfg.Apply(options...)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// A Config is a rig configuration.
type Config struct {
	serve   bool            // true once Serve has been called
	serving bool            // true after Serve has been called and before it returns
	hooks   []any           // hooks to apply
	done    <-chan struct{} // closed when the rig starts to shut down
	watch   []watch

	control sync.Mutex  // serializes builds
	events  *sse.Server // nil unless something is watched
}

type watch struct {
	dir      string
	patterns []string
}

// Done returns a channel that will be closed when the rig starts to shut down.  This is nil unless the rig is serving.
func (cfg *Config) Done() <-chan struct{} {
	return cfg.done
}

// Hook adds hooks to the configuration, see the hook package for interfaces that hooks can implement.  This is
// normally done by various options.
func (cfg *Config) Hook(hooks ...any) {
	cfg.hooks = append(cfg.hooks, hooks...)
}

// Apply applies the given options to the config; should not be called after Serve.
func (cfg *Config) Apply(options ...Option) error {
	if cfg.serving {
		return errors.New(`cannot apply options while a rig is running`)
	} else if cfg.serve {
		return errors.New(`cannot apply options after a rig has been run`)
	}

	for _, option := range options {
		err := option(cfg)
		if err != nil {
			return err
		}
	}
	return nil
}

// Build runs every hook.Builder in dependency order.  Serve calls this before it starts listening, and it may be called
// again while serving to force a full rebuild.
func (cfg *Config) Build(ctx context.Context) error {
	cfg.control.Lock()
	defer cfg.control.Unlock()
	return hook.Build(ctx, cfg.hooks...)
}

// Rebuild runs fn while no other build is running.  Hooks that rebuild in the background, such as when their sources
// change, use this so that they do not write the same outputs as a full Build.
func (cfg *Config) Rebuild(fn func() error) error {
	cfg.control.Lock()
	defer cfg.control.Unlock()
	return fn()
}

// Announce tells any pages subscribed to /_rig/build that the rig has been rebuilt.  This does nothing if nothing is
// being watched.
func (cfg *Config) Announce(ctx context.Context, what string) {
	if cfg.events == nil {
		return
	}
	var msg sse.Message
	msg.AppendData(what)
	err := cfg.events.Publish(&msg)
	if err != nil {
		hog.From(ctx).Warn().Err(err).Msg(`could not announce build`)
	}
}

// Serve will run the configured rig as a server until the context is cancelled.  The listener is provided by the last
// hook.Listen hook, or is a TCP listener on DefaultAddress if there is none.
func (cfg *Config) Serve(ctx context.Context) error {
	if cfg.serving {
		return errors.New(`rig is already running`)
	}
	cfg.serve = true
	cfg.serving = true

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cfg.done = ctx.Done()
	defer func() { cfg.done, cfg.serving = nil, false }()

	cfg.hooks = hook.Order(cfg.hooks...)
	err := cfg.Build(ctx)
	if err != nil {
		return err
	}

	var mux http.ServeMux
	if len(cfg.watch) > 0 {
		err = cfg.startWatching(ctx, &mux)
		if err != nil {
			return err
		}
	}
	for _, it := range cfg.hooks {
		if impl, ok := it.(hook.Mux); ok {
			impl.RigMux(&mux)
		}
	}

	var svr http.Server
	svr.Handler = &mux
	svr.BaseContext = func(net.Listener) context.Context { return ctx }
	for _, it := range cfg.hooks {
		if impl, ok := it.(hook.Server); ok {
			impl.RigServer(&svr)
		}
	}

	for _, it := range cfg.hooks {
		if impl, ok := it.(hook.Starter); ok {
			err = impl.RigStart(ctx)
			if err != nil {
				return err
			}
		}
	}

	lr, address, err := cfg.listen(ctx)
	if err != nil {
		return err
	}
	// no need to defer lr.Close, svr.Shutdown will close it

	go func() {
		<-ctx.Done()
		if cfg.events != nil {
			_ = cfg.events.Shutdown(context.Background())
		}
		svr.Shutdown(context.Background())
	}()

	hog.From(ctx).Info().Str(`address`, address).Msg(`starting HTTP service`)
	err = svr.Serve(lr)
	hog.From(ctx).Info().Err(err).Msg(`HTTP service stopped`)
	if err == http.ErrServerClosed {
		return nil
	}
	_ = lr.Close() // just in case, since we did not have a shutdown or server close.
	return err
}

func (cfg *Config) listen(ctx context.Context) (net.Listener, string, error) {
	var provider hook.Listen
	for _, it := range cfg.hooks {
		if impl, ok := it.(hook.Listen); ok {
			provider = impl
		}
	}
	if provider != nil {
		lr, err := provider.Listen(ctx)
		if err != nil {
			return nil, ``, err
		}
		return lr, lr.Addr().String(), nil
	}

	var lcf net.ListenConfig
	for _, it := range cfg.hooks {
		if impl, ok := it.(hook.Listener); ok {
			impl.RigListener(&lcf)
		}
	}
	lr, err := lcf.Listen(ctx, `tcp`, DefaultAddress)
	if err != nil {
		return nil, ``, err
	}
	return lr, DefaultAddress, nil
}

func (cfg *Config) startWatching(ctx context.Context, mux *http.ServeMux) error {
	cfg.events = &sse.Server{}
	mux.Handle(`GET `+BuildPath, cfg.events)
	mux.HandleFunc(`GET `+ReloadPath, serveReloadScript)

	for _, it := range cfg.watch {
		err := os.MkdirAll(it.dir, 0o755)
		if err != nil {
			return err
		}
		wr, err := watcher.Start(watcher.Directory(it.dir), watcher.Include(it.patterns...))
		if err != nil {
			return fmt.Errorf(`%w while watching %q`, err, it.dir)
		}
		go func(dir string) {
			defer wr.Shutdown()
			for {
				select {
				case <-ctx.Done():
					return
				case <-wr.Alert():
					hog.From(ctx).Info().Str(`dir`, dir).Msg(`output changed, reloading pages`)
					cfg.Announce(ctx, dir)
				}
			}
		}(it.dir)
	}
	return nil
}

func serveReloadScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(`Content-Type`, `text/javascript; charset=utf-8`)
	w.Header().Set(`Cache-Control`, `no-cache`)
	_, _ = w.Write([]byte(ReloadScript))
}

// Watch will trigger notifying clients watching "/_rig/build" when any file in the given directory changes that
// matches the given glob patterns.  This is normally done by various options like esbuild.
//
// If nothing is being watched, the "/_rig/build" endpoint will not be registered.
func (cfg *Config) Watch(dir string, patterns ...string) error {
	if cfg.serving {
		return errors.New(`cannot watch directories while a rig is running`)
	}
	cfg.watch = append(cfg.watch, watch{dir, patterns})
	return nil
}

// An Option is a function that modifies a Config before it is served.
type Option func(*Config) error

// Apply combines multiple options into one.
func Apply(options ...Option) Option {
	return func(cfg *Config) error { return cfg.Apply(options...) }
}
