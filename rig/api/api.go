// Package api rigs HTTP handlers and middleware into the rig's multiplexer.
package api

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/hook"
)

// Rig returns a rig option that adds the handlers described by options to the rig.
func Rig(options ...Option) rig.Option {
	var cfg config
	cfg.apply(options...)
	return cfg.rigOption
}

// FS returns an option that serves the given file system at any of the given patterns.
func FS(filesystem fs.FS, patterns ...string) Option {
	return func(cfg *config) error {
		handler := http.FileServer(http.FS(filesystem))
		for _, pattern := range patterns {
			cfg.handle(pattern, handler)
		}
		return nil
	}
}

// Use returns an option that applies the given middleware to all subsequent handlers.  You can stack middleware multiple times, the
// earliest middleware added will be the outermost layer and therefore will be run first.
func Use(fn func(http.Handler) http.Handler) Option {
	return func(cfg *config) error {
		cfg.middleware = append(cfg.middleware, fn)
		return nil
	}
}

// HandleFunc accepts a http.ServeMux pattern and a handler function.
func HandleFunc(pattern string, fn func(w http.ResponseWriter, r *http.Request)) Option {
	return Handle(pattern, http.HandlerFunc(fn))
}

// Handle accepts a http.ServeMux pattern and a http.Handler.
func Handle(pattern string, handler http.Handler) Option {
	return func(cfg *config) error {
		cfg.handle(pattern, handler)
		return nil
	}
}

// Group organizes a group of options into a single option.  Middleware added inside the group does not affect handlers
// outside of it.
func Group(options ...Option) Option {
	return func(cfg *config) error {
		old := cfg.middleware
		defer func() { cfg.middleware = old }()
		for _, option := range options {
			err := option(cfg)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// NoCache is middleware that tells browsers to revalidate every response, which keeps a development browser from
// showing stale pages after a rebuild.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(`Cache-Control`, `no-cache`)
		next.ServeHTTP(w, r)
	})
}

// Log is middleware that logs each request with its status and duration at debug level.
func Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&sw, r)
		hog.For(r).Debug().
			Str(`method`, r.Method).
			Str(`path`, r.URL.Path).
			Int(`status`, sw.status).
			Dur(`elapsed`, time.Since(started)).
			Msg(`request`)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// Flush passes flushes through so that streaming handlers keep working behind Log.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }

// An Option adds handlers or middleware to an API.
type Option func(*config) error

type config struct {
	middleware      []func(http.Handler) http.Handler
	patternHandlers []patternHandler
	err             error
}

var _ hook.Mux = (*config)(nil)

// RigMux adds the configured handlers to the provided ServeMux, implementing the hook.Mux interface.
func (cfg *config) RigMux(mux *http.ServeMux) {
	for _, it := range cfg.patternHandlers {
		mux.Handle(it.pattern, it.handler)
	}
}

type patternHandler struct {
	pattern string
	handler http.Handler
}

func (cfg *config) handle(pattern string, handler http.Handler) {
	for i := len(cfg.middleware) - 1; i >= 0; i-- {
		handler = cfg.middleware[i](handler)
	}
	cfg.patternHandlers = append(cfg.patternHandlers, patternHandler{
		pattern: pattern,
		handler: handler,
	})
}

func (cfg *config) apply(options ...Option) {
	for _, option := range options {
		if cfg.err != nil {
			return
		}
		cfg.err = option(cfg)
	}
}

func (cfg *config) rigOption(r *rig.Config) error {
	if cfg.err != nil {
		return cfg.err
	}
	r.Hook(cfg)
	return nil
}
