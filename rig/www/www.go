// Package www serves a built site from a directory, the way a development server should: directories without an
// index are listed, every file carries an entity tag that changes when the file does, and HTML pages can have the rig's
// reload script injected so that they refresh after a rebuild.
package www

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/api"
)

// Rig returns a rig option that configures a rig to serve static files from the given directory.  The files will have
// an entity tag associated with them that is invalidated when the file changes.
func Rig(dir string, options ...Option) rig.Option {
	return func(r *rig.Config) error {
		cfg := config{route: `GET /`}
		for _, option := range options {
			option(&cfg)
		}
		if cfg.watch {
			err := r.Watch(dir, cfg.patterns...)
			if err != nil {
				return err
			}
		}
		return api.Rig(api.Group(
			api.Use(api.Log),
			api.Use(api.NoCache),
			api.Handle(cfg.route, Handler(dir, options...)),
		))(r)
	}
}

// Handler returns a http.Handler that serves files from dir.
func Handler(dir string, options ...Option) http.Handler {
	var cfg config
	for _, option := range options {
		option(&cfg)
	}
	root := http.Dir(dir)
	return &handler{cfg: cfg, root: root, files: http.FileServer(root)}
}

// An Option adjusts how a directory is served.
type Option func(*config)

type config struct {
	route    string
	reload   bool
	watch    bool
	patterns []string
}

// Route changes the http.ServeMux pattern used to serve the directory, which defaults to "GET /".
func Route(pattern string) Option {
	return func(cfg *config) { cfg.route = pattern }
}

// Reload injects a script tag loading the rig's reload script into every HTML page, and asks the rig to announce
// changes to files matching patterns in the directory.  Without patterns, any change is announced.
func Reload(patterns ...string) Option {
	return func(cfg *config) {
		cfg.reload = true
		cfg.watch = true
		cfg.patterns = append(cfg.patterns, patterns...)
	}
}

type handler struct {
	cfg   config
	root  http.FileSystem
	files http.Handler
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean(`/` + r.URL.Path)
	f, err := h.root.Open(name)
	if err != nil {
		h.files.ServeHTTP(w, r) // let the file server produce the right error
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.files.ServeHTTP(w, r)
		return
	}
	if info.IsDir() && strings.HasSuffix(r.URL.Path, `/`) {
		index, err := h.root.Open(path.Join(name, `index.html`))
		if err == nil {
			defer index.Close()
			if indexInfo, err := index.Stat(); err == nil && !indexInfo.IsDir() {
				f, info = index, indexInfo
			}
		}
	}
	if !info.IsDir() {
		w.Header().Set(`ETag`, entityTag(info))
	}
	if !h.cfg.reload || info.IsDir() || !isHTML(info.Name()) {
		h.files.ServeHTTP(w, r)
		return
	}

	page, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	page = InjectReload(page)
	w.Header().Set(`Content-Type`, `text/html; charset=utf-8`)
	http.ServeContent(w, r, info.Name(), info.ModTime(), bytes.NewReader(page))
}

func entityTag(info fs.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

func isHTML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case `.html`, `.htm`:
		return true
	}
	return false
}

var reloadTag = []byte(`<script src="` + rig.ReloadPath + `"></script>`)

// InjectReload adds a script tag loading the rig's reload script before the closing body tag of page, or at its end
// if it has none.
func InjectReload(page []byte) []byte {
	i := bytes.LastIndex(bytes.ToLower(page), []byte(`</body>`))
	if i < 0 {
		i = len(page)
	}
	ret := make([]byte, 0, len(page)+len(reloadTag))
	ret = append(ret, page[:i]...)
	ret = append(ret, reloadTag...)
	return append(ret, page[i:]...)
}
