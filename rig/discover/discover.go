// Package discover finds page templates under a directory and maps each one to the HTML page it should produce.
package discover

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when the root directory does not exist.
	ErrNotFound = errors.New(`template directory not found`)

	// ErrNotADirectory is returned when the root exists but is not a directory.
	ErrNotADirectory = errors.New(`template root is not a directory`)
)

// An IOError describes a failure to read an entry below the root.  Discovery stops at the first one.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf(`%v while reading %q`, e.Err, e.Path) }

func (e *IOError) Unwrap() error { return e.Err }

// A Page maps a discovered template to the page that should be generated from it.
type Page struct {
	// Output is the slash separated path of the generated page, relative to the output directory.
	Output string `json:"output"`

	// Template is the absolute path of the source template.
	Template string `json:"template"`
}

// A Naming determines how the base name of a template is separated from its extension.
type Naming int

const (
	// FinalExtension only strips the last extension, so "archive.tar.gz" becomes "archive.tar.html".
	FinalExtension Naming = iota

	// FirstDot strips everything after the first dot, so "archive.tar.gz" becomes "archive.html".
	FirstDot
)

// An Option adjusts how templates are mapped to pages.
type Option func(*config)

type config struct {
	prefix    string
	extension string
	naming    Naming
}

// Prefix joins a destination prefix onto every output path, such as "app" to produce "app/index.html".
func Prefix(dest string) Option {
	return func(cfg *config) { cfg.prefix = filepath.ToSlash(dest) }
}

// Extension replaces the default ".html" extension of generated pages.
func Extension(ext string) Option {
	return func(cfg *config) {
		if ext != `` && !strings.HasPrefix(ext, `.`) {
			ext = `.` + ext
		}
		cfg.extension = ext
	}
}

// WithNaming selects how template names are split from their extensions, the default is FinalExtension.
func WithNaming(naming Naming) Option {
	return func(cfg *config) { cfg.naming = naming }
}

// Discover walks every file below root and returns one Page for each of them.  Every file is treated as a template,
// regardless of its extension.  Symbolic links are followed; a link back to an ancestor directory is not.
func Discover(root string, options ...Option) ([]Page, error) {
	cfg := config{extension: `.html`}
	for _, option := range options {
		option(&cfg)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf(`%w: %q`, ErrNotFound, root)
	case err != nil:
		return nil, &IOError{Path: root, Err: err}
	case !info.IsDir():
		return nil, fmt.Errorf(`%w: %q`, ErrNotADirectory, root)
	}

	pages := make([]Page, 0, 16)
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, &IOError{Path: root, Err: err}
	}
	stack := []*frame{{dir: root, resolved: resolved}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(top.dir)
		if err != nil {
			return nil, &IOError{Path: top.dir, Err: err}
		}
		// pushed in reverse so that the stack pops subdirectories in listing order
		var subdirs []*frame
		for _, entry := range entries {
			name := filepath.Join(top.dir, entry.Name())
			info, err := os.Stat(name)
			if err != nil {
				return nil, &IOError{Path: name, Err: err}
			}
			if !info.IsDir() {
				rel, err := filepath.Rel(root, name)
				if err != nil {
					return nil, &IOError{Path: name, Err: err}
				}
				pages = append(pages, Page{
					Output:   cfg.output(rel),
					Template: name,
				})
				continue
			}
			resolved, err := filepath.EvalSymlinks(name)
			if err != nil {
				return nil, &IOError{Path: name, Err: err}
			}
			if top.within(resolved) {
				continue // a link back to one of its own ancestors
			}
			subdirs = append(subdirs, &frame{dir: name, resolved: resolved, parent: top})
		}
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return pages, nil
}

// A frame is a directory waiting to be read.  Directories reached through different links are read once per link,
// only a directory that resolves to one of its own ancestors is skipped.
type frame struct {
	dir, resolved string
	parent        *frame
}

func (f *frame) within(resolved string) bool {
	for ; f != nil; f = f.parent {
		if f.resolved == resolved {
			return true
		}
	}
	return false
}

func (cfg *config) output(rel string) string {
	rel = filepath.ToSlash(rel)
	dir, name := path.Split(rel)
	name = cfg.baseName(name)
	return path.Join(cfg.prefix, dir, name+cfg.extension)
}

// baseName strips the extension from name.  A leading dot does not start an extension.
func (cfg *config) baseName(name string) string {
	var i int
	switch cfg.naming {
	case FirstDot:
		i = strings.Index(name[min(1, len(name)):], `.`)
		if i >= 0 {
			i++
		}
	default:
		i = strings.LastIndex(name, `.`)
	}
	if i <= 0 {
		return name
	}
	return name[:i]
}
