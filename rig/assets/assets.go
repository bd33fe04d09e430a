// Package assets copies static files, such as images that are not referenced by any stylesheet, into a site's output.
package assets

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/hook"
	"github.com/swdunlop/pagerig/rig/watcher"
)

// Provides is the name other hooks can depend on to run after assets have been copied.
const Provides = `assets`

// Copy copies every file below from whose base name matches one of patterns into the same relative location below
// to, returning the number of files copied.  Without patterns, every file not starting with a dot is copied.  Files
// whose destination already has the same size and modification time are skipped.
func Copy(ctx context.Context, from, to string, patterns ...string) (int, error) {
	match, err := matcher(patterns)
	if err != nil {
		return 0, err
	}
	copied := 0
	err = filepath.WalkDir(from, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !match(entry.Name()) {
			return nil
		}
		rel, err := filepath.Rel(from, path)
		if err != nil {
			return err
		}
		ok, err := copyFile(path, filepath.Join(to, rel))
		if ok {
			copied++
		}
		return err
	})
	if err != nil {
		return copied, fmt.Errorf(`%w while copying %q to %q`, err, from, to)
	}
	return copied, nil
}

func matcher(patterns []string) (func(string) bool, error) {
	if len(patterns) == 0 {
		hidden := glob.MustCompile(`.*`)
		return func(name string) bool { return !hidden.Match(name) }, nil
	}
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf(`%w in %q`, err, pattern)
		}
		globs = append(globs, g)
	}
	return func(name string) bool {
		for _, g := range globs {
			if g.Match(name) {
				return true
			}
		}
		return false
	}, nil
}

// copyFile returns true if the file was copied, false if the destination was already current.
func copyFile(src, dst string) (bool, error) {
	info, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	if prior, err := os.Stat(dst); err == nil && prior.Size() == info.Size() && prior.ModTime().Equal(info.ModTime()) {
		return false, nil
	}
	err = os.MkdirAll(filepath.Dir(dst), 0o755)
	if err != nil {
		return false, err
	}

	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return false, err
	}
	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return false, err
	}
	err = out.Close()
	if err != nil {
		return false, err
	}
	return true, os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// Rig returns a rig option that copies assets before the rig starts serving, and again whenever they change.
func Rig(from, to string, patterns ...string) rig.Option {
	return func(r *rig.Config) error {
		_, err := matcher(patterns)
		if err != nil {
			return err
		}
		r.Hook(&copier{rig: r, from: from, to: to, patterns: patterns})
		return nil
	}
}

type copier struct {
	rig      *rig.Config
	from, to string
	patterns []string
}

var (
	_ hook.Builder  = (*copier)(nil)
	_ hook.Starter  = (*copier)(nil)
	_ hook.Provider = (*copier)(nil)
)

func (cp *copier) Provides() []string { return []string{Provides} }

func (cp *copier) RigBuild(ctx context.Context) error {
	n, err := Copy(ctx, cp.from, cp.to, cp.patterns...)
	if err != nil {
		return err
	}
	hog.From(ctx).Info().Str(`from`, cp.from).Str(`to`, cp.to).Int(`copied`, n).Msg(`assets copied`)
	return nil
}

func (cp *copier) RigStart(ctx context.Context) error {
	options := []watcher.Option{watcher.Directory(cp.from)}
	if len(cp.patterns) > 0 {
		options = append(options, watcher.Include(cp.patterns...))
	}
	wr, err := watcher.Start(options...)
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
				err := cp.rig.Rebuild(func() error { return cp.RigBuild(ctx) })
				if err != nil {
					hog.From(ctx).Error().Err(err).Msg(`could not copy assets`)
				}
			}
		}
	}()
	return nil
}
