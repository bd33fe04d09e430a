// Package watcher raises alerts when files change below a set of directories.  Bursts of changes, such as an editor
// saving through a temporary file, are coalesced into a single alert.
package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	zlog "github.com/rs/zerolog/log"
)

// Start a watcher with the provided options.
func Start(options ...Option) (Interface, error) {
	wr := &watcher{settle: 100 * time.Millisecond}
	for _, option := range options {
		err := option(wr)
		if err != nil {
			return nil, err
		}
	}
	err := wr.start()
	if err != nil {
		return nil, err
	}
	return wr, nil
}

// An Option is a function that can manipulate a watcher during construction
type Option func(*watcher) error

// Include specifies one or more file patterns to include in the watch.  Patterns are matched against the base name of
// the changed file.  If no patterns are specified, all files not starting with a dot are included.
func Include(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.includes, err = appendPatterns(wr.includes, patterns...)
		return
	}
}

// Exclude specifies one or more file patterns to exclude from the watch.
// If no patterns are specified, only files starting with a dot are excluded.
// If a file matches both an include and an exclude pattern, it is excluded.
func Exclude(patterns ...string) Option {
	return func(wr *watcher) (err error) {
		wr.excludes, err = appendPatterns(wr.excludes, patterns...)
		return
	}
}

func appendPatterns(seq []glob.Glob, patterns ...string) ([]glob.Glob, error) {
	for _, pattern := range patterns {
		rx, err := glob.Compile(pattern, filepath.Separator)
		if err != nil {
			return nil, fmt.Errorf(`%w in %q`, err, pattern)
		}
		seq = append(seq, rx)
	}
	return seq, nil
}

// Directory specifies one or more directories to watch recursively.
// If no directories are specified, the current working directory is watched.
func Directory(paths ...string) Option {
	return func(wr *watcher) error {
		wr.directories = append(wr.directories, paths...)
		return nil
	}
}

// Settle specifies how long the watcher waits for changes to stop before it raises an alert.  Defaults to 100ms, zero
// alerts on every change.
func Settle(d time.Duration) Option {
	return func(wr *watcher) error {
		if d < 0 {
			return fmt.Errorf(`negative settle duration %v`, d)
		}
		wr.settle = d
		return nil
	}
}

// Interface describes the watcher interface
type Interface interface {
	// Alert receives a value after one or more watched files have changed.  Alerts are never queued; a change that
	// happens while an alert is pending is folded into it.
	Alert() <-chan struct{}

	// Shutdown stops the watcher and releases its notification handles.
	Shutdown()
}

type watcher struct {
	includes    []glob.Glob
	excludes    []glob.Glob
	directories []string
	settle      time.Duration

	fsnotify   *fsnotify.Watcher
	alertCh    chan struct{} // holds at most one pending alert
	shutdown   sync.Once
	shutdownCh chan struct{} // closed when the watcher should shut down
	doneCh     chan struct{} // closed when the watcher is done
}

func (wr *watcher) start() (err error) {
	wr.fsnotify, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if len(wr.directories) == 0 {
		wr.directories = []string{`.`}
	}
	if len(wr.excludes) == 0 {
		wr.excludes = []glob.Glob{glob.MustCompile(`.*`, filepath.Separator)}
	}
	for _, dir := range wr.directories {
		_, err := wr.addTree(dir)
		if err != nil {
			wr.fsnotify.Close()
			return err
		}
	}
	wr.alertCh = make(chan struct{}, 1)
	wr.shutdownCh = make(chan struct{})
	wr.doneCh = make(chan struct{})
	go wr.process()
	return nil
}

// addTree watches dir and every directory below it, reporting whether it holds any included file.
func (wr *watcher) addTree(dir string) (found bool, err error) {
	err = filepath.WalkDir(dir, func(path string, info fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case info.IsDir():
			return wr.fsnotify.Add(path)
		case wr.shouldInclude(path):
			found = true
		}
		return nil
	})
	return
}

func (wr *watcher) Alert() <-chan struct{} {
	return wr.alertCh
}

func (wr *watcher) Shutdown() {
	wr.shutdown.Do(func() { close(wr.shutdownCh) })
	<-wr.doneCh
}

func (wr *watcher) process() {
	defer close(wr.doneCh)
	defer wr.fsnotify.Close()

	var timer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case <-wr.shutdownCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case err, ok := <-wr.fsnotify.Errors:
			if !ok {
				return
			}
			zlog.Warn().Err(err).Msg(`file watch error`)
		case event, ok := <-wr.fsnotify.Events:
			if !ok {
				return
			}
			if !wr.processNotification(event) {
				continue
			}
			if wr.settle == 0 {
				wr.issueAlert()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(wr.settle)
			} else {
				timer.Reset(wr.settle)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			wr.issueAlert()
		}
	}
}

// processNotification returns true if the event should raise an alert.
func (wr *watcher) processNotification(event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err != nil {
			return false
		}
		if info.IsDir() {
			// a directory moved into the tree, or files that landed before the watch, raise no events of their own
			found, err := wr.addTree(event.Name)
			if err != nil {
				zlog.Warn().Err(err).Str(`dir`, event.Name).Msg(`could not watch new directory`)
			}
			return found
		}
		return wr.shouldInclude(event.Name)
	}

	switch {
	case event.Has(fsnotify.Write):
		return wr.shouldInclude(event.Name)
	case event.Has(fsnotify.Remove):
		_ = wr.fsnotify.Remove(event.Name)
		return wr.shouldInclude(event.Name)
	case event.Has(fsnotify.Rename):
		return wr.shouldInclude(event.Name)
	}
	return false
}

func (wr *watcher) issueAlert() {
	select {
	case wr.alertCh <- struct{}{}:
	default:
	}
}

func (wr *watcher) shouldInclude(name string) bool {
	name = filepath.Base(name)
	included := len(wr.includes) == 0
	for _, rx := range wr.includes {
		if rx.Match(name) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, rx := range wr.excludes {
		if rx.Match(name) {
			return false
		}
	}
	return true
}

