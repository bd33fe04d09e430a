package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func expectAlert(t *testing.T, wr Interface) {
	t.Helper()
	select {
	case <-wr.Alert():
	case <-time.After(5 * time.Second):
		t.Fatal(`no alert`)
	}
}

func expectQuiet(t *testing.T, wr Interface) {
	t.Helper()
	select {
	case <-wr.Alert():
		t.Fatal(`unexpected alert`)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherAlertsOnWrite(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(Directory(dir), Settle(20*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	require.NoError(t, os.WriteFile(filepath.Join(dir, `index.html`), []byte(`hi`), 0o644))
	expectAlert(t, wr)
}

func TestWatcherIncludePatterns(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(Directory(dir), Include(`*.css`), Settle(20*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	require.NoError(t, os.WriteFile(filepath.Join(dir, `notes.txt`), []byte(`hi`), 0o644))
	expectQuiet(t, wr)

	require.NoError(t, os.WriteFile(filepath.Join(dir, `style.css`), []byte(`p{}`), 0o644))
	expectAlert(t, wr)
}

func TestWatcherIgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(Directory(dir), Settle(20*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	require.NoError(t, os.WriteFile(filepath.Join(dir, `.swp`), []byte(`hi`), 0o644))
	expectQuiet(t, wr)
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(Directory(dir), Settle(20*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	sub := filepath.Join(dir, `blog`)
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond) // let the watcher add the new directory
	require.NoError(t, os.WriteFile(filepath.Join(sub, `post.html`), []byte(`hi`), 0o644))
	expectAlert(t, wr)
}

func TestWatcherShutdownIsIdempotent(t *testing.T) {
	wr, err := Start(Directory(t.TempDir()))
	require.NoError(t, err)
	wr.Shutdown()
	wr.Shutdown()
}

func TestSettleRejectsNegative(t *testing.T) {
	_, err := Start(Directory(t.TempDir()), Settle(-time.Second))
	require.Error(t, err)
}

func TestIncludeRejectsBadPattern(t *testing.T) {
	_, err := Start(Directory(t.TempDir()), Include(`[`))
	require.Error(t, err)
}

func TestWatcherAlertsOnPopulatedDirectoryMovedIn(t *testing.T) {
	dir := t.TempDir()
	staging := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(staging, `blog`), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, `blog`, `post.tmpl`), []byte(`hi`), 0o644))

	wr, err := Start(Directory(dir), Settle(10*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	require.NoError(t, os.Rename(filepath.Join(staging, `blog`), filepath.Join(dir, `blog`)))
	expectAlert(t, wr)
}

func TestWatcherQuietOnEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	wr, err := Start(Directory(dir), Settle(10*time.Millisecond))
	require.NoError(t, err)
	defer wr.Shutdown()

	require.NoError(t, os.Mkdir(filepath.Join(dir, `empty`), 0o755))
	expectQuiet(t, wr)
}
