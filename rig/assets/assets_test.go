package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/swdunlop/pagerig/rig"
)

func tree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestCopy(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		expected []string
		skipped  []string
	}{
		{
			name:     "everything but hidden files",
			expected: []string{`logo.png`, `icons/star.svg`, `notes.txt`},
			skipped:  []string{`.DS_Store`},
		},
		{
			name:     "images only",
			patterns: []string{`*.{png,jpg,gif,svg}`},
			expected: []string{`logo.png`, `icons/star.svg`},
			skipped:  []string{`notes.txt`, `.DS_Store`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from := tree(t, map[string]string{
				`logo.png`:       `png`,
				`icons/star.svg`: `<svg/>`,
				`notes.txt`:      `notes`,
				`.DS_Store`:      `junk`,
			})
			to := filepath.Join(t.TempDir(), `assets`, `images`)

			n, err := Copy(context.Background(), from, to, tt.patterns...)
			require.NoError(t, err)
			require.Equal(t, len(tt.expected), n)
			for _, name := range tt.expected {
				require.FileExists(t, filepath.Join(to, filepath.FromSlash(name)))
			}
			for _, name := range tt.skipped {
				require.NoFileExists(t, filepath.Join(to, filepath.FromSlash(name)))
			}
		})
	}
}

func TestCopySkipsCurrentFiles(t *testing.T) {
	from := tree(t, map[string]string{`a.png`: `one`, `b.png`: `two`})
	to := t.TempDir()

	n, err := Copy(context.Background(), from, to)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = Copy(context.Background(), from, to)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, os.WriteFile(filepath.Join(from, `b.png`), []byte(`three`), 0o644))
	n, err = Copy(context.Background(), from, to)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	data, err := os.ReadFile(filepath.Join(to, `b.png`))
	require.NoError(t, err)
	require.Equal(t, `three`, string(data))
}

func TestCopyMissingSource(t *testing.T) {
	_, err := Copy(context.Background(), filepath.Join(t.TempDir(), `missing`), t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCopyBadPattern(t *testing.T) {
	_, err := Copy(context.Background(), t.TempDir(), t.TempDir(), `[`)
	require.Error(t, err)
	require.Error(t, Rig(`a`, `b`, `[`)(nil))
}

func TestCopyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Copy(ctx, tree(t, map[string]string{`a.png`: `one`}), t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRigStartRecopiesChangedAssets(t *testing.T) {
	from := tree(t, map[string]string{`images/logo.svg`: `<svg/>`})
	to := t.TempDir()
	r, err := rig.New()
	require.NoError(t, err)
	cp := &copier{rig: r, from: from, to: to}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, cp.RigBuild(ctx))
	require.FileExists(t, filepath.Join(to, `images`, `logo.svg`))

	require.NoError(t, cp.RigStart(ctx))
	require.NoError(t, os.WriteFile(filepath.Join(from, `images`, `logo.svg`), []byte(`<svg></svg>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(from, `images`, `new.png`), []byte(`png`), 0o644))
	require.Eventually(t, func() bool {
		logo, err := os.ReadFile(filepath.Join(to, `images`, `logo.svg`))
		if err != nil || string(logo) != `<svg></svg>` {
			return false
		}
		_, err = os.Stat(filepath.Join(to, `images`, `new.png`))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}
