package www

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/swdunlop/pagerig/rig"
)

func site(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, `app`), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, `assets`, `images`), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, `app`, `index.html`),
		[]byte(`<html><body><h1>Home</h1></body></html>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, `assets`, `images`, `logo.svg`),
		[]byte(`<svg></svg>`), 0o644))
	return dir
}

func serve(h http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServesFilesWithEntityTags(t *testing.T) {
	h := Handler(site(t))
	rec := serve(h, `GET`, `/assets/images/logo.svg`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `<svg></svg>`, rec.Body.String())
	etag := rec.Header().Get(`ETag`)
	require.NotEmpty(t, etag)

	rec = serve(h, `GET`, `/assets/images/logo.svg`, `If-None-Match`, etag)
	require.Equal(t, http.StatusNotModified, rec.Code)
}

func TestEntityTagChangesWithFile(t *testing.T) {
	dir := site(t)
	h := Handler(dir)
	before := serve(h, `GET`, `/assets/images/logo.svg`).Header().Get(`ETag`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, `assets`, `images`, `logo.svg`),
		[]byte(`<svg><circle/></svg>`), 0o644))
	after := serve(h, `GET`, `/assets/images/logo.svg`).Header().Get(`ETag`)
	require.NotEqual(t, before, after)
}

func TestListsDirectories(t *testing.T) {
	rec := serve(Handler(site(t)), `GET`, `/assets/`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `images/`)
}

func TestMissingFile(t *testing.T) {
	rec := serve(Handler(site(t), Reload()), `GET`, `/nope.html`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReloadInjection(t *testing.T) {
	dir := site(t)

	rec := serve(Handler(dir), `GET`, `/app/`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), rig.ReloadPath)

	rec = serve(Handler(dir, Reload()), `GET`, `/app/`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t,
		`<html><body><h1>Home</h1><script src="/_rig/reload.js"></script></body></html>`,
		rec.Body.String())
	require.Equal(t, `text/html; charset=utf-8`, rec.Header().Get(`Content-Type`))

	rec = serve(Handler(dir, Reload()), `GET`, `/assets/images/logo.svg`)
	require.Equal(t, `<svg></svg>`, rec.Body.String())
}

func TestInjectReload(t *testing.T) {
	tests := []struct {
		name     string
		page     string
		expected string
	}{
		{
			name:     "before closing body",
			page:     `<body><p>x</p></body>`,
			expected: `<body><p>x</p><script src="/_rig/reload.js"></script></body>`,
		},
		{
			name:     "upper case body",
			page:     `<BODY></BODY>`,
			expected: `<BODY><script src="/_rig/reload.js"></script></BODY>`,
		},
		{
			name:     "fragment",
			page:     `<p>x</p>`,
			expected: `<p>x</p><script src="/_rig/reload.js"></script>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, string(InjectReload([]byte(tt.page))))
		})
	}
}
