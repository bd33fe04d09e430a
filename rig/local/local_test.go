package local

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/swdunlop/pagerig/rig"
)

func TestRequiresNetworkAndAddress(t *testing.T) {
	_, err := rig.New(Rig())
	require.Error(t, err)
	_, err = rig.New(Rig(TCP(``)))
	require.Error(t, err)
	_, err = rig.New(Rig(TCP(`127.0.0.1:0`)))
	require.NoError(t, err)
}

func TestBound(t *testing.T) {
	bound := make(chan net.Addr, 1)
	lr := listener{network: `tcp`, address: `127.0.0.1:0`, bound: bound}
	ln, err := lr.Listen(context.Background())
	require.NoError(t, err)
	defer ln.Close()
	require.Equal(t, ln.Addr(), <-bound)
}

func TestUnixReplacesStaleSocket(t *testing.T) {
	dir, err := os.MkdirTemp(``, `rig`) // unix socket paths are short
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, `rig.sock`)

	stale, err := net.Listen(`unix`, path)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	require.FileExists(t, path)

	var opt Option = Unix(path)
	var lr listener
	require.NoError(t, opt(&lr))
	ln, err := lr.Listen(context.Background())
	require.NoError(t, err)
	defer ln.Close()

	// a second listener must not steal a live socket
	_, err = lr.Listen(context.Background())
	require.Error(t, err)
}
