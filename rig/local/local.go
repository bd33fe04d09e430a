// Package local provides a rig option that listens on a local TCP or Unix socket.
package local

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/hook"
)

// Rig hooks a listener into the rig, replacing the default of TCP on rig.DefaultAddress.
func Rig(options ...Option) rig.Option {
	return func(r *rig.Config) error {
		var lr listener
		for _, option := range options {
			err := option(&lr)
			if err != nil {
				return err
			}
		}
		if lr.network == `` || lr.address == `` {
			return errors.New(`local listeners must configure both network and address`)
		}
		r.Hook(&lr)
		return nil
	}
}

// An Option configures a local listener.
type Option func(*listener) error

type listener struct {
	network, address string
	config           net.ListenConfig
	bound            chan<- net.Addr
}

var _ hook.Listen = (*listener)(nil)

// TCP listens on a TCP address, such as "localhost:3000".
func TCP(address string) Option { return Listen(`tcp`, address) }

// Unix listens on a Unix socket.  A stale socket left at path by an earlier run is removed first.
func Unix(path string) Option { return Listen(`unix`, path) }

// Listen listens on any network supported by net.ListenConfig.
func Listen(network, address string) Option {
	return func(lr *listener) error {
		lr.network, lr.address = network, address
		return nil
	}
}

// KeepAlive sets the keepalive period of accepted connections.
func KeepAlive(period time.Duration) Option {
	return ListenConfig(func(lc *net.ListenConfig) { lc.KeepAlive = period })
}

// ListenConfig adjusts the net.ListenConfig used to listen.
func ListenConfig(options ...func(*net.ListenConfig)) Option {
	return func(lr *listener) error {
		for _, option := range options {
			option(&lr.config)
		}
		return nil
	}
}

// Bound sends the listener address to ch once it is bound, which is useful when listening on port zero.  The channel
// should be buffered; the address is dropped if it would block.
func Bound(ch chan<- net.Addr) Option {
	return func(lr *listener) error {
		lr.bound = ch
		return nil
	}
}

// Listen implements hook.Listen.
func (lr *listener) Listen(ctx context.Context) (net.Listener, error) {
	if lr.network == `unix` {
		removeStaleSocket(lr.address)
	}
	ln, err := lr.config.Listen(ctx, lr.network, lr.address)
	if err != nil {
		return nil, err
	}
	if lr.bound != nil {
		select {
		case lr.bound <- ln.Addr():
		default:
		}
	}
	return ln, nil
}

func removeStaleSocket(path string) {
	info, err := os.Lstat(path)
	if err != nil || info.Mode().Type() != fs.ModeSocket {
		return
	}
	// a live server still answers; leave its socket alone and let Listen fail
	conn, err := net.Dial(`unix`, path)
	if err == nil {
		_ = conn.Close()
		return
	}
	_ = os.Remove(path)
}
