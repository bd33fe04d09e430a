// Package tailscale provides a rig option that serves the development site on your Tailscale network, so it can be
// previewed from phones and other machines without exposing it to the local network.
package tailscale

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"
	"github.com/swdunlop/html-go/hog"
	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/hook"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// Rig returns a rig.Option that listens on address of a Tailscale node.
func Rig(address string, options ...Option) rig.Option {
	return func(r *rig.Config) error {
		var cfg config
		cfg.listen = address
		for _, option := range options {
			err := option(&cfg)
			if err != nil {
				return err
			}
		}
		return cfg.rig(r)
	}
}

type config struct {
	tsnet   tsnet.Server
	funnel  bool
	noTLS   bool
	upHooks []func(*tsnet.Server, *ipnstate.Status) error
	listen  string
}

func (cfg *config) rig(r *rig.Config) error {
	if cfg.funnel && cfg.noTLS {
		return errors.New("funnels are required to use TLS by Tailscale")
	}
	if cfg.listen == `` {
		return errors.New(`tailscale listeners must configure an address`)
	}
	r.Hook(cfg)
	return nil
}

var _ hook.Listen = (*config)(nil)

// Listen implements hook.Listen by bringing up the Tailscale node and listening on it.  The node is closed when ctx
// is cancelled.
func (cfg *config) Listen(ctx context.Context) (net.Listener, error) {
	if cfg.tsnet.Logf == nil {
		cfg.tsnet.Logf = logf(hog.From(ctx), zerolog.TraceLevel)
	}
	status, err := cfg.tsnet.Up(ctx)
	if err != nil {
		return nil, err
	}
	for _, fn := range cfg.upHooks {
		err = fn(&cfg.tsnet, status)
		if err != nil {
			_ = cfg.tsnet.Close()
			return nil, err
		}
	}
	var lr net.Listener
	switch {
	case cfg.funnel:
		lr, err = cfg.tsnet.ListenFunnel(`tcp`, cfg.listen)
	case cfg.noTLS:
		lr, err = cfg.tsnet.Listen(`tcp`, cfg.listen)
	default:
		lr, err = cfg.tsnet.ListenTLS(`tcp`, cfg.listen)
	}
	if err != nil {
		_ = cfg.tsnet.Close()
		return nil, err
	}
	if status.Self != nil {
		hog.From(ctx).Info().Str(`url`, cfg.url(status.Self.DNSName)).Msg(`serving on Tailscale`)
	}
	go func() {
		<-ctx.Done()
		_ = cfg.tsnet.Close()
	}()
	return lr, nil
}

func (cfg *config) url(dnsName string) string {
	scheme := `https`
	if cfg.noTLS {
		scheme = `http`
	}
	host := strings.TrimSuffix(dnsName, `.`)
	switch port := strings.TrimPrefix(cfg.listen, `:`); {
	case scheme == `https` && port == `443`, scheme == `http` && port == `80`:
	default:
		host += `:` + port
	}
	return fmt.Sprintf(`%s://%s/`, scheme, host)
}

func logf(log *zerolog.Logger, level zerolog.Level) func(format string, args ...any) {
	return func(format string, args ...any) {
		log.WithLevel(level).Str(`from`, `tailscale`).Msgf(format, args...)
	}
}

// An Option configures a Tailscale listener.
type Option func(*config) error

// Dir specifies the directory that holds the node's state.  Defaults to a directory below the user's configuration
// directory.
func Dir(dir string) Option {
	return func(cfg *config) error {
		cfg.tsnet.Dir = dir
		return nil
	}
}

// Hostname specifies the name of your Tailscale host.  Defaults to the system hostname.
func Hostname(hostname string) Option {
	return func(cfg *config) error {
		cfg.tsnet.Hostname = hostname
		return nil
	}
}

// Funnel tells Tailscale to allow public IPs to connect to your service.
func Funnel() Option {
	return func(cfg *config) error {
		cfg.funnel = true
		return nil
	}
}

// NoTLS tells Tailscale to not use TLS.  This is incompatible with Funnel.
func NoTLS() Option {
	return func(cfg *config) error {
		cfg.noTLS = true
		return nil
	}
}

// Logf sets the logging function for the Tailscale server.  Tailscale is EXTREMELY chatty, so by default its logs go
// to the rig's logger at trace level.
func Logf(f func(format string, args ...any)) Option {
	return func(cfg *config) error {
		cfg.tsnet.Logf = f
		return nil
	}
}

// HookUp adds a function that will be called when the Tailscale connection is established and authorized.  This
// is particularly useful for getting the public IP address of the Tailscale server and its FQDN.  If the hook
// returns an error, the Tailscale connection will be closed.
func HookUp(fn func(*tsnet.Server, *ipnstate.Status) error) Option {
	return func(cfg *config) error {
		cfg.upHooks = append(cfg.upHooks, fn)
		return nil
	}
}
