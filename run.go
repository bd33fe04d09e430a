package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/swdunlop/pagerig/rig"
	"github.com/swdunlop/pagerig/rig/local"
	"github.com/swdunlop/pagerig/rig/tailscale"
	"github.com/swdunlop/zugzug-go"
	"github.com/swdunlop/zugzug-go/zug/parser"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: "serve", Use: "Builds the site, then serves it and rebuilds it as it changes", Fn: serveSite, Parser: parser.New(
			parser.String(&siteFile, "config", "c", "The site configuration file (default: site.yaml if present)"),
		), Settings: zugzug.Settings{
			{Var: &listenNetwork, Name: `LISTEN_NETWORK`,
				Use: "Listening network for the address (default: \"tcp\" if Tailscale not used)"},
			{Var: &listenAddress, Name: `LISTEN_ADDRESS`,
				Use: "Listening address for the service  (default: the site's serve address, or localhost:3000)"},

			{Var: &tailscaleHostname, Name: `TAILSCALE_HOSTNAME`,
				Use: "Specifies the hostname on your Tailscale network"},
			{Var: &tailscaleFunnel, Name: `TAILSCALE_FUNNEL`,
				Use: "Enables internet access via a Tailscale funnel"},
			{Var: &tailscaleListen, Name: `TAILSCALE_LISTEN`,
				Use: "Listening address for clients from your Tailscale network (default: \":443\" or \":80\")"},
			{Var: &tailscaleDir, Name: `TAILSCALE_DIR`,
				Use: "State directory for Tailscale"},
			{Var: &noTailscaleTLS, Name: `NO_TAILSCALE_TLS`,
				Use: "Disables TLS for Tailscale"},
		}},
	}...)
}

func serveSite(ctx context.Context) error {
	cfg, err := loadSite()
	if err != nil {
		return err
	}
	options := cfg.Options()

	listener, err := listenOption(cfg.Serve.Address)
	if err != nil {
		return err
	}
	options = append(options, listener)

	r, err := rig.New(options...)
	if err != nil {
		return err
	}
	return r.Serve(ctx)
}

// listenOption picks Tailscale when any Tailscale setting is present, otherwise a local listener.
func listenOption(defaultAddress string) (rig.Option, error) {
	var tailscaleOptions []tailscale.Option
	useTailscale := false
	if tailscaleFunnel {
		if noTailscaleTLS {
			return nil, errors.New("Tailscale funnel requires TLS")
		}
		if tailscaleListen != `` {
			return nil, errors.New("You cannot combine TAILSCALE_FUNNEL with TAILSCALE_LISTEN")
		}
		tailscaleListen = `:443`

		useTailscale = true
		tailscaleOptions = append(tailscaleOptions, tailscale.Funnel())
	} else if tailscaleListen != "" {
		useTailscale = true
	} else if noTailscaleTLS {
		tailscaleListen = `:80`
	} else {
		tailscaleListen = `:443`
	}
	if tailscaleHostname != `` {
		useTailscale = true
		tailscaleOptions = append(tailscaleOptions, tailscale.Hostname(tailscaleHostname))
	}
	if noTailscaleTLS {
		tailscaleOptions = append(tailscaleOptions, tailscale.NoTLS())
	}
	if tailscaleDir != `` {
		tailscaleOptions = append(tailscaleOptions, tailscale.Dir(tailscaleDir))
	}
	if useTailscale {
		if listenNetwork != `` {
			return nil, errors.New(`LISTEN_NETWORK cannot be combined with Tailscale`)
		}
		return tailscale.Rig(tailscaleListen, tailscaleOptions...), nil
	}

	if listenNetwork == `` {
		listenNetwork = `tcp`
	}
	if listenAddress != `` {
		// all good.
	} else if listenNetwork == `tcp` {
		listenAddress = defaultAddress
		if listenAddress == `` {
			listenAddress = rig.DefaultAddress
		}
	} else {
		return nil, fmt.Errorf(`LISTEN_ADDRESS must be specified for LISTEN_NETWORK other than "tcp"`)
	}
	return local.Rig(local.Listen(listenNetwork, listenAddress)), nil
}

var (
	listenNetwork string = ``
	listenAddress string = ``

	tailscaleFunnel   bool
	tailscaleHostname string
	tailscaleListen   string
	tailscaleDir      string
	noTailscaleTLS    bool
)
