package main

import (
	"os"
	"sort"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/swdunlop/pagerig/rig/site"
	"github.com/swdunlop/zugzug-go"
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: `2006-01-02 15:04:05`}).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log
	zlog.Logger = log
}

var tasks = zugzug.Tasks{}

func main() {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	zugzug.Main(tasks)
}

// siteFile is the site configuration file; without one the default layout below the current directory is used.
var siteFile string

func loadSite() (site.Config, error) {
	if siteFile == `` {
		if _, err := os.Stat(`site.yaml`); err != nil {
			return site.Default(), nil
		}
		siteFile = `site.yaml`
	}
	return site.Load(siteFile)
}
