package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/swdunlop/zugzug-go"
	"github.com/swdunlop/zugzug-go/zug/parser"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: "build", Use: "Builds the site once", Fn: buildSite, Parser: parser.New(
			parser.String(&siteFile, "config", "c", "The site configuration file (default: site.yaml if present)"),
		)},
		{Name: "pages", Use: "Lists the pages the site would render", Fn: listPages, Parser: parser.New(
			parser.String(&siteFile, "config", "c", "The site configuration file (default: site.yaml if present)"),
		)},
	}...)
}

func buildSite(ctx context.Context) error {
	cfg, err := loadSite()
	if err != nil {
		return err
	}
	return cfg.Build(ctx)
}

func listPages(ctx context.Context) error {
	cfg, err := loadSite()
	if err != nil {
		return err
	}
	pages, err := cfg.Discover()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, page := range pages {
		err = enc.Encode(page)
		if err != nil {
			return err
		}
	}
	return nil
}
