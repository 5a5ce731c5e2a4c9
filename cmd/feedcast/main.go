package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"feedcast/internal/app"
)

var version = "v0.0.0"

var cli struct {
	Config   string `help:"path to the server config file" default:"" type:"path"`
	Catalog  string `help:"path to the stream catalog, overrides the config" default:"" type:"path"`
	NoLaunch bool   `short:"n" help:"do not launch feed child processes"`
	Debug    bool   `short:"d" help:"debug logging; feed children inherit stdio"`
	Version  bool   `help:"print version"`
}

func main() {
	parser, err := kong.New(&cli,
		kong.Name("feedcast"),
		kong.Description("feedcast "+version+": live feed streaming server"),
		kong.UsageOnError())
	if err != nil {
		panic(err)
	}
	_, err = parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	a, err := app.NewApp(app.Options{
		ConfigPath:  cli.Config,
		CatalogPath: cli.Catalog,
		NoLaunch:    cli.NoLaunch,
		Debug:       cli.Debug,
	})
	if err != nil {
		slog.Error("Failed to initialize application", "err", err)
		os.Exit(1)
	}
	if err := a.Run(context.Background()); err != nil {
		slog.Error("Application failed", "err", err)
		os.Exit(1)
	}
}
