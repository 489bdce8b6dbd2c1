package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli"
	"golang.org/x/term"

	"github.com/beam-cloud/fpvosd/pkg/config"
	"github.com/beam-cloud/fpvosd/pkg/fpvosd"
	"github.com/beam-cloud/fpvosd/pkg/metrics"
)

var app = cli.NewApp()

// cfg is loaded in app.Before and shared by every command.
var cfg *config.Config

func init() {
	app.Name = "osdctl"
	app.Usage = "Inspect, render and generate MSP-OSD captures"
	app.UsageText = "osdctl [global options] command [arguments]"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "config file (default $XDG_CONFIG_HOME/fpvosd/config.toml)"},
		cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn, error or disabled"},
		cli.StringFlag{Name: "font-folder", Usage: "folder holding font*_hd.bin files"},
		cli.Float64Flag{Name: "fps", Usage: "recording frame rate"},
		cli.BoolFlag{Name: "metrics", Usage: "log a metrics summary on exit"},
	}
	app.Before = setup
	app.After = func(c *cli.Context) error {
		if c.GlobalBool("metrics") {
			metrics.LogMetricsSummary()
		}
		return nil
	}
	app.Commands = []cli.Command{
		infoCommand,
		indexCommand,
		renderCommand,
		exportCommand,
		fontsCommand,
		synthCommand,
	}
}

func setup(c *cli.Context) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	})

	loaded, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return err
	}
	cfg = loaded

	if v := c.GlobalString("font-folder"); v != "" {
		cfg.FontFolder = v
	}
	if c.GlobalIsSet("fps") {
		cfg.FPS = c.GlobalFloat64("fps")
	}
	if v := c.GlobalString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	return fpvosd.SetLogLevel(cfg.LogLevel)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("osdctl failed")
	}
}
