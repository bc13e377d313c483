package main

import (
	"fmt"
	"os"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "crawlindex.yaml"

// env holds what every command needs once the global flags are parsed.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newApp() *cli.App {
	e := &env{}

	return &cli.App{
		Name:  "crawlindex",
		Usage: "crawl the web into an on-disk BM25 index and query it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   defaultConfigFile,
				Usage:   "path to the yaml config file",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "override the env setting (prod, dev, test)",
			},
		},
		Before: func(ctx *cli.Context) error {
			// config gen works without a config file
			if ctx.Args().First() == "config" {
				return nil
			}
			return e.load(ctx)
		},
		After: func(ctx *cli.Context) error {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			crawlCommand(e),
			serveCommand(e),
			searchCommand(e),
			mergeCommand(e),
			statsCommand(e),
			{
				Name:  "config",
				Usage: "config helpers",
				Subcommands: []*cli.Command{
					{
						Name:        "gen",
						Description: "Prints the default config to stdout.",
						Action: func(ctx *cli.Context) error {
							data, err := yaml.Marshal(config.Default())
							if err != nil {
								return err
							}
							fmt.Print(string(data))
							return nil
						},
					},
				},
			},
		},
	}
}

func (e *env) load(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"), ctx.IsSet("config"))
	if err != nil {
		return err
	}
	if v := ctx.String("env"); v != "" {
		cfg.Env = v
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	logger, err := common.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("cannot build the logger: %w", err)
	}
	e.cfg = cfg
	e.logger = logger.With(zap.Int("pid", os.Getpid()))
	return nil
}
