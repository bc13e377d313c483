package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/amankumarsingh77/crawlindex/internal/cache"
	"github.com/amankumarsingh77/crawlindex/internal/common/database"
	"github.com/amankumarsingh77/crawlindex/internal/crawler"
	"github.com/amankumarsingh77/crawlindex/internal/dedup"
	"github.com/amankumarsingh77/crawlindex/internal/scheduler"
	"github.com/amankumarsingh77/crawlindex/pkg"
	"github.com/amankumarsingh77/crawlindex/pkg/search"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func crawlCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "crawl",
		Usage: "crawl from the seed urls and index every page",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "seeds", Usage: "seed file (csv with a url column or one url per line)"},
			&cli.StringSliceFlag{Name: "url", Aliases: []string{"u"}, Usage: "extra seed url, repeatable"},
			&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "number of crawl workers"},
			&cli.Int64Flag{Name: "max-pages", Usage: "stop after this many indexed pages"},
			&cli.BoolFlag{Name: "stop-when-idle", Usage: "stop once the frontier drains"},
		},
		Action: func(ctx *cli.Context) error {
			cfg, logger := e.cfg, e.logger
			if ctx.IsSet("workers") {
				if ctx.Int("workers") < 1 {
					return errors.New("number of workers must be a natural number")
				}
				cfg.Workers = ctx.Int("workers")
			}
			if ctx.IsSet("max-pages") {
				cfg.Crawl.MaxPages = ctx.Int64("max-pages")
			}
			if ctx.IsSet("stop-when-idle") {
				cfg.Crawl.StopWhenIdle = ctx.Bool("stop-when-idle")
			}

			seeds := ctx.StringSlice("url")
			seedFile := cfg.Crawl.SeedFile
			if ctx.IsSet("seeds") {
				seedFile = ctx.String("seeds")
			}
			if seedFile != "" {
				fromFile, err := pkg.LoadSeedURLs(seedFile)
				switch {
				case err == nil:
					seeds = append(seeds, fromFile...)
				case len(seeds) > 0 && !ctx.IsSet("seeds") && errors.Is(err, os.ErrNotExist):
					logger.Debug("default seed file not found", zap.String("file", seedFile))
				default:
					return err
				}
			}
			return runCrawl(ctx.Context, e, seeds)
		},
	}
}

func runCrawl(ctx context.Context, e *env, seeds []string) error {
	cfg, logger := e.cfg, e.logger

	// dedup keeps the client even when redis is down at startup and rejoins it
	// once the probe succeeds; the other redis users need it up front
	client, up := dialRedis(ctx, &cfg.Redis, logger)
	var remote dedup.Remote
	if client != nil {
		defer client.Close()
		remote = client
	}
	dd := dedup.New(remote, dedup.Options{
		LocalFallback: cfg.Dedup.LocalFallback,
		StartDegraded: !up,
	}, logger)
	go dd.RunProbe(ctx, cfg.Dedup.ProbeInterval)

	var rc *cache.Client
	if up {
		rc = client
	}

	idx, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer idx.Close()

	sched := scheduler.New(cfg.Scheduler, logger)
	sched.Start()
	defer sched.Stop()

	fetcher, err := crawler.NewFetcher(cfg.Fetcher, logger)
	if err != nil {
		return err
	}

	deps := crawler.Deps{
		Scheduler: sched,
		Dedup:     dd,
		Fetcher:   fetcher,
		Extractor: crawler.NewExtractor(analyzerFor(&cfg.Index)),
		Index:     idx.engine,
	}
	if rc != nil {
		deps.Cache = rc
		if cfg.Crawl.UseBloom {
			bloom, err := crawler.NewRedisBloomFilter(&cfg.Redis, logger)
			if err != nil {
				logger.Warn("bloom filter disabled", zap.Error(err))
			} else {
				deps.Links = bloom
			}
		}
	}
	if cfg.Mongo.URI != "" {
		mongoClient, err := database.NewMongoClient(ctx, &cfg.Mongo, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := mongoClient.Disconnect(); err != nil {
				logger.Warn("mongo disconnect failed", zap.Error(err))
			}
		}()
		deps.Pages = mongoClient
	}

	spider := crawler.NewSpider(cfg, deps, logger)
	if err := spider.Seed(seeds); err != nil {
		return err
	}

	if !cfg.Search.Enabled {
		return spider.Run(ctx)
	}

	// the search API lives as long as the crawl
	crawlCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	svc := newQueryService(idx.engine, rc, cfg, logger)
	defer svc.Close()
	api := newSearchAPI(svc, idx, rc, cfg, logger,
		search.WithMetrics("scheduler", func() any { return sched.Stats() }),
		search.WithMetrics("dedup", func() any { return dd.Stats() }),
		search.WithMetrics("crawl", func() any { return spider.Stats() }),
	)
	app := search.NewApp(&cfg.Search, api)

	g, gctx := errgroup.WithContext(crawlCtx)
	g.Go(func() error {
		defer cancel()
		return spider.Run(gctx)
	})
	g.Go(func() error {
		return search.Serve(gctx, app, cfg.Search.HTTPAddr, logger)
	})
	return g.Wait()
}

func serveCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the search API over the existing index",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address, overrides search.http_addr"},
		},
		Action: func(ctx *cli.Context) error {
			cfg, logger := e.cfg, e.logger
			if ctx.IsSet("addr") {
				cfg.Search.HTTPAddr = ctx.String("addr")
			}

			rc := connectRedis(ctx.Context, &cfg.Redis, logger)
			if rc != nil {
				defer rc.Close()
			}
			idx, err := openIndex(ctx.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			svc := newQueryService(idx.engine, rc, cfg, logger)
			defer svc.Close()
			app := search.NewApp(&cfg.Search, newSearchAPI(svc, idx, rc, cfg, logger))
			return search.Serve(ctx.Context, app, cfg.Search.HTTPAddr, logger)
		},
	}
}

func searchCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "run one query against the index and print the results as json",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "topk", Aliases: []string{"k"}, Usage: "number of results"},
		},
		Action: func(ctx *cli.Context) error {
			cfg, logger := e.cfg, e.logger
			topK := cfg.Query.DefaultTopK
			if ctx.IsSet("topk") {
				topK = ctx.Int("topk")
			}

			idx, err := openIndex(ctx.Context, cfg, logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			svc := newQueryService(idx.engine, nil, cfg, logger)
			defer svc.Close()
			resp, err := svc.Search(ctx.Context, ctx.Args().First(), topK)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
}

func mergeCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "merge every on-disk segment into one",
		Action: func(ctx *cli.Context) error {
			idx, err := openIndex(ctx.Context, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			merged, err := idx.engine.MergeSegments()
			if err != nil {
				return err
			}
			e.logger.Info("merge finished", zap.Bool("merged", merged), zap.Any("stats", idx.engine.Stats()))
			return nil
		},
	}
}

func statsCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print index statistics as json",
		Action: func(ctx *cli.Context) error {
			idx, err := openIndex(ctx.Context, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer idx.Close()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(idx.engine.Stats())
		},
	}
}
