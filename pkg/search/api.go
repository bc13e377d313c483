package search

import (
	"context"
	"errors"
	"strconv"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/cache"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/internal/indexer"
	"github.com/amankumarsingh77/crawlindex/internal/query"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

type Searcher interface {
	Search(ctx context.Context, rawQuery string, topK int) (*query.Response, error)
}

// MetaReader reads crawl metadata, normally *cache.Client.
type MetaReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// StatsFunc reports the stats of one component for /metrics.
type StatsFunc func() any

type SearchAPI struct {
	service     Searcher
	defaultTopK int
	meta        MetaReader
	metrics     map[string]StatsFunc
	logger      *zap.Logger
}

type Option func(*SearchAPI)

func WithMeta(m MetaReader) Option {
	return func(a *SearchAPI) { a.meta = m }
}

// WithMetrics adds a named section to /metrics.
func WithMetrics(name string, fn StatsFunc) Option {
	return func(a *SearchAPI) { a.metrics[name] = fn }
}

func NewSearchAPI(service Searcher, cfg *config.QueryConfig, logger *zap.Logger, opts ...Option) *SearchAPI {
	api := &SearchAPI{
		service:     service,
		defaultTopK: cfg.DefaultTopK,
		metrics:     make(map[string]StatsFunc),
		logger:      common.OrNop(logger).Named("api"),
	}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

// NewApp builds the fiber app with the API routes registered.
func NewApp(cfg *config.SearchAPIConfig, api *SearchAPI) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	api.RegisterRoutes(app)
	return app
}

// Serve listens on addr until ctx is done, then shuts the app down.
func Serve(ctx context.Context, app *fiber.App, addr string, logger *zap.Logger) error {
	logger = common.OrNop(logger).Named("api")
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting search API", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down search API")
	if err := app.Shutdown(); err != nil {
		return err
	}
	return <-errCh
}

func (api *SearchAPI) RegisterRoutes(app *fiber.App) {
	app.Get("/search", api.searchHandler)
	app.Get("/health", api.healthHandler)
	app.Get("/metrics", api.metricsHandler)
	app.Get("/crawl/meta", api.metaHandler)
}

func (api *SearchAPI) searchHandler(c *fiber.Ctx) error {
	queryStr := c.Query("q", "")
	topK := api.defaultTopK
	if raw := c.Query("topk", c.Query("top_k")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "topk must be an integer")
		}
		topK = n
	}

	resp, err := api.service.Search(c.UserContext(), queryStr, topK)
	switch {
	case errors.Is(err, indexer.ErrEmptyQuery), errors.Is(err, indexer.ErrInvalidTopK):
		return badRequest(c, err.Error())
	case err != nil:
		api.logger.Error("search failed", zap.String("q", queryStr), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "search failed",
		})
	}
	return c.JSON(resp)
}

func (api *SearchAPI) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (api *SearchAPI) metricsHandler(c *fiber.Ctx) error {
	out := make(fiber.Map, len(api.metrics))
	for name, fn := range api.metrics {
		out[name] = fn()
	}
	return c.JSON(out)
}

func (api *SearchAPI) metaHandler(c *fiber.Ctx) error {
	if api.meta == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "crawl metadata cache not configured"})
	}
	canonical, err := common.Canonicalize(c.Query("url"))
	if err != nil {
		return badRequest(c, "url is missing or invalid")
	}
	raw, ok, err := api.meta.Get(c.UserContext(), cache.MetaKey(common.HashURL(canonical)))
	if err != nil {
		api.logger.Warn("crawl meta lookup failed", zap.String("url", canonical), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache unavailable"})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no crawl metadata for url"})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(raw)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
