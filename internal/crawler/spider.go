package crawler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/internal/dedup"
	"github.com/amankumarsingh77/crawlindex/internal/scheduler"
	"github.com/amankumarsingh77/crawlindex/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrSeedRejected = errors.New("seed url rejected")

type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*FetchResult, error)
}

type DocumentIndexer interface {
	IndexDocument(doc *models.ParsedDocument, metadata map[string]string) (uint64, error)
}

type PageStore interface {
	SavePage(ctx context.Context, page *models.WebPage) error
}

// HotCache receives the hot snippet and crawl metadata of every indexed page.
type HotCache interface {
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
}

// Deps are the collaborators of a Spider. Pages, Cache and Links are optional.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Dedup     *dedup.Deduplicator
	Fetcher   PageFetcher
	Extractor *Extractor
	Index     DocumentIndexer
	Pages     PageStore
	Cache     HotCache
	Links     LinkFilter
}

type Stats struct {
	RunID            string `json:"run_id"`
	Fetched          int64  `json:"fetched"`
	Indexed          int64  `json:"indexed"`
	Failed           int64  `json:"failed"`
	Retried          int64  `json:"retried"`
	DuplicateURLs    int64  `json:"duplicate_urls"`
	DuplicateContent int64  `json:"duplicate_content"`
	LinksEnqueued    int64  `json:"links_enqueued"`
	Bytes            int64  `json:"bytes"`
}

// Spider runs the crawl loop over a shared Scheduler with a fixed number of workers.
type Spider struct {
	cfg        config.CrawlConfig
	workers    int
	maxRetries int
	deps       Deps
	logger     *zap.Logger
	runID      string

	limitOnce sync.Once
	limitHit  chan struct{}

	fetched, indexed, failed, retried, dupURLs, dupContent, linksEnqueued, bytes atomic.Int64
}

func NewSpider(cfg *config.Config, deps Deps, logger *zap.Logger) *Spider {
	if deps.Extractor == nil {
		deps.Extractor = NewExtractor(nil)
	}
	runID := uuid.NewString()
	return &Spider{
		cfg:        cfg.Crawl,
		workers:    max(cfg.Workers, 1),
		maxRetries: cfg.Scheduler.MaxRetries,
		deps:       deps,
		logger:     common.OrNop(logger).Named("spider").With(zap.String("run_id", runID)),
		runID:      runID,
		limitHit:   make(chan struct{}),
	}
}

func (s *Spider) RunID() string { return s.runID }

// Seed adds the seed urls at the configured seed priority. Ingestion stops at
// the first url that cannot be canonicalized.
func (s *Spider) Seed(urls []string) error {
	if !s.deps.Scheduler.AddSeedURLs(urls, s.cfg.SeedPriority) {
		return ErrSeedRejected
	}
	s.logger.Info("seeded frontier", zap.Int("urls", len(urls)), zap.Int("priority", s.cfg.SeedPriority))
	return nil
}

// Run crawls until ctx is cancelled, MaxPages pages have been indexed, or,
// with StopWhenIdle, the frontier drains.
func (s *Spider) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("starting crawl", zap.Int("workers", s.workers))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := range s.workers {
		w := newWorker(i, s)
		g.Go(func() error { return w.run(gctx) })
	}

	var idle <-chan struct{}
	if s.cfg.StopWhenIdle {
		idle = s.deps.Scheduler.Idle()
	}
	go func() {
		select {
		case <-gctx.Done():
			return
		case <-idle:
			s.logger.Info("frontier drained")
		case <-s.limitHit:
			s.logger.Info("page limit reached", zap.Int64("max_pages", s.cfg.MaxPages))
		}
		cancel()
	}()

	err := g.Wait()
	s.logger.Info("crawl finished", zap.Duration("took", time.Since(start)), zap.Any("stats", s.Stats()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Spider) pageIndexed() {
	n := s.indexed.Add(1)
	if s.cfg.MaxPages > 0 && n >= s.cfg.MaxPages {
		s.limitOnce.Do(func() { close(s.limitHit) })
	}
}

func (s *Spider) Stats() Stats {
	return Stats{
		RunID:            s.runID,
		Fetched:          s.fetched.Load(),
		Indexed:          s.indexed.Load(),
		Failed:           s.failed.Load(),
		Retried:          s.retried.Load(),
		DuplicateURLs:    s.dupURLs.Load(),
		DuplicateContent: s.dupContent.Load(),
		LinksEnqueued:    s.linksEnqueued.Load(),
		Bytes:            s.bytes.Load(),
	}
}
