package crawler

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/amankumarsingh77/crawlindex/internal/cache"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/internal/scheduler"
	"github.com/amankumarsingh77/crawlindex/models"
	"go.uber.org/zap"
)

const hotSnippetLen = 500

type worker struct {
	id     int
	s      *Spider
	logger *zap.Logger
}

func newWorker(id int, s *Spider) *worker {
	return &worker{id: id, s: s, logger: s.logger.With(zap.Int("worker", id))}
}

func (w *worker) run(ctx context.Context) error {
	sched := w.s.deps.Scheduler
	w.logger.Debug("worker started")
	defer w.logger.Debug("worker stopped")

	for {
		select {
		case <-w.s.limitHit:
			return nil
		default:
		}
		task, ok := sched.GetNextTask(ctx)
		if !ok {
			if ctx.Err() != nil || sched.Stopped() {
				return nil
			}
			if err := sched.WaitReady(ctx); err != nil {
				return nil
			}
			continue
		}
		w.process(ctx, task)
	}
}

func (w *worker) process(ctx context.Context, task *scheduler.CrawlTask) {
	d := w.s.deps
	log := w.logger.With(zap.String("url", task.URL))

	if d.Dedup.IsURLSeen(ctx, task.URL) {
		w.s.dupURLs.Add(1)
		d.Scheduler.MarkCompleted(task.URL)
		return
	}

	res, err := d.Fetcher.Fetch(ctx, task.URL)
	if err != nil {
		willRetry := ctx.Err() == nil && Retryable(err) && task.RetryCount < w.s.maxRetries
		d.Scheduler.MarkFailed(task.URL, willRetry)
		if willRetry {
			w.s.retried.Add(1)
		} else {
			w.s.failed.Add(1)
		}
		log.Debug("fetch failed", zap.Int("retry", task.RetryCount), zap.Bool("will_retry", willRetry), zap.Error(err))
		return
	}
	w.s.fetched.Add(1)
	w.s.bytes.Add(int64(len(res.Body)))

	contentHash := common.HashContent(res.Body)
	if d.Dedup.IsContentSeen(ctx, contentHash) {
		w.s.dupContent.Add(1)
		d.Dedup.MarkURLSeen(ctx, task.URL)
		d.Scheduler.MarkCompleted(task.URL)
		log.Debug("duplicate content")
		return
	}

	parsed, err := d.Extractor.Extract(res.FinalURL, res.Body)
	if err != nil {
		w.s.failed.Add(1)
		d.Scheduler.MarkFailed(task.URL, false)
		log.Warn("extraction failed", zap.Error(err))
		return
	}
	parsed.URL = task.URL

	docID, err := d.Index.IndexDocument(parsed, nil)
	if err != nil {
		if docID == 0 {
			w.s.failed.Add(1)
			d.Scheduler.MarkFailed(task.URL, false)
			log.Error("indexing failed", zap.Error(err))
			return
		}
		log.Error("segment flush failed", zap.Uint64("doc_id", docID), zap.Error(err))
	}

	d.Dedup.MarkURLSeen(ctx, task.URL)
	d.Dedup.MarkContentSeen(ctx, contentHash, docID)

	w.persist(ctx, task, res, parsed, docID, contentHash)
	w.s.pageIndexed()
	w.enqueueLinks(ctx, task, parsed.Links)
	d.Scheduler.MarkCompleted(task.URL)
	log.Debug("page indexed", zap.Uint64("doc_id", docID), zap.Int("links", len(parsed.Links)))
}

func (w *worker) persist(ctx context.Context, task *scheduler.CrawlTask, res *FetchResult, parsed *models.ParsedDocument, docID, contentHash uint64) {
	d := w.s.deps
	hash := strconv.FormatUint(contentHash, 16)

	if d.Pages != nil {
		links := make([]string, len(parsed.Links))
		for i, l := range parsed.Links {
			links[i] = l.URL
		}
		page := &models.WebPage{
			DocID:       docID,
			URL:         task.URL,
			FinalURL:    res.FinalURL,
			Title:       parsed.Title,
			Description: parsed.Description,
			StatusCode:  res.StatusCode,
			ContentType: res.ContentType,
			ContentHash: hash,
			TokenCount:  len(parsed.Tokens),
			BodyText:    parsed.Text,
			Links:       links,
			CrawlRunID:  w.s.runID,
		}
		if err := d.Pages.SavePage(ctx, page); err != nil {
			w.logger.Warn("failed to save page", zap.String("url", task.URL), zap.Error(err))
		}
	}

	if d.Cache == nil {
		return
	}
	urlHash := common.HashURL(task.URL)
	if err := d.Cache.SetEX(ctx, cache.HotKey(urlHash), truncateRunes(parsed.Text, hotSnippetLen), cache.HotTTL); err != nil {
		w.logger.Debug("hot cache write failed", zap.Error(err))
	}
	meta, err := json.Marshal(models.CrawlMeta{
		URL:         task.URL,
		FinalURL:    res.FinalURL,
		StatusCode:  res.StatusCode,
		DocID:       docID,
		ContentHash: hash,
		Title:       parsed.Title,
		Links:       len(parsed.Links),
		Bytes:       len(res.Body),
		DurationMs:  res.Duration.Milliseconds(),
		FetchedAt:   time.Now().UTC(),
		CrawlRunID:  w.s.runID,
	})
	if err == nil {
		err = d.Cache.SetEX(ctx, cache.MetaKey(urlHash), string(meta), cache.MetaTTL)
	}
	if err != nil {
		w.logger.Debug("crawl meta write failed", zap.Error(err))
	}
}

// enqueueLinks adds discovered links one priority level below their parent.
// Links that would fall below MinPriority are dropped, which bounds the depth.
func (w *worker) enqueueLinks(ctx context.Context, task *scheduler.CrawlTask, links []models.Link) {
	d := w.s.deps
	priority := task.Priority - 1
	if priority < w.s.cfg.MinPriority || len(links) == 0 {
		return
	}
	host := common.Host(task.URL)

	added := 0
	for _, link := range links {
		if ctx.Err() != nil {
			return
		}
		if w.s.cfg.SameHostOnly && common.Host(link.URL) != host {
			continue
		}
		if d.Dedup.IsURLSeen(ctx, link.URL) {
			continue
		}
		if d.Links != nil {
			seen, err := d.Links.Exists(link.URL)
			if err != nil {
				w.logger.Debug("link filter check failed", zap.Error(err))
			} else if seen {
				continue
			}
			if err := d.Links.Add(link.URL); err != nil {
				w.logger.Debug("link filter add failed", zap.Error(err))
			}
		}
		if d.Scheduler.AddURL(link.URL, priority) {
			added++
		}
	}
	w.s.linksEnqueued.Add(int64(added))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
