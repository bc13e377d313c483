package query

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/cache"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/internal/indexer"
	"go.uber.org/zap"
)

type Searcher interface {
	Search(query string, topK int) (*indexer.SearchResponse, error)
}

// ResultCache is the shared result cache, normally *cache.Client.
type ResultCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
}

// Service answers queries from the index through a local LRU and the shared
// Redis result cache.
type Service struct {
	searcher Searcher
	remote   ResultCache
	local    *LRUCache[string, *Response]
	cfg      config.QueryConfig
	logger   *zap.Logger

	queries, localHits, remoteHits, misses, remoteFails atomic.Int64
}

// NewService builds a query service. remote may be nil.
func NewService(searcher Searcher, remote ResultCache, cfg config.QueryConfig, logger *zap.Logger) *Service {
	return &Service{
		searcher: searcher,
		remote:   remote,
		local:    NewLRUCache[string, *Response](cfg.CacheSize, cfg.CacheTTL),
		cfg:      cfg,
		logger:   common.OrNop(logger).Named("query"),
	}
}

func (s *Service) Search(ctx context.Context, rawQuery string, topK int) (*Response, error) {
	start := time.Now()
	plan, err := Parse(rawQuery, topK, s.cfg.MaxTopK)
	if err != nil {
		return nil, err
	}
	s.queries.Add(1)
	key := cache.SearchKey(plan.Normalized, plan.TopK)

	if resp, ok := s.local.Get(key); ok {
		s.localHits.Add(1)
		return s.cachedCopy(resp, rawQuery, start), nil
	}

	if resp, ok := s.fromRemote(ctx, key); ok {
		s.remoteHits.Add(1)
		s.local.Put(key, resp)
		return s.cachedCopy(resp, rawQuery, start), nil
	}

	s.misses.Add(1)
	found, err := s.searcher.Search(plan.Raw, plan.TopK)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", plan.Normalized, err)
	}
	resp := &Response{
		Query:   rawQuery,
		Results: found.Results,
		Total:   found.Total,
	}
	s.local.Put(key, resp)
	s.toRemote(ctx, key, resp)

	out := *resp
	out.Results = slices.Clone(resp.Results)
	out.TookMs = elapsedMs(start)
	return &out, nil
}

func (s *Service) cachedCopy(resp *Response, rawQuery string, start time.Time) *Response {
	out := *resp
	out.Results = slices.Clone(resp.Results)
	out.Query = rawQuery
	out.Cached = true
	out.TookMs = elapsedMs(start)
	return &out
}

func (s *Service) fromRemote(ctx context.Context, key string) (*Response, bool) {
	if s.remote == nil {
		return nil, false
	}
	raw, ok, err := s.remote.Get(ctx, key)
	if err != nil {
		s.remoteFails.Add(1)
		s.logger.Debug("result cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		s.logger.Warn("discarding unreadable cached result", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &resp, true
}

func (s *Service) toRemote(ctx context.Context, key string, resp *Response) {
	if s.remote == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to encode result", zap.Error(err))
		return
	}
	if err := s.remote.SetEX(ctx, key, string(data), cache.SearchTTL); err != nil {
		s.remoteFails.Add(1)
		s.logger.Debug("result cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) Stats() Stats {
	return Stats{
		Queries:     s.queries.Load(),
		LocalHits:   s.localHits.Load(),
		RemoteHits:  s.remoteHits.Load(),
		Misses:      s.misses.Load(),
		RemoteFails: s.remoteFails.Load(),
		LocalSize:   s.local.Size(),
	}
}

func (s *Service) Close() {
	s.local.Close()
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
