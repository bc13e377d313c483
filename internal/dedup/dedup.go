package dedup

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amankumarsingh77/crawlindex/internal/cache"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"go.uber.org/zap"
)

// TierState is the degraded-mode flag of the Deduplicator.
type TierState int32

const (
	RemoteAvailable TierState = iota
	LocalOnly
)

func (s TierState) String() string {
	switch s {
	case RemoteAvailable:
		return "remote_available"
	case LocalOnly:
		return "local_only"
	default:
		return "unknown"
	}
}

// Remote is the part of the cache client the Deduplicator needs.
type Remote interface {
	Ping(ctx context.Context) error
	Exists(ctx context.Context, key string) (bool, error)
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
}

type Options struct {
	// consult and populate the in-process sets even while the remote tier is healthy
	LocalFallback bool
	// begin in LocalOnly, e.g. when the remote did not answer at startup;
	// Probe restores it once it does
	StartDegraded bool
}

type Stats struct {
	State         string `json:"state"`
	URLHits       int64  `json:"url_hits"`
	URLMisses     int64  `json:"url_misses"`
	ContentHits   int64  `json:"content_hits"`
	ContentMisses int64  `json:"content_misses"`
	Degradations  int64  `json:"degradations"`
	LocalURLs     int    `json:"local_urls"`
	LocalContent  int    `json:"local_content"`
}

// Deduplicator answers "seen this URL / this content before?" against the
// remote cache, falling back to in-process sets. Remote failures never reach
// the caller: they move the component to LocalOnly.
type Deduplicator struct {
	remote Remote
	state  atomic.Int32
	// set once the local tier must be consulted on every call
	localActive atomic.Bool
	local       *localSet
	logger      *zap.Logger

	urlHits, urlMisses, contentHits, contentMisses, degradations atomic.Int64
}

func New(remote Remote, opts Options, logger *zap.Logger) *Deduplicator {
	d := &Deduplicator{
		remote: remote,
		local:  newLocalSet(),
		logger: common.OrNop(logger).Named("dedup"),
	}
	if remote == nil || opts.StartDegraded {
		d.state.Store(int32(LocalOnly))
		d.localActive.Store(true)
	}
	if opts.LocalFallback {
		d.localActive.Store(true)
	}
	return d
}

func (d *Deduplicator) State() TierState {
	return TierState(d.state.Load())
}

func (d *Deduplicator) remoteUp() bool {
	return d.remote != nil && d.State() == RemoteAvailable
}

func (d *Deduplicator) degrade(op string, err error) {
	d.localActive.Store(true)
	if d.state.CompareAndSwap(int32(RemoteAvailable), int32(LocalOnly)) {
		d.degradations.Add(1)
		d.logger.Warn("remote tier unavailable, switching to local only", zap.String("op", op), zap.Error(err))
	}
}

// Probe pings the remote tier and restores RemoteAvailable when it answers.
// Entries recorded locally while degraded keep being consulted.
func (d *Deduplicator) Probe(ctx context.Context) TierState {
	if d.remote == nil {
		return LocalOnly
	}
	if err := d.remote.Ping(ctx); err != nil {
		return d.State()
	}
	if d.state.CompareAndSwap(int32(LocalOnly), int32(RemoteAvailable)) {
		d.logger.Info("remote tier restored")
	}
	return RemoteAvailable
}

// RunProbe calls Probe every interval while degraded, until ctx is done.
func (d *Deduplicator) RunProbe(ctx context.Context, interval time.Duration) {
	if d.remote == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.State() == LocalOnly {
				d.Probe(ctx)
			}
		}
	}
}

func (d *Deduplicator) IsURLSeen(ctx context.Context, rawURL string) bool {
	h := common.HashURL(common.CanonicalKey(rawURL))
	seen := d.isURLSeen(ctx, h)
	if seen {
		d.urlHits.Add(1)
	} else {
		d.urlMisses.Add(1)
	}
	return seen
}

func (d *Deduplicator) isURLSeen(ctx context.Context, h uint64) bool {
	if d.remoteUp() {
		key := cache.URLKey(h)
		ok, err := d.remote.Exists(ctx, key)
		switch {
		case err != nil:
			d.degrade("exists", err)
		case ok:
			if err := d.remote.Expire(ctx, key, cache.URLTTL); err != nil {
				d.degrade("expire", err)
			}
			return true
		}
	}
	if d.localActive.Load() {
		return d.local.hasURL(h)
	}
	return false
}

func (d *Deduplicator) MarkURLSeen(ctx context.Context, rawURL string) {
	h := common.HashURL(common.CanonicalKey(rawURL))
	if d.remoteUp() {
		if _, err := d.remote.SetNX(ctx, cache.URLKey(h), cache.URLTTL); err != nil {
			d.degrade("setnx", err)
		}
	}
	if d.localActive.Load() {
		d.local.addURL(h)
	}
}

func (d *Deduplicator) IsContentSeen(ctx context.Context, contentHash uint64) bool {
	_, seen := d.ContentOwner(ctx, contentHash)
	if seen {
		d.contentHits.Add(1)
	} else {
		d.contentMisses.Add(1)
	}
	return seen
}

// ContentOwner returns the document id recorded for contentHash.
func (d *Deduplicator) ContentOwner(ctx context.Context, contentHash uint64) (uint64, bool) {
	if d.remoteUp() {
		val, ok, err := d.remote.Get(ctx, cache.ContentKey(contentHash))
		switch {
		case err != nil:
			d.degrade("get", err)
		case ok:
			docID, perr := strconv.ParseUint(val, 10, 64)
			if perr != nil {
				d.logger.Error("malformed content owner in cache", zap.String("value", val), zap.Error(perr))
			}
			return docID, true
		}
	}
	if d.localActive.Load() {
		return d.local.contentOwner(contentHash)
	}
	return 0, false
}

func (d *Deduplicator) MarkContentSeen(ctx context.Context, contentHash, docID uint64) {
	if d.remoteUp() {
		err := d.remote.SetEX(ctx, cache.ContentKey(contentHash), strconv.FormatUint(docID, 10), cache.ContentTTL)
		if err != nil {
			d.degrade("setex", err)
		}
	}
	if d.localActive.Load() {
		d.local.addContent(contentHash, docID)
	}
}

func (d *Deduplicator) Stats() Stats {
	urls, contents := d.local.size()
	return Stats{
		State:         d.State().String(),
		URLHits:       d.urlHits.Load(),
		URLMisses:     d.urlMisses.Load(),
		ContentHits:   d.contentHits.Load(),
		ContentMisses: d.contentMisses.Load(),
		Degradations:  d.degradations.Load(),
		LocalURLs:     urls,
		LocalContent:  contents,
	}
}

type localSet struct {
	mu      sync.RWMutex
	urls    map[uint64]struct{}
	content map[uint64]uint64
}

func newLocalSet() *localSet {
	return &localSet{
		urls:    make(map[uint64]struct{}),
		content: make(map[uint64]uint64),
	}
}

func (s *localSet) hasURL(h uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.urls[h]
	return ok
}

func (s *localSet) addURL(h uint64) {
	s.mu.Lock()
	s.urls[h] = struct{}{}
	s.mu.Unlock()
}

func (s *localSet) contentOwner(h uint64) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.content[h]
	return id, ok
}

func (s *localSet) addContent(h, docID uint64) {
	s.mu.Lock()
	s.content[h] = docID
	s.mu.Unlock()
}

func (s *localSet) size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls), len(s.content)
}
