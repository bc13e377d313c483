package indexer

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/internal/common"
	"github.com/amankumarsingh77/crawlindex/models"
	"go.uber.org/zap"
)

const (
	AvgLengthResident = "resident"
	AvgLengthCorpus   = "corpus"
)

type Option func(*Engine)

// WithSink registers a receiver for every flushed segment.
func WithSink(sink SegmentSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// Engine is the inverted index. Searches share a read lock; indexing takes the
// write lock only long enough to append to the live memory segment.
type Engine struct {
	cfg      config.IndexerConfig
	analyzer *common.Analyzer
	logger   *zap.Logger
	sink     SegmentSink

	mu          sync.RWMutex
	live        *memSegment
	sealed      []*memSegment // oldest first, searchable until written
	segments    []*segmentReader
	nextDocID   uint64
	totalDocs   uint64
	totalLength uint64
	closed      bool

	// serializes flushes and merges; guards nextSeq
	flushMu sync.Mutex
	nextSeq uint64

	flushes  atomic.Int64
	merges   atomic.Int64
	searches atomic.Int64
	faults   atomic.Int64
}

// NewEngine opens the index in cfg.Dir, loading any segment files already there.
func NewEngine(cfg *config.IndexerConfig, analyzer *common.Analyzer, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if analyzer == nil {
		analyzer = common.DefaultAnalyzer()
	}
	e := &Engine{
		cfg:       *cfg,
		analyzer:  analyzer,
		logger:    common.OrNop(logger).Named("indexer"),
		live:      newMemSegment(),
		nextDocID: 1,
		nextSeq:   1,
	}
	if e.cfg.MaxDocsPerSegment < 1 {
		e.cfg.MaxDocsPerSegment = 100_000
	}
	if e.cfg.AvgLengthPolicy == "" {
		e.cfg.AvgLengthPolicy = AvgLengthResident
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	if err := e.openSegments(); err != nil {
		return nil, err
	}

	e.logger.Info("index opened",
		zap.String("dir", e.cfg.Dir),
		zap.Int("segments", len(e.segments)),
		zap.Uint64("documents", e.totalDocs),
		zap.Uint64("next_doc_id", e.nextDocID))
	return e, nil
}

func (e *Engine) openSegments() error {
	entries, err := os.ReadDir(e.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read index dir: %w", err)
	}

	var readers []*segmentReader
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".tmp") {
			_ = os.Remove(filepath.Join(e.cfg.Dir, name))
			continue
		}
		seq, ok := parseSegmentName(name)
		if !ok {
			continue
		}
		r, err := openSegment(filepath.Join(e.cfg.Dir, name), seq)
		if err != nil {
			for _, open := range readers {
				_ = open.close()
			}
			return err
		}
		readers = append(readers, r)
	}
	slices.SortFunc(readers, func(a, b *segmentReader) int { return cmp.Compare(a.seq, b.seq) })

	for i, r := range readers {
		if r.seq >= e.nextSeq {
			e.nextSeq = r.seq + 1
		}
		if r.docCount() > 0 && supersededBy(r, readers[i+1:]) {
			// inputs of a merge that was interrupted before they were removed
			e.logger.Warn("removing superseded segment", zap.String("path", r.path))
			_ = r.close()
			_ = os.Remove(r.path)
			continue
		}
		e.segments = append(e.segments, r)
		e.totalDocs += uint64(r.docCount())
		e.totalLength += r.totalLength
		if r.docCount() > 0 && r.maxDocID() >= e.nextDocID {
			e.nextDocID = r.maxDocID() + 1
		}
	}
	return nil
}

func supersededBy(r *segmentReader, later []*segmentReader) bool {
	lo, hi := r.docs[0].docID, r.maxDocID()
	for _, l := range later {
		if l.docCount() > 0 && l.docs[0].docID <= lo && hi <= l.maxDocID() {
			return true
		}
	}
	return false
}

// IndexDocument adds doc and returns its doc id. Recognised metadata keys are
// category, brand and price. When the live segment reaches MaxDocsPerSegment it
// is flushed before IndexDocument returns; a flush error is returned together
// with the doc id, and the document stays searchable from memory.
func (e *Engine) IndexDocument(doc *models.ParsedDocument, metadata map[string]string) (uint64, error) {
	if doc == nil {
		return 0, errors.New("nil document")
	}
	d := &Document{
		URL:      doc.URL,
		Title:    doc.Title,
		FullText: doc.Text,
		Category: metadata["category"],
		Brand:    metadata["brand"],
	}
	if raw := strings.TrimSpace(metadata["price"]); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: price %q", ErrInvalidMetadata, raw)
		}
		d.Price = price
	}

	d.TermPositions = doc.TermPositions
	if len(d.TermPositions) == 0 {
		tokens := doc.Tokens
		if len(tokens) == 0 {
			tokens = e.analyzer.Tokens(doc.Text)
		}
		d.TermPositions = common.TermPositions(tokens)
	}
	for term, positions := range d.TermPositions {
		if term != "" {
			d.Length += uint32(len(positions))
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	d.DocID = e.nextDocID
	e.nextDocID++
	e.live.add(d)
	e.totalDocs++
	e.totalLength += uint64(d.Length)
	full := e.live.len() >= e.cfg.MaxDocsPerSegment
	if full {
		e.sealLocked()
	}
	e.mu.Unlock()

	if full {
		if err := e.flushSealed(); err != nil {
			return d.DocID, err
		}
	}
	return d.DocID, nil
}

func (e *Engine) sealLocked() {
	if e.live.len() == 0 {
		return
	}
	e.sealed = append(e.sealed, e.live)
	e.live = newMemSegment()
}

// FlushSegment persists everything indexed since the last flush and releases it
// from memory.
func (e *Engine) FlushSegment() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.sealLocked()
	e.mu.Unlock()
	return e.flushSealed()
}

func (e *Engine) flushSealed() error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	flushed := false
	for {
		e.mu.RLock()
		if len(e.sealed) == 0 {
			e.mu.RUnlock()
			break
		}
		seg := e.sealed[0]
		e.mu.RUnlock()

		if err := e.writeSegment(seg); err != nil {
			return err
		}
		flushed = true
	}

	if flushed && e.cfg.MaxSegments > 0 && e.segmentCount() > e.cfg.MaxSegments {
		if _, err := e.mergeLocked(); err != nil {
			return fmt.Errorf("auto merge: %w", err)
		}
	}
	return nil
}

// writeSegment writes the oldest sealed segment. Requires flushMu.
func (e *Engine) writeSegment(seg *memSegment) error {
	seq := e.nextSeq
	path := filepath.Join(e.cfg.Dir, segmentName(seq))

	w, err := createSegment(path)
	if err != nil {
		return fmt.Errorf("flush segment %d: %w", seq, err)
	}
	for _, id := range seg.order {
		if err := w.addDocument(seg.docs[id]); err != nil {
			w.abort()
			return fmt.Errorf("flush segment %d: %w", seq, err)
		}
	}
	for _, term := range seg.sortedTerms() {
		if err := w.addTerm(term, seg.postingsMap[term]); err != nil {
			w.abort()
			return fmt.Errorf("flush segment %d: %w", seq, err)
		}
	}
	if err := w.finish(); err != nil {
		return fmt.Errorf("flush segment %d: %w", seq, err)
	}
	r, err := openSegment(path, seq)
	if err != nil {
		return fmt.Errorf("reopen flushed segment %d: %w", seq, err)
	}
	e.nextSeq++

	e.mu.Lock()
	e.segments = append(e.segments, r)
	e.sealed = e.sealed[1:]
	e.mu.Unlock()

	e.flushes.Add(1)
	e.logger.Info("segment flushed",
		zap.Uint64("segment", seq),
		zap.Int("docs", seg.len()),
		zap.Int("terms", len(seg.postingsMap)))
	if e.sink != nil {
		e.sink.SegmentFlushed(seg.snapshot(seq))
	}
	return nil
}

func (e *Engine) segmentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.segments)
}

// MergeSegments combines all segment files into one. It reports false when
// there were fewer than two segments to merge.
func (e *Engine) MergeSegments() (bool, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false, ErrClosed
	}

	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	return e.mergeLocked()
}

// mergeLocked requires flushMu, which also keeps the segment list stable.
func (e *Engine) mergeLocked() (bool, error) {
	e.mu.RLock()
	inputs := slices.Clone(e.segments)
	e.mu.RUnlock()
	if len(inputs) < 2 {
		return false, nil
	}

	seq := e.nextSeq
	path := filepath.Join(e.cfg.Dir, segmentName(seq))
	if err := mergeInto(path, inputs); err != nil {
		return false, fmt.Errorf("merge into segment %d: %w", seq, err)
	}
	merged, err := openSegment(path, seq)
	if err != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("reopen merged segment %d: %w", seq, err)
	}
	e.nextSeq++

	e.mu.Lock()
	e.segments = []*segmentReader{merged}
	e.mu.Unlock()

	for _, r := range inputs {
		if err := r.close(); err != nil {
			e.logger.Warn("failed to close merged segment", zap.String("path", r.path), zap.Error(err))
		}
		if err := os.Remove(r.path); err != nil {
			e.logger.Warn("failed to remove merged segment", zap.String("path", r.path), zap.Error(err))
		}
	}

	e.merges.Add(1)
	e.logger.Info("segments merged",
		zap.Int("inputs", len(inputs)),
		zap.Uint64("segment", seq),
		zap.Int("docs", merged.docCount()))
	return true, nil
}

type hit struct {
	docID uint64
	score float64
	src   docSource
}

// Search ranks documents for query with BM25. Terms missing from the index
// contribute nothing.
func (e *Engine) Search(query string, topK int) (*SearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}
	e.searches.Add(1)
	terms := e.analyzer.QueryTerms(query)

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	sources := make([]docSource, 0, len(e.segments)+len(e.sealed)+1)
	for _, s := range e.segments {
		sources = append(sources, s)
	}
	for _, s := range e.sealed {
		sources = append(sources, s)
	}
	sources = append(sources, e.live)

	avg := e.avgDocLengthLocked()
	hits := make(map[uint64]*hit)

	type sourced struct {
		src      docSource
		postings []Posting
	}
	for _, term := range terms {
		var lists []sourced
		var df uint64
		for _, src := range sources {
			postings, err := src.postings(term)
			if err != nil {
				return nil, fmt.Errorf("read postings for %q: %w", term, err)
			}
			if len(postings) > 0 {
				lists = append(lists, sourced{src: src, postings: postings})
				df += uint64(len(postings))
			}
		}
		if df == 0 {
			continue
		}

		idf := IDF(e.totalDocs, df)
		for _, l := range lists {
			for _, p := range l.postings {
				length, ok := l.src.docLength(p.DocID)
				if !ok {
					e.consistencyFault(term, p.DocID)
					continue
				}
				h := hits[p.DocID]
				if h == nil {
					h = &hit{docID: p.DocID, src: l.src}
					hits[p.DocID] = h
				}
				h.score += idf * BM25(float64(p.TermFrequency), float64(length), avg)
			}
		}
	}

	ranked := make([]*hit, 0, len(hits))
	for _, h := range hits {
		ranked = append(ranked, h)
	}
	slices.SortFunc(ranked, func(a, b *hit) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.docID, b.docID)
	})

	resp := &SearchResponse{Results: make([]SearchResult, 0, min(topK, len(ranked))), Total: len(ranked)}
	for _, h := range ranked {
		if len(resp.Results) == topK {
			break
		}
		doc, ok, err := h.src.document(h.docID)
		if err != nil {
			return nil, fmt.Errorf("load document %d: %w", h.docID, err)
		}
		if !ok {
			e.consistencyFault("", h.docID)
			continue
		}
		resp.Results = append(resp.Results, SearchResult{
			DocID:   doc.DocID,
			URL:     doc.URL,
			Title:   doc.Title,
			Snippet: snippet(doc.FullText),
			Score:   h.score,
		})
	}
	return resp, nil
}

func (e *Engine) consistencyFault(term string, docID uint64) {
	e.faults.Add(1)
	e.logger.Error("posting without forward index entry",
		zap.String("term", term),
		zap.Uint64("doc_id", docID))
}

func (e *Engine) avgDocLengthLocked() float64 {
	if e.cfg.AvgLengthPolicy == AvgLengthResident {
		docs, length := e.residentLocked()
		if docs > 0 {
			return float64(length) / float64(docs)
		}
	}
	if e.totalDocs == 0 {
		return 0
	}
	return float64(e.totalLength) / float64(e.totalDocs)
}

func (e *Engine) residentLocked() (docs int, length uint64) {
	docs, length = e.live.len(), e.live.totalLength
	for _, s := range e.sealed {
		docs += s.len()
		length += s.totalLength
	}
	return docs, length
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	resident, _ := e.residentLocked()
	return Stats{
		Documents:         e.totalDocs,
		ResidentDocuments: resident,
		DocsSinceFlush:    e.live.len(),
		Segments:          len(e.segments),
		AvgDocLength:      e.avgDocLengthLocked(),
		Flushes:           e.flushes.Load(),
		Merges:            e.merges.Load(),
		Searches:          e.searches.Load(),
		ConsistencyFaults: e.faults.Load(),
	}
}

// Close flushes resident documents and releases the segment files.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.sealLocked()
	e.mu.Unlock()

	flushErr := e.flushSealed()

	e.flushMu.Lock()
	defer e.flushMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	errs := []error{flushErr}
	for _, r := range e.segments {
		errs = append(errs, r.close())
	}
	e.segments = nil
	return errors.Join(errs...)
}
