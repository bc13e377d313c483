package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/amankumarsingh77/crawlindex/config"
	"github.com/amankumarsingh77/crawlindex/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndexConfig(t *testing.T) *config.IndexerConfig {
	return &config.IndexerConfig{
		Dir:               t.TempDir(),
		MaxDocsPerSegment: 100,
		AvgLengthPolicy:   AvgLengthResident,
		PoolSize:          1,
	}
}

func newTestEngine(t *testing.T, cfg *config.IndexerConfig, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, nil, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func index(t *testing.T, e *Engine, url, text string) uint64 {
	t.Helper()
	id, err := e.IndexDocument(&models.ParsedDocument{URL: url, Title: url, Text: text}, nil)
	require.NoError(t, err)
	return id
}

func docIDs(resp *SearchResponse) []uint64 {
	ids := make([]uint64, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.DocID)
	}
	return ids
}

func TestSearchRanksMatchingDocuments(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))

	red := index(t, e, "https://a.example/", "red apple")
	green := index(t, e, "https://b.example/", "green apple pie")
	index(t, e, "https://c.example/", "red car")

	resp, err := e.Search("apple", 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{red, green}, docIDs(resp))
	require.Equal(t, 2, resp.Total)
	require.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
	require.Equal(t, "red apple", resp.Results[0].Snippet)
	require.Equal(t, "https://a.example/", resp.Results[0].URL)
}

func TestSearchTotalCountsBeforeTruncation(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	for i := range 5 {
		index(t, e, fmt.Sprintf("https://%d.example/", i), "shared term")
	}

	resp, err := e.Search("shared missing", 2)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	require.Equal(t, 5, resp.Total)
}

func TestSearchTiesBreakOnDocID(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	index(t, e, "https://x.example/", "filler")
	a := index(t, e, "https://a.example/", "same words")
	b := index(t, e, "https://b.example/", "same words")

	resp, err := e.Search("same", 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{a, b}, docIDs(resp))
	require.Equal(t, resp.Results[0].Score, resp.Results[1].Score)
}

func TestSearchUnknownTermsAreSkipped(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	index(t, e, "https://a.example/", "red apple")

	resp, err := e.Search("banana", 5)
	require.NoError(t, err)
	require.Empty(t, resp.Results)
	require.Zero(t, resp.Total)
}

func TestSearchRejectsInvalidInput(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))

	_, err := e.Search("   ", 5)
	require.ErrorIs(t, err, ErrEmptyQuery)

	_, err = e.Search("apple", 0)
	require.ErrorIs(t, err, ErrInvalidTopK)

	_, err = e.Search("apple", -3)
	require.ErrorIs(t, err, ErrInvalidTopK)
}

func TestIndexDocumentAssignsIncreasingIDs(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	var prev uint64
	for i := range 10 {
		id := index(t, e, fmt.Sprintf("https://%d.example/", i), "text")
		require.Greater(t, id, prev)
		prev = id
	}

	// a re-crawled URL becomes a new document
	again := index(t, e, "https://0.example/", "text")
	require.Greater(t, again, prev)
	require.Equal(t, uint64(11), e.Stats().Documents)
}

func TestIndexDocumentMetadata(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))

	id, err := e.IndexDocument(&models.ParsedDocument{URL: "https://shop.example/p/1", Text: "blue shoes"},
		map[string]string{"category": "shoes", "brand": "acme", "price": "19.99"})
	require.NoError(t, err)
	require.NoError(t, e.FlushSegment())

	e.mu.RLock()
	doc, ok, err := e.segments[0].document(id)
	e.mu.RUnlock()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "shoes", doc.Category)
	require.Equal(t, "acme", doc.Brand)
	require.InDelta(t, 19.99, doc.Price, 1e-9)

	_, err = e.IndexDocument(&models.ParsedDocument{URL: "https://shop.example/p/2", Text: "x"},
		map[string]string{"price": "cheap"})
	require.ErrorIs(t, err, ErrInvalidMetadata)
	require.Equal(t, uint64(1), e.Stats().Documents)
}

func TestIndexDocumentUsesProvidedPositions(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	_, err := e.IndexDocument(&models.ParsedDocument{
		URL:           "https://a.example/",
		Text:          "ignored because positions are given",
		TermPositions: map[string][]uint32{"alpha": {0, 2}, "beta": {1}},
	}, nil)
	require.NoError(t, err)

	resp, err := e.Search("alpha", 1)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	resp, err = e.Search("ignored", 1)
	require.NoError(t, err)
	require.Empty(t, resp.Results)
	require.InDelta(t, 3.0, e.Stats().AvgDocLength, 1e-9)
}

func TestSegmentBoundaryTriggersOneFlush(t *testing.T) {
	cfg := testIndexConfig(t)
	cfg.MaxDocsPerSegment = 3
	e := newTestEngine(t, cfg)

	index(t, e, "https://a.example/", "one")
	index(t, e, "https://b.example/", "two")
	require.Zero(t, e.Stats().Flushes)

	index(t, e, "https://c.example/", "three")
	st := e.Stats()
	require.Equal(t, int64(1), st.Flushes)
	require.Zero(t, st.DocsSinceFlush)
	require.Zero(t, st.ResidentDocuments)
	require.Equal(t, 1, st.Segments)
	require.FileExists(t, filepath.Join(cfg.Dir, segmentName(1)))

	index(t, e, "https://d.example/", "four")
	st = e.Stats()
	require.Equal(t, int64(1), st.Flushes)
	require.Equal(t, 1, st.DocsSinceFlush)
}

func TestSearchAfterFlushIsComplete(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	index(t, e, "https://a.example/", "red apple")
	index(t, e, "https://b.example/", "green apple pie")
	index(t, e, "https://c.example/", "red car")

	before, err := e.Search("red apple", 10)
	require.NoError(t, err)

	require.NoError(t, e.FlushSegment())
	require.Zero(t, e.Stats().ResidentDocuments)

	after, err := e.Search("red apple", 10)
	require.NoError(t, err)
	require.Equal(t, docIDs(before), docIDs(after))
	require.Equal(t, before.Total, after.Total)
	for i := range before.Results {
		require.InDelta(t, before.Results[i].Score, after.Results[i].Score, 1e-9)
		require.Equal(t, before.Results[i].Snippet, after.Results[i].Snippet)
	}
}

func TestSearchSpansMemoryAndDisk(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	disk := index(t, e, "https://a.example/", "apple on disk")
	require.NoError(t, e.FlushSegment())
	mem := index(t, e, "https://b.example/", "apple in memory")

	resp, err := e.Search("apple", 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint64{disk, mem}, docIDs(resp))
}

func TestFlushEmptySegmentIsNoop(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	require.NoError(t, e.FlushSegment())
	require.Zero(t, e.Stats().Flushes)
	require.Zero(t, e.Stats().Segments)
}

func TestMergeSegments(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))

	merged, err := e.MergeSegments()
	require.NoError(t, err)
	require.False(t, merged)

	for i := range 3 {
		index(t, e, fmt.Sprintf("https://%d.example/", i), fmt.Sprintf("common unique%d", i))
		require.NoError(t, e.FlushSegment())
	}
	require.Equal(t, 3, e.Stats().Segments)

	before, err := e.Search("common unique1", 10)
	require.NoError(t, err)

	merged, err = e.MergeSegments()
	require.NoError(t, err)
	require.True(t, merged)

	st := e.Stats()
	require.Equal(t, 1, st.Segments)
	require.Equal(t, int64(1), st.Merges)
	require.Equal(t, uint64(3), st.Documents)

	after, err := e.Search("common unique1", 10)
	require.NoError(t, err)
	require.Equal(t, docIDs(before), docIDs(after))

	files, err := filepath.Glob(filepath.Join(e.cfg.Dir, "*"+segmentExt))
	require.NoError(t, err)
	require.Len(t, files, 1)

	merged, err = e.MergeSegments()
	require.NoError(t, err)
	require.False(t, merged)
}

func TestAutoMerge(t *testing.T) {
	cfg := testIndexConfig(t)
	cfg.MaxDocsPerSegment = 1
	cfg.MaxSegments = 2
	e := newTestEngine(t, cfg)

	for i := range 3 {
		index(t, e, fmt.Sprintf("https://%d.example/", i), "text")
	}
	st := e.Stats()
	require.Equal(t, int64(3), st.Flushes)
	require.Equal(t, int64(1), st.Merges)
	require.Equal(t, 1, st.Segments)
}

func TestReopenRestoresSegments(t *testing.T) {
	cfg := testIndexConfig(t)
	e, err := NewEngine(cfg, nil, nil)
	require.NoError(t, err)
	for i := range 5 {
		_, err := e.IndexDocument(&models.ParsedDocument{URL: fmt.Sprintf("https://%d.example/", i), Text: "persisted words"}, nil)
		require.NoError(t, err)
	}
	require.NoError(t, e.Close())

	_, err = e.IndexDocument(&models.ParsedDocument{Text: "late"}, nil)
	require.ErrorIs(t, err, ErrClosed)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, segmentName(99)+".tmp"), []byte("partial"), 0o644))

	reopened := newTestEngine(t, cfg)
	st := reopened.Stats()
	require.Equal(t, uint64(5), st.Documents)
	require.Equal(t, 1, st.Segments)
	require.NoFileExists(t, filepath.Join(cfg.Dir, segmentName(99)+".tmp"))

	resp, err := reopened.Search("persisted", 10)
	require.NoError(t, err)
	require.Equal(t, 5, resp.Total)

	id := index(t, reopened, "https://new.example/", "fresh")
	require.Equal(t, uint64(6), id)
}

func TestReopenDropsSupersededSegments(t *testing.T) {
	cfg := testIndexConfig(t)
	e, err := NewEngine(cfg, nil, nil)
	require.NoError(t, err)
	inputs := map[string][]byte{}
	for i := range 2 {
		_, err := e.IndexDocument(&models.ParsedDocument{Text: fmt.Sprintf("doc%d", i)}, nil)
		require.NoError(t, err)
		require.NoError(t, e.FlushSegment())
		path := filepath.Join(cfg.Dir, segmentName(uint64(i+1)))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		inputs[path] = data
	}
	merged, err := e.MergeSegments()
	require.NoError(t, err)
	require.True(t, merged)
	require.NoError(t, e.Close())

	// put the merge inputs back as if the merge had stopped before removing them
	for path, data := range inputs {
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}

	reopened := newTestEngine(t, cfg)
	st := reopened.Stats()
	require.Equal(t, uint64(2), st.Documents)
	require.Equal(t, 1, st.Segments)
	for path := range inputs {
		require.NoFileExists(t, path)
	}
}

func TestOpenRejectsCorruptSegment(t *testing.T) {
	cfg := testIndexConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, segmentName(1)), make([]byte, 64), 0o644))

	_, err := NewEngine(cfg, nil, nil)
	require.ErrorIs(t, err, ErrCorruptSegment)
}

func TestAverageLengthPolicy(t *testing.T) {
	resident := testIndexConfig(t)
	e := newTestEngine(t, resident)
	index(t, e, "https://a.example/", "one two three four")
	require.NoError(t, e.FlushSegment())
	index(t, e, "https://b.example/", "one two")
	require.InDelta(t, 2.0, e.Stats().AvgDocLength, 1e-9)

	corpus := testIndexConfig(t)
	corpus.AvgLengthPolicy = AvgLengthCorpus
	c := newTestEngine(t, corpus)
	index(t, c, "https://a.example/", "one two three four")
	require.NoError(t, c.FlushSegment())
	index(t, c, "https://b.example/", "one two")
	require.InDelta(t, 3.0, c.Stats().AvgDocLength, 1e-9)
}

func TestPostingWithoutDocumentIsCounted(t *testing.T) {
	e := newTestEngine(t, testIndexConfig(t))
	index(t, e, "https://a.example/", "real")

	e.mu.Lock()
	e.live.postingsMap["ghost"] = []Posting{{DocID: 999, Positions: []uint32{0}, TermFrequency: 1}}
	e.mu.Unlock()

	resp, err := e.Search("ghost", 5)
	require.NoError(t, err)
	require.Empty(t, resp.Results)
	require.Equal(t, int64(1), e.Stats().ConsistencyFaults)
}

type recordingSink struct {
	mu   sync.Mutex
	segs []*FlushedSegment
}

func (s *recordingSink) SegmentFlushed(seg *FlushedSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segs = append(s.segs, seg)
}

func TestSinkReceivesFlushedSegments(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(t, testIndexConfig(t), WithSink(sink))
	id := index(t, e, "https://a.example/", "red apple")
	require.NoError(t, e.FlushSegment())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.segs, 1)
	seg := sink.segs[0]
	require.Equal(t, uint64(1), seg.Seq)
	require.Len(t, seg.Documents, 1)
	require.Equal(t, id, seg.Documents[0].DocID)
	require.Contains(t, seg.Postings, "apple")
}

func TestConcurrentIndexAndSearch(t *testing.T) {
	cfg := testIndexConfig(t)
	cfg.MaxDocsPerSegment = 25
	cfg.MaxSegments = 3
	e := newTestEngine(t, cfg)

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				_, err := e.IndexDocument(&models.ParsedDocument{
					URL:  fmt.Sprintf("https://w%d.example/%d", w, i),
					Text: fmt.Sprintf("common writer%d item%d", w, i),
				}, nil)
				assert.NoError(t, err)
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_, err := e.Search("common", 10)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	resp, err := e.Search("common", 10)
	require.NoError(t, err)
	require.Equal(t, writers*perWriter, resp.Total)
	require.Equal(t, uint64(writers*perWriter), e.Stats().Documents)
	require.Zero(t, e.Stats().ConsistencyFaults)
}
