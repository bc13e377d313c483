package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	docs     map[uint64]uint64 // doc id -> segment
	termIDs  map[string]int64
	postings map[int64][]uint64
	fail     error
	block    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     map[uint64]uint64{},
		termIDs:  map[string]int64{},
		postings: map[int64][]uint64{},
	}
}

func (f *fakeStore) InsertDocuments(ctx context.Context, segment uint64, docs []*Document) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	for _, d := range docs {
		f.docs[d.DocID] = segment
	}
	return nil
}

func (f *fakeStore) UpsertTerms(ctx context.Context, terms []string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int64{}
	for _, term := range terms {
		id, ok := f.termIDs[term]
		if !ok {
			id = int64(len(f.termIDs) + 1)
			f.termIDs[term] = id
		}
		out[term] = id
	}
	return out, nil
}

func (f *fakeStore) InsertPostings(ctx context.Context, termMap map[string]int64, postings map[string][]Posting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for term, list := range postings {
		for _, p := range list {
			f.postings[termMap[term]] = append(f.postings[termMap[term]], p.DocID)
		}
	}
	return nil
}

func testSegment(seq uint64) *FlushedSegment {
	m := newMemSegment()
	m.add(&Document{DocID: seq * 10, Length: 2, TermPositions: map[string][]uint32{"red": {0}, "apple": {1}}})
	m.add(&Document{DocID: seq*10 + 1, Length: 1, TermPositions: map[string][]uint32{"red": {0}}})
	return m.snapshot(seq)
}

func TestProcessBatch(t *testing.T) {
	store := newFakeStore()
	p := NewBatchProcessor(store)

	require.NoError(t, p.ProcessBatch(context.Background(), testSegment(1)))
	require.Equal(t, map[uint64]uint64{10: 1, 11: 1}, store.docs)
	require.Len(t, store.termIDs, 2)
	require.ElementsMatch(t, []uint64{10, 11}, store.postings[store.termIDs["red"]])
}

func TestProcessBatchStopsOnDocumentError(t *testing.T) {
	store := newFakeStore()
	store.fail = errors.New("connection reset")

	err := NewBatchProcessor(store).ProcessBatch(context.Background(), testSegment(1))
	require.ErrorIs(t, err, store.fail)
	require.Empty(t, store.termIDs)
}

func TestPostgresMirror(t *testing.T) {
	store := newFakeStore()
	m := NewPostgresMirror(store, 4, nil)

	m.SegmentFlushed(testSegment(1))
	m.SegmentFlushed(testSegment(2))
	m.Close()
	m.Close()

	mirrored, dropped, failed := m.Counts()
	require.Equal(t, int64(2), mirrored)
	require.Zero(t, dropped)
	require.Zero(t, failed)
	require.Len(t, store.docs, 4)
}

func TestPostgresMirrorDropsWhenFull(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	m := NewPostgresMirror(store, 1, nil)

	m.SegmentFlushed(testSegment(1))
	// wait for the worker to pick up the first segment and block on it
	require.Eventually(t, func() bool { return len(m.segments) == 0 }, time.Second, 5*time.Millisecond)
	m.SegmentFlushed(testSegment(2))
	m.SegmentFlushed(testSegment(3))

	close(store.block)
	m.Close()

	mirrored, dropped, _ := m.Counts()
	require.Equal(t, int64(2), mirrored)
	require.Equal(t, int64(1), dropped)
}

func TestMirrorAsEngineSink(t *testing.T) {
	store := newFakeStore()
	m := NewPostgresMirror(store, 4, nil)
	e := newTestEngine(t, testIndexConfig(t), WithSink(m))

	id := index(t, e, "https://a.example/", "mirrored text")
	require.NoError(t, e.FlushSegment())
	m.Close()

	require.Equal(t, map[uint64]uint64{id: 1}, store.docs)
	require.Contains(t, store.termIDs, "mirrored")
}
