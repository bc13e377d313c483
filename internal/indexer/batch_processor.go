package indexer

import (
	"context"
	"fmt"
)

// FlushedSegment is what a SegmentSink receives after a memory segment has
// been written to disk. It must be treated as read-only.
type FlushedSegment struct {
	Seq       uint64
	Documents []*Document
	Postings  map[string][]Posting
}

// SegmentSink observes flushed segments. SegmentFlushed is called with the
// flush lock held, so implementations must not block.
type SegmentSink interface {
	SegmentFlushed(seg *FlushedSegment)
}

type mirrorStore interface {
	InsertDocuments(ctx context.Context, segment uint64, docs []*Document) error
	UpsertTerms(ctx context.Context, terms []string) (map[string]int64, error)
	InsertPostings(ctx context.Context, termMap map[string]int64, postings map[string][]Posting) error
}

type BatchProcessor struct {
	adapter mirrorStore
}

func NewBatchProcessor(adapter mirrorStore) *BatchProcessor {
	return &BatchProcessor{
		adapter: adapter,
	}
}

func (p *BatchProcessor) ProcessBatch(ctx context.Context, seg *FlushedSegment) error {
	if err := p.adapter.InsertDocuments(ctx, seg.Seq, seg.Documents); err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}

	terms := make([]string, 0, len(seg.Postings))
	for term := range seg.Postings {
		terms = append(terms, term)
	}

	termMap, err := p.adapter.UpsertTerms(ctx, terms)
	if err != nil {
		return fmt.Errorf("failed to upsert terms: %w", err)
	}

	if err = p.adapter.InsertPostings(ctx, termMap, seg.Postings); err != nil {
		return fmt.Errorf("failed to insert postings: %w", err)
	}

	return nil
}

func (m *memSegment) snapshot(seq uint64) *FlushedSegment {
	docs := make([]*Document, 0, len(m.order))
	for _, id := range m.order {
		docs = append(docs, m.docs[id])
	}
	return &FlushedSegment{Seq: seq, Documents: docs, Postings: m.postingsMap}
}
