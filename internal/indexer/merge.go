package indexer

import (
	"bytes"
	"container/heap"
	"errors"
	"fmt"
	"slices"

	"github.com/blevesearch/vellum"
)

// termCursor walks the dictionary of one segment in key order.
type termCursor struct {
	seg *segmentReader
	itr *vellum.FSTIterator
	key []byte
	off uint64
}

func (c *termCursor) next() (bool, error) {
	err := c.itr.Next()
	if errors.Is(err, vellum.ErrIteratorDone) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.load()
	return true, nil
}

func (c *termCursor) load() {
	k, v := c.itr.Current()
	c.key = append(c.key[:0], k...)
	c.off = v
}

type cursorHeap []*termCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].seg.seq < h[j].seg.seq
}
func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)   { *h = append(*h, x.(*termCursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// mergeInto writes the union of segs into a new segment file at path. Doc ids
// are kept as they are, so the inputs must not share documents.
func mergeInto(path string, segs []*segmentReader) (err error) {
	w, err := createSegment(path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.abort()
		}
	}()

	type docRef struct {
		seg   *segmentReader
		docID uint64
	}
	var refs []docRef
	for _, s := range segs {
		for _, e := range s.docs {
			refs = append(refs, docRef{seg: s, docID: e.docID})
		}
	}
	slices.SortFunc(refs, func(a, b docRef) int {
		switch {
		case a.docID < b.docID:
			return -1
		case a.docID > b.docID:
			return 1
		}
		return 0
	})
	for _, ref := range refs {
		doc, ok, derr := ref.seg.document(ref.docID)
		if derr != nil {
			return derr
		}
		if !ok {
			return fmt.Errorf("%w: document %d missing from segment %d", ErrCorruptSegment, ref.docID, ref.seg.seq)
		}
		if err := w.addDocument(doc); err != nil {
			return err
		}
	}

	h := make(cursorHeap, 0, len(segs))
	for _, s := range segs {
		itr, ierr := s.fst.Iterator(nil, nil)
		if errors.Is(ierr, vellum.ErrIteratorDone) {
			continue
		}
		if ierr != nil {
			return fmt.Errorf("iterate segment %d: %w", s.seq, ierr)
		}
		c := &termCursor{seg: s, itr: itr}
		c.load()
		h = append(h, c)
	}
	heap.Init(&h)

	var merged []Posting
	for h.Len() > 0 {
		term := string(h[0].key)
		merged = merged[:0]
		for h.Len() > 0 && string(h[0].key) == term {
			c := h[0]
			postings, perr := c.seg.postingsAt(c.off)
			if perr != nil {
				return perr
			}
			merged = append(merged, postings...)

			more, nerr := c.next()
			if nerr != nil {
				return fmt.Errorf("iterate segment %d: %w", c.seg.seq, nerr)
			}
			if more {
				heap.Fix(&h, 0)
			} else {
				heap.Pop(&h)
			}
		}
		slices.SortFunc(merged, func(a, b Posting) int {
			switch {
			case a.DocID < b.DocID:
				return -1
			case a.DocID > b.DocID:
				return 1
			}
			return 0
		})
		if err := w.addTerm(term, merged); err != nil {
			return err
		}
	}

	return w.finish()
}
