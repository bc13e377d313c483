package indexer

import "slices"

// memSegment holds the documents indexed since the last flush. It is mutated
// only under the engine's write lock and becomes immutable once sealed.
type memSegment struct {
	docs        map[uint64]*Document
	order       []uint64
	postingsMap map[string][]Posting
	totalLength uint64
}

func newMemSegment() *memSegment {
	return &memSegment{
		docs:        make(map[uint64]*Document),
		postingsMap: make(map[string][]Posting),
	}
}

func (m *memSegment) add(doc *Document) {
	for term, positions := range doc.TermPositions {
		if term == "" || len(positions) == 0 {
			continue
		}
		m.postingsMap[term] = append(m.postingsMap[term], Posting{
			DocID:         doc.DocID,
			Positions:     positions,
			TermFrequency: uint32(len(positions)),
		})
	}
	m.docs[doc.DocID] = doc
	m.order = append(m.order, doc.DocID)
	m.totalLength += uint64(doc.Length)
}

func (m *memSegment) len() int { return len(m.order) }

func (m *memSegment) postings(term string) ([]Posting, error) {
	return m.postingsMap[term], nil
}

func (m *memSegment) docLength(docID uint64) (uint32, bool) {
	d, ok := m.docs[docID]
	if !ok {
		return 0, false
	}
	return d.Length, true
}

func (m *memSegment) document(docID uint64) (*Document, bool, error) {
	d, ok := m.docs[docID]
	return d, ok, nil
}

func (m *memSegment) sortedTerms() []string {
	terms := make([]string, 0, len(m.postingsMap))
	for term := range m.postingsMap {
		terms = append(terms, term)
	}
	slices.Sort(terms)
	return terms
}
