package indexer

import "errors"

var (
	ErrEmptyQuery      = errors.New("empty query")
	ErrInvalidTopK     = errors.New("top_k must be positive")
	ErrInvalidMetadata = errors.New("invalid document metadata")
	ErrCorruptSegment  = errors.New("corrupt segment file")
	ErrClosed          = errors.New("index engine closed")
)

// Document is a forward-index entry. Documents are never updated in place.
type Document struct {
	DocID    uint64 `json:"doc_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	FullText string `json:"full_text"`
	// only kept while the document is resident in memory
	TermPositions map[string][]uint32 `json:"-"`
	Length        uint32              `json:"length"`
	Category      string              `json:"category,omitempty"`
	Price         float64             `json:"price,omitempty"`
	Brand         string              `json:"brand,omitempty"`
}

type Posting struct {
	DocID         uint64
	Positions     []uint32
	TermFrequency uint32
}

type SearchResult struct {
	DocID   uint64  `json:"doc_id"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	// distinct documents matching at least one query term, before truncation
	Total int `json:"total"`
}

type Stats struct {
	Documents         uint64  `json:"documents"`
	ResidentDocuments int     `json:"resident_documents"`
	DocsSinceFlush    int     `json:"docs_since_flush"`
	Segments          int     `json:"segments"`
	AvgDocLength      float64 `json:"avg_doc_length"`
	Flushes           int64   `json:"flushes"`
	Merges            int64   `json:"merges"`
	Searches          int64   `json:"searches"`
	ConsistencyFaults int64   `json:"consistency_faults"`
}

// docSource is anything postings can be read from: the live and sealed
// memory segments, and segment files on disk.
type docSource interface {
	postings(term string) ([]Posting, error)
	docLength(docID uint64) (uint32, bool)
	document(docID uint64) (*Document, bool, error)
}
