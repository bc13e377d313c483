package query

import "github.com/amankumarsingh77/crawlindex/internal/indexer"

type Response struct {
	Query   string                 `json:"query"`
	Results []indexer.SearchResult `json:"results"`
	Total   int                    `json:"total"`
	Cached  bool                   `json:"cached"`
	TookMs  float64                `json:"took_ms"`
}

type Stats struct {
	Queries     int64 `json:"queries"`
	LocalHits   int64 `json:"local_hits"`
	RemoteHits  int64 `json:"remote_hits"`
	Misses      int64 `json:"misses"`
	RemoteFails int64 `json:"remote_failures"`
	LocalSize   int   `json:"local_size"`
}
