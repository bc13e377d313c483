package models

import "time"

// CrawlMeta is the per-URL crawl record kept in the cache under crawl:meta:{hash}.
type CrawlMeta struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url"`
	StatusCode  int       `json:"status_code"`
	DocID       uint64    `json:"doc_id"`
	ContentHash string    `json:"content_hash"`
	Title       string    `json:"title"`
	Links       int       `json:"links"`
	Bytes       int       `json:"bytes"`
	DurationMs  int64     `json:"duration_ms"`
	FetchedAt   time.Time `json:"fetched_at"`
	CrawlRunID  string    `json:"crawl_run_id"`
}
