package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// WebPage is the persisted copy of a fetched page.
type WebPage struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	DocID       uint64             `bson:"doc_id" json:"doc_id"`
	URL         string             `bson:"url" json:"url"`
	FinalURL    string             `bson:"final_url,omitempty" json:"final_url,omitempty"`
	Title       string             `bson:"title" json:"title"`
	Description string             `bson:"description" json:"description"`
	StatusCode  int                `bson:"status_code" json:"status_code"`
	ContentType string             `bson:"content_type" json:"content_type"`
	ContentHash string             `bson:"content_hash" json:"content_hash"`
	TokenCount  int                `bson:"token_count" json:"token_count"`
	BodyText    string             `bson:"body_text" json:"body_text"`
	Links       []string           `bson:"links" json:"links"`
	CrawlRunID  string             `bson:"crawl_run_id" json:"crawl_run_id"`
	CreatedAt   primitive.DateTime `bson:"created_at" json:"created_at"`
	UpdatedAt   primitive.DateTime `bson:"updated_at" json:"updated_at"`
}
