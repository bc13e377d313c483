package query

import (
	"strings"

	"github.com/amankumarsingh77/crawlindex/internal/indexer"
)

// Plan is a validated query.
type Plan struct {
	Raw string
	// lower-cased with whitespace collapsed; used for cache keys
	Normalized string
	TopK       int
}

// Parse validates rawQuery and topK. topK is capped at maxTopK.
func Parse(rawQuery string, topK, maxTopK int) (*Plan, error) {
	fields := strings.Fields(rawQuery)
	if len(fields) == 0 {
		return nil, indexer.ErrEmptyQuery
	}
	if topK <= 0 {
		return nil, indexer.ErrInvalidTopK
	}
	if maxTopK > 0 && topK > maxTopK {
		topK = maxTopK
	}
	return &Plan{
		Raw:        rawQuery,
		Normalized: strings.ToLower(strings.Join(fields, " ")),
		TopK:       topK,
	}, nil
}
