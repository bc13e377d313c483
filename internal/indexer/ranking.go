package indexer

import (
	"math"
	"unicode/utf8"
)

const (
	BM25K1 = 1.5
	BM25B  = 0.75

	snippetLen = 200
)

// BM25 is the term-frequency part of the score of one term in one document.
func BM25(tf, docLength, avgDocLength float64) float64 {
	if tf <= 0 {
		return 0
	}
	norm := 1.0
	if avgDocLength > 0 {
		norm = docLength / avgDocLength
	}
	return tf * (BM25K1 + 1) / (tf + BM25K1*(1-BM25B+BM25B*norm))
}

// IDF is ln(N/df); 0 when the term is in every document or nowhere.
func IDF(totalDocuments, documentFrequency uint64) float64 {
	if documentFrequency == 0 || totalDocuments == 0 {
		return 0
	}
	return math.Log(float64(totalDocuments) / float64(documentFrequency))
}

// snippet returns the first snippetLen characters of text, with "..." when cut.
func snippet(text string) string {
	if utf8.RuneCountInString(text) <= snippetLen {
		return text
	}
	n := 0
	for i := range text {
		if n == snippetLen {
			return text[:i] + "..."
		}
		n++
	}
	return text
}
