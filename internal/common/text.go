package common

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/reiver/go-porterstemmer"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true, "is": true, "are": true, "in": true,
	"on": true, "it": true, "this": true, "that": true, "to": true, "for": true, "of": true, "with": true,
}

// Analyzer turns text into index terms. Documents and queries must go through
// the same Analyzer, otherwise stemmed document terms never match raw query terms.
type Analyzer struct {
	Stem      bool
	StopWords bool
	// tokens shorter than this (in runes) are dropped
	MinTokenLen int
}

func DefaultAnalyzer() *Analyzer {
	return &Analyzer{MinTokenLen: 1}
}

func removeInvalidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// NormalizeText lower-cases, NFC-normalizes and drops invalid UTF-8.
func NormalizeText(text string) string {
	return norm.NFC.String(strings.ToLower(removeInvalidUTF8(text)))
}

// Tokens splits text into runs of letters and digits and filters them.
func (a *Analyzer) Tokens(text string) []string {
	fields := strings.FieldsFunc(NormalizeText(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if t, ok := a.filter(f); ok {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func (a *Analyzer) filter(token string) (string, bool) {
	if token == "" || utf8.RuneCountInString(token) < a.MinTokenLen {
		return "", false
	}
	if a.StopWords && stopWords[token] {
		return "", false
	}
	if a.Stem {
		token = stem(token)
	}
	return token, token != ""
}

func stem(token string) (res string) {
	defer func() {
		if r := recover(); r != nil {
			res = token
		}
	}()
	return porterstemmer.StemString(token)
}

// TermPositions maps each term to the offsets at which it occurs in tokens.
func TermPositions(tokens []string) map[string][]uint32 {
	positions := make(map[string][]uint32, len(tokens))
	for i, t := range tokens {
		if t == "" {
			continue
		}
		positions[t] = append(positions[t], uint32(i))
	}
	return positions
}

// QueryTerms tokenizes a query exactly like document text, so "e-mail" yields
// "e" and "mail" on both sides. Repeated terms are kept once, in query order.
func (a *Analyzer) QueryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, term := range a.Tokens(query) {
		if seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
	}
	return terms
}
