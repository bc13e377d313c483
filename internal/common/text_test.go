package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	a := DefaultAnalyzer()
	require.Equal(t, []string{"red", "apple", "pie", "2024"}, a.Tokens("Red apple-pie, 2024!"))
	require.Empty(t, a.Tokens("  ... "))
}

func TestTokensWithStopWordsAndStemming(t *testing.T) {
	a := &Analyzer{Stem: true, StopWords: true, MinTokenLen: 2}
	require.Equal(t, []string{"run", "jump", "cat"}, a.Tokens("The running of jumping cats"))
}

func TestTermPositions(t *testing.T) {
	got := TermPositions([]string{"green", "apple", "pie", "apple"})
	require.Equal(t, map[string][]uint32{
		"green": {0},
		"apple": {1, 3},
		"pie":   {2},
	}, got)
}

func TestQueryTerms(t *testing.T) {
	a := DefaultAnalyzer()
	require.Equal(t, []string{"apple", "pie"}, a.QueryTerms("  Apple   PIE apple "))
	require.Empty(t, a.QueryTerms("!!! ??"))

	stemming := &Analyzer{Stem: true, MinTokenLen: 1}
	require.Equal(t, stemming.Tokens("horses"), stemming.QueryTerms("Horses"))
}

func TestQueryTermsSplitLikeDocuments(t *testing.T) {
	a := DefaultAnalyzer()
	require.Equal(t, []string{"e", "mail", "setup"}, a.QueryTerms("E-mail setup"))
	require.Equal(t, a.Tokens("state-of-the-art"), a.QueryTerms("state-of-the-art"))

	filtered := &Analyzer{StopWords: true, MinTokenLen: 2}
	require.Equal(t, []string{"state", "art"}, filtered.QueryTerms("state-of-the-art art"))
}
