package common

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://Example.COM", "http://example.com/"},
		{"https://example.com/a/b?x=1#section", "https://example.com/a/b?x=1"},
		{"  https://example.com:443/path  ", "https://example.com/path"},
		{"http://example.com:8080/", "http://example.com:8080/"},
		{"HTTPS://bücher.example/", "https://xn--bcher-kva.example/"},
		{"http://127.0.0.1:9000/x#y", "http://127.0.0.1:9000/x"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "not a url", "ftp://example.com/", "example.com/path", "http:///nohost", "mailto:me@example.com"} {
		_, err := Canonicalize(in)
		require.ErrorIs(t, err, ErrInvalidURL, in)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"http://Example.com",
		"https://example.com/a%20b/c?q=a+b&r=%2F#frag",
		"http://user@example.com:80/~x/",
		"https://EXAMPLE.org/path/../other",
		"http://[::1]:8080/ipv6",
		"https://bücher.example/straße",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		require.NoError(t, err, in)
		twice, err := Canonicalize(once)
		require.NoError(t, err, once)
		require.Equal(t, once, twice)
	}
}

func TestCanonicalKeyFallsBack(t *testing.T) {
	require.Equal(t, "http://example.com/", CanonicalKey("http://EXAMPLE.com#top"))
	require.Equal(t, "not a url", CanonicalKey(" not a url#frag "))
}

func TestHost(t *testing.T) {
	require.Equal(t, "example.com", Host("https://example.com/a"))
	require.Equal(t, "example.com:8080", Host("http://example.com:8080/"))
}

func TestResolveLink(t *testing.T) {
	base, err := url.Parse("https://example.com/docs/index.html")
	require.NoError(t, err)

	got, err := ResolveLink(base, "../about#team")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/about", got)

	_, err = ResolveLink(base, "#top")
	require.Error(t, err)
	_, err = ResolveLink(base, "javascript:void(0)")
	require.Error(t, err)
}
