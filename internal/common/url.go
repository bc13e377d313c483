package common

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var ErrInvalidURL = errors.New("invalid url")

var idnaProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// Canonicalize returns the stable form of an absolute http(s) url: lower-case
// scheme and host, ASCII host, no default port, "/" for an empty path and no
// fragment. Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if strings.ContainsAny(rawURL, " \t\r\n") {
		return "", fmt.Errorf("%w: %q contains whitespace", ErrInvalidURL, rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if net.ParseIP(host) == nil {
		asciiHost, err := idnaProfile.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("%w: could not convert host to ASCII: %v", ErrInvalidURL, err)
		}
		host = asciiHost
	}

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host

	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// CanonicalKey never fails: urls that cannot be canonicalized are keyed by
// their trimmed, fragment-less text.
func CanonicalKey(rawURL string) string {
	if c, err := Canonicalize(rawURL); err == nil {
		return c
	}
	rawURL = strings.TrimSpace(rawURL)
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return rawURL
}

// Host returns the host (with port, if any) of a canonical url.
func Host(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// ResolveLink resolves href against base and canonicalizes the result.
func ResolveLink(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", fmt.Errorf("%w: empty link", ErrInvalidURL)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return Canonicalize(base.ResolveReference(ref).String())
}
