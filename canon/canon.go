// Package canon normalizes provider resource locators into one canonical
// form. The canonical string is the deduplication-stable identity of a
// resource: cache keys, fetches, and expand-back embeds all go through it.
package canon

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotResource is returned for strings that cannot name a provider
// resource (empty, unparseable, or a non-http scheme).
var ErrNotResource = errors.New("canon: not a resource locator")

// hostAliases folds provider host variants onto the canonical host.
// Mobile and legacy domains all serve the same resources.
var hostAliases = map[string]string{
	"twitter.com":        "x.com",
	"www.twitter.com":    "x.com",
	"mobile.twitter.com": "x.com",
	"m.twitter.com":      "x.com",
	"www.x.com":          "x.com",
	"mobile.x.com":       "x.com",
}

// Canonicalize returns the canonical form of a provider resource locator:
// https scheme, canonical host, path without trailing slash, no query, no
// fragment. It is idempotent: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrNotResource
	}
	// Scheme-relative and bare-host forms appear in embed markup.
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	} else if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("canon: parse %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return "", ErrNotResource
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrNotResource
	}
	if alias, ok := hostAliases[host]; ok {
		host = alias
	}

	path := u.EscapedPath()
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	if path == "/" {
		path = ""
	}

	return "https://" + host + path, nil
}

// IsCanonical reports whether s is already in canonical form.
func IsCanonical(s string) bool {
	c, err := Canonicalize(s)
	return err == nil && c == s
}

// CanonicalHost is the host all alias variants fold onto.
const CanonicalHost = "x.com"
