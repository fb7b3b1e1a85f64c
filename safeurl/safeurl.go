// Package safeurl guards outbound fetches: http(s)-only URL validation
// with private-address rejection, and bounded response reads. The summary
// fetcher feeds it URLs extracted from untrusted document markup, so every
// fetch target passes through here first.
package safeurl

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MaxResponseBody is the default cap for response body reads (1 MiB).
const MaxResponseBody int64 = 1 << 20

// ErrUnsafeScheme is returned for non-HTTP(S) schemes.
var ErrUnsafeScheme = errors.New("safeurl: only http and https schemes are allowed")

// ErrPrivateAddress is returned when a URL targets a private or loopback
// address (SSRF prevention).
var ErrPrivateAddress = errors.New("safeurl: URL targets a private or loopback address")

// ErrResponseTooLarge is returned when a body exceeds the read limit.
var ErrResponseTooLarge = errors.New("safeurl: response body too large")

// Validate checks that rawURL uses http/https, has a hostname, and does
// not resolve to a private or loopback IP. DNS resolution is performed to
// catch internal hostnames.
func Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("safeurl: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("safeurl: URL has no host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateAddress
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable now may be valid later; the connection attempt
		// will surface the real error.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrPrivateAddress
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r, returning
// ErrResponseTooLarge when the limit is exceeded. maxBytes <= 0 uses
// MaxResponseBody.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = MaxResponseBody
	}
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrResponseTooLarge
	}
	return data, nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
