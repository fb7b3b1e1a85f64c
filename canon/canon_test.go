package canon

import (
	"errors"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://x.com/alice/status/123", "https://x.com/alice/status/123"},
		{"http://x.com/alice/status/123", "https://x.com/alice/status/123"},
		{"https://twitter.com/alice/status/123", "https://x.com/alice/status/123"},
		{"https://www.twitter.com/alice/status/123", "https://x.com/alice/status/123"},
		{"https://mobile.twitter.com/alice/status/123", "https://x.com/alice/status/123"},
		{"https://m.twitter.com/alice/status/123", "https://x.com/alice/status/123"},
		{"https://www.x.com/alice/status/123", "https://x.com/alice/status/123"},
		{"https://mobile.x.com/alice/status/123", "https://x.com/alice/status/123"},
		{"https://X.COM/alice/status/123", "https://x.com/alice/status/123"},
		{"//x.com/alice/status/123", "https://x.com/alice/status/123"},
		{"x.com/alice/status/123", "https://x.com/alice/status/123"},
		{"https://x.com/alice/status/123/", "https://x.com/alice/status/123"},
		{"https://x.com/alice/status/123?s=20&t=abc", "https://x.com/alice/status/123"},
		{"https://x.com/alice/status/123#reply", "https://x.com/alice/status/123"},
		{"  https://x.com/alice/status/123  ", "https://x.com/alice/status/123"},
		{"https://x.com/", "https://x.com"},
		{"https://example.org/page", "https://example.org/page"},
	}
	for _, tc := range cases {
		got, err := Canonicalize(tc.in)
		if err != nil {
			t.Errorf("Canonicalize(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"https://twitter.com/bob/status/9999?ref=share",
		"mobile.x.com/bob/status/9999/",
		"//www.twitter.com/bob/status/9999#x",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", in, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
		if !IsCanonical(once) {
			t.Errorf("IsCanonical(%q) = false", once)
		}
	}
}

func TestCanonicalizeRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://x.com/a", "javascript://alert", "https://"} {
		if _, err := Canonicalize(in); !errors.Is(err, ErrNotResource) {
			t.Errorf("Canonicalize(%q) err = %v, want ErrNotResource", in, err)
		}
	}
}
