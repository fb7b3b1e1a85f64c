package safeurl

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSchemes(t *testing.T) {
	for _, u := range []string{"https://x.com/a", "http://example.org", "HTTPS://x.com"} {
		if err := Validate(u); err != nil {
			t.Errorf("Validate(%q) = %v", u, err)
		}
	}
	for _, u := range []string{"ftp://x.com", "file:///etc/passwd", "javascript:alert(1)"} {
		if err := Validate(u); !errors.Is(err, ErrUnsafeScheme) {
			t.Errorf("Validate(%q) = %v, want ErrUnsafeScheme", u, err)
		}
	}
}

func TestValidateNoHost(t *testing.T) {
	if err := Validate("https://"); err == nil {
		t.Fatal("expected error for hostless URL")
	}
}

func TestValidatePrivateAddresses(t *testing.T) {
	private := []string{
		"http://127.0.0.1/admin",
		"http://127.0.0.1:8080/admin",
		"http://10.0.0.5/",
		"http://192.168.1.1/",
		"http://172.16.0.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://0.0.0.0/",
		"http://[::1]/",
	}
	for _, u := range private {
		if err := Validate(u); !errors.Is(err, ErrPrivateAddress) {
			t.Errorf("Validate(%q) = %v, want ErrPrivateAddress", u, err)
		}
	}

	if err := Validate("http://93.184.216.34/"); err != nil {
		t.Errorf("public IP rejected: %v", err)
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}

	if _, err := LimitedReadAll(strings.NewReader("0123456789X"), 10); !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}

	// Exactly at the limit is fine.
	if _, err := LimitedReadAll(strings.NewReader("0123456789"), 10); err != nil {
		t.Fatalf("exact-limit read failed: %v", err)
	}
}
