package hostname

import "testing"

func TestParseExplicitPort(t *testing.T) {
	h, err := Parse("example.com:9443", "https")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Host != "example.com" || h.Port != 9443 {
		t.Fatalf("got %+v", h)
	}
}

func TestParseDefaultsPortFromScheme(t *testing.T) {
	cases := []struct {
		scheme string
		want   uint16
	}{
		{"http", 80},
		{"https", 443},
	}
	for _, c := range cases {
		h, err := Parse("example.com", c.scheme)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if h.Port != c.want {
			t.Fatalf("scheme %q: got port %d, want %d", c.scheme, h.Port, c.want)
		}
		if h.Host != "example.com" {
			t.Fatalf("got host %q", h.Host)
		}
	}
}

func TestParseMissingPortUnknownScheme(t *testing.T) {
	_, err := Parse("example.com", "ftp")
	if err != ErrMissingPort {
		t.Fatalf("got %v, want ErrMissingPort", err)
	}
}

func TestWithPort(t *testing.T) {
	h, err := Parse("example.com:8443", "https")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := h.WithPort(), "example.com:8443"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
