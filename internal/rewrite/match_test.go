package rewrite

import (
	"regexp"
	"testing"
)

func TestExpandExact(t *testing.T) {
	m := Exact("exactly this and nothing else")
	got := m.Expand("exactly this and nothing else", "matched this: $0")
	want := "matched this: exactly this and nothing else"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandContains(t *testing.T) {
	m := Contains("exactly this")
	got := m.Expand("exactly this and nothing else", "matched this: $1 in this: $0")
	want := "matched this: exactly this in this: exactly this and nothing else"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandRegexNamed(t *testing.T) {
	re := regexp.MustCompile(`/api/v1/(?P<path>[A-Za-z0-9]+)/(?P<slug>[A-Za-z]+)`)
	m := RegexMatch(re)
	got := m.Expand("/api/v1/resource/book", "matched path: $path and slug: $slug")
	want := "matched path: resource and slug: book"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandRegexMissing(t *testing.T) {
	re := regexp.MustCompile(`/api/v1/([A-Za-z0-9]+)/([A-Za-z]+)`)
	m := RegexMatch(re)
	got := m.Expand("/api/v2/resource/book", "matched path: $1 and slug: $2")
	if got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
}

func TestExpandRegexNoGroups(t *testing.T) {
	re := regexp.MustCompile(`v[0-5]`)
	m := RegexMatch(re)
	got := m.Expand("/api/v2/resource/v3/book", "v8")
	want := "/api/v8/resource/v8/book"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMatchesCases(t *testing.T) {
	if !Exact("a").Matches("a") {
		t.Fatal("exact should match")
	}
	if Exact("a").Matches("ab") {
		t.Fatal("exact should not match superstring")
	}
	if !Contains("b").Matches("abc") {
		t.Fatal("contains should match")
	}
	re := regexp.MustCompile(`^\d+$`)
	if !RegexMatch(re).Matches("123") {
		t.Fatal("regex should match")
	}
	if RegexMatch(re).Matches("12a") {
		t.Fatal("regex should not match")
	}
}
