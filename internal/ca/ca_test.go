package ca

import (
	"context"
	"sync"
	"testing"
)

func TestNewAuthorityGeneratesRoot(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAuthority(dir)
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	if len(a.RootPEM()) == 0 {
		t.Fatal("expected non-empty root PEM")
	}
}

func TestNewAuthorityReloadsPersistedRoot(t *testing.T) {
	dir := t.TempDir()
	a1, err := NewAuthority(dir)
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}

	a2, err := NewAuthority(dir)
	if err != nil {
		t.Fatalf("NewAuthority (reload): %v", err)
	}
	if string(a1.RootPEM()) != string(a2.RootPEM()) {
		t.Fatal("expected reloaded root to match persisted root")
	}
}

func TestLeafForCachesByHost(t *testing.T) {
	a, err := NewAuthority(t.TempDir())
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}

	leaf1, err := a.LeafFor(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	leaf2, err := a.LeafFor(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("LeafFor: %v", err)
	}
	if leaf1 != leaf2 {
		t.Fatal("expected cached leaf to be returned for repeated host")
	}
	if leaf1.Leaf.Subject.CommonName != "example.com" {
		t.Fatalf("got CN %q", leaf1.Leaf.Subject.CommonName)
	}
}

func TestLeafForConcurrentMintsDeduped(t *testing.T) {
	a, err := NewAuthority(t.TempDir())
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			leaf, err := a.LeafFor(context.Background(), "concurrent.example.com")
			if err != nil {
				t.Errorf("LeafFor: %v", err)
				return
			}
			results[i] = string(leaf.Certificate[0])
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatal("expected all concurrent LeafFor calls to observe the same minted certificate")
		}
	}
}
