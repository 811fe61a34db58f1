package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tlsgate/tlsgate/internal/proxycfg"
)

func TestInitCmdCreatesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tlsgate.toml")

	cmd := newInitCmd(&path)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}
}

func TestGenerateCACmdPrintsCertPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	var path string
	cmd := newGenerateCACmd(&path)
	cmd.SetArgs([]string{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "root.crt") {
		t.Fatalf("expected printed cert path, got %q", out.String())
	}
}

func TestAppendProxyBlockThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tlsgate.toml")
	if err := proxycfg.EnsureExists(path); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	desc := proxycfg.ProxyDescriptor{
		Address:  "127.0.0.1",
		Port:     8888,
		Protocol: proxycfg.ProtocolHTTPForward,
	}
	if err := appendProxyBlock(path, desc); err != nil {
		t.Fatalf("append: %v", err)
	}

	doc, err := proxycfg.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(doc.Proxy) != 1 {
		t.Fatalf("got %d proxies", len(doc.Proxy))
	}
	if doc.Proxy[0].Protocol != proxycfg.ProtocolHTTPForward {
		t.Fatalf("got protocol %q", doc.Proxy[0].Protocol)
	}
}

func TestDefaultPathsAreStable(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdgcfg")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdgdata")
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdgcache")

	if got := defaultConfigPath(); got != "/tmp/xdgcfg/tlsgate/tlsgate.toml" {
		t.Fatalf("got %q", got)
	}
	if got := dataDir(); got != "/tmp/xdgdata/tlsgate" {
		t.Fatalf("got %q", got)
	}
	if got := cacheDir(); got != "/tmp/xdgcache/tlsgate" {
		t.Fatalf("got %q", got)
	}
}
