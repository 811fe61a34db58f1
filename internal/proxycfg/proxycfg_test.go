package proxycfg

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleTOML = `
ca_path = "/var/lib/tlsgate/ca"

[[proxy]]
address = "127.0.0.1"
port = 8888
protocol = "httpforward"
tls = false
request_wasi_module_path = "/etc/tlsgate/hooks/request.wasm"
proxy_configuration_path = "/etc/tlsgate/hosts.yaml"

[[proxy]]
name = "api-reverse-proxy"
address = "127.0.0.1"
port = 9443
protocol = "http"
tls = true
upstream_address = "api.internal"
upstream_port = 443
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tlsgate.toml")
	if err := os.WriteFile(path, []byte(sampleTOML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.CAPath != "/var/lib/tlsgate/ca" {
		t.Fatalf("got ca_path %q", doc.CAPath)
	}
	if len(doc.Proxy) != 2 {
		t.Fatalf("got %d proxies", len(doc.Proxy))
	}

	fwd := doc.Proxy[0]
	if fwd.Protocol != ProtocolHTTPForward {
		t.Fatalf("got protocol %q", fwd.Protocol)
	}
	if fwd.Hooks.Request != "/etc/tlsgate/hooks/request.wasm" {
		t.Fatalf("got hook path %q", fwd.Hooks.Request)
	}
	if fwd.DisplayName() != "127.0.0.1:8888" {
		t.Fatalf("got display name %q", fwd.DisplayName())
	}

	rev := doc.Proxy[1]
	if rev.DisplayName() != "api-reverse-proxy" {
		t.Fatalf("got display name %q", rev.DisplayName())
	}
	if rev.Upstream() != "api.internal:443" {
		t.Fatalf("got upstream %q", rev.Upstream())
	}
}

func TestEnsureExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tlsgate.toml")

	if err := EnsureExists(path); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}

	if err := os.WriteFile(path, []byte("custom"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := EnsureExists(path); err != nil {
		t.Fatalf("EnsureExists (existing): %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "custom" {
		t.Fatal("expected EnsureExists to leave existing file untouched")
	}
}
