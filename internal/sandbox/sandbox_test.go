package sandbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
)

func TestHashPathStable(t *testing.T) {
	a := hashPath("/etc/tlsgate/hooks/request.wasm")
	b := hashPath("/etc/tlsgate/hooks/request.wasm")
	c := hashPath("/etc/tlsgate/hooks/response.wasm")
	if a != b {
		t.Fatal("expected identical paths to hash identically")
	}
	if a == c {
		t.Fatal("expected different paths to hash differently")
	}
}

func TestNewRuntimeAndClose(t *testing.T) {
	ctx := context.Background()
	rt, err := NewRuntime(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWireRequestRoundTrip(t *testing.T) {
	req := httpmsg.Request{
		Method:    "GET",
		Scheme:    "https",
		Authority: "example.test",
		Host:      "example.test",
		Path:      "/a/b",
		Version:   "HTTP/1.1",
		Headers:   []httpmsg.Header{{Name: "X-Test", Value: "1"}},
		Body:      []byte("hello"),
	}
	data := marshalRequest(req)
	decoded, err := DecodeWireRequest(data)
	if err != nil {
		t.Fatalf("DecodeWireRequest: %v", err)
	}
	if decoded.Method != req.Method || decoded.Path != req.Path || string(decoded.Body) != string(req.Body) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if len(decoded.Headers) != 1 || decoded.Headers[0].Name != "X-Test" {
		t.Fatalf("got headers %+v", decoded.Headers)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	var current, max int32
	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_ = pool.Do(func() error {
				c := atomic.AddInt32(&current, 1)
				for {
					m := atomic.LoadInt32(&max)
					if c <= m || atomic.CompareAndSwapInt32(&max, m, c) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	if max > 2 {
		t.Fatalf("observed %d concurrent operations, want <= 2", max)
	}
}

func TestUpsertAndRemoveHeader(t *testing.T) {
	headers := []httpmsg.Header{{Name: "A", Value: "1"}}
	headers = upsertHeader(headers, "a", "2")
	if len(headers) != 1 || headers[0].Value != "2" {
		t.Fatalf("expected case-insensitive update, got %+v", headers)
	}
	headers = upsertHeader(headers, "B", "3")
	if len(headers) != 2 {
		t.Fatalf("expected append, got %+v", headers)
	}
	headers = removeHeader(headers, "a")
	if len(headers) != 1 || headers[0].Name != "B" {
		t.Fatalf("expected removal, got %+v", headers)
	}
}
