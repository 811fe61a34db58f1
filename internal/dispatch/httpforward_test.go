package dispatch

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tlsgate/tlsgate/internal/proxycfg"
)

func TestServeHTTPForwardPlainRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	reserveLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	bindHost, bindPort := splitAddr(t, reserveLn.Addr().String())
	reserveLn.Close()

	desc := proxycfg.ProxyDescriptor{
		Address:  bindHost,
		Port:     bindPort,
		Protocol: proxycfg.ProtocolHTTPForward,
	}
	l := New(desc, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Serve(ctx)
	time.Sleep(50 * time.Millisecond)

	client, err := net.Dial("tcp", l.Desc.Bind())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	req, err := http.NewRequest(http.MethodGet, upstream.URL+"/", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Close = true
	if err := req.WriteProxy(client); err != nil {
		t.Fatalf("write request: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := http.ReadResponse(bufio.NewReader(client), req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("got status %d", resp.StatusCode)
	}
}

func TestHandleConnUnknownProtocolReturns(t *testing.T) {
	desc := proxycfg.ProxyDescriptor{Protocol: "bogus"}
	l := New(desc, nil, nil, nil)

	c1, c2 := net.Pipe()
	defer c2.Close()
	done := make(chan struct{})
	go func() {
		l.handleConn(context.Background(), c1)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleConn did not return for unknown protocol")
	}
}
