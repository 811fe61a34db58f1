package dispatch

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/tlsgate/tlsgate/internal/proxycfg"
)

func TestServeTCPProxiesBytes(t *testing.T) {
	upstreamLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	defer upstreamLn.Close()

	go func() {
		conn, err := upstreamLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write(append([]byte("echo:"), buf...))
	}()

	reserveLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	bindHost, bindPort := splitAddr(t, reserveLn.Addr().String())
	reserveLn.Close()

	desc := proxycfg.ProxyDescriptor{
		Address:         bindHost,
		Port:            bindPort,
		Protocol:        proxycfg.ProtocolTCP,
		UpstreamAddress: upstreamAddr(t, upstreamLn),
		UpstreamPort:    upstreamPort(t, upstreamLn),
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

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 10)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := io.ReadFull(client, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "echo:hello" {
		t.Fatalf("got %q", buf[:n])
	}
}

func upstreamAddr(t *testing.T, ln net.Listener) string {
	t.Helper()
	host, _, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return host
}

func upstreamPort(t *testing.T, ln net.Listener) uint16 {
	t.Helper()
	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	var p int
	for _, c := range port {
		p = p*10 + int(c-'0')
	}
	return uint16(p)
}

func splitAddr(t *testing.T, addr string) (string, uint16) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	var p int
	for _, c := range portStr {
		p = p*10 + int(c-'0')
	}
	return host, uint16(p)
}
