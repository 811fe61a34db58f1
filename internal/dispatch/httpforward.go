package dispatch

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/tlsgate/tlsgate/internal/hostname"
	"github.com/tlsgate/tlsgate/internal/httppipeline"
	"github.com/tlsgate/tlsgate/internal/sandbox"
)

// serveHTTPForward handles the HttpForward protocol: an explicit proxy a
// client points at directly. A CONNECT request opens a tunnel, whose
// fate (decrypt-and-intercept vs pass the bytes through untouched) is
// decided by the pre-request hook; any other request is a plain
// absolute-URI forward, handled over the same persistent connection.
func (l *Listener) serveHTTPForward(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)

	first, err := http.ReadRequest(reader)
	if err != nil {
		return
	}

	if first.Method != http.MethodConnect {
		l.serveForwardPlain(ctx, reader, conn, first)
		return
	}

	l.serveConnect(ctx, reader, conn, first)
}

// serveForwardPlain handles a connection whose first (and possibly only)
// requests are plain absolute-URI forwards, never a CONNECT tunnel.
func (l *Listener) serveForwardPlain(ctx context.Context, reader *bufio.Reader, conn net.Conn, first *http.Request) {
	target := first.Host
	if first.URL.IsAbs() {
		target = first.URL.Host
	}
	msg, err := httppipeline.FromNetRequest(first, "http", target)
	if err != nil {
		l.log.Debug("failed to buffer forwarded request", zap.Error(err))
		return
	}
	resp := l.pipeline.ServeRequest(ctx, msg)
	if err := httppipeline.WriteRaw(conn, resp); err != nil {
		return
	}
	if first.Close {
		return
	}
	l.serveHTTP1Loop(ctx, reader, conn, "http", "")
}

// serveConnect decides the tunnel's fate via the pre-request hook (if
// configured; absent a hook, the mode defaults to Pass — an uninstructed
// tunnel is never silently decrypted) and either intercepts with a leaf
// certificate for the tunneled host or relays raw bytes to it.
func (l *Listener) serveConnect(ctx context.Context, reader *bufio.Reader, conn net.Conn, connectReq *http.Request) {
	target := connectReq.Host
	host := target
	if parsed, err := hostname.Parse(target, "https"); err == nil {
		host = parsed.Host
	}

	mode := l.decidePreRequest(ctx, host, target)

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}

	if mode != sandbox.ProxyModeIntercept || l.CA == nil {
		l.tunnelRaw(ctx, reader, conn, target)
		return
	}

	tlsConn, err := l.interceptConn(conn, host, []string{"http/1.1"})
	if err != nil {
		l.log.Debug("intercept handshake failed", zap.Error(err), zap.String("host", host))
		return
	}
	l.serveHTTP1Loop(ctx, bufio.NewReader(tlsConn), tlsConn, "https", target)
}

// decidePreRequest runs the configured pre-request hook, defaulting to
// Pass when none is configured or the invocation fails.
func (l *Listener) decidePreRequest(ctx context.Context, host, authority string) sandbox.ProxyMode {
	if l.Desc.Hooks.PreRequest == "" || l.Sandbox == nil {
		return sandbox.ProxyModePass
	}
	module, err := l.Sandbox.Load(ctx, l.Desc.Hooks.PreRequest)
	if err != nil {
		l.log.Warn("failed to load pre-request module, passing through", zap.Error(err))
		return sandbox.ProxyModePass
	}
	mode, err := l.Sandbox.InvokePreRequest(ctx, module, sandbox.PreRequestInput{
		Scheme:    "https",
		Authority: authority,
		Host:      host,
		Path:      "/",
	}, l.configBytes())
	if err != nil {
		l.log.Warn("pre-request hook failed, passing through", zap.Error(err))
		return sandbox.ProxyModePass
	}
	return mode
}

// tunnelRaw relays conn's bytes (including anything already buffered in
// reader past the CONNECT request) to target, unexamined.
func (l *Listener) tunnelRaw(ctx context.Context, reader *bufio.Reader, conn net.Conn, target string) {
	var dialer net.Dialer
	upstream, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		l.log.Debug("tunnel dial failed", zap.Error(err), zap.String("target", target))
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, reader)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(conn, upstream)
		done <- struct{}{}
	}()
	<-done
	<-done
}

func (l *Listener) configBytes() []byte {
	if l.Config == nil {
		return nil
	}
	return l.Config.Bytes()
}
