package dispatch

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/tlsgate/tlsgate/internal/httppipeline"
)

// serveHTTPReverse handles the Http protocol: conn is a connection from a
// client that already believes it is talking to the real upstream
// (TLS-terminated here if Desc.TLS, using a leaf minted for Desc's own
// hostname). Every request on the connection is run through the pipeline
// against the fixed configured upstream.
func (l *Listener) serveHTTPReverse(ctx context.Context, conn net.Conn) {
	scheme := "http"
	if l.Desc.TLS {
		scheme = "https"
		tlsConn, err := l.interceptConn(conn, l.Desc.Address, []string{"http/1.1"})
		if err != nil {
			l.log.Debug("tls handshake failed", zap.Error(err))
			return
		}
		conn = tlsConn
	}
	l.serveHTTP1Loop(ctx, bufio.NewReader(conn), conn, scheme, "")
}

// serveHTTP1Loop reads HTTP/1.x requests off reader until EOF, a parse
// error, or a request asks to close the connection, running each through
// l.pipeline and writing the response back raw onto w. authority names
// the target the request's Authority field should carry if the request
// line itself is relative-form (every request inside a Host or CONNECT
// tunnel, as opposed to an absolute-URI forward request).
func (l *Listener) serveHTTP1Loop(ctx context.Context, reader *bufio.Reader, w io.Writer, scheme, authority string) {
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}

		target := authority
		if req.URL.IsAbs() {
			target = req.URL.Host
		}

		msg, err := httppipeline.FromNetRequest(req, scheme, target)
		if err != nil {
			l.log.Debug("failed to buffer request", zap.Error(err))
			return
		}

		resp := l.pipeline.ServeRequest(ctx, msg)
		if err := httppipeline.WriteRaw(w, resp); err != nil {
			return
		}

		if req.Close {
			return
		}
	}
}
