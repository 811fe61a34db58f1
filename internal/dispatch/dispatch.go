// Package dispatch runs one listener's accept loop and routes each
// accepted connection to its protocol handler (Tcp, Http, HttpForward),
// generalizing src/proxy.rs's listen/proxy_conn/bind: one task per
// connection, and a panicking or erroring task never brings down the
// listener or its siblings.
package dispatch

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tlsgate/tlsgate/internal/ca"
	"github.com/tlsgate/tlsgate/internal/configsup"
	"github.com/tlsgate/tlsgate/internal/httppipeline"
	"github.com/tlsgate/tlsgate/internal/proxycfg"
	"github.com/tlsgate/tlsgate/internal/sandbox"
	"github.com/tlsgate/tlsgate/internal/tglog"
)

// Listener owns one ProxyDescriptor's accept loop.
type Listener struct {
	Desc    proxycfg.ProxyDescriptor
	CA      *ca.Authority
	Sandbox *sandbox.Runtime
	Config  *configsup.Snapshot

	pipeline *httppipeline.Pipeline
	log      *zap.Logger
}

// New builds a Listener for desc. authority and rt may be nil for a
// plain Tcp listener, which needs neither. Http gets a pipeline fixed to
// Desc.Upstream(); HttpForward's target is derived per-request from
// CONNECT or the request line, so its pipeline carries no fixed upstream.
func New(desc proxycfg.ProxyDescriptor, authority *ca.Authority, rt *sandbox.Runtime, cfg *configsup.Snapshot) *Listener {
	l := &Listener{
		Desc:    desc,
		CA:      authority,
		Sandbox: rt,
		Config:  cfg,
		log:     tglog.Named("dispatch").With(zap.String("proxy", desc.DisplayName())),
	}
	switch desc.Protocol {
	case proxycfg.ProtocolHTTP:
		l.pipeline = httppipeline.New(rt, desc.Hooks, cfg, desc.Upstream())
	case proxycfg.ProtocolHTTPForward:
		l.pipeline = httppipeline.New(rt, desc.Hooks, cfg, "")
	}
	return l
}

// Serve binds Desc.Bind() and accepts connections until ctx is canceled.
// Each accepted connection is handled on its own goroutine; one
// connection's panic or error is recovered, logged, and never propagates
// past that goroutine.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.Desc.Bind())
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.log.Info("listening", zap.String("protocol", string(l.Desc.Protocol)), zap.Bool("tls", l.Desc.TLS))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.log.Error("accept failed", zap.Error(err))
			return err
		}
		go l.handleConn(ctx, conn)
	}
}

// handleConn dispatches one accepted connection by protocol, isolating
// its failures from the listener and from every other connection. Every
// connection gets a correlation ID threaded through its log lines, so a
// single client's requests can be picked out of an interleaved log.
func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	log := l.log.With(zap.String("conn", connID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("connection handler panicked", zap.Any("recover", r))
		}
	}()
	defer conn.Close()

	log.Debug("accepted connection", zap.String("remote", conn.RemoteAddr().String()))

	switch l.Desc.Protocol {
	case proxycfg.ProtocolTCP:
		l.serveTCP(ctx, conn)
	case proxycfg.ProtocolHTTP:
		l.serveHTTPReverse(ctx, conn)
	case proxycfg.ProtocolHTTPForward:
		l.serveHTTPForward(ctx, conn)
	default:
		log.Error("unknown protocol", zap.String("protocol", string(l.Desc.Protocol)))
	}
}

// interceptConn upgrades conn to TLS using a leaf certificate minted for
// host by the Authority, offering alpn on the handshake.
func (l *Listener) interceptConn(conn net.Conn, host string, alpn []string) (*tls.Conn, error) {
	cfg := &tls.Config{
		NextProtos: alpn,
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := host
			if hello.ServerName != "" {
				name = hello.ServerName
			}
			return l.CA.LeafFor(hello.Context(), name)
		},
	}
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
