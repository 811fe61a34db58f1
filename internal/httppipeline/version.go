// Package httppipeline parses, negotiates version, invokes hooks, and
// dispatches each intercepted or forwarded HTTP message upstream — the
// per-request heart of the proxy, grounded on
// protocols/src/http/proxy.rs's process_request/http_proxy_service and
// enriched with the HTTP/2 negotiation and intercept tunneling shown in
// other_examples' moat proxy (handleConnectWithInterception).
package httppipeline

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// DefaultDialTimeout bounds the whole negotiate_version probe. The
// upstream clients built by clientForVersion set no connect or request
// timeout of their own.
const DefaultDialTimeout = 10 * time.Second

// NegotiatedVersion is the outcome of probing an upstream for HTTP/2
// support: the version to use for the real request, and the ALPN list to
// offer on the client-side TLS handshake during interception.
type NegotiatedVersion struct {
	Version string
	ALPN    []string
}

// NegotiateVersion issues a HEAD / over an HTTP/2-only client to
// scheme://authority. On success it reports "2" and offers {h2, http/1.1}
// to the client; on any failure it falls back to "HTTP/1.1" and offers
// {http/1.1} only.
func NegotiateVersion(ctx context.Context, scheme, authority string) NegotiatedVersion {
	h2Transport := &http2.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}
	client := &http.Client{Transport: h2Transport, Timeout: DefaultDialTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, scheme+"://"+authority+"/", nil)
	if err != nil {
		return NegotiatedVersion{Version: "HTTP/1.1", ALPN: []string{"http/1.1"}}
	}

	resp, err := client.Do(req)
	if err != nil {
		return NegotiatedVersion{Version: "HTTP/1.1", ALPN: []string{"http/1.1"}}
	}
	defer resp.Body.Close()

	if resp.ProtoMajor == 2 {
		return NegotiatedVersion{Version: "2", ALPN: []string{"h2", "http/1.1"}}
	}
	return NegotiatedVersion{Version: "HTTP/1.1", ALPN: []string{"http/1.1"}}
}

// clientForVersion returns an *http.Client dispatching at the negotiated
// version: an HTTP/2-only transport for "2", a standard HTTP/1.1
// transport otherwise.
func clientForVersion(version string) (*http.Client, error) {
	switch version {
	case "0.9", "1.0", "HTTP/1.0", "1.1", "HTTP/1.1":
		return &http.Client{
			Transport: &http.Transport{
				// Do NOT set ForceAttemptHTTP2: the negotiated version is
				// authoritative; upgrading silently here would desync the
				// ALPN offered to the client from what's actually spoken
				// upstream.
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
			Timeout: 0,
		}, nil
	case "2":
		return &http.Client{
			Transport: &http2.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}, nil
	default:
		return nil, &InvalidVersionError{Version: version}
	}
}
