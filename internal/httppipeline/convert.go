package httppipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
)

// FromNetRequest fully buffers r's body and flattens it into an
// httpmsg.Request; the pipeline never streams, matching process_request's
// whole-body buffering before a hook ever sees the message. Exported so
// the Connection Dispatcher can hand it a request parsed straight off a
// hijacked connection (http.ReadRequest), not just one routed through
// net/http's own server.
func FromNetRequest(r *http.Request, scheme, authority string) (httpmsg.Request, error) {
	body, err := readAndClose(r.Body)
	if err != nil {
		return httpmsg.Request{}, err
	}
	return httpmsg.Request{
		Method:    r.Method,
		Scheme:    scheme,
		Authority: authority,
		Host:      r.Host,
		Path:      r.URL.RequestURI(),
		Version:   r.Proto,
		Headers:   headersFromNet(r.Header),
		Body:      body,
	}, nil
}

// toNetRequest builds an outbound *http.Request from an httpmsg.Request,
// targeting the upstream authority.
func toNetRequest(ctx context.Context, req httpmsg.Request) (*http.Request, error) {
	url := req.Scheme + "://" + req.Authority + req.Path
	out, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	out.Header = netHeadersFrom(req.Headers)
	out.Host = req.Host
	return out, nil
}

// fromNetResponse fully buffers resp's body into an httpmsg.Response
// carrying an owned echo of req.
func fromNetResponse(resp *http.Response, req httpmsg.Request) (httpmsg.Response, error) {
	body, err := readAndClose(resp.Body)
	if err != nil {
		return httpmsg.Response{}, err
	}
	return httpmsg.NewResponse(uint16(resp.StatusCode), headersFromNet(resp.Header), body, req), nil
}

// toNetResponseWriter writes resp onto w exactly: status, headers
// (Content-Length recomputed from the buffered body), then body.
func toNetResponseWriter(w http.ResponseWriter, resp httpmsg.Response) error {
	h := w.Header()
	for _, hdr := range resp.Headers {
		h.Add(hdr.Name, hdr.Value)
	}
	h.Set("Content-Length", fmt.Sprintf("%d", len(resp.Body)))
	w.WriteHeader(int(resp.Status))
	_, err := w.Write(resp.Body)
	return err
}

// WriteRaw serializes resp directly onto w as a status line, headers, and
// body, for callers writing onto a hijacked connection rather than
// through an http.ResponseWriter (the Connection Dispatcher's
// per-connection request loop).
func WriteRaw(w io.Writer, resp httpmsg.Response) error {
	statusLine := http.StatusText(int(resp.Status))
	if _, err := io.WriteString(w, fmt.Sprintf("HTTP/1.1 %d %s\r\n", resp.Status, statusLine)); err != nil {
		return err
	}
	for _, h := range resp.Headers {
		if _, err := io.WriteString(w, h.Name+": "+h.Value+"\r\n"); err != nil {
			return err
		}
	}
	if _, ok := httpmsg.Get(resp.Headers, "Content-Length"); !ok {
		if _, err := io.WriteString(w, fmt.Sprintf("Content-Length: %d\r\n", len(resp.Body))); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	_, err := w.Write(resp.Body)
	return err
}

func headersFromNet(h http.Header) []httpmsg.Header {
	out := make([]httpmsg.Header, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			out = append(out, httpmsg.Header{Name: name, Value: v})
		}
	}
	return out
}

func netHeadersFrom(headers []httpmsg.Header) http.Header {
	h := make(http.Header, len(headers))
	for _, hdr := range headers {
		h.Add(hdr.Name, hdr.Value)
	}
	return h
}

func readAndClose(rc io.ReadCloser) ([]byte, error) {
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
