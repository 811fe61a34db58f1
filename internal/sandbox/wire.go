package sandbox

import (
	"encoding/json"
	"strings"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
)

func toWireHeaders(h []httpmsg.Header) []wireHeader {
	out := make([]wireHeader, len(h))
	for i, hh := range h {
		out[i] = wireHeader{Name: hh.Name, Value: hh.Value}
	}
	return out
}

func fromWireHeaders(h []wireHeader) []httpmsg.Header {
	out := make([]httpmsg.Header, len(h))
	for i, hh := range h {
		out[i] = httpmsg.Header{Name: hh.Name, Value: hh.Value}
	}
	return out
}

func marshalRequest(req httpmsg.Request) []byte {
	data, _ := json.Marshal(wireRequest{
		Method:    req.Method,
		Scheme:    req.Scheme,
		Authority: req.Authority,
		Host:      req.Host,
		Path:      req.Path,
		Version:   req.Version,
		Headers:   toWireHeaders(req.Headers),
		Body:      req.Body,
	})
	return data
}

func marshalResponse(resp httpmsg.Response) []byte {
	data, _ := json.Marshal(wireResponse{
		Status:         resp.Status,
		Headers:        toWireHeaders(resp.Headers),
		Body:           resp.Body,
		RequestMethod:  resp.RequestMethod,
		RequestScheme:  resp.RequestScheme,
		RequestAuth:    resp.RequestAuthority,
		RequestHost:    resp.RequestHost,
		RequestPath:    resp.RequestPath,
		RequestVersion: resp.RequestVersion,
		RequestHeaders: toWireHeaders(resp.RequestHeaders),
	})
	return data
}

func upsertHeader(headers []httpmsg.Header, name, value string) []httpmsg.Header {
	for i, h := range headers {
		if strings.EqualFold(h.Name, name) {
			headers[i].Value = value
			return headers
		}
	}
	return append(headers, httpmsg.Header{Name: name, Value: value})
}

func removeHeader(headers []httpmsg.Header, name string) []httpmsg.Header {
	for i, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return append(headers[:i], headers[i+1:]...)
		}
	}
	return headers
}
