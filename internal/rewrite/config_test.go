package rewrite

import (
	"testing"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
)

const sampleYAML = `
hosts:
  example.test:
    scheme: https
    response_rewrites:
      - when:
          - path: { exact: "/" }
        rewrite:
          status: { exact: "303" }
          new_status: "200"
    request_rewrites:
      - when:
          - path: { exact: "/" }
        rewrite:
          match:
            header_name: { exact: "access-control-allow-origin" }
            header_value: { contains: "" }
          new_header_name: "$0"
          new_header_value: "*"
`

func TestDecodeSampleConfig(t *testing.T) {
	cfg, err := Decode([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	host, ok := cfg.Hosts["example.test"]
	if !ok {
		t.Fatal("expected example.test host")
	}
	if host.Scheme != "https" {
		t.Fatalf("got scheme %q", host.Scheme)
	}
	if !host.Intercept {
		t.Fatal("expected intercept to default true")
	}
	if len(host.Responses) != 1 || len(host.Requests) != 1 {
		t.Fatalf("got %d responses, %d requests", len(host.Responses), len(host.Requests))
	}

	req := httpmsg.Request{Path: "/", Headers: []httpmsg.Header{
		{Name: "Access-Control-Allow-Origin", Value: "https://foo.com"},
	}}
	resp := httpmsg.NewResponse(303, nil, nil, req)

	ApplyResponseRewrites(host.Responses, req, &resp)
	if resp.Status != 200 {
		t.Fatalf("got status %d", resp.Status)
	}

	newReq := ApplyRequestRewrites(host.Requests, req)
	v, ok := httpmsg.Get(newReq.Headers, "access-control-allow-origin")
	if !ok || v != "*" {
		t.Fatalf("got %q, ok=%v", v, ok)
	}
}
