package httppipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
	"github.com/tlsgate/tlsgate/internal/proxycfg"
)

func TestServeRequestDispatchesAndBuffers(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-From-Client"), "upstream did not see forwarded header")
		w.Header().Set("X-From-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	authority := strings.TrimPrefix(upstream.URL, "http://")
	p := New(nil, proxycfg.Hooks{}, nil, authority)

	req := httpmsg.Request{
		Method:    http.MethodGet,
		Scheme:    "http",
		Authority: authority,
		Host:      authority,
		Path:      "/",
		Version:   "HTTP/1.1",
		Headers:   []httpmsg.Header{{Name: "X-From-Client", Value: "yes"}},
	}

	resp := p.ServeRequest(context.Background(), req)
	require.Equal(t, uint16(http.StatusOK), resp.Status)
	require.Equal(t, "hello", string(resp.Body))

	v, ok := httpmsg.Get(resp.Headers, "X-From-Upstream")
	require.True(t, ok, "missing upstream header in response: %+v", resp.Headers)
	assert.Equal(t, "yes", v)

	assert.Equal(t, http.MethodGet, resp.RequestMethod)
	assert.Equal(t, authority, resp.RequestHost)
}

func TestServeRequestDispatchFailureProducesFormattedError(t *testing.T) {
	p := New(nil, proxycfg.Hooks{}, nil, "127.0.0.1:1") // nothing listens here

	req := httpmsg.Request{
		Method:    http.MethodGet,
		Scheme:    "http",
		Authority: "127.0.0.1:1",
		Host:      "127.0.0.1:1",
		Path:      "/",
		Version:   "HTTP/1.1",
	}

	resp := p.ServeRequest(context.Background(), req)
	require.Equal(t, uint16(http.StatusInternalServerError), resp.Status)
	assert.True(t, strings.HasPrefix(string(resp.Body), "Error making request: "), "got body %q", resp.Body)
}

func TestInvalidVersionErrorMessage(t *testing.T) {
	err := &InvalidVersionError{Version: "0.9"}
	assert.Equal(t, "0.9 not supported", err.Error())
}

func TestErrorResponseBodyFormat(t *testing.T) {
	got := errorResponseBody(&InvalidVersionError{Version: "3"})
	assert.Equal(t, "Error making request: 3 not supported", got)
}
