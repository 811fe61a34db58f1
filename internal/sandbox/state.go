package sandbox

import (
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
)

// ProxyMode is the pre-request hook's verdict: tunnel the connection
// untouched, or terminate TLS and run the full pipeline.
type ProxyMode uint32

const (
	ProxyModePass ProxyMode = iota
	ProxyModeIntercept
)

// preRequestState is the host-side record a pre_request-phase guest
// instance reads from and writes its verdict into.
type preRequestState struct {
	scheme, authority, host, path string
	mode                          ProxyMode
}

// requestState is the host-side record a request-phase guest instance
// mutates field by field before the host reads the result back.
type requestState struct {
	req httpmsg.Request
}

// responseState is the host-side record a response-phase guest instance
// mutates; it carries an owned echo of the originating request.
type responseState struct {
	resp httpmsg.Response
}

// invocationState is everything one guest module instance can see:
// exactly one of the phase-specific sub-states plus the shared config
// group. Keyed by the guest's api.Module so host functions (registered
// once, shared across all invocations) find the right call's state.
type invocationState struct {
	preRequest *preRequestState
	request    *requestState
	response   *responseState

	configData  []byte
	invalidData string
}

var invocations sync.Map // api.Module -> *invocationState

func registerInvocation(mod api.Module, st *invocationState) {
	invocations.Store(mod, st)
}

func unregisterInvocation(mod api.Module) {
	invocations.Delete(mod)
}

func lookupInvocation(mod api.Module) *invocationState {
	v, ok := invocations.Load(mod)
	if !ok {
		return nil
	}
	return v.(*invocationState)
}
