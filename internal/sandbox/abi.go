package sandbox

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// noMatch is returned by header_get when idx is out of range; the guest
// treats it as "no more headers".
const noMatch uint32 = 0xFFFFFFFF

// writeOut copies data into the guest's buffer at outPtr, up to outCap
// bytes, and always returns the full length of data — the guest compares
// the return value against outCap and retries with a larger buffer if
// its buffer was too small, the same query-then-fetch idiom WASI uses
// for environ_get-style calls.
func writeOut(mod api.Module, outPtr, outCap uint32, data []byte) uint32 {
	if outCap > 0 && len(data) > 0 {
		n := outCap
		if uint32(len(data)) < n {
			n = uint32(len(data))
		}
		mod.Memory().Write(outPtr, data[:n])
	}
	return uint32(len(data))
}

func readIn(mod api.Module, ptr, length uint32) []byte {
	b, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type wireHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type wireRequest struct {
	Method    string       `json:"method"`
	Scheme    string       `json:"scheme"`
	Authority string       `json:"authority"`
	Host      string       `json:"host"`
	Path      string       `json:"path"`
	Version   string       `json:"version"`
	Headers   []wireHeader `json:"headers"`
	Body      []byte       `json:"body"`
}

type wireResponse struct {
	Status         uint16       `json:"status"`
	Headers        []wireHeader `json:"headers"`
	Body           []byte       `json:"body"`
	RequestMethod  string       `json:"request_method"`
	RequestScheme  string       `json:"request_scheme"`
	RequestAuth    string       `json:"request_authority"`
	RequestHost    string       `json:"request_host"`
	RequestPath    string       `json:"request_path"`
	RequestVersion string       `json:"request_version"`
	RequestHeaders []wireHeader `json:"request_headers"`
}

// registerHostModules builds the four host-implemented capability groups
// described in spec §4.2, each a set of narrow getter/setter functions.
// They are instantiated once and shared by every invocation: state is
// resolved per call through invocations, keyed by the calling guest's
// api.Module, never through package-level mutable fields.
func registerHostModules(ctx context.Context, rt wazero.Runtime) error {
	if err := registerPreRequestModule(ctx, rt); err != nil {
		return err
	}
	if err := registerRequestModule(ctx, rt); err != nil {
		return err
	}
	if err := registerResponseModule(ctx, rt); err != nil {
		return err
	}
	if err := registerConfigModule(ctx, rt); err != nil {
		return err
	}
	return nil
}

func registerConfigModule(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder("tlsgate:host/config").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, outPtr, outCap uint32) uint32 {
		st := lookupInvocation(mod)
		if st == nil {
			return 0
		}
		return writeOut(mod, outPtr, outCap, st.configData)
	}).Export("get_config_data").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		st := lookupInvocation(mod)
		if st == nil {
			return
		}
		st.invalidData = string(readIn(mod, ptr, length))
	}).Export("set_invalid_data").
		Instantiate(ctx)
	return err
}

func registerPreRequestModule(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder("tlsgate:host/pre_request").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, outPtr, outCap uint32) uint32 {
		st := lookupInvocation(mod)
		if st == nil || st.preRequest == nil {
			return 0
		}
		data, _ := json.Marshal(struct {
			Scheme    string `json:"scheme"`
			Authority string `json:"authority"`
			Host      string `json:"host"`
			Path      string `json:"path"`
		}{st.preRequest.scheme, st.preRequest.authority, st.preRequest.host, st.preRequest.path})
		return writeOut(mod, outPtr, outCap, data)
	}).Export("http_request_get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, mode uint32) {
		st := lookupInvocation(mod)
		if st == nil || st.preRequest == nil {
			return
		}
		st.preRequest.mode = ProxyMode(mode)
	}).Export("http_set_proxy_mode").
		Instantiate(ctx)
	return err
}

func registerRequestModule(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder("tlsgate:host/request").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, outPtr, outCap uint32) uint32 {
		st := lookupInvocation(mod)
		if st == nil || st.request == nil {
			return 0
		}
		return writeOut(mod, outPtr, outCap, marshalRequest(st.request.req))
	}).Export("message_get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, outPtr, outCap uint32) uint32 {
		st := reqState(mod)
		if st == nil {
			return 0
		}
		return writeOut(mod, outPtr, outCap, []byte(st.req.Method))
	}).Export("method_get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		if st := reqState(mod); st != nil {
			st.req.Method = string(readIn(mod, ptr, length))
		}
	}).Export("method_set").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, outPtr, outCap uint32) uint32 {
		st := reqState(mod)
		if st == nil {
			return 0
		}
		return writeOut(mod, outPtr, outCap, []byte(st.req.Path))
	}).Export("uri_get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		if st := reqState(mod); st != nil {
			st.req.Path = string(readIn(mod, ptr, length))
		}
	}).Export("uri_set").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, outPtr, outCap uint32) uint32 {
		st := reqState(mod)
		if st == nil {
			return 0
		}
		return writeOut(mod, outPtr, outCap, []byte(st.req.Version))
	}).Export("version_get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		if st := reqState(mod); st != nil {
			st.req.Version = string(readIn(mod, ptr, length))
		}
	}).Export("version_set").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, outPtr, outCap uint32) uint32 {
		st := reqState(mod)
		if st == nil {
			return 0
		}
		return writeOut(mod, outPtr, outCap, st.req.Body)
	}).Export("body_get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		if st := reqState(mod); st != nil {
			st.req.Body = readIn(mod, ptr, length)
		}
	}).Export("body_set").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, idx, outPtr, outCap uint32) uint32 {
		st := reqState(mod)
		if st == nil || int(idx) >= len(st.req.Headers) {
			return noMatch
		}
		h := st.req.Headers[idx]
		return writeOut(mod, outPtr, outCap, []byte(h.Name+"\x00"+h.Value))
	}).Export("header_get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		st := reqState(mod)
		if st == nil {
			return
		}
		name, value, ok := splitHeader(readIn(mod, ptr, length))
		if !ok {
			return
		}
		st.req.Headers = upsertHeader(st.req.Headers, name, value)
	}).Export("header_set").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		st := reqState(mod)
		if st == nil {
			return
		}
		name := string(readIn(mod, ptr, length))
		st.req.Headers = removeHeader(st.req.Headers, name)
	}).Export("header_rm").
		Instantiate(ctx)
	return err
}

func registerResponseModule(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder("tlsgate:host/response").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, outPtr, outCap uint32) uint32 {
		st := lookupInvocation(mod)
		if st == nil || st.response == nil {
			return 0
		}
		return writeOut(mod, outPtr, outCap, marshalResponse(st.response.resp))
	}).Export("get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, code uint32) {
		st := respState(mod)
		if st == nil {
			return
		}
		st.resp.Status = uint16(code)
	}).Export("set_status").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		st := respState(mod)
		if st == nil {
			return
		}
		st.resp.Body = readIn(mod, ptr, length)
	}).Export("set_body").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
		st := respState(mod)
		if st == nil {
			return
		}
		var hdrs []wireHeader
		if err := json.Unmarshal(readIn(mod, ptr, length), &hdrs); err != nil {
			return
		}
		st.resp.Headers = fromWireHeaders(hdrs)
	}).Export("set_headers").
		Instantiate(ctx)
	return err
}

func reqState(mod api.Module) *requestState {
	st := lookupInvocation(mod)
	if st == nil {
		return nil
	}
	return st.request
}

func respState(mod api.Module) *responseState {
	st := lookupInvocation(mod)
	if st == nil {
		return nil
	}
	return st.response
}

func splitHeader(b []byte) (name, value string, ok bool) {
	s := string(b)
	i := strings.IndexByte(s, 0)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
