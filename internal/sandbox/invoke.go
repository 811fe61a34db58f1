package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
)

// PreRequestInput is the tentative hostname the pre-request hook decides
// on, before any TLS interception has happened.
type PreRequestInput struct {
	Scheme, Authority, Host, Path string
}

// InvokePreRequest runs module's pre-request phase, returning the
// resulting ProxyMode. A module with no exported _start is a configuration
// error; a module that never calls http_set_proxy_mode defaults to Pass,
// matching ProxyHttpPreRequest::new's default in the original.
func (r *Runtime) InvokePreRequest(ctx context.Context, module *Module, in PreRequestInput, configData []byte) (ProxyMode, error) {
	st := &invocationState{
		preRequest: &preRequestState{
			scheme:    in.Scheme,
			authority: in.Authority,
			host:      in.Host,
			path:      in.Path,
			mode:      ProxyModePass,
		},
		configData: configData,
	}
	if err := r.run(ctx, module, st); err != nil {
		return ProxyModePass, err
	}
	if st.invalidData != "" {
		return ProxyModePass, &InvalidDataError{Message: st.invalidData}
	}
	return st.preRequest.mode, nil
}

// InvokeRequest runs module's request phase over req, returning the
// (possibly rewritten) request.
func (r *Runtime) InvokeRequest(ctx context.Context, module *Module, req httpmsg.Request, configData []byte) (httpmsg.Request, error) {
	st := &invocationState{
		request:    &requestState{req: req.Clone()},
		configData: configData,
	}
	if err := r.run(ctx, module, st); err != nil {
		return httpmsg.Request{}, err
	}
	if st.invalidData != "" {
		return httpmsg.Request{}, &InvalidDataError{Message: st.invalidData}
	}
	return st.request.req, nil
}

// InvokeResponse runs module's response phase over resp, returning the
// (possibly rewritten) response.
func (r *Runtime) InvokeResponse(ctx context.Context, module *Module, resp httpmsg.Response, configData []byte) (httpmsg.Response, error) {
	st := &invocationState{
		response:   &responseState{resp: resp},
		configData: configData,
	}
	if err := r.run(ctx, module, st); err != nil {
		return httpmsg.Response{}, err
	}
	if st.invalidData != "" {
		return httpmsg.Response{}, &InvalidDataError{Message: st.invalidData}
	}
	return st.response.resp, nil
}

// run instantiates a fresh guest instance of module, registers st so the
// shared host ABI resolves this call's state, runs _start, and tears the
// instance down. The whole operation is offloaded onto the bounded pool
// so compilation-adjacent CPU work never stalls the caller's I/O task.
func (r *Runtime) run(ctx context.Context, module *Module, st *invocationState) error {
	return r.pool.Do(func() error {
		cfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()

		instance, err := r.rt.InstantiateModule(ctx, module.compiled, cfg)
		if err != nil {
			return &Error{Op: "instantiate", Err: err}
		}
		registerInvocation(instance, st)
		defer unregisterInvocation(instance)
		defer instance.Close(ctx)

		start := instance.ExportedFunction("_start")
		if start == nil {
			return &Error{Op: "invoke", Err: fmt.Errorf("module does not export _start")}
		}

		if _, err := start.Call(ctx); err != nil {
			var exitErr *sys.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
				return nil
			}
			return &Error{Op: "trap", Err: err}
		}
		return nil
	})
}

// DecodeWireRequest and DecodeWireResponse let non-sandbox callers (tests,
// alternate hook transports) parse the same JSON wire shape the ABI's
// whole-message getters produce.
func DecodeWireRequest(data []byte) (httpmsg.Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return httpmsg.Request{}, err
	}
	return httpmsg.Request{
		Method:    w.Method,
		Scheme:    w.Scheme,
		Authority: w.Authority,
		Host:      w.Host,
		Path:      w.Path,
		Version:   w.Version,
		Headers:   fromWireHeaders(w.Headers),
		Body:      w.Body,
	}, nil
}
