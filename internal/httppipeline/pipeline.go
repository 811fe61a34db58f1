package httppipeline

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tlsgate/tlsgate/internal/configsup"
	"github.com/tlsgate/tlsgate/internal/httpmsg"
	"github.com/tlsgate/tlsgate/internal/proxycfg"
	"github.com/tlsgate/tlsgate/internal/rewrite"
	"github.com/tlsgate/tlsgate/internal/sandbox"
	"github.com/tlsgate/tlsgate/internal/tglog"
)

// Pipeline processes one intercepted or forwarded HTTP message end to
// end: rewrite-engine pass, request hook, upstream dispatch, response
// hook, rewrite-engine pass — generalizing process_request's single
// straight-line body onto the three independently-configurable phases
// named in the hook schema.
type Pipeline struct {
	Sandbox *sandbox.Runtime
	Hooks   proxycfg.Hooks
	Config  *configsup.Snapshot // raw YAML bytes for the rewrite engine, republished by the Config Supervisor
	UpstreamAuthority string    // empty for HttpForward, where the target rides on the request itself
	log               *zap.Logger
}

// New builds a Pipeline for one proxy listener.
func New(rt *sandbox.Runtime, hooks proxycfg.Hooks, cfg *configsup.Snapshot, upstreamAuthority string) *Pipeline {
	return &Pipeline{
		Sandbox:           rt,
		Hooks:             hooks,
		Config:            cfg,
		UpstreamAuthority: upstreamAuthority,
		log:               tglog.Named("httppipeline"),
	}
}

// hostConfig decodes the current rewrite-engine document and returns the
// entry for req.Host, or the zero value (Intercept defaulting true,
// no rules) if absent or undecodable.
func (p *Pipeline) hostConfig(req httpmsg.Request) rewrite.HostConfig {
	if p.Config == nil {
		return rewrite.HostConfig{Intercept: true}
	}
	data := p.Config.Bytes()
	if len(data) == 0 {
		return rewrite.HostConfig{Intercept: true}
	}
	cfg, err := rewrite.Decode(data)
	if err != nil {
		p.log.Warn("rewrite config decode failed, proceeding without rules", zap.Error(err))
		return rewrite.HostConfig{Intercept: true}
	}
	if hc, ok := cfg.Hosts[req.Host]; ok {
		return hc
	}
	return rewrite.HostConfig{Intercept: true}
}

// ServeHTTP adapts a stdlib request/response pair onto ServeRequest.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request, scheme string) {
	req, err := FromNetRequest(r, scheme, r.Host)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := p.ServeRequest(r.Context(), req)
	if err := toNetResponseWriter(w, resp); err != nil {
		p.log.Error("failed writing response", zap.Error(err))
	}
}

// ServeRequest runs req through the full pipeline and always returns a
// Response: upstream and hook failures are mapped to a 500 response
// whose body is "Error making request: <detail>", never propagated as a
// Go error, so the HTTP connection always gets a well-formed reply.
func (p *Pipeline) ServeRequest(ctx context.Context, req httpmsg.Request) httpmsg.Response {
	hc := p.hostConfig(req)

	if hc.Redirect != nil && hc.Redirect.ShouldRedirect(req) {
		if hc.Redirect.IsFile() {
			resp, err := hc.Redirect.File().Respond(req)
			if err != nil {
				return errorResponse(req, err)
			}
			return resp
		}
		hc.Redirect.RedirectRequest(&req)
	}

	req = rewrite.ApplyRequestRewrites(hc.Requests, req)

	if p.Hooks.Request != "" {
		rewritten, err := p.invokeRequestHook(ctx, req)
		if err != nil {
			return errorResponse(req, &HookError{Phase: "request", Err: err})
		}
		req = rewritten
	}

	upstream := p.UpstreamAuthority
	if upstream == "" {
		upstream = req.Authority
		if upstream == "" {
			upstream = req.Host
		}
	}
	req.Authority = upstream

	resp, err := p.dispatch(ctx, req)
	if err != nil {
		return errorResponse(req, err)
	}

	if p.Hooks.Response != "" {
		rewritten, err := p.invokeResponseHook(ctx, resp)
		if err != nil {
			return errorResponse(req, &HookError{Phase: "response", Err: err})
		}
		resp = rewritten
	}

	rewrite.ApplyResponseRewrites(hc.Responses, req, &resp)
	return resp
}

// dispatch negotiates a version against upstream and sends req, fully
// buffering the response.
func (p *Pipeline) dispatch(ctx context.Context, req httpmsg.Request) (httpmsg.Response, error) {
	negotiated := NegotiateVersion(ctx, req.Scheme, req.Authority)
	client, err := clientForVersion(negotiated.Version)
	if err != nil {
		return httpmsg.Response{}, err
	}

	outReq, err := toNetRequest(ctx, req)
	if err != nil {
		return httpmsg.Response{}, err
	}

	resp, err := client.Do(outReq)
	if err != nil {
		return httpmsg.Response{}, err
	}
	return fromNetResponse(resp, req)
}

func (p *Pipeline) invokeRequestHook(ctx context.Context, req httpmsg.Request) (httpmsg.Request, error) {
	module, err := p.Sandbox.Load(ctx, p.Hooks.Request)
	if err != nil {
		return httpmsg.Request{}, err
	}
	return p.Sandbox.InvokeRequest(ctx, module, req, p.configBytes())
}

func (p *Pipeline) invokeResponseHook(ctx context.Context, resp httpmsg.Response) (httpmsg.Response, error) {
	module, err := p.Sandbox.Load(ctx, p.Hooks.Response)
	if err != nil {
		return httpmsg.Response{}, err
	}
	return p.Sandbox.InvokeResponse(ctx, module, resp, p.configBytes())
}

func (p *Pipeline) configBytes() []byte {
	if p.Config == nil {
		return nil
	}
	return p.Config.Bytes()
}

func errorResponse(req httpmsg.Request, err error) httpmsg.Response {
	body := []byte(errorResponseBody(err))
	headers := []httpmsg.Header{
		{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	}
	return httpmsg.NewResponse(http.StatusInternalServerError, headers, body, req)
}

func writeError(w http.ResponseWriter, err error) {
	body := errorResponseBody(err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write([]byte(body))
}
