package rewrite

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
)

// UrlDestination redirects a request to a remote URL, grounded on
// redirect.rs's UrlDestination.
type UrlDestination struct {
	URL                 *url.URL
	ReplacePathAndQuery bool
}

// FileDestination serves a file from disk in place of proxying upstream,
// grounded on redirect.rs's FileDestination.
type FileDestination struct {
	Path        string
	RootIndex   bool
	ReplacePath bool
	FileSuffix  string // empty means absent
	ContentType string
}

// PathForRequest computes the filesystem path to serve for req, following
// redirect.rs's FileDestination::path_for_request rule-for-rule:
//  1. replace_path=false serves the configured path verbatim.
//  2. otherwise strip a leading '/' from the request path and join it onto
//     the base path.
//  3. root_index=true and a trailing '/' on the request path appends "index".
//  4. a non-empty file_suffix is appended to the final path component.
func (d FileDestination) PathForRequest(req httpmsg.Request) string {
	if !d.ReplacePath {
		return d.Path
	}

	reqPath := strings.TrimPrefix(req.Path, "/")
	p := path.Join(d.Path, reqPath)

	if d.RootIndex && strings.HasSuffix(req.Path, "/") {
		p = path.Join(p, "index")
	}

	if d.FileSuffix != "" {
		p = p + d.FileSuffix
	}
	return p
}

// Respond reads the file for req and builds a synthetic response.
func (d FileDestination) Respond(req httpmsg.Request) (httpmsg.Response, error) {
	p := d.PathForRequest(req)
	contents, err := os.ReadFile(p)
	if err != nil {
		return httpmsg.Response{}, fmt.Errorf("rewrite: read file destination %q: %w", p, err)
	}
	headers := []httpmsg.Header{
		{Name: "Content-Type", Value: d.ContentType},
		{Name: "Content-Length", Value: fmt.Sprintf("%d", len(contents))},
	}
	return httpmsg.NewResponse(200, headers, contents, req), nil
}

// RedirectDestination is either a File or a Url destination.
type RedirectDestination struct {
	isFile bool
	file   FileDestination
	url    UrlDestination
}

func FileRedirectDestination(f FileDestination) RedirectDestination {
	return RedirectDestination{isFile: true, file: f}
}

func URLRedirectDestination(u UrlDestination) RedirectDestination {
	return RedirectDestination{url: u}
}

// RequestRedirect is a when-gated redirect; a File destination short-
// circuits the upstream call entirely (handled by the caller), a Url
// destination rewrites the request in place before dispatch.
type RequestRedirect struct {
	When []RuleMatch
	To   RedirectDestination
}

func (r RequestRedirect) ShouldRedirect(req httpmsg.Request) bool { return allMatch(r.When, req) }

// IsFile reports whether this redirect serves a file rather than
// rewriting the upstream target.
func (r RequestRedirect) IsFile() bool { return r.To.isFile }

// File returns the file destination; valid only when IsFile() is true.
func (r RequestRedirect) File() FileDestination { return r.To.file }

// RedirectRequest mutates req in place per redirect.rs's redirect_request:
// a Url destination overwrites scheme/authority/host, clearing the path
// unless replace_path_and_query is set; a File destination is a no-op
// here (the caller short-circuits before dispatch instead).
func (r RequestRedirect) RedirectRequest(req *httpmsg.Request) {
	if !r.ShouldRedirect(*req) {
		return
	}
	if r.To.isFile {
		return
	}
	dest := r.To.url
	if dest.URL == nil || dest.URL.Host == "" || dest.URL.Scheme == "" {
		return
	}
	req.Authority = dest.URL.Host
	req.Scheme = dest.URL.Scheme
	req.Host = dest.URL.Hostname()
	if !dest.ReplacePathAndQuery {
		req.Path = ""
	}
}
