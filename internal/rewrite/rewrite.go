package rewrite

import (
	"strconv"
	"strings"

	"github.com/tlsgate/tlsgate/internal/httpmsg"
)

// HeaderMatchRule requires both a header name and header value predicate
// to hold on the same header entry.
type HeaderMatchRule struct {
	Name  MatchValue
	Value MatchValue
}

// RuleMatch is one predicate of a rule's `when` list: either a match on
// the request path+query, or a match on a single header entry.
type RuleMatch struct {
	isHeader bool
	path     MatchValue
	header   HeaderMatchRule
}

// PathMatch builds a RuleMatch over the request path+query.
func PathMatch(v MatchValue) RuleMatch { return RuleMatch{path: v} }

// HeaderRuleMatch builds a RuleMatch requiring a header entry whose name
// and value both satisfy their predicates.
func HeaderRuleMatch(h HeaderMatchRule) RuleMatch { return RuleMatch{isHeader: true, header: h} }

// Matches reports whether req satisfies this predicate.
func (rm RuleMatch) Matches(req httpmsg.Request) bool {
	if !rm.isHeader {
		return rm.path.Matches(req.Path)
	}
	for _, h := range req.Headers {
		if rm.header.Name.Matches(h.Name) && rm.header.Value.Matches(h.Value) {
			return true
		}
	}
	return false
}

// allMatch reports whether every predicate in when holds for req —
// a rule fires iff all entries in its when array match.
func allMatch(when []RuleMatch, req httpmsg.Request) bool {
	for _, w := range when {
		if !w.Matches(req) {
			return false
		}
	}
	return true
}

// HeaderRewrite replaces the first header entry whose name and value both
// match, expanding new name/value templates from that entry.
type HeaderRewrite struct {
	Match         HeaderMatchRule
	NewHeaderName string
	NewHeaderVal  string
}

// doRewrite mutates headers in place, matching rewrite.rs's HeaderRewrite::do_rewrite:
// only the first matching entry is touched; an expanded name/value that
// isn't a syntactically valid HTTP header is skipped silently.
func (hr HeaderRewrite) doRewrite(headers []httpmsg.Header) []httpmsg.Header {
	idx := -1
	for i, h := range headers {
		if hr.Match.Name.Matches(strings.ToLower(h.Name)) && hr.Match.Value.Matches(h.Value) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return headers
	}

	name := strings.ToLower(headers[idx].Name)
	value := headers[idx].Value
	newName := hr.Match.Name.Expand(name, hr.NewHeaderName)
	newValue := hr.Match.Value.Expand(value, hr.NewHeaderVal)

	if !validHeaderName(newName) || !validHeaderValue(newValue) {
		return headers
	}
	headers[idx] = httpmsg.Header{Name: newName, Value: newValue}
	return headers
}

func validHeaderName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !validHeaderNameByte(s[i]) {
			return false
		}
	}
	return true
}

func validHeaderNameByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func validHeaderValue(s string) bool {
	return !strings.ContainsAny(s, "\r\n\x00")
}

// BodyRewrite replaces a message body verbatim and re-derives Content-Length.
type BodyRewrite struct {
	ReplaceWith []byte
}

func setBody(headers []httpmsg.Header, body []byte) []httpmsg.Header {
	for i, h := range headers {
		if strings.EqualFold(h.Name, "Content-Length") {
			headers[i].Value = strconv.Itoa(len(body))
			return headers
		}
	}
	return append(headers, httpmsg.Header{Name: "Content-Length", Value: strconv.Itoa(len(body))})
}

// StatusRewrite conditionally rewrites a response's status code.
type StatusRewrite struct {
	Status    MatchValue
	NewStatus string
}

// Rewrite is one of the three mutation kinds a rule may apply.
type Rewrite struct {
	kind   rewriteKind
	header HeaderRewrite
	body   BodyRewrite
	status StatusRewrite
}

type rewriteKind int

const (
	rewriteHeader rewriteKind = iota
	rewriteBody
	rewriteStatus
)

func HeaderRewriteAction(h HeaderRewrite) Rewrite { return Rewrite{kind: rewriteHeader, header: h} }
func BodyRewriteAction(b BodyRewrite) Rewrite     { return Rewrite{kind: rewriteBody, body: b} }
func StatusRewriteAction(s StatusRewrite) Rewrite { return Rewrite{kind: rewriteStatus, status: s} }

// RewriteRequest applies this rewrite to a request, returning a new value
// with an independent header slice (status rewrites are a no-op on requests).
func (rw Rewrite) RewriteRequest(req httpmsg.Request) httpmsg.Request {
	req = req.Clone()
	switch rw.kind {
	case rewriteBody:
		req.Body = append([]byte(nil), rw.body.ReplaceWith...)
		req.Headers = setBody(req.Headers, req.Body)
	case rewriteHeader:
		req.Headers = rw.header.doRewrite(req.Headers)
	case rewriteStatus:
		// no-op on a request
	}
	return req
}

// RewriteResponse applies this rewrite to resp in place.
func (rw Rewrite) RewriteResponse(resp *httpmsg.Response) {
	switch rw.kind {
	case rewriteStatus:
		status := strconv.Itoa(int(resp.Status))
		if rw.status.Status.Matches(status) {
			expanded := rw.status.Status.Expand(status, rw.status.NewStatus)
			if n, err := strconv.ParseUint(expanded, 10, 16); err == nil {
				resp.Status = uint16(n)
			}
		}
	case rewriteBody:
		resp.Body = append([]byte(nil), rw.body.ReplaceWith...)
		resp.Headers = setBody(resp.Headers, resp.Body)
	case rewriteHeader:
		resp.Headers = rw.header.doRewrite(resp.Headers)
	}
}

// RequestRewrite is a when-gated rewrite applied before the upstream call.
type RequestRewrite struct {
	When    []RuleMatch
	Rewrite Rewrite
}

func (r RequestRewrite) ShouldRewrite(req httpmsg.Request) bool { return allMatch(r.When, req) }

func (r RequestRewrite) Apply(req httpmsg.Request) httpmsg.Request {
	return r.Rewrite.RewriteRequest(req)
}

// ResponseRewrite is a when-gated rewrite applied to the response, matched
// against the originating request (the response's hyper client typically
// consumes the request by then, so matching is done against the echo).
type ResponseRewrite struct {
	When    []RuleMatch
	Rewrite Rewrite
}

func (r ResponseRewrite) ShouldRewrite(req httpmsg.Request) bool { return allMatch(r.When, req) }

func (r ResponseRewrite) Apply(resp *httpmsg.Response) { r.Rewrite.RewriteResponse(resp) }

// ApplyRequestRewrites runs each rule in declaration order; later rules
// observe earlier rules' effects.
func ApplyRequestRewrites(rules []RequestRewrite, req httpmsg.Request) httpmsg.Request {
	for _, rule := range rules {
		if rule.ShouldRewrite(req) {
			req = rule.Apply(req)
		}
	}
	return req
}

// ApplyResponseRewrites runs each rule in declaration order against resp,
// gated on the originating request snapshot.
func ApplyResponseRewrites(rules []ResponseRewrite, req httpmsg.Request, resp *httpmsg.Response) {
	for _, rule := range rules {
		if rule.ShouldRewrite(req) {
			rule.Apply(resp)
		}
	}
}
