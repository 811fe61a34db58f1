package rewrite

import (
	"fmt"
	"net/url"

	"gopkg.in/yaml.v3"
)

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("rewrite: invalid url %q: %w", raw, err)
	}
	return u, nil
}

// HostConfig is one entry of the rewrite-engine YAML's `hosts` map: the
// per-hostname scheme, interception toggle, optional redirect, and the
// request/response rewrite rulesets consumed by the reference hooks.
type HostConfig struct {
	Scheme    string
	Intercept bool
	Redirect  *RequestRedirect
	Requests  []RequestRewrite
	Responses []ResponseRewrite
}

// Config is the whole rewrite-engine YAML document: a map of hostname to
// HostConfig.
type Config struct {
	Hosts map[string]HostConfig
}

// Decode parses the rewrite-engine YAML document described in the
// configuration document section of the external interfaces.
func Decode(data []byte) (Config, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("rewrite: decode config: %w", err)
	}
	cfg := Config{Hosts: make(map[string]HostConfig, len(doc.Hosts))}
	for host, raw := range doc.Hosts {
		hc, err := raw.toHostConfig()
		if err != nil {
			return Config{}, fmt.Errorf("rewrite: host %q: %w", host, err)
		}
		cfg.Hosts[host] = hc
	}
	return cfg, nil
}

type yamlDoc struct {
	Hosts map[string]yamlHostConfig `yaml:"hosts"`
}

type yamlHostConfig struct {
	Scheme           string             `yaml:"scheme"`
	Intercept        *bool              `yaml:"intercept"`
	Redirect         *yamlRedirect      `yaml:"redirect"`
	RequestRewrites  []yamlRequestRule  `yaml:"request_rewrites"`
	ResponseRewrites []yamlResponseRule `yaml:"response_rewrites"`
}

func (y yamlHostConfig) toHostConfig() (HostConfig, error) {
	intercept := true
	if y.Intercept != nil {
		intercept = *y.Intercept
	}
	hc := HostConfig{Scheme: y.Scheme, Intercept: intercept}

	if y.Redirect != nil {
		redirect, err := y.Redirect.toRequestRedirect()
		if err != nil {
			return HostConfig{}, err
		}
		hc.Redirect = &redirect
	}

	for i, r := range y.RequestRewrites {
		rr, err := r.toRequestRewrite()
		if err != nil {
			return HostConfig{}, fmt.Errorf("request_rewrites[%d]: %w", i, err)
		}
		hc.Requests = append(hc.Requests, rr)
	}
	for i, r := range y.ResponseRewrites {
		rr, err := r.toResponseRewrite()
		if err != nil {
			return HostConfig{}, fmt.Errorf("response_rewrites[%d]: %w", i, err)
		}
		hc.Responses = append(hc.Responses, rr)
	}
	return hc, nil
}

type yamlMatchValue struct {
	Exact    *string `yaml:"exact"`
	Contains *string `yaml:"contains"`
	Regex    *string `yaml:"regex"`
}

func (y yamlMatchValue) toMatchValue() (MatchValue, error) {
	switch {
	case y.Exact != nil:
		return Exact(*y.Exact), nil
	case y.Contains != nil:
		return Contains(*y.Contains), nil
	case y.Regex != nil:
		return CompileRegex(*y.Regex)
	default:
		return MatchValue{}, fmt.Errorf("match value must set exactly one of exact/contains/regex")
	}
}

type yamlRuleMatch struct {
	Path   *yamlMatchValue `yaml:"path"`
	Header *yamlHeaderMatch `yaml:"header"`
}

type yamlHeaderMatch struct {
	HeaderName  yamlMatchValue `yaml:"header_name"`
	HeaderValue yamlMatchValue `yaml:"header_value"`
}

func (y yamlRuleMatch) toRuleMatch() (RuleMatch, error) {
	switch {
	case y.Path != nil:
		mv, err := y.Path.toMatchValue()
		if err != nil {
			return RuleMatch{}, err
		}
		return PathMatch(mv), nil
	case y.Header != nil:
		name, err := y.Header.HeaderName.toMatchValue()
		if err != nil {
			return RuleMatch{}, err
		}
		value, err := y.Header.HeaderValue.toMatchValue()
		if err != nil {
			return RuleMatch{}, err
		}
		return HeaderRuleMatch(HeaderMatchRule{Name: name, Value: value}), nil
	default:
		return RuleMatch{}, fmt.Errorf("rule match must set exactly one of path/header")
	}
}

func toRuleMatches(raw []yamlRuleMatch) ([]RuleMatch, error) {
	out := make([]RuleMatch, 0, len(raw))
	for i, r := range raw {
		rm, err := r.toRuleMatch()
		if err != nil {
			return nil, fmt.Errorf("when[%d]: %w", i, err)
		}
		out = append(out, rm)
	}
	return out, nil
}

type yamlRewrite struct {
	Match          *yamlHeaderMatch `yaml:"match"`
	NewHeaderName  *string          `yaml:"new_header_name"`
	NewHeaderValue *string          `yaml:"new_header_value"`
	ReplaceWith    *string          `yaml:"replace_with"`
	Status         *yamlMatchValue  `yaml:"status"`
	NewStatus      *string          `yaml:"new_status"`
}

func (y yamlRewrite) toRewrite() (Rewrite, error) {
	switch {
	case y.Match != nil:
		name, err := y.Match.HeaderName.toMatchValue()
		if err != nil {
			return Rewrite{}, err
		}
		value, err := y.Match.HeaderValue.toMatchValue()
		if err != nil {
			return Rewrite{}, err
		}
		newName, newValue := "", ""
		if y.NewHeaderName != nil {
			newName = *y.NewHeaderName
		}
		if y.NewHeaderValue != nil {
			newValue = *y.NewHeaderValue
		}
		return HeaderRewriteAction(HeaderRewrite{
			Match:         HeaderMatchRule{Name: name, Value: value},
			NewHeaderName: newName,
			NewHeaderVal:  newValue,
		}), nil
	case y.ReplaceWith != nil:
		return BodyRewriteAction(BodyRewrite{ReplaceWith: []byte(*y.ReplaceWith)}), nil
	case y.Status != nil:
		status, err := y.Status.toMatchValue()
		if err != nil {
			return Rewrite{}, err
		}
		newStatus := ""
		if y.NewStatus != nil {
			newStatus = *y.NewStatus
		}
		return StatusRewriteAction(StatusRewrite{Status: status, NewStatus: newStatus}), nil
	default:
		return Rewrite{}, fmt.Errorf("rewrite must set exactly one of match/replace_with/status")
	}
}

type yamlRequestRule struct {
	When    []yamlRuleMatch `yaml:"when"`
	Rewrite yamlRewrite     `yaml:"rewrite"`
}

func (y yamlRequestRule) toRequestRewrite() (RequestRewrite, error) {
	when, err := toRuleMatches(y.When)
	if err != nil {
		return RequestRewrite{}, err
	}
	rw, err := y.Rewrite.toRewrite()
	if err != nil {
		return RequestRewrite{}, err
	}
	return RequestRewrite{When: when, Rewrite: rw}, nil
}

type yamlResponseRule struct {
	When    []yamlRuleMatch `yaml:"when"`
	Rewrite yamlRewrite     `yaml:"rewrite"`
}

func (y yamlResponseRule) toResponseRewrite() (ResponseRewrite, error) {
	when, err := toRuleMatches(y.When)
	if err != nil {
		return ResponseRewrite{}, err
	}
	rw, err := y.Rewrite.toRewrite()
	if err != nil {
		return ResponseRewrite{}, err
	}
	return ResponseRewrite{When: when, Rewrite: rw}, nil
}

type yamlRedirect struct {
	When []yamlRuleMatch `yaml:"when"`
	To   yamlDestination `yaml:"to"`
}

type yamlDestination struct {
	URL  *yamlURLDestination  `yaml:"url"`
	File *yamlFileDestination `yaml:"file"`
}

type yamlURLDestination struct {
	URL                 string `yaml:"url"`
	ReplacePathAndQuery bool   `yaml:"replace_path_and_query"`
}

type yamlFileDestination struct {
	Path        string  `yaml:"path"`
	RootIndex   bool    `yaml:"root_index"`
	ReplacePath bool    `yaml:"replace_path"`
	FileSuffix  *string `yaml:"file_suffix"`
	ContentType string  `yaml:"content_type"`
}

func (y yamlRedirect) toRequestRedirect() (RequestRedirect, error) {
	when, err := toRuleMatches(y.When)
	if err != nil {
		return RequestRedirect{}, err
	}

	switch {
	case y.To.URL != nil:
		u, err := parseURL(y.To.URL.URL)
		if err != nil {
			return RequestRedirect{}, err
		}
		dest := UrlDestination{URL: u, ReplacePathAndQuery: y.To.URL.ReplacePathAndQuery}
		return RequestRedirect{When: when, To: URLRedirectDestination(dest)}, nil
	case y.To.File != nil:
		suffix := ""
		if y.To.File.FileSuffix != nil {
			suffix = *y.To.File.FileSuffix
		}
		dest := FileDestination{
			Path:        y.To.File.Path,
			RootIndex:   y.To.File.RootIndex,
			ReplacePath: y.To.File.ReplacePath,
			FileSuffix:  suffix,
			ContentType: y.To.File.ContentType,
		}
		return RequestRedirect{When: when, To: FileRedirectDestination(dest)}, nil
	default:
		return RequestRedirect{}, fmt.Errorf("redirect destination must set exactly one of url/file")
	}
}
