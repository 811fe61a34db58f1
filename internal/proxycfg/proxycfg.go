// Package proxycfg loads the top-level proxy configuration document
// (tlsgate.toml) the way config.rs's Config::try_from loads
// proxysaur.toml, generalized to the richer per-proxy schema in the
// configuration document.
package proxycfg

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Protocol is one listener's wire protocol.
type Protocol string

const (
	ProtocolTCP         Protocol = "tcp"
	ProtocolHTTP        Protocol = "http"
	ProtocolHTTPForward Protocol = "httpforward"
)

// Hooks names the optional sandbox module paths for one listener's three
// phases; any may be empty for pass-through.
type Hooks struct {
	PreRequest string `toml:"pre_request_wasi_module_path"`
	Request    string `toml:"request_wasi_module_path"`
	Response   string `toml:"response_wasi_module_path"`
}

// ProxyDescriptor is one listener's immutable configuration, shared by
// every connection it accepts and mutated only by the Config Supervisor
// replacing HookConfigPath's live contents in place.
type ProxyDescriptor struct {
	// Name is an optional operator-facing label used only in logs and
	// error messages; defaults to "address:port" when unset (supplemental
	// field absent from the reference TOML schema, present in the
	// original's Proxy struct as an implicit address-derived label).
	Name string `toml:"name"`

	Address          string   `toml:"address"`
	Port             uint16   `toml:"port"`
	Protocol         Protocol `toml:"protocol"`
	TLS              bool     `toml:"tls"`
	UpstreamAddress  string   `toml:"upstream_address"`
	UpstreamPort     uint16   `toml:"upstream_port"`
	Hooks            Hooks    `toml:"-"`
	HookConfigPath   string   `toml:"proxy_configuration_path"`

	PreRequestWasiModulePath string `toml:"pre_request_wasi_module_path"`
	RequestWasiModulePath    string `toml:"request_wasi_module_path"`
	ResponseWasiModulePath   string `toml:"response_wasi_module_path"`
}

// DisplayName returns Name, defaulting to "address:port" when unset.
func (p ProxyDescriptor) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// Bind returns the address:port the listener accepts on.
func (p ProxyDescriptor) Bind() string {
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// Upstream returns the address:port this proxy forwards to; meaningless
// for HttpForward, whose target is derived per-connection from CONNECT
// or the Host header.
func (p ProxyDescriptor) Upstream() string {
	return fmt.Sprintf("%s:%d", p.UpstreamAddress, p.UpstreamPort)
}

// Document is the whole tlsgate.toml document.
type Document struct {
	CAPath string            `toml:"ca_path"`
	Proxy  []ProxyDescriptor `toml:"proxy"`
}

// Load reads and parses path into a Document.
func Load(path string) (Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return Document{}, fmt.Errorf("proxycfg: decode %s: %w", path, err)
	}
	for i := range doc.Proxy {
		doc.Proxy[i].Hooks = Hooks{
			PreRequest: doc.Proxy[i].PreRequestWasiModulePath,
			Request:    doc.Proxy[i].RequestWasiModulePath,
			Response:   doc.Proxy[i].ResponseWasiModulePath,
		}
	}
	return doc, nil
}

// EnsureExists creates an empty tlsgate.toml at path if absent, matching
// the `init` CLI command's contract.
func EnsureExists(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("proxycfg: stat %s: %w", path, err)
	}
	return os.WriteFile(path, []byte("# tlsgate configuration\n"), 0o644)
}
