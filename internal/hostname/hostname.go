// Package hostname parses the authority component of a request URI into
// its host/port/scheme parts, the way protocol-interfaces/src/http/hostname.rs
// does in the original, generalized to also accept bare CONNECT authorities.
package hostname

import (
	"errors"
	"net"
	"strconv"
)

// ErrMissingPort is returned when a port cannot be determined from
// either the authority or the scheme's default.
var ErrMissingPort = errors.New("hostname: missing port")

// Hostname is the parsed authority of a proxied request.
type Hostname struct {
	Authority string
	Host      string
	Port      uint16
	Scheme    string
}

// Parse splits authority ("host" or "host:port") into a Hostname. scheme
// supplies the default port when authority carries none ("http" -> 80,
// "https" -> 443); any other scheme without an explicit port is an error.
func Parse(authority, scheme string) (Hostname, error) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		// no port present; authority is bare host
		host = authority
		portStr = ""
	}

	var port uint16
	if portStr != "" {
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return Hostname{}, ErrMissingPort
		}
		port = uint16(p)
	} else {
		switch scheme {
		case "http":
			port = 80
		case "https":
			port = 443
		default:
			return Hostname{}, ErrMissingPort
		}
	}

	return Hostname{
		Authority: authority,
		Host:      host,
		Port:      port,
		Scheme:    scheme,
	}, nil
}

// WithPort formats host:port, the canonical dial target for this hostname.
func (h Hostname) WithPort() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(int(h.Port)))
}
