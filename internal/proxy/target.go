// Package proxy implements a programmable HTTP and WebSocket reverse proxy.
//
// A Server owns two ordered pass lists, one for plain HTTP dispatch and one
// for protocol upgrades. Each dispatch walks its list in order; the terminal
// stream pass performs the upstream I/O. Callers can observe the pipeline
// through typed event hooks and reshape it by inserting passes relative to
// the named built-in stages.
package proxy

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Target is a resolved upstream endpoint.
type Target struct {
	Scheme string
	// Host is the authority as written in the URL; it carries an explicit
	// port only when the URL did.
	Host string
	// Port is always resolved: the explicit port when present, otherwise the
	// scheme default.
	Port string
	// Path includes the raw query when the URL carried one.
	Path string

	// TLS is the client material used when dialing a secure scheme. Attached
	// by the dispatcher from Options.TLS, consumed when the outbound transport
	// or websocket dial is set up.
	TLS *tls.Config

	// SocketPath, when set, dials a unix socket instead of Host:Port.
	// Attached by the dispatcher from Options.SocketPath.
	SocketPath string
}

var secureScheme = regexp.MustCompile(`^https|wss$`)

// ParseTarget resolves a raw URL string into a Target. The port defaults to
// 443 for https/wss schemes and 80 otherwise.
func ParseTarget(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse target %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy: target %q must be an absolute URL", raw)
	}

	port := u.Port()
	if port == "" {
		if secureScheme.MatchString(u.Scheme) {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := u.Path
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	return &Target{
		Scheme: u.Scheme,
		Host:   u.Host,
		Port:   port,
		Path:   path,
	}, nil
}

// Hostname returns the host with any explicit port and IPv6 brackets stripped.
func (t *Target) Hostname() string {
	if host, _, err := net.SplitHostPort(t.Host); err == nil {
		return host
	}
	return strings.Trim(t.Host, "[]")
}

// Addr returns the dial address, hostname joined with the resolved port.
func (t *Target) Addr() string {
	return net.JoinHostPort(t.Hostname(), t.Port)
}

// IsSecure reports whether the target scheme requires TLS.
func (t *Target) IsSecure() bool {
	return secureScheme.MatchString(t.Scheme)
}

// hasPort reports whether an authority string carries an explicit port.
func hasPort(host string) bool {
	i := strings.LastIndex(host, ":")
	if i < 0 {
		return false
	}
	// IPv6 literal without a port, e.g. "[::1]".
	return !strings.Contains(host[i:], "]")
}

// requiresPort reports whether a host header needs an explicit port for the
// scheme, i.e. the port is not the scheme's well-known one.
func requiresPort(port, scheme string) bool {
	if port == "" {
		return false
	}
	scheme = strings.TrimSuffix(scheme, ":")
	switch scheme {
	case "http", "ws":
		return port != "80"
	case "https", "wss":
		return port != "443"
	case "ftp":
		return port != "21"
	case "gopher":
		return port != "70"
	case "file":
		return false
	}
	return true
}
