package proxy

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"
)

// RewriteRules maps an original cookie attribute value to its replacement.
// The key "*" matches any value; an empty replacement removes the attribute.
type RewriteRules map[string]string

// SingleRewrite builds rules that replace every value with v.
func SingleRewrite(v string) RewriteRules {
	return RewriteRules{"*": v}
}

// Options configures a Server or a single dispatch. Per-dispatch options are
// shallow-merged over the server options: a field set on the call wins.
type Options struct {
	// Target is the upstream URL. Required unless Forward is set. Resolved by
	// the pipeline at dispatch time.
	Target string

	// Forward is a side-channel URL. The request is mirrored to it and the
	// response discarded.
	Forward string

	// SSL is the TLS material for the listening side (Listen only).
	SSL *tls.Config

	// TLS is the client material attached to resolved targets when dialing a
	// secure upstream.
	TLS *tls.Config

	// WS enables upgrade handling on the owned listener.
	WS bool

	// XFwd appends the x-forwarded-{for,port,proto} headers.
	XFwd bool

	// Secure controls upstream certificate verification. Defaults to true.
	Secure *bool

	// ToProxy treats the inbound request URL as already absolute.
	ToProxy bool

	// PrependPath prepends the target path to the inbound path. Defaults to true.
	PrependPath *bool

	// IgnorePath drops the inbound path entirely.
	IgnorePath bool

	// ChangeOrigin rewrites the outbound Host header to the target host.
	ChangeOrigin bool

	// Auth is a literal user:pass emitted as basic Authorization.
	Auth string

	// Method overrides the outbound method; the inbound method otherwise.
	Method string

	// Headers are merged over the inbound headers, key by key.
	Headers http.Header

	// LocalAddress binds the outbound socket.
	LocalAddress string

	// DialTimeout bounds the upstream connect; 30 seconds when unset.
	DialTimeout time.Duration

	// SocketPath dials the target over a unix socket instead of its
	// host and port.
	SocketPath string

	// HTTPAgent and HTTPSAgent are connection pools for outbound requests,
	// selected by the target scheme. When the applicable agent is nil, every
	// request rides a fresh connection and carries Connection: close (unless
	// the inbound Connection header asks for an upgrade).
	HTTPAgent  *http.Transport
	HTTPSAgent *http.Transport

	// Timeout sets a read deadline on the inbound connection, counted from
	// when the timeout pass runs; activity does not extend it.
	Timeout time.Duration

	// ProxyTimeout bounds the wait for upstream response headers (and the
	// upgrade handshake on websocket dispatch).
	ProxyTimeout time.Duration

	// Redirect Location rewriting for 201/301/302/307/308 responses.
	HostRewrite     string
	AutoRewrite     bool
	ProtocolRewrite string

	// Set-Cookie attribute rewriting.
	CookieDomainRewrite RewriteRules
	CookiePathRewrite   RewriteRules

	// SelfHandleResponse leaves the upstream response untouched; the proxyRes
	// hook owns the body.
	SelfHandleResponse bool

	// HandleErrors installs the default 502 responder on the server.
	HandleErrors bool

	// Logger receives the server's and the pipeline's log records. Nil discards.
	Logger *slog.Logger
}

func (o *Options) secure() bool {
	return o.Secure == nil || *o.Secure
}

func (o *Options) prependPath() bool {
	return o.PrependPath == nil || *o.PrependPath
}

// Bool is a convenience for the tri-state option fields.
func Bool(v bool) *bool { return &v }

// merge returns base overlaid with the non-zero fields of over. Neither input
// is mutated.
func (o *Options) merge(over *Options) *Options {
	out := *o
	if over == nil {
		return &out
	}
	if over.Target != "" {
		out.Target = over.Target
	}
	if over.Forward != "" {
		out.Forward = over.Forward
	}
	if over.SSL != nil {
		out.SSL = over.SSL
	}
	if over.TLS != nil {
		out.TLS = over.TLS
	}
	if over.WS {
		out.WS = true
	}
	if over.XFwd {
		out.XFwd = true
	}
	if over.Secure != nil {
		out.Secure = over.Secure
	}
	if over.ToProxy {
		out.ToProxy = true
	}
	if over.PrependPath != nil {
		out.PrependPath = over.PrependPath
	}
	if over.IgnorePath {
		out.IgnorePath = true
	}
	if over.ChangeOrigin {
		out.ChangeOrigin = true
	}
	if over.Auth != "" {
		out.Auth = over.Auth
	}
	if over.Method != "" {
		out.Method = over.Method
	}
	if over.Headers != nil {
		out.Headers = over.Headers
	}
	if over.LocalAddress != "" {
		out.LocalAddress = over.LocalAddress
	}
	if over.DialTimeout != 0 {
		out.DialTimeout = over.DialTimeout
	}
	if over.SocketPath != "" {
		out.SocketPath = over.SocketPath
	}
	if over.HTTPAgent != nil {
		out.HTTPAgent = over.HTTPAgent
	}
	if over.HTTPSAgent != nil {
		out.HTTPSAgent = over.HTTPSAgent
	}
	if over.Timeout != 0 {
		out.Timeout = over.Timeout
	}
	if over.ProxyTimeout != 0 {
		out.ProxyTimeout = over.ProxyTimeout
	}
	if over.HostRewrite != "" {
		out.HostRewrite = over.HostRewrite
	}
	if over.AutoRewrite {
		out.AutoRewrite = true
	}
	if over.ProtocolRewrite != "" {
		out.ProtocolRewrite = over.ProtocolRewrite
	}
	if over.CookieDomainRewrite != nil {
		out.CookieDomainRewrite = over.CookieDomainRewrite
	}
	if over.CookiePathRewrite != nil {
		out.CookiePathRewrite = over.CookiePathRewrite
	}
	if over.SelfHandleResponse {
		out.SelfHandleResponse = true
	}
	if over.Logger != nil {
		out.Logger = over.Logger
	}
	return &out
}
