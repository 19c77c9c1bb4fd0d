package proxy

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// dialerFor builds the outbound dialer, honoring the configured connect
// timeout and local bind address.
func dialerFor(opts *Options) *net.Dialer {
	timeout := opts.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	d := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	if opts.LocalAddress != "" {
		d.LocalAddr = &net.TCPAddr{IP: net.ParseIP(opts.LocalAddress)}
	}
	return d
}

// clientTLS derives the TLS client configuration for a secure target:
// the target's attached material with certificate verification switched by
// the secure option.
func clientTLS(opts *Options, t *Target) *tls.Config {
	var cfg *tls.Config
	if t.TLS != nil {
		cfg = t.TLS.Clone()
	} else {
		cfg = &tls.Config{}
	}
	cfg.InsecureSkipVerify = !opts.secure()
	if cfg.ServerName == "" {
		cfg.ServerName = t.Hostname()
	}
	return cfg
}

// transportFor returns the round tripper for one outbound request. A
// configured agent is used as-is and owns its own pooling and TLS settings.
// Without one, a single-use transport is built: keep-alives off, the target's
// TLS material applied, and the proxy timeout bounding the response-header
// wait.
func transportFor(opts *Options, t *Target) http.RoundTripper {
	if agent := agentFor(opts, t); agent != nil {
		return agent
	}

	dialer := dialerFor(opts)
	tr := &http.Transport{
		DialContext:       dialer.DialContext,
		DisableKeepAlives: true,
	}
	if t.SocketPath != "" {
		path := t.SocketPath
		tr.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", path)
		}
	}
	if t.IsSecure() {
		tr.TLSClientConfig = clientTLS(opts, t)
	}
	if opts.ProxyTimeout > 0 {
		tr.ResponseHeaderTimeout = opts.ProxyTimeout
	}
	return tr
}

// NewPoolingTransport builds a connection-pooling transport suitable for the
// HTTPAgent / HTTPSAgent options.
func NewPoolingTransport(idleConns int, tlsCfg *tls.Config) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        idleConns,
		MaxIdleConnsPerHost: idleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     tlsCfg,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}
