package proxy

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// upgradeHeader matches a Connection header token list that names upgrade.
var upgradeHeader = regexp.MustCompile(`(?i)(^|,)\s*upgrade\s*($|,)`)

var slashRun = regexp.MustCompile(`/+`)

// urlJoin joins path segments with a single slash, collapsing runs of
// slashes while keeping the :// after an http or https scheme intact. The
// query of the last argument is split off before joining and re-appended;
// extra ? segments in it survive verbatim after the first.
func urlJoin(parts ...string) string {
	if len(parts) == 0 {
		return ""
	}
	last := parts[len(parts)-1]
	querySegs := strings.Split(last, "?")
	parts[len(parts)-1] = querySegs[0]

	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}

	joined := slashRun.ReplaceAllString(strings.Join(kept, "/"), "/")
	joined = strings.Replace(joined, "http:/", "http://", 1)
	joined = strings.Replace(joined, "https:/", "https://", 1)

	return strings.Join(append([]string{joined}, querySegs[1:]...), "?")
}

// outboundPath computes the path-and-query of the outbound request per the
// prependPath / toProxy / ignorePath policy.
func outboundPath(opts *Options, t *Target, req *http.Request) string {
	targetPath := ""
	if opts.prependPath() {
		targetPath = t.Path
	}

	inbound := req.URL.RequestURI()
	if opts.ToProxy {
		inbound = req.RequestURI
	}
	if opts.IgnorePath {
		inbound = ""
	}

	p := urlJoin(targetPath, inbound)
	if p == "" {
		p = "/"
	}
	return p
}

// hostHeader computes the outbound Host header under changeOrigin: the target
// host, with the resolved port appended when the scheme needs it spelled out
// and the host does not already carry one.
func hostHeader(t *Target) string {
	if requiresPort(t.Port, t.Scheme) && !hasPort(t.Host) {
		return t.Host + ":" + t.Port
	}
	return t.Host
}

// buildOutgoing shapes the outbound request for the given destination. The
// body is attached by the caller; headers are a copy of the inbound set with
// the configured overlay applied on top.
func buildOutgoing(opts *Options, t *Target, req *http.Request, body io.ReadCloser) *http.Request {
	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	for k, vv := range opts.Headers {
		header[http.CanonicalHeaderKey(k)] = vv
	}

	if opts.Auth != "" {
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(opts.Auth)))
	}

	scheme := "http"
	if t.IsSecure() {
		scheme = "https"
	}

	pu, err := url.ParseRequestURI(outboundPath(opts, t, req))
	if err != nil {
		pu = &url.URL{Path: outboundPath(opts, t, req)}
	}

	method := req.Method
	if opts.Method != "" {
		method = opts.Method
	}

	out := &http.Request{
		Method: method,
		URL: &url.URL{
			Scheme:   scheme,
			Host:     t.Addr(),
			Path:     pu.Path,
			RawPath:  pu.RawPath,
			RawQuery: pu.RawQuery,
		},
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: req.ContentLength,
		Host:          req.Host,
	}
	out = out.WithContext(req.Context())

	// The overlay may pin the Host header; http.Request carries it as a field.
	if h := header.Get("Host"); h != "" {
		out.Host = h
		header.Del("Host")
	} else if opts.ChangeOrigin {
		out.Host = hostHeader(t)
	}

	// A zero Content-Length with a non-nil body reads as "unknown" to the
	// transport and triggers chunked encoding; pin it down when the inbound
	// side declared an empty body. The identity marker makes net/http write
	// an explicit Content-Length: 0 even on bodyless methods.
	if out.ContentLength == 0 && header.Get("Content-Length") == "0" {
		out.Body = http.NoBody
		out.TransferEncoding = []string{"identity"}
	}

	// No pool means a fresh connection per request; Close makes the transport
	// send Connection: close, unless the inbound side asked for an upgrade.
	// The inbound Connection header is dropped so it cannot conflict.
	if agentFor(opts, t) == nil && !upgradeHeader.MatchString(header.Get("Connection")) {
		out.Close = true
		header.Del("Connection")
	}

	return out
}

// agentFor selects the configured connection pool for the target scheme.
func agentFor(opts *Options, t *Target) *http.Transport {
	if t.IsSecure() {
		return opts.HTTPSAgent
	}
	return opts.HTTPAgent
}
