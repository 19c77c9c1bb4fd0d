package proxy

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// redirectStatus marks the response codes whose Location header is subject to
// rewriting.
var redirectStatus = map[int]bool{
	201: true, 301: true, 302: true, 307: true, 308: true,
}

// hopByHopHeaders are dropped when upstream response headers are copied to
// the client; the client-side server manages its own connection framing.
// Outbound request headers are not filtered against this list.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyResponseHeaders copies the upstream headers onto the client response,
// applying Location and Set-Cookie rewrites and dropping hop-by-hop headers.
func copyResponseHeaders(dst http.Header, upstream *http.Response, req *http.Request, opts *Options, target *Target) {
	for k, vv := range upstream.Header {
		if k == "Set-Cookie" {
			vv = rewriteSetCookies(vv, opts)
		}
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	rewriteLocation(dst, upstream.StatusCode, req, opts, target)
}

// rewriteLocation applies the hostRewrite / autoRewrite / protocolRewrite
// policy to a redirect Location. Only locations pointing back at the target
// host are touched; redirects elsewhere pass through untouched.
func rewriteLocation(h http.Header, status int, req *http.Request, opts *Options, target *Target) {
	if opts.HostRewrite == "" && !opts.AutoRewrite && opts.ProtocolRewrite == "" {
		return
	}
	loc := h.Get("Location")
	if loc == "" || !redirectStatus[status] || target == nil {
		return
	}
	u, err := url.Parse(loc)
	if err != nil || u.Host != target.Host {
		return
	}
	if opts.HostRewrite != "" {
		u.Host = opts.HostRewrite
	} else if opts.AutoRewrite {
		u.Host = req.Host
	}
	if opts.ProtocolRewrite != "" {
		u.Scheme = strings.TrimSuffix(opts.ProtocolRewrite, ":")
	}
	h.Set("Location", u.String())
}

// rewriteSetCookies applies the domain and path rules to every Set-Cookie
// value.
func rewriteSetCookies(values []string, opts *Options) []string {
	if opts.CookieDomainRewrite == nil && opts.CookiePathRewrite == nil {
		return values
	}
	out := make([]string, len(values))
	for i, v := range values {
		if opts.CookieDomainRewrite != nil {
			v = rewriteCookieAttr(v, opts.CookieDomainRewrite, "domain")
		}
		if opts.CookiePathRewrite != nil {
			v = rewriteCookieAttr(v, opts.CookiePathRewrite, "path")
		}
		out[i] = v
	}
	return out
}

// rewriteCookieAttr substitutes one cookie attribute according to the rules:
// an exact match wins, "*" is the fallback, an empty replacement removes the
// attribute.
func rewriteCookieAttr(value string, rules RewriteRules, attr string) string {
	re := regexp.MustCompile(`(?i)(;\s*` + attr + `=)([^;]+)`)
	replaced := false
	return re.ReplaceAllStringFunc(value, func(m string) string {
		if replaced {
			return m
		}
		replaced = true
		sub := re.FindStringSubmatch(m)
		prev := sub[2]
		repl, ok := rules[prev]
		if !ok {
			repl, ok = rules["*"]
			if !ok {
				return m
			}
		}
		if repl == "" {
			return ""
		}
		return sub[1] + repl
	})
}
