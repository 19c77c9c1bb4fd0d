package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRewriteCookieAttr(t *testing.T) {
	tests := []struct {
		name  string
		value string
		rules RewriteRules
		attr  string
		want  string
	}{
		{
			"exact match",
			"id=1; Domain=internal.example; Path=/",
			RewriteRules{"internal.example": "public.example"},
			"domain",
			"id=1; Domain=public.example; Path=/",
		},
		{
			"wildcard fallback",
			"id=1; Domain=whatever.example",
			SingleRewrite("public.example"),
			"domain",
			"id=1; Domain=public.example",
		},
		{
			"no rule leaves value",
			"id=1; Domain=keep.example",
			RewriteRules{"other.example": "x"},
			"domain",
			"id=1; Domain=keep.example",
		},
		{
			"empty replacement removes attribute",
			"id=1; Domain=internal.example; Secure",
			SingleRewrite(""),
			"domain",
			"id=1; Secure",
		},
		{
			"path attribute",
			"id=1; Path=/api; HttpOnly",
			RewriteRules{"/api": "/"},
			"path",
			"id=1; Path=/; HttpOnly",
		},
		{
			"case insensitive attribute",
			"id=1; domain=internal.example",
			SingleRewrite("public.example"),
			"domain",
			"id=1; domain=public.example",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rewriteCookieAttr(tt.value, tt.rules, tt.attr); got != tt.want {
				t.Errorf("rewriteCookieAttr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRewriteSetCookies_Elementwise(t *testing.T) {
	opts := &Options{CookieDomainRewrite: SingleRewrite("public.example")}
	in := []string{
		"a=1; Domain=one.example",
		"b=2; Domain=two.example",
	}
	out := rewriteSetCookies(in, opts)
	want := []string{
		"a=1; Domain=public.example",
		"b=2; Domain=public.example",
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("cookie[%d] = %q, want %q", i, out[i], want[i])
		}
	}
}

func TestRewriteLocation(t *testing.T) {
	target, _ := ParseTarget("http://internal:9000")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "public.example"

	tests := []struct {
		name   string
		status int
		loc    string
		opts   *Options
		want   string
	}{
		{
			"autoRewrite replaces host",
			http.StatusFound,
			"http://internal:9000/x",
			&Options{AutoRewrite: true},
			"http://public.example/x",
		},
		{
			"hostRewrite wins over autoRewrite",
			http.StatusMovedPermanently,
			"http://internal:9000/x",
			&Options{HostRewrite: "cdn.example", AutoRewrite: true},
			"http://cdn.example/x",
		},
		{
			"protocolRewrite changes scheme",
			http.StatusTemporaryRedirect,
			"http://internal:9000/x",
			&Options{AutoRewrite: true, ProtocolRewrite: "https"},
			"https://public.example/x",
		},
		{
			"201 is rewritten",
			http.StatusCreated,
			"http://internal:9000/new",
			&Options{AutoRewrite: true},
			"http://public.example/new",
		},
		{
			"non-redirect status untouched",
			http.StatusOK,
			"http://internal:9000/x",
			&Options{AutoRewrite: true},
			"http://internal:9000/x",
		},
		{
			"foreign host untouched",
			http.StatusFound,
			"http://elsewhere.example/x",
			&Options{AutoRewrite: true},
			"http://elsewhere.example/x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{"Location": {tt.loc}}
			rewriteLocation(h, tt.status, req, tt.opts, target)
			if got := h.Get("Location"); got != tt.want {
				t.Errorf("Location = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCopyResponseHeaders_StripsHopByHop(t *testing.T) {
	upstream := &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type":      {"text/plain"},
			"Connection":        {"keep-alive"},
			"Transfer-Encoding": {"chunked"},
			"Keep-Alive":        {"timeout=5"},
		},
	}
	dst := make(http.Header)
	copyResponseHeaders(dst, upstream, httptest.NewRequest(http.MethodGet, "/", nil), &Options{}, nil)

	if got := dst.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q, want forwarded", got)
	}
	for _, h := range []string{"Connection", "Transfer-Encoding", "Keep-Alive"} {
		if got := dst.Get(h); got != "" {
			t.Errorf("%s = %q, want stripped", h, got)
		}
	}
}
