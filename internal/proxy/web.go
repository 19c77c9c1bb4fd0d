package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"syscall"
	"time"
)

func defaultWebPasses() *PassList {
	return newPassList(
		Pass{Name: "deleteLength", Run: deleteLength},
		Pass{Name: "timeout", Run: inboundTimeout},
		Pass{Name: "xHeaders", Run: xHeaders},
		Pass{Name: "stream", Run: webStream},
	)
}

// deleteLength pins an explicit empty body onto DELETE and OPTIONS requests
// that declared none. Some upstreams reject chunked encoding on bodyless
// methods.
func deleteLength(ctx *Context) bool {
	m := ctx.Req.Method
	if (m == http.MethodDelete || m == http.MethodOptions) && ctx.Req.Header.Get("Content-Length") == "" {
		ctx.Req.Header.Set("Content-Length", "0")
		ctx.Req.Header.Del("Transfer-Encoding")
		ctx.Req.TransferEncoding = nil
		ctx.Req.ContentLength = 0
	}
	return false
}

// inboundTimeout sets a read deadline of Options.Timeout from now on the
// client connection. The deadline is fixed; activity does not extend it.
func inboundTimeout(ctx *Context) bool {
	if d := ctx.Options.Timeout; d > 0 && ctx.Res != nil {
		rc := http.NewResponseController(ctx.Res)
		if err := rc.SetReadDeadline(time.Now().Add(d)); err != nil {
			ctx.logger.Debug("set inbound deadline", "err", err)
		}
	}
	return false
}

var hostPortPattern = regexp.MustCompile(`:(\d+)`)

// inboundPort derives the client-side port from the Host header, falling back
// to the scheme default.
func inboundPort(req *http.Request) string {
	if m := hostPortPattern.FindStringSubmatch(req.Host); m != nil {
		return m[1]
	}
	if req.TLS != nil {
		return "443"
	}
	return "80"
}

// xHeaders appends the x-forwarded-{for,port,proto} triple to the inbound
// headers. Existing values accumulate comma-separated.
func xHeaders(ctx *Context) bool {
	if !ctx.Options.XFwd {
		return false
	}
	req := ctx.Req

	remote := req.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	encrypted := req.TLS != nil
	proto := "http"
	if ctx.Conn != nil {
		proto = "ws"
	}
	if encrypted {
		proto += "s"
	}

	appendXHeader(req.Header, "X-Forwarded-For", remote)
	appendXHeader(req.Header, "X-Forwarded-Port", inboundPort(req))
	appendXHeader(req.Header, "X-Forwarded-Proto", proto)
	return false
}

func appendXHeader(h http.Header, key, value string) {
	if prev := h.Get(key); prev != "" {
		value = prev + "," + value
	}
	h.Set(key, value)
}

// webStream is the terminal web pass: it fires the optional forward request,
// issues the target request, and relays the upstream response to the client.
func webStream(ctx *Context) bool {
	req, res, opts := ctx.Req, ctx.Res, ctx.Options

	target := ctx.Target
	if target == nil {
		target = ctx.Forward
	}
	ctx.events.emitStart(req, res, target)

	body := req.Body
	if body == nil {
		body = http.NoBody
	}

	var forwardFeed *io.PipeWriter
	if ctx.Forward != nil {
		if ctx.Target == nil {
			// Forward-only dispatch: send the side request, discard whatever
			// comes back, and complete the exchange empty.
			fwdReq := buildOutgoing(opts, ctx.Forward, req, body)
			if resp, err := transportFor(opts, ctx.Forward).RoundTrip(fwdReq); err != nil {
				ctx.ReportError(wrapError(KindForward, err), ctx.Forward)
			} else {
				resp.Body.Close()
			}
			res.WriteHeader(http.StatusOK)
			return true
		}

		// Mirror the body into the side request. The tee swallows pipe
		// errors so a dead forward upstream cannot fail the primary path,
		// and the detached context keeps the side request alive past the
		// primary exchange.
		pr, pw := io.Pipe()
		forwardFeed = pw
		fwdReq := buildOutgoing(opts, ctx.Forward, req, pr)
		fwdReq = fwdReq.WithContext(context.WithoutCancel(req.Context()))
		body = io.NopCloser(io.TeeReader(body, &failsafeWriter{w: pw}))
		go func() {
			resp, err := transportFor(opts, ctx.Forward).RoundTrip(fwdReq)
			if err != nil {
				ctx.ReportError(wrapError(KindForward, err), ctx.Forward)
				return
			}
			resp.Body.Close()
		}()
	}

	outReq := buildOutgoing(opts, ctx.Target, req, body)
	ctx.events.emitProxyReq(outReq, req, res, opts)

	resp, err := transportFor(opts, ctx.Target).RoundTrip(outReq)
	if forwardFeed != nil {
		forwardFeed.Close()
	}
	if err != nil {
		switch classify(err) {
		case KindClientGone:
			// The client went away first; nothing left to answer.
		case KindUpstreamReset:
			ctx.events.emitEconnreset(wrapError(KindUpstreamReset, err), req, res, ctx.Target)
		default:
			ctx.ReportError(wrapError(KindUpstreamConnect, err), ctx.Target)
		}
		return true
	}

	ctx.events.emitProxyRes(resp, req, res)

	if opts.SelfHandleResponse {
		// The proxyRes hook owns the response, body included.
		return true
	}
	defer resp.Body.Close()

	copyResponseHeaders(res.Header(), resp, req, opts, ctx.Target)
	res.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(res, resp.Body); err != nil {
		// The status line is already on the wire; the client gets a
		// truncated body either way. Reset gets its own surface, the rest
		// is logged for observability.
		if errors.Is(err, syscall.ECONNRESET) {
			ctx.events.emitEconnreset(wrapError(KindUpstreamReset, err), req, res, ctx.Target)
		} else if req.Context().Err() == nil {
			ctx.logger.Error("relay response body", "err", err, "path", req.URL.Path)
		}
		return true
	}

	ctx.events.emitEnd(req, res, resp)
	return true
}

// failsafeWriter feeds the forward pipe but never surfaces its errors: once
// the pipe breaks, remaining bytes are dropped and the primary copy goes on.
type failsafeWriter struct {
	w      *io.PipeWriter
	broken bool
}

func (f *failsafeWriter) Write(p []byte) (int, error) {
	if !f.broken {
		if _, err := f.w.Write(p); err != nil {
			f.broken = true
		}
	}
	return len(p), nil
}
