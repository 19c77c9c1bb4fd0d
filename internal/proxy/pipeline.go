package proxy

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"net/http"
)

// Context carries one pipeline invocation through its passes. Exactly one of
// Res and Conn is set: Res for web dispatch, Conn (plus Head) for upgrades.
type Context struct {
	Req *http.Request

	// Res is the client-facing response writer on web dispatch.
	Res http.ResponseWriter

	// Conn is the hijacked client socket on upgrade dispatch.
	Conn net.Conn

	// Head holds bytes read past the request head before hand-off; the
	// stream pass replays them in front of the client socket.
	Head []byte

	// Options is the merged server + per-dispatch configuration.
	Options *Options

	// Target and Forward are the resolved destinations; either may be nil.
	Target  *Target
	Forward *Target

	events  eventSink
	onError ErrorFunc
	logger  *slog.Logger
}

// writer returns the client-facing side for error reporting.
func (c *Context) writer() io.Writer {
	if c.Res != nil {
		return c.Res
	}
	return c.Conn
}

// ReportError routes an error to the per-dispatch callback when one was
// supplied, and to the server's error hooks otherwise.
func (c *Context) ReportError(err error, target *Target) {
	if c.onError != nil {
		c.onError(err, c.Req, c.writer(), target)
		return
	}
	c.events.emitError(err, c.Req, c.writer(), target)
}

// dispatch merges options, resolves destinations and walks the pass list for
// kind. A pass returning true short-circuits the remainder.
func (s *Server) dispatch(kind Kind, req *http.Request, res http.ResponseWriter, conn net.Conn, head []byte, perCall *Options, onError ErrorFunc) {
	opts := s.options.merge(perCall)

	ctx := &Context{
		Req:     req,
		Conn:    conn,
		Head:    head,
		Options: opts,
		events:  s,
		onError: onError,
		logger:  s.logger,
	}
	if res != nil {
		ctx.Res = &responseState{ResponseWriter: res}
	}

	if opts.Target != "" {
		t, err := ParseTarget(opts.Target)
		if err != nil {
			ctx.ReportError(err, nil)
			return
		}
		t.TLS = opts.TLS
		t.SocketPath = opts.SocketPath
		ctx.Target = t
	}
	if opts.Forward != "" {
		f, err := ParseTarget(opts.Forward)
		if err != nil {
			ctx.ReportError(err, nil)
			return
		}
		f.TLS = opts.TLS
		ctx.Forward = f
	}

	if ctx.Target == nil && ctx.Forward == nil {
		ctx.ReportError(wrapError(KindMissingTarget, ErrMissingTarget), nil)
		return
	}

	list := s.webPasses
	if kind == KindWS {
		list = s.wsPasses
	}
	for _, p := range list.passes {
		if p.Run(ctx) {
			return
		}
	}
}

// responseState wraps the client response writer to remember whether headers
// have gone out. Later writes with a different status would otherwise race
// the error path into a double WriteHeader.
type responseState struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *responseState) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseState) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *responseState) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack passes through to the underlying writer when it supports it.
func (w *responseState) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

// Flush passes through to the underlying writer when it supports it.
func (w *responseState) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// HeadersSent reports whether a response writer handed to a hook has already
// committed its status line.
func HeadersSent(w http.ResponseWriter) bool {
	if rs, ok := w.(*responseState); ok {
		return rs.wroteHeader
	}
	return false
}
