package proxy

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Server is the proxy facade: it owns the two pass lists, the event hooks,
// and optionally a listening socket. Pass lists may be reshaped with Before
// and After during setup; mutating them while requests are in flight is
// undefined.
type Server struct {
	emitter

	options   *Options
	webPasses *PassList
	wsPasses  *PassList
	logger    *slog.Logger

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// New creates a Server from the given options. Options are required; a
// target or forward may still arrive per dispatch.
func New(opts *Options) (*Server, error) {
	if opts == nil {
		return nil, errors.New("proxy: options are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		options:   opts,
		webPasses: defaultWebPasses(),
		wsPasses:  defaultWSPasses(),
		logger:    logger.With("component", "proxy"),
	}
	if opts.HandleErrors {
		s.OnError(s.defaultErrorHandler)
	}
	return s, nil
}

// Web dispatches a plain HTTP request through the web pipeline. opts and
// onError may be nil; when onError is set it receives this dispatch's errors
// in place of the server hooks.
func (s *Server) Web(w http.ResponseWriter, r *http.Request, opts *Options, onError ErrorFunc) {
	s.dispatch(KindWeb, r, w, nil, nil, opts, onError)
}

// WS dispatches a hijacked upgrade request through the ws pipeline. head
// holds any bytes read past the request head before hand-off.
func (s *Server) WS(r *http.Request, conn net.Conn, head []byte, opts *Options, onError ErrorFunc) {
	s.dispatch(KindWS, r, nil, conn, head, opts, onError)
}

// IsUpgradeRequest reports whether the request asks for a websocket upgrade.
func IsUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP routes a request to the ws pipeline when it carries a websocket
// upgrade and to the web pipeline otherwise, making the Server mountable as
// a plain handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsUpgradeRequest(r) {
		conn, head, err := hijack(w)
		if err != nil {
			http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
			return
		}
		s.WS(r, conn, head, nil, nil)
		return
	}
	s.Web(w, r, nil, nil)
}

// hijack takes over the client connection and drains whatever the server
// buffered past the request head.
func hijack(w http.ResponseWriter) (net.Conn, []byte, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		return nil, nil, err
	}
	var head []byte
	if n := brw.Reader.Buffered(); n > 0 {
		head, _ = brw.Reader.Peek(n)
		head = append([]byte(nil), head...)
		brw.Reader.Discard(n)
	}
	return conn, head, nil
}

// Before inserts a pass immediately before the named anchor in the given
// pipeline.
func (s *Server) Before(kind Kind, anchor string, p Pass) error {
	l, err := s.list(kind)
	if err != nil {
		return err
	}
	return l.Before(anchor, p)
}

// After inserts a pass immediately after the named anchor in the given
// pipeline.
func (s *Server) After(kind Kind, anchor string, p Pass) error {
	l, err := s.list(kind)
	if err != nil {
		return err
	}
	return l.After(anchor, p)
}

func (s *Server) list(kind Kind) (*PassList, error) {
	switch kind {
	case KindWeb:
		return s.webPasses, nil
	case KindWS:
		return s.wsPasses, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
}

// Listen binds the owned listener (TLS when SSL material is configured) and
// starts serving in the background. Upgrade requests ride the ws pipeline
// only when the WS option is on; otherwise they are dispatched as plain web
// requests.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxy: bind %s: %w", addr, err)
	}
	if s.options.SSL != nil {
		ln = tls.NewListener(ln, s.options.SSL)
	}

	srv := &http.Server{
		Handler:           http.HandlerFunc(s.serveOwned),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String(), "tls", s.options.SSL != nil)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve", "err", err)
		}
	}()
	return nil
}

func (s *Server) serveOwned(w http.ResponseWriter, r *http.Request) {
	if s.options.WS && IsUpgradeRequest(r) {
		conn, head, err := hijack(w)
		if err != nil {
			http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
			return
		}
		s.WS(r, conn, head, nil, nil)
		return
	}
	s.Web(w, r, nil, nil)
}

// Addr returns the bound listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the owned listener down and hands the result to cb when one is
// given.
func (s *Server) Close(cb func(error)) {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Close()
	}
	if cb != nil {
		cb(err)
	}
}

// defaultErrorHandler is installed by the HandleErrors option: a plain 502
// for web dispatches whose headers have not gone out, teardown otherwise.
// Forward side-channel failures never touch the client response.
func (s *Server) defaultErrorHandler(err error, req *http.Request, w io.Writer, target *Target) {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindForward {
		s.logger.Error("forward request failed", "err", err)
		return
	}

	switch cw := w.(type) {
	case http.ResponseWriter:
		if HeadersSent(cw) {
			panic(http.ErrAbortHandler)
		}
		cw.Header().Set("Content-Type", "text/plain")
		cw.WriteHeader(http.StatusBadGateway)
		io.WriteString(cw, "502 Bad Gateway") //nolint:errcheck // nothing left to do for a dead client
	case net.Conn:
		cw.Close()
	}
}
