package proxy

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
)

// ErrorFunc receives a proxy error for a single dispatch. The writer is the
// client-facing side: an http.ResponseWriter for web dispatch, a net.Conn for
// upgrades. When a dispatch supplies an ErrorFunc it takes the place of the
// server's error hooks for that call.
type ErrorFunc func(err error, req *http.Request, w io.Writer, target *Target)

// Hook signatures for the observable pipeline events.
type (
	// ProxyReqFunc runs after the outbound request is built and before its
	// body starts flowing; it may mutate the outbound headers.
	ProxyReqFunc func(out *http.Request, req *http.Request, res http.ResponseWriter, opts *Options)

	// ProxyReqWSFunc is the upgrade-dispatch counterpart of ProxyReqFunc.
	ProxyReqWSFunc func(out *http.Request, req *http.Request, conn net.Conn, opts *Options, head []byte)

	// ProxyResFunc runs when upstream response headers arrive, before any of
	// them are copied to the client.
	ProxyResFunc func(upstream *http.Response, req *http.Request, res http.ResponseWriter)

	// OpenFunc runs once an upgrade tunnel to the upstream is established.
	OpenFunc func(upstream net.Conn)

	// CloseFunc runs when an upgrade tunnel's upstream side ends.
	CloseFunc func(upstream *http.Response, conn net.Conn, head []byte)

	// StartFunc runs at the head of the web stream pass.
	StartFunc func(req *http.Request, res http.ResponseWriter, target *Target)

	// EndFunc runs after the upstream body has been fully relayed.
	EndFunc func(req *http.Request, res http.ResponseWriter, upstream *http.Response)
)

// eventSink is the capability passes use to emit events. The Server
// implements it; passes never see the concrete server.
type eventSink interface {
	emitError(err error, req *http.Request, w io.Writer, target *Target)
	emitEconnreset(err error, req *http.Request, w io.Writer, target *Target)
	emitProxyReq(out, req *http.Request, res http.ResponseWriter, opts *Options)
	emitProxyReqWS(out, req *http.Request, conn net.Conn, opts *Options, head []byte)
	emitProxyRes(upstream *http.Response, req *http.Request, res http.ResponseWriter)
	emitOpen(upstream net.Conn)
	emitClose(upstream *http.Response, conn net.Conn, head []byte)
	emitStart(req *http.Request, res http.ResponseWriter, target *Target)
	emitEnd(req *http.Request, res http.ResponseWriter, upstream *http.Response)
}

// emitter is a typed hook table. Registration is expected during setup;
// emission happens on request goroutines, hence the lock.
type emitter struct {
	mu         sync.RWMutex
	errors     []ErrorFunc
	econnreset []ErrorFunc
	proxyReq   []ProxyReqFunc
	proxyReqWS []ProxyReqWSFunc
	proxyRes   []ProxyResFunc
	open       []OpenFunc
	closed     []CloseFunc
	start      []StartFunc
	end        []EndFunc
}

// OnError subscribes to proxy errors. With no error subscriber and no
// per-dispatch callback, an emitted error panics so that misconfiguration is
// visible instead of silently swallowed.
func (e *emitter) OnError(fn ErrorFunc) {
	e.mu.Lock()
	e.errors = append(e.errors, fn)
	e.mu.Unlock()
}

// OnEconnreset subscribes to upstream connection resets.
func (e *emitter) OnEconnreset(fn ErrorFunc) {
	e.mu.Lock()
	e.econnreset = append(e.econnreset, fn)
	e.mu.Unlock()
}

// OnProxyReq subscribes to outbound web requests before they are sent.
func (e *emitter) OnProxyReq(fn ProxyReqFunc) {
	e.mu.Lock()
	e.proxyReq = append(e.proxyReq, fn)
	e.mu.Unlock()
}

// OnProxyReqWS subscribes to outbound upgrade requests before the handshake.
func (e *emitter) OnProxyReqWS(fn ProxyReqWSFunc) {
	e.mu.Lock()
	e.proxyReqWS = append(e.proxyReqWS, fn)
	e.mu.Unlock()
}

// OnProxyRes subscribes to upstream responses before they are copied back.
func (e *emitter) OnProxyRes(fn ProxyResFunc) {
	e.mu.Lock()
	e.proxyRes = append(e.proxyRes, fn)
	e.mu.Unlock()
}

// OnOpen subscribes to established upgrade tunnels.
func (e *emitter) OnOpen(fn OpenFunc) {
	e.mu.Lock()
	e.open = append(e.open, fn)
	e.mu.Unlock()
}

// OnProxySocket subscribes to established upgrade tunnels.
//
// Deprecated: use OnOpen.
func (e *emitter) OnProxySocket(fn OpenFunc) { e.OnOpen(fn) }

// OnClose subscribes to upgrade tunnel teardown.
func (e *emitter) OnClose(fn CloseFunc) {
	e.mu.Lock()
	e.closed = append(e.closed, fn)
	e.mu.Unlock()
}

// OnStart subscribes to web dispatch starts.
func (e *emitter) OnStart(fn StartFunc) {
	e.mu.Lock()
	e.start = append(e.start, fn)
	e.mu.Unlock()
}

// OnEnd subscribes to completed web relays.
func (e *emitter) OnEnd(fn EndFunc) {
	e.mu.Lock()
	e.end = append(e.end, fn)
	e.mu.Unlock()
}

func (e *emitter) emitError(err error, req *http.Request, w io.Writer, target *Target) {
	e.mu.RLock()
	hs := e.errors
	e.mu.RUnlock()
	if len(hs) == 0 {
		panic(fmt.Sprintf("proxy: unhandled error (subscribe with OnError): %v", err))
	}
	for _, h := range hs {
		h(err, req, w, target)
	}
}

func (e *emitter) emitEconnreset(err error, req *http.Request, w io.Writer, target *Target) {
	e.mu.RLock()
	hs := e.econnreset
	e.mu.RUnlock()
	for _, h := range hs {
		h(err, req, w, target)
	}
}

func (e *emitter) emitProxyReq(out, req *http.Request, res http.ResponseWriter, opts *Options) {
	e.mu.RLock()
	hs := e.proxyReq
	e.mu.RUnlock()
	for _, h := range hs {
		h(out, req, res, opts)
	}
}

func (e *emitter) emitProxyReqWS(out, req *http.Request, conn net.Conn, opts *Options, head []byte) {
	e.mu.RLock()
	hs := e.proxyReqWS
	e.mu.RUnlock()
	for _, h := range hs {
		h(out, req, conn, opts, head)
	}
}

func (e *emitter) emitProxyRes(upstream *http.Response, req *http.Request, res http.ResponseWriter) {
	e.mu.RLock()
	hs := e.proxyRes
	e.mu.RUnlock()
	for _, h := range hs {
		h(upstream, req, res)
	}
}

func (e *emitter) emitOpen(upstream net.Conn) {
	e.mu.RLock()
	hs := e.open
	e.mu.RUnlock()
	for _, h := range hs {
		h(upstream)
	}
}

func (e *emitter) emitClose(upstream *http.Response, conn net.Conn, head []byte) {
	e.mu.RLock()
	hs := e.closed
	e.mu.RUnlock()
	for _, h := range hs {
		h(upstream, conn, head)
	}
}

func (e *emitter) emitStart(req *http.Request, res http.ResponseWriter, target *Target) {
	e.mu.RLock()
	hs := e.start
	e.mu.RUnlock()
	for _, h := range hs {
		h(req, res, target)
	}
}

func (e *emitter) emitEnd(req *http.Request, res http.ResponseWriter, upstream *http.Response) {
	e.mu.RLock()
	hs := e.end
	e.mu.RUnlock()
	for _, h := range hs {
		h(req, res, upstream)
	}
}
