package proxy

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

func defaultWSPasses() *PassList {
	return newPassList(
		Pass{Name: "checkMethodAndHeader", Run: checkMethodAndHeader},
		Pass{Name: "xHeaders", Run: xHeaders},
		Pass{Name: "stream", Run: wsStream},
	)
}

// checkMethodAndHeader drops anything that is not a well-formed websocket
// upgrade: GET with an Upgrade: websocket header.
func checkMethodAndHeader(ctx *Context) bool {
	if ctx.Req.Method != http.MethodGet || !strings.EqualFold(ctx.Req.Header.Get("Upgrade"), "websocket") {
		ctx.Conn.Close()
		return true
	}
	return false
}

// setupSocket prepares a tunnel endpoint: idle timeout cleared, keep-alive
// on. NoDelay is left at the platform default.
func setupSocket(c net.Conn) {
	c.SetDeadline(time.Time{})
	if tc, ok := c.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
	}
}

// wsStream is the terminal upgrade pass: it performs the upstream handshake
// and splices the two sockets into a tunnel.
func wsStream(ctx *Context) bool {
	req, conn, opts := ctx.Req, ctx.Conn, ctx.Options
	target := ctx.Target
	if target == nil {
		conn.Close()
		return true
	}

	setupSocket(conn)

	var clientReader io.Reader = conn
	if len(ctx.Head) > 0 {
		clientReader = io.MultiReader(bytes.NewReader(ctx.Head), conn)
	}

	outReq := buildOutgoing(opts, target, req, nil)
	ctx.events.emitProxyReqWS(outReq, req, conn, opts, ctx.Head)

	// onOutgoingError: route to the callback or the error hooks, then
	// half-close the client so it learns the tunnel is gone.
	onOutgoingError := func(err error) {
		ctx.ReportError(err, target)
		halfClose(conn)
	}

	upstream, err := dialUpstream(opts, target)
	if err != nil {
		onOutgoingError(wrapError(KindUpstreamConnect, err))
		return true
	}

	if opts.ProxyTimeout > 0 {
		upstream.SetDeadline(time.Now().Add(opts.ProxyTimeout))
	}

	if err := outReq.Write(upstream); err != nil {
		upstream.Close()
		onOutgoingError(wrapError(classify(err), err))
		return true
	}

	br := bufio.NewReader(upstream)
	rawHead, resp, err := readResponseHead(br)
	if err != nil {
		upstream.Close()
		onOutgoingError(wrapError(classify(err), err))
		return true
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		// The upstream declined the upgrade; relay its answer verbatim and
		// shut the exchange down.
		if _, err := conn.Write(rawHead); err == nil {
			relayResponseBody(conn, br, resp)
		}
		upstream.Close()
		conn.Close()
		return true
	}

	upstream.SetDeadline(time.Time{})
	setupSocket(upstream)

	// Bytes the upstream sent past its response head belong to the client.
	upHead, _ := br.Peek(br.Buffered())

	// The head bytes go out exactly as the upstream sent them; re-serializing
	// through a header map would reorder them on the wire.
	if _, err := conn.Write(rawHead); err != nil {
		upstream.Close()
		conn.Close()
		return true
	}

	ctx.events.emitOpen(upstream)

	// Client to upstream. A plain pipe would not end the upstream side on a
	// client error, so the copy is bracketed with a half-close.
	go func() {
		io.Copy(upstream, clientReader) //nolint:errcheck // teardown below covers both outcomes
		halfClose(upstream)
	}()

	// Upstream to client; br still holds the replayed head bytes.
	_, err = io.Copy(conn, br)
	switch {
	case err == nil:
		ctx.events.emitClose(resp, upstream, upHead)
	case errors.Is(err, syscall.ECONNRESET):
		ctx.events.emitEconnreset(wrapError(KindUpstreamReset, err), req, conn, target)
		halfClose(conn)
	case errors.Is(err, net.ErrClosed):
		// Torn down from the other direction.
	default:
		onOutgoingError(wrapError(KindUpstreamConnect, err))
	}
	upstream.Close()
	conn.Close()
	return true
}

// dialUpstream opens the raw upstream connection for the handshake, over TLS
// when the target scheme asks for it.
func dialUpstream(opts *Options, t *Target) (net.Conn, error) {
	dialer := dialerFor(opts)

	network, addr := "tcp", t.Addr()
	if t.SocketPath != "" {
		network, addr = "unix", t.SocketPath
	}

	if t.IsSecure() {
		return tls.DialWithDialer(dialer, network, addr, clientTLS(opts, t))
	}
	return dialer.Dial(network, addr)
}

// maxResponseHeadBytes bounds the upstream response head a handshake will buffer.
const maxResponseHeadBytes = 1 << 20

// readResponseHead consumes the status line and header block from the
// upstream reader and returns both the raw bytes as sent and the parsed
// response. Nothing past the terminating blank line is consumed.
func readResponseHead(br *bufio.Reader) ([]byte, *http.Response, error) {
	var raw bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		raw.WriteString(line)
		if err != nil {
			return nil, nil, err
		}
		if line == "\r\n" || line == "\n" {
			break
		}
		if raw.Len() > maxResponseHeadBytes {
			return nil, nil, errors.New("proxy: upstream response head too large")
		}
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw.Bytes())), nil)
	if err != nil {
		return nil, nil, err
	}
	return raw.Bytes(), resp, nil
}

// relayResponseBody copies a declined-upgrade response body verbatim: the
// declared Content-Length when there is one, everything until close otherwise
// (chunked framing passes through untouched, the raw head already carried its
// Transfer-Encoding).
func relayResponseBody(dst io.Writer, src io.Reader, resp *http.Response) {
	if resp.ContentLength >= 0 {
		_, _ = io.CopyN(dst, src, resp.ContentLength)
		return
	}
	_, _ = io.Copy(dst, src)
}

// halfClose shuts the write side when the transport supports it, closing
// outright otherwise.
func halfClose(c net.Conn) {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := c.(closeWriter); ok {
		cw.CloseWrite()
		return
	}
	c.Close()
}
