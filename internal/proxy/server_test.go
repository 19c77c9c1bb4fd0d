package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewRequiresOptions(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) expected error")
	}
}

func TestServeHTTPRoutesByUpgradeHeader(t *testing.T) {
	s := mustServer(t, &Options{Target: "http://u"})

	var kinds []Kind
	probe := Pass{Name: "probe", Run: func(ctx *Context) bool {
		if ctx.Conn != nil {
			kinds = append(kinds, KindWS)
			ctx.Conn.Close()
		} else {
			kinds = append(kinds, KindWeb)
		}
		return true
	}}
	s.webPasses = newPassList(probe)
	s.wsPasses = newPassList(probe)

	// Plain request: the recorder cannot be hijacked, so upgrade detection
	// must not trigger.
	s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(kinds) != 1 || kinds[0] != KindWeb {
		t.Errorf("kinds = %v, want a single web dispatch", kinds)
	}
}

func TestListenAndClose(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "through")
	}))
	defer upstream.Close()

	s := mustServer(t, &Options{Target: upstream.URL})
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET through proxy: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "through" {
		t.Errorf("body = %q, want %q", body, "through")
	}

	closed := false
	s.Close(func(err error) {
		closed = true
		if err != nil {
			t.Errorf("close error = %v", err)
		}
	})
	if !closed {
		t.Error("close callback never invoked")
	}
	if s.Addr() != nil {
		t.Error("Addr() non-nil after Close")
	}
}

func TestIsUpgradeRequest(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"websocket", true},
		{"WebSocket", true},
		{"", false},
		{"h2c", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.value != "" {
			req.Header.Set("Upgrade", tt.value)
		}
		if got := IsUpgradeRequest(req); got != tt.want {
			t.Errorf("IsUpgradeRequest(Upgrade=%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
