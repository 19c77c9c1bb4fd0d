package proxy

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestDialerFor(t *testing.T) {
	t.Run("default connect timeout", func(t *testing.T) {
		d := dialerFor(&Options{})
		if d.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s default", d.Timeout)
		}
	})

	t.Run("configured connect timeout", func(t *testing.T) {
		d := dialerFor(&Options{DialTimeout: 5 * time.Second})
		if d.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", d.Timeout)
		}
	})

	t.Run("local bind address", func(t *testing.T) {
		d := dialerFor(&Options{LocalAddress: "127.0.0.1"})
		if d.LocalAddr == nil {
			t.Fatal("LocalAddr = nil, want the configured bind address")
		}
		if got := d.LocalAddr.String(); got != "127.0.0.1:0" {
			t.Errorf("LocalAddr = %q, want %q", got, "127.0.0.1:0")
		}
	})
}

func TestClientTLS(t *testing.T) {
	tg, err := ParseTarget("https://upstream:8443")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("verification on by default", func(t *testing.T) {
		cfg := clientTLS(&Options{}, tg)
		if cfg.InsecureSkipVerify {
			t.Error("InsecureSkipVerify = true, want verification by default")
		}
		if cfg.ServerName != "upstream" {
			t.Errorf("ServerName = %q, want the target hostname", cfg.ServerName)
		}
	})

	t.Run("secure false disables verification", func(t *testing.T) {
		cfg := clientTLS(&Options{Secure: Bool(false)}, tg)
		if !cfg.InsecureSkipVerify {
			t.Error("InsecureSkipVerify = false, want skipped verification")
		}
	})

	t.Run("target material cloned not mutated", func(t *testing.T) {
		material := &tls.Config{ServerName: "pinned.example"}
		withTLS := *tg
		withTLS.TLS = material

		cfg := clientTLS(&Options{Secure: Bool(false)}, &withTLS)
		if cfg.ServerName != "pinned.example" {
			t.Errorf("ServerName = %q, want the attached material's name", cfg.ServerName)
		}
		if material.InsecureSkipVerify {
			t.Error("attached material was mutated")
		}
	})
}
