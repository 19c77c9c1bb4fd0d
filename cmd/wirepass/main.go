package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"wirepass/internal/admin"
	"wirepass/internal/config"
	"wirepass/internal/metrics"
	"wirepass/internal/middleware"
	"wirepass/internal/proxy"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("wirepass"),
		kong.Description("Programmable HTTP and WebSocket reverse proxy."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() admin.Version { return admin.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newProxyServer,
			newAdminEcho,
			admin.NewHandler,
		),
		fx.Invoke(admin.RegisterRoutes, warnConfigPermissions, startProxy, startAdmin),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newProxyServer builds the proxy from configuration: listener TLS material,
// upstream policy, connection pooling, metrics hooks, and the optional
// rate-limiting pass in front of the stream stages.
func newProxyServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*proxy.Server, error) {
	opts := &proxy.Options{
		Target:              cfg.Proxy.Target,
		Forward:             cfg.Proxy.Forward,
		WS:                  cfg.Server.WS,
		XFwd:                cfg.Proxy.XFwd,
		Secure:              cfg.Proxy.Secure,
		PrependPath:         cfg.Proxy.PrependPath,
		IgnorePath:          cfg.Proxy.IgnorePath,
		ChangeOrigin:        cfg.Proxy.ChangeOrigin,
		Auth:                cfg.Proxy.Auth,
		Timeout:             time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		ProxyTimeout:        time.Duration(cfg.Proxy.ProxyTimeoutSeconds) * time.Second,
		DialTimeout:         time.Duration(cfg.Proxy.DialTimeoutSeconds) * time.Second,
		SocketPath:          cfg.Proxy.SocketPath,
		HostRewrite:         cfg.Proxy.HostRewrite,
		AutoRewrite:         cfg.Proxy.AutoRewrite,
		ProtocolRewrite:     cfg.Proxy.ProtocolRewrite,
		CookieDomainRewrite: proxy.RewriteRules(cfg.Proxy.CookieDomainRewrite),
		CookiePathRewrite:   proxy.RewriteRules(cfg.Proxy.CookiePathRewrite),
		HandleErrors:        true,
		Logger:              logger,
	}

	if len(cfg.Proxy.Headers) > 0 {
		opts.Headers = make(http.Header, len(cfg.Proxy.Headers))
		for k, v := range cfg.Proxy.Headers {
			opts.Headers.Set(k, v)
		}
	}

	if cfg.Server.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load listener certificate: %w", err)
		}
		opts.SSL = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	if cfg.Proxy.Pooling {
		opts.HTTPAgent = proxy.NewPoolingTransport(cfg.Proxy.IdleConnections, nil)
		opts.HTTPSAgent = proxy.NewPoolingTransport(cfg.Proxy.IdleConnections, nil)
	}

	s, err := proxy.New(opts)
	if err != nil {
		return nil, err
	}

	m.Observe(s)

	if cfg.Server.RateLimit.Enabled {
		limiter := rate.NewLimiter(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond), cfg.Server.RateLimit.Burst)
		pass := rateLimitPass(limiter)
		if err := s.Before(proxy.KindWeb, "stream", pass); err != nil {
			return nil, fmt.Errorf("install web rate limiter: %w", err)
		}
		if err := s.Before(proxy.KindWS, "stream", pass); err != nil {
			return nil, fmt.Errorf("install ws rate limiter: %w", err)
		}
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return s, nil
}

// rateLimitPass rejects dispatches over the configured rate: 429 for plain
// requests, a dropped socket for upgrades.
func rateLimitPass(limiter *rate.Limiter) proxy.Pass {
	return proxy.Pass{
		Name: "rateLimit",
		Run: func(ctx *proxy.Context) bool {
			if limiter.Allow() {
				return false
			}
			if ctx.Res != nil {
				http.Error(ctx.Res, "429 Too Many Requests", http.StatusTooManyRequests)
			} else if ctx.Conn != nil {
				ctx.Conn.Close()
			}
			return true
		},
	}
}

func newAdminEcho(logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger))

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startProxy(lc fx.Lifecycle, s *proxy.Server, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := s.Listen(cfg.Server.Addr()); err != nil {
				return err
			}
			logger.Info("proxy started",
				"addr", cfg.Server.Addr(),
				"target", cfg.Proxy.Target,
				"ws", cfg.Server.WS,
			)
			return nil
		},
		OnStop: func(_ context.Context) error {
			var closeErr error
			s.Close(func(err error) { closeErr = err })
			return closeErr
		},
	})
}

func startAdmin(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Admin.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("admin endpoint started", "addr", addr)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
