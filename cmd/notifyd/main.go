// Command notifyd serves human-needed alerts over Server-Sent Events.
//
// Settings come from the environment; see config.Server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/humanneeded-go/alerts"
	"github.com/ggoodman/humanneeded-go/alerts/memoryhost"
	"github.com/ggoodman/humanneeded-go/alerts/redishost"
	"github.com/ggoodman/humanneeded-go/auth"
	"github.com/ggoodman/humanneeded-go/config"
	"github.com/ggoodman/humanneeded-go/feeds/filefeed"
	"github.com/ggoodman/humanneeded-go/hub"
	"golang.org/x/time/rate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "notifyd:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	host, closeHost, err := newHost(cfg)
	if err != nil {
		return err
	}
	defer closeHost()

	svc := alerts.NewService(host, alerts.WithLogger(log))

	var authenticator auth.Authenticator
	if cfg.AuthEnabled() {
		authenticator, err = newAuthenticator(ctx, cfg)
		if err != nil {
			return err
		}
	} else {
		log.WarnContext(ctx, "auth.disabled")
	}

	opts := []hub.Option{
		hub.WithLogger(log),
		hub.WithRealm(cfg.Realm),
		hub.WithHeartbeat(cfg.Heartbeat),
	}
	if cfg.ConnectionRate > 0 {
		opts = append(opts, hub.WithConnectionRate(rate.Limit(cfg.ConnectionRate), cfg.ConnectionBurst))
	}

	if cfg.FeedFile != "" {
		feed := filefeed.New(cfg.FeedFile, svc, filefeed.WithLogger(log))
		go func() {
			if err := feed.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.ErrorContext(ctx, "feed.watch.fail", slog.String("err", err.Error()))
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           hub.New(svc, authenticator, opts...),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "http.listen", slog.String("addr", cfg.Addr), slog.String("host", cfg.Host))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	// Open streams end with the base context; Shutdown waits for them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.InfoContext(shutdownCtx, "http.shutdown")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newHost(cfg config.Server) (alerts.Host, func(), error) {
	switch cfg.Host {
	case config.HostRedis:
		h, err := redishost.New(redishost.Config{RedisAddr: cfg.RedisAddr, KeyPrefix: cfg.KeyPrefix})
		if err != nil {
			return nil, nil, err
		}
		return h, func() { _ = h.Close() }, nil
	default:
		return memoryhost.New(), func() {}, nil
	}
}

func newAuthenticator(ctx context.Context, cfg config.Server) (auth.Authenticator, error) {
	opts := []auth.AccessTokenAuthOption{auth.WithLeeway(2 * time.Minute)}
	if scopes := cfg.Scopes(); len(scopes) > 0 {
		opts = append(opts, auth.WithRequiredScopes(scopes...))
	}

	var (
		a   auth.Authenticator
		err error
	)
	if cfg.JWKSURL != "" {
		a, err = auth.NewStatic(ctx, cfg.Issuer, cfg.Audience, cfg.JWKSURL, opts...)
	} else {
		a, err = auth.NewFromDiscovery(ctx, cfg.Issuer, cfg.Audience, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("authenticator: %w", err)
	}
	return auth.NewCaching(a, cfg.TokenCacheSize), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
