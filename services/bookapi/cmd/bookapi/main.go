package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bookshelf/internal/ratelimit"
	"bookshelf/internal/util"
	"bookshelf/services/bookapi/internal/app"
	"bookshelf/services/bookapi/internal/config"
	"bookshelf/services/bookapi/internal/security"
	"bookshelf/services/bookapi/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		log.Fatalf("failed to parse jwt verify public keys: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		RedisAddr:           cfg.RedisAddr,
		RedisPassword:       cfg.RedisPassword,
		SessionTTL:          sessionTTL,
		JWTPrivateKeyPath:   cfg.JWTPrivateKeyPath,
		JWTPublicKeyPath:    cfg.JWTPublicKeyPath,
		JWTKeyID:            cfg.JWTKeyID,
		JWTVerifyPublicKeys: verifyKeys,
		JWTIssuer:           cfg.JWTIssuer,
		JWTAudience:         cfg.JWTAudience,
		JWTLeeway:           jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	loginLimiter, closeLimiter, err := newLoginLimiter(cfg)
	if err != nil {
		log.Fatalf("failed to init login rate limiter: %v", err)
	}
	defer closeLimiter()

	serverCfg := server.Config{
		App:            appCore,
		LoginLimiter:   loginLimiter,
		TrustedProxies: trusted,
	}
	if cfg.RedisAddr != "" {
		alerts, err := security.NewAuditAlerter(cfg.RedisAddr, cfg.RedisPassword, "bookshelf:alerts")
		if err != nil {
			log.Fatalf("failed to init security alerter: %v", err)
		}
		defer alerts.Close()
		serverCfg.Alerts = alerts
	}
	httpServer := server.New(serverCfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("bookapi server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		slog.Info("bookapi server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}

// newLoginLimiter picks the Redis limiter when Redis is configured. A zero
// limit disables login throttling.
func newLoginLimiter(cfg config.FileConfig) (ratelimit.Limiter, func(), error) {
	noop := func() {}
	if cfg.LoginRateLimitPerMinute == 0 {
		return nil, noop, nil
	}
	if cfg.RedisAddr == "" {
		limiter, err := ratelimit.NewMemoryFixedWindowLimiter(cfg.LoginRateLimitPerMinute, time.Minute)
		if err != nil {
			return nil, noop, err
		}
		return limiter, noop, nil
	}
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "bookshelf:ratelimit", cfg.LoginRateLimitPerMinute, time.Minute)
	if err != nil {
		return nil, noop, err
	}
	return limiter, func() { _ = limiter.Close() }, nil
}
