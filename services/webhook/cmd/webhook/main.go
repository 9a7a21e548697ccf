package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"auctionhook/internal/ratelimit"
	"auctionhook/internal/util"
	"auctionhook/pkg/store"
	"auctionhook/services/webhook/internal/app"
	"auctionhook/services/webhook/internal/config"
	"auctionhook/services/webhook/internal/forwarder"
	"auctionhook/services/webhook/internal/server"
)

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger("webhook", cfg.LogLevel)

	var dataStore store.Store
	if cfg.DatabaseDriver == config.DriverMemory {
		logger.Warn("using in-memory store; records are lost on restart")
		dataStore = store.NewMemoryStore()
	}

	urlClient, err := forwarder.NewClient(cfg.URLForwarder, nil)
	if err != nil {
		log.Fatalf("failed to init url forwarder: %v", err)
	}
	photoClient, err := forwarder.NewClient(cfg.PhotographyForwarder, nil)
	if err != nil {
		log.Fatalf("failed to init photography forwarder: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseDriver:     cfg.DatabaseDriver,
		DatabaseURL:        cfg.DatabaseURL,
		Store:              dataStore,
		MinioEndpoint:      cfg.MinioEndpoint,
		MinioAccessKey:     cfg.MinioAccessKey,
		MinioSecretKey:     cfg.MinioSecretKey,
		MinioBucket:        cfg.MinioBucket,
		MinioUseSSL:        cfg.MinioUseSSL,
		ImageURLExpiry:     time.Duration(cfg.ImageURLExpiryMinutes) * time.Minute,
		MarketplaceMarkers: cfg.MarketplaceMarkers,
		URLForwarder:       urlClient,
		Photographer:       forwarder.NewPhotographer(photoClient, cfg.PhotographyForwarder.CallSpacing(), nil),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	ingestLimiter, forwardLimiter, closeRedis, err := newLimiters(cfg)
	if err != nil {
		log.Fatalf("failed to init rate limiters: %v", err)
	}
	defer closeRedis()

	httpServer, err := server.New(server.Config{
		App:                appCore,
		IngestLimiter:      ingestLimiter,
		ForwardLimiter:     forwardLimiter,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes:     cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("webhook server listening", "addr", addr, "database_driver", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logger.Info("shutting down webhook server")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

// newLimiters builds the Redis-backed limiters for the routes that have a limit set.
func newLimiters(cfg config.FileConfig) (ingest, forward *ratelimit.FixedWindowLimiter, closeFn func(), err error) {
	closeFn = func() {}
	if cfg.IngestRateLimitPerMinute <= 0 && cfg.ForwardRateLimitPerMinute <= 0 {
		return nil, nil, closeFn, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	closeFn = func() { _ = client.Close() }
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		closeFn()
		return nil, nil, func() {}, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
	}
	if cfg.IngestRateLimitPerMinute > 0 {
		ingest, err = ratelimit.NewRedisFixedWindowLimiter(client, "auctionhook:webhook:ratelimit:ingest", cfg.IngestRateLimitPerMinute, time.Minute)
		if err != nil {
			closeFn()
			return nil, nil, func() {}, err
		}
	}
	if cfg.ForwardRateLimitPerMinute > 0 {
		forward, err = ratelimit.NewRedisFixedWindowLimiter(client, "auctionhook:webhook:ratelimit:forward", cfg.ForwardRateLimitPerMinute, time.Minute)
		if err != nil {
			closeFn()
			return nil, nil, func() {}, err
		}
	}
	return ingest, forward, closeFn, nil
}
