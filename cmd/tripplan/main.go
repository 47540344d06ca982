package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tripplan/internal/cache"
	"tripplan/internal/config"
	"tripplan/internal/handler"
	"tripplan/internal/hub"
	"tripplan/internal/middleware"
	"tripplan/internal/session"
	"tripplan/internal/store"
	"tripplan/pkg/cobwebapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting tripplan server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"route_server", cfg.RouteServerURL,
		"redis_enabled", cfg.RedisEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := cobwebapi.New(cobwebapi.Config{
		RouteURL:   cfg.RouteServerURL,
		NameURL:    cfg.NameSearchServerURL,
		NearestURL: cfg.NearestSearchServerURL,
		Timeout:    cfg.ServerTimeout,
	}, logger)

	var readiness []handler.Pinger
	if cfg.RedisEnabled {
		redisCache, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err != nil {
			logger.Error("redis unavailable, continuing without response cache", "error", err)
		} else {
			defer redisCache.Close()
			backend.WithCache(redisCache, cfg.CacheTTL)
			readiness = append(readiness, redisCache)
		}
	}

	wsHub := hub.NewHub(logger)
	sessions := store.New(cfg.SessionIdleAfter, func(id string) *session.Session {
		return session.New(id, backend, wsHub, session.Options{
			MatchLimit: cfg.MatchLimit,
			FrameZoom:  cfg.RouteFrameZoom,
			Location:   cfg.TimeZone,
		}, logger)
	}, logger)

	sessionHandler := handler.NewSessionHandler(sessions, handler.MapView{
		Lat:     cfg.MapDefaultLat,
		Lon:     cfg.MapDefaultLon,
		Zoom:    cfg.MapDefaultZoom,
		MaxZoom: cfg.MapMaxZoom,
	})
	wsHandler := handler.NewWSHandler(wsHub, sessions, logger)
	healthHandler := handler.NewHealthHandler(sessions, wsHub, readiness...)

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	api := func(h http.HandlerFunc) http.Handler {
		return handler.CORSMiddleware(limiter.Middleware(handler.GzipMiddleware(h)))
	}

	mux := http.NewServeMux()

	mux.Handle("POST /v1/sessions", api(sessionHandler.CreateSession))
	mux.Handle("GET /v1/sessions/{id}", api(sessionHandler.GetSession))
	mux.Handle("DELETE /v1/sessions/{id}", api(sessionHandler.DeleteSession))
	mux.Handle("OPTIONS /v1/", handler.CORSMiddleware(http.NotFoundHandler()))
	mux.HandleFunc("GET /v1/ws", wsHandler.ServeWS)

	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)

	go sessions.RunPruner(ctx, cfg.SessionIdleAfter/2)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	sessions.CloseAll()
	cancel()

	logger.Info("shutdown complete")
}
